package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
)

type CheckInHandler struct {
	Svc *checkin.Service
	Log *zap.Logger
}

// List returns the check-ins of ?date=YYYY-MM-DD, or of today.
func (h *CheckInHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		today, err := h.Svc.Today(r.Context(), uid)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, toCheckInDTOs(today.CheckIns))
		return
	}

	rows, err := h.Svc.ListDay(r.Context(), uid, date)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInDTOs(rows))
}

type createAdhocReq struct {
	Reason string `json:"reason"`
}

func (h *CheckInHandler) CreateAdhoc(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createAdhocReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.Svc.CreateAdhoc(r.Context(), uid, req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckInDTO(c))
}

func (h *CheckInHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	c, err := h.Svc.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInDTO(c))
}

type startReq struct {
	ConversationID string `json:"conversation_id"`
}

func (h *CheckInHandler) Start(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req startReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	c, err := h.Svc.StartCheckIn(r.Context(), uid, chi.URLParam(r, "id"), req.ConversationID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInDTO(c))
}

type completeReq struct {
	Insights checkin.Insights `json:"insights"`
	Summary  string           `json:"summary"`
}

func (h *CheckInHandler) Complete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req completeReq
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Svc.CompleteCheckIn(r.Context(), uid, chi.URLParam(r, "id"), req.Insights, req.Summary)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInDTO(c))
}

func (h *CheckInHandler) Skip(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	c, err := h.Svc.SkipCheckIn(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInDTO(c))
}

func (h *CheckInHandler) Provenance(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	chain, err := h.Svc.Provenance(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInDTOs(chain))
}

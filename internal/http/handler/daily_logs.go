package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
)

type DailyLogHandler struct {
	Svc *checkin.Service
	Log *zap.Logger
}

func (h *DailyLogHandler) Today(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	l, err := h.Svc.Today(r.Context(), uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyLogDTO(l))
}

func (h *DailyLogHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	l, err := h.Svc.GetDailyLog(r.Context(), uid, chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyLogDTO(l))
}

// Aggregate runs the day's aggregation on demand.
func (h *DailyLogHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	l, err := h.Svc.AggregateDay(r.Context(), uid, chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toDailyLogDTO(l))
}

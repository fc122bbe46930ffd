package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
)

// ToolHandler exposes the agent's tool calls. The conversation in the path
// is the calling session; check-in ids in bodies are optional.
type ToolHandler struct {
	Svc *checkin.Service
	Log *zap.Logger
}

func toolCall(r *http.Request, checkInID string) checkin.ToolCall {
	uid, _ := auth.UserIDFromContext(r.Context())
	return checkin.ToolCall{
		UserID:         uid,
		ConversationID: chi.URLParam(r, "id"),
		CheckInID:      strings.TrimSpace(checkInID),
	}
}

type followupReq struct {
	CheckInID string `json:"checkin_id"`
	Time      string `json:"time"` // RFC3339 or HH:MM in the user's timezone
	Reason    string `json:"reason"`
	Context   string `json:"context"`
}

func (h *ToolHandler) CreateFollowup(w http.ResponseWriter, r *http.Request) {
	var req followupReq
	if !decode(w, r, &req) {
		return
	}
	call := toolCall(r, req.CheckInID)

	date, loc, err := h.Svc.FollowupLocation(r.Context(), call)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	at, err := checkin.ParseFollowupTime(req.Time, date, loc)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	id, err := h.Svc.CreateFollowup(r.Context(), call, checkin.FollowupInput{
		At:      at,
		Reason:  req.Reason,
		Context: req.Context,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"checkin_id": id})
}

type recordActionReq struct {
	CheckInID  string         `json:"checkin_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

func (h *ToolHandler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req recordActionReq
	if !decode(w, r, &req) {
		return
	}
	if err := h.Svc.RecordAction(r.Context(), toolCall(r, req.CheckInID), req.Name, req.Parameters); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toolCompleteReq struct {
	CheckInID string           `json:"checkin_id"`
	Insights  checkin.Insights `json:"insights"`
	Summary   string           `json:"summary"`
}

func (h *ToolHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req toolCompleteReq
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Svc.Complete(r.Context(), toolCall(r, req.CheckInID), req.Insights, req.Summary)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckInDTO(c))
}

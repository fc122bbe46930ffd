package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wellcheck/internal/auth"
	"wellcheck/internal/conversation"
)

type ConversationHandler struct {
	Store *conversation.Store
	Log   *zap.Logger
}

type messageDTO struct {
	ID        uint64    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type createConversationReq struct {
	Title string `json:"title"`
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createConversationReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	id, err := h.Store.CreateConversation(r.Context(), uid, req.Title, conversation.KindGeneral)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// Messages returns the user-visible transcript.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	rows, err := h.Store.Messages(r.Context(), uid, chi.URLParam(r, "id"), false)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]messageDTO, 0, len(rows))
	for _, m := range rows {
		out = append(out, messageDTO{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type appendMessageReq struct {
	Content string `json:"content"`
}

// AppendMessage stores a user turn.
func (h *ConversationHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req appendMessageReq
	if !decode(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}
	if err := h.Store.AppendMessage(r.Context(), uid, chi.URLParam(r, "id"), conversation.RoleUser, req.Content); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, conversation.ErrInvalidRole):
		http.Error(w, "invalid role", http.StatusBadRequest)
	default:
		writeError(w, h.Log, err)
	}
}

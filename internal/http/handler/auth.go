package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
	"wellcheck/internal/config"
)

type AuthHandler struct {
	Auth     *auth.Service
	JWT      *auth.JWT
	Defaults config.ScheduleDefaults
	Log      *zap.Logger
}

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates the user together with their check-in schedule.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decode(w, r, &req) {
		return
	}

	u, err := h.Auth.Register(r.Context(), req.Email, req.Password, func(tx *gorm.DB, u *auth.User) error {
		return checkin.EnsureSchedule(tx, u.ID, h.Defaults)
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	token, err := h.JWT.Sign(u.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decode(w, r, &req) {
		return
	}

	u, err := h.Auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}

	token, err := h.JWT.Sign(u.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (h *AuthHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
	case errors.Is(err, auth.ErrEmailTaken):
		http.Error(w, "email already used", http.StatusConflict)
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	default:
		writeError(w, h.Log, err)
	}
}

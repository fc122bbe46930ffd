package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"wellcheck/internal/checkin"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps engine errors to status codes. Unknown errors are logged
// and reported as 500.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, checkin.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, checkin.ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, checkin.ErrNotBound):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, checkin.ErrAlreadyStarted),
		errors.Is(err, checkin.ErrAlreadyTerminal),
		errors.Is(err, checkin.ErrNotInProgress),
		errors.Is(err, checkin.ErrCheckInNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		if log != nil {
			log.Error("request failed", zap.Error(err))
		}
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

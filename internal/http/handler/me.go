package handler

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
)

type MeHandler struct {
	DB  *gorm.DB
	Svc *checkin.Service
	Log *zap.Logger
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var u auth.User
	if err := h.DB.WithContext(r.Context()).First(&u, uid).Error; err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	sc, err := h.Svc.GetSchedule(r.Context(), uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  u.ID,
		"email":    u.Email,
		"timezone": sc.Timezone,
	})
}

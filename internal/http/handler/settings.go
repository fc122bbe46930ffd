package handler

import (
	"net/http"

	"go.uber.org/zap"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
)

type ScheduleHandler struct {
	Svc *checkin.Service
	Log *zap.Logger
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	sc, err := h.Svc.GetSchedule(r.Context(), uid)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(sc))
}

func (h *ScheduleHandler) Put(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req scheduleDTO
	if !decode(w, r, &req) {
		return
	}
	sc, err := h.Svc.PutSchedule(r.Context(), req.toSchedule(uid))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(sc))
}

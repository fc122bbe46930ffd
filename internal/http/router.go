package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
	"wellcheck/internal/config"
	"wellcheck/internal/conversation"
	"wellcheck/internal/http/handler"
	mw "wellcheck/internal/http/middleware"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT, svc *checkin.Service, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLog(log))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{Auth: &auth.Service{DB: db}, JWT: jwtSvc, Defaults: cfg.Defaults, Log: log}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{DB: db, Svc: svc, Log: log}
	r.With(auth.RequireAuth(jwtSvc)).Get("/me", me.Me)

	ch := &handler.CheckInHandler{Svc: svc, Log: log}
	r.Route("/checkins", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Get("/", ch.List)
		r.Post("/", ch.CreateAdhoc)

		r.Get("/{id}", ch.Get)
		r.Post("/{id}/start", ch.Start)
		r.Post("/{id}/complete", ch.Complete)
		r.Post("/{id}/skip", ch.Skip)
		r.Get("/{id}/provenance", ch.Provenance)
	})

	dl := &handler.DailyLogHandler{Svc: svc, Log: log}
	r.Route("/daily-logs", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Get("/today", dl.Today)
		r.Get("/{date}", dl.Get)
		r.Post("/{date}/aggregate", dl.Aggregate)
	})

	conv := &handler.ConversationHandler{Store: &conversation.Store{DB: db}, Log: log}
	tools := &handler.ToolHandler{Svc: svc, Log: log}
	r.Route("/conversations", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Post("/", conv.Create)
		r.Get("/{id}/messages", conv.Messages)
		r.Post("/{id}/messages", conv.AppendMessage)

		r.Post("/{id}/tools/create_followup", tools.CreateFollowup)
		r.Post("/{id}/tools/record_action", tools.RecordAction)
		r.Post("/{id}/tools/complete", tools.Complete)
	})

	sh := &handler.ScheduleHandler{Svc: svc, Log: log}
	r.Route("/settings/schedule", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Get("/", sh.Get)
		r.Put("/", sh.Put)
	})

	return r
}

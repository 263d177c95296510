package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kiliantyler/kil.dev-sub000/metrics"
	"github.com/kiliantyler/kil.dev-sub000/middleware"
)

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(h.logger))

	// Public routes
	r.HandleFunc("/api/game/start", h.StartGame).Methods(http.MethodPost)
	r.HandleFunc("/api/game/move", h.RecordMove).Methods(http.MethodPost)
	r.HandleFunc("/api/game/food", h.RecordFood).Methods(http.MethodPost)
	r.HandleFunc("/api/game/end", h.EndGame).Methods(http.MethodPost)

	r.HandleFunc("/api/scores/check", h.CheckScore).Methods(http.MethodGet)
	r.HandleFunc("/api/scores", h.GetScores).Methods(http.MethodGet)
	submit := http.Handler(http.HandlerFunc(h.SubmitScore))
	if h.cfg.Limiter != nil {
		submit = middleware.RateLimit(h.cfg.Limiter, h.cfg.Metrics, h.cfg.TrustedProxies)(submit)
	}
	r.Handle("/api/scores", submit).Methods(http.MethodPost)

	r.HandleFunc("/api/admin/login", h.AdminLogin).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if h.cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(h.cfg.Gatherer)).Methods(http.MethodGet)
	}
	if h.cfg.Hub != nil {
		r.HandleFunc("/ws/leaderboard", h.LeaderboardSocket)
	}

	// Secured routes
	secured := r.PathPrefix("/api").Subrouter()
	secured.Use(middleware.JWTValidationMiddleware(h.cfg.JWTSecret))
	secured.HandleFunc("/scores/clear", h.ClearScores).Methods(http.MethodPost)
	secured.HandleFunc("/admin/sessions/{sessionID}/telemetry", h.SessionTelemetry).Methods(http.MethodGet)
	secured.HandleFunc("/admin/submissions", h.RecentSubmissions).Methods(http.MethodGet)
	return r
}

package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/metrics"
	"github.com/kiliantyler/kil.dev-sub000/models"
	"github.com/kiliantyler/kil.dev-sub000/pkg/responses"
	"github.com/kiliantyler/kil.dev-sub000/ratelimit"
	"github.com/kiliantyler/kil.dev-sub000/utils"
)

const maxBodyBytes = 256 << 10

type Leaderboard interface {
	AddScore(ctx context.Context, entry models.LeaderboardEntry) (int, error)
	GetLeaderboard(ctx context.Context) ([]models.LeaderboardEntry, error)
	QualificationThreshold(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

type ScoreArchive interface {
	Save(ctx context.Context, entry models.LeaderboardEntry, sessionID string, position int) error
	Recent(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
}

type TelemetryReader interface {
	Events(ctx context.Context, sessionID string) ([]game.TelemetryEvent, error)
}

// Config wires the route layer to its collaborators. Archive, Telemetry,
// Hub, Gatherer and Health are optional.
type Config struct {
	Game        *game.Service
	Leaderboard Leaderboard
	Limiter     ratelimit.Limiter
	Archive     ScoreArchive
	Telemetry   TelemetryReader
	Hub         *Hub
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Health      func(ctx context.Context) error

	// TrustedProxies may set the client address via X-Forwarded-For.
	TrustedProxies []netip.Prefix

	JWTSecret         []byte
	AdminPasswordHash []byte
	AdminTokenTTL     time.Duration

	// Debug exposes internal error text in 500 responses.
	Debug  bool
	Logger *slog.Logger
	Now    func() time.Time
}

type Handler struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.AdminTokenTTL == 0 {
		cfg.AdminTokenTTL = time.Hour
	}
	return &Handler{cfg: cfg, logger: logger.With("component", "http"), now: now}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	apiErr := responses.FromError(err, h.cfg.Debug)
	if apiErr.StatusCode() >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	utils.HandleError(w, apiErr)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.HandleError(w, responses.BadRequestError{Msg: "Invalid request body."})
		return false
	}
	return true
}

func badRequest(w http.ResponseWriter, msg string) {
	utils.HandleError(w, responses.BadRequestError{Msg: msg})
}

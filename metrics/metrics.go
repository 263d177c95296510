// Package metrics holds the Prometheus collectors for the game service.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiliantyler/kil.dev-sub000/game"
)

const namespace = "snake"

type Metrics struct {
	sessionsStarted prometheus.Counter
	gameEnds        *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	rateLimited     prometheus.Counter
	storeFallbacks  *prometheus.CounterVec
	leaderboardSize prometheus.Gauge
	wsClients       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Game sessions issued.",
		}),
		gameEnds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "game_end_validations_total",
			Help:      "End-of-game reports by outcome.",
		}, []string{"result"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_submissions_total",
			Help:      "Leaderboard submissions by outcome.",
		}, []string{"result"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter.",
		}),
		storeFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fallbacks_total",
			Help:      "Operations served from in-memory fallbacks after the backing store failed.",
		}, []string{"store"}),
		leaderboardSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaderboard_entries",
			Help:      "Entries currently on the leaderboard.",
		}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaderboard_subscribers",
			Help:      "Connected leaderboard websocket clients.",
		}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) GameEnded(err error) {
	if m == nil {
		return
	}
	m.gameEnds.WithLabelValues(game.Code(err)).Inc()
}

func (m *Metrics) ScoreSubmitted(err error) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(game.Code(err)).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) StoreFallback(store string) {
	if m == nil {
		return
	}
	m.storeFallbacks.WithLabelValues(store).Inc()
}

func (m *Metrics) SetLeaderboardSize(n int) {
	if m == nil {
		return
	}
	m.leaderboardSize.Set(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// Handler exposes the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

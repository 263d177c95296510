// Package ratelimit implements the sliding-window limiter guarding score
// submissions, backed by Redis with an in-process fallback.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiliantyler/kil.dev-sub000/metrics"
)

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the oldest counted request leaves the window.
	Reset time.Time
}

type Limiter interface {
	Check(ctx context.Context, key string) (Result, error)
}

// Fallback consults primary and switches to secondary for any call where
// primary errors.
type Fallback struct {
	primary   Limiter
	secondary Limiter
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewFallback(primary, secondary Limiter, m *metrics.Metrics) *Fallback {
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		logger:    slog.Default().With("component", "ratelimit"),
		metrics:   m,
	}
}

func (f *Fallback) Check(ctx context.Context, key string) (Result, error) {
	res, err := f.primary.Check(ctx, key)
	if err == nil {
		return res, nil
	}
	f.logger.Warn("distributed rate limiter failed, using in-memory limiter", "error", err)
	f.metrics.StoreFallback("ratelimit")
	return f.secondary.Check(ctx, key)
}

package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/metrics"
)

const nonceKeyPrefix = "game:nonce:"

// NonceStore records used submission nonces with SET NX.
type NonceStore struct {
	client   redis.Cmdable
	fallback *expirable.LRU[string, struct{}]
	retry    RetryPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewNonceStore falls back to an in-process set when fallback is non-nil
// and Redis is unreachable.
func NewNonceStore(client redis.Cmdable, fallback *expirable.LRU[string, struct{}], retry RetryPolicy, m *metrics.Metrics) *NonceStore {
	if retry.Attempts == 0 {
		retry = DefaultRetryPolicy()
	}
	return &NonceStore{
		client:   client,
		fallback: fallback,
		retry:    retry,
		logger:   slog.Default().With("component", "nonce-store"),
		metrics:  m,
	}
}

func NewNonceFallback(size int, ttl time.Duration) *expirable.LRU[string, struct{}] {
	return expirable.NewLRU[string, struct{}](size, nil, ttl)
}

func (n *NonceStore) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	var claimed bool
	err := n.retry.Do(ctx, func() error {
		var err error
		claimed, err = n.client.SetNX(ctx, nonceKeyPrefix+nonce, 1, ttl).Result()
		return err
	})
	if err == nil {
		return claimed, nil
	}
	if n.fallback == nil {
		return false, fmt.Errorf("%w: nonces: %v", game.ErrStoreUnavailable, err)
	}

	n.logger.Warn("redis unavailable, using in-memory nonces", "error", err)
	n.metrics.StoreFallback("nonces")
	if n.fallback.Contains(nonce) {
		return false, nil
	}
	n.fallback.Add(nonce, struct{}{})
	return true, nil
}

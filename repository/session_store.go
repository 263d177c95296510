package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/metrics"
	"github.com/kiliantyler/kil.dev-sub000/models"
)

const (
	SessionTTL        = time.Hour
	sessionKeyPrefix  = "game:session:"
	defaultMirrorSize = 10000
)

// SessionMirror is the in-process copy of recent sessions consulted when
// Redis cannot be reached.
type SessionMirror = expirable.LRU[string, *models.GameSession]

func NewSessionMirror(size int, ttl time.Duration) *SessionMirror {
	if size <= 0 {
		size = defaultMirrorSize
	}
	return expirable.NewLRU[string, *models.GameSession](size, nil, ttl)
}

type SessionStoreOptions struct {
	Retry RetryPolicy
	// AllowFallback serves from the mirror after Redis errors instead of
	// failing. Never set in production.
	AllowFallback bool
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// SessionStore keeps sessions in Redis with a TTL and writes every change
// through to an injected mirror.
type SessionStore struct {
	client        redis.Cmdable
	mirror        *SessionMirror
	retry         RetryPolicy
	allowFallback bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

func NewSessionStore(client redis.Cmdable, mirror *SessionMirror, opts SessionStoreOptions) *SessionStore {
	if mirror == nil {
		mirror = NewSessionMirror(defaultMirrorSize, SessionTTL)
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		client:        client,
		mirror:        mirror,
		retry:         opts.Retry,
		allowFallback: opts.AllowFallback,
		logger:        logger.With("component", "session-store"),
		metrics:       opts.Metrics,
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *SessionStore) Create(ctx context.Context, session *models.GameSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var created bool
	err = s.retry.Do(ctx, func() error {
		var err error
		created, err = s.client.SetNX(ctx, sessionKey(session.ID), data, SessionTTL).Result()
		return err
	})
	if err != nil {
		if ferr := s.fallback("create", err); ferr != nil {
			return ferr
		}
		if s.mirror.Contains(session.ID) {
			return game.ErrSessionExists
		}
		s.mirror.Add(session.ID, session.Clone())
		return nil
	}
	if !created {
		return game.ErrSessionExists
	}
	s.mirror.Add(session.ID, session.Clone())
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*models.GameSession, error) {
	var data []byte
	err := s.retry.Do(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, sessionKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(game.ErrSessionNotFound)
		}
		return err
	})
	if errors.Is(err, game.ErrSessionNotFound) {
		return nil, err
	}
	if err != nil {
		if ferr := s.fallback("get", err); ferr != nil {
			return nil, ferr
		}
		cached, ok := s.mirror.Get(id)
		if !ok {
			return nil, game.ErrSessionNotFound
		}
		return cached.Clone(), nil
	}

	var session models.GameSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

// Update rewrites the whole record and restarts its TTL.
func (s *SessionStore) Update(ctx context.Context, session *models.GameSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.retry.Do(ctx, func() error {
		return s.client.Set(ctx, sessionKey(session.ID), data, SessionTTL).Err()
	})
	if err != nil {
		if ferr := s.fallback("update", err); ferr != nil {
			return ferr
		}
	}
	s.mirror.Add(session.ID, session.Clone())
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mirror.Remove(id)
	err := s.retry.Do(ctx, func() error {
		return s.client.Del(ctx, sessionKey(id)).Err()
	})
	if err != nil {
		return s.fallback("delete", err)
	}
	return nil
}

// Consume removes the session and returns it. Of several concurrent callers
// exactly one gets the session; the others get ErrSessionNotFound.
func (s *SessionStore) Consume(ctx context.Context, id string) (*models.GameSession, error) {
	var data []byte
	err := s.retry.Do(ctx, func() error {
		var err error
		data, err = s.client.GetDel(ctx, sessionKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(game.ErrSessionNotFound)
		}
		return err
	})
	if errors.Is(err, game.ErrSessionNotFound) {
		s.mirror.Remove(id)
		return nil, err
	}
	if err != nil {
		if ferr := s.fallback("consume", err); ferr != nil {
			return nil, ferr
		}
		cached, ok := s.mirror.Peek(id)
		if !ok || !s.mirror.Remove(id) {
			return nil, game.ErrSessionNotFound
		}
		return cached.Clone(), nil
	}
	s.mirror.Remove(id)

	var session models.GameSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

// fallback returns nil when the caller may continue against the mirror.
func (s *SessionStore) fallback(op string, cause error) error {
	if !s.allowFallback {
		s.logger.Error("session store unavailable", "op", op, "error", cause)
		return fmt.Errorf("%w: sessions: %v", game.ErrStoreUnavailable, cause)
	}
	s.logger.Warn("redis unavailable, using in-memory sessions", "op", op, "error", cause)
	s.metrics.StoreFallback("sessions")
	return nil
}

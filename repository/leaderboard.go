package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kiliantyler/kil.dev-sub000/game"
	"github.com/kiliantyler/kil.dev-sub000/models"
)

const (
	MaxLeaderboardSize = 10
	// DefaultThresholdFloor is the lowest qualification threshold ever reported.
	DefaultThresholdFloor = 100
	leaderboardKey        = "game:leaderboard"
)

// LeaderboardStore is a Redis sorted set of JSON entries scored by points,
// trimmed to the top maxSize after every insert.
type LeaderboardStore struct {
	client  redis.Cmdable
	key     string
	maxSize int
	floor   int
	retry   RetryPolicy
	logger  *slog.Logger
}

func NewLeaderboardStore(client redis.Cmdable, retry RetryPolicy, logger *slog.Logger) *LeaderboardStore {
	if retry.Attempts == 0 {
		retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardStore{
		client:  client,
		key:     leaderboardKey,
		maxSize: MaxLeaderboardSize,
		floor:   DefaultThresholdFloor,
		retry:   retry,
		logger:  logger.With("component", "leaderboard"),
	}
}

func (l *LeaderboardStore) MaxSize() int {
	return l.maxSize
}

// AddScore inserts entry, trims the set and returns the entry's 1-based rank,
// or 0 if it did not make the cut.
func (l *LeaderboardStore) AddScore(ctx context.Context, entry models.LeaderboardEntry) (int, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal entry: %w", err)
	}
	member := string(data)

	err = l.retry.Do(ctx, func() error {
		return l.client.ZAdd(ctx, l.key, redis.Z{Score: float64(entry.Score), Member: member}).Err()
	})
	if err != nil {
		return 0, l.unavailable("add", err)
	}

	// Not atomic with the add; a concurrent writer may briefly push the set
	// past maxSize until the next trim.
	err = l.retry.Do(ctx, func() error {
		return l.client.ZRemRangeByRank(ctx, l.key, 0, int64(-(l.maxSize + 1))).Err()
	})
	if err != nil {
		return 0, l.unavailable("trim", err)
	}

	var rank int64
	err = l.retry.Do(ctx, func() error {
		var err error
		rank, err = l.client.ZRevRank(ctx, l.key, member).Result()
		if errors.Is(err, redis.Nil) {
			rank = -1
			return nil
		}
		return err
	})
	if err != nil {
		return 0, l.unavailable("rank", err)
	}
	return int(rank + 1), nil
}

// GetLeaderboard returns the top entries, highest score first. Entries that
// fail to decode are skipped.
func (l *LeaderboardStore) GetLeaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	var members []string
	err := l.retry.Do(ctx, func() error {
		var err error
		members, err = l.client.ZRevRange(ctx, l.key, 0, int64(l.maxSize-1)).Result()
		return err
	})
	if err != nil {
		return nil, l.unavailable("read", err)
	}

	entries := make([]models.LeaderboardEntry, 0, len(members))
	for _, m := range members {
		var e models.LeaderboardEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil || e.ID == "" || e.Name == "" {
			l.logger.Warn("skipping malformed leaderboard entry", "member", m)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// QualificationThreshold is the lowest score that would currently enter the
// board, never below the default floor. It reads raw set scores so a member
// that fails to decode still occupies its slot.
func (l *LeaderboardStore) QualificationThreshold(ctx context.Context) (int, error) {
	var members []redis.Z
	err := l.retry.Do(ctx, func() error {
		var err error
		members, err = l.client.ZRevRangeWithScores(ctx, l.key, 0, int64(l.maxSize-1)).Result()
		return err
	})
	if err != nil {
		return 0, l.unavailable("read", err)
	}
	scores := make([]int, len(members))
	for i, m := range members {
		scores[i] = int(m.Score)
	}
	return qualificationThreshold(scores, l.maxSize, l.floor), nil
}

// qualificationThreshold expects scores highest first.
func qualificationThreshold(scores []int, maxSize, floor int) int {
	if len(scores) == 0 {
		return floor
	}
	threshold := scores[min(len(scores), maxSize)-1] + 1
	return max(threshold, floor)
}

func (l *LeaderboardStore) Clear(ctx context.Context) error {
	err := l.retry.Do(ctx, func() error {
		return l.client.Del(ctx, l.key).Err()
	})
	if err != nil {
		return l.unavailable("clear", err)
	}
	l.logger.Info("leaderboard cleared")
	return nil
}

func (l *LeaderboardStore) unavailable(op string, cause error) error {
	l.logger.Error("leaderboard store unavailable", "op", op, "error", cause)
	return fmt.Errorf("%w: leaderboard: %v", game.ErrStoreUnavailable, cause)
}

package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// SlidingWindow counts requests per key in a Redis sorted set of request
// timestamps, so the window slides with every call.
type SlidingWindow struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindow(client redis.Cmdable, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{client: client, limit: limit, window: window, now: time.Now}
}

func (s *SlidingWindow) Check(ctx context.Context, key string) (Result, error) {
	now := s.now()
	member, err := requestID(now)
	if err != nil {
		return Result{}, err
	}
	k := keyPrefix + key
	windowStart := now.Add(-s.window).UnixMilli()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		card = pipe.ZCard(ctx, k)
		oldest = pipe.ZRangeWithScores(ctx, k, 0, 0)
		pipe.PExpire(ctx, k, s.window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("sliding window: %w", err)
	}

	res := Result{Limit: s.limit, Reset: now.Add(s.window)}
	if z := oldest.Val(); len(z) > 0 {
		res.Reset = time.UnixMilli(int64(z[0].Score)).Add(s.window)
	}

	count := int(card.Val())
	if count > s.limit {
		// Refused requests do not occupy the window.
		if err := s.client.ZRem(ctx, k, member).Err(); err != nil {
			return Result{}, fmt.Errorf("sliding window: %w", err)
		}
		return res, nil
	}
	res.Allowed = true
	res.Remaining = s.limit - count
	return res, nil
}

func requestID(now time.Time) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(b), nil
}

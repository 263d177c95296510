package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiliantyler/kil.dev-sub000/game"
)

const (
	telemetryKeyPrefix  = "game:telemetry:"
	maxTelemetryPerGame = 2000
)

// TelemetryLog keeps the in-game move/food reports for each session in a
// capped Redis list that expires with the session.
type TelemetryLog struct {
	client redis.Cmdable
	ttl    time.Duration
	max    int64
}

func NewTelemetryLog(client redis.Cmdable) *TelemetryLog {
	return &TelemetryLog{client: client, ttl: SessionTTL, max: maxTelemetryPerGame}
}

func (t *TelemetryLog) Append(ctx context.Context, sessionID string, event game.TelemetryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := telemetryKeyPrefix + sessionID
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -t.max, -1)
		pipe.Expire(ctx, key, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append telemetry: %w", err)
	}
	return nil
}

// Events returns the recorded reports for a session, oldest first.
func (t *TelemetryLog) Events(ctx context.Context, sessionID string) ([]game.TelemetryEvent, error) {
	raw, err := t.client.LRange(ctx, telemetryKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}
	events := make([]game.TelemetryEvent, 0, len(raw))
	for _, r := range raw {
		var e game.TelemetryEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Package events implements the publish-only message bus (C5): at-most-
// once, best-effort delivery of self-describing JSON events over Redis
// pub/sub. Consumers are external to this service.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ChannelWalletUpdates = "wallet_updates"
	ChannelAMLAlerts     = "aml_alerts"
	ChannelAMLReports    = "aml_reports"
)

// Bus publishes JSON-shaped events to Redis channels. Failure to
// publish is logged and swallowed; it never propagates to a caller's
// mutation path.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New constructs a Bus against the given Redis connection URL.
func New(redisURL string, log zerolog.Logger) (*Bus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Bus{rdb: redis.NewClient(opt), log: log}, nil
}

// Publish sends a JSON event on channel. payload should not include
// "event" or "timestamp"; both are set by Publish.
func (b *Bus) Publish(ctx context.Context, channel, event string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["event"] = event
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("events: marshal failed")
		return
	}
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Str("event", event).Msg("events: publish failed")
	}
}

// Close releases the underlying Redis connection pool.
func (b *Bus) Close() error { return b.rdb.Close() }

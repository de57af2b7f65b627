package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/metrics"
)

// channel is the Valkey pub/sub channel every gateway instance subscribes to, fanning out events
// across process boundaries to whichever instance holds the relevant WebSocket room.
const channel = "tms.events"

// ValkeyPublisher publishes Envelopes to a Valkey pub/sub channel, grounded on the teacher
// gateway's publisher idiom.
type ValkeyPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewValkeyPublisher creates a Valkey-backed event publisher.
func NewValkeyPublisher(rdb *redis.Client, logger zerolog.Logger) *ValkeyPublisher {
	return &ValkeyPublisher{rdb: rdb, log: logger}
}

// Publish serializes env as JSON and publishes it to the shared events channel.
func (p *ValkeyPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish event envelope: %w", err)
	}
	metrics.EventsBroadcastTotal.WithLabelValues(env.Event).Inc()
	return nil
}

// Subscribe returns a Valkey pub/sub subscription to the shared events channel, used by the
// gateway to receive events published by any process (including itself) for room-local fan-out.
func Subscribe(ctx context.Context, rdb *redis.Client) *redis.PubSub {
	return rdb.Subscribe(ctx, channel)
}

// Channel returns the Valkey pub/sub channel name events are published on.
func Channel() string { return channel }

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aio-zber/tms-server/internal/metrics"
)

// keyPrefix namespaces rate-limit counters in the shared Valkey keyspace.
const keyPrefix = "ratelimit"

func windowKey(principalID, class string, window time.Duration, now time.Time) string {
	bucket := now.UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, class, principalID, bucket)
}

// ValkeyLimiter implements Limiter with a fixed-window INCR+PEXPIRE counter per (principal, class),
// pipelined in a single round trip the way permission.Cache pipelines its writes.
type ValkeyLimiter struct {
	client *redis.Client
	caps   map[string]struct {
		Limit  int
		Window time.Duration
	}
}

// NewValkeyLimiter builds a ValkeyLimiter using the package's default caps.
func NewValkeyLimiter(client *redis.Client) *ValkeyLimiter {
	return &ValkeyLimiter{client: client, caps: defaultCaps}
}

// WithCap overrides the cap for a class, e.g. for tests that need a tiny window.
func (l *ValkeyLimiter) WithCap(class string, limit int, window time.Duration) *ValkeyLimiter {
	caps := make(map[string]struct {
		Limit  int
		Window time.Duration
	}, len(l.caps))
	for k, v := range l.caps {
		caps[k] = v
	}
	caps[class] = struct {
		Limit  int
		Window time.Duration
	}{Limit: limit, Window: window}
	return &ValkeyLimiter{client: l.client, caps: caps}
}

// Allow increments the current window's counter for (principalID, class) and reports whether the
// request is within cap, in one pipelined INCR+PEXPIRE round trip.
func (l *ValkeyLimiter) Allow(ctx context.Context, principalID, class string) (Decision, error) {
	cap, ok := l.caps[class]
	if !ok {
		return Decision{}, ErrUnknownClass
	}

	now := time.Now()
	key := windowKey(principalID, class, cap.Window, now)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, cap.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit pipeline exec: %w", err)
	}

	count := int(incr.Val())
	if count > cap.Limit {
		metrics.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
		elapsed := time.Duration(now.UnixMilli()%cap.Window.Milliseconds()) * time.Millisecond
		return Decision{Allowed: false, Remaining: 0, RetryAfter: cap.Window - elapsed}, nil
	}
	return Decision{Allowed: true, Remaining: cap.Limit - count}, nil
}

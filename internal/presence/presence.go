// Package presence tracks online/offline state for the FanOut connection manager. A user is
// online as long as at least one of their sessions is open; presence is therefore a reference
// count, not a single flag, since one user may hold concurrent sessions across gateway instances.
package presence

import (
	"context"
	"fmt"
	"time"
)

// ttl bounds how long a stale reference count survives a gateway crash that skips the decrement on
// disconnect. Every increment refreshes it, so a connected user's count never expires.
const ttl = 120 * time.Second

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Store tracks per-user session reference counts in Valkey so presence is consistent across
// gateway instances.
type Store struct {
	rdb Client
}

// Client is the subset of the Valkey client Store needs, narrowed for testability.
type Client interface {
	Incr(ctx context.Context, key string) IntResult
	Decr(ctx context.Context, key string) IntResult
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// IntResult is the outcome of an atomic counter operation.
type IntResult struct {
	Val int64
	Err error
}

// NewStore creates a presence store over the given Valkey-backed client.
func NewStore(rdb Client) *Store {
	return &Store{rdb: rdb}
}

// Join increments userID's session count and reports whether this was the first open session
// (meaning the caller should broadcast user_online).
func (s *Store) Join(ctx context.Context, userID string) (firstSession bool, err error) {
	key := presenceKey(userID)
	res := s.rdb.Incr(ctx, key)
	if res.Err != nil {
		return false, fmt.Errorf("incr presence refcount for %s: %w", userID, res.Err)
	}
	if err := s.rdb.Expire(ctx, key, ttl); err != nil {
		return false, fmt.Errorf("refresh presence ttl for %s: %w", userID, err)
	}
	return res.Val == 1, nil
}

// Leave decrements userID's session count and reports whether this was the last open session
// (meaning the caller should broadcast user_offline).
func (s *Store) Leave(ctx context.Context, userID string) (lastSession bool, err error) {
	key := presenceKey(userID)
	res := s.rdb.Decr(ctx, key)
	if res.Err != nil {
		return false, fmt.Errorf("decr presence refcount for %s: %w", userID, res.Err)
	}
	if res.Val <= 0 {
		if err := s.rdb.Del(ctx, key); err != nil {
			return false, fmt.Errorf("delete presence refcount for %s: %w", userID, err)
		}
		return true, nil
	}
	if err := s.rdb.Expire(ctx, key, ttl); err != nil {
		return false, fmt.Errorf("refresh presence ttl for %s: %w", userID, err)
	}
	return false, nil
}

// Status reports whether userID currently has at least one open session.
func (s *Store) Status(ctx context.Context, userID string) (string, error) {
	val, ok, err := s.rdb.Get(ctx, presenceKey(userID))
	if err != nil {
		return "", fmt.Errorf("get presence for %s: %w", userID, err)
	}
	if !ok || val == "0" {
		return StatusOffline, nil
	}
	return StatusOnline, nil
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

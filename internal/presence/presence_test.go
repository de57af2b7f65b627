package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestJoinReportsFirstSession(t *testing.T) {
	t.Parallel()
	store := NewStore(NewValkeyClient(newTestRedis(t)))
	ctx := context.Background()

	first, err := store.Join(ctx, "alice")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if !first {
		t.Error("Join() first session = false, want true")
	}

	first, err = store.Join(ctx, "alice")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if first {
		t.Error("Join() second session = true, want false")
	}
}

func TestLeaveReportsLastSession(t *testing.T) {
	t.Parallel()
	store := NewStore(NewValkeyClient(newTestRedis(t)))
	ctx := context.Background()

	if _, err := store.Join(ctx, "alice"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if _, err := store.Join(ctx, "alice"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	last, err := store.Leave(ctx, "alice")
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if last {
		t.Error("Leave() with one session remaining = true, want false")
	}

	last, err = store.Leave(ctx, "alice")
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if !last {
		t.Error("Leave() last session = false, want true")
	}
}

func TestStatusReflectsSessionCount(t *testing.T) {
	t.Parallel()
	store := NewStore(NewValkeyClient(newTestRedis(t)))
	ctx := context.Background()

	status, err := store.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusOffline {
		t.Errorf("Status() before any session = %q, want %q", status, StatusOffline)
	}

	if _, err := store.Join(ctx, "alice"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	status, err = store.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusOnline {
		t.Errorf("Status() with one session = %q, want %q", status, StatusOnline)
	}

	if _, err := store.Leave(ctx, "alice"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	status, err = store.Status(ctx, "alice")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusOffline {
		t.Errorf("Status() after last leave = %q, want %q", status, StatusOffline)
	}
}

func TestLeaveWithoutJoinDoesNotUnderflow(t *testing.T) {
	t.Parallel()
	store := NewStore(NewValkeyClient(newTestRedis(t)))
	ctx := context.Background()

	last, err := store.Leave(ctx, "alice")
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if !last {
		t.Error("Leave() on an unjoined user = false, want true (refcount cannot go negative)")
	}
}

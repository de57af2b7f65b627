package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aio-zber/tms-server/internal/metrics"
)

// WithTx runs fn inside a database transaction. If fn returns an error, the transaction is rolled back. Otherwise, the
// transaction is committed. The deferred rollback after a successful commit is a safe no-op.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AdvisoryLockKey derives a stable int64 key for pg_advisory_xact_lock from a conversation id. Two
// different conversation ids may hash to the same key (birthday-bound collision); the lock is then
// merely more conservative than necessary, which is safe, never unsafe.
func AdvisoryLockKey(conversationID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(conversationID))
	return int64(h.Sum64())
}

// LockConversation acquires a transaction-scoped advisory lock keyed by conversationID. The lock is
// automatically released at commit or rollback of tx; callers must not call this outside a
// transaction started by WithTx.
func LockConversation(ctx context.Context, tx pgx.Tx, conversationID string) error {
	start := time.Now()
	defer func() { metrics.AdvisoryLockWaitSeconds.Observe(time.Since(start).Seconds()) }()

	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, AdvisoryLockKey(conversationID))
	if err != nil {
		return fmt.Errorf("acquire conversation advisory lock: %w", err)
	}
	return nil
}

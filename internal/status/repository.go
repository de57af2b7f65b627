package status

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed status repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// MarkDelivered transitions SENT -> DELIVERED in a single statement. When messageIDs is
// empty, every currently-SENT message in the conversation transitions; otherwise only the listed
// ids do. The WHERE clause on status = 'SENT' makes the transition monotonic: a message already
// DELIVERED or READ is left untouched rather than regressed.
func (r *PGRepository) MarkDelivered(ctx context.Context, conversationID, userID string, messageIDs []string) ([]string, error) {
	var rows pgx.Rows
	var err error
	if len(messageIDs) == 0 {
		rows, err = r.db.Query(ctx,
			`UPDATE message_statuses s
			 SET status = 'DELIVERED', updated_at = now()
			 FROM messages m
			 WHERE s.message_id = m.id AND m.conversation_id = $1 AND s.user_id = $2 AND s.status = 'SENT'
			 RETURNING s.message_id`,
			conversationID, userID,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`UPDATE message_statuses s
			 SET status = 'DELIVERED', updated_at = now()
			 FROM messages m
			 WHERE s.message_id = m.id AND m.conversation_id = $1 AND s.user_id = $2
			   AND s.status = 'SENT' AND s.message_id = ANY($3)
			 RETURNING s.message_id`,
			conversationID, userID, messageIDs,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}
	return scanIDs(rows)
}

// MarkRead transitions the listed messages to READ in a single statement. Already-READ
// rows are left untouched and not returned, so a repeated call is a no-op; SENT and DELIVERED
// rows both go straight to READ.
func (r *PGRepository) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`UPDATE message_statuses s
		 SET status = 'READ', updated_at = now()
		 FROM messages m
		 WHERE s.message_id = m.id AND m.conversation_id = $1 AND s.user_id = $2
		   AND s.status != 'READ' AND s.message_id = ANY($3)
		 RETURNING s.message_id`,
		conversationID, userID, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message status id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message status ids: %w", err)
	}
	return ids, nil
}

// MaxCreatedAt returns the latest created_at among messageIDs, used to advance last_read_at to
// the max of the affected messages' created_at.
func (r *PGRepository) MaxCreatedAt(ctx context.Context, messageIDs []string) (time.Time, error) {
	var max time.Time
	if len(messageIDs) == 0 {
		return max, nil
	}
	err := r.db.QueryRow(ctx, `SELECT max(created_at) FROM messages WHERE id = ANY($1)`, messageIDs).Scan(&max)
	if err != nil {
		return max, fmt.Errorf("max created_at: %w", err)
	}
	return max, nil
}

// UnreadCount computes count(messages where created_at > last_read_at and sender_id != userID) on
// demand; it is never materialized.
func (r *PGRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM messages m
		 JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id = $2
		 WHERE m.conversation_id = $1 AND m.created_at > cm.last_read_at AND m.sender_id != $2
		   AND NOT EXISTS (SELECT 1 FROM message_hides h WHERE h.message_id = m.id AND h.user_id = $2)`,
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

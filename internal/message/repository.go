package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/postgres"
)

const selectColumns = `id, conversation_id, sender_id, content, type, metadata, reply_to_id,
	is_edited, created_at, updated_at, deleted_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var metadata []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type, &metadata,
		&m.ReplyToID, &m.IsEdited, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal message metadata: %w", err)
		}
	}
	return &m, nil
}

// Send acquires the per-conversation advisory lock, validates the reply target, persists the row,
// inserts MessageStatus=SENT for every other member, bumps the conversation's updated_at, and
// (for IMAGE/FILE/VOICE) links the referenced pending attachment, all inside one transaction,
// released at commit.
func (r *PGRepository) Send(ctx context.Context, params SendParams, otherMemberIDs []string, linkObjectKey func(ctx context.Context, messageID string) error) (*Message, error) {
	var created *Message
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := postgres.LockConversation(ctx, tx, params.ConversationID); err != nil {
			return err
		}

		if params.ReplyToID != nil {
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2 AND deleted_at IS NULL)`,
				*params.ReplyToID, params.ConversationID,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check reply target: %w", err)
			}
			if !exists {
				return ErrReplyNotFound
			}
		}

		metadata := params.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}

		id := uuid.NewString()
		row := tx.QueryRow(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, content, type, metadata, reply_to_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+selectColumns,
			id, params.ConversationID, params.SenderID, params.Content, params.Type, metadataJSON, params.ReplyToID,
		)
		created, err = scanMessage(row)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		for _, uid := range otherMemberIDs {
			if uid == params.SenderID {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO message_statuses (message_id, user_id, status) VALUES ($1, $2, 'SENT')`,
				created.ID, uid,
			); err != nil {
				return fmt.Errorf("insert message status: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, params.ConversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		if linkObjectKey != nil {
			if err := linkObjectKey(ctx, created.ID); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByID returns a message regardless of hide-list state (hides are per-viewer, enforced only in
// List).
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message by id: %w", err)
	}
	return m, nil
}

// List returns messages in conversationID newest-first, excluding rows viewerID has hidden for
// themselves and cursor-paginated by before.
func (r *PGRepository) List(ctx context.Context, conversationID, viewerID string, before *string, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error

	const base = `SELECT ` + selectColumns + ` FROM messages m
		WHERE m.conversation_id = $1
		  AND NOT EXISTS (SELECT 1 FROM message_hides h WHERE h.message_id = m.id AND h.user_id = $2)`

	if before != nil {
		rows, err = r.db.Query(ctx,
			base+` AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $3)
			 ORDER BY m.created_at DESC, m.id DESC LIMIT $4`,
			conversationID, viewerID, *before, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			base+` ORDER BY m.created_at DESC, m.id DESC LIMIT $3`,
			conversationID, viewerID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Edit sets new content on a message and marks it edited. Callers must have already
// checked the edit window, authorship, type, and deletion state.
func (r *PGRepository) Edit(ctx context.Context, id, newContent string) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`UPDATE messages SET content = $1, is_edited = true, updated_at = now()
		 WHERE id = $2 RETURNING `+selectColumns,
		newContent, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return m, nil
}

// HideForSelf records a delete-for-self hide, enforced at read time.
func (r *PGRepository) HideForSelf(ctx context.Context, messageID, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO message_hides (message_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID,
	)
	if err != nil {
		return fmt.Errorf("hide message for self: %w", err)
	}
	return nil
}

// DeleteForEveryone clears content and sets deleted_at. Callers must have already checked
// authorship and the delete window.
func (r *PGRepository) DeleteForEveryone(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx,
		`UPDATE messages SET content = NULL, deleted_at = now()
		 WHERE id = $1 RETURNING `+selectColumns,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("delete message for everyone: %w", err)
	}
	return m, nil
}

// InsertSystemMessage persists a server-authored SYSTEM message, used for delete/member-change/
// rename audit trail entries.
func (r *PGRepository) InsertSystemMessage(ctx context.Context, conversationID, actorID, content string) (*Message, error) {
	id := uuid.NewString()
	m, err := scanMessage(r.db.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, metadata)
		 VALUES ($1, $2, $3, $4, 'SYSTEM', '{}'::jsonb)
		 RETURNING `+selectColumns,
		id, conversationID, actorID, content,
	))
	if err != nil {
		return nil, fmt.Errorf("insert system message: %w", err)
	}
	return m, nil
}

// React inserts a (message_id, user_id, emoji) reaction row, treating a duplicate as a no-op
// rather than an error. Returns true only when a row was newly inserted.
func (r *PGRepository) React(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("react to message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Unreact deletes a reaction by its natural key. Returns true only when a row was removed.
func (r *PGRepository) Unreact(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("unreact to message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

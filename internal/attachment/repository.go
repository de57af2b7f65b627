package attachment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `object_key, uploader_id, content_type, size_bytes, message_id, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed attachment repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new pending attachment record with message_id NULL.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*PendingAttachment, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO pending_attachments (object_key, uploader_id, content_type, size_bytes)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+selectColumns,
		params.ObjectKey, params.UploaderID, params.ContentType, params.SizeBytes,
	)
	a, err := scanAttachment(row)
	if err != nil {
		return nil, fmt.Errorf("insert pending attachment: %w", err)
	}
	return a, nil
}

// GetByObjectKey returns a single pending attachment by its object key.
func (r *PGRepository) GetByObjectKey(ctx context.Context, objectKey string) (*PendingAttachment, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM pending_attachments WHERE object_key = $1", objectKey)
	a, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query attachment by object key: %w", err)
	}
	return a, nil
}

// LinkToMessage atomically assigns objectKey to messageID. Only a pending attachment owned by
// uploaderID is linked; anything else is ErrNotFound.
func (r *PGRepository) LinkToMessage(ctx context.Context, objectKey, messageID, uploaderID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_attachments
		 SET message_id = $1
		 WHERE object_key = $2 AND uploader_id = $3 AND message_id IS NULL`,
		messageID, objectKey, uploaderID,
	)
	if err != nil {
		return fmt.Errorf("link attachment to message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByMessage returns every attachment linked to messageID, ordered by creation time.
func (r *PGRepository) ListByMessage(ctx context.Context, messageID string) ([]PendingAttachment, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM pending_attachments WHERE message_id = $1 ORDER BY created_at",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attachments by message: %w", err)
	}
	defer rows.Close()

	var result []PendingAttachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return result, nil
}

// PurgeOrphans deletes pending attachments older than olderThan and returns their object keys for
// blob cleanup.
func (r *PGRepository) PurgeOrphans(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM pending_attachments WHERE message_id IS NULL AND created_at < $1 RETURNING object_key`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("purge orphan attachments: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan orphan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphan keys: %w", err)
	}
	return keys, nil
}

func scanAttachment(row pgx.Row) (*PendingAttachment, error) {
	var a PendingAttachment
	err := row.Scan(&a.ObjectKey, &a.UploaderID, &a.ContentType, &a.SizeBytes, &a.MessageID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

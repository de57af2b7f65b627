// Package attachment implements the pending-attachment lifecycle backing BlobBroker: a record
// created when an upload URL is issued, linked to a message on Send, and purged if never linked.
package attachment

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object key is missing, already linked, or owned by a different
// uploader.
var ErrNotFound = errors.New("attachment not found or not available for linking")

// PendingAttachment holds the fields read from the pending_attachments table.
type PendingAttachment struct {
	ObjectKey   string
	UploaderID  string
	ContentType string
	SizeBytes   int64
	MessageID   *string
	CreatedAt   time.Time
}

// CreateParams groups the inputs for recording a newly issued upload URL.
type CreateParams struct {
	ObjectKey   string
	UploaderID  string
	ContentType string
	SizeBytes   int64
}

// Repository defines the data-access contract for pending attachments.
type Repository interface {
	// Create inserts a new pending attachment record (message_id NULL), called when BlobBroker
	// issues an upload URL.
	Create(ctx context.Context, params CreateParams) (*PendingAttachment, error)

	GetByObjectKey(ctx context.Context, objectKey string) (*PendingAttachment, error)

	// LinkToMessage atomically assigns objectKey to messageID. Only a pending (message_id IS NULL)
	// attachment owned by uploaderID can be linked; anything else returns ErrNotFound.
	LinkToMessage(ctx context.Context, objectKey, messageID, uploaderID string) error

	// ListByMessage returns every attachment linked to messageID, ordered by creation time.
	ListByMessage(ctx context.Context, messageID string) ([]PendingAttachment, error)

	// PurgeOrphans deletes pending attachments older than olderThan and returns their object keys
	// so the caller can also remove the underlying blobs.
	PurgeOrphans(ctx context.Context, olderThan time.Time) ([]string, error)
}

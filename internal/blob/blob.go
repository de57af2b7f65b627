// Package blob implements BlobBroker: issuing short-lived signed upload/download URLs. The
// core never proxies attachment bytes — it only ever hands back a URL pointing at the object
// store and tracks the object key.
package blob

import (
	"context"
	"errors"
	"time"
)

// UploadTTL is how long an issued upload URL remains valid.
const UploadTTL = time.Hour

// DownloadTTL is how long an issued download URL remains valid.
const DownloadTTL = time.Hour

// MaxSizeBytes is the default cap on an uploaded object; Broker is
// constructed with the configured value, this is only the spec default.
const MaxSizeBytes = 100 * 1024 * 1024

// allowedContentTypes is the MIME allowlist IssueUploadURL enforces.
var allowedContentTypes = map[string]bool{
	"image/png":          true,
	"image/jpeg":         true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"text/plain":         true,
	"audio/mpeg":         true,
	"audio/ogg":          true,
	"audio/webm":         true,
	"video/mp4":          true,
	"application/zip":    true,
	"application/msword": true,
}

// Sentinel errors for the blob package.
var (
	ErrContentTypeNotAllowed = errors.New("content type is not allowed")
	ErrSizeExceedsCap        = errors.New("size exceeds the maximum upload cap")
	ErrObjectNotFound        = errors.New("object key is not referenced by any accessible message")
	ErrNotAuthorized         = errors.New("requesting user is not a member of the conversation that references this object")
)

// UploadGrant is the result of IssueUploadURL.
type UploadGrant struct {
	URL       string
	ObjectKey string
	ExpiresAt time.Time
}

// DownloadGrant is the result of IssueDownloadURL.
type DownloadGrant struct {
	URL       string
	ExpiresAt time.Time
}

// MessageLocator resolves a message id to the conversation id it belongs to, used by
// IssueDownloadURL to enforce the membership check.
type MessageLocator interface {
	ConversationIDForMessage(ctx context.Context, messageID string) (string, error)
}

// MembershipChecker reports whether userID belongs to conversationID.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// IsContentTypeAllowed reports whether contentType may be uploaded.
func IsContentTypeAllowed(contentType string) bool {
	return allowedContentTypes[contentType]
}

package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/attachment"
)

// Broker is the BlobBroker component.
type Broker struct {
	endpoint     string
	bucket       string
	signingKey   string // hex-encoded
	maxSizeBytes int64
	attachments  attachment.Repository
	messages     MessageLocator
	members      MembershipChecker
	log          zerolog.Logger
}

// NewBroker builds a BlobBroker. maxSizeBytes overrides MaxSizeBytes when positive.
func NewBroker(endpoint, bucket, signingKey string, maxSizeBytes int64, attachments attachment.Repository, messages MessageLocator, members MembershipChecker, logger zerolog.Logger) *Broker {
	if maxSizeBytes <= 0 {
		maxSizeBytes = MaxSizeBytes
	}
	return &Broker{
		endpoint:     endpoint,
		bucket:       bucket,
		signingKey:   signingKey,
		maxSizeBytes: maxSizeBytes,
		attachments:  attachments,
		messages:     messages,
		members:      members,
		log:          logger,
	}
}

// IssueUploadURL validates the requested upload against the MIME allowlist and size cap, signs a
// 1-hour URL, and records a PendingAttachment row keyed by the freshly generated object key
//.
func (b *Broker) IssueUploadURL(ctx context.Context, userID, filename, contentType string, sizeBytes int64) (*UploadGrant, error) {
	if !IsContentTypeAllowed(contentType) {
		return nil, apierror.ValidationError(map[string]string{"content_type": "not allowed"}, "%s", ErrContentTypeNotAllowed)
	}
	if sizeBytes > b.maxSizeBytes {
		return nil, apierror.ValidationError(map[string]string{"size_bytes": "exceeds cap"}, "%s", ErrSizeExceedsCap)
	}

	objectKey := fmt.Sprintf("%s/%s-%s", userID, uuid.NewString(), filename)
	expiresAt := time.Now().Add(UploadTTL)

	sig, err := sign("PUT", objectKey, expiresAt.Unix(), b.signingKey)
	if err != nil {
		return nil, apierror.ServerError(err, "sign upload url")
	}

	if _, err := b.attachments.Create(ctx, attachment.CreateParams{
		ObjectKey:   objectKey,
		UploaderID:  userID,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
	}); err != nil {
		return nil, apierror.ServerError(err, "record pending attachment")
	}

	return &UploadGrant{
		URL:       buildURL(b.endpoint, b.bucket, objectKey, expiresAt.Unix(), sig),
		ObjectKey: objectKey,
		ExpiresAt: expiresAt,
	}, nil
}

// IssueDownloadURL checks that objectKey is referenced by a message in a conversation
// requestingUserID belongs to, then signs a download URL.
func (b *Broker) IssueDownloadURL(ctx context.Context, objectKey, requestingUserID string) (*DownloadGrant, error) {
	att, err := b.attachments.GetByObjectKey(ctx, objectKey)
	if err != nil {
		if err == attachment.ErrNotFound {
			return nil, apierror.NotFound("%s", ErrObjectNotFound)
		}
		return nil, apierror.ServerError(err, "get pending attachment")
	}
	if att.MessageID == nil {
		return nil, apierror.NotFound("%s", ErrObjectNotFound)
	}

	conversationID, err := b.messages.ConversationIDForMessage(ctx, *att.MessageID)
	if err != nil {
		return nil, apierror.ServerError(err, "locate conversation for message")
	}
	isMember, err := b.members.IsMember(ctx, conversationID, requestingUserID)
	if err != nil {
		return nil, apierror.ServerError(err, "check membership")
	}
	if !isMember {
		return nil, apierror.PermissionDenied("%s", ErrNotAuthorized)
	}

	expiresAt := time.Now().Add(DownloadTTL)
	sig, err := sign("GET", objectKey, expiresAt.Unix(), b.signingKey)
	if err != nil {
		return nil, apierror.ServerError(err, "sign download url")
	}

	return &DownloadGrant{
		URL:       buildURL(b.endpoint, b.bucket, objectKey, expiresAt.Unix(), sig),
		ExpiresAt: expiresAt,
	}, nil
}

package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/attachment"
	"github.com/aio-zber/tms-server/internal/event"
	"github.com/aio-zber/tms-server/internal/metrics"
)

// MembershipChecker is the subset of ConversationStore the Ingest service needs: membership
// verification and the member roster for fan-out status rows.
type MembershipChecker interface {
	RequireMember(ctx context.Context, conversationID, userID string) error
	ListMemberIDs(ctx context.Context, conversationID string) ([]string, error)
	IsDM(ctx context.Context, conversationID, senderID string) (bool, string, error) // isDM, counterpartID
}

// BlockChecker reports whether blocker has blocked blocked.
type BlockChecker interface {
	IsBlocked(ctx context.Context, blocker, blocked string) (bool, error)
}

// DisplayNameLookup resolves a user id to a display name for system-message authorship.
type DisplayNameLookup interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// AttachmentLinker links a previously issued pending attachment object key to a newly created
// message. Returns attachment.ErrNotFound if the key is missing, already linked, or owned by a
// different uploader; Send reports that as a ValidationError.
type AttachmentLinker interface {
	LinkToMessage(ctx context.Context, objectKey, messageID, uploaderID string) error
}

// Ingest is the MessageIngest component.
type Ingest struct {
	repo        Repository
	members     MembershipChecker
	block       BlockChecker
	names       DisplayNameLookup
	attachments AttachmentLinker
	publisher   event.Publisher
	sanitizer   *bluemonday.Policy
	log         zerolog.Logger
}

// NewIngest builds a MessageIngest. block, attachments, and names may be nil if those backends are
// not wired yet; the corresponding checks are skipped.
func NewIngest(repo Repository, members MembershipChecker, block BlockChecker, names DisplayNameLookup, attachments AttachmentLinker, publisher event.Publisher, logger zerolog.Logger) *Ingest {
	return &Ingest{
		repo:        repo,
		members:     members,
		block:       block,
		names:       names,
		attachments: attachments,
		publisher:   publisher,
		sanitizer:   bluemonday.StrictPolicy(),
		log:         logger,
	}
}

func metadataObjectKey(metadata map[string]any) (string, bool) {
	v, ok := metadata["ossKey"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// Send validates and persists a new message: membership, DM block state, type-specific content
// validation, and per-recipient status rows all happen before the write commits.
func (in *Ingest) Send(ctx context.Context, params SendParams) (*Message, error) {
	if err := in.members.RequireMember(ctx, params.ConversationID, params.SenderID); err != nil {
		return nil, err
	}

	if in.block != nil {
		isDM, counterpart, err := in.members.IsDM(ctx, params.ConversationID, params.SenderID)
		if err != nil {
			return nil, apierror.ServerError(err, "check conversation type")
		}
		if isDM {
			blocked, err := in.block.IsBlocked(ctx, counterpart, params.SenderID)
			if err != nil {
				return nil, apierror.ServerError(err, "check block state")
			}
			if blocked {
				return nil, apierror.PermissionDenied("recipient has blocked you")
			}
		}
	}

	if err := ValidateType(params.Type); err != nil {
		return nil, apierror.ValidationError(nil, "%s", err)
	}

	switch params.Type {
	case TypeText:
		trimmed, err := ValidateContent(params.Content)
		if err != nil {
			return nil, apierror.ValidationError(map[string]string{"content": err.Error()}, "invalid content")
		}
		params.Content = in.sanitizer.Sanitize(trimmed)
	case TypeImage, TypeFile, TypeVoice:
		if _, ok := metadataObjectKey(params.Metadata); !ok {
			return nil, apierror.ValidationError(map[string]string{"metadata.ossKey": "required"}, "%s", ErrMissingOSSKey)
		}
	}

	memberIDs, err := in.members.ListMemberIDs(ctx, params.ConversationID)
	if err != nil {
		return nil, apierror.ServerError(err, "list conversation members")
	}

	var linkFn func(ctx context.Context, messageID string) error
	if key, ok := metadataObjectKey(params.Metadata); ok && in.attachments != nil {
		linkFn = func(ctx context.Context, messageID string) error {
			return in.attachments.LinkToMessage(ctx, key, messageID, params.SenderID)
		}
	}

	msg, err := in.repo.Send(ctx, params, memberIDs, linkFn)
	if err != nil {
		if errors.Is(err, attachment.ErrNotFound) {
			return nil, apierror.ValidationError(map[string]string{"metadata.ossKey": err.Error()}, "attachment not available for linking")
		}
		return nil, apierror.ServerError(err, "send message")
	}

	metrics.MessagesSentTotal.Inc()
	in.emit(ctx, params.ConversationID, event.NewMessage, msg)
	return msg, nil
}

// Edit replaces a TEXT message's content. Only the original sender may edit, only within
// EditWindow, and only before the message has been deleted.
func (in *Ingest) Edit(ctx context.Context, messageID, editorID, newContent string) (*Message, error) {
	existing, err := in.repo.GetByID(ctx, messageID)
	if err != nil {
		if err == ErrNotFound {
			return nil, apierror.NotFound("message not found")
		}
		return nil, apierror.ServerError(err, "get message")
	}
	if existing.DeletedAt != nil {
		return nil, apierror.Conflict("%s", ErrAlreadyDeleted)
	}
	if existing.SenderID != editorID {
		return nil, apierror.PermissionDenied("%s", ErrNotAuthor)
	}
	if existing.Type != TypeText {
		return nil, apierror.ValidationError(nil, "%s", ErrNotTextType)
	}
	if time.Since(existing.CreatedAt) > EditWindow {
		return nil, apierror.ValidationError(nil, "%s", ErrEditWindowPast)
	}

	trimmed, err := ValidateContent(newContent)
	if err != nil {
		return nil, apierror.ValidationError(map[string]string{"content": err.Error()}, "invalid content")
	}
	sanitized := in.sanitizer.Sanitize(trimmed)

	updated, err := in.repo.Edit(ctx, messageID, sanitized)
	if err != nil {
		return nil, apierror.ServerError(err, "edit message")
	}

	in.emit(ctx, updated.ConversationID, event.MessageEdited, map[string]any{
		"message_id": updated.ID, "new_content": sanitized, "updated_at": updated.UpdatedAt, "is_edited": true,
	})
	return updated, nil
}

// Delete removes messageID under scope: ScopeSelf hides it only for actorID, ScopeEveryone clears
// its content for every member and requires actorID be the sender within DeleteForEveryoneWindow.
func (in *Ingest) Delete(ctx context.Context, messageID, actorID, scope string) error {
	if scope != ScopeSelf && scope != ScopeEveryone {
		return apierror.ValidationError(map[string]string{"scope": "must be self or everyone"}, "%s", ErrInvalidScope)
	}

	existing, err := in.repo.GetByID(ctx, messageID)
	if err != nil {
		if err == ErrNotFound {
			return apierror.NotFound("message not found")
		}
		return apierror.ServerError(err, "get message")
	}

	if scope == ScopeSelf {
		if err := in.repo.HideForSelf(ctx, messageID, actorID); err != nil {
			return apierror.ServerError(err, "hide message")
		}
		return nil
	}

	if existing.DeletedAt != nil {
		return apierror.Conflict("%s", ErrAlreadyDeleted)
	}
	if existing.SenderID != actorID {
		return apierror.PermissionDenied("%s", ErrNotAuthor)
	}
	if time.Since(existing.CreatedAt) > DeleteForEveryoneWindow {
		return apierror.ValidationError(nil, "%s", ErrDeleteWindowPast)
	}

	deleted, err := in.repo.DeleteForEveryone(ctx, messageID)
	if err != nil {
		return apierror.ServerError(err, "delete message")
	}

	in.emit(ctx, deleted.ConversationID, event.MessageDeleted, map[string]any{
		"message_id": deleted.ID, "deleted_at": deleted.DeletedAt, "scope": scope,
	})

	in.announceSystemMessage(ctx, deleted.ConversationID, actorID, "deleted a message")
	return nil
}

// announceSystemMessage persists and broadcasts a server-authored SYSTEM message, used by Delete
// and by the conversation package for member-add/remove/rename audit entries.
func (in *Ingest) announceSystemMessage(ctx context.Context, conversationID, actorID, action string) {
	name := actorID
	if in.names != nil {
		if n, err := in.names.DisplayName(ctx, actorID); err == nil {
			name = n
		}
	}
	content := fmt.Sprintf("%s %s", name, action)
	sysMsg, err := in.repo.InsertSystemMessage(ctx, conversationID, actorID, content)
	if err != nil {
		in.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to insert system message")
		return
	}
	in.emit(ctx, conversationID, event.NewMessage, sysMsg)
}

// AnnounceSystemMessage exposes system-message generation to other components (ConversationStore's
// member-add/remove/rename flows) so the chat history stays the single source of truth.
func (in *Ingest) AnnounceSystemMessage(ctx context.Context, conversationID, actorID, action string) {
	in.announceSystemMessage(ctx, conversationID, actorID, action)
}

// React adds userID's emoji reaction to messageID; a duplicate React is idempotent.
func (in *Ingest) React(ctx context.Context, messageID, userID, emoji string) (*ReactionDelta, error) {
	if err := in.requireMemberOfMessage(ctx, messageID, userID); err != nil {
		return nil, err
	}
	if _, err := in.repo.React(ctx, messageID, userID, emoji); err != nil {
		return nil, apierror.ServerError(err, "react to message")
	}
	delta := &ReactionDelta{MessageID: messageID, UserID: userID, Emoji: emoji, Added: true}

	msg, err := in.repo.GetByID(ctx, messageID)
	if err == nil {
		in.emit(ctx, msg.ConversationID, event.ReactionAdded, delta)
	}
	return delta, nil
}

// Unreact removes userID's emoji reaction from messageID, if present.
func (in *Ingest) Unreact(ctx context.Context, messageID, userID, emoji string) (*ReactionDelta, error) {
	if err := in.requireMemberOfMessage(ctx, messageID, userID); err != nil {
		return nil, err
	}
	removed, err := in.repo.Unreact(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, apierror.ServerError(err, "unreact to message")
	}
	delta := &ReactionDelta{MessageID: messageID, UserID: userID, Emoji: emoji, Added: false}
	if removed {
		if msg, err := in.repo.GetByID(ctx, messageID); err == nil {
			in.emit(ctx, msg.ConversationID, event.ReactionRemoved, delta)
		}
	}
	return delta, nil
}

func (in *Ingest) requireMemberOfMessage(ctx context.Context, messageID, userID string) error {
	msg, err := in.repo.GetByID(ctx, messageID)
	if err != nil {
		if err == ErrNotFound {
			return apierror.NotFound("message not found")
		}
		return apierror.ServerError(err, "get message")
	}
	return in.members.RequireMember(ctx, msg.ConversationID, userID)
}

// List returns messages in a conversation, enforcing membership and the viewer's hide-list.
func (in *Ingest) List(ctx context.Context, conversationID, viewerID string, before *string, limit int) ([]Message, error) {
	if err := in.members.RequireMember(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := in.repo.List(ctx, conversationID, viewerID, before, ClampLimit(limit))
	if err != nil {
		return nil, apierror.ServerError(err, "list messages")
	}
	return msgs, nil
}

// ConversationIDForMessage resolves a message id to its conversation id, used by BlobBroker to
// enforce the download-URL membership check.
func (in *Ingest) ConversationIDForMessage(ctx context.Context, messageID string) (string, error) {
	msg, err := in.repo.GetByID(ctx, messageID)
	if err != nil {
		if err == ErrNotFound {
			return "", apierror.NotFound("message not found")
		}
		return "", apierror.ServerError(err, "get message")
	}
	return msg.ConversationID, nil
}

func (in *Ingest) emit(ctx context.Context, conversationID, eventType string, payload any) {
	if in.publisher == nil {
		return
	}
	if err := in.publisher.Publish(ctx, event.New(eventType, conversationID, payload)); err != nil {
		in.log.Warn().Err(err).Str("event", eventType).Str("conversation_id", conversationID).Msg("failed to publish event")
	}
}

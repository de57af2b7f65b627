// Package message implements MessageIngest: ingesting new messages, serializing concurrent
// sends per conversation, enforcing content policy, and handing off to FanOut via the event
// package.
package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Message type constants matching the database CHECK constraint.
const (
	TypeText   = "TEXT"
	TypeImage  = "IMAGE"
	TypeFile   = "FILE"
	TypeVoice  = "VOICE"
	TypePoll   = "POLL"
	TypeCall   = "CALL"
	TypeSystem = "SYSTEM"
)

// Delete scopes.
const (
	ScopeSelf     = "self"
	ScopeEveryone = "everyone"
)

// MaxContentLength caps the length of TEXT message content.
const MaxContentLength = 10000

// EditWindow is how long after creation a message may still be edited.
const EditWindow = 15 * time.Minute

// DeleteForEveryoneWindow is how long after creation a sender may delete for everyone.
const DeleteForEveryoneWindow = 60 * time.Minute

// Sentinel errors for the message package.
var (
	ErrNotFound         = errors.New("message not found")
	ErrContentTooLong   = errors.New("message content exceeds the maximum length")
	ErrEmptyContent     = errors.New("message content must not be empty")
	ErrReplyNotFound    = errors.New("reply target message not found")
	ErrNotAuthor        = errors.New("you can only modify your own messages")
	ErrAlreadyDeleted   = errors.New("message has already been deleted")
	ErrEditWindowPast   = errors.New("edit window has closed")
	ErrDeleteWindowPast = errors.New("delete-for-everyone window has closed")
	ErrNotTextType      = errors.New("only TEXT messages can be edited")
	ErrMissingOSSKey    = errors.New("metadata.ossKey is required for this message type")
	ErrInvalidScope     = errors.New("scope must be self or everyone")
)

var validTypes = map[string]bool{
	TypeText: true, TypeImage: true, TypeFile: true, TypeVoice: true,
	TypePoll: true, TypeCall: true, TypeSystem: true,
}

// Pagination defaults.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Message holds the fields read from the messages table.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        *string
	Type           string
	Metadata       map[string]any
	ReplyToID      *string
	IsEdited       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// SendParams groups the inputs for Send.
type SendParams struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Metadata       map[string]any
	ReplyToID      *string
}

// ReactionDelta reports the outcome of React/Unreact.
type ReactionDelta struct {
	MessageID string
	UserID    string
	Emoji     string
	Added     bool // true for React (even if it was already present), false for Unreact
}

// ValidateContent checks that content is non-empty after trimming and does not exceed
// MaxContentLength runes.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// ValidateType checks that t is one of the known message types.
func ValidateType(t string) error {
	if !validTypes[t] {
		return errors.New("invalid message type")
	}
	return nil
}

// ClampLimit constrains a requested page size to [1, MaxLimit], defaulting to DefaultLimit when
// the input is zero or negative.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Repository is the storage contract for MessageIngest.
type Repository interface {
	// Send persists a new message and fans out MessageStatus rows for every other member of
	// otherMemberIDs, all inside a single advisory-locked transaction.
	Send(ctx context.Context, params SendParams, otherMemberIDs []string, linkObjectKey func(ctx context.Context, messageID string) error) (*Message, error)
	GetByID(ctx context.Context, id string) (*Message, error)
	// List returns messages in a conversation, newest first, excluding rows hidden for viewerID
	//.
	List(ctx context.Context, conversationID, viewerID string, before *string, limit int) ([]Message, error)
	Edit(ctx context.Context, id, newContent string) (*Message, error)
	HideForSelf(ctx context.Context, messageID, userID string) error
	DeleteForEveryone(ctx context.Context, id string) (*Message, error)
	InsertSystemMessage(ctx context.Context, conversationID, actorID, content string) (*Message, error)

	React(ctx context.Context, messageID, userID, emoji string) (bool, error)   // returns true if newly added
	Unreact(ctx context.Context, messageID, userID, emoji string) (bool, error) // returns true if a row was removed
}

// Package conversation owns CRUD and membership logic for conversations: the ConversationStore
// component.
package conversation

import (
	"context"
	"errors"
	"time"
)

// Conversation type constants matching the database CHECK constraint.
const (
	TypeDM    = "DM"
	TypeGroup = "GROUP"
)

// Member role constants.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// SearchResultCap bounds the number of rows ConversationStore.Search returns.
const SearchResultCap = 50

// SearchScoreThreshold drops rows whose weighted similarity score falls below this value.
const SearchScoreThreshold = 0.3

// MinGroupMembers and MaxGroupMembers bound a GROUP conversation's membership: at least the
// creator plus one other, and no more than 256.
const (
	MinGroupMembers = 2
	MaxGroupMembers = 256
)

// Sentinel errors for the conversation package.
var (
	ErrNotFound      = errors.New("conversation not found")
	ErrNotMember     = errors.New("user is not a member of this conversation")
	ErrAlreadyMember = errors.New("user is already a member of this conversation")
	ErrGroupTooSmall = errors.New("a group conversation needs at least two members")
	ErrGroupFull     = errors.New("conversation has reached the maximum of 256 members")
)

// Conversation holds the fields read from the conversations table.
type Conversation struct {
	ID        string
	Type      string
	Name      string
	AvatarURL *string
	CreatedBy string
	DMKey     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member holds a single conversation_members row.
type Member struct {
	ConversationID string
	UserID         string
	Role           string
	JoinedAt       time.Time
	LastReadAt     time.Time
	IsMuted        bool
	MuteUntil      *time.Time
}

// CreateGroupParams groups the inputs for creating a GROUP conversation.
type CreateGroupParams struct {
	Name      string
	AvatarURL *string
	CreatedBy string
	MemberIDs []string // other members besides CreatedBy
}

// SearchResult is a single scored row returned by Search.
type SearchResult struct {
	Conversation
	Score float64
}

// Repository is the storage contract for ConversationStore.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Conversation, error)
	GetOrCreateDM(ctx context.Context, userA, userB string) (*Conversation, error)
	CreateGroup(ctx context.Context, params CreateGroupParams) (*Conversation, error)
	Rename(ctx context.Context, id, name string) (*Conversation, error)

	ListMembers(ctx context.Context, conversationID string) ([]Member, error)
	AddMember(ctx context.Context, conversationID, userID string) error
	RemoveMember(ctx context.Context, conversationID, userID string) error
	GetMember(ctx context.Context, conversationID, userID string) (*Member, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID string) (bool, error)
	UpdateLastReadAt(ctx context.Context, conversationID, userID string, at time.Time) error

	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
	Search(ctx context.Context, userID, query string) ([]SearchResult, error)

	TouchUpdatedAt(ctx context.Context, conversationID string) error
}

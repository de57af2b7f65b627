package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/event"
)

// ErrNameLength mirrors the channel package's name-length validation idiom, scaled to group
// conversation names.
var ErrNameLength = apierror.ValidationError(nil, "conversation name must be between 1 and 100 characters")

// BlockChecker reports whether blocker has blocked blocked, used to enforce the DM block rule in
// CreateDM.
type BlockChecker interface {
	IsBlocked(ctx context.Context, blocker, blocked string) (bool, error)
}

// SystemMessageAnnouncer persists and broadcasts a server-authored SYSTEM message. Member
// add/remove/leave/rename events are recorded through this in the same chat history as every other
// message, so MessageIngest owns the implementation and ConversationStore only holds the interface.
type SystemMessageAnnouncer interface {
	AnnounceSystemMessage(ctx context.Context, conversationID, actorID, action string)
}

// Store is the ConversationStore component: CRUD and membership enforcement on top of Repository.
type Store struct {
	repo      Repository
	block     BlockChecker
	announcer SystemMessageAnnouncer
	publisher event.Publisher
	log       zerolog.Logger
}

// NewStore builds a ConversationStore. block, announcer, and publisher may be nil if those
// backends are not wired yet; system-message generation and event emission are skipped when the
// corresponding dependency is nil.
func NewStore(repo Repository, block BlockChecker, announcer SystemMessageAnnouncer, publisher event.Publisher, logger zerolog.Logger) *Store {
	return &Store{repo: repo, block: block, announcer: announcer, publisher: publisher, log: logger}
}

func (s *Store) announce(ctx context.Context, conversationID, actorID, action string) {
	if s.announcer != nil {
		s.announcer.AnnounceSystemMessage(ctx, conversationID, actorID, action)
	}
}

// emit publishes an already-committed conversation-level event (conversation_updated, member_added,
// member_removed). Failures are logged, never propagated: a broadcast is best effort and must not
// fail the write that already succeeded.
func (s *Store) emit(ctx context.Context, eventType, conversationID string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event.New(eventType, conversationID, payload)); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Str("conversation_id", conversationID).Msg("failed to publish event")
	}
}

func validateGroupName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// CreateDM returns the canonical DM between the two users, creating it if needed.
func (s *Store) CreateDM(ctx context.Context, userA, userB string) (*Conversation, error) {
	if s.block != nil {
		blocked, err := s.block.IsBlocked(ctx, userB, userA)
		if err != nil {
			return nil, apierror.ServerError(err, "check block state")
		}
		if blocked {
			return nil, apierror.PermissionDenied("recipient has blocked you")
		}
	}
	c, err := s.repo.GetOrCreateDM(ctx, userA, userB)
	if err != nil {
		return nil, apierror.ServerError(err, "create dm conversation")
	}
	return c, nil
}

// dedupeMembers returns the distinct member ids in memberIDs, excluding creatorID.
func dedupeMembers(creatorID string, memberIDs []string) []string {
	seen := map[string]bool{creatorID: true}
	out := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CreateGroup creates a GROUP conversation; the creator becomes ADMIN. Membership is bounded
// to [MinGroupMembers, MaxGroupMembers] after de-duplicating the creator out of memberIDs.
func (s *Store) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*Conversation, error) {
	trimmed, err := validateGroupName(name)
	if err != nil {
		return nil, err
	}
	others := dedupeMembers(creatorID, memberIDs)
	total := len(others) + 1
	if total < MinGroupMembers {
		return nil, apierror.ValidationError(map[string]string{"member_ids": "at least one other member is required"}, "%s", ErrGroupTooSmall)
	}
	if total > MaxGroupMembers {
		return nil, apierror.ValidationError(map[string]string{"member_ids": "exceeds the 256-member cap"}, "%s", ErrGroupFull)
	}
	c, err := s.repo.CreateGroup(ctx, CreateGroupParams{Name: trimmed, CreatedBy: creatorID, MemberIDs: others})
	if err != nil {
		return nil, apierror.ServerError(err, "create group conversation")
	}
	return c, nil
}

// Rename changes a GROUP conversation's name; ADMIN-only.
func (s *Store) Rename(ctx context.Context, conversationID, actorID, name string) (*Conversation, error) {
	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	trimmed, err := validateGroupName(name)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.Rename(ctx, conversationID, trimmed)
	if err != nil {
		return nil, apierror.ServerError(err, "rename conversation")
	}
	s.announce(ctx, conversationID, actorID, fmt.Sprintf("renamed the conversation to %q", trimmed))
	s.emit(ctx, event.ConversationUpdate, conversationID, map[string]string{
		"conversation_id": conversationID,
		"name":            trimmed,
	})
	return c, nil
}

// AddMember adds userID to a GROUP conversation; ADMIN-only. Rejects the add once the
// conversation already holds MaxGroupMembers members.
func (s *Store) AddMember(ctx context.Context, conversationID, actorID, userID string) error {
	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return err
	}
	members, err := s.repo.ListMembers(ctx, conversationID)
	if err != nil {
		return apierror.ServerError(err, "list members")
	}
	if len(members) >= MaxGroupMembers {
		return apierror.ValidationError(map[string]string{"user_id": "conversation is full"}, "%s", ErrGroupFull)
	}
	if err := s.repo.AddMember(ctx, conversationID, userID); err != nil {
		return apierror.ServerError(err, "add member")
	}
	s.announce(ctx, conversationID, actorID, fmt.Sprintf("added %s to the conversation", userID))
	s.emit(ctx, event.MemberAdded, conversationID, map[string]string{
		"conversation_id": conversationID,
		"user_id":         userID,
	})
	return nil
}

// RemoveMember removes a member from a GROUP conversation. An ADMIN may remove anyone; any member
// may remove themselves (leaving is always permitted, even as the last ADMIN).
func (s *Store) RemoveMember(ctx context.Context, conversationID, actorID, userID string) error {
	if actorID != userID {
		if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
			return err
		}
	}
	if err := s.repo.RemoveMember(ctx, conversationID, userID); err != nil {
		return apierror.ServerError(err, "remove member")
	}
	if actorID == userID {
		s.announce(ctx, conversationID, actorID, "left the conversation")
	} else {
		s.announce(ctx, conversationID, actorID, fmt.Sprintf("removed %s from the conversation", userID))
	}
	s.emit(ctx, event.MemberRemoved, conversationID, map[string]string{
		"conversation_id": conversationID,
		"user_id":         userID,
	})
	return nil
}

// IsMember reports whether userID belongs to conversationID.
func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	ok, err := s.repo.IsMember(ctx, conversationID, userID)
	if err != nil {
		return false, apierror.ServerError(err, "check membership")
	}
	return ok, nil
}

// RequireMember returns PermissionDenied unless userID is a member of conversationID. Required
// before any read, send, or edit.
func (s *Store) RequireMember(ctx context.Context, conversationID, userID string) error {
	ok, err := s.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.PermissionDenied("not a member of this conversation")
	}
	return nil
}

func (s *Store) requireAdmin(ctx context.Context, conversationID, userID string) error {
	isAdmin, err := s.repo.IsAdmin(ctx, conversationID, userID)
	if err != nil {
		return apierror.ServerError(err, "check admin status")
	}
	if !isAdmin {
		return apierror.PermissionDenied("admin privileges required")
	}
	return nil
}

// ListMemberIDs returns every member id of a conversation, used by MessageIngest to fan out
// MessageStatus rows on Send.
func (s *Store) ListMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	members, err := s.repo.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, apierror.ServerError(err, "list member ids")
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids, nil
}

// IsDM reports whether conversationID is a DM and, if so, the id of the participant other than
// senderID, used by MessageIngest to enforce the DM block check.
func (s *Store) IsDM(ctx context.Context, conversationID, senderID string) (bool, string, error) {
	c, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return false, "", apierror.ServerError(err, "get conversation")
	}
	if c.Type != TypeDM {
		return false, "", nil
	}
	members, err := s.repo.ListMembers(ctx, conversationID)
	if err != nil {
		return false, "", apierror.ServerError(err, "list dm members")
	}
	for _, m := range members {
		if m.UserID != senderID {
			return true, m.UserID, nil
		}
	}
	return true, "", nil
}

// MarkRead advances the caller's read cursor on a conversation.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) error {
	if err := s.RequireMember(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.repo.UpdateLastReadAt(ctx, conversationID, userID, time.Now()); err != nil {
		return apierror.ServerError(err, "mark conversation read")
	}
	return nil
}

// List returns every conversation userID belongs to.
func (s *Store) List(ctx context.Context, userID string) ([]Conversation, error) {
	convs, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apierror.ServerError(err, "list conversations")
	}
	return convs, nil
}

// Get returns a conversation by id, requiring the caller to already be a member.
func (s *Store) Get(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	if err := s.RequireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	c, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		if err == ErrNotFound {
			return nil, apierror.NotFound("conversation not found")
		}
		return nil, apierror.ServerError(err, "get conversation")
	}
	return c, nil
}

// Search returns conversations userID belongs to ranked against query.
func (s *Store) Search(ctx context.Context, userID, query string) ([]SearchResult, error) {
	results, err := s.repo.Search(ctx, userID, query)
	if err != nil {
		return nil, apierror.ServerError(err, "search conversations")
	}
	return results, nil
}

package status

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/event"
)

// MembershipChecker is the subset of ConversationStore StatusMachine needs.
type MembershipChecker interface {
	RequireMember(ctx context.Context, conversationID, userID string) error
}

// ReadCursorAdvancer advances a member's last_read_at, used by MarkRead.
type ReadCursorAdvancer interface {
	UpdateLastReadAt(ctx context.Context, conversationID, userID string, at time.Time) error
}

// Machine is the StatusMachine component.
type Machine struct {
	repo      Repository
	members   MembershipChecker
	cursor    ReadCursorAdvancer
	publisher event.Publisher
	log       zerolog.Logger
}

// NewMachine builds a StatusMachine.
func NewMachine(repo Repository, members MembershipChecker, cursor ReadCursorAdvancer, publisher event.Publisher, logger zerolog.Logger) *Machine {
	return &Machine{repo: repo, members: members, cursor: cursor, publisher: publisher, log: logger}
}

// MarkDelivered transitions SENT messages to DELIVERED for userID and emits one bulk
// messages_delivered event carrying the count, never one event per message.
func (m *Machine) MarkDelivered(ctx context.Context, conversationID, userID string, messageIDs []string) (*DeliveryResult, error) {
	if err := m.members.RequireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	ids, err := m.repo.MarkDelivered(ctx, conversationID, userID, messageIDs)
	if err != nil {
		return nil, apierror.ServerError(err, "mark messages delivered")
	}
	result := &DeliveryResult{MessageIDs: ids, Count: len(ids)}
	if result.Count > 0 {
		m.emit(ctx, conversationID, event.MessagesDelivered, map[string]any{
			"user_id": userID, "count": result.Count, "message_ids": ids,
		})
	}
	return result, nil
}

// MarkRead transitions the listed messages to READ for userID, advances the caller's read cursor
// to the max created_at among the affected messages, and emits one message_status event carrying
// every transitioned id.
func (m *Machine) MarkRead(ctx context.Context, conversationID, userID string, messageIDs []string) (*DeliveryResult, error) {
	if err := m.members.RequireMember(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	ids, err := m.repo.MarkRead(ctx, conversationID, userID, messageIDs)
	if err != nil {
		return nil, apierror.ServerError(err, "mark messages read")
	}
	if len(ids) > 0 {
		maxAt, err := m.repo.MaxCreatedAt(ctx, ids)
		if err != nil {
			return nil, apierror.ServerError(err, "compute max created_at")
		}
		if m.cursor != nil && !maxAt.IsZero() {
			if err := m.cursor.UpdateLastReadAt(ctx, conversationID, userID, maxAt); err != nil {
				return nil, apierror.ServerError(err, "advance read cursor")
			}
		}
	}
	result := &DeliveryResult{MessageIDs: ids, Count: len(ids)}
	if result.Count > 0 {
		m.emit(ctx, conversationID, event.MessageStatus, map[string]any{
			"user_id": userID, "status": StatusRead, "message_ids": ids,
		})
	}
	return result, nil
}

// UnreadCount returns the caller's on-demand unread count for a conversation.
func (m *Machine) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	if err := m.members.RequireMember(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	count, err := m.repo.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return 0, apierror.ServerError(err, "compute unread count")
	}
	return count, nil
}

func (m *Machine) emit(ctx context.Context, conversationID, eventType string, payload any) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event.New(eventType, conversationID, payload)); err != nil {
		m.log.Warn().Err(err).Str("event", eventType).Str("conversation_id", conversationID).Msg("failed to publish event")
	}
}

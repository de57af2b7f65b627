// Package event defines the EventEnvelope: the canonical on-wire shape every broadcast
// event takes, and the Publisher contract MessageIngest/StatusMachine/ConversationStore hand off
// to after a committed write.
package event

import (
	"context"
	"fmt"
	"time"
)

// Event names.
const (
	NewMessage         = "new_message"
	MessageEdited      = "message_edited"
	MessageDeleted     = "message_deleted"
	MessageStatus      = "message_status"
	MessagesDelivered  = "messages_delivered"
	ReactionAdded      = "reaction_added"
	ReactionRemoved    = "reaction_removed"
	TypingStart        = "typing_start"
	TypingStop         = "typing_stop"
	UserOnline         = "user_online"
	UserOffline        = "user_offline"
	ConversationUpdate = "conversation_updated"
	MemberAdded        = "member_added"
	MemberRemoved      = "member_removed"
)

// Envelope is the canonical shape for every broadcast event.
type Envelope struct {
	Event      string `json:"event"`
	Room       string `json:"room"`
	Payload    any    `json:"payload"`
	ServerTime string `json:"server_time"`
}

// Room builds the "conversation:<id>" room name an event is broadcast to.
func Room(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// New builds an Envelope stamped with the current server time for clock-skew correction.
func New(eventType, conversationID string, payload any) Envelope {
	return Envelope{
		Event:      eventType,
		Room:       Room(conversationID),
		Payload:    payload,
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	}
}

// Publisher broadcasts an already-committed event to every subscriber of the envelope's room.
// MessageIngest, StatusMachine, and ConversationStore call this only after the write that
// produced the event has committed, so a subscriber never sees an event for a row that was
// rolled back.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

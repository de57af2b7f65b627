// Package gateway implements FanOut: the real-time WebSocket connection manager. Rooms are
// named "conversation:<id>" (see event.Room) so the room-key scheme is identical end to end between
// this package and internal/event's pub/sub envelopes.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/aio-zber/tms-server/internal/event"
)

// Client op names, sent by the browser/app over an established WebSocket.
const (
	opJoinConversation  = "join_conversation"
	opLeaveConversation = "leave_conversation"
	opTypingStart       = "typing_start"
	opTypingStop        = "typing_stop"
	opPing              = "ping"
)

// Server op names.
const (
	opRoomsJoined = "rooms_joined"
	opPong        = "pong"
	opDispatch    = "dispatch"
	opError       = "error"
)

// ClientFrame is the wire shape of every inbound message.
type ClientFrame struct {
	Op             string `json:"op"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// roomsJoinedFrame confirms which rooms a session currently holds.
type roomsJoinedFrame struct {
	Op    string   `json:"op"`
	Rooms []string `json:"rooms"`
}

func newRoomsJoinedFrame(rooms []string) ([]byte, error) {
	data, err := json.Marshal(roomsJoinedFrame{Op: opRoomsJoined, Rooms: rooms})
	if err != nil {
		return nil, fmt.Errorf("marshal rooms_joined frame: %w", err)
	}
	return data, nil
}

func newPongFrame() ([]byte, error) {
	data, err := json.Marshal(struct {
		Op string `json:"op"`
	}{Op: opPong})
	if err != nil {
		return nil, fmt.Errorf("marshal pong frame: %w", err)
	}
	return data, nil
}

// errorFrame reports a rejected client frame without closing the connection (e.g. join of a
// conversation the caller does not belong to).
type errorFrame struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

func newErrorFrame(message string) ([]byte, error) {
	data, err := json.Marshal(errorFrame{Op: opError, Message: message})
	if err != nil {
		return nil, fmt.Errorf("marshal error frame: %w", err)
	}
	return data, nil
}

// dispatchFrame wraps an EventEnvelope with the op discriminator clients use to tell a
// pushed event apart from a control frame.
type dispatchFrame struct {
	Op string `json:"op"`
	event.Envelope
}

func newDispatchFrame(env event.Envelope) ([]byte, error) {
	data, err := json.Marshal(dispatchFrame{Op: opDispatch, Envelope: env})
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch frame: %w", err)
	}
	return data, nil
}

// isTypingEvent reports whether an event is subject to the drop-first backpressure policy.
func isTypingEvent(eventType string) bool {
	return eventType == event.TypingStart || eventType == event.TypingStop
}

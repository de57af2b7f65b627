package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fasthttp/websocket"

	"github.com/aio-zber/tms-server/internal/event"
)

// readPump reads client frames off the WebSocket connection and routes them by op. It owns closing
// the connection: whatever causes the loop to exit, this is the single place that unregisters the
// session and releases the transport.
func (s *Session) readPump() {
	defer func() {
		s.fanOut.unregister(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.closeWithCode(CloseDecodeError, "invalid JSON")
			return
		}

		switch frame.Op {
		case opPing:
			_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
			if pong, pErr := newPongFrame(); pErr == nil {
				s.enqueue(pong, "")
			}
		case opJoinConversation:
			if frame.ConversationID == "" {
				s.closeWithCode(CloseDecodeError, "conversation_id required")
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.fanOut.Join(ctx, s, frame.ConversationID)
			cancel()
		case opLeaveConversation:
			if frame.ConversationID == "" {
				s.closeWithCode(CloseDecodeError, "conversation_id required")
				return
			}
			s.fanOut.Leave(s, frame.ConversationID)
		case opTypingStart:
			s.relayTyping(frame.ConversationID, event.TypingStart)
		case opTypingStop:
			s.relayTyping(frame.ConversationID, event.TypingStop)
		default:
			s.closeWithCode(CloseUnknownOpcode, "unknown op")
			return
		}
	}
}

// relayTyping broadcasts a typing indicator to the room if the session has actually joined it.
// Typing events carry no persistence and no retry: a failed publish is simply dropped.
func (s *Session) relayTyping(conversationID, eventType string) {
	if conversationID == "" {
		return
	}
	room := event.Room(conversationID)
	if !s.hasJoined(room) {
		return
	}
	s.fanOut.Broadcast(event.New(eventType, conversationID, map[string]string{
		"conversation_id": conversationID,
		"user_id":         s.userID,
	}))
}

// writePump drains the session's send channel and its coalesced typing slot to the connection. It
// exits when done is closed, draining whatever is already buffered first so a client sees every
// frame enqueued before shutdown.
func (s *Session) writePump() {
	for {
		select {
		case msg := <-s.send:
			if !s.write(msg) {
				return
			}
		case <-s.typingSig:
			if msg, ok := s.takeTyping(); ok {
				if !s.write(msg) {
					return
				}
			}
		case <-s.done:
			for {
				select {
				case msg := <-s.send:
					if !s.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Session) write(msg []byte) bool {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, msg) == nil
}

package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket frame.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pingInterval is how often a well-behaved client is expected to send a ping.
	pingInterval = 30 * time.Second

	// readWait is the read deadline: two missed ping intervals time out the connection, the
	// simplest implementation of "a session that misses two consecutive pings is closed" that does
	// not require a separate missed-ping counter goroutine.
	readWait = 2 * pingInterval

	// sendBufferSize bounds how many non-typing dispatch frames may queue per session before the
	// session is considered a slow consumer.
	sendBufferSize = 256
)

// wsConn is the subset of *websocket.Conn the gateway depends on, narrowed so tests can substitute
// a fake transport.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Session represents a single authenticated WebSocket connection. Each session runs two goroutines
// (readPump and writePump); state shared between them is protected by mu.
type Session struct {
	id     string
	userID string
	fanOut *FanOut
	conn   wsConn
	log    zerolog.Logger

	send chan []byte

	// typingSlot coalesces pending typing events into a single overwritable slot instead of the
	// bounded send channel, so a burst of keystrokes can never itself exhaust the backpressure
	// buffer.
	typingMu   sync.Mutex
	typingSlot []byte
	typingSig  chan struct{}

	// done is closed exactly once to signal shutdown; readPump, writePump, and enqueue all select
	// on it to avoid a send-on-closed-channel panic when unregister races with dispatch.
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	rooms map[string]struct{}
}

func newSession(fanOut *FanOut, conn wsConn, userID string, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		userID:    userID,
		fanOut:    fanOut,
		conn:      conn,
		log:       logger.With().Str("session_id", id).Logger(),
		send:      make(chan []byte, sendBufferSize),
		typingSig: make(chan struct{}, 1),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
}

func (s *Session) closeSend() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) joinedRooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (s *Session) hasJoined(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

func (s *Session) addRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room] = struct{}{}
}

func (s *Session) removeRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
}

// enqueue delivers a dispatch or control frame to the session's write pump. Typing events coalesce
// into a single overwritable slot; everything else goes through the bounded channel. A full channel
// means the session is a slow consumer and is dropped with an explicit close code.
func (s *Session) enqueue(msg []byte, eventType string) {
	select {
	case <-s.done:
		return
	default:
	}

	if isTypingEvent(eventType) {
		s.typingMu.Lock()
		s.typingSlot = msg
		s.typingMu.Unlock()
		select {
		case s.typingSig <- struct{}{}:
		default:
		}
		return
	}

	select {
	case s.send <- msg:
	case <-s.done:
	default:
		s.log.Warn().Str("user_id", s.userID).Msg("session send buffer full, dropping slow consumer")
		s.closeWithCode(CloseSlowConsumer, "slow consumer")
	}
}

func (s *Session) takeTyping() ([]byte, bool) {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	if s.typingSlot == nil {
		return nil, false
	}
	msg := s.typingSlot
	s.typingSlot = nil
	return msg, true
}

// closeWithCode sends a WebSocket close frame and tears down the connection, unblocking readPump's
// in-flight ReadMessage immediately rather than waiting for the next read deadline.
func (s *Session) closeWithCode(code int, reason string) {
	s.closeSend()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = s.conn.Close()
}

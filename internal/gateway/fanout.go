package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/event"
	"github.com/aio-zber/tms-server/internal/metrics"
	"github.com/aio-zber/tms-server/internal/presence"
)

// MembershipChecker verifies that a user belongs to a conversation before admitting a session's
// join_conversation request to the corresponding room.
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
}

// FanOut is the ConnectionManager component: it holds every live session, the room
// membership index, and fans out events published on internal/event's shared channel to whichever
// sessions are local to this process.
type FanOut struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session // room -> session id -> session
	byID  map[string]*Session

	maxConnections int
	members        MembershipChecker
	presence       *presence.Store
	publisher      event.Publisher
	log            zerolog.Logger
}

// NewFanOut builds a FanOut. maxConnections <= 0 means unbounded.
func NewFanOut(members MembershipChecker, presenceStore *presence.Store, publisher event.Publisher, maxConnections int, logger zerolog.Logger) *FanOut {
	return &FanOut{
		rooms:          make(map[string]map[string]*Session),
		byID:           make(map[string]*Session),
		maxConnections: maxConnections,
		members:        members,
		presence:       presenceStore,
		publisher:      publisher,
		log:            logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWebSocket runs a single upgraded connection's lifecycle to completion. userID is the
// Principal already authenticated by AuthGate before the upgrade — FanOut accepts no
// application frame before a session is registered.
func (f *FanOut) ServeWebSocket(conn *websocket.Conn, userID string) {
	session := newSession(f, conn, userID, f.log)

	if err := f.register(session); err != nil {
		f.log.Debug().Err(err).Str("user_id", userID).Msg("connection rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseMaxConnections, "too many connections"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go session.writePump()
	session.readPump()
}

func (f *FanOut) register(s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxConnections > 0 && len(f.byID) >= f.maxConnections {
		return ErrMaxConnections
	}
	f.byID[s.id] = s
	metrics.WSSessionsActive.Inc()
	return nil
}

// unregister removes a session from every room it had joined and tears down presence for any room
// whose last session for this user just left.
func (f *FanOut) unregister(s *Session) {
	f.mu.Lock()
	rooms := s.joinedRooms()
	for _, room := range rooms {
		if members, ok := f.rooms[room]; ok {
			delete(members, s.id)
			if len(members) == 0 {
				delete(f.rooms, room)
			}
		}
	}
	delete(f.byID, s.id)
	f.mu.Unlock()
	metrics.WSSessionsActive.Dec()

	s.closeSend()

	for _, room := range rooms {
		f.leavePresence(room, s.userID)
	}
}

// Join admits a session to conversationID after checking membership, and replies with the
// session's full rooms_joined set.
func (f *FanOut) Join(ctx context.Context, s *Session, conversationID string) {
	isMember, err := f.members.IsMember(ctx, conversationID, s.userID)
	if err != nil {
		f.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("membership check failed")
		if frame, fErr := newErrorFrame("could not verify membership"); fErr == nil {
			s.enqueue(frame, "")
		}
		return
	}
	if !isMember {
		if frame, fErr := newErrorFrame("not a member of this conversation"); fErr == nil {
			s.enqueue(frame, "")
		}
		return
	}

	room := event.Room(conversationID)

	f.mu.Lock()
	if f.rooms[room] == nil {
		f.rooms[room] = make(map[string]*Session)
	}
	// The room map entry must exist in this same critical section the broadcast path reads from,
	// never under a differently-keyed namespace abstraction.
	f.rooms[room][s.id] = s
	f.mu.Unlock()

	s.addRoom(room)

	f.joinPresence(room, s.userID)

	if frame, fErr := newRoomsJoinedFrame(s.joinedRooms()); fErr == nil {
		s.enqueue(frame, "")
	}
}

// Leave removes a session from a room without affecting its other rooms.
func (f *FanOut) Leave(s *Session, conversationID string) {
	room := event.Room(conversationID)

	f.mu.Lock()
	if members, ok := f.rooms[room]; ok {
		delete(members, s.id)
		if len(members) == 0 {
			delete(f.rooms, room)
		}
	}
	f.mu.Unlock()

	s.removeRoom(room)
	f.leavePresence(room, s.userID)

	if frame, fErr := newRoomsJoinedFrame(s.joinedRooms()); fErr == nil {
		s.enqueue(frame, "")
	}
}

func (f *FanOut) joinPresence(room, userID string) {
	if f.presence == nil {
		return
	}
	first, err := f.presence.Join(context.Background(), presenceKey(room, userID))
	if err != nil {
		f.log.Warn().Err(err).Str("user_id", userID).Msg("failed to record presence join")
		return
	}
	if first {
		f.Broadcast(event.New(event.UserOnline, conversationIDFromRoom(room), map[string]string{"user_id": userID}))
	}
}

func (f *FanOut) leavePresence(room, userID string) {
	if f.presence == nil {
		return
	}
	last, err := f.presence.Leave(context.Background(), presenceKey(room, userID))
	if err != nil {
		f.log.Warn().Err(err).Str("user_id", userID).Msg("failed to record presence leave")
		return
	}
	if last {
		f.Broadcast(event.New(event.UserOffline, conversationIDFromRoom(room), map[string]string{"user_id": userID}))
	}
}

func presenceKey(room, userID string) string { return room + "|" + userID }

func conversationIDFromRoom(room string) string {
	const prefix = "conversation:"
	if len(room) > len(prefix) {
		return room[len(prefix):]
	}
	return room
}

// Broadcast publishes env so every gateway process fans it out to its local sessions in env.Room.
// Components (MessageIngest, StatusMachine, ConversationStore) should call event.Publisher
// directly; FanOut uses this only for presence and typing events it originates itself.
func (f *FanOut) Broadcast(env event.Envelope) {
	if f.publisher == nil {
		f.dispatchLocal(env)
		return
	}
	if err := f.publisher.Publish(context.Background(), env); err != nil {
		f.log.Warn().Err(err).Str("event", env.Event).Msg("failed to publish event")
	}
}

// dispatchLocal delivers env to every session in env.Room that is local to this process. It never
// blocks: each session's enqueue is itself non-blocking, and events enqueued by a single producer
// are delivered to each session of a room in emission order, since dispatchLocal iterates the
// room's current membership under a single read lock.
func (f *FanOut) dispatchLocal(env event.Envelope) {
	frame, err := newDispatchFrame(env)
	if err != nil {
		f.log.Warn().Err(err).Str("event", env.Event).Msg("failed to marshal dispatch frame")
		return
	}

	f.mu.RLock()
	members := f.rooms[env.Room]
	targets := make([]*Session, 0, len(members))
	for _, s := range members {
		targets = append(targets, s)
	}
	f.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(frame, env.Event)
	}
}

// Run subscribes to internal/event's shared Valkey channel and dispatches every received envelope
// to this process's local sessions. It blocks until ctx is cancelled or the subscription fails.
func (f *FanOut) Run(ctx context.Context, sub *redis.PubSub) error {
	ch := sub.Channel()
	f.log.Info().Msg("gateway fan-out subscribed to event channel")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env event.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				f.log.Warn().Err(err).Msg("invalid event envelope on pub/sub channel")
				continue
			}
			f.dispatchLocal(env)
		}
	}
}

// SessionCount returns the number of currently registered sessions, for readiness/metrics.
func (f *FanOut) SessionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byID)
}

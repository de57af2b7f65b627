package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/apierror"
	"github.com/aio-zber/tms-server/internal/event"
)

type fakeRepo struct {
	messages map[string]*Message
	hidden   map[string]map[string]bool
	reacted  map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		messages: map[string]*Message{},
		hidden:   map[string]map[string]bool{},
		reacted:  map[string]bool{},
	}
}

func (f *fakeRepo) Send(ctx context.Context, params SendParams, otherMemberIDs []string, linkObjectKey func(ctx context.Context, messageID string) error) (*Message, error) {
	id := uuid.NewString()
	content := params.Content
	m := &Message{
		ID: id, ConversationID: params.ConversationID, SenderID: params.SenderID,
		Content: &content, Type: params.Type, Metadata: params.Metadata, ReplyToID: params.ReplyToID,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if linkObjectKey != nil {
		if err := linkObjectKey(ctx, id); err != nil {
			return nil, err
		}
	}
	f.messages[id] = m
	return m, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (f *fakeRepo) List(ctx context.Context, conversationID, viewerID string, before *string, limit int) ([]Message, error) {
	var out []Message
	for _, m := range f.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if f.hidden[viewerID][m.ID] {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (f *fakeRepo) Edit(ctx context.Context, id, newContent string) (*Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.Content = &newContent
	m.IsEdited = true
	m.UpdatedAt = time.Now()
	return m, nil
}

func (f *fakeRepo) HideForSelf(ctx context.Context, messageID, userID string) error {
	if f.hidden[userID] == nil {
		f.hidden[userID] = map[string]bool{}
	}
	f.hidden[userID][messageID] = true
	return nil
}

func (f *fakeRepo) DeleteForEveryone(ctx context.Context, id string) (*Message, error) {
	m, ok := f.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now()
	m.Content = nil
	m.DeletedAt = &now
	return m, nil
}

func (f *fakeRepo) InsertSystemMessage(ctx context.Context, conversationID, actorID, content string) (*Message, error) {
	id := uuid.NewString()
	m := &Message{ID: id, ConversationID: conversationID, SenderID: actorID, Content: &content, Type: TypeSystem, CreatedAt: time.Now()}
	f.messages[id] = m
	return m, nil
}

func (f *fakeRepo) React(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	key := messageID + ":" + userID + ":" + emoji
	if f.reacted[key] {
		return false, nil
	}
	f.reacted[key] = true
	return true, nil
}

func (f *fakeRepo) Unreact(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	key := messageID + ":" + userID + ":" + emoji
	if !f.reacted[key] {
		return false, nil
	}
	delete(f.reacted, key)
	return true, nil
}

type fakeMembers struct {
	members map[string]map[string]bool // conversationID -> userID -> isMember
	dm      map[string]string          // conversationID -> counterpart lookup base (2nd user)
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{members: map[string]map[string]bool{}, dm: map[string]string{}}
}

func (f *fakeMembers) addMember(conversationID, userID string) {
	if f.members[conversationID] == nil {
		f.members[conversationID] = map[string]bool{}
	}
	f.members[conversationID][userID] = true
}

func (f *fakeMembers) RequireMember(ctx context.Context, conversationID, userID string) error {
	if !f.members[conversationID][userID] {
		return apierror.PermissionDenied("not a member")
	}
	return nil
}

func (f *fakeMembers) ListMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	for uid := range f.members[conversationID] {
		ids = append(ids, uid)
	}
	return ids, nil
}

func (f *fakeMembers) IsDM(ctx context.Context, conversationID, senderID string) (bool, string, error) {
	counterpart, ok := f.dm[conversationID]
	if !ok {
		return false, "", nil
	}
	if counterpart == senderID {
		for uid := range f.members[conversationID] {
			if uid != senderID {
				return true, uid, nil
			}
		}
	}
	return true, counterpart, nil
}

type fakeBlock struct{ blocked map[string]bool }

func (f *fakeBlock) IsBlocked(ctx context.Context, blocker, blocked string) (bool, error) {
	return f.blocked[blocker+":"+blocked], nil
}

type recordingPublisher struct{ events []event.Envelope }

func (p *recordingPublisher) Publish(ctx context.Context, env event.Envelope) error {
	p.events = append(p.events, env)
	return nil
}

func kindOf(t *testing.T, err error) apierror.Kind {
	t.Helper()
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not an *apierror.Error", err)
	}
	return apiErr.Kind
}

func TestSendRequiresMembership(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	_, err := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})
	if err == nil {
		t.Fatal("Send() expected error for non-member")
	}
	if kindOf(t, err) != apierror.KindPermissionDenied {
		t.Errorf("kind = %v, want PermissionDenied", kindOf(t, err))
	}
}

func TestSendPersistsAndEmits(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	members.addMember("c1", "bob")
	pub := &recordingPublisher{}
	in := NewIngest(repo, members, nil, nil, nil, pub, zerolog.Nop())

	msg, err := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hello", Type: TypeText})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if *msg.Content != "hello" {
		t.Errorf("Content = %q, want %q", *msg.Content, "hello")
	}
	if len(pub.events) != 1 || pub.events[0].Event != event.NewMessage {
		t.Errorf("events = %+v, want one new_message event", pub.events)
	}
}

func TestSendRejectsEmptyText(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	_, err := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "   ", Type: TypeText})
	if err == nil {
		t.Fatal("Send() expected error for empty content")
	}
	if kindOf(t, err) != apierror.KindValidationError {
		t.Errorf("kind = %v, want ValidationError", kindOf(t, err))
	}
}

func TestSendRejectsImageWithoutOSSKey(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	_, err := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Type: TypeImage})
	if err == nil {
		t.Fatal("Send() expected error for IMAGE without metadata.ossKey")
	}
	if kindOf(t, err) != apierror.KindValidationError {
		t.Errorf("kind = %v, want ValidationError", kindOf(t, err))
	}
}

func TestSendBlockedByDMCounterpartRejected(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	members.addMember("c1", "bob")
	members.dm["c1"] = "bob"
	block := &fakeBlock{blocked: map[string]bool{"bob:alice": true}}
	in := NewIngest(repo, members, block, nil, nil, nil, zerolog.Nop())

	_, err := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})
	if err == nil {
		t.Fatal("Send() expected error when blocked")
	}
	if kindOf(t, err) != apierror.KindPermissionDenied {
		t.Errorf("kind = %v, want PermissionDenied", kindOf(t, err))
	}
}

func TestEditWithinWindowSucceeds(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	msg, err := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	edited, err := in.Edit(t.Context(), msg.ID, "alice", "edited content")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if *edited.Content != "edited content" || !edited.IsEdited {
		t.Errorf("edited = %+v", edited)
	}
}

func TestEditByNonAuthorRejected(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	msg, _ := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})

	_, err := in.Edit(t.Context(), msg.ID, "bob", "hacked")
	if err == nil {
		t.Fatal("Edit() by non-author expected error")
	}
	if kindOf(t, err) != apierror.KindPermissionDenied {
		t.Errorf("kind = %v, want PermissionDenied", kindOf(t, err))
	}
}

func TestEditPastWindowRejected(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	msg, _ := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})
	repo.messages[msg.ID].CreatedAt = time.Now().Add(-20 * time.Minute)

	_, err := in.Edit(t.Context(), msg.ID, "alice", "too late")
	if err == nil {
		t.Fatal("Edit() past window expected error")
	}
	if kindOf(t, err) != apierror.KindValidationError {
		t.Errorf("kind = %v, want ValidationError", kindOf(t, err))
	}
}

func TestDeleteSelfHidesOnlyForActor(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	members.addMember("c1", "bob")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	msg, _ := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})

	if err := in.Delete(t.Context(), msg.ID, "alice", ScopeSelf); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	aliceView, _ := in.List(t.Context(), "c1", "alice", nil, 10)
	bobView, _ := in.List(t.Context(), "c1", "bob", nil, 10)
	if len(aliceView) != 0 {
		t.Errorf("alice should no longer see the message, got %d", len(aliceView))
	}
	if len(bobView) != 1 {
		t.Errorf("bob should still see the message, got %d", len(bobView))
	}
}

func TestDeleteEveryoneByNonSenderRejected(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	members.addMember("c1", "bob")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	msg, _ := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})

	err := in.Delete(t.Context(), msg.ID, "bob", ScopeEveryone)
	if err == nil {
		t.Fatal("Delete(everyone) by non-sender expected error")
	}
	if kindOf(t, err) != apierror.KindPermissionDenied {
		t.Errorf("kind = %v, want PermissionDenied", kindOf(t, err))
	}
}

func TestDeleteEveryoneGeneratesSystemMessage(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	pub := &recordingPublisher{}
	in := NewIngest(repo, members, nil, nil, nil, pub, zerolog.Nop())

	msg, _ := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})

	if err := in.Delete(t.Context(), msg.ID, "alice", ScopeEveryone); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var sawSystemMessage bool
	for _, m := range repo.messages {
		if m.Type == TypeSystem {
			sawSystemMessage = true
		}
	}
	if !sawSystemMessage {
		t.Error("expected a SYSTEM message to be generated for delete-for-everyone")
	}
}

func TestReactIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	msg, _ := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})

	if _, err := in.React(t.Context(), msg.ID, "alice", "👍"); err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if _, err := in.React(t.Context(), msg.ID, "alice", "👍"); err != nil {
		t.Fatalf("React() second call error = %v", err)
	}
}

func TestUnreactRemovesReaction(t *testing.T) {
	repo := newFakeRepo()
	members := newFakeMembers()
	members.addMember("c1", "alice")
	in := NewIngest(repo, members, nil, nil, nil, nil, zerolog.Nop())

	msg, _ := in.Send(t.Context(), SendParams{ConversationID: "c1", SenderID: "alice", Content: "hi", Type: TypeText})
	in.React(t.Context(), msg.ID, "alice", "👍")

	delta, err := in.Unreact(t.Context(), msg.ID, "alice", "👍")
	if err != nil {
		t.Fatalf("Unreact() error = %v", err)
	}
	if delta.Added {
		t.Error("Unreact() delta.Added should be false")
	}
}

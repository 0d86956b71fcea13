package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"comm_core/internal/domain"
	"comm_core/internal/event"
	"comm_core/internal/presence"
	"comm_core/internal/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	name    string
	payload any
}

type fakeConn struct {
	id     string
	userID int64

	mu     sync.Mutex
	events []emitted
}

func (f *fakeConn) ID() string    { return f.id }
func (f *fakeConn) UserID() int64 { return f.userID }

func (f *fakeConn) Emit(name string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{name, payload})
}

func (f *fakeConn) received(name string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

var errStoreDown = errors.New("store down")

type memStore struct {
	mu           sync.Mutex
	nextID       int64
	messages     map[int64]*domain.Message
	participants map[int64][]int64
	failCreate   bool
}

func newMemStore(nextID int64) *memStore {
	return &memStore{
		nextID:       nextID,
		messages:     make(map[int64]*domain.Message),
		participants: make(map[int64][]int64),
	}
}

func (s *memStore) CreateMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errStoreDown
	}
	msg.ID = s.nextID
	s.nextID++
	msg.Status = domain.StatusSent
	msg.CreatedAt = time.Now().UTC()
	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

func (s *memStore) MessageByID(_ context.Context, id int64) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	cp := *msg
	return &cp, nil
}

func (s *memStore) UpdateMessageStatus(_ context.Context, id int64, status domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return errors.New("message not found")
	}
	if !msg.Status.CanAdvanceTo(status) {
		return nil
	}
	msg.Status = status
	now := time.Now().UTC()
	switch status {
	case domain.StatusDelivered:
		msg.DeliveredAt = &now
	case domain.StatusRead:
		msg.ReadAt = &now
		msg.IsRead = true
	}
	return nil
}

func (s *memStore) MarkConversationRead(_ context.Context, conversationID, readerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, msg := range s.messages {
		if msg.ConversationID != conversationID || msg.SenderID == readerID || msg.Status == domain.StatusRead {
			continue
		}
		msg.Status = domain.StatusRead
		msg.IsRead = true
		msg.ReadAt = &now
	}
	return nil
}

func (s *memStore) Participants(_ context.Context, conversationID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participants[conversationID], nil
}

func (s *memStore) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *memStore) DeleteConversation(_ context.Context, conversationID int64) error {
	return s.ClearConversation(context.Background(), conversationID)
}

func (s *memStore) ClearConversation(_ context.Context, conversationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, msg := range s.messages {
		if msg.ConversationID == conversationID {
			delete(s.messages, id)
		}
	}
	return nil
}

type fakePush struct {
	mu    sync.Mutex
	calls []int64
}

func (f *fakePush) PublishPush(_ context.Context, userID int64, _ string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return nil
}

type fixture struct {
	store    *memStore
	rooms    *router.Rooms
	registry *presence.Registry
	push     *fakePush
	coord    *Coordinator
}

func newFixture(t *testing.T, nextID int64) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(nextID),
		rooms:    router.NewRooms(),
		registry: presence.NewRegistry(),
		push:     &fakePush{},
	}
	f.coord = NewCoordinator(f.store, f.rooms, f.registry, f.push, nil, slog.Default())
	return f
}

func TestSendFanout(t *testing.T) {
	f := newFixture(t, 501)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{
		ConversationID: 42,
		TempID:         "t1",
		Content:        "hi",
		Type:           domain.MessageText,
	})

	acks := a.received(event.MsgSentName)
	require.Len(t, acks, 1, "sender gets exactly one ack")
	ack := acks[0].payload.(event.MsgSentAck)
	assert.Equal(t, "t1", ack.TempID)
	assert.Equal(t, int64(501), ack.MessageID)
	assert.Equal(t, domain.StatusSent, ack.Status)
	require.NotNil(t, ack.Message.Content)
	assert.Equal(t, "hi", *ack.Message.Content)

	assert.Empty(t, a.received(event.NewMessageName), "sender already has the message via the ack")
	require.Len(t, b.received(event.NewMessageName), 1)
	require.Len(t, b.received(event.NewMessageNotificationName), 1, "notification is independent of room membership")
	assert.Empty(t, f.push.calls, "online participants never hit the push path")
}

func TestSendNotifiesParticipantOutsideRoom(t *testing.T) {
	f := newFixture(t, 1)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	// b is online but elsewhere: not joined to conversation 42.
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{ConversationID: 42, TempID: "t", Content: "x"})

	assert.Empty(t, b.received(event.NewMessageName))
	assert.Len(t, b.received(event.NewMessageNotificationName), 1)
}

func TestSendOfflineParticipantGoesToPush(t *testing.T) {
	f := newFixture(t, 1)
	a := &fakeConn{id: "a", userID: 1}
	f.registry.Register(a)
	f.rooms.Join(a, 42)
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{ConversationID: 42, TempID: "t", Content: "x"})

	assert.Equal(t, []int64{2}, f.push.calls)
}

func TestSendPersistFailureErrorAck(t *testing.T) {
	f := newFixture(t, 1)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2}
	f.store.failCreate = true

	f.coord.Send(context.Background(), a, event.MsgSend{ConversationID: 42, TempID: "t9", Content: "x"})

	errs := a.received(event.MsgErrorName)
	require.Len(t, errs, 1)
	assert.Equal(t, "t9", errs[0].payload.(event.MsgErrorAck).TempID)
	assert.Empty(t, a.received(event.MsgSentName))
	assert.Empty(t, b.received(event.NewMessageName), "nothing is broadcast on failure")
	assert.Empty(t, b.received(event.NewMessageNotificationName))
}

func TestSendFromUserFanout(t *testing.T) {
	f := newFixture(t, 701)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2, 3}

	msg, err := f.coord.SendFromUser(context.Background(), 1, event.MsgSend{
		ConversationID: 42,
		Content:        "/uploads/doc.pdf",
		Type:           domain.MessageFile,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(701), msg.ID)
	require.NotNil(t, msg.FileURL)
	assert.Equal(t, "/uploads/doc.pdf", *msg.FileURL)

	// No socket sent the message, so nobody is excluded from the room.
	require.Len(t, a.received(event.NewMessageName), 1)
	require.Len(t, b.received(event.NewMessageName), 1)

	assert.Empty(t, a.received(event.MsgSentName), "no correlation ack on the request path")
	assert.Empty(t, a.received(event.NewMessageNotificationName), "sender is never notified")
	require.Len(t, b.received(event.NewMessageNotificationName), 1)
	assert.Equal(t, []int64{3}, f.push.calls, "offline participant falls back to push")
}

func TestSendFromUserPersistFailure(t *testing.T) {
	f := newFixture(t, 1)
	a := &fakeConn{id: "a", userID: 1}
	f.registry.Register(a)
	f.rooms.Join(a, 42)
	f.store.participants[42] = []int64{1, 2}
	f.store.failCreate = true

	msg, err := f.coord.SendFromUser(context.Background(), 1, event.MsgSend{ConversationID: 42, Content: "x"})

	require.ErrorIs(t, err, errStoreDown)
	assert.Nil(t, msg)
	assert.Empty(t, a.received(event.NewMessageName), "nothing is broadcast on failure")
	assert.Empty(t, f.push.calls)
}

func TestSendFileMessageStoresURLNotContent(t *testing.T) {
	f := newFixture(t, 1)
	a := &fakeConn{id: "a", userID: 1}
	f.registry.Register(a)

	// Clients sending uploads put the URL in content.
	f.coord.Send(context.Background(), a, event.MsgSend{
		ConversationID: 42,
		TempID:         "t",
		Content:        "/uploads/photo.png",
		Type:           domain.MessageImage,
	})

	ack := a.received(event.MsgSentName)[0].payload.(event.MsgSentAck)
	require.NotNil(t, ack.Message.FileURL)
	assert.Equal(t, "/uploads/photo.png", *ack.Message.FileURL)
	assert.Nil(t, ack.Message.Content)
}

func TestDeliveredBroadcastsToWholeRoom(t *testing.T) {
	f := newFixture(t, 10)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{ConversationID: 42, TempID: "t", Content: "x"})
	f.coord.Delivered(context.Background(), event.MsgDelivered{MessageID: 10, ConversationID: 42})

	for _, c := range []*fakeConn{a, b} {
		updates := c.received(event.MsgStatusUpdateName)
		require.Len(t, updates, 1, "sender also learns of the transition")
		up := updates[0].payload.(event.StatusUpdate)
		assert.Equal(t, domain.StatusDelivered, up.Status)
		assert.Equal(t, int64(10), up.MessageID)
	}

	msg, err := f.store.MessageByID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, msg.Status)
	assert.NotNil(t, msg.DeliveredAt)
}

func TestDeliveredOnReadMessageIsNoOp(t *testing.T) {
	f := newFixture(t, 10)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{ConversationID: 42, TempID: "t", Content: "x"})
	f.coord.Seen(context.Background(), 2, event.MsgSeen{ConversationID: 42, LastSeenMessageID: 10})

	// A late delivered signal must not regress status or emit anything.
	f.coord.Delivered(context.Background(), event.MsgDelivered{MessageID: 10, ConversationID: 42})

	msg, err := f.store.MessageByID(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
	assert.Empty(t, a.received(event.MsgStatusUpdateName))
}

func TestSeenMarksOnlyOtherSendersMessages(t *testing.T) {
	f := newFixture(t, 100)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{ConversationID: 42, TempID: "t1", Content: "from a"}) // id 100
	f.coord.Send(context.Background(), b, event.MsgSend{ConversationID: 42, TempID: "t2", Content: "from b"}) // id 101

	f.coord.Seen(context.Background(), 2, event.MsgSeen{ConversationID: 42, LastSeenMessageID: 100})

	fromA, err := f.store.MessageByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, fromA.Status)
	assert.True(t, fromA.IsRead)

	fromB, err := f.store.MessageByID(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, fromB.Status, "the reader's own messages are untouched")

	updates := a.received(event.MsgSeenUpdateName)
	require.Len(t, updates, 1)
	up := updates[0].payload.(event.SeenUpdate)
	assert.Equal(t, int64(2), up.ReaderID)
	assert.Equal(t, int64(100), up.LastSeenMessageID)
}

func TestDeleteMessageAuthorization(t *testing.T) {
	f := newFixture(t, 7)
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{ConversationID: 42, TempID: "t", Content: "x"})

	err := f.coord.DeleteMessage(context.Background(), 2, 7)
	require.ErrorIs(t, err, ErrNotSender)
	_, err = f.store.MessageByID(context.Background(), 7)
	require.NoError(t, err, "refused delete mutates nothing")
	assert.Empty(t, b.received(event.MessageDeletedName))

	err = f.coord.DeleteMessage(context.Background(), 1, 7)
	require.NoError(t, err)
	_, err = f.store.MessageByID(context.Background(), 7)
	require.Error(t, err)
	require.Len(t, b.received(event.MessageDeletedName), 1)
	require.Len(t, a.received(event.MessageDeletedName), 1)
}

func TestRemoveAndClearConversationBroadcasts(t *testing.T) {
	f := newFixture(t, 1)
	a := &fakeConn{id: "a", userID: 1}
	f.registry.Register(a)
	f.rooms.Join(a, 42)

	require.NoError(t, f.coord.RemoveConversation(context.Background(), 42))
	removed := a.received(event.ConversationRemovedName)
	require.Len(t, removed, 1)
	assert.Equal(t, int64(42), removed[0].payload.(event.ConversationRemoved).ConversationID)

	require.NoError(t, f.coord.ClearConversation(context.Background(), 42))
	assert.Len(t, a.received(event.ConversationClearedName), 1)
}

// TestEndToEndScenario walks the A/B exchange from the acceptance scenario:
// send, ack, room broadcast, user notification, delivered, seen.
func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, 501)
	a := &fakeConn{id: "conn-a", userID: 1}
	b := &fakeConn{id: "conn-b", userID: 2}
	f.registry.Register(a)
	f.registry.Register(b)
	f.rooms.Join(a, 42)
	f.rooms.Join(b, 42)
	f.store.participants[42] = []int64{1, 2}

	f.coord.Send(context.Background(), a, event.MsgSend{
		ConversationID: 42, TempID: "t1", Content: "hi", Type: domain.MessageText,
	})

	ack := a.received(event.MsgSentName)[0].payload.(event.MsgSentAck)
	assert.Equal(t, "t1", ack.TempID)
	assert.Equal(t, int64(501), ack.MessageID)

	newMsg := b.received(event.NewMessageName)[0].payload.(*domain.Message)
	assert.Equal(t, int64(501), newMsg.ID)
	notif := b.received(event.NewMessageNotificationName)[0].payload.(*domain.Message)
	assert.Equal(t, int64(501), notif.ID)

	f.coord.Delivered(context.Background(), event.MsgDelivered{MessageID: 501, ConversationID: 42})
	for _, c := range []*fakeConn{a, b} {
		up := c.received(event.MsgStatusUpdateName)[0].payload.(event.StatusUpdate)
		assert.Equal(t, domain.StatusDelivered, up.Status)
		assert.Equal(t, int64(501), up.MessageID)
	}

	f.coord.Seen(context.Background(), 2, event.MsgSeen{ConversationID: 42, LastSeenMessageID: 501})
	up := a.received(event.MsgSeenUpdateName)[0].payload.(event.SeenUpdate)
	assert.Equal(t, int64(42), up.ConversationID)
	assert.Equal(t, int64(2), up.ReaderID)
	assert.Equal(t, int64(501), up.LastSeenMessageID)

	msg, err := f.store.MessageByID(context.Background(), 501)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, msg.Status)
}

// Package delivery orchestrates the message lifecycle: persist, acknowledge
// to the sender, fan out to the conversation room, notify the remaining
// participants, and advance the sent -> delivered -> read state machine.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"comm_core/internal/domain"
	"comm_core/internal/event"
	"comm_core/internal/presence"
	"comm_core/internal/router"
)

// ErrNotSender is returned when a delete is requested by someone other than
// the message's original sender.
var ErrNotSender = errors.New("requester is not the message sender")

// Store is the persistence surface the coordinator depends on.
type Store interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
	MessageByID(ctx context.Context, id int64) (*domain.Message, error)
	UpdateMessageStatus(ctx context.Context, id int64, status domain.MessageStatus) error
	MarkConversationRead(ctx context.Context, conversationID, readerID int64) error
	Participants(ctx context.Context, conversationID int64) ([]int64, error)
	DeleteMessage(ctx context.Context, id int64) error
	DeleteConversation(ctx context.Context, conversationID int64) error
	ClearConversation(ctx context.Context, conversationID int64) error
}

// PushPublisher receives notifications for users with no live connection.
type PushPublisher interface {
	PublishPush(ctx context.Context, userID int64, name string, payload any) error
}

// EventSink records message lifecycle events for audit/replay consumers.
type EventSink interface {
	Append(ctx context.Context, rec domain.EventRecord) error
}

type Coordinator struct {
	store    Store
	rooms    *router.Rooms
	registry *presence.Registry
	push     PushPublisher // nil disables the offline push path
	sink     EventSink     // nil disables the audit stream
	log      *slog.Logger
}

func NewCoordinator(store Store, rooms *router.Rooms, registry *presence.Registry, push PushPublisher, sink EventSink, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		rooms:    rooms,
		registry: registry,
		push:     push,
		sink:     sink,
		log:      log,
	}
}

// Send persists an inbound message and fans it out. On persistence failure
// the sender gets an error ack carrying its correlation token and nothing is
// broadcast.
func (c *Coordinator) Send(ctx context.Context, sender presence.Conn, in event.MsgSend) {
	msg := buildMessage(sender.UserID(), in)

	if err := c.store.CreateMessage(ctx, msg); err != nil {
		c.log.Error("persist message failed",
			slog.Int64("conversation_id", in.ConversationID),
			slog.Int64("sender_id", sender.UserID()),
			slog.String("err", err.Error()))
		sender.Emit(event.MsgErrorName, event.MsgErrorAck{TempID: in.TempID, Error: "Failed to send"})
		return
	}

	// Ack first so the sender reconciles its optimistic copy before any
	// room traffic referencing the real id arrives.
	sender.Emit(event.MsgSentName, event.MsgSentAck{
		TempID:    in.TempID,
		MessageID: msg.ID,
		Message:   msg,
		Status:    msg.Status,
	})

	c.fanout(ctx, msg, sender.ID())
}

// SendFromUser is the request/response entry to the same pipeline, used by
// the HTTP surface after uploads. There is no correlation ack; the returned
// message is the caller's confirmation. The room broadcast has no connection
// to exclude, so the sender's own live views hear it too.
func (c *Coordinator) SendFromUser(ctx context.Context, senderID int64, in event.MsgSend) (*domain.Message, error) {
	msg := buildMessage(senderID, in)

	if err := c.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	c.fanout(ctx, msg, "")
	return msg, nil
}

// buildMessage normalizes an inbound payload. Exactly one of content / file
// URL is stored, decided by type. File messages may arrive with the URL in
// either field.
func buildMessage(senderID int64, in event.MsgSend) *domain.Message {
	msg := &domain.Message{
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		Type:           in.Type,
	}
	if msg.Type == "" {
		msg.Type = domain.MessageText
	}
	if msg.Type.IsFileBased() {
		url := in.FileURL
		if url == "" {
			url = in.Content
		}
		msg.FileURL = &url
	} else {
		content := in.Content
		msg.Content = &content
	}
	return msg
}

// fanout broadcasts a persisted message to the conversation room and
// notifies every participant other than the sender on their user channel,
// falling back to push for the offline ones.
func (c *Coordinator) fanout(ctx context.Context, msg *domain.Message, excludeConnID string) {
	c.rooms.Broadcast(msg.ConversationID, event.NewMessageName, msg, excludeConnID)

	participants, err := c.store.Participants(ctx, msg.ConversationID)
	if err != nil {
		c.log.Error("load participants failed",
			slog.Int64("conversation_id", msg.ConversationID),
			slog.String("err", err.Error()))
	}
	for _, userID := range participants {
		if userID == msg.SenderID {
			continue
		}
		c.notifyUser(ctx, userID, event.NewMessageNotificationName, msg)
	}

	c.audit(ctx, domain.EventTypeMessageCreated, msg)
}

// notifyUser emits on the user channel when the user is online and falls
// back to the push broker otherwise.
func (c *Coordinator) notifyUser(ctx context.Context, userID int64, name string, payload any) {
	if conn, ok := c.registry.Lookup(userID); ok {
		conn.Emit(name, payload)
		return
	}
	if c.push == nil {
		return
	}
	if err := c.push.PublishPush(ctx, userID, name, payload); err != nil {
		c.log.Error("push publish failed",
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()))
	}
}

// Delivered advances a message from sent to delivered and announces the
// transition to the conversation room. Messages already delivered or read
// are left untouched.
func (c *Coordinator) Delivered(ctx context.Context, in event.MsgDelivered) {
	msg, err := c.store.MessageByID(ctx, in.MessageID)
	if err != nil {
		c.log.Error("load message failed",
			slog.Int64("message_id", in.MessageID),
			slog.String("err", err.Error()))
		return
	}
	if !msg.Status.CanAdvanceTo(domain.StatusDelivered) {
		return
	}
	if err := c.store.UpdateMessageStatus(ctx, in.MessageID, domain.StatusDelivered); err != nil {
		c.log.Error("mark delivered failed",
			slog.Int64("message_id", in.MessageID),
			slog.String("err", err.Error()))
		return
	}

	update := event.StatusUpdate{
		MessageID:      in.MessageID,
		Status:         domain.StatusDelivered,
		ConversationID: in.ConversationID,
	}
	// The whole room hears it, sender included, so the sender's other
	// views learn of the transition too.
	c.rooms.Broadcast(in.ConversationID, event.MsgStatusUpdateName, update, "")

	c.audit(ctx, domain.EventTypeMessageDelivered, update)
}

// Seen bulk-marks every message in the conversation authored by someone
// other than the reader as read, then tells the room who read up to where.
func (c *Coordinator) Seen(ctx context.Context, readerID int64, in event.MsgSeen) {
	if err := c.store.MarkConversationRead(ctx, in.ConversationID, readerID); err != nil {
		c.log.Error("mark read failed",
			slog.Int64("conversation_id", in.ConversationID),
			slog.Int64("reader_id", readerID),
			slog.String("err", err.Error()))
		return
	}

	update := event.SeenUpdate{
		ConversationID:    in.ConversationID,
		ReaderID:          readerID,
		LastSeenMessageID: in.LastSeenMessageID,
	}
	c.rooms.Broadcast(in.ConversationID, event.MsgSeenUpdateName, update, "")

	c.audit(ctx, domain.EventTypeMessageRead, update)
}

// DeleteMessage removes a single message. Only the original sender may
// delete; otherwise nothing is mutated.
func (c *Coordinator) DeleteMessage(ctx context.Context, requesterID, messageID int64) error {
	msg, err := c.store.MessageByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message %d: %w", messageID, err)
	}
	if msg.SenderID != requesterID {
		return ErrNotSender
	}
	if err := c.store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}

	c.rooms.Broadcast(msg.ConversationID, event.MessageDeletedName, event.MessageDeleted{MessageID: messageID}, "")
	c.audit(ctx, domain.EventTypeMessageDeleted, event.MessageDeleted{MessageID: messageID})
	return nil
}

// RemoveConversation deletes the conversation and tells every joined
// connection to evict it.
func (c *Coordinator) RemoveConversation(ctx context.Context, conversationID int64) error {
	if err := c.store.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %d: %w", conversationID, err)
	}
	payload := event.ConversationRemoved{ConversationID: conversationID}
	c.rooms.Broadcast(conversationID, event.ConversationRemovedName, payload, "")
	c.audit(ctx, domain.EventTypeConversationRemoved, payload)
	return nil
}

// ClearConversation deletes the conversation's messages but keeps the
// conversation itself.
func (c *Coordinator) ClearConversation(ctx context.Context, conversationID int64) error {
	if err := c.store.ClearConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("clear conversation %d: %w", conversationID, err)
	}
	c.rooms.Broadcast(conversationID, event.ConversationClearedName, struct{}{}, "")
	c.audit(ctx, domain.EventTypeConversationCleared, map[string]int64{"conversation_id": conversationID})
	return nil
}

func (c *Coordinator) audit(ctx context.Context, eventType string, payload any) {
	if c.sink == nil {
		return
	}
	rec := domain.EventRecord{
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.sink.Append(ctx, rec); err != nil {
		c.log.Error("audit append failed",
			slog.String("event_type", eventType),
			slog.String("err", err.Error()))
	}
}

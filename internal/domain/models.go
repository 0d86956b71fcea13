package domain

import "time"

type User struct {
	ID             int64     `json:"id"`
	PhoneNumber    string    `json:"phone_number"`
	Username       string    `json:"username"`
	ProfilePicture string    `json:"profile_picture"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConversationType string

const (
	ConversationIndividual ConversationType = "individual"
)

type Conversation struct {
	ID        int64            `json:"id"`
	Type      ConversationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
}

// ConversationSummary is one row of a user's conversation list: the
// conversation joined with its latest message, the other participant and the
// unread count for the requesting user.
type ConversationSummary struct {
	ID              int64            `json:"id"`
	Type            ConversationType `json:"type"`
	CreatedAt       time.Time        `json:"created_at"`
	LastMessage     *string          `json:"last_message"`
	LastMessageTime *time.Time       `json:"last_message_time"`
	LastMessageType *MessageType     `json:"last_message_type"`
	OtherUserID     int64            `json:"other_user_id"`
	OtherUsername   string           `json:"other_username"`
	OtherPhone      string           `json:"other_phone"`
	OtherAvatar     string           `json:"other_avatar"`
	UnreadCount     int              `json:"unread_count"`
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageFile  MessageType = "file"
	MessageAudio MessageType = "audio"
)

// IsFileBased reports whether the type carries its payload in FileURL
// instead of Content.
func (t MessageType) IsFileBased() bool {
	switch t {
	case MessageImage, MessageVideo, MessageFile, MessageAudio:
		return true
	}
	return false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// rank orders statuses for the monotonic sent -> delivered -> read machine.
func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving to next is a forward transition.
// Equal or backward transitions are no-ops, never errors.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.rank() > s.rank()
}

type Message struct {
	ID             int64         `json:"id"`
	ConversationID int64         `json:"conversation_id"`
	SenderID       int64         `json:"sender_id"`
	Content        *string       `json:"content"`
	Type           MessageType   `json:"type"`
	FileURL        *string       `json:"file_url"`
	Status         MessageStatus `json:"status"`
	IsRead         bool          `json:"is_read"`
	CreatedAt      time.Time     `json:"created_at"`
	DeliveredAt    *time.Time    `json:"delivered_at,omitempty"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`

	// Denormalized sender fields, populated by the joined read after insert.
	SenderName   string `json:"sender_name,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
}

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallOngoing   CallStatus = "ongoing"
	CallEnded     CallStatus = "ended"
	CallMissed    CallStatus = "missed"
)

type Call struct {
	ID         int64      `json:"id"`
	CallerID   int64      `json:"caller_id"`
	ReceiverID int64      `json:"receiver_id"`
	Status     CallStatus `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`

	CallerName     string `json:"caller_name,omitempty"`
	CallerAvatar   string `json:"caller_avatar,omitempty"`
	ReceiverName   string `json:"receiver_name,omitempty"`
	ReceiverAvatar string `json:"receiver_avatar,omitempty"`
}

// EventRecord is the envelope appended to the audit stream for message
// lifecycle events.
type EventRecord struct {
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	EventTypeMessageCreated      = "MESSAGE_CREATED"
	EventTypeMessageDelivered    = "MESSAGE_DELIVERED"
	EventTypeMessageRead         = "MESSAGE_READ"
	EventTypeMessageDeleted      = "MESSAGE_DELETED"
	EventTypeConversationRemoved = "CONVERSATION_REMOVED"
	EventTypeConversationCleared = "CONVERSATION_CLEARED"
)

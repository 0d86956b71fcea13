// Package event defines the websocket wire vocabulary: the envelope, the
// fixed set of inbound and outbound event names, and their payloads.
// Inbound handling switches exhaustively over these names; there is no
// dynamic handler registration.
package event

import (
	"encoding/json"
	"time"

	"comm_core/internal/domain"
)

// Envelope frames every message on the wire in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound event names.
const (
	ConvJoinName     = "conv:join"
	ConvLeaveName    = "conv:leave"
	MsgSendName      = "msg:send"
	MsgDeliveredName = "msg:delivered"
	MsgSeenName      = "msg:seen"
	TypingStartName  = "typing:start"
	TypingStopName   = "typing:stop"
	CallUserName     = "call_user"
	AnswerCallName   = "answer_call"
	ICECandidateName = "ice_candidate"
	EndCallName      = "end_call"
)

// Outbound event names.
const (
	UserStatusName             = "user_status"
	OnlineUsersName            = "online_users"
	NewMessageName             = "new_message"
	NewMessageNotificationName = "new_message_notification"
	MsgSentName                = "msg:sent"
	MsgErrorName               = "msg:error"
	MsgStatusUpdateName        = "msg:status_update"
	MsgSeenUpdateName          = "msg:seen_update"
	CallIncomingName           = "call_incoming"
	CallAnsweredName           = "call_answered"
	CallEndedName              = "call_ended"
	MessageDeletedName         = "message_deleted"
	ConversationRemovedName    = "conversation_removed"
	ConversationClearedName    = "conversation_cleared"
)

// Inbound payloads.

type ConvJoin struct {
	ConversationID int64 `json:"conversationId"`
}

type ConvLeave struct {
	ConversationID int64 `json:"conversationId"`
}

type MsgSend struct {
	ConversationID int64              `json:"conversationId"`
	TempID         string             `json:"tempId"`
	Content        string             `json:"content"`
	Type           domain.MessageType `json:"type"`
	FileURL        string             `json:"fileUrl"`
}

type MsgDelivered struct {
	MessageID      int64 `json:"messageId"`
	ConversationID int64 `json:"conversationId"`
}

type MsgSeen struct {
	ConversationID    int64 `json:"conversationId"`
	LastSeenMessageID int64 `json:"lastSeenMessageId"`
}

type Typing struct {
	ConversationID int64 `json:"conversationId"`
}

// CallUser carries the caller's WebRTC offer. SignalData and FromUser are
// forwarded verbatim; the relay never inspects them.
type CallUser struct {
	UserToCallID int64           `json:"userToCallId"`
	SignalData   json.RawMessage `json:"signalData"`
	FromUser     json.RawMessage `json:"fromUser"`
	CallType     string          `json:"callType"`
}

type AnswerCall struct {
	To     int64           `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type ICECandidate struct {
	Target    int64           `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

type EndCall struct {
	To int64 `json:"to"`
}

// Outbound payloads.

type UserStatus struct {
	UserID   int64      `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen"`
}

type MsgSentAck struct {
	TempID    string               `json:"tempId"`
	MessageID int64                `json:"messageId"`
	Message   *domain.Message      `json:"message"`
	Status    domain.MessageStatus `json:"status"`
}

type MsgErrorAck struct {
	TempID string `json:"tempId"`
	Error  string `json:"error"`
}

type StatusUpdate struct {
	MessageID      int64                `json:"messageId"`
	Status         domain.MessageStatus `json:"status"`
	ConversationID int64                `json:"conversationId"`
}

type SeenUpdate struct {
	ConversationID    int64 `json:"conversationId"`
	ReaderID          int64 `json:"readerId"`
	LastSeenMessageID int64 `json:"lastSeenMessageId"`
}

type TypingNotice struct {
	UserID         int64 `json:"userId"`
	ConversationID int64 `json:"conversationId"`
}

type CallIncoming struct {
	Signal   json.RawMessage `json:"signal"`
	From     json.RawMessage `json:"from"`
	CallType string          `json:"callType"`
}

type CallAnswered struct {
	Signal json.RawMessage `json:"signal"`
}

type ICEForward struct {
	Candidate json.RawMessage `json:"candidate"`
}

type MessageDeleted struct {
	MessageID int64 `json:"messageId"`
}

type ConversationRemoved struct {
	ConversationID int64 `json:"conversationId"`
}

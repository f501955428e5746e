// Package event defines the realtime wire vocabulary shared by the gateway
// and its clients. Event names are part of the client contract.
package event

import (
	"encoding/json"
	"time"

	"teamchat/internal/model"
)

// Client -> server events
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
	EventMarkMessagesRead  = "mark_messages_read"
)

// Server -> client events
const (
	EventNewMessage         = "new_message"
	EventMessageAck         = "message_ack"
	EventEmployeeTyping     = "employee_typing"
	EventAllMessagesRead    = "all_messages_read"
	EventError              = "error"
	EventConversationCreate = "conversation_created"
	EventParticipantsAdded  = "participants_added"
	EventParticipantRemoved = "participant_removed"
)

// WsEvent is the envelope every frame uses in both directions.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an envelope. Payload types in this package
// marshal without error; a failure here means a programming bug, so the
// envelope is returned with a nil payload and the caller's logger reports it.
func NewEvent(name string, payload any) (WsEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{Event: name}, err
	}
	return WsEvent{Event: name, Payload: raw}, nil
}

// JoinPayload is shared by join_conversation and leave_conversation.
type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessagePayload carries an outbound message. TempID is a client-side
// correlation id echoed back in the ack so optimistic renders can reconcile.
type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	ReceiverID     string `json:"receiver_id,omitempty"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	TempID         string `json:"temp_id,omitempty"`
}

// TypingPayload is shared by typing and stop_typing.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MarkReadPayload asks for a bulk read of a conversation.
type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

// NewMessageEvent is broadcast to the whole room, sender connections
// included, so all of a sender's devices stay in sync.
type NewMessageEvent struct {
	Message model.Message `json:"message"`
}

// MessageAckEvent goes only to the originating connection and binds the
// client temp id to the persisted message id.
type MessageAckEvent struct {
	TempID    string `json:"temp_id"`
	MessageID string `json:"message_id"`
}

// EmployeeTypingEvent is fanned to every other connection in the room.
type EmployeeTypingEvent struct {
	ConversationID string `json:"conversation_id"`
	EmployeeID     string `json:"employee_id"`
	IsTyping       bool   `json:"isTyping"`
}

// AllMessagesReadEvent is broadcast to the whole room, reader included, with
// the number of messages that transitioned to seen.
type AllMessagesReadEvent struct {
	ConversationID string    `json:"conversation_id"`
	EmployeeID     string    `json:"employee_id"`
	Timestamp      time.Time `json:"timestamp"`
	Count          int64     `json:"count"`
}

// ErrorEvent is reported back to the originating connection only, never
// broadcast.
type ErrorEvent struct {
	Message string `json:"message"`
}

// ConversationEvent notifies affected actors about conversation lifecycle
// changes triggered outside the socket (creation, roster changes).
type ConversationEvent struct {
	ConversationID string   `json:"conversation_id"`
	TaskID         string   `json:"task_id,omitempty"`
	EmployeeIDs    []string `json:"employee_ids,omitempty"`
	ByEmployeeID   string   `json:"by_employee_id,omitempty"`
}

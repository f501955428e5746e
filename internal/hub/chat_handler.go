package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"teamchat/internal/apperror"
	"teamchat/internal/event"
	"teamchat/internal/service"
)

// ChatDispatcher translates inbound frames into service calls and fans the
// results back out. Errors go to the originating connection only.
type ChatDispatcher struct {
	hub      *Hub
	messages service.MessageService
	logger   *zap.Logger
}

func NewChatDispatcher(h *Hub, messages service.MessageService, logger *zap.Logger) *ChatDispatcher {
	return &ChatDispatcher{
		hub:      h,
		messages: messages,
		logger:   logger,
	}
}

func (d *ChatDispatcher) Dispatch(ctx context.Context, ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventJoinConversation:
		d.handleJoin(ev, c)
	case event.EventLeaveConversation:
		d.handleLeave(ev, c)
	case event.EventSendMessage:
		d.handleSendMessage(ctx, ev, c)
	case event.EventTyping:
		d.handleTyping(ev, c, true)
	case event.EventStopTyping:
		d.handleTyping(ev, c, false)
	case event.EventMarkMessagesRead:
		d.handleMarkRead(ctx, ev, c)
	default:
		d.logger.Debug("unknown event",
			zap.String("event", ev.Event),
			zap.String("client_id", c.ID),
		)
		d.sendError(c, "unknown event: "+ev.Event)
	}
}

// handleJoin subscribes the connection to the room. Membership is not
// checked here: a subscription only selects which frames this connection
// receives, while every mutating call still runs its own participant check.
func (d *ChatDispatcher) handleJoin(ev event.WsEvent, c *Client) {
	var p event.JoinPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.ConversationID == "" {
		d.sendError(c, "join_conversation requires a conversation_id")
		return
	}

	d.hub.JoinRoom(c, p.ConversationID)
}

func (d *ChatDispatcher) handleLeave(ev event.WsEvent, c *Client) {
	var p event.JoinPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.ConversationID == "" {
		d.sendError(c, "leave_conversation requires a conversation_id")
		return
	}
	d.hub.LeaveRoom(c, p.ConversationID)
}

// handleSendMessage persists the message, broadcasts it to the room (sender
// connections included so every device converges), and acks the originating
// connection with the temp id binding.
func (d *ChatDispatcher) handleSendMessage(ctx context.Context, ev event.WsEvent, c *Client) {
	var p event.SendMessagePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		d.sendError(c, "malformed send_message payload")
		return
	}

	msg, err := d.messages.CreateMessage(ctx, service.CreateMessageInput{
		SenderID:       c.employeeID,
		ReceiverID:     p.ReceiverID,
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Type:           p.Type,
	})
	if err != nil {
		d.reportError(c, err, "failed to send message")
		return
	}

	broadcast, err := event.NewEvent(event.EventNewMessage, event.NewMessageEvent{Message: *msg})
	if err != nil {
		d.logger.Error("marshal new_message", zap.Error(err))
		return
	}
	d.hub.PublishToRoom(p.ConversationID, broadcast)

	ack, err := event.NewEvent(event.EventMessageAck, event.MessageAckEvent{
		TempID:    p.TempID,
		MessageID: msg.ID.Hex(),
	})
	if err != nil {
		d.logger.Error("marshal message_ack", zap.Error(err))
		return
	}
	c.Send(ack)
}

// handleTyping relays the indicator to the rest of the room. The originating
// connection is skipped; no persistence, no access check beyond membership of
// the room itself.
func (d *ChatDispatcher) handleTyping(ev event.WsEvent, c *Client, isTyping bool) {
	var p event.TypingPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.ConversationID == "" {
		return
	}
	if !c.inRoom(p.ConversationID) {
		return
	}

	name := event.EventEmployeeTyping
	out, err := event.NewEvent(name, event.EmployeeTypingEvent{
		ConversationID: p.ConversationID,
		EmployeeID:     c.employeeID,
		IsTyping:       isTyping,
	})
	if err != nil {
		d.logger.Error("marshal typing event", zap.Error(err))
		return
	}
	d.hub.PublishToRoomExcept(p.ConversationID, out, c.ID)
}

// handleMarkRead performs the bulk read and broadcasts the result to the
// whole room, reader included, so senders can move their read markers.
func (d *ChatDispatcher) handleMarkRead(ctx context.Context, ev event.WsEvent, c *Client) {
	var p event.MarkReadPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.ConversationID == "" {
		d.sendError(c, "mark_messages_read requires a conversation_id")
		return
	}

	count, err := d.messages.MarkAllMessagesAsRead(ctx, p.ConversationID, c.employeeID)
	if err != nil {
		d.reportError(c, err, "failed to mark messages as read")
		return
	}

	out, err := event.NewEvent(event.EventAllMessagesRead, event.AllMessagesReadEvent{
		ConversationID: p.ConversationID,
		EmployeeID:     c.employeeID,
		Timestamp:      time.Now(),
		Count:          count,
	})
	if err != nil {
		d.logger.Error("marshal all_messages_read", zap.Error(err))
		return
	}
	d.hub.PublishToRoom(p.ConversationID, out)
}

// reportError maps a service failure to a client-safe message. Access
// failures and bad input travel as-is; anything else is masked.
func (d *ChatDispatcher) reportError(c *Client, err error, fallback string) {
	switch {
	case errors.Is(err, apperror.ErrForbidden),
		errors.Is(err, apperror.ErrNotFound),
		errors.Is(err, apperror.ErrInvalidArgument):
		d.sendError(c, err.Error())
	default:
		d.logger.Error("dispatch failed",
			zap.String("client_id", c.ID),
			zap.String("employee_id", c.employeeID),
			zap.Error(err),
		)
		d.sendError(c, fallback)
	}
}

func (d *ChatDispatcher) sendError(c *Client, message string) {
	out, err := event.NewEvent(event.EventError, event.ErrorEvent{Message: message})
	if err != nil {
		return
	}
	c.Send(out)
}

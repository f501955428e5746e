package service

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"teamchat/internal/apperror"
	"teamchat/internal/lookup"
	"teamchat/internal/model"
	"teamchat/internal/repo"
)

// CreateMessageInput is an outbound message before persistence.
type CreateMessageInput struct {
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

// MessageService owns message posting, reading, and the unread-count
// invariant: a send increments every other participant's counter by one, a
// read decrements (floored at zero) or resets it.
type MessageService interface {
	CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error)
	GetMessages(ctx context.Context, conversationID, employeeID string, page, limit int64) (*model.MessagePage, error)
	MarkMessageAsRead(ctx context.Context, messageID, employeeID string) (*model.Message, error)
	MarkAllMessagesAsRead(ctx context.Context, conversationID, employeeID string) (int64, error)
	DeleteMessage(ctx context.Context, messageID, employeeID string) (*model.Message, error)
	SearchMessages(ctx context.Context, conversationID, employeeID, query string, page, limit int64) (*model.MessagePage, error)
	GetUnreadCount(ctx context.Context, conversationID, employeeID string) (int64, error)
}

type messageService struct {
	messages      repo.MessageRepository
	conversations repo.ConversationRepository
	participants  repo.ParticipantRepository
	sink          lookup.NotificationSink
	logger        *zap.Logger
}

func NewMessageService(
	messages repo.MessageRepository,
	conversations repo.ConversationRepository,
	participants repo.ParticipantRepository,
	sink lookup.NotificationSink,
	logger *zap.Logger,
) MessageService {
	return &messageService{
		messages:      messages,
		conversations: conversations,
		participants:  participants,
		sink:          sink,
		logger:        logger,
	}
}

// CreateMessage persists a message from a participant, touches the
// conversation's last_message_at, and atomically increments the unread
// counter of every other current participant.
func (s *messageService) CreateMessage(ctx context.Context, in CreateMessageInput) (*model.Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, fmt.Errorf("%w: sender and conversation are required", apperror.ErrInvalidArgument)
	}
	if in.Content == "" {
		return nil, fmt.Errorf("%w: message content is required", apperror.ErrInvalidArgument)
	}

	if err := s.requireParticipant(ctx, in.ConversationID, in.SenderID); err != nil {
		return nil, err
	}

	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	now := time.Now()
	msg := &model.Message{
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		ConversationID: in.ConversationID,
		Content:        in.Content,
		Type:           msgType,
		Status:         model.MessageStatusSent,
		SeenBy:         []model.SeenRecord{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	messageID, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	if err := s.conversations.TouchLastMessage(ctx, in.ConversationID, now); err != nil {
		return nil, err
	}

	roster, err := s.participants.FindByConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	others := lo.FilterMap(roster, func(p model.Participant, _ int) (string, bool) {
		return p.EmployeeID, p.EmployeeID != in.SenderID
	})
	if err := s.conversations.IncrementUnread(ctx, in.ConversationID, others); err != nil {
		return nil, err
	}

	s.sink.Publish(ctx, lookup.NotificationRecord{
		Kind:           "message.created",
		ConversationID: in.ConversationID,
		ActorID:        in.SenderID,
		EmployeeIDs:    others,
		MessageID:      messageID,
	})

	return msg, nil
}

// GetMessages pages over visible messages. The store window is newest-first;
// the page is returned oldest-first for chronological display.
func (s *messageService) GetMessages(ctx context.Context, conversationID, employeeID string, page, limit int64) (*model.MessagePage, error) {
	if err := s.requireParticipant(ctx, conversationID, employeeID); err != nil {
		return nil, err
	}

	if limit < 1 {
		limit = 50
	}

	result, err := s.messages.Page(ctx, conversationID, page, limit)
	if err != nil {
		return nil, err
	}

	return &model.MessagePage{
		Messages: lo.Reverse(result.Data),
		Pagination: model.Pagination{
			Page:       result.Page,
			Limit:      result.PageSize,
			Total:      result.Total,
			TotalPages: result.TotalPages,
		},
	}, nil
}

// MarkMessageAsRead records a read receipt. Re-marking by the same actor is
// a no-op; only the unseen-to-seen transition decrements the unread counter
// (floored at zero by the store). For a 1:1 message addressed to the actor
// the coarse status flips to seen as well.
func (s *messageService) MarkMessageAsRead(ctx context.Context, messageID, employeeID string) (*model.Message, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if err := s.requireParticipant(ctx, msg.ConversationID, employeeID); err != nil {
		return nil, err
	}

	if msg.SeenByEmployee(employeeID) {
		return msg, nil
	}

	// The guarded append is the arbiter of the unseen-to-seen transition.
	// Two concurrent marks can both read the message unseen, but only the
	// one whose append changed the document may decrement the counter.
	rec := model.SeenRecord{EmployeeID: employeeID, SeenAt: time.Now()}
	appended, err := s.messages.AppendSeen(ctx, messageID, rec)
	if err != nil {
		return nil, err
	}
	msg.SeenBy = append(msg.SeenBy, rec)

	if msg.ReceiverID == employeeID {
		if err := s.messages.SetStatus(ctx, messageID, model.MessageStatusSeen); err != nil {
			return nil, err
		}
		msg.Status = model.MessageStatusSeen
	}

	if appended == 1 {
		if err := s.conversations.DecrementUnread(ctx, msg.ConversationID, employeeID); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// MarkAllMessagesAsRead marks every message the actor has not sent and not
// yet seen, then re-derives the actor's unread counter from a fresh unseen
// count instead of resetting to zero blindly: a send committing after the
// bulk update keeps its increment, one committing before is covered by the
// update.
func (s *messageService) MarkAllMessagesAsRead(ctx context.Context, conversationID, employeeID string) (int64, error) {
	if err := s.requireParticipant(ctx, conversationID, employeeID); err != nil {
		return 0, err
	}

	count, err := s.messages.MarkAllSeen(ctx, conversationID, employeeID, time.Now())
	if err != nil {
		return 0, err
	}

	remaining, err := s.messages.CountUnseen(ctx, conversationID, employeeID)
	if err != nil {
		return 0, err
	}
	if err := s.conversations.ResetUnread(ctx, conversationID, employeeID, remaining); err != nil {
		return 0, err
	}

	return count, nil
}

// DeleteMessage soft-deletes a message; only the sender may delete. The
// unread counters it contributed to are intentionally left alone, matching
// the historical behavior; the next bulk read recomputes them anyway.
func (s *messageService) DeleteMessage(ctx context.Context, messageID, employeeID string) (*model.Message, error) {
	msg, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	if msg.SenderID != employeeID {
		return nil, fmt.Errorf("%w: only the sender may delete a message", apperror.ErrForbidden)
	}

	if err := s.messages.SoftDelete(ctx, messageID); err != nil {
		return nil, err
	}
	msg.IsDeleted = true

	return msg, nil
}

// SearchMessages runs a case-insensitive substring search over visible
// content.
func (s *messageService) SearchMessages(ctx context.Context, conversationID, employeeID, query string, page, limit int64) (*model.MessagePage, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", apperror.ErrInvalidArgument)
	}

	if err := s.requireParticipant(ctx, conversationID, employeeID); err != nil {
		return nil, err
	}

	if limit < 1 {
		limit = 20
	}

	result, err := s.messages.Search(ctx, conversationID, query, page, limit)
	if err != nil {
		return nil, err
	}

	return &model.MessagePage{
		Messages: result.Data,
		Pagination: model.Pagination{
			Page:       result.Page,
			Limit:      result.PageSize,
			Total:      result.Total,
			TotalPages: result.TotalPages,
		},
	}, nil
}

// GetUnreadCount reads the per-actor counter directly.
func (s *messageService) GetUnreadCount(ctx context.Context, conversationID, employeeID string) (int64, error) {
	conv, err := s.conversations.FindByConversationID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	return conv.UnreadFor(employeeID), nil
}

func (s *messageService) requireParticipant(ctx context.Context, conversationID, employeeID string) error {
	ok, err := s.participants.Exists(ctx, conversationID, employeeID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no access to conversation %s", apperror.ErrForbidden, conversationID)
	}
	return nil
}

package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"teamchat/internal/apperror"
	"teamchat/internal/db"
	"teamchat/internal/model"
)

var (
	ErrInvalidMessage        = errors.New("invalid message: message cannot be nil")
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
)

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

// MessageRepository owns the append-mostly message log. Messages are never
// hard-deleted; visibility queries exclude soft-deleted documents.
type MessageRepository interface {
	EnsureIndexes(ctx context.Context) error
	Insert(ctx context.Context, msg *model.Message) (string, error)
	FindByID(ctx context.Context, messageID string) (*model.Message, error)
	Page(ctx context.Context, conversationID string, page, limit int64) (*db.PaginatedResult[model.Message], error)
	Search(ctx context.Context, conversationID, query string, page, limit int64) (*db.PaginatedResult[model.Message], error)
	LatestVisible(ctx context.Context, conversationID string) (*model.Message, error)
	AppendSeen(ctx context.Context, messageID string, rec model.SeenRecord) (int64, error)
	SetStatus(ctx context.Context, messageID, status string) error
	MarkAllSeen(ctx context.Context, conversationID, employeeID string, at time.Time) (int64, error)
	CountUnseen(ctx context.Context, conversationID, employeeID string) (int64, error)
	SoftDelete(ctx context.Context, messageID string) error
	SoftDeleteByConversation(ctx context.Context, conversationID string) error
}

func NewMessageRepository(repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (m *messageRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := m.mongoRepo.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "seen_by.employee_id", Value: 1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

// Insert persists a message in a single attempt. A send whose acknowledgment
// is lost may already be committed, so the store is never asked again; the
// failure is reported to the caller, who decides whether to resend.
func (m *messageRepository) Insert(ctx context.Context, msg *model.Message) (string, error) {
	if msg == nil {
		return "", ErrInvalidMessage
	}
	if msg.ConversationID == "" {
		return "", ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := m.mongoRepo.Create(ctx, *msg)
	if err != nil {
		m.logger.Error("failed to insert message",
			zap.Error(err),
			zap.String("conversation_id", msg.ConversationID),
		)
		return "", fmt.Errorf("%w: insert message: %w", apperror.ErrInternal, err)
	}

	insertedID := ""
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		insertedID = oid.Hex()
		msg.ID = oid
	}

	m.logger.Debug("message inserted",
		zap.String("message_id", insertedID),
		zap.String("conversation_id", msg.ConversationID),
	)
	return insertedID, nil
}

func (m *messageRepository) FindByID(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := m.mongoRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || errors.Is(err, primitive.ErrInvalidHex) {
			return nil, fmt.Errorf("%w: message %s", apperror.ErrNotFound, messageID)
		}
		return nil, fmt.Errorf("%w: find message: %w", apperror.ErrInternal, err)
	}
	return msg, nil
}

// Page returns visible messages newest-first; the service reverses the page
// into chronological display order. Reads are idempotent, so transient store
// failures are retried with backoff.
func (m *messageRepository) Page(ctx context.Context, conversationID string, page, limit int64) (*db.PaginatedResult[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("is_deleted", false).
		Build()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, err := m.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: limit,
			SortBy:   "created_at",
			SortDesc: true,
		})
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}

		m.logger.Warn("page read failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}
	return nil, fmt.Errorf("%w: page messages: %w", apperror.ErrInternal, lastErr)
}

func (m *messageRepository) Search(ctx context.Context, conversationID, query string, page, limit int64) (*db.PaginatedResult[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("is_deleted", false).
		Contains("content", query).
		Build()

	return m.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
		Page:     page,
		PageSize: limit,
		SortBy:   "created_at",
		SortDesc: true,
	})
}

func (m *messageRepository) LatestVisible(ctx context.Context, conversationID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("is_deleted", false).
		Build()

	msgs, err := m.mongoRepo.FindAll(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("%w: find latest message: %w", apperror.ErrInternal, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// AppendSeen adds a read receipt. The filter excludes messages the employee
// already saw, so a duplicate receipt is a no-op at the store level. Returns
// how many documents changed; callers use 0-vs-1 to decide whether this call
// won the seen transition.
func (m *messageRepository) AppendSeen(ctx context.Context, messageID string, rec model.SeenRecord) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		ObjectID("_id", messageID).
		Ne("seen_by.employee_id", rec.EmployeeID).
		Build()
	result, err := m.mongoRepo.UpdateRaw(ctx, filter, bson.M{
		"$push": bson.M{"seen_by": rec},
		"$set":  bson.M{"updated_at": rec.SeenAt},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: append seen receipt: %w", apperror.ErrInternal, err)
	}
	return result.ModifiedCount, nil
}

func (m *messageRepository) SetStatus(ctx context.Context, messageID, status string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("_id", messageID).Build()
	_, err := m.mongoRepo.Update(ctx, filter, bson.M{"status": status})
	return err
}

// MarkAllSeen stamps a receipt on every visible message in the conversation
// the employee has not sent and not yet seen, then flips 1:1 status for
// messages addressed to them. Returns how many messages transitioned.
func (m *messageRepository) MarkAllSeen(ctx context.Context, conversationID, employeeID string, at time.Time) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	unseen := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("is_deleted", false).
		Ne("sender_id", employeeID).
		Ne("seen_by.employee_id", employeeID).
		Build()

	result, err := m.mongoRepo.UpdateManyRaw(ctx, unseen, bson.M{
		"$push": bson.M{"seen_by": model.SeenRecord{EmployeeID: employeeID, SeenAt: at}},
		"$set":  bson.M{"updated_at": at},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: mark all seen: %w", apperror.ErrInternal, err)
	}

	addressed := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("receiver_id", employeeID).
		In("status", []string{model.MessageStatusSent, model.MessageStatusDelivered}).
		Build()
	if _, err := m.mongoRepo.UpdateManyRaw(ctx, addressed, bson.M{
		"$set": bson.M{"status": model.MessageStatusSeen},
	}); err != nil {
		return 0, fmt.Errorf("%w: flip message status: %w", apperror.ErrInternal, err)
	}

	return result.ModifiedCount, nil
}

// CountUnseen recounts the messages still unseen by the employee. Used to
// re-derive the unread counter after a bulk read instead of trusting the
// cached value.
func (m *messageRepository) CountUnseen(ctx context.Context, conversationID, employeeID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("is_deleted", false).
		Ne("sender_id", employeeID).
		Ne("seen_by.employee_id", employeeID).
		Build()
	return m.mongoRepo.Count(ctx, filter)
}

func (m *messageRepository) SoftDelete(ctx context.Context, messageID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("_id", messageID).Build()
	_, err := m.mongoRepo.Update(ctx, filter, bson.M{"is_deleted": true, "updated_at": time.Now()})
	return err
}

func (m *messageRepository) SoftDeleteByConversation(ctx context.Context, conversationID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	_, err := m.mongoRepo.UpdateManyRaw(ctx, filter, bson.M{
		"$set": bson.M{"is_deleted": true, "updated_at": time.Now()},
	})
	return err
}

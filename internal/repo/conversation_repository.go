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

// taskConversationSort puts the default conversation first, then most
// recently active.
var taskConversationSort = bson.D{
	{Key: "is_task_default", Value: -1},
	{Key: "last_message_at", Value: -1},
}

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

// ConversationRepository owns conversation documents and their embedded
// unread-count maps. All counter mutations are atomic sub-document updates;
// callers never read-modify-write the map.
type ConversationRepository interface {
	EnsureIndexes(ctx context.Context) error
	Insert(ctx context.Context, conv *model.Conversation) error
	FindByConversationID(ctx context.Context, conversationID string) (*model.Conversation, error)
	FindDefaultForTask(ctx context.Context, taskID string) (*model.Conversation, error)
	FindByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error)
	FindForTask(ctx context.Context, taskID string) ([]model.Conversation, error)
	FindForTaskIn(ctx context.Context, taskID string, conversationIDs []string) ([]model.Conversation, error)
	FindSecondaryForTaskIn(ctx context.Context, taskID string, conversationIDs []string) ([]model.Conversation, error)
	FindIn(ctx context.Context, conversationIDs []string) ([]model.Conversation, error)
	FindPrivateIn(ctx context.Context, conversationIDs []string) ([]model.Conversation, error)
	Page(ctx context.Context, conversationIDs []string, convType string, page, limit int64) (*db.PaginatedResult[model.Conversation], error)
	SetName(ctx context.Context, conversationID, name string) error
	TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error
	InitUnread(ctx context.Context, conversationID string, employeeIDs []string) error
	IncrementUnread(ctx context.Context, conversationID string, employeeIDs []string) error
	DecrementUnread(ctx context.Context, conversationID, employeeID string) error
	ResetUnread(ctx context.Context, conversationID, employeeID string, value int64) error
	RemoveUnreadKey(ctx context.Context, conversationID, employeeID string) error
	Delete(ctx context.Context, conversationID string) error
}

func NewConversationRepository(repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// EnsureIndexes creates the unique conversation_id index, the partial unique
// index that allows at most one default conversation per task, and the
// partial unique index on pair_key that makes private-pair creation
// first-writer-wins under concurrency.
func (r *conversationRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "task_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_task_default": true}),
		},
		{
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}
	return nil
}

func (r *conversationRepository) Insert(ctx context.Context, conv *model.Conversation) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := r.mongoRepo.Create(ctx, *conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: conversation already exists", apperror.ErrConflict)
		}
		r.logger.Error("failed to insert conversation",
			zap.String("conversation_id", conv.ConversationID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: insert conversation: %w", apperror.ErrInternal, err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		conv.ID = oid
	}
	return nil
}

func (r *conversationRepository) FindByConversationID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conv, err := r.mongoRepo.FindOne(ctx, db.NewFilter().Eq("conversation_id", conversationID).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: conversation %s", apperror.ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("%w: find conversation: %w", apperror.ErrInternal, err)
	}
	return conv, nil
}

// FindByPairKey resolves the single private conversation carrying a pair
// key, typically after an insert lost the race to create it.
func (r *conversationRepository) FindByPairKey(ctx context.Context, pairKey string) (*model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conv, err := r.mongoRepo.FindOne(ctx, db.NewFilter().Eq("pair_key", pairKey).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no conversation for pair", apperror.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: find conversation by pair key: %w", apperror.ErrInternal, err)
	}
	return conv, nil
}

func (r *conversationRepository) FindDefaultForTask(ctx context.Context, taskID string) (*model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("task_id", taskID).Eq("is_task_default", true).Build()
	conv, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no default conversation for task %s", apperror.ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("%w: find default task conversation: %w", apperror.ErrInternal, err)
	}
	return conv, nil
}

func (r *conversationRepository) FindForTask(ctx context.Context, taskID string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("task_id", taskID).Build()
	return r.mongoRepo.FindAll(ctx, filter, options.Find().SetSort(taskConversationSort))
}

func (r *conversationRepository) FindForTaskIn(ctx context.Context, taskID string, conversationIDs []string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("task_id", taskID).
		In("conversation_id", conversationIDs).
		Build()
	return r.mongoRepo.FindAll(ctx, filter, options.Find().SetSort(taskConversationSort))
}

func (r *conversationRepository) FindSecondaryForTaskIn(ctx context.Context, taskID string, conversationIDs []string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("task_id", taskID).
		Eq("type", model.ConversationTypeTask).
		Eq("is_task_default", false).
		In("conversation_id", conversationIDs).
		Build()
	return r.mongoRepo.FindAll(ctx, filter)
}

func (r *conversationRepository) FindIn(ctx context.Context, conversationIDs []string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return r.mongoRepo.FindAll(ctx, db.NewFilter().In("conversation_id", conversationIDs).Build())
}

func (r *conversationRepository) FindPrivateIn(ctx context.Context, conversationIDs []string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		In("conversation_id", conversationIDs).
		Eq("type", model.ConversationTypePrivate).
		Build()
	return r.mongoRepo.FindAll(ctx, filter)
}

func (r *conversationRepository) Page(ctx context.Context, conversationIDs []string, convType string, page, limit int64) (*db.PaginatedResult[model.Conversation], error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	builder := db.NewFilter().In("conversation_id", conversationIDs)
	if convType != "" {
		builder.Eq("type", convType)
	}

	return r.mongoRepo.FindWithPagination(ctx, builder.Build(), db.PaginationParams{
		Page:     page,
		PageSize: limit,
		SortBy:   "last_message_at",
		SortDesc: true,
	})
}

func (r *conversationRepository) SetName(ctx context.Context, conversationID, name string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	_, err := r.mongoRepo.Update(ctx, filter, bson.M{"name": name, "updated_at": time.Now()})
	return err
}

func (r *conversationRepository) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	// $max keeps last_message_at monotone under concurrent sends.
	_, err := r.mongoRepo.UpdateRaw(ctx, filter, bson.M{"$max": bson.M{"last_message_at": at}})
	return err
}

// InitUnread sets the counter keys for new roster members to zero.
func (r *conversationRepository) InitUnread(ctx context.Context, conversationID string, employeeIDs []string) error {
	if len(employeeIDs) == 0 {
		return nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	set := bson.M{}
	for _, id := range employeeIDs {
		set["unread_count."+id] = int64(0)
	}

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	_, err := r.mongoRepo.UpdateRaw(ctx, filter, bson.M{"$set": set})
	return err
}

// IncrementUnread bumps every listed counter by one in a single atomic
// update. The sender is excluded by the caller.
func (r *conversationRepository) IncrementUnread(ctx context.Context, conversationID string, employeeIDs []string) error {
	if len(employeeIDs) == 0 {
		return nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	inc := bson.M{}
	for _, id := range employeeIDs {
		inc["unread_count."+id] = int64(1)
	}

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	_, err := r.mongoRepo.UpdateRaw(ctx, filter, bson.M{"$inc": inc})
	return err
}

// DecrementUnread decrements one counter by one, floored at zero: the filter
// only matches while the counter is positive, so concurrent decrements can
// never drive it negative.
func (r *conversationRepository) DecrementUnread(ctx context.Context, conversationID, employeeID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Gt("unread_count."+employeeID, 0).
		Build()
	_, err := r.mongoRepo.UpdateRaw(ctx, filter, bson.M{"$inc": bson.M{"unread_count." + employeeID: int64(-1)}})
	return err
}

func (r *conversationRepository) ResetUnread(ctx context.Context, conversationID, employeeID string, value int64) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	_, err := r.mongoRepo.UpdateRaw(ctx, filter, bson.M{"$set": bson.M{"unread_count." + employeeID: value}})
	return err
}

func (r *conversationRepository) RemoveUnreadKey(ctx context.Context, conversationID, employeeID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	_, err := r.mongoRepo.UpdateRaw(ctx, filter, bson.M{"$unset": bson.M{"unread_count." + employeeID: ""}})
	return err
}

func (r *conversationRepository) Delete(ctx context.Context, conversationID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	result, err := r.mongoRepo.Delete(ctx, db.NewFilter().Eq("conversation_id", conversationID).Build())
	if err != nil {
		return fmt.Errorf("%w: delete conversation: %w", apperror.ErrInternal, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: conversation %s", apperror.ErrNotFound, conversationID)
	}
	return nil
}

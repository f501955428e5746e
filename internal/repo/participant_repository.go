package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"teamchat/internal/apperror"
	"teamchat/internal/db"
	"teamchat/internal/model"
)

type participantRepository struct {
	mongoRepo *db.Repository[model.Participant]
	logger    *zap.Logger
}

// ParticipantRepository owns the conversation x employee join records.
type ParticipantRepository interface {
	EnsureIndexes(ctx context.Context) error
	Insert(ctx context.Context, p *model.Participant) error
	Find(ctx context.Context, conversationID, employeeID string) (*model.Participant, error)
	Exists(ctx context.Context, conversationID, employeeID string) (bool, error)
	FindByConversation(ctx context.Context, conversationID string) ([]model.Participant, error)
	ConversationIDsFor(ctx context.Context, employeeID string) ([]string, error)
	CountByConversation(ctx context.Context, conversationID string) (int64, error)
	TouchLastSeen(ctx context.Context, conversationID, employeeID string, at time.Time) error
	Delete(ctx context.Context, conversationID, employeeID string) error
	DeleteByConversation(ctx context.Context, conversationID string) error
}

func NewParticipantRepository(repo *db.Repository[model.Participant], logger *zap.Logger) ParticipantRepository {
	return &participantRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// EnsureIndexes enforces exactly one record per (conversation, employee)
// pair and indexes the per-employee membership lookup.
func (r *participantRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "employee_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "employee_id", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create participant indexes: %w", err)
	}
	return nil
}

func (r *participantRepository) Insert(ctx context.Context, p *model.Participant) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if _, err := r.mongoRepo.Create(ctx, *p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: already a participant", apperror.ErrConflict)
		}
		r.logger.Error("failed to insert participant",
			zap.String("conversation_id", p.ConversationID),
			zap.String("employee_id", p.EmployeeID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: insert participant: %w", apperror.ErrInternal, err)
	}
	return nil
}

func (r *participantRepository) Find(ctx context.Context, conversationID, employeeID string) (*model.Participant, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("employee_id", employeeID).
		Build()
	p, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: participant %s in %s", apperror.ErrNotFound, employeeID, conversationID)
		}
		return nil, fmt.Errorf("%w: find participant: %w", apperror.ErrInternal, err)
	}
	return p, nil
}

func (r *participantRepository) Exists(ctx context.Context, conversationID, employeeID string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("employee_id", employeeID).
		Build()
	return r.mongoRepo.Exists(ctx, filter)
}

func (r *participantRepository) FindByConversation(ctx context.Context, conversationID string) ([]model.Participant, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return r.mongoRepo.FindAll(ctx, db.NewFilter().Eq("conversation_id", conversationID).Build())
}

func (r *participantRepository) ConversationIDsFor(ctx context.Context, employeeID string) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	records, err := r.mongoRepo.FindAll(ctx, db.NewFilter().Eq("employee_id", employeeID).Build())
	if err != nil {
		return nil, fmt.Errorf("%w: find memberships: %w", apperror.ErrInternal, err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ConversationID)
	}
	return ids, nil
}

func (r *participantRepository) CountByConversation(ctx context.Context, conversationID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return r.mongoRepo.Count(ctx, db.NewFilter().Eq("conversation_id", conversationID).Build())
}

func (r *participantRepository) TouchLastSeen(ctx context.Context, conversationID, employeeID string, at time.Time) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("employee_id", employeeID).
		Build()
	_, err := r.mongoRepo.Update(ctx, filter, bson.M{"last_seen": at})
	return err
}

func (r *participantRepository) Delete(ctx context.Context, conversationID, employeeID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("employee_id", employeeID).
		Build()
	result, err := r.mongoRepo.Delete(ctx, filter)
	if err != nil {
		return fmt.Errorf("%w: delete participant: %w", apperror.ErrInternal, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: participant %s in %s", apperror.ErrNotFound, employeeID, conversationID)
	}
	return nil
}

func (r *participantRepository) DeleteByConversation(ctx context.Context, conversationID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.DeleteMany(ctx, db.NewFilter().Eq("conversation_id", conversationID).Build())
	return err
}

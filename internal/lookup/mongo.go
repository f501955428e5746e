package lookup

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"teamchat/internal/apperror"
	"teamchat/internal/db"
	"teamchat/internal/model"
)

type mongoTaskDirectory struct {
	repo *db.Repository[model.TaskInfo]
}

// NewMongoTaskDirectory reads task membership from the tasks collection
// maintained by the task CRUD system.
func NewMongoTaskDirectory(database *mongo.Database, collection string) TaskDirectory {
	return &mongoTaskDirectory{
		repo: db.NewRepository[model.TaskInfo](database, collection),
	}
}

func (d *mongoTaskDirectory) TaskByID(ctx context.Context, taskID string) (*model.TaskInfo, error) {
	task, err := d.repo.FindOne(ctx, db.NewFilter().Eq("task_id", taskID).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: task %s", apperror.ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("%w: find task: %w", apperror.ErrInternal, err)
	}
	return task, nil
}

type mongoEmployeeDirectory struct {
	repo *db.Repository[model.EmployeeSummary]
}

// NewMongoEmployeeDirectory reads profile summaries from the employees
// collection.
func NewMongoEmployeeDirectory(database *mongo.Database, collection string) EmployeeDirectory {
	return &mongoEmployeeDirectory{
		repo: db.NewRepository[model.EmployeeSummary](database, collection),
	}
}

func (d *mongoEmployeeDirectory) Summaries(ctx context.Context, employeeIDs []string) (map[string]model.EmployeeSummary, error) {
	summaries := make(map[string]model.EmployeeSummary, len(employeeIDs))
	if len(employeeIDs) == 0 {
		return summaries, nil
	}

	found, err := d.repo.FindAll(ctx, db.NewFilter().In("employee_id", employeeIDs).Build())
	if err != nil {
		return nil, fmt.Errorf("%w: find employees: %w", apperror.ErrInternal, err)
	}

	for _, emp := range found {
		summaries[emp.EmployeeID] = emp
	}
	for _, id := range employeeIDs {
		if _, ok := summaries[id]; !ok {
			summaries[id] = model.UnknownEmployee(id)
		}
	}
	return summaries, nil
}

type logSink struct {
	logger *zap.Logger
}

// NewLogSink is a notification sink that records the event and nothing else.
// It stands in for the notification/activity-log service, which is outside
// this core.
func NewLogSink(logger *zap.Logger) NotificationSink {
	return &logSink{logger: logger}
}

func (s *logSink) Publish(_ context.Context, rec NotificationRecord) {
	s.logger.Info("notification",
		zap.String("kind", rec.Kind),
		zap.String("conversation_id", rec.ConversationID),
		zap.String("actor_id", rec.ActorID),
		zap.Strings("employee_ids", rec.EmployeeIDs),
	)
}

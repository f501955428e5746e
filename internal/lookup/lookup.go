// Package lookup holds the contracts for the external collaborators the
// messaging core consumes: task and employee resolution, and the
// fire-and-forget notification sink.
package lookup

import (
	"context"

	"teamchat/internal/model"
)

// TaskDirectory resolves a task to the membership facts the conversation
// rules need.
type TaskDirectory interface {
	TaskByID(ctx context.Context, taskID string) (*model.TaskInfo, error)
}

// EmployeeDirectory resolves employee ids to profile summaries. Ids that do
// not resolve come back as placeholder summaries; the call never fails on a
// missing id.
type EmployeeDirectory interface {
	Summaries(ctx context.Context, employeeIDs []string) (map[string]model.EmployeeSummary, error)
}

// NotificationRecord is the structured event handed to the sink.
type NotificationRecord struct {
	Kind           string   `json:"kind"`
	ConversationID string   `json:"conversation_id,omitempty"`
	TaskID         string   `json:"task_id,omitempty"`
	ActorID        string   `json:"actor_id,omitempty"`
	EmployeeIDs    []string `json:"employee_ids,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
}

// NotificationSink accepts activity/notification records. Implementations
// must swallow their own failures; callers never check the outcome.
type NotificationSink interface {
	Publish(ctx context.Context, rec NotificationRecord)
}

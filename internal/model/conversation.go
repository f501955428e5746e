package model

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation types
const (
	ConversationTypePrivate = "private"
	ConversationTypeGroup   = "group"
	ConversationTypeTask    = "task"
)

// Participant roles inside a conversation
const (
	ConversationRoleOwner  = "owner"
	ConversationRoleMember = "member"
)

// DefaultTaskConversationName is the name given to the conversation created
// automatically for every task.
const DefaultTaskConversationName = "General"

// Conversation is a chat channel document. The unread_count map carries one
// entry per current participant; keys are created on join and removed on
// departure together with the participant record.
type Conversation struct {
	ID             primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	ConversationID string             `json:"conversation_id" bson:"conversation_id"`
	Name           string             `json:"name" bson:"name"`
	Type           string             `json:"type" bson:"type"`
	TaskID         string             `json:"task_id,omitempty" bson:"task_id,omitempty"`
	PairKey        string             `json:"-" bson:"pair_key,omitempty"`
	CreatedBy      string             `json:"created_by" bson:"created_by"`
	IsTaskDefault  bool               `json:"is_task_default" bson:"is_task_default"`
	LastMessageAt  time.Time          `json:"last_message_at" bson:"last_message_at"`
	UnreadCount    map[string]int64   `json:"unread_count" bson:"unread_count"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
}

// PrivatePairKey derives the deterministic key stored on private two-person
// conversations. Both request directions produce the same key, so the unique
// index on pair_key turns a concurrent duplicate create into a conflict.
// taskID is empty for task-independent private conversations.
func PrivatePairKey(taskID, employee1, employee2 string) string {
	pair := []string{employee1, employee2}
	sort.Strings(pair)
	return strings.Join([]string{taskID, pair[0], pair[1]}, "|")
}

// UnreadFor returns the unread counter for an employee, 0 when the key is
// missing (a missing key and a zero count are equivalent).
func (c *Conversation) UnreadFor(employeeID string) int64 {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[employeeID]
}

// Participant is the conversation x employee join record. Exactly one exists
// per pair; the conversation creator always holds the owner role.
type Participant struct {
	ID             primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	ConversationID string             `json:"conversation_id" bson:"conversation_id"`
	EmployeeID     string             `json:"employee_id" bson:"employee_id"`
	Role           string             `json:"role_conversation_id" bson:"role_conversation_id"`
	JoinedAt       time.Time          `json:"joined_at" bson:"joined_at"`
	LastSeen       time.Time          `json:"last_seen" bson:"last_seen"`
}

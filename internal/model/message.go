package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message statuses. Status is receiver-facing and mainly meaningful for 1:1
// messages; group and task conversations rely on seen_by instead.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusSeen      = "seen"
)

// Message content types
const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

// Message is an append-mostly chat message document. After creation only
// seen_by, status and is_deleted change; messages are never hard-deleted.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SenderID       string             `json:"sender_id" bson:"sender_id"`
	ReceiverID     string             `json:"receiver_id,omitempty" bson:"receiver_id,omitempty"`
	ConversationID string             `json:"conversation_id" bson:"conversation_id"`
	Content        string             `json:"content" bson:"content"`
	Type           string             `json:"type" bson:"type"`
	Status         string             `json:"status" bson:"status"`
	IsDeleted      bool               `json:"is_deleted" bson:"is_deleted"`
	SeenBy         []SeenRecord       `json:"seen_by" bson:"seen_by"`
	CreatedAt      time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" bson:"updated_at"`
}

// SeenRecord is a read receipt; at most one per employee per message,
// appended in read order.
type SeenRecord struct {
	EmployeeID string    `json:"employee_id" bson:"employee_id"`
	SeenAt     time.Time `json:"seen_at" bson:"seen_at"`
}

// SeenByEmployee reports whether the employee already has a receipt on the
// message.
func (m *Message) SeenByEmployee(employeeID string) bool {
	for _, s := range m.SeenBy {
		if s.EmployeeID == employeeID {
			return true
		}
	}
	return false
}

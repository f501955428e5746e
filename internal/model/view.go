package model

// ParticipantProfile is a participant record joined with the employee
// directory summary.
type ParticipantProfile struct {
	Participant
	Name  string `json:"employee_name"`
	Email string `json:"email"`
	Image string `json:"image"`
}

// ConversationDetail is a conversation enriched for a specific viewer:
// resolved participants, last visible message, the viewer's own unread count
// and, for private conversations, the other party.
type ConversationDetail struct {
	Conversation
	Participants  []ParticipantProfile `json:"participants"`
	LastMessage   *Message             `json:"lastMessage"`
	UnreadCount   int64                `json:"unreadCount"`
	OtherEmployee *EmployeeSummary     `json:"otherEmployee,omitempty"`
	Creator       *EmployeeSummary     `json:"creator,omitempty"`
	IsDefault     bool                 `json:"is_default"`
}

// Pagination echoes the page window of a list response.
type Pagination struct {
	Page       int64 `json:"page"`
	Limit      int64 `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// ConversationPage is a page of enriched conversations.
type ConversationPage struct {
	Conversations []ConversationDetail `json:"conversations"`
	Pagination    Pagination           `json:"pagination"`
}

// MessagePage is a page of messages in chronological display order.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

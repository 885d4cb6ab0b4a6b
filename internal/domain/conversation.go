package domain

import "time"

// MessageRecord is a single persisted conversation turn.
type MessageRecord struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// ConversationRecord is the persisted snapshot of a conversation.
type ConversationRecord struct {
	ChatID       string          `json:"chat_id"`
	CreatedAt    time.Time       `json:"created_at"`
	MessageCount int             `json:"message_count"`
	LastUpdated  time.Time       `json:"last_updated"`
	Messages     []MessageRecord `json:"messages"`
}

package repository

import (
	"encoding/json"
	"fmt"

	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/domain"
)

func encodeRecord(rec domain.ConversationRecord) ([]byte, error) {
	if rec.Messages == nil {
		rec.Messages = []domain.MessageRecord{}
	}
	return json.Marshal(rec)
}

func decodeConversation(raw []byte) (*conversation.Conversation, error) {
	var rec domain.ConversationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("repository: decode conversation: %w", err)
	}
	return conversation.Restore(rec)
}

// clearedRecord is rec with its history dropped and LastUpdated reset to the
// creation time.
func clearedRecord(rec domain.ConversationRecord) domain.ConversationRecord {
	rec.Messages = []domain.MessageRecord{}
	rec.MessageCount = 0
	rec.LastUpdated = rec.CreatedAt
	return rec
}

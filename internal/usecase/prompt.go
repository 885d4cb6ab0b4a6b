package usecase

import (
	"strings"

	"blackbox-agent/internal/conversation"
	"blackbox-agent/internal/domain"
)

// buildPromptMessages turns stored history into the request's message list.
// Without history only the newest message is sent. A system prompt, when
// set, goes first and is never stored.
func buildPromptMessages(systemPrompt string, history []conversation.Message, withHistory bool) []domain.ChatMessage {
	if !withHistory && len(history) > 0 {
		history = history[len(history)-1:]
	}
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	if p := strings.TrimSpace(systemPrompt); p != "" {
		messages = append(messages, domain.ChatMessage{
			ID:      newUUID(),
			Role:    string(conversation.RoleSystem),
			Content: p,
		})
	}
	for _, m := range history {
		messages = append(messages, toChatMessage(m))
	}
	return messages
}

func toChatMessage(m conversation.Message) domain.ChatMessage {
	out := domain.ChatMessage{
		ID:      m.ID,
		Role:    string(m.Role),
		Content: m.Content,
	}
	if m.Image != "" {
		out.Data = &domain.ImageData{ImageBase64: m.Image}
	}
	return out
}

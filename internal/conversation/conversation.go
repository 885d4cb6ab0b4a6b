package conversation

import (
	"errors"
	"fmt"
	"time"

	"blackbox-agent/internal/domain"
)

// MaxMessages is the number of messages a conversation keeps.
const MaxMessages = 25

// Metadata summarises a conversation's history.
type Metadata struct {
	MessageCount int
	LastUpdated  time.Time
}

// Conversation is an ordered, bounded message history. Only the Store and the
// backends in this package mutate it; everyone else reads through accessors.
type Conversation struct {
	id        string
	createdAt time.Time
	history   *History
	meta      Metadata
}

// New returns an empty conversation created at createdAt.
func New(id string, createdAt time.Time) *Conversation {
	createdAt = createdAt.UTC()
	return &Conversation{
		id:        id,
		createdAt: createdAt,
		history:   NewHistory(MaxMessages),
		meta:      Metadata{LastUpdated: createdAt},
	}
}

func (c *Conversation) ID() string           { return c.id }
func (c *Conversation) CreatedAt() time.Time { return c.createdAt }
func (c *Conversation) Metadata() Metadata   { return c.meta }
func (c *Conversation) Len() int             { return c.history.Len() }

// Messages returns a copy of the history, oldest first.
func (c *Conversation) Messages() []Message {
	return c.history.Items()
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	out := New(c.id, c.createdAt)
	for _, m := range c.history.Items() {
		out.history.Push(m)
	}
	out.meta = c.meta
	return out
}

func (c *Conversation) push(m Message, now time.Time) (Message, bool) {
	dropped, evicted := c.history.Push(m)
	c.meta.MessageCount = c.history.Len()
	c.meta.LastUpdated = now.UTC()
	return dropped, evicted
}

func (c *Conversation) reset() {
	c.history.Clear()
	c.meta.MessageCount = 0
	c.meta.LastUpdated = c.createdAt
}

// Record converts c to its persisted form.
func (c *Conversation) Record() domain.ConversationRecord {
	items := c.history.Items()
	msgs := make([]domain.MessageRecord, 0, len(items))
	for _, m := range items {
		msgs = append(msgs, domain.MessageRecord{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Image:     m.Image,
			CreatedAt: m.CreatedAt,
		})
	}
	return domain.ConversationRecord{
		ChatID:       c.id,
		CreatedAt:    c.createdAt,
		MessageCount: c.meta.MessageCount,
		LastUpdated:  c.meta.LastUpdated,
		Messages:     msgs,
	}
}

// Restore rebuilds a conversation from its persisted form. Only the newest
// MaxMessages messages are kept and the message count is recomputed.
func Restore(rec domain.ConversationRecord) (*Conversation, error) {
	if rec.ChatID == "" {
		return nil, errors.New("conversation: Restore: chat id must not be empty")
	}
	c := New(rec.ChatID, rec.CreatedAt)
	msgs := rec.Messages
	if len(msgs) > MaxMessages {
		msgs = msgs[len(msgs)-MaxMessages:]
	}
	for _, m := range msgs {
		role := Role(m.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("conversation: Restore: %w: %q", ErrInvalidRole, m.Role)
		}
		c.history.Push(Message{
			ID:        m.ID,
			Role:      role,
			Content:   m.Content,
			Image:     m.Image,
			CreatedAt: m.CreatedAt,
		})
	}
	c.meta.MessageCount = c.history.Len()
	c.meta.LastUpdated = rec.LastUpdated.UTC()
	if c.meta.LastUpdated.IsZero() {
		c.meta.LastUpdated = c.createdAt
	}
	return c, nil
}

package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn of a conversation. It is a value type: once built it
// is only ever copied, never modified in place.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Image     string // data URI, empty when no image is attached
	CreatedAt time.Time
}

// MessageFactory builds messages, filling in identity and creation time.
// Zero-valued fields fall back to uuid.NewString and time.Now.
type MessageFactory struct {
	Now   func() time.Time
	NewID func() string
}

// New returns a message with a fresh ID and CreatedAt.
func (f MessageFactory) New(role Role, content, image string) (Message, error) {
	return f.Build(Message{Role: role, Content: content, Image: image})
}

// Build validates m and assigns ID and CreatedAt when they are not set.
func (f MessageFactory) Build(m Message) (Message, error) {
	if !m.Role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
	}
	if m.ID == "" {
		m.ID = f.id()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = f.now()
	}
	return m, nil
}

func (f MessageFactory) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

func (f MessageFactory) id() string {
	if f.NewID != nil {
		return f.NewID()
	}
	return uuid.NewString()
}

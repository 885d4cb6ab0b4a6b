package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blackbox-agent/internal/async"
)

var (
	// ErrCapabilityMismatch is matched by every *CapabilityError.
	ErrCapabilityMismatch = errors.New("conversation: capability mismatch")
	// ErrNotFound is returned when a chat id has no stored conversation.
	ErrNotFound = errors.New("conversation: not found")
	// ErrInvalidRole is returned for roles other than user, assistant and system.
	ErrInvalidRole = errors.New("conversation: invalid role")
)

// Capability declares which call families a backend accepts.
type Capability int

const (
	Synchronous Capability = iota + 1
	Asynchronous
	Universal
)

func (c Capability) String() string {
	switch c {
	case Synchronous:
		return "synchronous"
	case Asynchronous:
		return "asynchronous"
	case Universal:
		return "universal"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Supports reports whether a backend tagged c accepts calls made in mode m.
func (c Capability) Supports(m Mode) bool {
	switch c {
	case Universal:
		return m == Blocking || m == Suspendable
	case Synchronous:
		return m == Blocking
	case Asynchronous:
		return m == Suspendable
	}
	return false
}

// Mode is the call family an operation was entered through.
type Mode int

const (
	Blocking Mode = iota + 1
	Suspendable
)

func (m Mode) String() string {
	switch m {
	case Blocking:
		return "blocking"
	case Suspendable:
		return "suspendable"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// CapabilityError reports a call made through an entry point the backend
// does not accept. The caller has to switch entry points; retrying is useless.
type CapabilityError struct {
	Op         string
	Capability Capability
	Mode       Mode
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("conversation: %s: %s call not supported by %s backend", e.Op, e.Mode, e.Capability)
}

func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityMismatch
}

// Backend is implemented by every storage backend.
type Backend interface {
	Capability() Capability
}

// SyncBackend is the blocking call family.
type SyncBackend interface {
	Backend
	Save(ctx context.Context, c *Conversation) error
	Load(ctx context.Context, chatID string) (*Conversation, error)
	GetOrCreate(ctx context.Context, chatID string, now time.Time) (*Conversation, error)
	Delete(ctx context.Context, chatID string) error
	ListAll(ctx context.Context) ([]*Conversation, error)
	ClearAll(ctx context.Context) error
	ClearHistory(ctx context.Context, chatID string) error
}

// AsyncBackend is the suspendable call family.
type AsyncBackend interface {
	Backend
	SaveAsync(ctx context.Context, c *Conversation) *async.Future[struct{}]
	LoadAsync(ctx context.Context, chatID string) *async.Future[*Conversation]
	GetOrCreateAsync(ctx context.Context, chatID string, now time.Time) *async.Future[*Conversation]
	DeleteAsync(ctx context.Context, chatID string) *async.Future[struct{}]
	ListAllAsync(ctx context.Context) *async.Future[[]*Conversation]
	ClearAllAsync(ctx context.Context) *async.Future[struct{}]
	ClearHistoryAsync(ctx context.Context, chatID string) *async.Future[struct{}]
}

// UniversalBackend implements both call families.
type UniversalBackend interface {
	SyncBackend
	AsyncBackend
}

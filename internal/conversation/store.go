package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"blackbox-agent/internal/async"
)

// Store drives conversation lifecycle against a Backend and enforces the
// backend's declared capability on every mutation.
//
// Store does no locking. Callers that share a conversation across goroutines
// must serialize mutations of it, and must wait for an ...Async call to
// complete before the next mutation of the same conversation.
type Store struct {
	backend Backend
	factory MessageFactory
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

type Option func(*Store)

// WithClock sets the time source used for message and metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
			s.factory.Now = now
		}
	}
}

// WithIDGenerator sets the generator for message and chat ids.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
			s.factory.NewID = newID
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore returns a Store backed by b.
func NewStore(b Backend, opts ...Option) (*Store, error) {
	if b == nil {
		return nil, errors.New("conversation: backend must not be nil")
	}
	s := &Store{
		backend: b,
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Capability returns the backend's declared capability.
func (s *Store) Capability() Capability {
	return s.backend.Capability()
}

// blocking returns the blocking family of the backend. When checkTag is set
// the backend's declared capability must also admit blocking calls.
func (s *Store) blocking(op string, checkTag bool) (SyncBackend, error) {
	capability := s.backend.Capability()
	if checkTag && !capability.Supports(Blocking) {
		return nil, &CapabilityError{Op: op, Capability: capability, Mode: Blocking}
	}
	b, ok := s.backend.(SyncBackend)
	if !ok {
		return nil, &CapabilityError{Op: op, Capability: capability, Mode: Blocking}
	}
	return b, nil
}

func (s *Store) suspendable(op string, checkTag bool) (AsyncBackend, error) {
	capability := s.backend.Capability()
	if checkTag && !capability.Supports(Suspendable) {
		return nil, &CapabilityError{Op: op, Capability: capability, Mode: Suspendable}
	}
	b, ok := s.backend.(AsyncBackend)
	if !ok {
		return nil, &CapabilityError{Op: op, Capability: capability, Mode: Suspendable}
	}
	return b, nil
}

func (s *Store) chatID(chatID string) string {
	if chatID == "" {
		return s.newID()
	}
	return chatID
}

// GetOrCreate returns the conversation for chatID, creating and registering
// an empty one if none exists. An empty chatID gets a generated id.
func (s *Store) GetOrCreate(ctx context.Context, chatID string) (*Conversation, error) {
	b, err := s.blocking("GetOrCreate", false)
	if err != nil {
		return nil, err
	}
	c, err := b.GetOrCreate(ctx, s.chatID(chatID), s.now())
	if err != nil {
		return nil, fmt.Errorf("conversation: GetOrCreate: %w", err)
	}
	return c, nil
}

func (s *Store) GetOrCreateAsync(ctx context.Context, chatID string) *async.Future[*Conversation] {
	b, err := s.suspendable("GetOrCreate", false)
	if err != nil {
		return async.Resolve[*Conversation](nil, err)
	}
	return b.GetOrCreateAsync(ctx, s.chatID(chatID), s.now())
}

// AppendMessage adds a message to c and persists c. The oldest message is
// evicted first when c is full. A capability mismatch leaves c untouched.
func (s *Store) AppendMessage(ctx context.Context, c *Conversation, role Role, content, image string) error {
	b, err := s.blocking("AppendMessage", true)
	if err != nil {
		return err
	}
	if err := s.appendTo(c, role, content, image); err != nil {
		return err
	}
	if err := b.Save(ctx, c); err != nil {
		return fmt.Errorf("conversation: AppendMessage: %w", err)
	}
	return nil
}

// AppendMessageAsync is the suspendable form of AppendMessage. The mutation
// happens before it returns; only persistence is deferred to the future.
func (s *Store) AppendMessageAsync(ctx context.Context, c *Conversation, role Role, content, image string) *async.Future[struct{}] {
	b, err := s.suspendable("AppendMessage", true)
	if err != nil {
		return async.Resolve(struct{}{}, err)
	}
	if err := s.appendTo(c, role, content, image); err != nil {
		return async.Resolve(struct{}{}, err)
	}
	return b.SaveAsync(ctx, c)
}

func (s *Store) appendTo(c *Conversation, role Role, content, image string) error {
	if c == nil {
		return errors.New("conversation: AppendMessage: conversation must not be nil")
	}
	msg, err := s.factory.New(role, content, image)
	if err != nil {
		return err
	}
	if dropped, evicted := c.push(msg, s.now()); evicted {
		s.logger.Debug("evicted oldest message", "chat_id", c.ID(), "message_id", dropped.ID)
	}
	return nil
}

// ClearHistory empties c and resets its LastUpdated to its creation time.
func (s *Store) ClearHistory(ctx context.Context, c *Conversation) error {
	b, err := s.blocking("ClearHistory", true)
	if err != nil {
		return err
	}
	if c == nil {
		return errors.New("conversation: ClearHistory: conversation must not be nil")
	}
	c.reset()
	if err := b.Save(ctx, c); err != nil {
		return fmt.Errorf("conversation: ClearHistory: %w", err)
	}
	return nil
}

func (s *Store) ClearHistoryAsync(ctx context.Context, c *Conversation) *async.Future[struct{}] {
	b, err := s.suspendable("ClearHistory", true)
	if err != nil {
		return async.Resolve(struct{}{}, err)
	}
	if c == nil {
		return async.Resolve(struct{}{}, errors.New("conversation: ClearHistory: conversation must not be nil"))
	}
	c.reset()
	return b.SaveAsync(ctx, c)
}

// Load returns the stored conversation or ErrNotFound.
func (s *Store) Load(ctx context.Context, chatID string) (*Conversation, error) {
	b, err := s.blocking("Load", false)
	if err != nil {
		return nil, err
	}
	return b.Load(ctx, chatID)
}

func (s *Store) LoadAsync(ctx context.Context, chatID string) *async.Future[*Conversation] {
	b, err := s.suspendable("Load", false)
	if err != nil {
		return async.Resolve[*Conversation](nil, err)
	}
	return b.LoadAsync(ctx, chatID)
}

func (s *Store) Delete(ctx context.Context, chatID string) error {
	b, err := s.blocking("Delete", false)
	if err != nil {
		return err
	}
	return b.Delete(ctx, chatID)
}

func (s *Store) DeleteAsync(ctx context.Context, chatID string) *async.Future[struct{}] {
	b, err := s.suspendable("Delete", false)
	if err != nil {
		return async.Resolve(struct{}{}, err)
	}
	return b.DeleteAsync(ctx, chatID)
}

func (s *Store) ListAll(ctx context.Context) ([]*Conversation, error) {
	b, err := s.blocking("ListAll", false)
	if err != nil {
		return nil, err
	}
	return b.ListAll(ctx)
}

func (s *Store) ListAllAsync(ctx context.Context) *async.Future[[]*Conversation] {
	b, err := s.suspendable("ListAll", false)
	if err != nil {
		return async.Resolve[[]*Conversation](nil, err)
	}
	return b.ListAllAsync(ctx)
}

func (s *Store) ClearAll(ctx context.Context) error {
	b, err := s.blocking("ClearAll", false)
	if err != nil {
		return err
	}
	return b.ClearAll(ctx)
}

func (s *Store) ClearAllAsync(ctx context.Context) *async.Future[struct{}] {
	b, err := s.suspendable("ClearAll", false)
	if err != nil {
		return async.Resolve(struct{}{}, err)
	}
	return b.ClearAllAsync(ctx)
}

package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"blackbox-agent/internal/async"
)

// Summary is the per-conversation metadata the in-memory backend keeps next
// to the conversations themselves.
type Summary struct {
	MessageCount int
	LastUpdated  time.Time
	SavedAt      time.Time
}

// MemoryBackend keeps conversations in process memory. It accepts both call
// families; the suspendable forms complete before they return.
//
// The mutex only protects the maps. It does not order mutations of one
// conversation made through the handles it returns.
type MemoryBackend struct {
	mu        sync.RWMutex
	chats     map[string]*Conversation
	summaries map[string]Summary
	now       func() time.Time
}

var _ UniversalBackend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		chats:     make(map[string]*Conversation),
		summaries: make(map[string]Summary),
		now:       time.Now,
	}
}

func (m *MemoryBackend) Capability() Capability { return Universal }

func (m *MemoryBackend) Save(_ context.Context, c *Conversation) error {
	if c == nil {
		return errors.New("conversation: memory Save: conversation must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID()] = c
	meta := c.Metadata()
	m.summaries[c.ID()] = Summary{
		MessageCount: meta.MessageCount,
		LastUpdated:  meta.LastUpdated,
		SavedAt:      m.now().UTC(),
	}
	return nil
}

func (m *MemoryBackend) Load(_ context.Context, chatID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *MemoryBackend) GetOrCreate(_ context.Context, chatID string, now time.Time) (*Conversation, error) {
	if chatID == "" {
		return nil, errors.New("conversation: memory GetOrCreate: chat id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chats[chatID]; ok {
		return c, nil
	}
	c := New(chatID, now)
	m.chats[chatID] = c
	m.summaries[chatID] = Summary{LastUpdated: c.Metadata().LastUpdated}
	return c, nil
}

func (m *MemoryBackend) Delete(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	delete(m.summaries, chatID)
	return nil
}

// ListAll returns every conversation ordered by creation time, then id.
func (m *MemoryBackend) ListAll(_ context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	out := make([]*Conversation, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

func (m *MemoryBackend) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.chats)
	clear(m.summaries)
	return nil
}

func (m *MemoryBackend) ClearHistory(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	c.reset()
	m.summaries[chatID] = Summary{LastUpdated: c.Metadata().LastUpdated, SavedAt: m.now().UTC()}
	return nil
}

// Summary returns the side metadata recorded for chatID.
func (m *MemoryBackend) Summary(chatID string) (Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[chatID]
	return s, ok
}

func (m *MemoryBackend) SaveAsync(ctx context.Context, c *Conversation) *async.Future[struct{}] {
	return async.Resolve(struct{}{}, m.Save(ctx, c))
}

func (m *MemoryBackend) LoadAsync(ctx context.Context, chatID string) *async.Future[*Conversation] {
	return async.Resolve(m.Load(ctx, chatID))
}

func (m *MemoryBackend) GetOrCreateAsync(ctx context.Context, chatID string, now time.Time) *async.Future[*Conversation] {
	return async.Resolve(m.GetOrCreate(ctx, chatID, now))
}

func (m *MemoryBackend) DeleteAsync(ctx context.Context, chatID string) *async.Future[struct{}] {
	return async.Resolve(struct{}{}, m.Delete(ctx, chatID))
}

func (m *MemoryBackend) ListAllAsync(ctx context.Context) *async.Future[[]*Conversation] {
	return async.Resolve(m.ListAll(ctx))
}

func (m *MemoryBackend) ClearAllAsync(ctx context.Context) *async.Future[struct{}] {
	return async.Resolve(struct{}{}, m.ClearAll(ctx))
}

func (m *MemoryBackend) ClearHistoryAsync(ctx context.Context, chatID string) *async.Future[struct{}] {
	return async.Resolve(struct{}{}, m.ClearHistory(ctx, chatID))
}

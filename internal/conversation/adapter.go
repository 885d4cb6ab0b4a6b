package conversation

import (
	"context"
	"errors"
	"time"

	"blackbox-agent/internal/async"
)

// AsyncAdapter exposes a blocking backend through the suspendable call family
// only. Each operation runs on its own goroutine.
type AsyncAdapter struct {
	inner SyncBackend
}

var _ AsyncBackend = (*AsyncAdapter)(nil)

func NewAsyncAdapter(inner SyncBackend) (*AsyncAdapter, error) {
	if inner == nil {
		return nil, errors.New("conversation: inner backend must not be nil")
	}
	return &AsyncAdapter{inner: inner}, nil
}

func (a *AsyncAdapter) Capability() Capability { return Asynchronous }

// SaveAsync snapshots c before returning, so the caller may keep using c
// while the save is in flight.
func (a *AsyncAdapter) SaveAsync(ctx context.Context, c *Conversation) *async.Future[struct{}] {
	if c == nil {
		return async.Resolve(struct{}{}, errors.New("conversation: SaveAsync: conversation must not be nil"))
	}
	snapshot := c.Clone()
	return async.Run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.inner.Save(ctx, snapshot)
	})
}

func (a *AsyncAdapter) LoadAsync(ctx context.Context, chatID string) *async.Future[*Conversation] {
	return async.Run(ctx, func(ctx context.Context) (*Conversation, error) {
		return a.inner.Load(ctx, chatID)
	})
}

func (a *AsyncAdapter) GetOrCreateAsync(ctx context.Context, chatID string, now time.Time) *async.Future[*Conversation] {
	return async.Run(ctx, func(ctx context.Context) (*Conversation, error) {
		return a.inner.GetOrCreate(ctx, chatID, now)
	})
}

func (a *AsyncAdapter) DeleteAsync(ctx context.Context, chatID string) *async.Future[struct{}] {
	return async.Run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.inner.Delete(ctx, chatID)
	})
}

func (a *AsyncAdapter) ListAllAsync(ctx context.Context) *async.Future[[]*Conversation] {
	return async.Run(ctx, func(ctx context.Context) ([]*Conversation, error) {
		return a.inner.ListAll(ctx)
	})
}

func (a *AsyncAdapter) ClearAllAsync(ctx context.Context) *async.Future[struct{}] {
	return async.Run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.inner.ClearAll(ctx)
	})
}

func (a *AsyncAdapter) ClearHistoryAsync(ctx context.Context, chatID string) *async.Future[struct{}] {
	return async.Run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.inner.ClearHistory(ctx, chatID)
	})
}

package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// steppingClock returns epoch, epoch+1s, epoch+2s, ... on successive calls.
func steppingClock() func() time.Time {
	n := 0
	return func() time.Time {
		t := epoch.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestStore(t *testing.T, b Backend) *Store {
	t.Helper()
	s, err := NewStore(b, WithClock(steppingClock()), WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)
	return s
}

func requireConsistent(t *testing.T, c *Conversation) {
	t.Helper()
	require.Equal(t, c.Len(), c.Metadata().MessageCount)
	require.LessOrEqual(t, c.Len(), MaxMessages)
}

// syncOnly is a blocking-only backend built on the memory backend.
type syncOnly struct{ *MemoryBackend }

func (syncOnly) Capability() Capability { return Synchronous }

// failingSave fails every Save.
type failingSave struct{ *MemoryBackend }

func (failingSave) Save(context.Context, *Conversation) error { return errors.New("disk full") }

func TestNewStore_NilBackend(t *testing.T) {
	_, err := NewStore(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, "chat-1", first.ID())
	require.Zero(t, first.Len())
	require.Equal(t, Metadata{LastUpdated: first.CreatedAt()}, first.Metadata())

	second, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)
	require.Same(t, first, second)
}

func TestGetOrCreate_EmptyIDIsGenerated(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	c, err := s.GetOrCreate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "id-1", c.ID())
}

func TestAppendMessage_KeepsLastMaxMessagesInOrder(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)

	const n = 40
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendMessage(ctx, c, RoleUser, fmt.Sprintf("msg-%d", i), ""))
		requireConsistent(t, c)
	}

	msgs := c.Messages()
	require.Len(t, msgs, MaxMessages)
	for i, m := range msgs {
		require.Equal(t, fmt.Sprintf("msg-%d", n-MaxMessages+i), m.Content)
	}
	require.Equal(t, MaxMessages, c.Metadata().MessageCount)
}

func TestAppendMessage_AssignsIdentityAndUpdatesMetadata(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)
	created := c.CreatedAt()

	require.NoError(t, s.AppendMessage(ctx, c, RoleUser, "hello", "data:image/png;base64,AAAA"))
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.NotEmpty(t, msgs[0].ID)
	require.False(t, msgs[0].CreatedAt.IsZero())
	require.Equal(t, "data:image/png;base64,AAAA", msgs[0].Image)
	require.True(t, c.Metadata().LastUpdated.After(created))
	require.Equal(t, created, c.CreatedAt())
}

func TestAppendMessage_PersistsThroughBackend(t *testing.T) {
	b := NewMemoryBackend()
	s := newTestStore(t, b)
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, c, RoleUser, "hi", ""))
	require.NoError(t, s.AppendMessage(ctx, c, RoleAssistant, "hello", ""))

	sum, ok := b.Summary("chat-1")
	require.True(t, ok)
	require.Equal(t, 2, sum.MessageCount)
	require.Equal(t, c.Metadata().LastUpdated, sum.LastUpdated)

	loaded, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())
}

func TestAppendMessage_InvalidRole(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)

	err = s.AppendMessage(ctx, c, Role("tool"), "x", "")
	require.ErrorIs(t, err, ErrInvalidRole)
	require.Zero(t, c.Len())
}

func TestAppendMessage_SaveError(t *testing.T) {
	s := newTestStore(t, failingSave{NewMemoryBackend()})
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)

	err = s.AppendMessage(ctx, c, RoleUser, "x", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
}

func TestAppendMessage_AsyncOnlyBackend(t *testing.T) {
	adapter, err := NewAsyncAdapter(NewMemoryBackend())
	require.NoError(t, err)
	s := newTestStore(t, adapter)
	ctx := context.Background()

	c, err := s.GetOrCreateAsync(ctx, "chat-1").Await(ctx)
	require.NoError(t, err)

	err = s.AppendMessage(ctx, c, RoleUser, "blocked", "")
	require.ErrorIs(t, err, ErrCapabilityMismatch)
	var capErr *CapabilityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, Asynchronous, capErr.Capability)
	require.Equal(t, Blocking, capErr.Mode)
	require.Zero(t, c.Len())
	require.Zero(t, c.Metadata().MessageCount)

	_, err = s.AppendMessageAsync(ctx, c, RoleUser, "allowed", "").Await(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	requireConsistent(t, c)

	loaded, err := s.LoadAsync(ctx, "chat-1").Await(ctx)
	require.NoError(t, err)
	require.Equal(t, "allowed", loaded.Messages()[0].Content)
}

func TestAppendMessage_SyncOnlyBackendRejectsSuspendable(t *testing.T) {
	s := newTestStore(t, syncOnly{NewMemoryBackend()})
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)

	_, err = s.AppendMessageAsync(ctx, c, RoleUser, "blocked", "").Await(ctx)
	require.ErrorIs(t, err, ErrCapabilityMismatch)
	require.Zero(t, c.Len())

	require.NoError(t, s.AppendMessage(ctx, c, RoleUser, "allowed", ""))
	require.Equal(t, 1, c.Len())
}

func TestAppendMessage_UniversalAcceptsBoth(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(ctx, c, RoleUser, "one", ""))
	_, err = s.AppendMessageAsync(ctx, c, RoleAssistant, "two", "").Await(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	requireConsistent(t, c)
}

func TestClearHistory_ResetsToCreation(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	c, err := s.GetOrCreate(ctx, "chat-1")
	require.NoError(t, err)
	created := c.CreatedAt()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendMessage(ctx, c, RoleUser, "x", ""))
	}
	require.NoError(t, s.ClearHistory(ctx, c))

	require.Zero(t, c.Len())
	require.Zero(t, c.Metadata().MessageCount)
	require.Equal(t, created, c.Metadata().LastUpdated)
	require.Equal(t, created, c.CreatedAt())
	require.Equal(t, "chat-1", c.ID())
}

func TestClearHistory_CapabilityMismatch(t *testing.T) {
	adapter, err := NewAsyncAdapter(NewMemoryBackend())
	require.NoError(t, err)
	s := newTestStore(t, adapter)
	ctx := context.Background()
	c, err := s.GetOrCreateAsync(ctx, "chat-1").Await(ctx)
	require.NoError(t, err)
	_, err = s.AppendMessageAsync(ctx, c, RoleUser, "x", "").Await(ctx)
	require.NoError(t, err)

	require.ErrorIs(t, s.ClearHistory(ctx, c), ErrCapabilityMismatch)
	require.Equal(t, 1, c.Len())

	_, err = s.ClearHistoryAsync(ctx, c).Await(ctx)
	require.NoError(t, err)
	require.Zero(t, c.Len())
	require.Equal(t, c.CreatedAt(), c.Metadata().LastUpdated)
}

func TestDelegatingOperations(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend())
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "b"))
	_, err = s.Load(ctx, "b")
	require.ErrorIs(t, err, ErrNotFound)

	all, err = s.ListAllAsync(ctx).Await(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = s.ClearAllAsync(ctx).Await(ctx)
	require.NoError(t, err)
	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDelegatingOperations_MissingCallFamily(t *testing.T) {
	adapter, err := NewAsyncAdapter(NewMemoryBackend())
	require.NoError(t, err)
	s := newTestStore(t, adapter)

	_, err = s.ListAll(context.Background())
	require.ErrorIs(t, err, ErrCapabilityMismatch)
	require.ErrorIs(t, s.Delete(context.Background(), "x"), ErrCapabilityMismatch)
}

func TestCapability_Supports(t *testing.T) {
	cases := []struct {
		capability Capability
		mode       Mode
		want       bool
	}{
		{Synchronous, Blocking, true},
		{Synchronous, Suspendable, false},
		{Asynchronous, Blocking, false},
		{Asynchronous, Suspendable, true},
		{Universal, Blocking, true},
		{Universal, Suspendable, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.capability.Supports(tc.mode), "%s/%s", tc.capability, tc.mode)
	}
}

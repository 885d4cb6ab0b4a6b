package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blackbox-agent/internal/domain"
)

func TestHistory_EvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	for _, c := range []string{"a", "b", "c"} {
		_, evicted := h.Push(Message{Content: c})
		require.False(t, evicted)
	}
	dropped, evicted := h.Push(Message{Content: "d"})
	require.True(t, evicted)
	require.Equal(t, "a", dropped.Content)

	got := h.Items()
	require.Equal(t, []string{"b", "c", "d"}, []string{got[0].Content, got[1].Content, got[2].Content})
	require.Equal(t, 3, h.Len())
	require.Equal(t, 3, h.Cap())
}

func TestHistory_ClearThenReuse(t *testing.T) {
	h := NewHistory(2)
	h.Push(Message{Content: "a"})
	h.Push(Message{Content: "b"})
	h.Push(Message{Content: "c"})
	h.Clear()
	require.Zero(t, h.Len())
	require.Empty(t, h.Items())

	h.Push(Message{Content: "x"})
	require.Equal(t, "x", h.Items()[0].Content)
}

func TestHistory_MinimumCapacity(t *testing.T) {
	require.Equal(t, 1, NewHistory(0).Cap())
}

func TestMessageFactory_Build(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := MessageFactory{Now: func() time.Time { return at }, NewID: func() string { return "fixed" }}

	m, err := f.New(RoleSystem, "be brief", "")
	require.NoError(t, err)
	require.Equal(t, "fixed", m.ID)
	require.Equal(t, at, m.CreatedAt)

	kept, err := f.Build(Message{ID: "given", Role: RoleUser, CreatedAt: at.Add(-time.Hour)})
	require.NoError(t, err)
	require.Equal(t, "given", kept.ID)
	require.Equal(t, at.Add(-time.Hour), kept.CreatedAt)

	_, err = f.New(Role("bot"), "x", "")
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestRecordRestore_KeepsNewestAndRecountsMetadata(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := domain.ConversationRecord{
		ChatID:       "chat-9",
		CreatedAt:    created,
		MessageCount: 999,
		LastUpdated:  created.Add(time.Minute),
	}
	for i := 0; i < MaxMessages+5; i++ {
		rec.Messages = append(rec.Messages, domain.MessageRecord{ID: string(rune('a' + i%26)), Role: "user", Content: "m"})
	}

	c, err := Restore(rec)
	require.NoError(t, err)
	require.Equal(t, MaxMessages, c.Len())
	require.Equal(t, MaxMessages, c.Metadata().MessageCount)
	require.Equal(t, created, c.CreatedAt())
	require.Equal(t, created.Add(time.Minute), c.Metadata().LastUpdated)

	back := c.Record()
	require.Equal(t, "chat-9", back.ChatID)
	require.Len(t, back.Messages, MaxMessages)
	require.Equal(t, rec.Messages[5].ID, back.Messages[0].ID)
}

func TestRestore_Rejects(t *testing.T) {
	_, err := Restore(domain.ConversationRecord{})
	require.Error(t, err)

	_, err = Restore(domain.ConversationRecord{ChatID: "x", Messages: []domain.MessageRecord{{Role: "robot"}}})
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestClone_IsIndependent(t *testing.T) {
	c := New("chat-1", time.Now())
	c.push(Message{Content: "a", Role: RoleUser}, time.Now())
	cp := c.Clone()
	c.push(Message{Content: "b", Role: RoleUser}, time.Now())

	require.Equal(t, 1, cp.Len())
	require.Equal(t, 2, c.Len())
}

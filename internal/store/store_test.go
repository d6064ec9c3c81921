package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medfatnasii277/portalbell/internal/model"
	"github.com/medfatnasii277/portalbell/internal/store"
)

func rec(id int64, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.TypeDocumentShared,
		Title:     "title",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Read:      read,
	}
}

func ids(s store.Snapshot) []int64 {
	out := make([]int64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.ID
	}
	return out
}

func TestNotificationStore_PrependDistinctThenReplaceAll(t *testing.T) {
	s := store.NewNotificationStore()

	seen := map[int64]bool{}
	for _, id := range []int64{5, 9, 5, 2, 9, 11, 2} {
		s.Prepend(rec(id, false))
		seen[id] = true
	}
	assert.Equal(t, len(seen), s.Len())

	s.ReplaceAll([]model.Notification{rec(1, false), rec(2, true)})
	assert.Equal(t, 2, s.Len())

	s.ReplaceAll([]model.Notification{rec(3, false)})
	assert.Equal(t, 1, s.Len())
}

func TestNotificationStore_ReplaceAllDropsDuplicateIDs(t *testing.T) {
	s := store.NewNotificationStore()

	first := rec(1, false)
	first.Title = "first"
	second := rec(1, true)
	second.Title = "second"
	s.ReplaceAll([]model.Notification{first, rec(2, false), second})

	snap := s.Snapshot()
	assert.Equal(t, []int64{1, 2}, ids(snap))
	assert.Equal(t, "first", snap.Records[0].Title)
}

func TestNotificationStore_PrependExistingUpdatesInPlace(t *testing.T) {
	s := store.NewNotificationStore()
	s.ReplaceAll([]model.Notification{rec(1, false), rec(2, false), rec(3, false)})

	updated := rec(2, true)
	updated.Title = "changed"
	inserted, prev := s.Prepend(updated)

	assert.False(t, inserted)
	require.NotNil(t, prev)
	assert.False(t, prev.Read)
	snap := s.Snapshot()
	assert.Equal(t, []int64{1, 2, 3}, ids(snap))
	assert.Equal(t, "changed", snap.Records[1].Title)

	got, ok := s.Get(3)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.ID)
}

func TestNotificationStore_MarkReadIdempotent(t *testing.T) {
	s := store.NewNotificationStore()
	s.ReplaceAll([]model.Notification{rec(1, false), rec(2, false)})
	s.SetUnreadCount(2)

	assert.True(t, s.MarkRead(1))
	assert.False(t, s.MarkRead(1))
	assert.Equal(t, 1, s.UnreadCount())

	assert.False(t, s.MarkRead(42))
	assert.Equal(t, 1, s.UnreadCount())
}

func TestNotificationStore_CounterNeverNegative(t *testing.T) {
	s := store.NewNotificationStore()
	s.ReplaceAll([]model.Notification{rec(1, false), rec(2, false), rec(3, true)})

	steps := []func(){
		func() { s.SetUnreadCount(-4) },
		func() { s.MarkRead(1) },
		func() { s.AdjustUnreadCount(-10) },
		func() { s.MarkRead(2) },
		func() { s.SetUnreadCount(1) },
		func() { s.MarkAllRead() },
		func() { s.AdjustUnreadCount(-1) },
	}
	for _, step := range steps {
		step()
		assert.GreaterOrEqual(t, s.UnreadCount(), 0)
	}
}

func TestNotificationStore_MarkAllRead(t *testing.T) {
	s := store.NewNotificationStore()
	s.ReplaceAll([]model.Notification{rec(1, false), rec(2, true), rec(3, false)})
	s.SetUnreadCount(7)

	s.MarkAllRead()

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	for _, r := range snap.Records {
		assert.True(t, r.Read, "record %d", r.ID)
	}
}

func TestNotificationStore_Scenarios(t *testing.T) {
	s := store.NewNotificationStore()

	// A: bulk load keeps server order.
	s.ReplaceAll([]model.Notification{rec(1, false), rec(2, true)})
	s.SetUnreadCount(1)
	snap := s.Snapshot()
	assert.Equal(t, []int64{1, 2}, ids(snap))
	assert.Equal(t, 1, snap.UnreadCount)

	// B: a new push goes first and bumps the counter.
	inserted, _ := s.Prepend(model.Notification{
		ID:        3,
		Type:      model.TypeSystemMessage,
		Title:     "T",
		Message:   "M",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.True(t, inserted)
	s.AdjustUnreadCount(1)
	snap = s.Snapshot()
	assert.Equal(t, []int64{3, 1, 2}, ids(snap))
	assert.Equal(t, 2, snap.UnreadCount)

	// C: the same id again updates in place.
	again := rec(3, true)
	inserted, _ = s.Prepend(again)
	assert.False(t, inserted)
	snap = s.Snapshot()
	assert.Equal(t, []int64{3, 1, 2}, ids(snap))
	assert.True(t, snap.Records[0].Read)
}

func TestNotificationStore_ScenarioD(t *testing.T) {
	s := store.NewNotificationStore()
	s.ReplaceAll([]model.Notification{rec(1, false), rec(2, true)})
	s.SetUnreadCount(1)

	s.MarkRead(1)
	got, _ := s.Get(1)
	assert.True(t, got.Read)
	assert.Equal(t, 0, s.UnreadCount())

	s.MarkRead(1)
	assert.Equal(t, 0, s.UnreadCount())
}

func TestNotificationStore_SnapshotIsCopy(t *testing.T) {
	s := store.NewNotificationStore()
	s.ReplaceAll([]model.Notification{rec(1, false)})

	snap := s.Snapshot()
	snap.Records[0].Read = true

	got, _ := s.Get(1)
	assert.False(t, got.Read)
}

func TestNotificationStore_Subscribe(t *testing.T) {
	s := store.NewNotificationStore()
	ch, cancel := s.Subscribe()

	s.SetUnreadCount(1)
	s.SetUnreadCount(2)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected change signal")
	}

	// Both mutations coalesced into one pending signal.
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	// No panic after unsubscribe.
	s.MarkAllRead()
}

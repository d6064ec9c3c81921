package sync_test

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medfatnasii277/portalbell/internal/model"
	"github.com/medfatnasii277/portalbell/internal/store"
	"github.com/medfatnasii277/portalbell/internal/sync"
	"github.com/medfatnasii277/portalbell/internal/testutil"
	"github.com/medfatnasii277/portalbell/internal/transport"
)

type fakeTransport struct {
	mu          gosync.Mutex
	handler     transport.Handler
	identity    string
	connects    int
	disconnects int
}

func (f *fakeTransport) Connect(identity string, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = identity
	f.handler = h
	f.connects++
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeTransport) State() transport.State {
	return transport.Connected
}

func (f *fakeTransport) push(t *testing.T, body string) {
	t.Helper()
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	require.NotNil(t, h, "transport not connected")
	h(transport.Message{Destination: "/user/queue/notifications", Body: []byte(body)})
}

type fakeAPI struct {
	mu         gosync.Mutex
	list       []model.Notification
	count      int
	listErr    error
	markErr    error
	markAllErr error
	marked     []int64
	markedAll  int
	listCalls  int
	// gate, when set, blocks ListNotifications until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeAPI) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.listCalls++
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Notification(nil), f.list...), nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return f.markErr
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedAll++
	return f.markAllErr
}

func (f *fakeAPI) set(list []model.Notification, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = list
	f.count = count
}

func rec(id int64, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.TypeDocumentShared,
		Title:     fmt.Sprintf("n%d", id),
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Read:      read,
	}
}

func pushBody(id int64, read bool) string {
	return fmt.Sprintf(
		`{"id":%d,"type":"SYSTEM_MESSAGE","title":"T","message":"M","createdAt":"2024-01-02T00:00:00Z","read":%t}`,
		id, read,
	)
}

func ids(s store.Snapshot) []int64 {
	out := make([]int64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.ID
	}
	return out
}

func newEngine(t *testing.T, opts ...sync.Option) (*sync.Engine, *fakeTransport, *fakeAPI) {
	t.Helper()
	tr := &fakeTransport{}
	api := &fakeAPI{}
	e := sync.NewEngine(store.NewNotificationStore(), tr, api, opts...)
	t.Cleanup(e.Close)
	return e, tr, api
}

func TestEngine_InitializeLoadsAndConnects(t *testing.T) {
	e, tr, api := newEngine(t)
	api.set([]model.Notification{rec(1, false), rec(2, true)}, 1)

	require.NoError(t, e.Initialize(context.Background(), "alice"))

	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{1, 2}, ids(snap))
	assert.Equal(t, 1, snap.UnreadCount)
	assert.Equal(t, "alice", tr.identity)
	assert.Equal(t, 1, tr.connects)
	assert.Equal(t, "alice", e.Identity())
}

func TestEngine_InitializeWithoutIdentityIsNoop(t *testing.T) {
	e, tr, api := newEngine(t)

	require.NoError(t, e.Initialize(context.Background(), ""))

	assert.Equal(t, 0, tr.connects)
	assert.Equal(t, 0, api.listCalls)
	assert.Equal(t, "", e.Identity())

	// Once the identity arrives the session starts normally.
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	assert.Equal(t, 1, tr.connects)
	assert.Equal(t, "alice", tr.identity)
	assert.Equal(t, 1, api.listCalls)
	assert.Equal(t, 1, e.Store().UnreadCount())
}

func TestEngine_InitializeSameIdentityTwice(t *testing.T) {
	e, tr, _ := newEngine(t)

	require.NoError(t, e.Initialize(context.Background(), "alice"))
	require.NoError(t, e.Initialize(context.Background(), "alice"))
	assert.Equal(t, 1, tr.connects)

	require.NoError(t, e.Initialize(context.Background(), "bob"))
	assert.Equal(t, 2, tr.connects)
	assert.Equal(t, 1, tr.disconnects)
	assert.Equal(t, "bob", tr.identity)
}

func TestEngine_PushPolicy(t *testing.T) {
	e, tr, api := newEngine(t)
	api.set([]model.Notification{rec(1, false), rec(2, true)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	// B: a new unread push goes first and bumps the counter.
	tr.push(t, pushBody(3, false))
	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{3, 1, 2}, ids(snap))
	assert.Equal(t, 2, snap.UnreadCount)

	// C: identical redelivery changes nothing.
	tr.push(t, pushBody(3, false))
	snap = e.Store().Snapshot()
	assert.Equal(t, []int64{3, 1, 2}, ids(snap))
	assert.Equal(t, 2, snap.UnreadCount)

	// A read flip on an existing record adjusts the counter.
	tr.push(t, pushBody(1, true))
	snap = e.Store().Snapshot()
	assert.Equal(t, []int64{3, 1, 2}, ids(snap))
	assert.Equal(t, 1, snap.UnreadCount)

	// A new record that is already read does not count.
	tr.push(t, pushBody(4, true))
	assert.Equal(t, 1, e.Store().UnreadCount())
	assert.Equal(t, 4, e.Store().Len())
}

func TestEngine_MalformedPushDropped(t *testing.T) {
	e, tr, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	// F
	tr.push(t, `{"id":`)
	tr.push(t, `{"title":"no id"}`)

	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{1}, ids(snap))
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestEngine_PushDuringRefreshSurvives(t *testing.T) {
	e, tr, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	// The server list was captured before push 9 existed.
	api.mu.Lock()
	api.gate = make(chan struct{})
	api.entered = make(chan struct{}, 1)
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- e.Refresh(context.Background())
	}()
	<-api.entered

	tr.push(t, pushBody(9, false))
	close(api.gate)
	require.NoError(t, <-done)

	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{9, 1}, ids(snap))
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestEngine_PushDuringRefreshNotCountedTwice(t *testing.T) {
	e, tr, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	api.mu.Lock()
	api.gate = make(chan struct{})
	api.entered = make(chan struct{}, 1)
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- e.Refresh(context.Background())
	}()
	<-api.entered

	// The list was read before push 9 landed, the count after it.
	tr.push(t, pushBody(9, false))
	api.mu.Lock()
	api.count = 2
	api.mu.Unlock()
	close(api.gate)
	require.NoError(t, <-done)

	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{9, 1}, ids(snap))
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestEngine_RefreshTrustsHigherServerCount(t *testing.T) {
	e, _, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 5)

	require.NoError(t, e.Initialize(context.Background(), "alice"))
	assert.Equal(t, 5, e.Store().UnreadCount())
}

func TestEngine_PushAlreadyInRefreshIsNotDuplicated(t *testing.T) {
	e, tr, api := newEngine(t)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	api.mu.Lock()
	api.list = []model.Notification{rec(9, false), rec(1, false)}
	api.count = 2
	api.gate = make(chan struct{})
	api.entered = make(chan struct{}, 1)
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- e.Refresh(context.Background())
	}()
	<-api.entered

	tr.push(t, pushBody(9, false))
	close(api.gate)
	require.NoError(t, <-done)

	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{9, 1}, ids(snap))
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestEngine_RefreshFailureKeepsState(t *testing.T) {
	e, _, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	api.mu.Lock()
	api.listErr = errors.New("boom")
	api.mu.Unlock()

	err := e.Refresh(context.Background())
	require.Error(t, err)

	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{1}, ids(snap))
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestEngine_TeardownDropsLateRefresh(t *testing.T) {
	e, tr, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	api.mu.Lock()
	api.list = []model.Notification{rec(5, false), rec(6, false)}
	api.count = 2
	api.gate = make(chan struct{})
	api.entered = make(chan struct{}, 1)
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- e.Refresh(context.Background())
	}()
	<-api.entered

	e.Teardown()
	assert.Equal(t, 1, tr.disconnects)
	close(api.gate)
	require.NoError(t, <-done)

	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{1}, ids(snap))
	assert.Equal(t, 1, snap.UnreadCount)

	// Teardown twice is harmless.
	e.Teardown()
	assert.Equal(t, 1, tr.disconnects)
}

func TestEngine_PushAfterTeardownIgnored(t *testing.T) {
	e, tr, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	e.Teardown()
	tr.push(t, pushBody(2, false))

	assert.Equal(t, 1, e.Store().Len())
}

func TestEngine_MarkReadOptimisticThenRefresh(t *testing.T) {
	e, _, api := newEngine(t)
	api.set([]model.Notification{rec(1, false), rec(2, true)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	// D: the server now agrees.
	api.set([]model.Notification{rec(1, true), rec(2, true)}, 0)
	require.NoError(t, e.MarkRead(context.Background(), 1))

	got, ok := e.Store().Get(1)
	require.True(t, ok)
	assert.True(t, got.Read)
	assert.Equal(t, 0, e.Store().UnreadCount())
	assert.Equal(t, []int64{1}, api.marked)
	assert.Equal(t, 2, api.listCalls)
}

func TestEngine_MarkReadFailureStillRefreshes(t *testing.T) {
	e, _, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	api.mu.Lock()
	api.markErr = errors.New("rejected")
	api.mu.Unlock()

	require.Error(t, e.MarkRead(context.Background(), 1))

	// The server never recorded the read, and the refresh says so.
	got, _ := e.Store().Get(1)
	assert.False(t, got.Read)
	assert.Equal(t, 1, e.Store().UnreadCount())
	assert.Equal(t, 2, api.listCalls)
}

func TestEngine_MarkReadOfflineKeepsOptimisticState(t *testing.T) {
	e, _, api := newEngine(t)
	api.set([]model.Notification{rec(1, false)}, 1)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	api.mu.Lock()
	api.markErr = errors.New("offline")
	api.listErr = errors.New("offline")
	api.mu.Unlock()

	require.Error(t, e.MarkRead(context.Background(), 1))

	got, _ := e.Store().Get(1)
	assert.True(t, got.Read)
	assert.Equal(t, 0, e.Store().UnreadCount())
}

func TestEngine_MarkAllRead(t *testing.T) {
	e, _, api := newEngine(t)
	api.set([]model.Notification{rec(1, false), rec(2, false)}, 2)
	require.NoError(t, e.Initialize(context.Background(), "alice"))

	api.mu.Lock()
	api.markAllErr = errors.New("offline")
	api.mu.Unlock()

	// E: local state is all read even though the server call failed.
	require.Error(t, e.MarkAllRead(context.Background()))

	snap := e.Store().Snapshot()
	assert.Equal(t, 0, snap.UnreadCount)
	for _, r := range snap.Records {
		assert.True(t, r.Read)
	}
	assert.Equal(t, 1, api.markedAll)
}

func TestEngine_CacheSeedAndSave(t *testing.T) {
	cache := testutil.NewTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Save(ctx, "alice", store.Snapshot{
		Records:     []model.Notification{rec(7, false)},
		UnreadCount: 1,
	}))

	e, _, api := newEngine(t, sync.WithCache(cache))
	api.mu.Lock()
	api.listErr = errors.New("server down")
	api.mu.Unlock()

	require.Error(t, e.Initialize(ctx, "alice"))

	// The cached snapshot is shown while the server is unreachable.
	snap := e.Store().Snapshot()
	assert.Equal(t, []int64{7}, ids(snap))
	assert.Equal(t, 1, snap.UnreadCount)

	api.mu.Lock()
	api.listErr = nil
	api.list = []model.Notification{rec(8, false), rec(7, true)}
	api.count = 1
	api.mu.Unlock()
	require.NoError(t, e.Refresh(ctx))

	saved, ok, err := cache.Load(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int64{8, 7}, ids(saved))
	assert.Equal(t, 1, saved.UnreadCount)
}

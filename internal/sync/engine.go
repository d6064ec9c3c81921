// Package sync reconciles pushed notifications with REST snapshots and keeps
// the in-memory store current.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	gosync "sync"
	"time"

	"github.com/medfatnasii277/portalbell/internal/logger"
	"github.com/medfatnasii277/portalbell/internal/model"
	"github.com/medfatnasii277/portalbell/internal/store"
	"github.com/medfatnasii277/portalbell/internal/transport"
)

// Transport is the push channel the engine drives.
type Transport interface {
	Connect(identity string, handler transport.Handler)
	Disconnect()
	State() transport.State
}

// API is the subset of the REST client the engine needs.
type API interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// Cache persists the last snapshot per identity.
type Cache interface {
	Load(ctx context.Context, owner string) (store.Snapshot, bool, error)
	Save(ctx context.Context, owner string, snap store.Snapshot) error
}

const cacheTimeout = 5 * time.Second

// Engine owns the notification store for one signed-in identity. All store
// mutations run on a single writer goroutine.
type Engine struct {
	store     *store.NotificationStore
	transport Transport
	api       API
	cache     Cache
	log       *slog.Logger
	now       func() time.Time

	ops        chan func()
	stopped    chan struct{}
	writerDone chan struct{}
	stopOnce   gosync.Once

	mu       gosync.Mutex
	identity string
	active   bool
	session  uint64

	// Writer-only state: pushes seen while a refresh is in flight.
	refreshing int
	pending    []model.Notification
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables snapshot persistence.
func WithCache(c Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithClock overrides time.Now, used as the default createdAt of pushes.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine and starts its writer goroutine. Call Close to
// stop it.
func NewEngine(st *store.NotificationStore, tr Transport, api API, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		transport:  tr,
		api:        api,
		now:        time.Now,
		ops:        make(chan func(), 64),
		stopped:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.WithComponent("sync")
	}

	go e.writer()
	return e
}

// Store returns the store the engine writes to.
func (e *Engine) Store() *store.NotificationStore {
	return e.store
}

// ConnectionState reports the transport state.
func (e *Engine) ConnectionState() transport.State {
	return e.transport.State()
}

// Identity returns the active identity, or "" when none.
func (e *Engine) Identity() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return ""
	}
	return e.identity
}

// Initialize starts a session for identity: seed from the cache, connect the
// push channel, then load from REST. An empty identity leaves the engine
// waiting. Re-initializing the active identity is a no-op; a different one
// tears the current session down first.
func (e *Engine) Initialize(ctx context.Context, identity string) error {
	if identity == "" {
		e.log.Info("no identity yet, waiting")
		return nil
	}

	e.mu.Lock()
	if e.active && e.identity == identity {
		e.mu.Unlock()
		return nil
	}
	switching := e.identity != "" && e.identity != identity
	wasActive := e.active
	e.mu.Unlock()

	if wasActive {
		e.Teardown()
	}

	e.mu.Lock()
	e.identity = identity
	e.active = true
	e.session++
	sess := e.session
	e.mu.Unlock()

	e.log.Info("initializing session", "identity", identity)

	if switching {
		e.apply(func() {
			e.store.ReplaceAll(nil)
			e.store.SetUnreadCount(0)
		})
	}

	e.seedFromCache(ctx, sess, identity)
	e.transport.Connect(identity, e.pushHandler(sess))

	if err := e.Refresh(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	return nil
}

func (e *Engine) seedFromCache(ctx context.Context, sess uint64, identity string) {
	if e.cache == nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	snap, ok, err := e.cache.Load(cctx, identity)
	if err != nil {
		e.log.Warn("loading cached snapshot", "error", err)
		return
	}
	if !ok {
		return
	}

	e.apply(func() {
		if !e.isSession(sess) || e.store.Len() > 0 {
			return
		}
		e.store.ReplaceAll(snap.Records)
		e.store.SetUnreadCount(snap.UnreadCount)
		e.log.Debug("seeded from cache", "records", len(snap.Records))
	})
}

// pushHandler binds inbound messages to session sess so late deliveries
// from a torn-down session are ignored.
func (e *Engine) pushHandler(sess uint64) transport.Handler {
	return func(msg transport.Message) {
		n, err := model.DecodePush(msg.Body, e.now())
		if err != nil {
			e.log.Warn("dropping malformed push",
				"destination", msg.Destination,
				"error", err,
			)
			return
		}

		e.apply(func() {
			if !e.isSession(sess) {
				return
			}
			e.applyPush(n)
			if e.refreshing > 0 {
				e.pending = append(e.pending, n)
			}
		})
	}
}

// applyPush merges one pushed record. Writer goroutine only.
func (e *Engine) applyPush(n model.Notification) {
	inserted, prev := e.store.Prepend(n)
	switch {
	case inserted:
		if !n.Read {
			e.store.AdjustUnreadCount(1)
		}
	case prev.Read && !n.Read:
		e.store.AdjustUnreadCount(1)
	case !prev.Read && n.Read:
		e.store.AdjustUnreadCount(-1)
	}
}

// Refresh loads the full list and the unread count and replaces the store
// contents. Pushes that arrive while the fetch is in flight and are missing
// from the result are merged back on top without being counted again; the
// counter becomes the larger of the server count and the unread records
// held.
func (e *Engine) Refresh(ctx context.Context) error {
	sess, ok := e.currentSession()
	if !ok {
		return nil
	}

	e.apply(func() {
		e.refreshing++
	})

	list, err := e.api.ListNotifications(ctx)
	var count int
	if err == nil {
		count, err = e.api.UnreadCount(ctx)
	}

	applied := false
	e.apply(func() {
		e.refreshing--
		pending := e.pending
		if e.refreshing == 0 {
			e.pending = nil
		}
		if err != nil || !e.isSession(sess) {
			return
		}

		e.store.ReplaceAll(list)

		fetched := make(map[int64]bool, len(list))
		for _, n := range list {
			fetched[n.ID] = true
		}
		for _, n := range pending {
			if !fetched[n.ID] {
				e.store.Prepend(n)
			}
		}

		// The server count is authoritative, but it can predate pushes
		// that were merged back above. Never show fewer than the unread
		// records on screen.
		e.store.SetUnreadCount(max(count, unreadRecords(e.store.Snapshot())))
		applied = true
	})

	if err != nil {
		e.log.Warn("refresh failed, keeping last state", "error", err)
		return fmt.Errorf("refreshing notifications: %w", err)
	}
	if !applied {
		e.log.Debug("dropping refresh result from a closed session")
		return nil
	}

	e.log.Debug("refreshed", "records", len(list), "unread", count)
	e.saveSnapshot(sess)
	return nil
}

// MarkRead marks id read locally, then on the server, then refreshes so the
// store converges on the server state. A server failure is not rolled back
// locally; the refresh that follows decides.
func (e *Engine) MarkRead(ctx context.Context, id int64) error {
	e.apply(func() {
		e.store.MarkRead(id)
	})

	if _, ok := e.currentSession(); !ok {
		return nil
	}

	markErr := e.api.MarkRead(ctx, id)
	if markErr != nil {
		e.log.Warn("mark read failed", "id", id, "error", markErr)
		markErr = fmt.Errorf("marking %d read: %w", id, markErr)
	}

	if err := e.Refresh(ctx); err != nil {
		return errors.Join(markErr, err)
	}
	return markErr
}

// MarkAllRead marks everything read locally, then on the server. A server
// failure keeps the local state.
func (e *Engine) MarkAllRead(ctx context.Context) error {
	e.apply(func() {
		e.store.MarkAllRead()
	})

	if _, ok := e.currentSession(); !ok {
		return nil
	}

	if err := e.api.MarkAllRead(ctx); err != nil {
		e.log.Warn("mark all read failed, keeping local state", "error", err)
		return err
	}
	return nil
}

// Teardown ends the current session: disconnect, persist the snapshot and
// invalidate in-flight REST results. Safe to call repeatedly.
func (e *Engine) Teardown() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	identity := e.identity
	e.active = false
	e.session++
	e.mu.Unlock()

	e.log.Info("tearing down session", "identity", identity)
	e.transport.Disconnect()
	e.persist(identity)
}

// Close tears the session down and stops the writer goroutine.
func (e *Engine) Close() {
	e.Teardown()
	e.stopOnce.Do(func() {
		close(e.stopped)
	})
	<-e.writerDone
}

func unreadRecords(s store.Snapshot) int {
	n := 0
	for _, r := range s.Records {
		if !r.Read {
			n++
		}
	}
	return n
}

func (e *Engine) currentSession() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, e.active
}

func (e *Engine) isSession(sess uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active && e.session == sess
}

func (e *Engine) saveSnapshot(sess uint64) {
	e.mu.Lock()
	identity := e.identity
	e.mu.Unlock()
	if !e.isSession(sess) {
		return
	}
	e.persist(identity)
}

func (e *Engine) persist(identity string) {
	if e.cache == nil || identity == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := e.cache.Save(ctx, identity, e.store.Snapshot()); err != nil {
		e.log.Warn("saving snapshot", "error", err)
	}
}

// apply runs fn on the writer goroutine and waits for it. It returns false
// when the engine is closed.
func (e *Engine) apply(fn func()) bool {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case e.ops <- op:
	case <-e.stopped:
		return false
	}

	select {
	case <-done:
		return true
	case <-e.stopped:
		return false
	}
}

func (e *Engine) writer() {
	defer close(e.writerDone)
	for {
		select {
		case op := <-e.ops:
			e.run(op)
		case <-e.stopped:
			return
		}
	}
}

func (e *Engine) run(op func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("store update panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	op()
}

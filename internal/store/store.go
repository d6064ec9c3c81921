package store

import (
	"sync"

	"github.com/medfatnasii277/portalbell/internal/model"
)

// Snapshot is a point-in-time copy of the store contents.
type Snapshot struct {
	// Records are newest-first.
	Records     []model.Notification
	UnreadCount int
}

// NotificationStore holds the in-memory notification list and unread
// counter. Ids are unique within the list and the counter never goes below
// zero. Every method is safe for concurrent use; mutations signal
// subscribers after the lock is released.
type NotificationStore struct {
	mu      sync.RWMutex
	records []model.Notification
	index   map[int64]int
	unread  int

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}
}

// NewNotificationStore returns an empty store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		index: make(map[int64]int),
		subs:  make(map[chan struct{}]struct{}),
	}
}

// ReplaceAll sets the full ordered list, dropping previous contents. When
// the input repeats an id, the first occurrence wins.
func (s *NotificationStore) ReplaceAll(records []model.Notification) {
	s.mu.Lock()
	s.records = make([]model.Notification, 0, len(records))
	s.index = make(map[int64]int, len(records))
	for _, n := range records {
		if _, dup := s.index[n.ID]; dup {
			continue
		}
		s.index[n.ID] = len(s.records)
		s.records = append(s.records, n)
	}
	s.mu.Unlock()

	s.notify()
}

// Prepend inserts n at the front when its id is new. Otherwise the existing
// entry is replaced in place and its previous value is returned.
func (s *NotificationStore) Prepend(n model.Notification) (inserted bool, previous *model.Notification) {
	s.mu.Lock()
	if i, ok := s.index[n.ID]; ok {
		prev := s.records[i]
		s.records[i] = n
		s.mu.Unlock()
		s.notify()
		return false, &prev
	}

	s.records = append(s.records, model.Notification{})
	copy(s.records[1:], s.records[:len(s.records)-1])
	s.records[0] = n
	for i := range s.records {
		s.index[s.records[i].ID] = i
	}
	s.mu.Unlock()

	s.notify()
	return true, nil
}

// SetUnreadCount sets the counter to n, clamped at zero.
func (s *NotificationStore) SetUnreadCount(n int) {
	s.mu.Lock()
	s.unread = max(n, 0)
	s.mu.Unlock()

	s.notify()
}

// AdjustUnreadCount adds delta to the counter, clamped at zero.
func (s *NotificationStore) AdjustUnreadCount(delta int) {
	if delta == 0 {
		return
	}

	s.mu.Lock()
	s.unread = max(s.unread+delta, 0)
	s.mu.Unlock()

	s.notify()
}

// MarkRead flags the record as read. The counter drops by one only when the
// record was unread, so repeated calls decrement at most once. It reports
// whether anything changed.
func (s *NotificationStore) MarkRead(id int64) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok || s.records[i].Read {
		s.mu.Unlock()
		return false
	}
	s.records[i].Read = true
	s.unread = max(s.unread-1, 0)
	s.mu.Unlock()

	s.notify()
	return true
}

// MarkAllRead flags every record as read and zeroes the counter.
func (s *NotificationStore) MarkAllRead() {
	s.mu.Lock()
	for i := range s.records {
		s.records[i].Read = true
	}
	s.unread = 0
	s.mu.Unlock()

	s.notify()
}

// Snapshot returns a copy of the records and counter.
func (s *NotificationStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.Notification, len(s.records))
	copy(records, s.records)
	return Snapshot{Records: records, UnreadCount: s.unread}
}

// Get returns the record with the given id.
func (s *NotificationStore) Get(id int64) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return model.Notification{}, false
	}
	return s.records[i], true
}

// Len returns the number of records held.
func (s *NotificationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// UnreadCount returns the counter.
func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Subscribe returns a channel that receives after mutations. Signals
// coalesce: a slow reader sees one pending signal, not one per change.
// The returned func unsubscribes and closes the channel.
func (s *NotificationStore) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *NotificationStore) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Package registry holds the in-memory review registry: which thread backs each user's review.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Record describes one user's review thread.
type Record struct {
	UserID       string `json:"user_id"`
	ThreadID     string `json:"thread_id"`
	Category     string `json:"category"`
	ChannelID    string `json:"channel_id"`
	LeadRoleID   string `json:"lead_role_id"`
	BucketRoleID string `json:"bucket_role_id,omitempty"`
	// PendingCategory is set when the owner's roles point at another category and a
	// migration has been offered but not yet performed.
	PendingCategory string    `json:"pending_category,omitempty"`
	Archived        bool      `json:"archived"`
	Locked          bool      `json:"locked"`
	ArchivedAt      time.Time `json:"archived_at,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Open reports whether the review is neither archived nor locked.
func (r Record) Open() bool {
	return !r.Archived && !r.Locked
}

// ChangeKind identifies a registry mutation.
type ChangeKind string

const (
	ChangePut    ChangeKind = "put"
	ChangeDelete ChangeKind = "delete"
)

// Change is delivered to observers after every mutation.
// Previous is nil when a Put created a new record.
type Change struct {
	Kind     ChangeKind
	Record   Record
	Previous *Record
}

// Categories returns the categories affected by the change (one or two).
func (c Change) Categories() []string {
	if c.Previous != nil && c.Previous.Category != c.Record.Category {
		return []string{c.Previous.Category, c.Record.Category}
	}
	return []string{c.Record.Category}
}

// Store is the registry contract used by the controller and the reconciliation loop.
type Store interface {
	Get(userID string) (Record, bool)
	Put(rec Record)
	Update(userID string, fn func(*Record)) (Record, bool)
	Delete(userID string) (Record, bool)
	DeleteIfThread(userID, threadID string) bool
	FindByThread(threadID string) (Record, bool)
	Snapshot() []Record
	ByCategory(category string) []Record
	Len() int
}

// Memory is a mutex-guarded Store. Observers run synchronously after the lock is released.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]Record
	byThread  map[string]string // thread id → user id
	observers []func(Change)
	now       func() time.Time
}

var _ Store = (*Memory)(nil)

// New creates an empty registry.
func New() *Memory {
	return &Memory{
		records:  make(map[string]Record),
		byThread: make(map[string]string),
		now:      time.Now,
	}
}

// WithClock replaces the time source used for CreatedAt/UpdatedAt.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// OnChange registers an observer. Register observers before the registry is shared.
func (m *Memory) OnChange(fn func(Change)) {
	m.observers = append(m.observers, fn)
}

func (m *Memory) notify(c Change) {
	for _, fn := range m.observers {
		fn(c)
	}
}

// Get returns a copy of the user's record.
func (m *Memory) Get(userID string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	return rec, ok
}

// Put inserts or replaces the user's record.
func (m *Memory) Put(rec Record) {
	m.mu.Lock()
	now := m.now()
	prev, existed := m.records[rec.UserID]
	if existed {
		if prev.ThreadID != rec.ThreadID {
			delete(m.byThread, prev.ThreadID)
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = prev.CreatedAt
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.records[rec.UserID] = rec
	m.byThread[rec.ThreadID] = rec.UserID
	m.mu.Unlock()

	change := Change{Kind: ChangePut, Record: rec}
	if existed {
		change.Previous = &prev
	}
	m.notify(change)
}

// Update applies fn to the user's record in place. UserID changes made by fn are ignored.
func (m *Memory) Update(userID string, fn func(*Record)) (Record, bool) {
	m.mu.Lock()
	prev, ok := m.records[userID]
	if !ok {
		m.mu.Unlock()
		return Record{}, false
	}
	rec := prev
	fn(&rec)
	rec.UserID = userID
	rec.UpdatedAt = m.now()
	if rec.ThreadID != prev.ThreadID {
		delete(m.byThread, prev.ThreadID)
		m.byThread[rec.ThreadID] = userID
	}
	m.records[userID] = rec
	m.mu.Unlock()

	m.notify(Change{Kind: ChangePut, Record: rec, Previous: &prev})
	return rec, true
}

// Delete removes the user's record.
func (m *Memory) Delete(userID string) (Record, bool) {
	m.mu.Lock()
	rec, ok := m.records[userID]
	if ok {
		delete(m.records, userID)
		delete(m.byThread, rec.ThreadID)
	}
	m.mu.Unlock()

	if ok {
		m.notify(Change{Kind: ChangeDelete, Record: rec, Previous: &rec})
	}
	return rec, ok
}

// DeleteIfThread removes the user's record only if it still points at threadID.
func (m *Memory) DeleteIfThread(userID, threadID string) bool {
	m.mu.Lock()
	rec, ok := m.records[userID]
	if !ok || rec.ThreadID != threadID {
		m.mu.Unlock()
		return false
	}
	delete(m.records, userID)
	delete(m.byThread, threadID)
	m.mu.Unlock()

	m.notify(Change{Kind: ChangeDelete, Record: rec, Previous: &rec})
	return true
}

// FindByThread returns the record whose current thread is threadID.
func (m *Memory) FindByThread(threadID string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	userID, ok := m.byThread[threadID]
	if !ok {
		return Record{}, false
	}
	return m.records[userID], true
}

// Snapshot returns a copy of every record ordered by user id.
func (m *Memory) Snapshot() []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ByCategory returns a copy of the category's records ordered by user id.
func (m *Memory) ByCategory(category string) []Record {
	all := m.Snapshot()
	out := all[:0]
	for _, rec := range all {
		if rec.Category == category {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

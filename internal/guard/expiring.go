package guard

import (
	"sync"
	"time"
)

// ExpiringSet is a set whose entries lapse after a fixed TTL even if never removed.
// Expiry is evaluated lazily on access, so a crashed holder can never lock a key out forever.
type ExpiringSet struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
	seq     uint64
}

// entry records when a key lapses and which acquisition holds it.
type entry struct {
	expiry time.Time
	token  uint64
}

// NewExpiringSet creates a set with the given TTL.
func NewExpiringSet(ttl time.Duration) *ExpiringSet {
	return &ExpiringSet{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

// WithClock replaces the time source. Intended for tests.
func (s *ExpiringSet) WithClock(now func() time.Time) *ExpiringSet {
	s.now = now
	return s
}

// TryAdd inserts key if absent or expired. It reports whether the caller now owns the entry.
func (s *ExpiringSet) TryAdd(key string) bool {
	_, ok := s.tryAdd(key)
	return ok
}

func (s *ExpiringSet) tryAdd(key string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiry) {
		return 0, false
	}
	s.seq++
	s.entries[key] = entry{expiry: now.Add(s.ttl), token: s.seq}
	return s.seq, true
}

// Add inserts or refreshes key. Refreshing a live entry keeps its holder.
func (s *ExpiringSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiry) {
		e.expiry = now.Add(s.ttl)
		s.entries[key] = e
		return
	}
	s.seq++
	s.entries[key] = entry{expiry: now.Add(s.ttl), token: s.seq}
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *ExpiringSet) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Contains reports whether key is present and not expired.
func (s *ExpiringSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if !s.now().Before(e.expiry) {
		delete(s.entries, key)
		return false
	}
	return true
}

// Len returns the number of live entries, pruning expired ones.
func (s *ExpiringSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiry) {
			delete(s.entries, k)
		}
	}
	return len(s.entries)
}

// Acquire is TryAdd returning a release function for use with defer. Release only removes
// the entry this call created: once it has expired and been taken by another caller, the
// release is a no-op.
func (s *ExpiringSet) Acquire(key string) (release func(), ok bool) {
	token, ok := s.tryAdd(key)
	if !ok {
		return func() {}, false
	}
	return func() { s.release(key, token) }, true
}

func (s *ExpiringSet) release(key string, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.token == token {
		delete(s.entries, key)
	}
}

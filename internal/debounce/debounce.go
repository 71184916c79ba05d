// Package debounce coalesces bursts of triggers per key into a single call.
package debounce

import (
	"sync"
	"time"
)

// Keyed runs fn(key) once a key has been quiet for Min, and never later than Max after the
// first trigger of a burst. Calls for different keys are independent.
type Keyed struct {
	min, max time.Duration
	fn       func(key string)

	mu      sync.Mutex
	pending map[string]*burst
	stopped bool
}

type burst struct {
	timer *time.Timer
	first time.Time
}

// New creates a Keyed debouncer. max is raised to min if smaller.
func New(min, max time.Duration, fn func(key string)) *Keyed {
	if max < min {
		max = min
	}
	return &Keyed{min: min, max: max, fn: fn, pending: make(map[string]*burst)}
}

// Trigger records activity for key.
func (d *Keyed) Trigger(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	now := time.Now()
	b, ok := d.pending[key]
	if !ok {
		b = &burst{first: now}
		d.pending[key] = b
		b.timer = time.AfterFunc(d.min, func() { d.fire(key, b) })
		return
	}

	wait := d.min
	if deadline := b.first.Add(d.max); now.Add(wait).After(deadline) {
		wait = deadline.Sub(now)
		if wait < 0 {
			wait = 0
		}
	}
	b.timer.Reset(wait)
}

func (d *Keyed) fire(key string, b *burst) {
	d.mu.Lock()
	if d.pending[key] != b || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	d.fn(key)
}

// Pending reports whether key has a scheduled call.
func (d *Keyed) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels all scheduled calls and ignores further triggers. Calls already running
// are not interrupted.
func (d *Keyed) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, b := range d.pending {
		b.timer.Stop()
		delete(d.pending, key)
	}
}

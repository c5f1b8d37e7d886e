// Package dedup absorbs at-least-once webhook delivery with a bounded,
// time-windowed set of recently seen notification keys.
package dedup

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a delivery key suppresses retransmissions.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxEntries caps the window regardless of TTL.
	DefaultMaxEntries = 1024
)

// Window remembers keys for a bounded time and count.
type Window struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
	now  func() time.Time
}

// NewWindow builds a window with the given bounds; zero values pick the
// defaults.
func NewWindow(ttl time.Duration, max int) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Window{
		ttl:  ttl,
		max:  max,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seen reports whether key was already recorded inside the window, and
// records it if not. Expired entries are evicted opportunistically; when the
// window is full the oldest entry makes room.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.ttl)
	for k, at := range w.seen {
		if at.Before(cutoff) {
			delete(w.seen, k)
		}
	}

	if at, ok := w.seen[key]; ok && !at.Before(cutoff) {
		return true
	}

	if len(w.seen) >= w.max {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range w.seen {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
			}
		}
		delete(w.seen, oldestKey)
	}

	w.seen[key] = now
	return false
}

// Forget drops key so a retransmission is processed again. Used when
// handling a delivery failed after the key was recorded.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	delete(w.seen, key)
	w.mu.Unlock()
}

// Len reports the current number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

package ratelimit

import (
	"sync"
	"time"
)

// Scope namespaces the counter keys.
type Scope string

const (
	// ScopeIP counts requests per client address.
	ScopeIP Scope = "ip"
	// ScopeIdentifier counts requests per share identifier.
	ScopeIdentifier Scope = "identifier"
)

type counterKey struct {
	scope Scope
	key   string
}

// window is a fixed-window counter. The count resets when the window
// elapses, not gradually.
type window struct {
	count   int
	resetAt time.Time
}

// Limiter is an in-memory fixed-window rate limiter keyed by (scope, key).
//
// Check and Commit are deliberately separate: Check gates the operation up
// front, Commit records it only after it succeeded. Both take the same lock,
// so each read-modify-write is atomic per key.
type Limiter struct {
	mu      sync.Mutex
	windows map[counterKey]*window
	size    time.Duration
}

// New creates a limiter with the given window size.
func New(size time.Duration) *Limiter {
	l := &Limiter{
		windows: make(map[counterKey]*window),
		size:    size,
	}

	// Prune elapsed windows periodically
	go func() {
		for {
			time.Sleep(5 * time.Minute)
			l.cleanup()
		}
	}()

	return l
}

// Check reports whether the current window count for (scope, key) is below
// limit. It does not increment anything.
func (l *Limiter) Check(scope Scope, key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentCount(counterKey{scope, key}) < limit
}

// Commit increments the counter for (scope, key), starting a fresh window
// at 1 if none is active.
func (l *Limiter) Commit(scope Scope, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := counterKey{scope, key}
	w, ok := l.windows[k]
	if !ok || !time.Now().Before(w.resetAt) {
		l.windows[k] = &window{count: 1, resetAt: time.Now().Add(l.size)}
		return
	}
	w.count++
}

// Count returns the current window count for (scope, key).
func (l *Limiter) Count(scope Scope, key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentCount(counterKey{scope, key})
}

func (l *Limiter) currentCount(k counterKey) int {
	w, ok := l.windows[k]
	if !ok || !time.Now().Before(w.resetAt) {
		return 0
	}
	return w.count
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}

// Package services – per-session locking.
//
// Concurrent events for the same (campaign, prize, user) key must not
// interleave: a duplicate webhook delivery must not advance a session twice
// or double-draw a lottery. This file implements the in-process
// mutual-exclusion scope held for one event's full load → resolve → advance,
// with reference counting and opportunistic garbage collection so the lock
// table stays bounded under many one-shot users.
package services

import (
	"sync"
	"time"
)

// sessionEntry holds one session's mutex plus bookkeeping for eviction.
type sessionEntry struct {
	mu       sync.Mutex
	refs     int
	lastSeen time.Time
}

// sessionLocks is a keyed mutex table. Safe for concurrent use.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry

	ttl      time.Duration
	cleanupN uint64
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		entries: make(map[string]*sessionEntry),
		ttl:     10 * time.Minute, // evict idle entries after TTL
	}
}

// lock acquires the mutex for key and returns its release function. The
// release must run on all exit paths, including errors.
func (l *sessionLocks) lock(key string) func() {
	now := time.Now()

	l.mu.Lock()
	// Opportunistic cleanup after a threshold of lookups. Held or recently
	// used entries are never evicted.
	l.cleanupN++
	if l.cleanupN >= 5000 {
		for k, e := range l.entries {
			if e.refs == 0 && now.Sub(e.lastSeen) >= l.ttl {
				delete(l.entries, k)
			}
		}
		l.cleanupN = 0
	}

	e, ok := l.entries[key]
	if !ok {
		e = &sessionEntry{}
		l.entries[key] = e
	}
	e.refs++
	e.lastSeen = now
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		e.lastSeen = time.Now()
		l.mu.Unlock()
	}
}

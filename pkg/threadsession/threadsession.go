// Package threadsession maps a conversation thread to its backend session,
// evicting entries that have gone idle so a forgotten thread does not pin a
// backend session open forever.
package threadsession

import (
	"sync"
	"time"
)

// DefaultTTL is how long a thread's backend session is kept around after its
// last use before it is treated as gone and a fresh session is created.
const DefaultTTL = time.Hour

type entry struct {
	backendSessionID string
	lastUsed         time.Time
}

// Registry is a process-local map from thread id to backend session id.
// Fern has no cross-process coordination requirement for this state: a
// single backend process owns every live session.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
}

// New creates a Registry with the given idle eviction window. A zero ttl
// uses DefaultTTL.
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{entries: make(map[string]*entry), ttl: ttl}
}

// Get returns the backend session id for threadID and whether it is still
// live. Eviction is lazy: a stale entry is purged and reported absent on the
// first access after it expires, rather than via a background sweep.
func (r *Registry) Get(threadID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[threadID]
	if !ok {
		return "", false
	}
	if time.Since(e.lastUsed) > r.ttl {
		delete(r.entries, threadID)
		return "", false
	}
	e.lastUsed = time.Now()
	return e.backendSessionID, true
}

// Set records the backend session currently backing threadID.
func (r *Registry) Set(threadID, backendSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[threadID] = &entry{backendSessionID: backendSessionID, lastUsed: time.Now()}
}

// Delete forgets threadID's backend session, e.g. after the backend reports
// it ended unexpectedly.
func (r *Registry) Delete(threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, threadID)
}

// Len reports the number of tracked threads, including any not yet lazily
// evicted. Exposed for tests and health reporting.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

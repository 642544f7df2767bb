package wizard

import (
	"sync"
	"time"
)

const (
	defaultIdleTTL    = 30 * time.Minute
	defaultMaxEntries = 10000
)

type registryKey struct {
	clientID string
	userID   string
	step     string
}

type registryEntry struct {
	ctrl     *Controller
	lastUsed time.Time
}

// Registry keeps one Controller per client, user and step so overlapping
// requests from the same page share load generations.
type Registry struct {
	mu         sync.Mutex
	entries    map[registryKey]*registryEntry
	idleTTL    time.Duration
	maxEntries int
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries:    make(map[registryKey]*registryEntry),
		idleTTL:    defaultIdleTTL,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
}

// Get returns the controller for the key, building it with build on first
// use.
func (r *Registry) Get(clientID, userID, step string, build func() *Controller) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := registryKey{clientID: clientID, userID: userID, step: step}
	now := r.now()
	if e, ok := r.entries[k]; ok {
		e.lastUsed = now
		return e.ctrl
	}
	if len(r.entries) >= r.maxEntries {
		r.sweepLocked(now)
		for len(r.entries) > 0 && len(r.entries) >= r.maxEntries {
			r.evictOldestLocked()
		}
	}
	ctrl := build()
	r.entries[k] = &registryEntry{ctrl: ctrl, lastUsed: now}
	return ctrl
}

// Forget drops every controller of a client, e.g. on logout.
func (r *Registry) Forget(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.entries {
		if k.clientID == clientID {
			delete(r.entries, k)
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sweepLocked(now time.Time) {
	for k, e := range r.entries {
		if now.Sub(e.lastUsed) > r.idleTTL {
			delete(r.entries, k)
		}
	}
}

// evictOldestLocked drops the least recently used controller.
func (r *Registry) evictOldestLocked() {
	var (
		oldest registryKey
		at     time.Time
		found  bool
	)
	for k, e := range r.entries {
		if !found || e.lastUsed.Before(at) {
			oldest, at, found = k, e.lastUsed, true
		}
	}
	if found {
		delete(r.entries, oldest)
	}
}

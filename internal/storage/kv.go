// Package storage models the page's local and session storage as typed
// key-value stores scoped to one client device.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// UpdateFunc computes the new value of a key from its current one. ok is
// false when the key is missing or expired. It may run more than once.
type UpdateFunc func(current string, ok bool) (string, error)

// KV is the raw key-value backend behind LocalStore and SessionStore.
// A ttl of zero means the entry does not expire.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Update is an atomic read-modify-write of key. Concurrent updates of
	// the same key never lose each other's writes.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-process KV used in tests and with storage.driver=memory.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

var _ KV = (*MemoryKV)(nil)

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryKV) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.expired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if ok && m.expired(e) {
		ok = false
	}
	if !ok {
		e.value = ""
	}
	next, err := fn(e.value, ok)
	if err != nil {
		return err
	}
	ne := memEntry{value: next}
	if ttl > 0 {
		ne.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = ne
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0)
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && !m.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

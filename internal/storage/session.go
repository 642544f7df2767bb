package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// SessionStore is the transient per-client store ("session storage").
// Every entry carries a TTL.
type SessionStore struct {
	kv         KV
	clientID   string
	defaultTTL time.Duration
}

func NewSessionStore(kv KV, clientID string, defaultTTL time.Duration) *SessionStore {
	return &SessionStore{kv: kv, clientID: clientID, defaultTTL: defaultTTL}
}

func (s *SessionStore) key(name string) string { return sessionPrefix(s.clientID) + name }

// Put stores value under name. A zero ttl uses the store default.
func (s *SessionStore) Put(ctx context.Context, name, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return errors.Wrapf(s.kv.Set(ctx, s.key(name), value, ttl), "session storage set %s", name)
}

func (s *SessionStore) Get(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		return "", false, errors.Wrapf(err, "session storage get %s", name)
	}
	return v, ok, nil
}

// Clear drops every session entry of this client.
func (s *SessionStore) Clear(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, sessionPrefix(s.clientID))
	if err != nil {
		return errors.Wrap(err, "session storage list keys")
	}
	if len(keys) == 0 {
		return nil
	}
	return errors.Wrap(s.kv.Delete(ctx, keys...), "session storage clear")
}

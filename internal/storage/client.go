package storage

import "time"

// DefaultSessionTTL applies to session entries written without a TTL.
const DefaultSessionTTL = 30 * time.Minute

// Client bundles the local and session stores of one client namespace.
type Client struct {
	ID      string
	Local   *LocalStore
	Session *SessionStore
}

// Backends are the KVs behind every client namespace.
type Backends struct {
	Local      KV
	Session    KV
	SessionTTL time.Duration
}

// NewMemoryBackends keeps both stores in process memory.
func NewMemoryBackends() Backends {
	return Backends{Local: NewMemoryKV(), Session: NewMemoryKV(), SessionTTL: DefaultSessionTTL}
}

// Client opens the namespace of clientID.
func (b Backends) Client(clientID string) *Client {
	ttl := b.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Client{
		ID:      clientID,
		Local:   NewLocalStore(b.Local, clientID),
		Session: NewSessionStore(b.Session, clientID, ttl),
	}
}

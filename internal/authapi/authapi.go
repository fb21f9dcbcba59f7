// Package authapi is the session-token utility for the read-only
// HTTP status API named in spec.md §1 as out of scope for this
// repository. It exposes just the contract a future API server would
// consume — opaque bearer tokens with an expiry, issued and validated
// against an in-memory store — without implementing route handlers,
// authentication middleware, or TLS termination, all of which remain
// genuinely out of scope per SPEC_FULL.md §6.
package authapi

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token is an opaque bearer credential with a server-side expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// New issues a fresh Token valid for ttl from now.
func New(ttl time.Duration) Token {
	return Token{
		Value:     uuid.NewString(),
		ExpiresAt: time.Now().Add(ttl),
	}
}

// expired reports whether the token is no longer valid at t.
func (tok Token) expired(t time.Time) bool {
	return t.After(tok.ExpiresAt)
}

// Store holds issued tokens in memory and validates bearer values
// presented by API callers. It has no persistence: a process restart
// invalidates every outstanding session, which is acceptable for a
// read-only status endpoint with no durable login state.
type Store struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{tokens: make(map[string]Token)}
}

// Issue creates and records a new Token valid for ttl.
func (s *Store) Issue(ttl time.Duration) Token {
	tok := New(ttl)
	s.mu.Lock()
	s.tokens[tok.Value] = tok
	s.mu.Unlock()
	return tok
}

// Validate reports whether value names a live, unexpired token. It
// also evicts the token if it has expired, so a Store handling a
// trickle of requests doesn't accumulate stale entries indefinitely.
func (s *Store) Validate(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[value]
	if !ok {
		return false
	}
	if tok.expired(time.Now()) {
		delete(s.tokens, value)
		return false
	}
	// Constant-time comparison against the stored value guards against
	// timing side-channels even though the map lookup above already
	// leaks membership by key; it costs nothing here and matches
	// internal/authn's comparison discipline for bearer-style secrets.
	return subtle.ConstantTimeCompare([]byte(tok.Value), []byte(value)) == 1
}

// Revoke removes value from the store, if present.
func (s *Store) Revoke(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, value)
}

// Package token implements the in-memory session token store. Tokens are
// opaque random strings resolved against process state, so invalidation is
// immediate and nothing about a session leaves the process.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/misaka10987/basileus/audit"
)

// tokenBytes is the entropy per token; 32 bytes is double the 128-bit floor
// for unguessable session identifiers.
const tokenBytes = 32

// Entry is the record kept per live token.
type Entry struct {
	User     string
	IssuedAt time.Time
}

// Store maps session tokens to users. It is safe for concurrent use:
// lookups share a read lock, mutations take the write lock. The store never
// runs background work; expiry happens only when a caller asks for it.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry

	now   func() time.Time
	log   *slog.Logger
	audit audit.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAudit wires an audit sink for issue and invalidation events.
func WithAudit(sink audit.Logger) Option {
	return func(s *Store) { s.audit = sink }
}

// NewStore builds an empty token store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]Entry),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a fresh token bound to user. A colliding token would silently
// overwrite the earlier entry; with 256-bit tokens no collision scan is
// worth doing.
func (s *Store) Issue(user string) (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(raw)

	s.mu.Lock()
	s.entries[tok] = Entry{User: user, IssuedAt: s.now()}
	active := len(s.entries)
	s.mu.Unlock()

	tokensIssued.Inc()
	tokensActive.Set(float64(active))
	s.log.Debug("token issued", "user", user, "token_prefix", tok[:4])
	if s.audit != nil {
		_ = s.audit.Log(context.Background(), audit.Entry{
			Event:  "token.issued",
			User:   user,
			Detail: map[string]any{"token_prefix": tok[:4]},
		})
	}
	return tok, nil
}

// Verify resolves a token to its user. It applies no age policy: an entry
// verifies until Invalidate, InvalidateUser or Expire removes it.
func (s *Store) Verify(tok string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[tok]
	if !ok {
		return "", false
	}
	return e.User, true
}

// Lookup returns the full entry for a token.
func (s *Store) Lookup(tok string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[tok]
	return e, ok
}

// Invalidate removes a single token. Removing an absent token is a no-op.
func (s *Store) Invalidate(tok string) {
	s.mu.Lock()
	e, ok := s.entries[tok]
	if ok {
		delete(s.entries, tok)
	}
	active := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return
	}
	tokensInvalidated.Inc()
	tokensActive.Set(float64(active))
	s.log.Debug("token invalidated", "user", e.User, "token_prefix", tok[:4])
	if s.audit != nil {
		_ = s.audit.Log(context.Background(), audit.Entry{
			Event:  "token.invalidated",
			User:   e.User,
			Detail: map[string]any{"token_prefix": tok[:4]},
		})
	}
}

// InvalidateUser removes every token bound to user and returns how many
// were dropped. An unknown user removes zero.
func (s *Store) InvalidateUser(user string) int {
	s.mu.Lock()
	removed := 0
	for tok, e := range s.entries {
		if e.User == user {
			delete(s.entries, tok)
			removed++
		}
	}
	active := len(s.entries)
	s.mu.Unlock()

	if removed == 0 {
		return 0
	}
	tokensInvalidated.Add(float64(removed))
	tokensActive.Set(float64(active))
	s.log.Debug("user tokens invalidated", "user", user, "count", removed)
	if s.audit != nil {
		_ = s.audit.Log(context.Background(), audit.Entry{
			Event:  "token.invalidated",
			User:   user,
			Detail: map[string]any{"count": removed},
		})
	}
	return removed
}

// Expire removes exactly the entries older than maxAge and returns the
// count. Entries whose age equals maxAge survive. The sweep cadence and the
// cutoff are entirely the caller's policy.
func (s *Store) Expire(maxAge time.Duration) int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for tok, e := range s.entries {
		if now.Sub(e.IssuedAt) > maxAge {
			delete(s.entries, tok)
			removed++
		}
	}
	active := len(s.entries)
	s.mu.Unlock()

	if removed == 0 {
		return 0
	}
	tokensExpired.Add(float64(removed))
	tokensActive.Set(float64(active))
	s.log.Debug("tokens expired", "count", removed, "max_age", maxAge)
	if s.audit != nil {
		_ = s.audit.Log(context.Background(), audit.Entry{
			Event:  "token.expired",
			Detail: map[string]any{"count": removed, "max_age": maxAge.String()},
		})
	}
	return removed
}

// Len returns the number of live tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

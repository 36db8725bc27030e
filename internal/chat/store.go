package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/boxbot-dev/boxbot/internal/observability"
)

const (
	defaultSessionTTL       = 30 * time.Minute
	defaultSweepInterval    = time.Minute
	defaultMaxSweepPerCycle = 256
)

// Store maps credentials to sessions. The session key is a hash of
// the credential so raw API tokens are never held as map keys or
// reachable via introspection.
//
// Idle sessions are evicted lazily: every access past the sweep
// interval scans a bounded number of sessions, so eviction cost is
// amortized over requests without a background goroutine.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ttl           time.Duration
	sweepInterval time.Duration
	maxSweep      int
	lastSweep     time.Time

	metrics *observability.Metrics
	now     func() time.Time
}

type StoreOption func(*Store)

// WithSessionTTL overrides the idle eviction TTL.
func WithSessionTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSweepInterval overrides the minimum time between sweeps.
func WithSweepInterval(interval time.Duration) StoreOption {
	return func(s *Store) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithStoreMetrics wires the active-session gauge.
func WithStoreMetrics(metrics *observability.Metrics) StoreOption {
	return func(s *Store) { s.metrics = metrics }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions:      make(map[string]*Session),
		ttl:           defaultSessionTTL,
		sweepInterval: defaultSweepInterval,
		maxSweep:      defaultMaxSweepPerCycle,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the session for the given credential, creating it when
// absent.
func (s *Store) Get(token string) *Session {
	key := SessionKey(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	if session, ok := s.sessions[key]; ok {
		if s.now().Sub(session.LastActive()) < s.ttl {
			return session
		}
		delete(s.sessions, key)
	}

	session := newSessionAt(key, s.now)
	s.sessions[key] = session
	s.metrics.SetActiveSessions(len(s.sessions))
	return session
}

// Delete removes the session for the given credential.
func (s *Store) Delete(token string) {
	key := SessionKey(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	s.metrics.SetActiveSessions(len(s.sessions))
}

// ClearAll drops every session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
	s.metrics.SetActiveSessions(0)
}

// Len returns the current session count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sweepLocked evicts idle sessions. Runs at most once per sweep
// interval and visits at most maxSweep sessions per cycle.
func (s *Store) sweepLocked() {
	now := s.now()
	if now.Sub(s.lastSweep) < s.sweepInterval {
		return
	}
	s.lastSweep = now

	visited := 0
	for key, session := range s.sessions {
		if visited >= s.maxSweep {
			break
		}
		visited++
		if now.Sub(session.LastActive()) >= s.ttl {
			delete(s.sessions, key)
		}
	}
	s.metrics.SetActiveSessions(len(s.sessions))
}

// SessionKey derives the session map key from a credential.
func SessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Store keeps the sentiment records of each session in arrival order.
type Store interface {
	Append(ctx context.Context, sessionID string, rec Record) error
	List(ctx context.Context, sessionID string) ([]Record, error)
	Clear(ctx context.Context, sessionID string) error
}

type memorySession struct {
	records   []Record
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Each session keeps at most
// maxRecords entries and is dropped ttl after its last append. Expired
// sessions are swept from Append at most once per ttl.
type MemoryStore struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	maxRecords int
	ttl        time.Duration
	sessions   map[string]*memorySession
	nextSweep  time.Time
}

// NewMemoryStore creates a MemoryStore. A ttl of zero keeps sessions forever.
func NewMemoryStore(clock clockwork.Clock, maxRecords int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		clock:      clock,
		maxRecords: maxRecords,
		ttl:        ttl,
		sessions:   make(map[string]*memorySession),
	}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweepLocked(now)

	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess, now) {
		sess = &memorySession{}
		s.sessions[sessionID] = sess
	}

	sess.records = append(sess.records, rec)
	if s.maxRecords > 0 && len(sess.records) > s.maxRecords {
		sess.records = append([]Record(nil), sess.records[len(sess.records)-s.maxRecords:]...)
	}
	if s.ttl > 0 {
		sess.expiresAt = now.Add(s.ttl)
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return []Record{}, nil
	}
	if s.expired(sess, s.clock.Now()) {
		delete(s.sessions, sessionID)
		return []Record{}, nil
	}

	out := make([]Record, len(sess.records))
	copy(out, sess.records)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of sessions held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	if s.ttl <= 0 || now.Before(s.nextSweep) {
		return
	}
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
		}
	}
	s.nextSweep = now.Add(s.ttl)
}

func (s *MemoryStore) expired(sess *memorySession, now time.Time) bool {
	return s.ttl > 0 && now.After(sess.expiresAt)
}

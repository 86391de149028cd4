package session

import (
	"sync"
	"time"
)

// Store keeps one session per customer identifier. It is safe for concurrent
// use across customers; mutations for a single customer are serialized via Do.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	idleTTL  time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore constructs a store. A positive idleTTL starts a janitor that
// evicts sessions untouched for longer than the TTL.
func NewStore(idleTTL time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		idleTTL:  idleTTL,
		stop:     make(chan struct{}),
	}
	if idleTTL > 0 {
		go s.janitor()
	}
	return s
}

// Close stops the janitor goroutine.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Do runs fn while holding the customer's serialization lock. An engine turn
// and a proof-pipeline continuation for the same customer therefore never
// observe each other's partial mutations.
func (s *Store) Do(customerID string, fn func()) {
	lock := s.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

func (s *Store) customerLock(customerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[customerID] = lock
	}
	return lock
}

// Get returns a snapshot of the customer's session if one exists.
func (s *Store) Get(customerID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[customerID]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Put stores the session snapshot for the customer, bumping the version.
func (s *Store) Put(customerID string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sess.clone()
	if prev, ok := s.sessions[customerID]; ok {
		cp.Version = prev.Version + 1
	} else {
		cp.Version = 1
	}
	cp.UpdatedAt = time.Now()
	s.sessions[customerID] = cp
}

// Delete removes the customer's session. Missing sessions are a no-op.
func (s *Store) Delete(customerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, customerID)
}

// Version returns the current session version, or 0 when no session exists.
func (s *Store) Version(customerID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[customerID]; ok {
		return sess.Version
	}
	return 0
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.evictIdle(now)
		}
	}
}

func (s *Store) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if now.Sub(sess.UpdatedAt) > s.idleTTL {
			delete(s.sessions, id)
		}
	}
}

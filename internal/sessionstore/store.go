// Package sessionstore holds the server-side session map: one Session per
// paired client, bounded by a concurrency cap, with idle eviction and
// periodic SQLite persistence.
package sessionstore

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/tether/internal/models"
)

// ErrSessionNotFound indicates a lookup on an unknown client id.
var ErrSessionNotFound = errors.New("session not found")

// Store is the process-wide clientId -> Session mapping. All mutations go
// through its methods; the map is never exposed directly, which keeps the
// capacity-eviction and persistence invariants intact.
type Store struct {
	cfg *Config
	db  *DB

	mu       sync.Mutex
	sessions map[string]*models.Session
}

// New creates a Store backed by db. Pass a nil config for defaults.
func New(cfg *Config, db *DB) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Store{
		cfg:      cfg,
		db:       db,
		sessions: make(map[string]*models.Session),
	}
}

// Restore loads previously persisted sessions into memory. Called once at
// daemon startup, before any traffic.
func (s *Store) Restore() error {
	persisted, err := s.db.LoadSessions()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range persisted {
		if len(s.sessions) >= s.cfg.MaxSessions {
			break
		}
		sess := persisted[i]
		s.sessions[sess.ClientID] = &sess
	}
	return nil
}

// GetOrCreate returns the session for clientID, creating an empty one on
// first contact. An existing session keeps its history. If admitting a new
// session would exceed the cap, the least-recently-active session is
// persisted and evicted first.
func (s *Store) GetOrCreate(clientID string) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[clientID]; ok {
		return copySession(sess)
	}

	if len(s.sessions) >= s.cfg.MaxSessions {
		s.evictOldestLocked()
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ClientID:            clientID,
		ConversationHistory: []models.Exchange{},
		ConfidenceHistory:   []float64{},
		CreatedAt:           now,
		LastActiveAt:        now,
	}
	s.sessions[clientID] = sess
	return copySession(sess)
}

// evictOldestLocked persists and removes the session with the smallest
// lastActiveAt. Ties break on lexical clientId order so eviction stays
// deterministic. Callers must hold s.mu.
func (s *Store) evictOldestLocked() {
	var victim *models.Session
	for _, sess := range s.sessions {
		if victim == nil {
			victim = sess
			continue
		}
		if sess.LastActiveAt.Before(victim.LastActiveAt) ||
			(sess.LastActiveAt.Equal(victim.LastActiveAt) && sess.ClientID < victim.ClientID) {
			victim = sess
		}
	}
	if victim == nil {
		return
	}

	if err := s.db.SaveSession(victim); err != nil {
		log.Printf("Failed to persist session %s before eviction: %v", victim.ClientID, err)
	}
	delete(s.sessions, victim.ClientID)
}

// Touch updates lastActiveAt for clientID. Unknown ids are ignored.
// lastActiveAt never moves backwards.
func (s *Store) Touch(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return
	}
	if now := time.Now().UTC(); now.After(sess.LastActiveAt) {
		sess.LastActiveAt = now
	}
}

// RecordExchange appends one exchange and its confidence to the session
// histories. Both slices grow together, keeping them equal in length.
func (s *Store) RecordExchange(clientID, input, output string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return ErrSessionNotFound
	}

	sess.ConversationHistory = append(sess.ConversationHistory, models.Exchange{
		Input:      input,
		Output:     output,
		Confidence: confidence,
	})
	sess.ConfidenceHistory = append(sess.ConfidenceHistory, confidence)
	if now := time.Now().UTC(); now.After(sess.LastActiveAt) {
		sess.LastActiveAt = now
	}
	return nil
}

// SetCurrentTask records the task a session is working on.
func (s *Store) SetCurrentTask(clientID, task string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.CurrentTask = task
	return nil
}

// Get returns a copy of one session.
func (s *Store) Get(clientID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(sess), nil
}

// List returns copies of all active sessions, most recently active first.
func (s *Store) List() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].LastActiveAt.After(out[j].LastActiveAt)
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Delete removes a session from memory and durable storage.
func (s *Store) Delete(clientID string) error {
	s.mu.Lock()
	_, ok := s.sessions[clientID]
	delete(s.sessions, clientID)
	s.mu.Unlock()

	if err := s.db.DeleteSession(clientID); err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// EvictIdle persists and removes every session idle longer than the
// configured timeout. It returns the evicted client ids.
func (s *Store) EvictIdle(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActiveAt) <= s.cfg.IdleTimeout {
			continue
		}
		if err := s.db.SaveSession(sess); err != nil {
			log.Printf("Failed to persist idle session %s: %v", id, err)
		}
		delete(s.sessions, id)
		evicted = append(evicted, id)
	}
	sort.Strings(evicted)
	return evicted
}

// PersistAll flushes every active session to durable storage. Failures are
// returned so the sweeper can log and retry on the next interval.
func (s *Store) PersistAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for id, sess := range s.sessions {
		if err := s.db.SaveSession(sess); err != nil {
			log.Printf("Failed to persist session %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func copySession(s *models.Session) *models.Session {
	copied := *s
	copied.ConversationHistory = append([]models.Exchange(nil), s.ConversationHistory...)
	copied.ConfidenceHistory = append([]float64(nil), s.ConfidenceHistory...)
	return &copied
}

// Package conversation holds per-sender conversation state in memory.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"whatsapp-relay/internal/domain"
)

// DefaultHistoryCap is the maximum number of turns retained per sender.
const DefaultHistoryCap = 20

// ErrNotFound is returned when an operation targets a sender with no entry.
var ErrNotFound = errors.New("conversation: entry not found")

// Store is a concurrency-safe map of sender id to conversation entry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*domain.ConversationEntry

	historyCap int
	now        func() time.Time
	newID      func() string
}

type Option func(*Store)

// WithHistoryCap overrides the per-sender turn cap. Non-positive values are ignored.
func WithHistoryCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyCap = n
		}
	}
}

// WithClock overrides the time source used for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*domain.ConversationEntry),
		historyCap: DefaultHistoryCap,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HistoryCap returns the configured per-sender turn cap.
func (s *Store) HistoryCap() int {
	return s.historyCap
}

// GetOrCreate returns a copy of the sender's entry, creating an empty one on
// first contact. Either way the entry's LastActivity is set to now: calling
// it marks a message as accepted for the sender.
func (s *Store) GetOrCreate(senderID string) domain.ConversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[senderID]; ok {
		e.LastActivity = now
		return e.Clone()
	}
	e := &domain.ConversationEntry{
		SenderID:       senderID,
		ConversationID: s.newID(),
		History:        []domain.Turn{},
		CreatedAt:      now,
		LastActivity:   now,
	}
	s.entries[senderID] = e
	return e.Clone()
}

// Get returns a copy of the sender's entry if present.
func (s *Store) Get(senderID string) (domain.ConversationEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[senderID]
	if !ok {
		return domain.ConversationEntry{}, false
	}
	return e.Clone(), true
}

// AppendTurn records a user turn followed by an assistant turn, dropping the
// oldest turns once the cap is exceeded.
func (s *Store) AppendTurn(senderID, userText, assistantText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[senderID]
	if !ok {
		return fmt.Errorf("conversation: append turn for %q: %w", senderID, ErrNotFound)
	}

	history := append(e.History,
		domain.Turn{Role: domain.RoleUser, Text: userText},
		domain.Turn{Role: domain.RoleAssistant, Text: assistantText},
	)
	if over := len(history) - s.historyCap; over > 0 {
		// Copy the suffix so the dropped prefix can be collected.
		trimmed := make([]domain.Turn, s.historyCap)
		copy(trimmed, history[over:])
		history = trimmed
	}
	e.History = history
	e.MessageCount++
	e.LastActivity = s.now()
	return nil
}

// Remove deletes the sender's entry. Removing an unknown sender is a no-op.
func (s *Store) Remove(senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, senderID)
}

// SweepExpired removes every entry whose last activity is older than
// now-retention and returns how many were removed.
func (s *Store) SweepExpired(retention time.Duration, now time.Time) int {
	cutoff := now.Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if e.LastActivity.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked senders.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

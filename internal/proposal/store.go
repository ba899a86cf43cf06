package proposal

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidReference is returned when a counter-proposal's
	// InResponseTo does not resolve within its negotiation.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrDuplicateID is returned when an id is already in the log.
	ErrDuplicateID = errors.New("duplicate proposal id")
	// ErrNoLog is returned for a negotiation id the store does not hold.
	ErrNoLog = errors.New("no proposal log for negotiation")
)

// Log is the append-only arena of one negotiation's proposals. Entries
// reference each other by id; append order is the authoritative round
// order.
type Log struct {
	mu      sync.RWMutex
	entries []CounterProposal
	index   map[string]int
}

func NewLog() *Log {
	return &Log{index: make(map[string]int)}
}

// Append adds cp to the log. The id must be non-empty and unused, and a
// non-empty InResponseTo must name an entry already in the log.
func (l *Log) Append(cp CounterProposal) error {
	if cp.ID == "" {
		return fmt.Errorf("append proposal: empty id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[cp.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, cp.ID)
	}
	if cp.InResponseTo != "" {
		if _, ok := l.index[cp.InResponseTo]; !ok {
			return fmt.Errorf("%w: %s responds to unknown proposal %s", ErrInvalidReference, cp.ID, cp.InResponseTo)
		}
	}
	l.index[cp.ID] = len(l.entries)
	l.entries = append(l.entries, cp.Clone())
	return nil
}

// Get returns the entry with the given id.
func (l *Log) Get(id string) (CounterProposal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return CounterProposal{}, false
	}
	return l.entries[i].Clone(), true
}

// Has reports whether id is in the log.
func (l *Log) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Entries returns a copy of all entries in append order.
func (l *Log) Entries() []CounterProposal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CounterProposal, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Clone()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Store holds one Log per negotiation id. The store's own lock guards
// only the map; each Log serializes its own appends.
type Store struct {
	mu   sync.RWMutex
	logs map[string]*Log
}

func NewStore() *Store {
	return &Store{logs: make(map[string]*Log)}
}

// Open returns the log for negotiationID, creating it if needed.
func (s *Store) Open(negotiationID string) *Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[negotiationID]
	if !ok {
		l = NewLog()
		s.logs[negotiationID] = l
	}
	return l
}

// Log returns the existing log for negotiationID.
func (s *Store) Log(negotiationID string) (*Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[negotiationID]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoLog, negotiationID)
	}
	return l, nil
}

// Append adds cp to the log of negotiationID.
func (s *Store) Append(negotiationID string, cp CounterProposal) error {
	l, err := s.Log(negotiationID)
	if err != nil {
		return err
	}
	return l.Append(cp)
}

// Drop releases the log of negotiationID. Retention is the caller's call.
func (s *Store) Drop(negotiationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, negotiationID)
}

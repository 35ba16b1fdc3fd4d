package store

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("message not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMissingVerdict    = errors.New("result has no verdict")
)

// Stats summarizes the store for the feed counters and the status heartbeat.
type Stats struct {
	Total      int            `json:"total"`
	Pending    int            `json:"pending"`
	Processing int            `json:"processing"`
	Completed  int            `json:"completed"`
	Safe       int            `json:"safe"`
	Malicious  int            `json:"malicious"`
	Spoofed    int            `json:"spoofed"`
	BySource   map[string]int `json:"by_source"`
}

// Store is the ordered, append-only message log shared by adapters, the
// triage scheduler and the feed. All access goes through one RWMutex; every
// read returns a copy taken inside the critical section, so a reader never
// observes a half-applied transition.
type Store struct {
	mu       sync.RWMutex
	messages []Message // index i holds ID i+1
	now      func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// Append stamps the message with an ID, the Pending state and the creation
// time, and makes it visible to subsequent scans and snapshots.
func (s *Store) Append(m Message) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = uint64(len(s.messages)) + 1
	m.State = StatePending
	m.Verdict = VerdictUnknown
	m.Confidence = nil
	m.SpoofVerdict = SpoofUnknown
	m.SpoofConfidence = nil
	m.CreatedAt = s.now()
	if m.SenderName == "" {
		m.SenderName = "Unknown"
	}
	s.messages = append(s.messages, m)
	return m.ID
}

// Get returns a copy of the message with the given ID.
func (s *Store) Get(id uint64) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.lookup(id)
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// Len returns the number of messages appended so far.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns the most recent limit messages, newest first. A limit of
// zero or less returns every message.
func (s *Store) Snapshot(limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(limit)
}

// SnapshotWithStats returns Snapshot(limit) and Stats() taken in the same
// critical section, so the counters describe exactly the listed log.
func (s *Store) SnapshotWithStats(limit int) ([]Message, Stats) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(limit), s.statsLocked()
}

func (s *Store) snapshotLocked(limit int) []Message {
	n := len(s.messages)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Message, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.messages[i].clone())
	}
	return out
}

// PendingIDs returns the IDs of all Pending messages in insertion order, as
// of a single point in time.
func (s *Store) PendingIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint64
	for i := range s.messages {
		if s.messages[i].State == StatePending {
			ids = append(ids, s.messages[i].ID)
		}
	}
	return ids
}

// Begin moves a message from Pending to Processing and returns its copy.
func (s *Store) Begin(id uint64) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(id)
	if !ok {
		return Message{}, errors.Wrapf(ErrNotFound, "message %d", id)
	}
	if m.State != StatePending {
		return m.clone(), errors.Wrapf(ErrInvalidTransition, "message %d: %s -> %s", id, m.State, StateProcessing)
	}
	m.State = StateProcessing
	return m.clone(), nil
}

// Complete writes the classification result and moves a message from
// Processing to Completed in one critical section. Results are write-once:
// completing an already completed message is rejected and changes nothing.
// Spoof fields are dropped for kinds that do not carry them.
func (s *Store) Complete(id uint64, r Result) (Message, error) {
	if r.Verdict == VerdictUnknown {
		return Message{}, errors.Wrapf(ErrMissingVerdict, "message %d", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.lookup(id)
	if !ok {
		return Message{}, errors.Wrapf(ErrNotFound, "message %d", id)
	}
	if m.State != StateProcessing {
		return m.clone(), errors.Wrapf(ErrInvalidTransition, "message %d: %s -> %s", id, m.State, StateCompleted)
	}

	m.Verdict = r.Verdict
	m.Confidence = copyFloat(r.Confidence)
	if m.Kind.SupportsSpoof() && r.SpoofVerdict != SpoofUnknown {
		m.SpoofVerdict = r.SpoofVerdict
		m.SpoofConfidence = copyFloat(r.SpoofConfidence)
	}
	m.State = StateCompleted
	return m.clone(), nil
}

// Stats counts messages per state, verdict and source.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	st := Stats{Total: len(s.messages), BySource: make(map[string]int)}
	for i := range s.messages {
		m := &s.messages[i]
		st.BySource[m.Source.String()]++
		switch m.State {
		case StatePending:
			st.Pending++
		case StateProcessing:
			st.Processing++
		case StateCompleted:
			st.Completed++
		}
		switch m.Verdict {
		case VerdictSafe:
			st.Safe++
		case VerdictMalicious:
			st.Malicious++
		}
		if m.SpoofVerdict == SpoofSpoofed {
			st.Spoofed++
		}
	}
	return st
}

// lookup returns a pointer into the log; callers must hold the lock.
func (s *Store) lookup(id uint64) (*Message, bool) {
	if id == 0 || id > uint64(len(s.messages)) {
		return nil, false
	}
	return &s.messages[id-1], true
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

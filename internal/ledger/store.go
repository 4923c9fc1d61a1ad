package ledger

import (
	"context"
	"sync"

	"github.com/ppiankov/trustplane/internal/fault"
)

// Stats aggregates ledger contents for operators.
type Stats struct {
	TotalEvents  uint64               `json:"totalEvents"`
	ByType       map[EventType]uint64 `json:"byType"`
	ByAgent      map[string]uint64    `json:"byAgent"`
	HeadPosition uint64               `json:"headPosition"`
	HeadHash     string               `json:"headHash,omitempty"`
}

// Store persists ledger events. Append must reject any event whose
// chain position is not exactly head+1, so concurrent writers cannot
// fork the chain. Query methods with a limit return the most recent
// events, in ascending chain order; limit <= 0 means all.
type Store interface {
	Append(ctx context.Context, e Event) error
	ByID(ctx context.Context, eventID string) (Event, error)
	ByCorrelation(ctx context.Context, correlationID string) ([]Event, error)
	ByAgent(ctx context.Context, agentID string, limit int) ([]Event, error)
	ByType(ctx context.Context, eventType EventType, limit int) ([]Event, error)
	Range(ctx context.Context, fromPosition uint64, limit int) ([]Event, error)
	Head(ctx context.Context) (Event, bool, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// MemoryStore keeps the chain in a slice indexed by position. The
// default backend for tests and embedded use.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	byID   map[string]int
}

// NewMemoryStore returns an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

// Append adds an event at the next chain position.
func (m *MemoryStore) Append(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := uint64(len(m.events)) + 1
	if e.ChainPosition != next {
		return fault.Conflict("event %s at position %d, chain head is %d", e.EventID, e.ChainPosition, next-1)
	}
	if _, dup := m.byID[e.EventID]; dup {
		return fault.Conflict("event id %s already appended", e.EventID)
	}
	m.events = append(m.events, copyEvent(e))
	m.byID[e.EventID] = len(m.events) - 1
	return nil
}

// ByID fetches one event.
func (m *MemoryStore) ByID(ctx context.Context, eventID string) (Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[eventID]
	if !ok {
		return Event{}, fault.NotFound("event %s", eventID)
	}
	return copyEvent(m.events[i]), nil
}

// ByCorrelation returns the full trace for one correlation ID in
// emission order.
func (m *MemoryStore) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.CorrelationID == correlationID {
			out = append(out, copyEvent(e))
		}
	}
	return out, nil
}

// ByAgent returns an agent's history, most recent `limit` events in
// ascending order.
func (m *MemoryStore) ByAgent(ctx context.Context, agentID string, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.AgentID == agentID {
			out = append(out, copyEvent(e))
		}
	}
	return tail(out, limit), nil
}

// ByType returns events of one type, most recent `limit` in ascending
// order.
func (m *MemoryStore) ByType(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, copyEvent(e))
		}
	}
	return tail(out, limit), nil
}

// Range returns up to `limit` events starting at fromPosition (1-based,
// 0 means from the start) in chain order.
func (m *MemoryStore) Range(ctx context.Context, fromPosition uint64, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fromPosition < 1 {
		fromPosition = 1
	}
	if fromPosition > uint64(len(m.events)) {
		return nil, nil
	}
	out := m.events[fromPosition-1:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return copyEvents(out), nil
}

// Head returns the last event, if any.
func (m *MemoryStore) Head(ctx context.Context) (Event, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.events) == 0 {
		return Event{}, false, nil
	}
	return copyEvent(m.events[len(m.events)-1]), true, nil
}

// Stats aggregates the chain contents.
func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{
		TotalEvents: uint64(len(m.events)),
		ByType:      make(map[EventType]uint64),
		ByAgent:     make(map[string]uint64),
	}
	for _, e := range m.events {
		st.ByType[e.EventType]++
		if e.AgentID != "" {
			st.ByAgent[e.AgentID]++
		}
	}
	if n := len(m.events); n > 0 {
		st.HeadPosition = m.events[n-1].ChainPosition
		st.HeadHash = m.events[n-1].Hash
	}
	return st, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// tail keeps the last `limit` elements, preserving order.
func tail(events []Event, limit int) []Event {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}

var _ Store = (*MemoryStore)(nil)

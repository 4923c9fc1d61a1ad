// Package breaker holds per-agent circuit state. A tripped agent is denied
// at admission until its cooldown elapses, then probation (half-open)
// admits a limited number of trials before the circuit closes again.
package breaker

import (
	"sync"
	"time"

	"github.com/ppiankov/trustplane/internal/config"
)

// State is one circuit position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Status describes one agent's circuit for inspection.
type Status struct {
	AgentID   string    `json:"agentId"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"trippedAt,omitempty"`
}

type circuit struct {
	state      State
	reason     string
	trippedAt  time.Time
	trialsLeft int
}

// Breaker tracks circuits for all agents. Agents without an entry are
// closed.
type Breaker struct {
	mu             sync.Mutex
	circuits       map[string]*circuit
	cooldown       time.Duration
	halfOpenTrials int

	now func() time.Time
}

// New builds a breaker from config, applying defaults for zero values
// (300s cooldown, one half-open trial).
func New(cfg config.BreakerConfig) *Breaker {
	b := &Breaker{
		circuits:       make(map[string]*circuit),
		cooldown:       time.Duration(cfg.CooldownSec) * time.Second,
		halfOpenTrials: cfg.HalfOpenTrials,
		now:            time.Now,
	}
	if b.cooldown <= 0 {
		b.cooldown = 300 * time.Second
	}
	if b.halfOpenTrials <= 0 {
		b.halfOpenTrials = 1
	}
	return b
}

// Trip opens the circuit for an agent immediately.
func (b *Breaker) Trip(agentID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.circuits[agentID] = &circuit{
		state:     StateOpen,
		reason:    reason,
		trippedAt: b.now().UTC(),
	}
}

// Reset closes the circuit for an agent. Manual operator action.
func (b *Breaker) Reset(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, agentID)
}

// Allow reports whether the agent may act right now. An open circuit past
// its cooldown moves to half-open and admits a bounded number of trials;
// their outcomes arrive via RecordSuccess and RecordFailure.
func (b *Breaker) Allow(agentID string) (bool, State, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[agentID]
	if !ok || c.state == StateClosed {
		return true, StateClosed, ""
	}

	if c.state == StateOpen {
		if b.now().UTC().Sub(c.trippedAt) < b.cooldown {
			return false, StateOpen, c.reason
		}
		c.state = StateHalfOpen
		c.trialsLeft = b.halfOpenTrials
	}

	// Half-open: admit while trial budget remains.
	if c.trialsLeft > 0 {
		c.trialsLeft--
		return true, StateHalfOpen, c.reason
	}
	return false, StateHalfOpen, c.reason
}

// RecordSuccess closes a half-open circuit. A closed agent is unaffected.
func (b *Breaker) RecordSuccess(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[agentID]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		delete(b.circuits, agentID)
	}
}

// RecordFailure re-opens a half-open circuit with a fresh cooldown.
func (b *Breaker) RecordFailure(agentID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[agentID]
	if !ok || c.state != StateHalfOpen {
		return
	}
	c.state = StateOpen
	c.reason = reason
	c.trippedAt = b.now().UTC()
	c.trialsLeft = 0
}

// StateOf returns the agent's current circuit state without admitting.
func (b *Breaker) StateOf(agentID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[agentID]
	if !ok {
		return StateClosed
	}
	return c.state
}

// Snapshot lists all non-closed circuits.
func (b *Breaker) Snapshot() []Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Status, 0, len(b.circuits))
	for id, c := range b.circuits {
		out = append(out, Status{
			AgentID:   id,
			State:     c.state,
			Reason:    c.reason,
			TrippedAt: c.trippedAt,
		})
	}
	return out
}

// Package ledger is the proof plane: an append-only, hash-chained event
// log covering every intent, decision, trust change, probe, and breaker
// transition in the kernel. Each event carries the hash of its
// predecessor, so any rewrite of history breaks the chain at the point
// of tampering.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ppiankov/trustplane/internal/fault"
)

// GenesisHash is the prevHash of the first event in a new ledger.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// EventType labels what a ledger event records.
type EventType string

const (
	EventIntentReceived     EventType = "intent_received"
	EventDecisionMade       EventType = "decision_made"
	EventTrustDelta         EventType = "trust_delta"
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventProbeExecuted      EventType = "probe_executed"
	EventBreakerTripped     EventType = "breaker_tripped"
	EventBreakerReset       EventType = "breaker_reset"
	EventProfileCreated     EventType = "profile_created"
	EventProfileUpdated     EventType = "profile_updated"
	EventPolicyChanged      EventType = "policy_changed"
)

// EventTypes returns all event types in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventIntentReceived, EventDecisionMade, EventTrustDelta,
		EventExecutionStarted, EventExecutionCompleted, EventExecutionFailed,
		EventProbeExecuted, EventBreakerTripped, EventBreakerReset,
		EventProfileCreated, EventProfileUpdated, EventPolicyChanged,
	}
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one immutable ledger entry. Payload keeps the exact bytes it
// was appended with; field order is fixed by the struct so marshaling is
// deterministic and hashes are reproducible after reload.
type Event struct {
	EventID       string          `json:"eventId"`
	EventType     EventType       `json:"eventType"`
	CorrelationID string          `json:"correlationId"`
	AgentID       string          `json:"agentId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    string          `json:"occurredAt"`
	ChainPosition uint64          `json:"chainPosition"`
	PrevHash      string          `json:"prevHash"`
	Hash          string          `json:"hash,omitempty"`
}

// ComputeHash returns "sha256:<hex>" over the event's canonical content,
// prevHash included, the hash field itself excluded.
func ComputeHash(e Event) (string, error) {
	e.Hash = ""
	content, err := json.Marshal(e)
	if err != nil {
		return "", fault.Internal(err, "marshal event %s", e.EventID)
	}
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Recomputes reports whether the event's stored hash matches its content.
func Recomputes(e Event) bool {
	want, err := ComputeHash(e)
	return err == nil && want == e.Hash
}

func copyEvent(e Event) Event {
	if e.Payload != nil {
		e.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return e
}

func copyEvents(events []Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = copyEvent(e)
	}
	return out
}

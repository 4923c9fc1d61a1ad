package ledger

import (
	"encoding/json"
	"strings"
	"testing"
)

func sampleEvent() Event {
	return Event{
		EventID:       "evt-abc123def456",
		EventType:     EventTrustDelta,
		CorrelationID: "cor-111111111111",
		AgentID:       "agent-1",
		Payload:       json.RawMessage(`{"cause":"task_success","prevScore":412,"newScore":418}`),
		OccurredAt:    "2026-08-23T10:00:00.000Z",
		ChainPosition: 7,
		PrevHash:      "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	e := sampleEvent()
	first, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if !strings.HasPrefix(first, "sha256:") || len(first) != len(GenesisHash) {
		t.Fatalf("hash shape %q", first)
	}
	second, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if first != second {
		t.Fatalf("hash unstable: %s vs %s", first, second)
	}

	// The stored hash never feeds its own computation.
	e.Hash = first
	third, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if third != first {
		t.Fatalf("hash changed once set: %s vs %s", third, first)
	}
	if !Recomputes(e) {
		t.Fatal("event with its own hash does not recompute")
	}
}

func TestHashSurvivesSerialization(t *testing.T) {
	e := sampleEvent()
	h, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	e.Hash = h

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(back.Payload) != string(e.Payload) {
		t.Fatalf("payload bytes changed: %s", back.Payload)
	}
	if !Recomputes(back) {
		t.Fatal("hash broken by a serialization round trip")
	}
}

func TestHashCoversEveryField(t *testing.T) {
	base := sampleEvent()
	baseHash, err := ComputeHash(base)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}

	mutations := map[string]func(*Event){
		"eventID":       func(e *Event) { e.EventID = "evt-other" },
		"eventType":     func(e *Event) { e.EventType = EventDecisionMade },
		"correlationID": func(e *Event) { e.CorrelationID = "cor-222222222222" },
		"agentID":       func(e *Event) { e.AgentID = "agent-2" },
		"payload":       func(e *Event) { e.Payload = json.RawMessage(`{"cause":"forged"}`) },
		"occurredAt":    func(e *Event) { e.OccurredAt = "2026-08-23T10:00:00.001Z" },
		"chainPosition": func(e *Event) { e.ChainPosition = 8 },
		"prevHash":      func(e *Event) { e.PrevHash = GenesisHash },
	}
	for name, mutate := range mutations {
		e := sampleEvent()
		mutate(&e)
		h, err := ComputeHash(e)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if h == baseHash {
			t.Errorf("mutating %s did not change the hash", name)
		}
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range EventTypes() {
		if !et.Valid() {
			t.Errorf("listed type %s invalid", et)
		}
	}
	for _, bad := range []EventType{"", "intent", "INTENT_RECEIVED", "decision"} {
		if bad.Valid() {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestGenesisHashShape(t *testing.T) {
	if !strings.HasPrefix(GenesisHash, "sha256:") {
		t.Fatalf("genesis %q", GenesisHash)
	}
	if got := strings.TrimPrefix(GenesisHash, "sha256:"); got != strings.Repeat("0", 64) {
		t.Fatalf("genesis digest %q", got)
	}
}

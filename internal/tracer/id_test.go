package tracer

import (
	"strings"
	"testing"
	"time"
)

func TestPrefixedIDShape(t *testing.T) {
	cases := []struct {
		name   string
		gen    func() string
		prefix string
		hexLen int
	}{
		{"trace", NewTraceID, "tr-", 12},
		{"correlation", NewCorrelationID, "cor-", 12},
		{"event", NewEventID, "evt-", 12},
		{"intent", NewIntentID, "int-", 12},
		{"probe", NewProbeResultID, "prb-", 8},
		{"evidence", NewEvidenceID, "evd-", 12},
		{"checkpoint", NewCheckpointID, "chk-", 8},
	}
	for _, c := range cases {
		id := c.gen()
		if !strings.HasPrefix(id, c.prefix) {
			t.Errorf("%s ID %q missing prefix %q", c.name, id, c.prefix)
		}
		if len(id) != len(c.prefix)+c.hexLen {
			t.Errorf("%s ID %q: expected length %d, got %d",
				c.name, id, len(c.prefix)+c.hexLen, len(id))
		}
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		if seen[id] {
			t.Fatalf("duplicate event ID after %d draws: %s", i, id)
		}
		seen[id] = true
	}
}

func TestUTCNowISO(t *testing.T) {
	ts := UTCNowISO()
	if !strings.HasSuffix(ts, "Z") {
		t.Errorf("timestamp should end in Z, got %s", ts)
	}
	parsed, err := time.Parse("2006-01-02T15:04:05.000Z", ts)
	if err != nil {
		t.Fatalf("timestamp does not round-trip: %v", err)
	}
	if d := time.Since(parsed); d > time.Minute || d < -time.Minute {
		t.Errorf("timestamp too far from now: %v", d)
	}
}

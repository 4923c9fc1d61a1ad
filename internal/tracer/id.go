package tracer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewTraceID generates a trace ID carried on fault reports and results.
func NewTraceID() string {
	return prefixedID("tr", 12)
}

// NewCorrelationID generates an ID grouping all ledger events of one intent.
func NewCorrelationID() string {
	return prefixedID("cor", 12)
}

// NewEventID generates a ledger event ID.
func NewEventID() string {
	return prefixedID("evt", 12)
}

// NewIntentID generates an intent ID for callers that did not supply one.
func NewIntentID() string {
	return prefixedID("int", 12)
}

// NewProbeResultID generates an ID for a single probe execution.
func NewProbeResultID() string {
	return prefixedID("prb", 8)
}

// NewEvidenceID generates an ID for one trust evidence item.
func NewEvidenceID() string {
	return prefixedID("evd", 12)
}

// NewCheckpointID generates an ID for a signed ledger checkpoint.
func NewCheckpointID() string {
	return prefixedID("chk", 8)
}

// UTCNowISO returns the current UTC time in ISO format with Z suffix.
func UTCNowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func prefixedID(prefix string, hexLen int) string {
	b := make([]byte, (hexLen+1)/2)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("%s-%x", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b)[:hexLen])
}

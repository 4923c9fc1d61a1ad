package redact

import "strings"

// Mode determines whether scrubbing is applied before an endpoint call.
type Mode string

const (
	ModeLocal Mode = "local" // endpoint on this host, nothing leaves the box
	ModeCloud Mode = "cloud" // remote endpoint, scrub before sending
)

// DetectMode infers the mode from the endpoint URL. Localhost and
// 127.0.0.1 are local; everything else is cloud.
func DetectMode(apiURL string) Mode {
	lower := strings.ToLower(apiURL)
	if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") {
		return ModeLocal
	}
	return ModeCloud
}

// ResolveMode determines the mode from the endpoint URL and an optional
// environment override (TRUSTPLANE_REDACT). The override takes
// precedence:
//   - "always" → cloud (force scrubbing)
//   - "never"  → local (skip scrubbing)
//   - ""       → auto-detect from URL
func ResolveMode(apiURL, envOverride string) Mode {
	switch strings.ToLower(strings.TrimSpace(envOverride)) {
	case "always":
		return ModeCloud
	case "never":
		return ModeLocal
	default:
		return DetectMode(apiURL)
	}
}

// Package redact scrubs credentials out of data bound for places they
// must never persist. The proof plane is append-only, so a secret that
// reaches a ledger payload is a secret kept forever; probe responses
// shipped to a remote judge endpoint leave the box entirely.
package redact

import (
	"regexp"
	"strings"
)

// mask replaces every scrubbed value.
const mask = "***"

// secretKeyParts match anywhere inside a lowercased key, so "db_password"
// and "stripeApiKey" are caught.
var secretKeyParts = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"credential", "access_key", "private_key", "session", "cookie",
	"authorization",
}

// secretKeyExact are too short for substring matching without catching
// words like "author".
var secretKeyExact = []string{"auth", "key", "pin"}

// Inline credential assignments inside free text: "password=hunter2",
// "api_key: sk-abc", "Authorization: Bearer eyJ...". The value is
// replaced, the key survives so the reader still sees what was there.
var credAssignRe = regexp.MustCompile(`(?i)\b((?:authorization|credentials?|access[_-]?key|private[_-]?key|api[_-]?key|apikey|password|passwd|secret|token|session|auth)\b[ \t]*[=:][ \t]*)(?:bearer[ \t]+)?\S+`)

// Bearer tokens outside an assignment.
var bearerRe = regexp.MustCompile(`(?i)\b(bearer)[ \t]+[A-Za-z0-9._~+/=-]+`)

// KeyIsSecret reports whether a map key names a credential.
func KeyIsSecret(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range secretKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	for _, exact := range secretKeyExact {
		if lower == exact {
			return true
		}
	}
	return false
}

// MaskValue replaces a value with the mask. Booleans and nil pass
// through; numbers do not, a PIN is still a secret.
func MaskValue(v any) any {
	switch v.(type) {
	case bool, nil:
		return v
	default:
		return mask
	}
}

// ScrubText masks credential values embedded in free text. Idempotent.
func ScrubText(s string) string {
	s = credAssignRe.ReplaceAllString(s, "${1}"+mask)
	s = bearerRe.ReplaceAllString(s, "${1} "+mask)
	return s
}

// ScrubMap returns a deep copy with secret-keyed values masked and
// string values run through ScrubText. The input is never modified; the
// caller may keep using the original for execution.
func ScrubMap(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if KeyIsSecret(k) {
			out[k] = MaskValue(v)
			continue
		}
		out[k] = scrubValue(v)
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ScrubMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = scrubValue(e)
		}
		return out
	case string:
		return ScrubText(t)
	default:
		return v
	}
}

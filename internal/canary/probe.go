// Package canary runs known-answer probes against agents at stochastic
// intervals and trips the circuit breaker when a critical probe fails.
// Probes catch gradual behavioral drift that trend analysis misses: the
// correct answer is fixed, so any deviation is a hard signal.
package canary

import (
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/trustplane/internal/fault"
)

// Category groups probes by what they test.
type Category string

const (
	CategoryFactual     Category = "FACTUAL"
	CategoryLogical     Category = "LOGICAL"
	CategoryEthical     Category = "ETHICAL"
	CategoryBehavioral  Category = "BEHAVIORAL"
	CategoryConsistency Category = "CONSISTENCY"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryFactual, CategoryLogical, CategoryEthical, CategoryBehavioral, CategoryConsistency:
		return true
	}
	return false
}

// ValidationMode selects how a probe response is checked against the
// expected answer(s).
type ValidationMode string

const (
	ValidateExact       ValidationMode = "EXACT"
	ValidateContains    ValidationMode = "CONTAINS"
	ValidateNotContains ValidationMode = "NOT_CONTAINS"
	ValidateOneOf       ValidationMode = "ONE_OF"
	ValidateRegex       ValidationMode = "REGEX"
	ValidateSemantic    ValidationMode = "SEMANTIC"
)

// Valid reports whether m is a known validation mode.
func (m ValidationMode) Valid() bool {
	switch m {
	case ValidateExact, ValidateContains, ValidateNotContains, ValidateOneOf, ValidateRegex, ValidateSemantic:
		return true
	}
	return false
}

// Probe is an immutable library entry: a prompt with a known answer.
// For EXACT, CONTAINS, NOT_CONTAINS and REGEX the first expected answer
// is the reference; ONE_OF accepts any of them; SEMANTIC hands the first
// to the external judge.
type Probe struct {
	ProbeID         string         `yaml:"probe_id" json:"probeId"`
	Category        Category       `yaml:"category" json:"category"`
	Prompt          string         `yaml:"prompt" json:"prompt"`
	ExpectedAnswers []string       `yaml:"expected_answers" json:"expectedAnswers"`
	ValidationMode  ValidationMode `yaml:"validation_mode" json:"validationMode"`
	Difficulty      int            `yaml:"difficulty" json:"difficulty"`
	Critical        bool           `yaml:"critical" json:"critical"`
}

// Validate checks the probe definition itself, not a response.
func (p Probe) Validate() error {
	if strings.TrimSpace(p.ProbeID) == "" {
		return fault.Validation("probe id is required")
	}
	if !p.Category.Valid() {
		return fault.Validation("probe %s: unknown category %q", p.ProbeID, p.Category)
	}
	if !p.ValidationMode.Valid() {
		return fault.Validation("probe %s: unknown validation mode %q", p.ProbeID, p.ValidationMode)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fault.Validation("probe %s: prompt is required", p.ProbeID)
	}
	if len(p.ExpectedAnswers) == 0 {
		return fault.Validation("probe %s: at least one expected answer is required", p.ProbeID)
	}
	if p.Difficulty < 1 || p.Difficulty > 5 {
		return fault.Validation("probe %s: difficulty %d outside 1..5", p.ProbeID, p.Difficulty)
	}
	if p.ValidationMode == ValidateRegex {
		if _, err := compileAnswerPattern(p.ExpectedAnswers[0]); err != nil {
			return fault.Validation("probe %s: bad pattern: %v", p.ProbeID, err)
		}
	}
	return nil
}

// Matches checks a response against the probe's expectations for every
// mode except SEMANTIC, which needs the external judge and is handled by
// the service.
func (p Probe) Matches(response string) (bool, error) {
	if len(p.ExpectedAnswers) == 0 {
		return false, fault.Validation("probe %s has no expected answers", p.ProbeID)
	}
	got := strings.ToLower(strings.TrimSpace(response))
	want := strings.ToLower(strings.TrimSpace(p.ExpectedAnswers[0]))

	switch p.ValidationMode {
	case ValidateExact:
		return got == want, nil
	case ValidateContains:
		return strings.Contains(got, want), nil
	case ValidateNotContains:
		return !strings.Contains(got, want), nil
	case ValidateOneOf:
		for _, answer := range p.ExpectedAnswers {
			if got == strings.ToLower(strings.TrimSpace(answer)) {
				return true, nil
			}
		}
		return false, nil
	case ValidateRegex:
		re, err := compileAnswerPattern(p.ExpectedAnswers[0])
		if err != nil {
			return false, fault.Validation("probe %s: bad pattern: %v", p.ProbeID, err)
		}
		return re.MatchString(strings.TrimSpace(response)), nil
	case ValidateSemantic:
		return false, fault.Validation("probe %s: semantic validation needs a judge", p.ProbeID)
	}
	return false, fault.Validation("probe %s: unknown validation mode %q", p.ProbeID, p.ValidationMode)
}

// compileAnswerPattern anchors the library pattern so it must cover the
// whole response, case-insensitively.
func compileAnswerPattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?is)^(?:" + pattern + ")$")
}

// Result records one probe execution against one agent.
type Result struct {
	ResultID       string    `json:"resultId"`
	ProbeID        string    `json:"probeId"`
	AgentID        string    `json:"agentId"`
	Category       Category  `json:"category"`
	Passed         bool      `json:"passed"`
	Response       string    `json:"response"`
	Expected       []string  `json:"expected"`
	LatencyMS      int64     `json:"latencyMs"`
	TrippedBreaker bool      `json:"trippedBreaker"`
	ExecutedAt     time.Time `json:"executedAt"`
}

// CategoryStats is the pass/fail breakdown for one probe category.
type CategoryStats struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// AgentStats aggregates probe outcomes for one agent. LastProbeAt also
// drives the injection gate.
type AgentStats struct {
	AgentID             string                     `json:"agentId"`
	TotalProbes         int                        `json:"totalProbes"`
	ProbesPassed        int                        `json:"probesPassed"`
	ProbesFailed        int                        `json:"probesFailed"`
	PassRate            float64                    `json:"passRate"`
	ConsecutiveFailures int                        `json:"consecutiveFailures"`
	ByCategory          map[Category]CategoryStats `json:"byCategory"`
	LastProbeAt         time.Time                  `json:"lastProbeAt"`
}

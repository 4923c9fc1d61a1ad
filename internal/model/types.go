package model

import "time"

// Dimension identifies one of the five trust scoring dimensions.
type Dimension string

const (
	DimCumulative  Dimension = "CT" // earned over time through task outcomes
	DimBurned      Dimension = "BT" // negative signals; contributes against the composite
	DimGranted     Dimension = "GT" // formally granted trust (certification)
	DimExceptional Dimension = "XT" // peer-awarded exceptional trust
	DimAgentClass  Dimension = "AC" // agent-class base, seeded from provenance
)

// Dimensions returns all dimensions in canonical order.
func Dimensions() []Dimension {
	return []Dimension{
		DimCumulative, DimBurned, DimGranted, DimExceptional, DimAgentClass,
	}
}

// Valid reports whether the dimension is a known enum member.
func (d Dimension) Valid() bool {
	switch d {
	case DimCumulative, DimBurned, DimGranted, DimExceptional, DimAgentClass:
		return true
	}
	return false
}

// Intent is one requested action flowing through the kernel.
type Intent struct {
	IntentID   string         `json:"intent_id"`
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	Domain     string         `json:"domain,omitempty"`
	Role       Role           `json:"role,omitempty"`
	Tier       Tier           `json:"tier,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// DecisionSource identifies which layer produced an authorization decision.
type DecisionSource string

const (
	SourceKernel    DecisionSource = "kernel"
	SourceException DecisionSource = "exception"
	SourceRule      DecisionSource = "rule"
	SourceDefault   DecisionSource = "default"
	SourceBreaker   DecisionSource = "breaker"
)

// Decision is the outcome of an authorization evaluation. A denial is a
// valid decision value, not an error.
type Decision struct {
	Permitted     bool           `json:"permitted"`
	Reason        string         `json:"reason"`
	Source        DecisionSource `json:"source"`
	Role          Role           `json:"role"`
	Tier          Tier           `json:"tier"`
	Domain        string         `json:"domain,omitempty"`
	PolicyVersion string         `json:"policy_version,omitempty"`
	EvaluatedAt   time.Time      `json:"evaluated_at"`
}

// Severity ranks how bad a trust violation or probe failure is.
// Can only be compared, never averaged.
type Severity int

const (
	SeverityLow      Severity = 0
	SeverityMedium   Severity = 1
	SeverityHigh     Severity = 2
	SeverityCritical Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

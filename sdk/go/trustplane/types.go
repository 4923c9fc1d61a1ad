package trustplane

import (
	"fmt"
	"time"

	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/orchestrator"
	"github.com/ppiankov/trustplane/internal/trust"
)

// Request carries the per-call intent data. The action type comes from
// the Guard or Authorize binding. Role, Tier and Domain fall back to
// the guard's defaults, then to the kernel's own resolution (registry
// role, band-capped tier).
type Request struct {
	AgentID string
	Domain  string
	Role    string
	Tier    string
	Params  map[string]any
}

// Outcome is the unified result of one authorized call.
type Outcome struct {
	IntentID      string
	CorrelationID string
	Permitted     bool
	Reason        string
	Source        string
	Role          string
	Tier          string
	PolicyVersion string
	Score         int
	Band          string
	Executed      bool
	Output        any
	Success       bool
}

// TrustSnapshot is an agent's trust state at one instant.
type TrustSnapshot struct {
	AgentID      string
	Score        int
	Band         string
	MaxTier      string
	Observation  string
	Version      int
	CalculatedAt time.Time
}

// EnrollParams seeds a new agent profile. Zero values mean an
// INSTRUMENTED, FRESH agent with the canonical weights.
type EnrollParams struct {
	Observation string
	Creation    string
	Preset      string
}

// VerifyResult reports a proof-plane chain verification.
type VerifyResult struct {
	Valid            bool
	Checked          int
	FirstBadPosition uint64
	Reason           string
}

// DeniedError is returned by a guarded function when the kernel refuses
// the call. The action never ran.
type DeniedError struct {
	AgentID       string
	ActionType    string
	Reason        string
	Source        string
	CorrelationID string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("trustplane denied (%s): %s", e.Source, e.Reason)
}

// toIntent maps a Request onto an internal intent, guard defaults
// filling the gaps.
func toIntent(actionType string, req Request, g guardConfig) model.Intent {
	role := req.Role
	if role == "" {
		role = g.role
	}
	tier := req.Tier
	if tier == "" {
		tier = g.tier
	}
	domain := req.Domain
	if domain == "" {
		domain = g.domain
	}
	return model.Intent{
		AgentID:    req.AgentID,
		ActionType: actionType,
		Domain:     domain,
		Role:       model.Role(role),
		Tier:       model.Tier(tier),
		Params:     req.Params,
	}
}

// fromIntent rebuilds the Request an executor sees.
func fromIntent(intent model.Intent) Request {
	return Request{
		AgentID: intent.AgentID,
		Domain:  intent.Domain,
		Role:    string(intent.Role),
		Tier:    string(intent.Tier),
		Params:  intent.Params,
	}
}

func fromResult(res orchestrator.Result) Outcome {
	return Outcome{
		IntentID:      res.IntentID,
		CorrelationID: res.CorrelationID,
		Permitted:     res.Decision.Permitted,
		Reason:        res.Decision.Reason,
		Source:        string(res.Decision.Source),
		Role:          string(res.Decision.Role),
		Tier:          string(res.Decision.Tier),
		PolicyVersion: res.Decision.PolicyVersion,
		Score:         res.Profile.AdjustedScore,
		Band:          string(res.Profile.Band),
		Executed:      res.Executed,
		Output:        res.Output,
		Success:       res.Success,
	}
}

func snapshot(p trust.Profile) TrustSnapshot {
	return TrustSnapshot{
		AgentID:      p.AgentID,
		Score:        p.AdjustedScore,
		Band:         string(p.Band),
		MaxTier:      string(p.Band.Tier()),
		Observation:  string(p.ObservationTier),
		Version:      p.Version,
		CalculatedAt: p.CalculatedAt,
	}
}

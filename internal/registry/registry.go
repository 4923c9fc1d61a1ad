// Package registry maps agent IDs to their declared identity: role,
// observation tier, provenance and allowed domains.
package registry

import (
	"strings"
	"sync"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/model"
)

// Agent is one registered agent's declared identity.
type Agent struct {
	AgentID         string                `yaml:"agent_id" json:"agentId"`
	Role            model.Role            `yaml:"role" json:"role"`
	ObservationTier model.ObservationTier `yaml:"observation_tier" json:"observationTier"`
	CreationType    model.CreationType    `yaml:"creation_type" json:"creationType"`
	Domains         []string              `yaml:"domains,omitempty" json:"domains,omitempty"`
}

// Registry maps agent IDs to their declared identities.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// FromConfig builds a registry from declared agents, validating every enum.
func FromConfig(agents []config.AgentConfig) (*Registry, error) {
	r := NewRegistry()
	for i, ac := range agents {
		a := Agent{
			AgentID:         ac.AgentID,
			Role:            model.Role(ac.Role),
			ObservationTier: model.ObservationTier(ac.ObservationTier),
			CreationType:    model.CreationType(ac.CreationType),
			Domains:         ac.Domains,
		}
		if a.CreationType == "" {
			a.CreationType = model.CreationFresh
		}
		if err := r.Register(a); err != nil {
			return nil, fault.Validation("agent %d: %v", i, err)
		}
	}
	return r, nil
}

// Register adds an agent. Duplicate IDs conflict.
func (r *Registry) Register(a Agent) error {
	if a.AgentID == "" {
		return fault.Validation("agent needs an agent_id")
	}
	if !a.Role.Valid() {
		return fault.Validation("agent %s: unknown role %q", a.AgentID, a.Role)
	}
	if !a.ObservationTier.Valid() {
		return fault.Validation("agent %s: unknown observation tier %q", a.AgentID, a.ObservationTier)
	}
	if !a.CreationType.Valid() {
		return fault.Validation("agent %s: unknown creation type %q", a.AgentID, a.CreationType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.AgentID]; ok {
		return fault.Conflict("agent %s already registered", a.AgentID)
	}
	r.agents[a.AgentID] = a
	return nil
}

// Lookup returns the agent's declared identity.
func (r *Registry) Lookup(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// IsRegistered reports whether the agent ID exists in the registry.
func (r *Registry) IsRegistered(agentID string) bool {
	_, ok := r.Lookup(agentID)
	return ok
}

// RoleFor returns the agent's declared role, false when unregistered.
func (r *Registry) RoleFor(agentID string) (model.Role, bool) {
	a, ok := r.Lookup(agentID)
	if !ok {
		return "", false
	}
	return a.Role, true
}

// DomainAllowed reports whether the agent may act in the domain. An empty
// domain list means no scope restriction; patterns are globs.
func (r *Registry) DomainAllowed(agentID, domain string) bool {
	a, ok := r.Lookup(agentID)
	if !ok {
		return false
	}
	if len(a.Domains) == 0 {
		return true
	}
	for _, pattern := range a.Domains {
		if MatchPattern(pattern, domain) {
			return true
		}
	}
	return false
}

// Agents returns all registered agents, order unspecified.
func (r *Registry) Agents() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// MatchPattern checks if a value matches a glob-like pattern.
// Supports: *x* (contains), *x (suffix), x* (prefix), exact match.
// Matching is case-insensitive.
func MatchPattern(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	lowerValue := strings.ToLower(value)
	lowerPattern := strings.ToLower(pattern)

	if strings.HasPrefix(lowerPattern, "*") && strings.HasSuffix(lowerPattern, "*") {
		inner := lowerPattern[1 : len(lowerPattern)-1]
		return strings.Contains(lowerValue, inner)
	}

	if strings.HasPrefix(lowerPattern, "*") {
		suffix := lowerPattern[1:]
		return strings.HasSuffix(lowerValue, suffix)
	}

	if strings.HasSuffix(lowerPattern, "*") {
		prefix := lowerPattern[:len(lowerPattern)-1]
		return strings.HasPrefix(lowerValue, prefix)
	}

	return lowerValue == lowerPattern
}

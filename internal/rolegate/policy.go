package rolegate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/model"
)

// Rule is a dynamic policy entry layered over the kernel matrix. Rules are
// evaluated in order and the first match wins.
type Rule struct {
	RuleID  string     `json:"ruleId"`
	Role    model.Role `json:"role"`
	Tier    model.Tier `json:"tier"`
	Domain  string     `json:"domain,omitempty"`
	Permit  bool       `json:"permit"`
	Reason  string     `json:"reason,omitempty"`
	AddedAt time.Time  `json:"addedAt"`
}

// Exception is a per-agent override that is consulted before rules. An
// expired exception is skipped as if it had been removed.
type Exception struct {
	ExceptionID string     `json:"exceptionId"`
	AgentID     string     `json:"agentId"`
	Role        model.Role `json:"role"`
	Tier        model.Tier `json:"tier"`
	Permit      bool       `json:"permit"`
	Approver    string     `json:"approver"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt,omitempty"`
	AddedAt     time.Time  `json:"addedAt"`
}

// Expired reports whether the exception is past its expiry at the given
// instant. A zero ExpiresAt never expires.
func (e Exception) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Evaluation is one recorded authorization check.
type Evaluation struct {
	AgentID  string         `json:"agentId"`
	MatchID  string         `json:"matchId,omitempty"`
	Decision model.Decision `json:"decision"`
}

// trailSize bounds the in-memory evaluation trail. Older entries are
// overwritten; the ledger keeps the durable record.
const trailSize = 4096

// Engine evaluates authorization requests. Resolution order: kernel matrix,
// then unexpired per-agent exceptions, then rules, then default allow.
type Engine struct {
	mu         sync.RWMutex
	rules      []Rule
	exceptions []Exception
	major      int
	minor      int

	trail    []Evaluation
	trailPos int

	now func() time.Time
}

// NewEngine returns an empty engine at policy version 1.0.
func NewEngine() *Engine {
	return &Engine{major: 1, now: time.Now}
}

// NewEngineFromConfig builds an engine from declarative policy config.
// Invalid entries fail the whole load rather than being silently dropped.
func NewEngineFromConfig(cfg config.PolicyConfig) (*Engine, error) {
	e := NewEngine()
	for i, rc := range cfg.Rules {
		r := Rule{
			Role:   model.Role(rc.Role),
			Tier:   model.Tier(rc.Tier),
			Domain: rc.Domain,
			Permit: parsePermit(rc.Decision),
			Reason: rc.Reason,
		}
		if _, err := e.AddRule(r); err != nil {
			return nil, fmt.Errorf("policy rule %d: %w", i, err)
		}
	}
	for i, xc := range cfg.Exceptions {
		x := Exception{
			AgentID:  xc.AgentID,
			Role:     model.Role(xc.Role),
			Tier:     model.Tier(xc.Tier),
			Permit:   parsePermit(xc.Decision),
			Approver: xc.Approver,
			Reason:   xc.Reason,
		}
		if xc.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, xc.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("policy exception %d: bad expiresAt %q: %w", i, xc.ExpiresAt, err)
			}
			x.ExpiresAt = t
		}
		if _, err := e.AddException(x); err != nil {
			return nil, fmt.Errorf("policy exception %d: %w", i, err)
		}
	}
	// Config loads do not count as runtime mutations.
	e.mu.Lock()
	e.minor = 0
	e.mu.Unlock()
	return e, nil
}

// parsePermit maps a config decision string to a verdict. Anything that is
// not exactly "allow" denies: an unparseable policy must not grant access.
func parsePermit(s string) bool {
	return strings.ToLower(strings.TrimSpace(s)) == "allow"
}

// Evaluate runs the full resolution order for one request and records it on
// the trail. It always returns a decision, never an error.
func (e *Engine) Evaluate(agentID string, role model.Role, tier model.Tier, domain string) model.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	d := model.Decision{
		Role:          role,
		Tier:          tier,
		Domain:        domain,
		PolicyVersion: e.versionLocked(),
		EvaluatedAt:   now,
	}

	if !ValidateRoleAndTier(role, tier) {
		d.Permitted = false
		d.Source = model.SourceKernel
		d.Reason = fmt.Sprintf("role %s does not reach tier %s", role, tier)
		e.recordLocked(Evaluation{AgentID: agentID, Decision: d})
		return d
	}

	for _, x := range e.exceptions {
		if x.AgentID != agentID || x.Role != role || x.Tier != tier {
			continue
		}
		if x.Expired(now) {
			continue
		}
		d.Permitted = x.Permit
		d.Source = model.SourceException
		d.Reason = fmt.Sprintf("exception %s (approved by %s)", x.ExceptionID, x.Approver)
		if x.Reason != "" {
			d.Reason += ": " + x.Reason
		}
		e.recordLocked(Evaluation{AgentID: agentID, MatchID: x.ExceptionID, Decision: d})
		return d
	}

	for _, r := range e.rules {
		if r.Role != role || r.Tier != tier {
			continue
		}
		if !matchDomain(r.Domain, domain) {
			continue
		}
		d.Permitted = r.Permit
		d.Source = model.SourceRule
		d.Reason = fmt.Sprintf("rule %s", r.RuleID)
		if r.Reason != "" {
			d.Reason += ": " + r.Reason
		}
		e.recordLocked(Evaluation{AgentID: agentID, MatchID: r.RuleID, Decision: d})
		return d
	}

	d.Permitted = true
	d.Source = model.SourceDefault
	d.Reason = "no matching rule; structurally valid pair permitted"
	e.recordLocked(Evaluation{AgentID: agentID, Decision: d})
	return d
}

// AddRule appends a rule and bumps the minor version. The rule ID is derived
// from content when empty.
func (e *Engine) AddRule(r Rule) (string, error) {
	if !r.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", r.Role)
	}
	if !r.Tier.Valid() {
		return "", fmt.Errorf("unknown tier %q", r.Tier)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.RuleID == "" {
		r.RuleID = e.ruleIDLocked(r)
	}
	for _, have := range e.rules {
		if have.RuleID == r.RuleID {
			return "", fmt.Errorf("rule %s already present", r.RuleID)
		}
	}
	r.AddedAt = e.now().UTC()
	e.rules = append(e.rules, r)
	e.minor++
	return r.RuleID, nil
}

// RemoveRule deletes a rule by ID, reporting whether it was present. Removal
// bumps the minor version.
func (e *Engine) RemoveRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.RuleID == ruleID {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			e.minor++
			return true
		}
	}
	return false
}

// AddException appends a per-agent override and bumps the minor version.
func (e *Engine) AddException(x Exception) (string, error) {
	if x.AgentID == "" {
		return "", fmt.Errorf("exception needs an agentId")
	}
	if !x.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", x.Role)
	}
	if !x.Tier.Valid() {
		return "", fmt.Errorf("unknown tier %q", x.Tier)
	}
	if x.Approver == "" {
		return "", fmt.Errorf("exception needs an approver")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if x.ExceptionID == "" {
		x.ExceptionID = fmt.Sprintf("exc.%s.%s.%s", x.AgentID, strings.ToLower(string(x.Role)), strings.ToLower(string(x.Tier)))
	}
	for _, have := range e.exceptions {
		if have.ExceptionID == x.ExceptionID {
			return "", fmt.Errorf("exception %s already present", x.ExceptionID)
		}
	}
	x.AddedAt = e.now().UTC()
	e.exceptions = append(e.exceptions, x)
	e.minor++
	return x.ExceptionID, nil
}

// RemoveException deletes an exception by ID, reporting whether it was
// present. Removal bumps the minor version.
func (e *Engine) RemoveException(exceptionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, x := range e.exceptions {
		if x.ExceptionID == exceptionID {
			e.exceptions = append(e.exceptions[:i], e.exceptions[i+1:]...)
			e.minor++
			return true
		}
	}
	return false
}

// Replace swaps in a freshly loaded policy table, bumping the major version
// and resetting minor. Used on config reload.
func (e *Engine) Replace(loaded *Engine) {
	loaded.mu.RLock()
	rules := append([]Rule(nil), loaded.rules...)
	exceptions := append([]Exception(nil), loaded.exceptions...)
	loaded.mu.RUnlock()

	e.mu.Lock()
	e.rules = rules
	e.exceptions = exceptions
	e.major++
	e.minor = 0
	e.mu.Unlock()
}

// Version returns the semantic policy version. Runtime mutations bump minor,
// table replacement bumps major.
func (e *Engine) Version() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.versionLocked()
}

func (e *Engine) versionLocked() string {
	return fmt.Sprintf("%d.%d", e.major, e.minor)
}

// Rules returns a copy of the active rule table in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Exceptions returns a copy of the active exceptions, expired ones included.
func (e *Engine) Exceptions() []Exception {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Exception(nil), e.exceptions...)
}

// PruneExpired drops exceptions already past expiry and returns how many
// went. Pruning bumps the minor version only when something was removed.
func (e *Engine) PruneExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now().UTC()
	kept := e.exceptions[:0]
	removed := 0
	for _, x := range e.exceptions {
		if x.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, x)
	}
	e.exceptions = kept
	if removed > 0 {
		e.minor++
	}
	return removed
}

// Trail returns recorded evaluations, oldest first.
func (e *Engine) Trail() []Evaluation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.trail) < trailSize {
		return append([]Evaluation(nil), e.trail...)
	}
	out := make([]Evaluation, 0, trailSize)
	out = append(out, e.trail[e.trailPos:]...)
	out = append(out, e.trail[:e.trailPos]...)
	return out
}

func (e *Engine) recordLocked(ev Evaluation) {
	if len(e.trail) < trailSize {
		e.trail = append(e.trail, ev)
		e.trailPos = len(e.trail) % trailSize
		return
	}
	e.trail[e.trailPos] = ev
	e.trailPos = (e.trailPos + 1) % trailSize
}

func (e *Engine) ruleIDLocked(r Rule) string {
	frag := "any"
	if r.Domain != "" {
		frag = strings.ToLower(strings.Trim(r.Domain, "*"))
		if frag == "" {
			frag = "any"
		}
	}
	base := fmt.Sprintf("rule.%s.%s.%s", strings.ToLower(string(r.Role)), strings.ToLower(string(r.Tier)), frag)
	id := base
	for n := 2; ; n++ {
		taken := false
		for _, have := range e.rules {
			if have.RuleID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
		id = fmt.Sprintf("%s.%d", base, n)
	}
}

// matchDomain matches a domain against a rule pattern. Supports exact match
// and glob prefix/suffix/contains forms. Empty pattern or "*" matches any.
func matchDomain(pattern, domain string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	d := strings.ToLower(strings.TrimSpace(domain))
	if p == "" || p == "*" {
		return true
	}
	if strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*") {
		return strings.Contains(d, strings.Trim(p, "*"))
	}
	if strings.HasPrefix(p, "*") {
		return strings.HasSuffix(d, strings.TrimPrefix(p, "*"))
	}
	if strings.HasSuffix(p, "*") {
		return strings.HasPrefix(d, strings.TrimSuffix(p, "*"))
	}
	return d == p
}

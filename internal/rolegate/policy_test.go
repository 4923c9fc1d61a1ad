package rolegate

import (
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/model"
)

func TestEvaluateDefaultAllow(t *testing.T) {
	e := NewEngine()
	d := e.Evaluate("agent-1", model.RoleTaskExecutor, model.TierLimitedProd, "billing")
	if !d.Permitted {
		t.Fatalf("empty policy should default-allow a valid pair: %s", d.Reason)
	}
	if d.Source != model.SourceDefault {
		t.Fatalf("source = %s, want %s", d.Source, model.SourceDefault)
	}
	if d.PolicyVersion != "1.0" {
		t.Fatalf("fresh engine version = %s, want 1.0", d.PolicyVersion)
	}
}

func TestEvaluateKernelDenyShortCircuits(t *testing.T) {
	e := NewEngine()
	// A rule that would allow the pair must never be reached.
	if _, err := e.AddRule(Rule{Role: model.RoleListener, Tier: model.TierCritical, Permit: true}); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	d := e.Evaluate("agent-1", model.RoleListener, model.TierCritical, "")
	if d.Permitted {
		t.Fatal("structurally invalid pair was permitted")
	}
	if d.Source != model.SourceKernel {
		t.Fatalf("source = %s, want %s", d.Source, model.SourceKernel)
	}
}

func TestExceptionConsultedBeforeRules(t *testing.T) {
	e := NewEngine()
	if _, err := e.AddRule(Rule{Role: model.RoleTaskExecutor, Tier: model.TierLimitedProd, Permit: false, Reason: "frozen"}); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if _, err := e.AddException(Exception{
		AgentID:  "agent-pardoned",
		Role:     model.RoleTaskExecutor,
		Tier:     model.TierLimitedProd,
		Permit:   true,
		Approver: "ops@local",
	}); err != nil {
		t.Fatalf("add exception: %v", err)
	}

	d := e.Evaluate("agent-pardoned", model.RoleTaskExecutor, model.TierLimitedProd, "")
	if !d.Permitted || d.Source != model.SourceException {
		t.Fatalf("pardoned agent got %v from %s, want allow from exception", d.Permitted, d.Source)
	}
	if !strings.Contains(d.Reason, "ops@local") {
		t.Fatalf("exception decision should name the approver: %q", d.Reason)
	}

	d = e.Evaluate("agent-other", model.RoleTaskExecutor, model.TierLimitedProd, "")
	if d.Permitted || d.Source != model.SourceRule {
		t.Fatalf("other agent got %v from %s, want deny from rule", d.Permitted, d.Source)
	}
}

func TestExpiredExceptionSkipped(t *testing.T) {
	e := NewEngine()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	if _, err := e.AddException(Exception{
		AgentID:   "agent-1",
		Role:      model.RoleWorkflowMgr,
		Tier:      model.TierStandardProd,
		Permit:    false,
		Approver:  "sec@local",
		ExpiresAt: clock.Add(time.Hour),
	}); err != nil {
		t.Fatalf("add exception: %v", err)
	}

	d := e.Evaluate("agent-1", model.RoleWorkflowMgr, model.TierStandardProd, "")
	if d.Permitted {
		t.Fatal("live exception should deny")
	}

	clock = clock.Add(2 * time.Hour)
	d = e.Evaluate("agent-1", model.RoleWorkflowMgr, model.TierStandardProd, "")
	if !d.Permitted || d.Source != model.SourceDefault {
		t.Fatalf("expired exception still applied: %v from %s", d.Permitted, d.Source)
	}
}

func TestFirstMatchingRuleWins(t *testing.T) {
	e := NewEngine()
	if _, err := e.AddRule(Rule{RuleID: "first", Role: model.RoleTaskExecutor, Tier: model.TierLimitedProd, Permit: false}); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if _, err := e.AddRule(Rule{RuleID: "second", Role: model.RoleTaskExecutor, Tier: model.TierLimitedProd, Permit: true}); err != nil {
		t.Fatalf("add second: %v", err)
	}
	d := e.Evaluate("agent-1", model.RoleTaskExecutor, model.TierLimitedProd, "")
	if d.Permitted {
		t.Fatal("second rule overrode the first match")
	}
	if !strings.Contains(d.Reason, "first") {
		t.Fatalf("decision should cite the matched rule: %q", d.Reason)
	}
}

func TestRuleDomainGlobs(t *testing.T) {
	cases := []struct {
		pattern string
		domain  string
		want    bool
	}{
		{"", "anything", true},
		{"*", "anything", true},
		{"billing", "billing", true},
		{"billing", "Billing", true},
		{"billing", "billing-eu", false},
		{"billing*", "billing-eu", true},
		{"*-eu", "billing-eu", true},
		{"*prod*", "billing-prod-eu", true},
		{"*prod*", "billing-eu", false},
	}
	for _, tc := range cases {
		if got := matchDomain(tc.pattern, tc.domain); got != tc.want {
			t.Errorf("matchDomain(%q, %q) = %v, want %v", tc.pattern, tc.domain, got, tc.want)
		}
	}
}

func TestVersionTracksMutations(t *testing.T) {
	e := NewEngine()
	if v := e.Version(); v != "1.0" {
		t.Fatalf("fresh version = %s", v)
	}
	id, err := e.AddRule(Rule{Role: model.RoleListener, Tier: model.TierSandbox, Permit: true})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if v := e.Version(); v != "1.1" {
		t.Fatalf("after add version = %s, want 1.1", v)
	}
	if !e.RemoveRule(id) {
		t.Fatal("rule not removed")
	}
	if v := e.Version(); v != "1.2" {
		t.Fatalf("after remove version = %s, want 1.2", v)
	}

	fresh := NewEngine()
	if _, err := fresh.AddRule(Rule{Role: model.RoleResponder, Tier: model.TierSandbox, Permit: false}); err != nil {
		t.Fatalf("add to fresh: %v", err)
	}
	e.Replace(fresh)
	if v := e.Version(); v != "2.0" {
		t.Fatalf("after replace version = %s, want 2.0", v)
	}
	if len(e.Rules()) != 1 {
		t.Fatalf("replace kept %d rules, want 1", len(e.Rules()))
	}
}

func TestEveryEvaluationLandsOnTrail(t *testing.T) {
	e := NewEngine()
	e.Evaluate("a", model.RoleListener, model.TierSandbox, "")
	e.Evaluate("b", model.RoleListener, model.TierCritical, "")
	e.Evaluate("c", model.RoleTrustGovernor, model.TierSovereign, "ops")

	trail := e.Trail()
	if len(trail) != 3 {
		t.Fatalf("trail has %d entries, want 3", len(trail))
	}
	if trail[0].AgentID != "a" || trail[2].AgentID != "c" {
		t.Fatal("trail out of order")
	}
	if trail[1].Decision.Source != model.SourceKernel {
		t.Fatalf("kernel denial not recorded: source = %s", trail[1].Decision.Source)
	}
}

func TestTrailWrapsAtCapacity(t *testing.T) {
	e := NewEngine()
	for i := 0; i < trailSize+10; i++ {
		e.Evaluate("agent", model.RoleListener, model.TierSandbox, "")
	}
	trail := e.Trail()
	if len(trail) != trailSize {
		t.Fatalf("trail grew past capacity: %d", len(trail))
	}
}

func TestPruneExpired(t *testing.T) {
	e := NewEngine()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	mustAdd := func(x Exception) {
		t.Helper()
		if _, err := e.AddException(x); err != nil {
			t.Fatalf("add exception: %v", err)
		}
	}
	mustAdd(Exception{AgentID: "a", Role: model.RoleListener, Tier: model.TierSandbox, Approver: "ops", ExpiresAt: clock.Add(time.Minute)})
	mustAdd(Exception{AgentID: "b", Role: model.RoleListener, Tier: model.TierSandbox, Approver: "ops"})

	clock = clock.Add(time.Hour)
	if n := e.PruneExpired(); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	left := e.Exceptions()
	if len(left) != 1 || left[0].AgentID != "b" {
		t.Fatalf("wrong exception survived: %+v", left)
	}
	if n := e.PruneExpired(); n != 0 {
		t.Fatalf("second prune removed %d", n)
	}
}

func TestNewEngineFromConfig(t *testing.T) {
	cfg := config.PolicyConfig{
		Rules: []config.RuleConfig{
			{Role: "TASK_EXECUTOR", Tier: "T2_LIMITED_PROD", Domain: "billing*", Decision: "deny", Reason: "billing freeze"},
		},
		Exceptions: []config.ExceptionConfig{
			{AgentID: "agent-x", Role: "TASK_EXECUTOR", Tier: "T2_LIMITED_PROD", Decision: "allow", Approver: "cto@local", ExpiresAt: "2030-01-01T00:00:00Z"},
		},
	}
	e, err := NewEngineFromConfig(cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v := e.Version(); v != "1.0" {
		t.Fatalf("config load should not count as a mutation: version %s", v)
	}

	d := e.Evaluate("agent-x", model.RoleTaskExecutor, model.TierLimitedProd, "billing-eu")
	if !d.Permitted || d.Source != model.SourceException {
		t.Fatalf("configured exception not honored: %v from %s", d.Permitted, d.Source)
	}
	d = e.Evaluate("agent-y", model.RoleTaskExecutor, model.TierLimitedProd, "billing-eu")
	if d.Permitted {
		t.Fatal("configured rule not honored")
	}
}

func TestConfigDecisionFailsClosed(t *testing.T) {
	e, err := NewEngineFromConfig(config.PolicyConfig{
		Rules: []config.RuleConfig{
			{Role: "LISTENER", Tier: "T0_SANDBOX", Decision: "ALOW"},
		},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := e.Evaluate("agent-1", model.RoleListener, model.TierSandbox, "")
	if d.Permitted {
		t.Fatal("misspelled decision must deny, not allow")
	}
}

func TestConfigRejectsBadEntries(t *testing.T) {
	if _, err := NewEngineFromConfig(config.PolicyConfig{
		Rules: []config.RuleConfig{{Role: "WIZARD", Tier: "T0_SANDBOX", Decision: "allow"}},
	}); err == nil {
		t.Fatal("unknown role accepted")
	}
	if _, err := NewEngineFromConfig(config.PolicyConfig{
		Exceptions: []config.ExceptionConfig{{AgentID: "a", Role: "LISTENER", Tier: "T0_SANDBOX", Decision: "allow", Approver: "ops", ExpiresAt: "tomorrow"}},
	}); err == nil {
		t.Fatal("unparseable expiry accepted")
	}
	if _, err := NewEngineFromConfig(config.PolicyConfig{
		Exceptions: []config.ExceptionConfig{{AgentID: "a", Role: "LISTENER", Tier: "T0_SANDBOX", Decision: "allow"}},
	}); err == nil {
		t.Fatal("exception without approver accepted")
	}
}

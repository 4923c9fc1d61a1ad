package trustplane

import (
	"context"
	"testing"
)

// Memory-only kernel so tests never touch the filesystem or network.
// One deny rule and one registered agent exercise the policy and
// registry paths.
const testConfigYAML = `
profiles:
  backend: memory
ledger:
  backend: memory
policy:
  rules:
    - role: TASK_EXECUTOR
      tier: T0_SANDBOX
      domain: restricted
      decision: deny
      reason: restricted domain is closed
agents:
  - agent_id: registered-agent
    role: TASK_EXECUTOR
    observation_tier: INSTRUMENTED
    creation_type: FRESH
`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(WithConfigYAML([]byte(testConfigYAML)))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func enrollAgent(t *testing.T, c *Client, agentID string) TrustSnapshot {
	t.Helper()
	snap, err := c.Enroll(context.Background(), agentID, EnrollParams{})
	if err != nil {
		t.Fatalf("failed to enroll %s: %v", agentID, err)
	}
	return snap
}

func requireDenied(t *testing.T, err error) *DeniedError {
	t.Helper()
	if err == nil {
		t.Fatal("expected the call to be denied, got nil error")
	}
	denied, ok := err.(*DeniedError)
	if !ok {
		t.Fatalf("expected *DeniedError, got %T: %v", err, err)
	}
	return denied
}

func TestNewWithConfigYAML(t *testing.T) {
	c := newTestClient(t)
	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.k.Proof == nil || c.k.Orch == nil {
		t.Fatal("expected a fully wired kernel")
	}
}

func TestNewBadConfig(t *testing.T) {
	_, err := New(WithConfigYAML([]byte("ledger:\n  backend: marble\n")))
	if err == nil {
		t.Fatal("expected error for unknown ledger backend")
	}
}

func TestEnrollDefaults(t *testing.T) {
	c := newTestClient(t)
	snap := enrollAgent(t, c, "agent-1")

	if snap.AgentID != "agent-1" {
		t.Errorf("expected agent-1, got %s", snap.AgentID)
	}
	if snap.Observation != "INSTRUMENTED" {
		t.Errorf("expected INSTRUMENTED default, got %s", snap.Observation)
	}
	if snap.Band != "T0_UNTRUSTED" {
		t.Errorf("expected fresh agent in T0_UNTRUSTED, got %s", snap.Band)
	}
	if snap.MaxTier != "T0_SANDBOX" {
		t.Errorf("expected max tier T0_SANDBOX, got %s", snap.MaxTier)
	}
	if snap.Score <= 0 {
		t.Errorf("expected positive seed score, got %d", snap.Score)
	}
	if snap.Version != 1 {
		t.Errorf("expected version 1, got %d", snap.Version)
	}
}

func TestEnrollDuplicate(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	_, err := c.Enroll(context.Background(), "agent-1", EnrollParams{})
	if err == nil {
		t.Fatal("expected error for duplicate enrollment")
	}
}

func TestTrustRoundTrip(t *testing.T) {
	c := newTestClient(t)
	enrolled := enrollAgent(t, c, "agent-1")

	snap, err := c.Trust(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("failed to read trust: %v", err)
	}
	if snap.Score != enrolled.Score {
		t.Errorf("expected score %d, got %d", enrolled.Score, snap.Score)
	}
	if snap.Band != enrolled.Band {
		t.Errorf("expected band %s, got %s", enrolled.Band, snap.Band)
	}
}

func TestTrustUnknownAgent(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Trust(context.Background(), "nobody")
	if err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestAuthorizePermitted(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	out, err := c.Authorize(context.Background(), "deploy", Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "general",
	})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if !out.Permitted {
		t.Fatalf("expected permit, got denial: %s", out.Reason)
	}
	if out.Source != "default" {
		t.Errorf("expected source default, got %s", out.Source)
	}
	if out.Tier != "T0_SANDBOX" {
		t.Errorf("expected band-capped tier T0_SANDBOX, got %s", out.Tier)
	}
	if out.Executed {
		t.Error("authorize must not execute anything")
	}
	if out.CorrelationID == "" {
		t.Error("expected a correlation id")
	}
	if out.PolicyVersion == "" {
		t.Error("expected a policy version")
	}
}

func TestAuthorizeDeniedByRule(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	out, err := c.Authorize(context.Background(), "deploy", Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "restricted",
	})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if out.Permitted {
		t.Fatal("expected the restricted domain rule to deny")
	}
	if out.Source != "rule" {
		t.Errorf("expected source rule, got %s", out.Source)
	}
}

func TestAuthorizeUsesRegistryRole(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "registered-agent")

	out, err := c.Authorize(context.Background(), "deploy", Request{
		AgentID: "registered-agent",
		Domain:  "general",
	})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if !out.Permitted {
		t.Fatalf("expected registry role to carry the intent, got denial: %s", out.Reason)
	}
	if out.Role != "TASK_EXECUTOR" {
		t.Errorf("expected registry role TASK_EXECUTOR, got %s", out.Role)
	}
}

func TestAuthorizeUnknownRole(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	_, err := c.Authorize(context.Background(), "deploy", Request{
		AgentID: "agent-1",
		Role:    "JANITOR",
	})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestVerifyProofAfterTraffic(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	_, err := c.Authorize(context.Background(), "deploy", Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "general",
	})
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	res, err := c.VerifyProof(context.Background())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid chain, broke at %d: %s", res.FirstBadPosition, res.Reason)
	}
	// Enrollment plus one authorize leaves at least profile_created,
	// intent_received and decision_made.
	if res.Checked < 3 {
		t.Errorf("expected at least 3 chained events, got %d", res.Checked)
	}

	pos, hash := c.ProofHead()
	if pos < 3 {
		t.Errorf("expected head position >= 3, got %d", pos)
	}
	if hash == "" {
		t.Error("expected a head hash")
	}
}

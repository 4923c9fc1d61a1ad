package trustplane

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestGuardExecutes(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	called := false
	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		called = true
		return "deployed " + req.AgentID, nil
	})
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	out, err := deploy(context.Background(), Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "general",
	})
	if err != nil {
		t.Fatalf("expected permit, got error: %v", err)
	}
	if !called {
		t.Error("expected the guarded function to run")
	}
	if out != "deployed agent-1" {
		t.Errorf("expected guarded output, got %v", out)
	}
}

func TestGuardDeniedByRuleSkipsFn(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	called := false
	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		called = true
		return nil, nil
	})
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	_, err = deploy(context.Background(), Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "restricted",
	})
	denied := requireDenied(t, err)
	if denied.Source != "rule" {
		t.Errorf("expected source rule, got %s", denied.Source)
	}
	if denied.ActionType != "deploy" {
		t.Errorf("expected action type deploy, got %s", denied.ActionType)
	}
	if denied.CorrelationID == "" {
		t.Error("expected a correlation id on the denial")
	}
	if called {
		t.Error("guarded function must not run on denial")
	}
}

func TestGuardDeniedByBreaker(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		t.Fatal("guarded function must not run while the breaker is open")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	c.k.Breaker.Trip("agent-1", "manual trip")

	_, err = deploy(context.Background(), Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "general",
	})
	denied := requireDenied(t, err)
	if denied.Source != "breaker" {
		t.Errorf("expected source breaker, got %s", denied.Source)
	}
}

func TestGuardExecutionFailureBurnsTrust(t *testing.T) {
	c := newTestClient(t)
	before := enrollAgent(t, c, "agent-1")

	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	_, err = deploy(context.Background(), Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "general",
	})
	if err == nil {
		t.Fatal("expected the execution error to surface")
	}
	if !strings.Contains(err.Error(), "execution failed") {
		t.Errorf("expected an execution failure, got: %v", err)
	}
	if _, ok := err.(*DeniedError); ok {
		t.Error("an execution failure is not a denial")
	}

	// Outcome evidence lands on a detached goroutine.
	c.k.Orch.Wait()
	after, err := c.Trust(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("failed to read trust: %v", err)
	}
	if after.Score >= before.Score {
		t.Errorf("expected failure to burn trust, score went %d -> %d", before.Score, after.Score)
	}
}

func TestGuardSuccessRaisesTrust(t *testing.T) {
	c := newTestClient(t)
	before := enrollAgent(t, c, "agent-1")

	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	if _, err := deploy(context.Background(), Request{
		AgentID: "agent-1",
		Role:    "TASK_EXECUTOR",
		Domain:  "general",
	}); err != nil {
		t.Fatalf("expected permit, got error: %v", err)
	}

	c.k.Orch.Wait()
	after, err := c.Trust(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("failed to read trust: %v", err)
	}
	if after.Score <= before.Score {
		t.Errorf("expected success to earn trust, score went %d -> %d", before.Score, after.Score)
	}
}

func TestGuardDuplicateActionType(t *testing.T) {
	c := newTestClient(t)
	fn := func(ctx context.Context, req Request) (any, error) { return nil, nil }

	if _, err := c.Guard("deploy", fn); err != nil {
		t.Fatalf("first guard failed: %v", err)
	}
	if _, err := c.Guard("deploy", fn); err == nil {
		t.Fatal("expected error for duplicate action type")
	}
}

func TestGuardNilFn(t *testing.T) {
	c := newTestClient(t)
	if _, err := c.Guard("deploy", nil); err == nil {
		t.Fatal("expected error for nil function")
	}
}

func TestGuardUnknownAgent(t *testing.T) {
	c := newTestClient(t)
	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	_, err = deploy(context.Background(), Request{
		AgentID: "nobody",
		Role:    "TASK_EXECUTOR",
	})
	if err == nil {
		t.Fatal("expected error for unknown agent")
	}
	if _, ok := err.(*DeniedError); ok {
		t.Error("a missing profile is an error, not a denial")
	}
}

func TestGuardRoleDefault(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		return "ok", nil
	}, GuardWithRole("TASK_EXECUTOR"), GuardWithDomain("general"))
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	out, err := deploy(context.Background(), Request{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("expected the guard defaults to carry the call: %v", err)
	}
	if out != "ok" {
		t.Errorf("expected ok, got %v", out)
	}
}

func TestGuardConcurrentSafe(t *testing.T) {
	c := newTestClient(t)
	enrollAgent(t, c, "agent-1")

	deploy, err := c.Guard("deploy", func(ctx context.Context, req Request) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("guard failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			deploy(context.Background(), Request{
				AgentID: "agent-1",
				Role:    "TASK_EXECUTOR",
				Domain:  "general",
				Params:  map[string]any{"run": fmt.Sprintf("run-%d", n)},
			})
		}(i)
	}
	wg.Wait()
	c.k.Orch.Wait()

	res, err := c.VerifyProof(context.Background())
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected the chain to survive concurrent traffic, broke at %d: %s",
			res.FirstBadPosition, res.Reason)
	}
}

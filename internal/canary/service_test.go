package canary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/notify"
)

func answer(text string) ResponseFn {
	return func(ctx context.Context, prompt string) (string, error) {
		return text, nil
	}
}

func newTestService(t *testing.T, cfg config.CanaryConfig) (*Service, *breaker.Breaker, *notify.Hub) {
	t.Helper()
	brk := breaker.New(config.BreakerConfig{CooldownSec: 300, HalfOpenTrials: 1})
	hub := notify.NewHub()
	svc := NewService(cfg, NewLibrary(), brk, hub, nil)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	return svc, brk, hub
}

func TestCriticalFailureTripsBreaker(t *testing.T) {
	svc, brk, hub := newTestService(t, config.CanaryConfig{})

	var failures []Result
	hub.Subscribe(notify.TopicCanaryFailure, "test", func(payload any) error {
		failures = append(failures, payload.(Result))
		return nil
	})

	probe, _ := svc.Library().Get("CANARY-FACT-0001")
	result, err := svc.ExecuteProbe(context.Background(), "agent-1", answer("42"), probe)
	if err != nil {
		t.Fatalf("ExecuteProbe: %v", err)
	}
	if result.Passed {
		t.Fatal("wrong answer marked passed")
	}
	if !result.TrippedBreaker {
		t.Fatal("critical failure did not set TrippedBreaker")
	}
	if brk.StateOf("agent-1") != breaker.StateOpen {
		t.Fatalf("breaker state %s, want open", brk.StateOf("agent-1"))
	}
	if len(failures) != 1 {
		t.Fatalf("failure listeners fired %d times, want exactly 1", len(failures))
	}
	if failures[0].ProbeID != "CANARY-FACT-0001" || !failures[0].TrippedBreaker {
		t.Fatalf("listener got %+v", failures[0])
	}
}

func TestNonCriticalFailureNeverTrips(t *testing.T) {
	svc, brk, hub := newTestService(t, config.CanaryConfig{})

	fired := 0
	hub.Subscribe(notify.TopicCanaryFailure, "test", func(payload any) error {
		fired++
		return nil
	})

	probe, _ := svc.Library().Get("CANARY-BEHAV-0001") // critical=false
	result, err := svc.ExecuteProbe(context.Background(), "agent-1", answer("standing by"), probe)
	if err != nil {
		t.Fatalf("ExecuteProbe: %v", err)
	}
	if result.Passed || result.TrippedBreaker {
		t.Fatalf("non-critical failure: %+v", result)
	}
	if brk.StateOf("agent-1") != breaker.StateClosed {
		t.Fatal("non-critical failure tripped the breaker")
	}
	if fired != 1 {
		t.Fatalf("failure listeners fired %d times, want 1", fired)
	}
}

func TestSuccessNeverNotifies(t *testing.T) {
	svc, brk, hub := newTestService(t, config.CanaryConfig{})

	fired := 0
	hub.Subscribe(notify.TopicCanaryFailure, "test", func(payload any) error {
		fired++
		return nil
	})

	probe, _ := svc.Library().Get("CANARY-FACT-0001")
	result, err := svc.ExecuteProbe(context.Background(), "agent-1", answer("85"), probe)
	if err != nil {
		t.Fatalf("ExecuteProbe: %v", err)
	}
	if !result.Passed || result.TrippedBreaker {
		t.Fatalf("correct answer: %+v", result)
	}
	if fired != 0 {
		t.Fatalf("listeners fired %d times on success", fired)
	}
	if brk.StateOf("agent-1") != breaker.StateClosed {
		t.Fatal("success touched the breaker")
	}
}

func TestResponseErrorRecordedNotReturned(t *testing.T) {
	svc, _, _ := newTestService(t, config.CanaryConfig{})

	boom := func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("connection refused")
	}
	probe, _ := svc.Library().Get("CANARY-FACT-0001")
	result, err := svc.ExecuteProbe(context.Background(), "agent-1", boom, probe)
	if err != nil {
		t.Fatalf("response error leaked to caller: %v", err)
	}
	if result.Passed {
		t.Fatal("errored call marked passed")
	}
	if !strings.HasPrefix(result.Response, "[ERROR]") {
		t.Fatalf("synthetic response missing: %q", result.Response)
	}
	if !result.TrippedBreaker {
		t.Fatal("critical probe error did not trip the breaker")
	}
}

func TestStatsAccumulateAndClear(t *testing.T) {
	svc, _, _ := newTestService(t, config.CanaryConfig{MaxConsecFails: 10})

	fact, _ := svc.Library().Get("CANARY-FACT-0001")
	behav, _ := svc.Library().Get("CANARY-BEHAV-0001")

	ctx := context.Background()
	if _, err := svc.ExecuteProbe(ctx, "agent-1", answer("85"), fact); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if _, err := svc.ExecuteProbe(ctx, "agent-1", answer("nope"), behav); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if _, err := svc.ExecuteProbe(ctx, "agent-1", answer("wrong"), fact); err != nil {
		t.Fatalf("probe 3: %v", err)
	}

	st, ok := svc.Stats("agent-1")
	if !ok {
		t.Fatal("no stats recorded")
	}
	if st.TotalProbes != 3 || st.ProbesPassed != 1 || st.ProbesFailed != 2 {
		t.Fatalf("totals: %+v", st)
	}
	if st.ConsecutiveFailures != 2 {
		t.Fatalf("consecutive failures %d, want 2", st.ConsecutiveFailures)
	}
	if st.PassRate < 0.333 || st.PassRate > 0.334 {
		t.Fatalf("pass rate %f", st.PassRate)
	}
	if st.ByCategory[CategoryFactual].Passed != 1 || st.ByCategory[CategoryFactual].Failed != 1 {
		t.Fatalf("factual breakdown: %+v", st.ByCategory[CategoryFactual])
	}
	if st.ByCategory[CategoryBehavioral].Failed != 1 {
		t.Fatalf("behavioral breakdown: %+v", st.ByCategory[CategoryBehavioral])
	}

	// A pass resets the consecutive counter.
	if _, err := svc.ExecuteProbe(ctx, "agent-1", answer("85"), fact); err != nil {
		t.Fatalf("probe 4: %v", err)
	}
	st, _ = svc.Stats("agent-1")
	if st.ConsecutiveFailures != 0 {
		t.Fatalf("pass did not reset consecutive failures: %d", st.ConsecutiveFailures)
	}

	svc.ClearStats("agent-1")
	if _, ok := svc.Stats("agent-1"); ok {
		t.Fatal("stats survived ClearStats")
	}
}

func TestConsecutiveFailureThreshold(t *testing.T) {
	svc, brk, _ := newTestService(t, config.CanaryConfig{MaxConsecFails: 2})

	probe, _ := svc.Library().Get("CANARY-FACT-0001")
	ctx := context.Background()

	result, err := svc.ExecuteProbe(ctx, "agent-1", answer("42"), probe)
	if err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if result.TrippedBreaker || brk.StateOf("agent-1") != breaker.StateClosed {
		t.Fatal("tripped below the consecutive threshold")
	}

	result, err = svc.ExecuteProbe(ctx, "agent-1", answer("42"), probe)
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if !result.TrippedBreaker || brk.StateOf("agent-1") != breaker.StateOpen {
		t.Fatal("second consecutive critical failure did not trip")
	}
}

func TestExecuteProbeValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t, config.CanaryConfig{})
	probe, _ := svc.Library().Get("CANARY-FACT-0001")

	if _, err := svc.ExecuteProbe(context.Background(), "", answer("85"), probe); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("empty agent: %v", err)
	}
	if _, err := svc.ExecuteProbe(context.Background(), "agent-1", nil, probe); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("nil responseFn: %v", err)
	}

	semantic := probe
	semantic.ProbeID = "SEM-1"
	semantic.ValidationMode = ValidateSemantic
	if _, err := svc.ExecuteProbe(context.Background(), "agent-1", answer("85"), semantic); fault.CodeOf(err) != fault.CodeValidation {
		t.Fatalf("semantic without judge: %v", err)
	}
}

func TestShouldInjectProbe(t *testing.T) {
	svc, _, _ := newTestService(t, config.CanaryConfig{LambdaPerHour: 0.2, MinIntervalSec: 60})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// No history forces a baseline probe.
	if !svc.ShouldInjectProbe("agent-1", base) {
		t.Fatal("agent with no history must be probed")
	}

	probe, _ := svc.Library().Get("CANARY-FACT-0001")
	if _, err := svc.ExecuteProbe(context.Background(), "agent-1", answer("85"), probe); err != nil {
		t.Fatalf("baseline probe: %v", err)
	}

	// Inside the minimum interval the gate is hard-closed.
	if svc.ShouldInjectProbe("agent-1", base.Add(30*time.Second)) {
		t.Fatal("injected inside the minimum interval")
	}

	// After long enough idle the Poisson probability reaches 1.
	if !svc.ShouldInjectProbe("agent-1", base.Add(300*time.Hour)) {
		t.Fatal("gate stayed closed after 300 idle hours")
	}

	// Clearing stats re-arms the baseline rule.
	svc.ClearStats("agent-1")
	if !svc.ShouldInjectProbe("agent-1", base.Add(time.Second)) {
		t.Fatal("cleared agent must be probed again")
	}
}

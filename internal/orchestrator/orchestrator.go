// Package orchestrator sequences one intent through profile resolution,
// breaker admission, authorization, execution and proof logging. A denial
// is a result, not an error; errors mean the pipeline itself could not
// run.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/ledger"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/profile"
	"github.com/ppiankov/trustplane/internal/registry"
	"github.com/ppiankov/trustplane/internal/rolegate"
	"github.com/ppiankov/trustplane/internal/telemetry"
	"github.com/ppiankov/trustplane/internal/tracer"
	"github.com/ppiankov/trustplane/internal/trust"
)

// Executor runs one action type at the execution boundary. The
// orchestrator treats it as opaque: it only measures duration and
// success or failure.
type Executor interface {
	Execute(ctx context.Context, intent model.Intent, decision model.Decision, p trust.Profile) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, intent model.Intent, decision model.Decision, p trust.Profile) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, intent model.Intent, decision model.Decision, p trust.Profile) (any, error) {
	return f(ctx, intent, decision, p)
}

// Options modifies one ProcessIntent call.
type Options struct {
	// AuthorizeOnly stops the pipeline after the decision is logged.
	AuthorizeOnly bool
}

// Timings is the per-phase duration breakdown of one intent.
type Timings struct {
	ProfileMS   int64 `json:"profileMs"`
	AuthorizeMS int64 `json:"authorizeMs"`
	ExecuteMS   int64 `json:"executeMs"`
	TotalMS     int64 `json:"totalMs"`
}

// Result is the unified outcome of one intent. Success means the intent
// was permitted and executed without error. On a pipeline error the
// result still carries every phase that completed.
type Result struct {
	IntentID      string         `json:"intentId"`
	CorrelationID string         `json:"correlationId"`
	Decision      model.Decision `json:"decision"`
	Profile       trust.Profile  `json:"profile"`
	Executed      bool           `json:"executed"`
	Output        any            `json:"output,omitempty"`
	ExecutionErr  string         `json:"executionError,omitempty"`
	Success       bool           `json:"success"`
	Timings       Timings        `json:"timings"`
}

// Outcome evidence magnitudes on the 0-100 dimension scale. Successful
// executions earn a small CT credit; failures burn BT faster, matching
// the asymmetry of the scoring model.
const (
	successEvidenceDelta = 2
	failureEvidenceDelta = 5
)

// Orchestrator owns the intent pipeline and the executor registry.
type Orchestrator struct {
	profiles *profile.Service
	agents   *registry.Registry
	engine   *rolegate.Engine
	brk      *breaker.Breaker
	proof    *ledger.Service
	tel      *telemetry.Telemetry

	mu        sync.RWMutex
	executors map[string]Executor

	outcomes sync.WaitGroup
	now      func() time.Time
}

// Deps carries the orchestrator's collaborators. Agents and Telemetry
// may be nil.
type Deps struct {
	Profiles  *profile.Service
	Agents    *registry.Registry
	Engine    *rolegate.Engine
	Breaker   *breaker.Breaker
	Ledger    *ledger.Service
	Telemetry *telemetry.Telemetry
}

// New wires the pipeline. Profiles, Engine, Breaker and Ledger are
// required.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Profiles == nil || deps.Engine == nil || deps.Breaker == nil || deps.Ledger == nil {
		return nil, fault.Validation("orchestrator requires profiles, engine, breaker and ledger")
	}
	return &Orchestrator{
		profiles:  deps.Profiles,
		agents:    deps.Agents,
		engine:    deps.Engine,
		brk:       deps.Breaker,
		proof:     deps.Ledger,
		tel:       deps.Telemetry,
		executors: make(map[string]Executor),
		now:       time.Now,
	}, nil
}

// RegisterExecutor binds an action type to its executor. Duplicate
// registration is a conflict.
func (o *Orchestrator) RegisterExecutor(actionType string, ex Executor) error {
	if actionType == "" {
		return fault.Validation("action type must not be empty")
	}
	if ex == nil {
		return fault.Validation("executor for %s must not be nil", actionType)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.executors[actionType]; dup {
		return fault.Conflict("executor for action type %s already registered", actionType)
	}
	o.executors[actionType] = ex
	return nil
}

// Executors lists registered action types in sorted order.
func (o *Orchestrator) Executors() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.executors))
	for name := range o.executors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) executor(actionType string) (Executor, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ex, ok := o.executors[actionType]
	return ex, ok
}

// ProcessIntent runs the full pipeline for one intent. Ledger writes are
// best-effort: a failed write is logged locally and never aborts the
// flow. Outcome evidence is appended asynchronously after execution.
func (o *Orchestrator) ProcessIntent(ctx context.Context, intent model.Intent, opts Options) (Result, error) {
	started := o.now()
	ctx, span := o.tel.Span(ctx, "process_intent")
	defer span.End()

	if intent.AgentID == "" {
		return Result{}, fault.Validation("intent carries no agent id")
	}
	if intent.ActionType == "" {
		return Result{}, fault.Validation("intent carries no action type")
	}
	if intent.Role != "" && !intent.Role.Valid() {
		return Result{}, fault.Validation("unknown role %q", intent.Role)
	}
	if intent.Tier != "" && !intent.Tier.Valid() {
		return Result{}, fault.Validation("unknown tier %q", intent.Tier)
	}
	if intent.IntentID == "" {
		intent.IntentID = tracer.NewIntentID()
	}
	if intent.ReceivedAt.IsZero() {
		intent.ReceivedAt = started.UTC()
	}

	correlationID := tracer.NewCorrelationID()
	res := Result{IntentID: intent.IntentID, CorrelationID: correlationID}

	_, err := o.proof.LogIntent(ctx, correlationID, intent)
	logWriteErr("intent_received", err)

	// Phase 1: resolve the agent's role and trust profile.
	profileStart := o.now()
	role := intent.Role
	if role == "" && o.agents != nil {
		if fallback, ok := o.agents.RoleFor(intent.AgentID); ok {
			role = fallback
		}
	}
	if role == "" {
		return res, fault.Validation("intent carries no role and agent %s is not registered", intent.AgentID)
	}
	prof, err := o.profiles.Get(ctx, intent.AgentID)
	if err != nil {
		return res, err
	}
	res.Profile = prof
	res.Timings.ProfileMS = o.now().Sub(profileStart).Milliseconds()

	// Phase 2: breaker admission, before any policy evaluation.
	allowed, state, reason := o.brk.Allow(intent.AgentID)
	if !allowed {
		res.Decision = model.Decision{
			Permitted:     false,
			Reason:        fmt.Sprintf("circuit breaker %s: %s", state, reason),
			Source:        model.SourceBreaker,
			Role:          role,
			Tier:          intent.Tier,
			Domain:        intent.Domain,
			PolicyVersion: o.engine.Version(),
			EvaluatedAt:   o.now().UTC(),
		}
		o.tel.MarkDecision(ctx, false, string(model.SourceBreaker))
		_, err = o.proof.LogDecision(ctx, correlationID, intent.AgentID, res.Decision)
		logWriteErr("decision_made", err)
		res.Timings.TotalMS = o.now().Sub(started).Milliseconds()
		o.tel.MarkIntent(ctx, "breaker_denied", res.Timings.TotalMS)
		return res, nil
	}
	trial := state == breaker.StateHalfOpen

	// Phase 3: authorization at the effective tier. The trust band caps
	// the requested tier; an intent with no tier runs at the band tier.
	authStart := o.now()
	effective := prof.Band.Tier()
	if intent.Tier != "" && model.TierRank[intent.Tier] < model.TierRank[effective] {
		effective = intent.Tier
	}
	authCtx, authSpan := o.tel.Span(ctx, "authorize")
	decision := o.engine.Evaluate(intent.AgentID, role, effective, intent.Domain)
	authSpan.End()
	res.Decision = decision
	res.Timings.AuthorizeMS = o.now().Sub(authStart).Milliseconds()
	o.tel.MarkDecision(authCtx, decision.Permitted, string(decision.Source))

	_, err = o.proof.LogDecision(ctx, correlationID, intent.AgentID, decision)
	logWriteErr("decision_made", err)

	if !decision.Permitted || opts.AuthorizeOnly {
		res.Timings.TotalMS = o.now().Sub(started).Milliseconds()
		outcome := "denied"
		if decision.Permitted {
			outcome = "authorize_only"
		}
		o.tel.MarkIntent(ctx, outcome, res.Timings.TotalMS)
		return res, nil
	}

	// Phase 4: hand off to the execution boundary.
	ex, ok := o.executor(intent.ActionType)
	if !ok {
		res.Timings.TotalMS = o.now().Sub(started).Milliseconds()
		return res, fault.NotFound("no executor registered for action type %s", intent.ActionType)
	}

	_, err = o.proof.LogExecutionStart(ctx, correlationID, intent.AgentID, intent.ActionType)
	logWriteErr("execution_started", err)

	execStart := o.now()
	execCtx, execSpan := o.tel.Span(ctx, "execute")
	output, execErr := ex.Execute(execCtx, intent, decision, prof)
	execSpan.End()
	res.Timings.ExecuteMS = o.now().Sub(execStart).Milliseconds()
	res.Executed = true
	res.Output = output

	if execErr != nil {
		res.ExecutionErr = execErr.Error()
		o.brk.RecordFailure(intent.AgentID, "execution failed: "+execErr.Error())
		_, err = o.proof.LogExecutionFail(ctx, correlationID, intent.AgentID, intent.ActionType, execErr.Error(), res.Timings.ExecuteMS)
		logWriteErr("execution_failed", err)
	} else {
		res.Success = true
		if trial {
			o.brk.RecordSuccess(intent.AgentID)
		}
		_, err = o.proof.LogExecutionComplete(ctx, correlationID, intent.AgentID, intent.ActionType, res.Timings.ExecuteMS)
		logWriteErr("execution_completed", err)
	}

	o.outcomes.Add(1)
	go o.recordOutcome(correlationID, intent.AgentID, prof, execErr == nil)

	res.Timings.TotalMS = o.now().Sub(started).Milliseconds()
	outcome := "executed"
	if execErr != nil {
		outcome = "execution_failed"
	}
	o.tel.MarkIntent(ctx, outcome, res.Timings.TotalMS)
	return res, nil
}

// recordOutcome folds the execution outcome into the agent's trust
// profile and logs the delta. Detached from the caller's context so an
// abandoned request cannot drop the evidence.
func (o *Orchestrator) recordOutcome(correlationID, agentID string, prev trust.Profile, success bool) {
	defer o.outcomes.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev := trust.Evidence{
		AgentID:   agentID,
		Dimension: model.DimCumulative,
		Delta:     successEvidenceDelta,
		Reason:    "execution completed",
		Source:    "orchestrator",
	}
	cause := "task_success"
	if !success {
		ev.Dimension = model.DimBurned
		ev.Delta = failureEvidenceDelta
		ev.Reason = "execution failed"
		cause = "task_failure"
	}

	next, err := o.profiles.Update(ctx, agentID, []trust.Evidence{ev})
	if err != nil {
		slog.Warn("outcome evidence dropped", "agent", agentID, "error", err)
		return
	}
	_, err = o.proof.LogTrustDelta(ctx, correlationID, agentID, cause,
		prev.AdjustedScore, next.AdjustedScore, prev.Band, next.Band)
	logWriteErr("trust_delta", err)
}

// Wait blocks until all in-flight outcome writes finish. Shutdown hook.
func (o *Orchestrator) Wait() {
	o.outcomes.Wait()
}

func logWriteErr(op string, err error) {
	if err != nil {
		slog.Warn("proof plane write failed", "op", op, "error", err)
	}
}

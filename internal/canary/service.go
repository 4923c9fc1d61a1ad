package canary

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/notify"
	"github.com/ppiankov/trustplane/internal/tracer"
)

// ResponseFn is the agent under test: it receives the probe prompt and
// returns the agent's answer. An error from it is recorded as a failed
// probe, never surfaced to the caller of ExecuteProbe.
type ResponseFn func(ctx context.Context, prompt string) (string, error)

// Service schedules and executes canary probes, keeps per-agent stats,
// and trips the circuit breaker on critical failures.
type Service struct {
	mu      sync.Mutex
	library *Library
	breaker *breaker.Breaker
	hub     *notify.Hub
	judge   Judge
	stats   map[string]*AgentStats
	rng     *rand.Rand

	lambda         float64
	minInterval    time.Duration
	maxConsecFails int
	timeout        time.Duration

	now func() time.Time
}

// NewService wires the probe service. judge may be nil when no SEMANTIC
// probes are in use.
func NewService(cfg config.CanaryConfig, lib *Library, brk *breaker.Breaker, hub *notify.Hub, judge Judge) *Service {
	lambda := cfg.LambdaPerHour
	if lambda <= 0 {
		lambda = 0.2
	}
	minInterval := time.Duration(cfg.MinIntervalSec) * time.Second
	if minInterval <= 0 {
		minInterval = 60 * time.Second
	}
	maxConsecFails := cfg.MaxConsecFails
	if maxConsecFails <= 0 {
		maxConsecFails = 1
	}
	timeout := time.Duration(cfg.ResponseTimeout) * time.Second

	return &Service{
		library:        lib,
		breaker:        brk,
		hub:            hub,
		judge:          judge,
		stats:          make(map[string]*AgentStats),
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		lambda:         lambda,
		minInterval:    minInterval,
		maxConsecFails: maxConsecFails,
		timeout:        timeout,
		now:            time.Now,
	}
}

// Library exposes the probe collection for listing and manual runs.
func (s *Service) Library() *Library {
	return s.library
}

// ShouldInjectProbe decides whether to test the agent now. An agent with
// no probe history is always probed (baseline). Otherwise injection is a
// Poisson gate on the time since the last probe, with a hard minimum
// interval so bursts of traffic cannot trigger probe storms.
func (s *Service) ShouldInjectProbe(agentID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[agentID]
	if !ok || st.TotalProbes == 0 {
		return true
	}
	elapsed := now.Sub(st.LastProbeAt)
	if elapsed < s.minInterval {
		return false
	}
	p := 1 - math.Exp(-s.lambda*elapsed.Hours())
	return s.rng.Float64() < p
}

// RandomProbe draws a probe from the library, optionally by category.
func (s *Service) RandomProbe(category Category) (Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.library.Random(s.rng, category)
}

// ExecuteProbe sends the probe prompt through responseFn, times the
// call, validates the answer, and updates stats. A responseFn error is
// recorded as a failed probe with a synthetic response. A failed
// critical probe trips the agent's breaker before failure listeners are
// notified; listeners fire exactly once per failing probe and never on
// success. A judge outage on a SEMANTIC probe is returned as an error
// and counts as neither pass nor fail.
func (s *Service) ExecuteProbe(ctx context.Context, agentID string, responseFn ResponseFn, probe Probe) (Result, error) {
	if strings.TrimSpace(agentID) == "" {
		return Result{}, fault.Validation("agent id is required")
	}
	if responseFn == nil {
		return Result{}, fault.Validation("response function is required")
	}
	if err := probe.Validate(); err != nil {
		return Result{}, err
	}
	if probe.ValidationMode == ValidateSemantic && s.judge == nil {
		return Result{}, fault.Validation("probe %s needs a semantic judge, none configured", probe.ProbeID)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := s.now()
	response, err := responseFn(callCtx, probe.Prompt)
	latency := s.now().Sub(start)

	passed := false
	if err != nil {
		response = "[ERROR] " + err.Error()
	} else if probe.ValidationMode == ValidateSemantic {
		passed, err = s.judge.Equivalent(callCtx, probe.Prompt, probe.ExpectedAnswers[0], response)
		if err != nil {
			return Result{}, err
		}
	} else {
		passed, err = probe.Matches(response)
		if err != nil {
			return Result{}, err
		}
	}

	executedAt := s.now().UTC()
	result := Result{
		ResultID:   tracer.NewProbeResultID(),
		ProbeID:    probe.ProbeID,
		AgentID:    agentID,
		Category:   probe.Category,
		Passed:     passed,
		Response:   response,
		Expected:   append([]string(nil), probe.ExpectedAnswers...),
		LatencyMS:  latency.Milliseconds(),
		ExecutedAt: executedAt,
	}

	s.mu.Lock()
	st := s.statsLocked(agentID)
	st.TotalProbes++
	cat := st.ByCategory[probe.Category]
	if passed {
		st.ProbesPassed++
		st.ConsecutiveFailures = 0
		cat.Passed++
	} else {
		st.ProbesFailed++
		st.ConsecutiveFailures++
		cat.Failed++
	}
	st.ByCategory[probe.Category] = cat
	st.PassRate = float64(st.ProbesPassed) / float64(st.TotalProbes)
	st.LastProbeAt = executedAt
	if !passed && probe.Critical && st.ConsecutiveFailures >= s.maxConsecFails {
		s.breaker.Trip(agentID, fmt.Sprintf("critical probe %s failed", probe.ProbeID))
		result.TrippedBreaker = true
	}
	s.mu.Unlock()

	if !passed {
		slog.Warn("canary probe failed",
			"agent", agentID, "probe", probe.ProbeID, "critical", probe.Critical,
			"tripped", result.TrippedBreaker)
		s.hub.Publish(notify.TopicCanaryFailure, result)
	}
	return result, nil
}

// Stats returns a copy of the agent's probe stats.
func (s *Service) Stats(agentID string) (AgentStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[agentID]
	if !ok {
		return AgentStats{}, false
	}
	return copyStats(st), true
}

// AllStats returns stats for every probed agent, sorted by agent ID.
func (s *Service) AllStats() []AgentStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, copyStats(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ClearStats resets an agent's probe history. The next injection check
// forces a baseline probe again.
func (s *Service) ClearStats(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stats, agentID)
}

func (s *Service) statsLocked(agentID string) *AgentStats {
	st, ok := s.stats[agentID]
	if !ok {
		st = &AgentStats{AgentID: agentID, ByCategory: make(map[Category]CategoryStats)}
		s.stats[agentID] = st
	}
	return st
}

func copyStats(st *AgentStats) AgentStats {
	out := *st
	out.ByCategory = make(map[Category]CategoryStats, len(st.ByCategory))
	for k, v := range st.ByCategory {
		out.ByCategory[k] = v
	}
	return out
}

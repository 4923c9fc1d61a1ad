// Package daemon runs the kernel's background loops: the stale-profile
// refresh sweep and stochastic canary injection over registered agents.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/canary"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/ledger"
	"github.com/ppiankov/trustplane/internal/profile"
	"github.com/ppiankov/trustplane/internal/registry"
	"github.com/ppiankov/trustplane/internal/telemetry"
)

// RespondFunc obtains an agent's answer to a probe prompt. The daemon
// has no transport of its own; the embedding process supplies one.
type RespondFunc func(ctx context.Context, agentID, prompt string) (string, error)

const (
	refreshDefault = time.Hour
	probeDefault   = time.Minute
)

// Config holds full daemon configuration. Proof and Telemetry may be
// nil; Canary may be nil to run the refresh sweep alone.
type Config struct {
	Profiles *profile.Service
	Agents   *registry.Registry
	Canary   *canary.Service
	Proof    *ledger.Service
	Tel      *telemetry.Telemetry

	Respond RespondFunc // required when Canary is set

	RefreshInterval time.Duration
	ProbeInterval   time.Duration
	ProbeCategory   canary.Category // empty draws from the whole library
	PIDPath         string          // optional single-instance lock
}

// Daemon owns the background sweeps.
type Daemon struct {
	cfg Config
	now func() time.Time
}

// New creates a daemon with validated configuration.
func New(cfg Config) (*Daemon, error) {
	if cfg.Profiles == nil || cfg.Agents == nil {
		return nil, fault.Validation("daemon requires a profile service and a registry")
	}
	if cfg.Canary != nil && cfg.Respond == nil {
		return nil, fault.Validation("canary sweeps need a respond function")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = refreshDefault
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = probeDefault
	}
	return &Daemon{cfg: cfg, now: time.Now}, nil
}

// Run starts the sweeps and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.PIDPath != "" {
		if err := acquirePIDLock(d.cfg.PIDPath); err != nil {
			return err
		}
		defer func() { _ = os.Remove(d.cfg.PIDPath) }()
	}

	slog.Info("daemon started",
		"refresh_interval", d.cfg.RefreshInterval,
		"probe_interval", d.cfg.ProbeInterval,
		"canary", d.cfg.Canary != nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runRefreshSweeper(ctx)
	}()
	if d.cfg.Canary != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runCanarySweeper(ctx)
		}()
	}
	wg.Wait()
	return nil
}

// runRefreshSweeper periodically re-derives profiles whose scores have
// gone stale, applying decay.
func (d *Daemon) runRefreshSweeper(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshOnce(ctx)
		}
	}
}

func (d *Daemon) refreshOnce(ctx context.Context) {
	n, err := d.cfg.Profiles.RefreshStale(ctx)
	if err != nil {
		slog.Warn("stale profile sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("stale profiles refreshed", "count", n)
	}
}

// runCanarySweeper periodically walks the registry and injects probes
// where the Poisson gate opens.
func (d *Daemon) runCanarySweeper(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

func (d *Daemon) sweepOnce(ctx context.Context) {
	for _, agent := range d.cfg.Agents.Agents() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !d.cfg.Canary.ShouldInjectProbe(agent.AgentID, d.now().UTC()) {
			continue
		}
		probe, err := d.cfg.Canary.RandomProbe(d.cfg.ProbeCategory)
		if err != nil {
			slog.Warn("no canary probe available", "category", d.cfg.ProbeCategory, "error", err)
			return
		}
		d.probeAgent(ctx, agent.AgentID, probe)
	}
}

// probeAgent runs one probe against one agent and records the outcome.
func (d *Daemon) probeAgent(ctx context.Context, agentID string, probe canary.Probe) {
	respond := func(ctx context.Context, prompt string) (string, error) {
		return d.cfg.Respond(ctx, agentID, prompt)
	}
	result, err := d.cfg.Canary.ExecuteProbe(ctx, agentID, respond, probe)
	if err != nil {
		slog.Warn("canary probe aborted",
			"agent", agentID, "probe", probe.ProbeID, "error", err)
		return
	}

	d.cfg.Tel.MarkProbe(ctx, string(result.Category), result.Passed)
	if result.TrippedBreaker {
		d.cfg.Tel.MarkBreakerTrip(ctx, "critical probe "+result.ProbeID+" failed")
	}

	if d.cfg.Proof == nil {
		return
	}
	_, err = d.cfg.Proof.LogProbe(ctx, "", agentID, ledger.ProbePayload{
		ProbeID:        result.ProbeID,
		Category:       string(result.Category),
		Passed:         result.Passed,
		LatencyMS:      result.LatencyMS,
		TrippedBreaker: result.TrippedBreaker,
	})
	if err != nil {
		slog.Warn("proof plane write failed", "op", "probe_executed", "error", err)
	}
	if result.TrippedBreaker {
		_, err = d.cfg.Proof.LogBreaker(ctx, "", agentID, true,
			string(breaker.StateOpen), fmt.Sprintf("critical probe %s failed", probe.ProbeID))
		if err != nil {
			slog.Warn("proof plane write failed", "op", "breaker_tripped", "error", err)
		}
	}
}

// acquirePIDLock writes the current PID to the file and checks for
// stale locks left by a crashed instance.
func acquirePIDLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(string(data))
		if err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fault.Conflict("another daemon is running (PID %d)", pid)
				}
			}
		}
		// Stale PID file.
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

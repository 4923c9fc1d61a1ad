// Package kernel assembles the trust plane from configuration: profile
// store and service, agent registry, role-gate engine, breaker, canary
// service, proof ledger, telemetry, and the intent orchestrator, with
// the notification bridges between them. The CLI and the embedding SDK
// both build on it.
package kernel

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppiankov/trustplane/internal/breaker"
	"github.com/ppiankov/trustplane/internal/canary"
	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/ledger"
	"github.com/ppiankov/trustplane/internal/notify"
	"github.com/ppiankov/trustplane/internal/orchestrator"
	"github.com/ppiankov/trustplane/internal/profile"
	"github.com/ppiankov/trustplane/internal/registry"
	"github.com/ppiankov/trustplane/internal/rolegate"
	"github.com/ppiankov/trustplane/internal/telemetry"
)

// Kernel is one fully wired trust plane instance.
type Kernel struct {
	Cfg     *config.Config
	CfgHash string

	Hub      *notify.Hub
	Tel      *telemetry.Telemetry
	Profiles *profile.Service
	Agents   *registry.Registry
	Engine   *rolegate.Engine
	Breaker  *breaker.Breaker
	Probes   *canary.Service
	Proof    *ledger.Service
	Orch     *orchestrator.Orchestrator

	closeOnce sync.Once
	closers   []func()
}

// Build loads the config file (empty path means the default location,
// a missing file means built-in defaults) and wires every subsystem.
// The caller owns Close.
func Build(ctx context.Context, cfgPath string) (*Kernel, error) {
	cfg, hash, err := config.LoadConfigWithHash(cfgPath)
	if err != nil {
		return nil, err
	}
	return BuildFromConfig(ctx, cfg, hash)
}

// BuildFromConfig wires every subsystem from an already loaded config.
func BuildFromConfig(ctx context.Context, cfg *config.Config, hash string) (*Kernel, error) {
	k := &Kernel{Cfg: cfg, CfgHash: hash, Hub: notify.NewHub()}

	var err error
	k.Tel, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	if k.Tel != nil {
		k.closers = append(k.closers, func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = k.Tel.Shutdown(shCtx)
		})
	}

	profStore, err := k.openProfileStore(ctx, cfg.Profiles)
	if err != nil {
		k.Close()
		return nil, err
	}
	k.Profiles, err = profile.NewService(profStore, k.Hub, cfg.Trust)
	if err != nil {
		k.Close()
		return nil, err
	}

	k.Agents, err = registry.FromConfig(cfg.Agents)
	if err != nil {
		k.Close()
		return nil, err
	}

	k.Engine, err = rolegate.NewEngineFromConfig(cfg.Policy)
	if err != nil {
		k.Close()
		return nil, err
	}

	k.Breaker = breaker.New(cfg.Breaker)

	lib := canary.NewLibrary()
	if cfg.Canary.LibraryPath != "" {
		n, err := lib.LoadFile(cfg.Canary.LibraryPath)
		if err != nil {
			k.Close()
			return nil, err
		}
		slog.Debug("probe library loaded", "path", cfg.Canary.LibraryPath, "added", n)
	}
	var judge canary.Judge
	if cfg.Canary.Judge.APIURL != "" {
		j, err := canary.NewHTTPJudge(cfg.Canary.Judge)
		if err != nil {
			k.Close()
			return nil, err
		}
		judge = j
	}
	k.Probes = canary.NewService(cfg.Canary, lib, k.Breaker, k.Hub, judge)

	ledStore, err := ledger.OpenStore(cfg.Ledger)
	if err != nil {
		k.Close()
		return nil, err
	}
	k.closers = append(k.closers, func() { _ = ledStore.Close() })
	k.Proof, err = ledger.NewService(ledStore, k.Hub, cfg.Ledger)
	if err != nil {
		k.Close()
		return nil, err
	}

	k.Orch, err = orchestrator.New(orchestrator.Deps{
		Profiles:  k.Profiles,
		Agents:    k.Agents,
		Engine:    k.Engine,
		Breaker:   k.Breaker,
		Ledger:    k.Proof,
		Telemetry: k.Tel,
	})
	if err != nil {
		k.Close()
		return nil, err
	}
	k.closers = append(k.closers, k.Orch.Wait)

	k.bridge(ctx)
	return k, nil
}

func (k *Kernel) openProfileStore(ctx context.Context, cfg config.ProfilesConfig) (profile.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return profile.NewMemoryStore(cfg.SnapshotPath)
	case "postgres":
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fault.Validation("profiles backend postgres needs postgres_dsn")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fault.Internal(err, "connect postgres")
		}
		store := profile.NewPgStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		k.closers = append(k.closers, pool.Close)
		return store, nil
	default:
		return nil, fault.Validation("unknown profiles backend %q", cfg.Backend)
	}
}

// bridge fans hub notifications into the proof plane and telemetry.
// Profile transitions become ledger events here so every score movement
// is provable, not only the ones the orchestrator caused.
func (k *Kernel) bridge(ctx context.Context) {
	k.Hub.Subscribe(notify.TopicTrustChange, "proof-plane", func(payload any) error {
		c, ok := payload.(profile.Change)
		if !ok {
			return nil
		}
		eventType := ledger.EventProfileUpdated
		if c.Cause == "create" {
			eventType = ledger.EventProfileCreated
		}
		_, err := k.Proof.LogEvent(ctx, eventType, "", c, c.AgentID)
		return err
	})
	k.Hub.Subscribe(notify.TopicTrustViolation, "telemetry", func(payload any) error {
		v, ok := payload.(profile.Violation)
		if !ok {
			return nil
		}
		k.Tel.MarkViolation(ctx, v.Severity.String())
		return nil
	})
}

// Close releases kernel resources in reverse construction order. Safe to
// call more than once.
func (k *Kernel) Close() {
	k.closeOnce.Do(func() {
		for i := len(k.closers) - 1; i >= 0; i-- {
			k.closers[i]()
		}
	})
}

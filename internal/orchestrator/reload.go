package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/ledger"
	"github.com/ppiankov/trustplane/internal/policydiff"
	"github.com/ppiankov/trustplane/internal/rolegate"
)

// Reloader watches the kernel config file and hot-swaps the policy
// engine on change. A file that fails to load keeps the previous config
// active.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	engine  *rolegate.Engine
	proof   *ledger.Service

	mu  sync.RWMutex
	cfg *config.Config
}

// NewReloader builds a watcher over the config path. The proof service
// may be nil; successful reloads are then only logged locally.
func NewReloader(path string, current *config.Config, engine *rolegate.Engine, proof *ledger.Service) (*Reloader, error) {
	if path == "" {
		return nil, fault.Validation("config path must not be empty")
	}
	if engine == nil {
		return nil, fault.Validation("reloader requires a policy engine")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fault.Internal(err, "create file watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fault.Internal(err, "watch %s", path)
	}
	return &Reloader{
		watcher: watcher,
		path:    path,
		engine:  engine,
		proof:   proof,
		cfg:     current,
	}, nil
}

// Current returns the active config.
func (r *Reloader) Current() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Run watches for file changes and reloads. Blocks until ctx is
// cancelled. Edits are debounced so editors that write in bursts
// trigger one reload.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "path", r.path, "error", err)
		}
	}
}

// reload loads the file, swaps the policy engine and records the change.
func (r *Reloader) reload() {
	cfg, hash, err := config.LoadConfigWithHash(r.path)
	if err != nil {
		slog.Warn("config reload failed; previous config stays active",
			"path", r.path, "error", err)
		return
	}
	loaded, err := rolegate.NewEngineFromConfig(cfg.Policy)
	if err != nil {
		slog.Warn("policy reload failed; previous policy stays active",
			"path", r.path, "error", err)
		return
	}
	r.engine.Replace(loaded)

	r.mu.Lock()
	diff := policydiff.Diff(r.cfg, cfg)
	r.cfg = cfg
	r.mu.Unlock()

	version := r.engine.Version()
	slog.Info("config reloaded", "path", r.path, "policy_version", version,
		"config_hash", hash, "diff", diff.Summary())

	if r.proof != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := r.proof.LogEvent(ctx, ledger.EventPolicyChanged, "", ledger.PolicyChangePayload{
			Version:    version,
			ConfigHash: hash,
			Detail:     "config file reloaded: " + diff.Summary(),
		}, "")
		logWriteErr("policy_changed", err)
	}
}

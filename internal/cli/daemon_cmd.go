package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/canary"
	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/daemon"
	"github.com/ppiankov/trustplane/internal/orchestrator"
)

var (
	daemonRefreshInterval time.Duration
	daemonProbeInterval   time.Duration
	daemonPIDFile         string
	daemonCategory        string
	daemonRespondExec     string
)

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().DurationVar(&daemonRefreshInterval, "refresh-interval", time.Hour, "How often to decay stale trust profiles")
	daemonCmd.Flags().DurationVar(&daemonProbeInterval, "probe-interval", time.Minute, "How often to consider agents for canary probes")
	daemonCmd.Flags().StringVar(&daemonPIDFile, "pid-file", "", "PID lock file (no lock when empty)")
	daemonCmd.Flags().StringVar(&daemonCategory, "category", "", "Restrict scheduled probes to one category")
	daemonCmd.Flags().StringVar(&daemonRespondExec, "respond-exec", "", "Command invoked per probe: agent ID as argv[1], prompt on stdin, answer on stdout")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the kernel's background loops",
	Long: "Runs stale-profile refresh and, when --respond-exec is set, the canary\n" +
		"probe scheduler. Policy hot-reload watches the config file when one\n" +
		"exists. Stops cleanly on SIGINT or SIGTERM.",
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	cfg := daemon.Config{
		Profiles:        k.Profiles,
		Agents:          k.Agents,
		Proof:           k.Proof,
		Tel:             k.Tel,
		RefreshInterval: daemonRefreshInterval,
		ProbeInterval:   daemonProbeInterval,
		ProbeCategory:   canary.Category(daemonCategory),
		PIDPath:         daemonPIDFile,
	}
	if daemonRespondExec != "" {
		cfg.Canary = k.Probes
		cfg.Respond = execResponder(daemonRespondExec)
	} else {
		slog.Info("no --respond-exec given, canary probes disabled")
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	watchPath := cfgPath
	if watchPath == "" {
		watchPath = config.DefaultPath()
	}
	reloader, err := orchestrator.NewReloader(watchPath, k.Cfg, k.Engine, k.Proof)
	if err != nil {
		slog.Warn("hot-reload disabled", "path", watchPath, "error", err)
	} else {
		go func() {
			if err := reloader.Run(ctx); err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	return d.Run(ctx)
}

// execResponder adapts a subprocess into the probe transport. The agent
// ID rides as argv[1] so one script can front a fleet.
func execResponder(command string) daemon.RespondFunc {
	return func(ctx context.Context, agentID, prompt string) (string, error) {
		c := exec.CommandContext(ctx, command, agentID)
		c.Stdin = strings.NewReader(prompt)
		out, err := c.Output()
		if err != nil {
			return "", fmt.Errorf("responder %s: %w", command, err)
		}
		return strings.TrimSpace(string(out)), nil
	}
}

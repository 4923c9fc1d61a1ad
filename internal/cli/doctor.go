package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/canary"
	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/rolegate"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check kernel readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{
			label:  "trustplane binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "trustplane binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. Config file.
	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		checks = append(checks, checkResult{
			label:  "config file",
			ok:     true,
			detail: path,
		})
	} else {
		checks = append(checks, checkResult{
			label:  "config file",
			ok:     false,
			detail: "missing (built-in defaults apply)",
			fix:    "trustplane init",
		})
	}

	// 3. Config parse and validation.
	cfg, hash, cfgErr := config.LoadConfigWithHash(cfgPath)
	if cfgErr != nil {
		checks = append(checks, checkResult{
			label:  "config parse",
			ok:     false,
			detail: cfgErr.Error(),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "config parse",
			ok:     true,
			detail: hash[:19] + "...",
		})
	}

	if cfgErr == nil {
		// 4. Policy compiles against the kernel matrix.
		if engine, err := rolegate.NewEngineFromConfig(cfg.Policy); err != nil {
			checks = append(checks, checkResult{
				label:  "policy",
				ok:     false,
				detail: err.Error(),
			})
		} else {
			checks = append(checks, checkResult{
				label: "policy",
				ok:    true,
				detail: fmt.Sprintf("%d rules, %d exceptions (version %s)",
					len(engine.Rules()), len(engine.Exceptions()), engine.Version()),
			})
		}

		// 5. Probe library, builtins plus any configured file.
		lib := canary.NewLibrary()
		libDetail := fmt.Sprintf("%d builtin probes", lib.Count())
		libOK := true
		if cfg.Canary.LibraryPath != "" {
			if _, err := lib.LoadFile(cfg.Canary.LibraryPath); err != nil {
				libOK = false
				libDetail = fmt.Sprintf("cannot load %s: %v", cfg.Canary.LibraryPath, err)
			} else {
				libDetail = fmt.Sprintf("%d probes (builtins + %s)", lib.Count(), cfg.Canary.LibraryPath)
			}
		}
		checks = append(checks, checkResult{label: "probe library", ok: libOK, detail: libDetail})

		// 6. Profile backend.
		switch cfg.Profiles.Backend {
		case "", "memory":
			detail := "memory"
			if cfg.Profiles.SnapshotPath != "" {
				detail = "memory with snapshot " + cfg.Profiles.SnapshotPath
			}
			checks = append(checks, checkResult{label: "profile store", ok: true, detail: detail})
		case "postgres":
			if cfg.Profiles.PostgresDSN == "" {
				checks = append(checks, checkResult{
					label:  "profile store",
					ok:     false,
					detail: "postgres backend without a DSN",
					fix:    "set profiles.postgres_dsn",
				})
			} else {
				checks = append(checks, checkResult{label: "profile store", ok: true, detail: "postgres"})
			}
		default:
			checks = append(checks, checkResult{
				label:  "profile store",
				ok:     false,
				detail: fmt.Sprintf("unknown backend %q", cfg.Profiles.Backend),
			})
		}

		// 7. Ledger backend and checkpoint signing.
		switch cfg.Ledger.Backend {
		case "", "memory":
			checks = append(checks, checkResult{label: "proof plane", ok: true, detail: "memory (non-durable)"})
		case "file":
			if cfg.Ledger.Path == "" {
				checks = append(checks, checkResult{
					label:  "proof plane",
					ok:     false,
					detail: "file backend without a path",
					fix:    "set ledger.path",
				})
			} else {
				checks = append(checks, checkResult{label: "proof plane", ok: true, detail: "file " + cfg.Ledger.Path})
			}
		case "sqlite":
			if cfg.Ledger.SQLitePath == "" {
				checks = append(checks, checkResult{
					label:  "proof plane",
					ok:     false,
					detail: "sqlite backend without a path",
					fix:    "set ledger.sqlite_path",
				})
			} else {
				checks = append(checks, checkResult{label: "proof plane", ok: true, detail: "sqlite " + cfg.Ledger.SQLitePath})
			}
		default:
			checks = append(checks, checkResult{
				label:  "proof plane",
				ok:     false,
				detail: fmt.Sprintf("unknown backend %q", cfg.Ledger.Backend),
			})
		}
		if cfg.Ledger.SigningKeyHex == "" {
			checks = append(checks, checkResult{
				label:  "checkpoint signing",
				ok:     false,
				detail: "no signing key, checkpoints disabled",
				fix:    "set ledger.signing_key_hex",
			})
		} else {
			checks = append(checks, checkResult{label: "checkpoint signing", ok: true, detail: "ed25519 key configured"})
		}

		// 8. Agent registry.
		checks = append(checks, checkResult{
			label:  "agent registry",
			ok:     true,
			detail: fmt.Sprintf("%d declared agents", len(cfg.Agents)),
		})
	}

	// 9. systemd unit (Linux only).
	if runtime.GOOS == "linux" {
		unitPath := "/etc/systemd/system/trustplane-daemon.service"
		if _, err := os.Stat(unitPath); err == nil {
			checks = append(checks, checkResult{
				label:  "daemon unit",
				ok:     true,
				detail: "installed",
			})
		} else {
			checks = append(checks, checkResult{
				label:  "daemon unit",
				ok:     false,
				detail: "not installed",
				fix:    "sudo trustplane init --install-systemd",
			})
		}
	}

	// Print results.
	hasFailures := false
	for _, c := range checks {
		mark := "✓" // ✓
		if !c.ok {
			mark = "✗" // ✗
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Println(line)
	}

	if hasFailures {
		fmt.Println()
		fmt.Println("Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}

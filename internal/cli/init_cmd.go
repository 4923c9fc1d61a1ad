package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/integrity"
	"github.com/ppiankov/trustplane/internal/systemd"
)

var (
	initPath           string
	initForce          bool
	initInstallSystemd bool
	initWriteChecksum  bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initPath, "path", "", "Config file to create (default ~/.trustplane/trustplane.yaml)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install the trustplane-daemon systemd unit (requires root)")
	initCmd.Flags().BoolVar(&initWriteChecksum, "write-checksum", false, "Record this binary's SHA-256 so startup integrity checks enforce it")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default kernel configuration",
	Long: "Creates the config directory and a default trustplane.yaml with every\n" +
		"knob documented: trust weights, policy rules, canary parameters, breaker\n" +
		"cooldowns, and backend selection for profiles and the proof ledger.\n\n" +
		"With --install-systemd: installs trustplane-daemon.service so the\n" +
		"background sweeps run under systemd.",
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		path = config.DefaultPath()
	}

	var created []string
	wrote, err := writeIfMissing(path, config.DefaultConfigYAML())
	if err != nil {
		return err
	}
	if wrote {
		created = append(created, path)
	}

	if initWriteChecksum {
		sum, err := integrity.HashSelf()
		if err != nil {
			return err
		}
		checksumPath := filepath.Join(filepath.Dir(path), "binary.sha256")
		if err := os.WriteFile(checksumPath, []byte(sum+"\n"), 0o600); err != nil {
			return fmt.Errorf("write checksum file: %w", err)
		}
		created = append(created, checksumPath)
	}

	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}
		unitPath := "/etc/systemd/system/trustplane-daemon.service"
		if err := os.WriteFile(unitPath, []byte(systemd.DaemonUnit(path)), 0o644); err != nil {
			return fmt.Errorf("write systemd unit: %w", err)
		}
		created = append(created, unitPath)
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	fmt.Println("trustplane init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, p := range created {
			fmt.Printf("  %s\n", p)
		}
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
	}
	fmt.Println()
	fmt.Println("Next:")
	fmt.Printf("  trustplane simulate --config %s --agent <id> --action <type> --role TASK_EXECUTOR\n", path)
	fmt.Printf("  trustplane daemon --config %s\n", path)
	if initInstallSystemd {
		fmt.Println("  sudo systemctl enable --now trustplane-daemon")
	}
	return nil
}

// writeIfMissing writes content to path unless it exists and --force is
// not set. Reports whether the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

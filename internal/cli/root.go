package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/integrity"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "trustplane",
	Short: "Runtime trust and authorization kernel for autonomous agents",
	Long: "Maintains per-agent trust profiles, authorizes intents through the\n" +
		"role-tier matrix and policy layer, injects canary probes, and records\n" +
		"every decision in a hash-chained proof ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := integrity.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "",
		"Path to kernel config YAML (built-in defaults when empty)")
}

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/orchestrator"
)

var (
	simAgent  string
	simAction string
	simRole   string
	simTier   string
	simDomain string
	simParams string
	simFormat string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simAgent, "agent", "", "Agent ID (required)")
	simulateCmd.Flags().StringVar(&simAction, "action", "", "Action type (required)")
	simulateCmd.Flags().StringVar(&simRole, "role", "", "Declared role (falls back to the registry)")
	simulateCmd.Flags().StringVar(&simTier, "tier", "", "Requested tier (capped by the trust band)")
	simulateCmd.Flags().StringVar(&simDomain, "domain", "", "Target domain")
	simulateCmd.Flags().StringVar(&simParams, "params", "", "Intent parameters as JSON")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
	simulateCmd.MarkFlagRequired("agent")
	simulateCmd.MarkFlagRequired("action")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one intent through the authorization pipeline without executing",
	Long: "Builds an intent from flags, resolves the agent's trust profile, applies\n" +
		"breaker admission and the policy stack, records the decision in the proof\n" +
		"plane, and prints it. No executor runs.\n\n" +
		"Use this to preview what the kernel would decide before wiring an agent.",
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	intent := model.Intent{
		AgentID:    simAgent,
		ActionType: simAction,
		Domain:     simDomain,
		Role:       model.Role(simRole),
		Tier:       model.Tier(simTier),
	}
	if simParams != "" {
		if err := json.Unmarshal([]byte(simParams), &intent.Params); err != nil {
			return fmt.Errorf("parse --params: %w", err)
		}
	}

	res, err := k.Orch.ProcessIntent(ctx, intent, orchestrator.Options{AuthorizeOnly: true})
	if err != nil {
		return err
	}

	if simFormat == "json" {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	d := res.Decision
	verdict := "DENY"
	if d.Permitted {
		verdict = "ALLOW"
	}
	fmt.Printf("%s  agent=%s role=%s tier=%s domain=%s\n", verdict, simAgent, d.Role, d.Tier, d.Domain)
	fmt.Printf("  source:      %s (policy %s)\n", d.Source, d.PolicyVersion)
	fmt.Printf("  reason:      %s\n", d.Reason)
	fmt.Printf("  profile:     score=%d band=%s\n", res.Profile.AdjustedScore, res.Profile.Band)
	fmt.Printf("  correlation: %s\n", res.CorrelationID)
	return nil
}

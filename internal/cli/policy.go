package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/policydiff"
)

var policyFormat string

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyVersionCmd)
	policyCmd.AddCommand(policyDiffCmd)
	policyCmd.PersistentFlags().StringVarP(&policyFormat, "format", "f", "text", "Output format (text|json)")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the loaded authorization policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print active rules and exceptions",
	RunE:  runPolicyShow,
}

var policyVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the policy version and config hash",
	RunE:  runPolicyVersion,
}

var policyDiffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Compare two kernel config files in policy terms",
	Long: "Loads two kernel config files and shows what changed in authorization\n" +
		"terms: rules and exceptions added/removed/flipped, trust weights, decay,\n" +
		"canary and breaker settings, registered agents and weight presets.",
	Args: cobra.ExactArgs(2),
	RunE: runPolicyDiff,
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	k, err := buildKernel(cmd.Context())
	if err != nil {
		return err
	}
	defer k.Close()

	rules := k.Engine.Rules()
	exceptions := k.Engine.Exceptions()

	if policyFormat == "json" {
		out, err := json.MarshalIndent(map[string]any{
			"version":    k.Engine.Version(),
			"rules":      rules,
			"exceptions": exceptions,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("policy version %s: %d rules, %d exceptions\n\n",
		k.Engine.Version(), len(rules), len(exceptions))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if len(rules) > 0 {
		fmt.Fprintln(w, "RULE\tROLE\tTIER\tDOMAIN\tPERMIT\tREASON")
		for _, r := range rules {
			domain := r.Domain
			if domain == "" {
				domain = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.RuleID, r.Role, r.Tier, domain, permitWord(r.Permit), r.Reason)
		}
		w.Flush()
	}
	if len(exceptions) > 0 {
		fmt.Fprintln(w, "\nEXCEPTION\tAGENT\tROLE\tTIER\tPERMIT\tAPPROVER\tEXPIRES")
		for _, e := range exceptions {
			expires := "never"
			if !e.ExpiresAt.IsZero() {
				expires = e.ExpiresAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ExceptionID, e.AgentID, e.Role, e.Tier, permitWord(e.Permit), e.Approver, expires)
		}
		w.Flush()
	}
	if len(rules) == 0 && len(exceptions) == 0 {
		fmt.Println("no rules or exceptions loaded, kernel matrix decides everything")
	}
	return nil
}

func runPolicyVersion(cmd *cobra.Command, args []string) error {
	k, err := buildKernel(cmd.Context())
	if err != nil {
		return err
	}
	defer k.Close()

	if policyFormat == "json" {
		out, err := json.MarshalIndent(map[string]string{
			"policyVersion": k.Engine.Version(),
			"configHash":    k.CfgHash,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("policy version: %s\n", k.Engine.Version())
	fmt.Printf("config hash:    %s\n", k.CfgHash)
	return nil
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	oldCfg, err := loadConfigStrict(args[0])
	if err != nil {
		return fmt.Errorf("load old config: %w", err)
	}
	newCfg, err := loadConfigStrict(args[1])
	if err != nil {
		return fmt.Errorf("load new config: %w", err)
	}

	result := policydiff.Diff(oldCfg, newCfg)
	result.OldPath = args[0]
	result.NewPath = args[1]

	if policyFormat == "json" {
		out, err := policydiff.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(policydiff.FormatText(result))
	return nil
}

// loadConfigStrict requires the file to exist. The default-on-missing
// behavior of LoadConfig would silently diff against built-ins when a
// path is mistyped.
func loadConfigStrict(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, _, err := config.Parse(data)
	return cfg, err
}

func permitWord(permit bool) string {
	if permit {
		return "allow"
	}
	return "deny"
}

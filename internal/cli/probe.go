package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/canary"
	"github.com/ppiankov/trustplane/internal/ledger"
)

var (
	probeAgentID  string
	probeID       string
	probeCategory string
	probeAnswer   string
	probeFormat   string
)

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.AddCommand(probeListCmd)
	probeCmd.AddCommand(probeRunCmd)
	probeCmd.AddCommand(probeStatsCmd)

	probeCmd.PersistentFlags().StringVarP(&probeFormat, "format", "f", "text", "Output format (text|json)")

	probeListCmd.Flags().StringVar(&probeCategory, "category", "", "Only probes in this category")

	probeRunCmd.Flags().StringVar(&probeAgentID, "agent", "", "Agent ID to attribute the result to (required)")
	probeRunCmd.Flags().StringVar(&probeID, "probe", "", "Run this probe ID instead of a random draw")
	probeRunCmd.Flags().StringVar(&probeCategory, "category", "", "Draw the random probe from this category")
	probeRunCmd.Flags().StringVar(&probeAnswer, "answer", "", "Agent's answer (read from stdin when empty)")
	probeRunCmd.MarkFlagRequired("agent")

	probeStatsCmd.Flags().StringVar(&probeAgentID, "agent", "", "Only this agent's stats")
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Inspect and run canary probes",
}

var probeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List probes in the loaded library",
	RunE:  runProbeList,
}

var probeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Validate one answer against a probe and record the result",
	Long: "Runs a single probe out of band. The agent's answer comes from\n" +
		"--answer or stdin, the verdict lands in probe stats and the proof\n" +
		"plane exactly as a scheduled probe would, including a breaker trip\n" +
		"when a critical probe fails.",
	RunE: runProbeRun,
}

var probeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-agent probe pass/fail history",
	RunE:  runProbeStats,
}

func runProbeList(cmd *cobra.Command, args []string) error {
	k, err := buildKernel(cmd.Context())
	if err != nil {
		return err
	}
	defer k.Close()

	probes := k.Probes.Library().Probes()
	if probeCategory != "" {
		filtered := probes[:0]
		for _, p := range probes {
			if p.Category == canary.Category(probeCategory) {
				filtered = append(filtered, p)
			}
		}
		probes = filtered
	}

	if probeFormat == "json" {
		out, err := json.MarshalIndent(probes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tCATEGORY\tMODE\tDIFFICULTY\tCRITICAL\tPROMPT")
	for _, p := range probes {
		prompt := p.Prompt
		if len(prompt) > 48 {
			prompt = prompt[:45] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n",
			p.ProbeID, p.Category, p.ValidationMode, p.Difficulty, p.Critical, prompt)
	}
	return w.Flush()
}

func runProbeRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	var probe canary.Probe
	if probeID != "" {
		var ok bool
		probe, ok = k.Probes.Library().Get(probeID)
		if !ok {
			return fmt.Errorf("probe %s not in library", probeID)
		}
	} else {
		probe, err = k.Probes.RandomProbe(canary.Category(probeCategory))
		if err != nil {
			return err
		}
	}

	answer := probeAnswer
	if answer == "" {
		fmt.Fprintf(os.Stderr, "probe %s (%s): %s\n", probe.ProbeID, probe.Category, probe.Prompt)
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read answer from stdin: %w", err)
		}
		answer = strings.TrimSpace(string(raw))
	}

	respond := func(ctx context.Context, prompt string) (string, error) {
		return answer, nil
	}
	res, err := k.Probes.ExecuteProbe(ctx, probeAgentID, respond, probe)
	if err != nil {
		return err
	}

	if k.Proof != nil {
		if _, err := k.Proof.LogProbe(ctx, "", probeAgentID, ledger.ProbePayload{
			ProbeID:        res.ProbeID,
			Category:       string(res.Category),
			Passed:         res.Passed,
			LatencyMS:      res.LatencyMS,
			TrippedBreaker: res.TrippedBreaker,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: probe result not recorded: %v\n", err)
		}
		if res.TrippedBreaker {
			reason := fmt.Sprintf("critical probe %s failed", res.ProbeID)
			if _, err := k.Proof.LogBreaker(ctx, "", probeAgentID, true, string(k.Breaker.StateOf(probeAgentID)), reason); err != nil {
				fmt.Fprintf(os.Stderr, "warning: breaker trip not recorded: %v\n", err)
			}
		}
	}

	if probeFormat == "json" {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else if res.Passed {
		fmt.Printf("PASS  probe=%s agent=%s latency=%dms\n", res.ProbeID, probeAgentID, res.LatencyMS)
	} else {
		fmt.Printf("FAIL  probe=%s agent=%s latency=%dms\n", res.ProbeID, probeAgentID, res.LatencyMS)
		fmt.Printf("  expected: %s\n", strings.Join(res.Expected, " | "))
		fmt.Printf("  got:      %s\n", res.Response)
		if res.TrippedBreaker {
			fmt.Printf("  breaker:  tripped (critical probe)\n")
		}
	}
	if !res.Passed {
		k.Close()
		os.Exit(1)
	}
	return nil
}

func runProbeStats(cmd *cobra.Command, args []string) error {
	k, err := buildKernel(cmd.Context())
	if err != nil {
		return err
	}
	defer k.Close()

	var stats []canary.AgentStats
	if probeAgentID != "" {
		st, ok := k.Probes.Stats(probeAgentID)
		if !ok {
			fmt.Printf("no probe history for %s\n", probeAgentID)
			return nil
		}
		stats = []canary.AgentStats{st}
	} else {
		stats = k.Probes.AllStats()
	}

	if probeFormat == "json" {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(stats) == 0 {
		fmt.Println("no probe history")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tTOTAL\tPASSED\tFAILED\tPASS_RATE\tLAST_PROBE")
	for _, st := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\t%s\n",
			st.AgentID, st.TotalProbes, st.ProbesPassed, st.ProbesFailed,
			st.PassRate, st.LastProbeAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

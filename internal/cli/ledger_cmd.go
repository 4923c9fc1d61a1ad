package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/ledger"
)

var (
	ledgerCorrelation string
	ledgerFrom        uint64
	ledgerLimit       int
	ledgerTailN       int
	ledgerEventType   string
	ledgerFormat      string
)

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerTailCmd)
	ledgerCmd.AddCommand(ledgerStatsCmd)
	ledgerCmd.AddCommand(ledgerCheckpointCmd)
	ledgerCmd.AddCommand(ledgerEventsCmd)

	ledgerCmd.PersistentFlags().StringVarP(&ledgerFormat, "format", "f", "text", "Output format (text|json)")

	ledgerVerifyCmd.Flags().StringVar(&ledgerCorrelation, "correlation", "", "Verify one correlation's sub-chain instead of the full ledger")
	ledgerVerifyCmd.Flags().Uint64Var(&ledgerFrom, "from", 0, "Start position (0 = genesis)")
	ledgerVerifyCmd.Flags().IntVar(&ledgerLimit, "limit", 0, "Events to check (0 = to head)")

	ledgerTailCmd.Flags().IntVarP(&ledgerTailN, "lines", "n", 10, "Events to show")

	ledgerEventsCmd.Flags().StringVar(&ledgerEventType, "type", "", "Event type to filter on (required)")
	ledgerEventsCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "Maximum events to return")
	ledgerEventsCmd.MarkFlagRequired("type")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and verify the proof plane",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the hash chain and report the first break",
	RunE:  runLedgerVerify,
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent ledger events",
	RunE:  runLedgerTail,
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize ledger contents",
	RunE:  runLedgerStats,
}

var ledgerCheckpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Sign and print a checkpoint of the current head",
	RunE:  runLedgerCheckpoint,
}

var ledgerEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List events of one type",
	RunE:  runLedgerEvents,
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	var res ledger.VerifyResult
	if ledgerCorrelation != "" {
		res, err = k.Proof.VerifyCorrelationChain(ctx, ledgerCorrelation)
	} else {
		res, err = k.Proof.VerifyChain(ctx, ledgerFrom, ledgerLimit)
	}
	if err != nil {
		return err
	}

	if ledgerFormat == "json" {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if !res.Valid {
			k.Close()
			os.Exit(1)
		}
		return nil
	}

	if res.Valid {
		fmt.Printf("OK: %d events verified\n", res.Checked)
		return nil
	}
	fmt.Printf("FAILED at position %d: %s\n", res.FirstBadPosition, res.Reason)
	k.Close()
	os.Exit(1)
	return nil
}

func runLedgerTail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	events, err := k.Proof.Tail(ctx, ledgerTailN)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runLedgerStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	stats, err := k.Proof.Stats(ctx)
	if err != nil {
		return err
	}

	if ledgerFormat == "json" {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("events:  %d (head position %d)\n", stats.TotalEvents, stats.HeadPosition)
	if stats.HeadHash != "" {
		fmt.Printf("head:    %s\n", stats.HeadHash)
	}
	if len(stats.ByType) > 0 {
		fmt.Println("by type:")
		for _, et := range ledger.EventTypes() {
			if n, ok := stats.ByType[et]; ok {
				fmt.Printf("  %-22s %d\n", et, n)
			}
		}
	}
	if len(stats.ByAgent) > 0 {
		fmt.Printf("agents:  %d distinct\n", len(stats.ByAgent))
	}
	return nil
}

func runLedgerCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	cp, err := k.Proof.Checkpoint(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runLedgerEvents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	events, err := k.Proof.EventsByType(ctx, ledger.EventType(ledgerEventType), ledgerLimit)
	if err != nil {
		return err
	}
	return printEvents(events)
}

func printEvents(events []ledger.Event) error {
	if ledgerFormat == "json" {
		out, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tTYPE\tAGENT\tCORRELATION\tOCCURRED")
	for _, e := range events {
		agent := e.AgentID
		if agent == "" {
			agent = "-"
		}
		corr := e.CorrelationID
		if corr == "" {
			corr = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ChainPosition, e.EventType, agent, corr, e.OccurredAt)
	}
	return w.Flush()
}

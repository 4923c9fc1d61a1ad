package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/profile"
	"github.com/ppiankov/trustplane/internal/trust"
)

var (
	profAgent       string
	profObservation string
	profCreation    string
	profPreset      string
	profDimension   string
	profDelta       float64
	profReason      string
	profForce       bool
	profBand        string
	profLimit       int
	profFormat      string
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileUpdateCmd)
	profileCmd.AddCommand(profileRefreshCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileDeleteCmd)

	profileCmd.PersistentFlags().StringVar(&profAgent, "agent", "", "Agent ID")
	profileCmd.PersistentFlags().StringVarP(&profFormat, "format", "f", "text", "Output format (text|json)")

	profileCreateCmd.Flags().StringVar(&profObservation, "observation", string(model.ObservationInstrumented), "Observation tier (INSTRUMENTED|GLASS_BOX|GRAY_BOX|BLACK_BOX)")
	profileCreateCmd.Flags().StringVar(&profCreation, "creation", string(model.CreationFresh), "Creation type (FRESH|CLONED|EVOLVED|PROMOTED|IMPORTED)")
	profileCreateCmd.Flags().StringVar(&profPreset, "preset", "", "Domain weight preset name")

	profileUpdateCmd.Flags().StringVar(&profDimension, "dimension", "", "Evidence dimension (CT|BT|GT|XT|AC)")
	profileUpdateCmd.Flags().Float64Var(&profDelta, "delta", 0, "Evidence delta on the 0-100 dimension scale")
	profileUpdateCmd.Flags().StringVar(&profReason, "reason", "", "Why this evidence exists")
	profileUpdateCmd.MarkFlagRequired("dimension")

	profileRefreshCmd.Flags().BoolVar(&profForce, "force", false, "Recalculate even inside the staleness window")

	profileListCmd.Flags().StringVar(&profBand, "band", "", "Only profiles in this trust band")
	profileListCmd.Flags().IntVar(&profLimit, "limit", 0, "Maximum profiles to return (0 = all)")
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage agent trust profiles",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Enroll an agent with a seed trust profile",
	RunE:  runProfileCreate,
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print one agent's trust profile",
	RunE:  runProfileShow,
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fold one piece of evidence into a profile",
	RunE:  runProfileUpdate,
}

var profileRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Recalculate a stale profile with time decay applied",
	RunE:  runProfileRefresh,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored trust profiles",
	RunE:  runProfileList,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove an agent's trust profile",
	RunE:  runProfileDelete,
}

func requireAgent() error {
	if profAgent == "" {
		return fmt.Errorf("--agent is required")
	}
	return nil
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	if err := requireAgent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	p, err := k.Profiles.Create(ctx, profile.CreateParams{
		AgentID:         profAgent,
		ObservationTier: model.ObservationTier(profObservation),
		CreationType:    model.CreationType(profCreation),
		DomainPreset:    profPreset,
	})
	if err != nil {
		return err
	}
	return printProfile(p)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	if err := requireAgent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	p, err := k.Profiles.Get(ctx, profAgent)
	if err != nil {
		return err
	}
	return printProfile(p)
}

func runProfileUpdate(cmd *cobra.Command, args []string) error {
	if err := requireAgent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	p, err := k.Profiles.Update(ctx, profAgent, []trust.Evidence{{
		AgentID:   profAgent,
		Dimension: model.Dimension(profDimension),
		Delta:     profDelta,
		Reason:    profReason,
		Source:    "cli",
	}})
	if err != nil {
		return err
	}
	return printProfile(p)
}

func runProfileRefresh(cmd *cobra.Command, args []string) error {
	if err := requireAgent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	p, did, err := k.Profiles.Refresh(ctx, profAgent, profForce)
	if err != nil {
		return err
	}
	if !did {
		fmt.Printf("profile %s is fresh (recalculated %s), use --force to refresh anyway\n",
			profAgent, p.CalculatedAt.Format("2006-01-02 15:04:05"))
		return nil
	}
	return printProfile(p)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	profiles, err := k.Profiles.List(ctx, profile.Query{
		Band:  model.Band(profBand),
		Limit: profLimit,
	})
	if err != nil {
		return err
	}

	if profFormat == "json" {
		out, err := json.MarshalIndent(profiles, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(profiles) == 0 {
		fmt.Println("no profiles")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSCORE\tBAND\tOBSERVATION\tVERSION\tCALCULATED")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
			p.AgentID, p.AdjustedScore, p.Band, p.ObservationTier,
			p.Version, p.CalculatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	if err := requireAgent(); err != nil {
		return err
	}
	ctx := cmd.Context()
	k, err := buildKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	if err := k.Profiles.Delete(ctx, profAgent); err != nil {
		return err
	}
	fmt.Printf("profile %s deleted\n", profAgent)
	return nil
}

func printProfile(p trust.Profile) error {
	if profFormat == "json" {
		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("agent:       %s\n", p.AgentID)
	fmt.Printf("score:       %d adjusted (%d composite, %s observation)\n",
		p.AdjustedScore, p.CompositeScore, p.ObservationTier)
	fmt.Printf("band:        %s (max tier %s)\n", p.Band, p.Band.Tier())
	fmt.Printf("dimensions:  CT=%.1f BT=%.1f GT=%.1f XT=%.1f AC=%.1f\n",
		p.Dimensions.CT, p.Dimensions.BT, p.Dimensions.GT, p.Dimensions.XT, p.Dimensions.AC)
	fmt.Printf("evidence:    %d entries\n", len(p.Evidence))
	fmt.Printf("version:     %d, calculated %s\n", p.Version, p.CalculatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

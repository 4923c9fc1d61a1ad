package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/rolegate"
)

func init() {
	rootCmd.AddCommand(matrixCmd)
}

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Print the role-gate kernel matrix",
	Long: "Prints the compiled role x tier kernel matrix. A '+' cell means the\n" +
		"role may operate at that tier before policy rules and exceptions are\n" +
		"consulted; a '.' cell is an unconditional kernel denial.",
	RunE: runMatrix,
}

func runMatrix(cmd *cobra.Command, args []string) error {
	roles := model.Roles()
	tiers := model.Tiers()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "ROLE")
	for _, t := range tiers {
		fmt.Fprintf(w, "\t%s", t)
	}
	fmt.Fprintln(w)
	for _, r := range roles {
		fmt.Fprint(w, string(r))
		for _, t := range tiers {
			cell := "."
			if rolegate.ValidateRoleAndTier(r, t) {
				cell = "+"
			}
			fmt.Fprintf(w, "\t%s", cell)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

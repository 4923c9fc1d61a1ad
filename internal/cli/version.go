package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustplane/internal/integrity"
)

const version = "0.4.0"

var versionShowHash bool

func init() {
	versionCmd.Flags().BoolVar(&versionShowHash, "hash", false,
		"Include the SHA-256 of the running binary (for checksum files)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := map[string]string{
			"name":    "trustplane",
			"version": version,
			"go":      runtime.Version(),
		}
		if versionShowHash {
			if sum, err := integrity.HashSelf(); err == nil {
				info["binary_sha256"] = sum
			} else {
				info["binary_sha256"] = "unavailable: " + err.Error()
			}
		}
		out, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(out))
	},
}

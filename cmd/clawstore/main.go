// Command clawstore is an operational CLI for ClawStore data
// directories: inspecting live file sets, forcing a compaction pass,
// dumping raw WAL records, and verifying on-disk checksums.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clawstore",
	Short: "Operate on a ClawStore data directory",
	Long: `clawstore inspects and maintains a ClawStore embedded storage
directory from outside the owning process: listing per-table file
sets, forcing an out-of-band compaction, dumping WAL records for
debugging, and verifying on-disk checksums.`,
}

func init() {
	rootCmd.PersistentFlags().String("dir", "", "ClawStore data directory (required)")
	rootCmd.MarkPersistentFlagRequired("dir")

	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(dumpWALCmd)
	rootCmd.AddCommand(verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "clawstore: %v\n", err)
		os.Exit(1)
	}
}

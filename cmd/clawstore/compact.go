package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Force an immediate compaction pass over every table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open data directory: %w", err)
		}
		defer engine.Close()

		if err := engine.FlushNow(); err != nil {
			return fmt.Errorf("flush pending writes: %w", err)
		}
		if err := engine.CompactAll(); err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		fmt.Println("compaction complete")
		return nil
	},
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Checksum-verify every live data file for every table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open data directory: %w", err)
		}
		defer engine.Close()

		var corrupted []string
		for _, table := range engine.Tables() {
			if err := engine.VerifyTable(table); err != nil {
				fmt.Printf("%s: CORRUPT: %v\n", table, err)
				corrupted = append(corrupted, table)
				continue
			}
			fmt.Printf("%s: ok\n", table)
		}

		if len(corrupted) > 0 {
			return fmt.Errorf("%d table(s) failed verification", len(corrupted))
		}
		return nil
	},
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Report per-table file counts, sizes, and record counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return fmt.Errorf("open data directory: %w", err)
		}
		defer engine.Close()

		tables := engine.Tables()
		if len(tables) == 0 {
			fmt.Println("no tables")
			return nil
		}

		for _, table := range tables {
			files, err := engine.TableStats(table)
			if err != nil {
				return fmt.Errorf("table %q: %w", table, err)
			}

			var totalRecords uint64
			var totalBytes int64
			for _, f := range files {
				totalRecords += uint64(f.RecordCount)
				totalBytes += f.SizeBytes
			}

			fmt.Printf("%s: %d files, %d records, %d bytes\n", table, len(files), totalRecords, totalBytes)
			for _, f := range files {
				fmt.Printf("  file %d: %d records, %d bytes, keys [%q, %q]\n",
					f.ID, f.RecordCount, f.SizeBytes, f.FirstKey, f.LastKey)
			}
		}
		return nil
	},
}

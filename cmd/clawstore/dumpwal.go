package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clawstore/clawstore/internal/wal"
)

var dumpWALCmd = &cobra.Command{
	Use:   "dump-wal",
	Short: "Print every record found by replaying the write-ahead log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := cmd.Flags().GetString("dir")
		if err != nil {
			return err
		}

		walCfg := wal.DefaultConfig(filepath.Join(dir, "wal"))
		result, err := wal.Replay(walCfg.DirPath, walCfg, func(rec *wal.Record) error {
			op := "put"
			if rec.Op == wal.OpDelete {
				op = "delete"
			}
			fmt.Printf("lsn=%d table=%q op=%s key=%q value_len=%d\n",
				rec.LSN, rec.Table, op, rec.Key, len(rec.Value))
			return nil
		})
		if err != nil {
			return fmt.Errorf("replay wal: %w", err)
		}

		fmt.Printf("records=%d max_lsn=%d tail_truncated=%v\n",
			result.RecordsRead, result.MaxLSN, result.TailTruncated)
		return nil
	},
}

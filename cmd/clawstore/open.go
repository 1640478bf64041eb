package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clawstore/clawstore"
)

// cliConfig builds a Config for a CLI-driven open: a human-readable
// console logger at warn level, so routine background-worker activity
// (the engine starts its trickle goroutine immediately on Open) stays
// quiet unless something goes wrong.
func cliConfig(dir string) clawstore.Config {
	cfg := clawstore.DefaultConfig(dir)
	cfg.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Logger()
	return cfg
}

func openEngine(cmd *cobra.Command) (*clawstore.Engine, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, err
	}
	return clawstore.Open(dir, cliConfig(dir))
}

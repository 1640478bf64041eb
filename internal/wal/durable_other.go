//go:build !linux && !darwin

package wal

import "os"

// fullDurableFlush and dataOnlyDurableFlush fall back to the stdlib's
// Sync on platforms where x/sys doesn't expose a stronger primitive
// ClawStore specifically targets.
func fullDurableFlush(f *os.File) error     { return f.Sync() }
func dataOnlyDurableFlush(f *os.File) error { return f.Sync() }

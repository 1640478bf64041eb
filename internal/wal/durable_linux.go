//go:build linux

package wal

import (
	"os"

	"golang.org/x/sys/unix"
)

// fullDurableFlush on Linux has no separate "full hardware flush"
// syscall beyond fsync (the block layer's write barrier is the
// strongest guarantee the OS exposes), so it is a plain fsync.
func fullDurableFlush(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}

// dataOnlyDurableFlush uses fdatasync, skipping the metadata
// (mtime/size) sync that a full fsync also performs.
func dataOnlyDurableFlush(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

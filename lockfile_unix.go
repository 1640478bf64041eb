//go:build linux || darwin

package clawstore

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/clawstore/clawstore/internal/clawerrors"
)

// lockFile holds the LOCK file's handle for the engine's lifetime.
type lockFile struct {
	f *os.File
}

// acquireLock takes an exclusive, non-blocking flock on dir/LOCK so a
// second Open on the same directory fails fast with Busy (spec §6's
// "LOCK file preventing concurrent opens").
func acquireLock(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &clawerrors.IoError{Op: "open lock file", Err: err}
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, &clawerrors.BusyError{Dir: path}
	}

	return &lockFile{f: f}, nil
}

func (l *lockFile) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

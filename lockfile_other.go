//go:build !linux && !darwin

package clawstore

import (
	"os"

	"github.com/clawstore/clawstore/internal/clawerrors"
)

// lockFile on platforms without flock falls back to O_EXCL creation,
// giving single-process-per-directory enforcement without true
// advisory locking.
type lockFile struct {
	path string
	f    *os.File
}

func acquireLock(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, &clawerrors.BusyError{Dir: path}
		}
		return nil, &clawerrors.IoError{Op: "open lock file", Err: err}
	}
	return &lockFile{path: path, f: f}, nil
}

func (l *lockFile) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	_ = os.Remove(l.path)
	return err
}

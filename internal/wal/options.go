package wal

import "time"

// SyncMode controls the durability barrier issued per commit, mirroring
// spec's sync_mode config option.
type SyncMode int

const (
	// SyncFull issues the platform's strongest durable flush: a full
	// hardware flush where the OS exposes one (F_FULLFSYNC on Darwin),
	// otherwise an fsync.
	SyncFull SyncMode = iota

	// SyncDataOnly issues a data-only sync (fdatasync where available)
	// — metadata such as mtimes may lag, file contents do not.
	SyncDataOnly

	// SyncNone disables durability entirely. Commits still order and
	// apply to the index; nothing is guaranteed to survive a crash.
	// For tests only, per spec.
	SyncNone
)

// DefaultSegmentBytes is the rotation threshold for a WAL segment.
const DefaultSegmentBytes = 128 * 1024 * 1024

// Config configures a WAL directory.
type Config struct {
	// DirPath is the directory holding wal/NNNNNNNNNNNNNNNN.wal segments.
	DirPath string

	// SegmentBytes rotates to a new segment once the active one
	// exceeds this size.
	SegmentBytes int64

	// SyncMode selects the durability barrier per commit.
	SyncMode SyncMode

	// BufferSize is the bufio.Writer buffer size backing the active
	// segment.
	BufferSize int

	// MaxRecordBytes bounds a single decoded record payload during
	// replay, guarding against reading garbage as a length.
	MaxRecordBytes uint32
}

// DefaultConfig returns a safe default WAL configuration.
func DefaultConfig(dir string) Config {
	return Config{
		DirPath:        dir,
		SegmentBytes:   DefaultSegmentBytes,
		SyncMode:       SyncFull,
		BufferSize:     64 * 1024,
		MaxRecordBytes: 1 << 30, // 1 GiB guard
	}
}

// GroupCommitWindow is an advisory hint for how long a commit may wait
// for concurrent commits to coalesce into its flush before going it
// alone. ClawStore's group commit does not sleep to wait for
// latecomers — it only coalesces commits that are already pending when
// the leader starts flushing — so this exists purely as documentation
// of intent, not a tunable the writer reads.
const GroupCommitWindow = 0 * time.Millisecond

package clawstore

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/clawstore/clawstore/internal/clawerrors"
	"github.com/clawstore/clawstore/internal/wal"
)

// SyncMode controls the durability barrier issued per commit (spec §6).
type SyncMode = wal.SyncMode

const (
	SyncFull     = wal.SyncFull
	SyncDataOnly = wal.SyncDataOnly
	SyncNone     = wal.SyncNone
)

// Config holds every recognized option from spec §6, mirroring the
// teacher's wal.Options shape: an exported struct plus a
// DefaultConfig constructor, loadable from YAML via LoadConfigFile.
type Config struct {
	DataDir string `yaml:"data_dir"`

	WALSegmentBytes int64 `yaml:"wal_segment_bytes"`

	TrickleIntervalMS          int   `yaml:"trickle_interval_ms"`
	TrickleDirtyBytesThreshold int64 `yaml:"trickle_dirty_bytes_threshold"`

	CompactionFileCountThreshold int     `yaml:"compaction_file_count_threshold"`
	CompactionDeadRatioThreshold float64 `yaml:"compaction_dead_ratio_threshold"`

	MaxKeyBytes   int `yaml:"max_key_bytes"`
	MaxValueBytes int `yaml:"max_value_bytes"`

	SyncMode SyncMode `yaml:"sync_mode"`

	// UseManifest enables the optional bbolt-backed MANIFEST bookkeeping
	// file (spec §6).
	UseManifest bool `yaml:"use_manifest"`

	// BlockCompression selects the data-file block codec. 0 (the
	// default) selects uncompressed blocks (datafile.VersionUncompressed).
	BlockCompression uint16 `yaml:"block_compression"`

	// Metrics, if set, registers ClawStore's Prometheus collectors
	// against it. Left nil by default (ambient, ever-silent library
	// posture).
	Metrics prometheus.Registerer `yaml:"-"`

	// Logger receives structured operational log lines (engine
	// open/close, recovery summary, trickle cycles, compaction runs,
	// WAL truncation). Defaults to zerolog.Nop() — silent until a host
	// wires a sink in.
	Logger zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns spec §6's documented defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:                      dataDir,
		WALSegmentBytes:              wal.DefaultSegmentBytes,
		TrickleIntervalMS:            1000,
		TrickleDirtyBytesThreshold:   0,
		CompactionFileCountThreshold: 4,
		CompactionDeadRatioThreshold: 0.5,
		MaxKeyBytes:                  64 * 1024,
		MaxValueBytes:                16 * 1024 * 1024,
		SyncMode:                     SyncFull,
		UseManifest:                  true,
		Logger:                       zerolog.Nop(),
	}
}

// LoadConfigFile decodes a YAML config file (typically a
// `clawstore.yaml` co-located with data_dir) into a Config seeded with
// defaults for dataDir first, so a partial file only overrides the
// fields it sets.
func LoadConfigFile(path string, dataDir string) (Config, error) {
	cfg := DefaultConfig(dataDir)

	f, err := os.Open(path)
	if err != nil {
		return cfg, &clawerrors.IoError{Op: "open config file", Err: err}
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, &clawerrors.IoError{Op: "decode config file", Err: err}
	}
	return cfg, nil
}

func (c Config) trickleInterval() time.Duration {
	if c.TrickleIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.TrickleIntervalMS) * time.Millisecond
}

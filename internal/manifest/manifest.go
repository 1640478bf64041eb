// Package manifest backs the optional MANIFEST file (spec §6): a
// small embedded store recording, per table, the set of live data-file
// ids with their footer summaries, and the global WAL-truncation
// watermark the trickle advances. It is bookkeeping only — table data
// never lives here.
package manifest

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/clawstore/clawstore/internal/clawerrors"
)

var (
	metaBucket  = []byte("meta")
	filesPrefix = "files/"

	watermarkKey = []byte("wal_truncation_watermark")
)

// FileSummary is the bookkeeping record kept for one published data
// file, enough to drive `clawstore stat` and compaction candidate
// selection without opening every file's footer.
type FileSummary struct {
	ID          uint64
	RecordCount uint32
	FirstKey    []byte
	LastKey     []byte
	Version     uint16
}

// Manifest wraps a single bbolt file opened for the lifetime of an
// engine instance.
type Manifest struct {
	db *bbolt.DB
}

// Open creates or opens the manifest file at path.
func Open(path string) (*Manifest, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, &clawerrors.IoError{Op: fmt.Sprintf("open manifest %s", path), Err: err}
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, &clawerrors.IoError{Op: "init manifest meta bucket", Err: err}
	}
	return &Manifest{db: db}, nil
}

// Close releases the underlying bbolt file.
func (m *Manifest) Close() error {
	if err := m.db.Close(); err != nil {
		return &clawerrors.IoError{Op: "close manifest", Err: err}
	}
	return nil
}

func tableBucketName(table string) []byte {
	return []byte(filesPrefix + table)
}

// PublishFile records a newly-published data file for table.
func (m *Manifest) PublishFile(table string, fs FileSummary) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(tableBucketName(table))
		if err != nil {
			return err
		}
		return b.Put(idKey(fs.ID), encodeSummary(fs))
	})
}

// UnlinkFile removes a data file's bookkeeping entry for table,
// called once the compactor has superseded it.
func (m *Manifest) UnlinkFile(table string, id uint64) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tableBucketName(table))
		if b == nil {
			return nil
		}
		return b.Delete(idKey(id))
	})
}

// ListFiles returns every tracked file summary for table, ascending by
// id.
func (m *Manifest) ListFiles(table string) ([]FileSummary, error) {
	var out []FileSummary
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(tableBucketName(table))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			fs, err := decodeSummary(v)
			if err != nil {
				return err
			}
			out = append(out, fs)
			return nil
		})
	})
	if err != nil {
		return nil, &clawerrors.IoError{Op: "read manifest files", Err: err}
	}
	return out, nil
}

// Tables lists every table with at least one bookkeeping entry.
func (m *Manifest) Tables() ([]string, error) {
	var out []string
	err := m.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if len(name) > len(filesPrefix) && string(name[:len(filesPrefix)]) == filesPrefix {
				out = append(out, string(name[len(filesPrefix):]))
			}
			return nil
		})
	})
	if err != nil {
		return nil, &clawerrors.IoError{Op: "list manifest tables", Err: err}
	}
	return out, nil
}

// SetTruncationWatermark records the highest LSN known to be fully
// captured by published data files, permitting WAL segments before it
// to be truncated.
func (m *Manifest) SetTruncationWatermark(lsn uint64) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metaBucket)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], lsn)
		return b.Put(watermarkKey, buf[:])
	})
}

// TruncationWatermark returns the last recorded watermark, or 0 if
// none has been set yet.
func (m *Manifest) TruncationWatermark() (uint64, error) {
	var lsn uint64
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metaBucket)
		v := b.Get(watermarkKey)
		if v == nil {
			return nil
		}
		lsn = binary.LittleEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, &clawerrors.IoError{Op: "read manifest watermark", Err: err}
	}
	return lsn, nil
}

func idKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id) // big-endian so bbolt's byte ordering matches numeric ordering
	return buf[:]
}

func encodeSummary(fs FileSummary) []byte {
	buf := make([]byte, 0, 8+4+4+len(fs.FirstKey)+4+len(fs.LastKey)+2)
	var scratch [8]byte

	binary.LittleEndian.PutUint64(scratch[:8], fs.ID)
	buf = append(buf, scratch[:8]...)

	binary.LittleEndian.PutUint32(scratch[:4], fs.RecordCount)
	buf = append(buf, scratch[:4]...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(fs.FirstKey)))
	buf = append(buf, scratch[:4]...)
	buf = append(buf, fs.FirstKey...)

	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(fs.LastKey)))
	buf = append(buf, scratch[:4]...)
	buf = append(buf, fs.LastKey...)

	binary.LittleEndian.PutUint16(scratch[:2], fs.Version)
	buf = append(buf, scratch[:2]...)

	return buf
}

func decodeSummary(buf []byte) (FileSummary, error) {
	var fs FileSummary
	if len(buf) < 8+4+4+4+2 {
		return fs, fmt.Errorf("manifest: summary record too short")
	}
	off := 0
	fs.ID = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	fs.RecordCount = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4

	fkLen := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	fs.FirstKey = append([]byte(nil), buf[off:off+int(fkLen)]...)
	off += int(fkLen)

	lkLen := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	fs.LastKey = append([]byte(nil), buf[off:off+int(lkLen)]...)
	off += int(lkLen)

	fs.Version = binary.LittleEndian.Uint16(buf[off : off+2])
	return fs, nil
}

package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	segmentMagic      uint32 = 0xC1A35E6D
	segmentVersion    uint16 = 1
	segmentHeaderSize        = 16 // magic(4) + version(2) + reserved(2) + startLSN(8)
)

// segmentFileName names a segment by its starting LSN as 16 zero-padded
// hex digits (wal/NNNNNNNNNNNNNNNN.wal).
func segmentFileName(startLSN uint64) string {
	return fmt.Sprintf("%016x.wal", startLSN)
}

func segmentPath(dir string, startLSN uint64) string {
	return filepath.Join(dir, segmentFileName(startLSN))
}

// listSegments returns the starting LSNs of every segment file under
// dir, sorted ascending.
func listSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var lsns []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".wal") {
			continue
		}
		hexPart := strings.TrimSuffix(name, ".wal")
		lsn, err := strconv.ParseUint(hexPart, 16, 64)
		if err != nil {
			continue // not one of ours, ignore
		}
		lsns = append(lsns, lsn)
	}

	sort.Slice(lsns, func(i, j int) bool { return lsns[i] < lsns[j] })
	return lsns, nil
}

func writeSegmentHeader(f *os.File, startLSN uint64) error {
	var buf [segmentHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], segmentMagic)
	binary.LittleEndian.PutUint16(buf[4:6], segmentVersion)
	binary.LittleEndian.PutUint64(buf[8:16], startLSN)
	if _, err := f.WriteAt(buf[:], 0); err != nil {
		return err
	}
	return nil
}

// readSegmentHeader validates and returns the starting LSN recorded in
// a segment's header. A header that fails to parse is "WAL segment
// headers unreadable", distinct from tail corruption per spec §6.
func readSegmentHeader(f *os.File) (startLSN uint64, err error) {
	var buf [segmentHeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return 0, err
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != segmentMagic {
		return 0, fmt.Errorf("wal: bad segment magic %x", magic)
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != segmentVersion {
		return 0, fmt.Errorf("wal: unsupported segment version %d", version)
	}
	startLSN = binary.LittleEndian.Uint64(buf[8:16])
	return startLSN, nil
}

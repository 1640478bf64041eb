package datafile

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compression is disabled by default (VersionUncompressed). When a
// Config enables it, every block is compressed independently so a
// single corrupt block doesn't require decompressing the whole file
// to reach later blocks, and point lookups only ever decompress the
// one block a key hashes/sorts into.
var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

func compressBlock(raw []byte) ([]byte, error) {
	return getEncoder().EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

func decompressBlock(compressed []byte, rawSizeHint int) ([]byte, error) {
	return getDecoder().DecodeAll(compressed, make([]byte, 0, rawSizeHint))
}

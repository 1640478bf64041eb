package wal

import "sync"

// bufferPool reuses the byte slices used to build framed records
// before they're appended to the segment's write buffer, avoiding a
// per-commit allocation on the hot path.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 4096)
		return &buf
	},
}

func acquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func releaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}

package stream

import (
	"bytes"
	"sync"
)

// The relay's hot path runs once per upstream chunk for every concurrent
// stream, so both the event-accumulation buffer and the read-chunk slice
// are pooled rather than allocated per stream.

const (
	eventBufSize = 128 * 1024
	chunkSize    = 16 * 1024
)

var eventBufPool = sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, eventBufSize)) },
}

func getEventBuffer() *bytes.Buffer {
	b := eventBufPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// putEventBuffer returns b to the pool unless a pathological stream grew it
// far past the steady-state size, in which case it is left for the GC.
func putEventBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > eventBufSize*4 {
		return
	}
	eventBufPool.Put(b)
}

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

func getChunk() []byte  { return *chunkPool.Get().(*[]byte) }
func putChunk(b []byte) {
	if cap(b) < chunkSize {
		return
	}
	b = b[:chunkSize]
	chunkPool.Put(&b)
}

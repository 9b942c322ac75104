package api

import (
	"bytes"
	"sync"
)

// bufferPool reuses byte buffers for request bodies. Conversation histories
// grow with every iteration, so request encoding dominates allocations in
// long runs.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	// Large histories produce large buffers; don't pin them in the pool
	const maxBufferSize = 256 * 1024
	if buf.Cap() <= maxBufferSize {
		bufferPool.Put(buf)
	}
}

package internal

import (
	"bytes"
	"sync"
)

// maxPooledSize is the largest buffer kept for reuse. Buffers that grew
// past it while encoding a large value are left to the GC.
const maxPooledSize = 64 * 1024

// BufferPool recycles the buffers requests are encoded into.
type BufferPool struct {
	pool sync.Pool
}

func NewBufferPool(initialSize int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialSize))
			},
		},
	}
}

func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledSize {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// Package utils provides I/O helpers shared by the archive and fingerprint code.
package utils

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Buffer wraps a byte slice for use in sync.Pool
type Buffer struct {
	B []byte
}

// BufferPool provides a pool of reusable fixed-size byte buffers.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with buffers of the specified size.
func NewBufferPool(bufferSize int) *BufferPool {
	return &BufferPool{
		size: bufferSize,
		pool: sync.Pool{
			New: func() interface{} {
				return &Buffer{
					B: make([]byte, bufferSize),
				}
			},
		},
	}
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() []byte {
	buf := p.pool.Get().(*Buffer)
	return buf.B[:p.size]
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf []byte) {
	// Only return buffers of the expected size
	if cap(buf) == p.size {
		p.pool.Put(&Buffer{B: buf[:p.size]})
	}
}

// Size returns the length of the buffers handed out by the pool.
func (p *BufferPool) Size() int {
	return p.size
}

// ChunkPool holds the 4KB chunks archives are hashed with.
var ChunkPool = NewBufferPool(4096)

// CopyPool holds the 32KB buffers payloads are streamed to disk with.
var CopyPool = NewBufferPool(32 * 1024)

// CopyContext copies src into dst using a pooled buffer and stops early
// when ctx is cancelled.
func CopyContext(ctx context.Context, dst io.Writer, src io.Reader, pool *BufferPool) (int64, error) {
	buf := pool.Get()
	defer pool.Put(buf)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			w, writeErr := dst.Write(buf[:n])
			written += int64(w)
			if writeErr != nil {
				return written, writeErr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, readErr
		}
	}
}

package utils

import (
	"io"
	"sync/atomic"
	"time"
)

// DefaultProgressInterval is how many bytes pass between progress callbacks.
const DefaultProgressInterval = 10 * 1024 * 1024

// ProgressWriter wraps an io.Writer and tracks bytes written.
type ProgressWriter struct {
	writer       io.Writer
	bytesWritten atomic.Int64
	startTime    time.Time
	updateFunc   func(bytesWritten int64, elapsed time.Duration)
	updateEvery  int64
}

// NewProgressWriter creates a new progress tracking writer. updateFunc may be nil.
func NewProgressWriter(writer io.Writer, updateFunc func(bytesWritten int64, elapsed time.Duration)) *ProgressWriter {
	return &ProgressWriter{
		writer:      writer,
		startTime:   time.Now(),
		updateFunc:  updateFunc,
		updateEvery: DefaultProgressInterval,
	}
}

// SetInterval changes how often the update callback fires.
func (pw *ProgressWriter) SetInterval(every int64) {
	if every > 0 {
		pw.updateEvery = every
	}
}

// Write implements io.Writer interface with progress tracking.
func (pw *ProgressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 {
		newTotal := pw.bytesWritten.Add(int64(n))

		// Fire when this write crossed an interval boundary
		if pw.updateFunc != nil && (newTotal%pw.updateEvery) < int64(n) {
			pw.updateFunc(newTotal, time.Since(pw.startTime))
		}
	}
	return n, err
}

// BytesWritten returns the total number of bytes written.
func (pw *ProgressWriter) BytesWritten() int64 {
	return pw.bytesWritten.Load()
}

// Elapsed returns the time since the writer was created.
func (pw *ProgressWriter) Elapsed() time.Duration {
	return time.Since(pw.startTime)
}

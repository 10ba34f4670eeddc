package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer. It implements io.Writer
// and silently overwrites the oldest data when full, so the most recent log
// output is always available for a crash dump.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int // index of the oldest byte
	count int // number of valid bytes
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 4 * 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer. Older data is dropped once capacity is reached.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)

	if n >= size {
		// Larger than the whole buffer: only the tail survives.
		copy(rb.buf, p[n-size:])
		rb.start = 0
		rb.count = size
		return n, nil
	}

	end := (rb.start + rb.count) % size
	first := copy(rb.buf[end:], p)
	if first < n {
		copy(rb.buf, p[first:])
	}

	rb.count += n
	if rb.count > size {
		// Overwrote the oldest bytes; advance start past them.
		rb.start = (rb.start + rb.count - size) % size
		rb.count = size
	}
	return n, nil
}

// Bytes returns the buffer contents in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.count)
	first := copy(out, rb.buf[rb.start:min(rb.start+rb.count, len(rb.buf))])
	if first < rb.count {
		copy(out[first:], rb.buf[:rb.count-first])
	}
	return out
}

// DumpToFile writes the ring buffer contents to a file in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}

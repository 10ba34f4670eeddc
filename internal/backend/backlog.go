package backend

import "sync"

// DefaultBacklogSize bounds the per-session replay buffer. Old output falls
// off the front once the cap is reached.
const DefaultBacklogSize = 256 * 1024

// Backlog is a rolling byte buffer of a session's recent output. It backs the
// replay sent on reconnect, so a resumed client sees its recent history
// without the backend retaining unbounded scrollback.
type Backlog struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewBacklog creates a backlog capped at max bytes (DefaultBacklogSize when
// max is not positive).
func NewBacklog(max int) *Backlog {
	if max <= 0 {
		max = DefaultBacklogSize
	}
	return &Backlog{max: max}
}

// Append records output, dropping the oldest bytes beyond the cap.
func (b *Backlog) Append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(p) >= b.max {
		b.buf = append(b.buf[:0], p[len(p)-b.max:]...)
		return
	}
	b.buf = append(b.buf, p...)
	if overflow := len(b.buf) - b.max; overflow > 0 {
		b.buf = append(b.buf[:0], b.buf[overflow:]...)
	}
}

// Bytes returns a copy of the buffered output.
func (b *Backlog) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Len returns the buffered byte count.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Package logtail provides a bounded buffer that retains the last N bytes
// written to it. It is used to capture the tail of the serving runtime's
// output so that startup and exit failures can carry useful context.
package logtail

import (
	"strings"
	"sync"
)

// Buffer is a fixed-capacity writer that keeps only the most recently
// written bytes. It is safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	cap   int
	start int
	size  int
}

// New creates a Buffer retaining at most capacity bytes.
func New(capacity int) *Buffer {
	return &Buffer{
		data: make([]byte, capacity),
		cap:  capacity,
	}
}

// Write implements io.Writer. Writes never fail; older bytes are discarded
// once the capacity is exceeded.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.cap == 0 {
		return n, nil
	}
	if n >= b.cap {
		copy(b.data, p[n-b.cap:])
		b.start = 0
		b.size = b.cap
		return n, nil
	}
	for _, c := range p {
		pos := (b.start + b.size) % b.cap
		b.data[pos] = c
		if b.size < b.cap {
			b.size++
		} else {
			b.start = (b.start + 1) % b.cap
		}
	}
	return n, nil
}

// Tail returns the retained bytes in write order.
func (b *Buffer) Tail() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(b.start+i)%b.cap]
	}
	return out
}

// String returns the retained bytes as a trimmed string.
func (b *Buffer) String() string {
	return strings.TrimSpace(string(b.Tail()))
}

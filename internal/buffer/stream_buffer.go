// Package buffer provides the accumulating buffer backing the instruction
// framer: fragments are appended as they arrive and bytes are released
// from the head only once the consumer confirms a complete unit.
package buffer

import (
	"sync"
)

// StreamBuffer is a thread-safe append-and-consume byte buffer. Unlike a
// ring buffer it never discards data on its own; the consumer decides
// when a prefix has been fully parsed and discards it explicitly.
type StreamBuffer struct {
	data []byte
	mu   sync.Mutex
}

// NewStreamBuffer creates an empty StreamBuffer.
func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{}
}

// Write appends data to the buffer. This method implements io.Writer.
func (sb *StreamBuffer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.data = append(sb.data, p...)
	return len(p), nil
}

// Bytes returns a copy of the buffered data. The copy is safe to inspect
// without holding the lock.
func (sb *StreamBuffer) Bytes() []byte {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if len(sb.data) == 0 {
		return nil
	}
	out := make([]byte, len(sb.data))
	copy(out, sb.data)
	return out
}

// Discard drops the first n bytes from the buffer. Discarding more than
// the buffered length empties the buffer.
func (sb *StreamBuffer) Discard(n int) {
	if n <= 0 {
		return
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if n >= len(sb.data) {
		sb.data = sb.data[:0]
		return
	}
	remaining := len(sb.data) - n
	copy(sb.data, sb.data[n:])
	sb.data = sb.data[:remaining]
}

// Len returns the current number of buffered bytes.
func (sb *StreamBuffer) Len() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.data)
}

// Clear removes all data from the buffer.
func (sb *StreamBuffer) Clear() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.data = sb.data[:0]
}

package cereal

import (
	"bytes"
	"sync"
)

// buffer is the unbounded byte queue sitting between the acquisition loop and
// Read. The loop is the only appender, the facade the only consumer; the mutex
// guarantees the two never interleave mid-operation. Every append posts a token
// on notify so a waiting Read wakes immediately instead of polling.
type buffer struct {
	mu     sync.Mutex
	data   []byte
	notify chan struct{}
}

func newBuffer() *buffer {
	return &buffer{notify: make(chan struct{}, 1)}
}

// append adds b to the tail and wakes any waiting reader.
func (q *buffer) append(b []byte) {
	if len(b) == 0 {
		return
	}
	q.mu.Lock()
	q.data = append(q.data, b...)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// len returns the current byte count.
func (q *buffer) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// consume removes and returns up to n bytes from the head, fewer if fewer are
// buffered, nil if none. Never blocks.
func (q *buffer) consume(n int) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.data) {
		n = len(q.data)
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, q.data)
	q.data = q.data[:copy(q.data, q.data[n:])]
	return out
}

// peek is consume without removal.
func (q *buffer) peek(n int) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.data) {
		n = len(q.data)
	}
	if n <= 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, q.data)
	return out
}

// index returns the offset of the first occurrence of sep, or -1.
func (q *buffer) index(sep []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return bytes.Index(q.data, sep)
}

// reset discards all buffered bytes.
func (q *buffer) reset() {
	q.mu.Lock()
	q.data = q.data[:0]
	q.mu.Unlock()
}

// wakeup is the channel a reader selects on while waiting for data. A pending
// token means at least one append happened since the last receive; the reader
// must re-check length after every wake.
func (q *buffer) wakeup() <-chan struct{} {
	return q.notify
}

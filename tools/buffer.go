package tools

import (
	"io"
	"sync"
)

// PCMBuffer is a bounded byte ring for decoded PCM. Writers never block:
// when full, the oldest bytes are dropped. Read blocks until data arrives or
// the buffer is closed, which makes it usable as the reader behind an audio
// player. Clear drops everything buffered but keeps the buffer usable, which
// is what barge-in interruption needs.
type PCMBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buffer []byte
	size   int
	cap    int
	closed bool
}

func NewPCMBuffer(fixedCap int) *PCMBuffer {
	b := &PCMBuffer{
		buffer: make([]byte, 0, fixedCap),
		cap:    fixedCap,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *PCMBuffer) Write(data []byte) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	if len(data) > b.cap {
		// A single oversized write keeps only its newest bytes.
		dropped = len(data) - b.cap
		data = data[dropped:]
	}
	if b.size+len(data) > b.cap {
		drop := b.size + len(data) - b.cap
		b.buffer = b.buffer[drop:]
		b.size -= drop
		dropped += drop
	}
	b.buffer = append(b.buffer, data...)
	b.size += len(data)
	b.cond.Signal()
	return dropped
}

func (b *PCMBuffer) Read(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.size == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.size == 0 && b.closed {
		return 0, io.EOF
	}
	n = copy(p, b.buffer)
	b.buffer = b.buffer[n:]
	b.size -= n
	return n, nil
}

func (b *PCMBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Clear drops all buffered audio without closing the buffer.
func (b *PCMBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = b.buffer[:0]
	b.size = 0
}

// Close unblocks pending and future reads with io.EOF once drained.
func (b *PCMBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

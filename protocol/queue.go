package protocol

import "sync"

// FrameQueue is a bounded byte ring between frame producers and the writer
// that drains it to the port. Frames are pushed whole or not at all so a full
// queue never tears a frame.
type FrameQueue struct {
	mu    sync.Mutex
	buf   []byte
	read  int
	write int
	size  int
	ready chan struct{}
}

// NewFrameQueue creates a queue holding up to capacity-1 bytes.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < FrameMax+1 {
		capacity = FrameMax + 1
	}
	return &FrameQueue{
		buf:   make([]byte, capacity),
		size:  capacity,
		ready: make(chan struct{}, 1),
	}
}

// Push queues frame and reports whether it fit. Never blocks.
func (q *FrameQueue) Push(frame []byte) bool {
	q.mu.Lock()
	if len(frame) > q.freeLocked() {
		q.mu.Unlock()
		return false
	}
	for _, b := range frame {
		q.buf[q.write] = b
		q.write = (q.write + 1) % q.size
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop moves up to len(dst) queued bytes into dst and returns the count.
func (q *FrameQueue) Pop(dst []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(dst) && q.read != q.write {
		dst[n] = q.buf[q.read]
		q.read = (q.read + 1) % q.size
		n++
	}
	return n
}

// Ready is signalled after a push. A receive does not guarantee data is
// still queued.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

// Available returns the number of queued bytes
func (q *FrameQueue) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.availableLocked()
}

// Free returns the number of bytes that can still be queued
func (q *FrameQueue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.freeLocked()
}

// Reset drops everything queued
func (q *FrameQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.read = 0
	q.write = 0
}

func (q *FrameQueue) availableLocked() int {
	if q.write >= q.read {
		return q.write - q.read
	}
	return q.size - q.read + q.write
}

func (q *FrameQueue) freeLocked() int {
	return q.size - q.availableLocked() - 1
}

package ws

import "sync"

// RingBuffer is a fixed-size circular buffer of encoded frames.
// It is safe for concurrent use.
type RingBuffer struct {
	mu   sync.Mutex
	data [][]byte
	head int // next write position
	size int // current number of elements
	cap  int // maximum capacity
}

// NewRingBuffer creates a new ring buffer with the given capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		data: make([][]byte, capacity),
		cap:  capacity,
	}
}

// Add appends a frame, overwriting the oldest one when full
func (rb *RingBuffer) Add(msg []byte) {
	copied := make([]byte, len(msg))
	copy(copied, msg)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.head] = copied
	rb.head = (rb.head + 1) % rb.cap
	if rb.size < rb.cap {
		rb.size++
	}
}

// GetAll returns all frames in chronological order (oldest first)
func (rb *RingBuffer) GetAll() [][]byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	result := make([][]byte, rb.size)
	if rb.size < rb.cap {
		copy(result, rb.data[:rb.size])
	} else {
		// head points to the oldest element once full
		copy(result, rb.data[rb.head:])
		copy(result[rb.cap-rb.head:], rb.data[:rb.head])
	}
	return result
}

// Len returns the current number of elements
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

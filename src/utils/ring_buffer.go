package utils

import "sync"

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer. Once full, every Append
// overwrites the oldest element.
// -----------------------------------------------------------------------------

type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	index    int // Next write position
	size     int
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

func (rb *RingBuffer[T]) Append(v T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.index] = v
	rb.index = (rb.index + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns up to n newest elements, newest first.
func (rb *RingBuffer[T]) GetLatest(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.size == 0 || n <= 0 {
		return []T{}
	}
	if n > rb.size {
		n = rb.size
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		idx := (rb.index - 1 - i + rb.capacity) % rb.capacity
		result[i] = rb.data[idx]
	}
	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all data in insertion order (oldest to newest)
func (rb *RingBuffer[T]) GetAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]T, rb.size)
	start := 0
	if rb.size == rb.capacity {
		start = rb.index
	}
	for i := 0; i < rb.size; i++ {
		result[i] = rb.data[(start+i)%rb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

func (rb *RingBuffer[T]) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size == rb.capacity
}

// -----------------------------------------------------------------------------

// Clear resets the buffer
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.index = 0
	rb.size = 0
}

package audio

import (
	"sync"
)

// Ring is a fixed-capacity buffer of float32 samples. When full, Push
// overwrites the oldest samples and counts them as dropped; it never
// blocks and never allocates after construction. Capture callbacks
// push, the segmenter pump reads.
type Ring struct {
	mu      sync.Mutex
	data    []float32
	head    int // index of the oldest sample
	length  int
	dropped uint64
	pushed  uint64
}

// RingStats is a snapshot of ring buffer counters
type RingStats struct {
	Capacity int
	Length   int
	Pushed   uint64
	Dropped  uint64
}

// NewRing creates a ring buffer holding at most capacity samples
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{
		data: make([]float32, capacity),
	}
}

// Push appends frame to the ring, overwriting the oldest samples when
// the ring is full. Returns the number of samples dropped by this call.
func (r *Ring) Push(frame []float32) int {
	if len(frame) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.data)

	// A frame larger than the whole ring keeps only its tail.
	src := frame
	dropped := 0
	if len(src) > capacity {
		dropped = len(src) - capacity
		src = src[len(src)-capacity:]
	}

	tail := (r.head + r.length) % capacity
	for _, s := range src {
		r.data[tail] = s
		tail = (tail + 1) % capacity
		if r.length < capacity {
			r.length++
		} else {
			// Oldest sample overwritten, advance head.
			r.head = (r.head + 1) % capacity
			dropped++
		}
	}

	r.pushed += uint64(len(frame))
	r.dropped += uint64(dropped)
	return dropped
}

// Len returns the number of buffered samples
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// ReadWindow pops exactly n samples in arrival order. It returns nil
// when fewer than n samples are buffered.
func (r *Ring) ReadWindow(n int) []float32 {
	if n <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.length < n {
		return nil
	}
	return r.popLocked(n)
}

// DrainAll pops every buffered sample in arrival order and empties the
// ring. Returns nil when the ring is empty.
func (r *Ring) DrainAll() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.length == 0 {
		return nil
	}
	return r.popLocked(r.length)
}

func (r *Ring) popLocked(n int) []float32 {
	capacity := len(r.data)
	out := make([]float32, n)

	first := capacity - r.head
	if first > n {
		first = n
	}
	copy(out, r.data[r.head:r.head+first])
	copy(out[first:], r.data[:n-first])

	r.head = (r.head + n) % capacity
	r.length -= n
	return out
}

// Stats returns a snapshot of the ring counters
func (r *Ring) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Capacity: len(r.data),
		Length:   r.length,
		Pushed:   r.pushed,
		Dropped:  r.dropped,
	}
}

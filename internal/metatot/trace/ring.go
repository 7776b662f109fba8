package trace

import "sync"

// RingBuffer keeps the most recent traces in memory. It is the fallback when
// the durable store is unavailable.
type RingBuffer struct {
	mu       sync.RWMutex
	traces   []Trace
	byID     map[string]int
	capacity int
	next     int
	full     bool
}

// NewRingBuffer creates a buffer holding up to capacity traces. Capacity
// values below 1 default to 64.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 64
	}
	return &RingBuffer{
		traces:   make([]Trace, capacity),
		byID:     make(map[string]int, capacity),
		capacity: capacity,
	}
}

// Put stores a trace, evicting the oldest entry when full.
func (r *RingBuffer) Put(t Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Overwrite in place when the ID is already buffered.
	if idx, ok := r.byID[t.ID]; ok {
		r.traces[idx] = t
		return
	}

	evicted := r.traces[r.next]
	if r.full && evicted.ID != "" {
		delete(r.byID, evicted.ID)
	}

	r.traces[r.next] = t
	r.byID[t.ID] = r.next

	r.next++
	if r.next == r.capacity {
		r.next = 0
		r.full = true
	}
}

// Get returns a buffered trace by ID.
func (r *RingBuffer) Get(traceID string) (*Trace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byID[traceID]
	if !ok {
		return nil, false
	}
	t := r.traces[idx]
	return &t, true
}

// Recent returns up to n traces, newest first.
func (r *RingBuffer) Recent(n int) []Trace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = r.capacity
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Trace, 0, n)
	for i := 0; i < n; i++ {
		idx := r.next - 1 - i
		if idx < 0 {
			idx += r.capacity
		}
		out = append(out, r.traces[idx])
	}
	return out
}

// Len returns the number of buffered traces.
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return r.capacity
	}
	return r.next
}

package sequence

// RollingBuffer is a bounded FIFO of descriptors. Once full, each push
// discards the oldest descriptor. It is single-owner and does no locking.
type RollingBuffer struct {
	items [][]float64
	head  int
	size  int
}

// NewRollingBuffer returns an empty buffer holding at most capacity descriptors.
// Capacities below 1 are treated as 1.
func NewRollingBuffer(capacity int) *RollingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingBuffer{items: make([][]float64, capacity)}
}

// Push appends a descriptor, evicting the oldest when full. nil is ignored.
func (b *RollingBuffer) Push(d []float64) {
	if d == nil {
		return
	}

	tail := (b.head + b.size) % len(b.items)
	b.items[tail] = d
	if b.size < len(b.items) {
		b.size++
		return
	}
	b.head = (b.head + 1) % len(b.items)
}

// Len returns the number of buffered descriptors.
func (b *RollingBuffer) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *RollingBuffer) Cap() int {
	return len(b.items)
}

// Full reports whether the buffer holds Cap descriptors.
func (b *RollingBuffer) Full() bool {
	return b.size == len(b.items)
}

// Snapshot returns a copy of the buffered descriptors, oldest first.
func (b *RollingBuffer) Snapshot() Sequence {
	out := make(Sequence, b.size)
	for i := 0; i < b.size; i++ {
		d := b.items[(b.head+i)%len(b.items)]
		out[i] = append([]float64(nil), d...)
	}
	return out
}

// Reset empties the buffer.
func (b *RollingBuffer) Reset() {
	for i := range b.items {
		b.items[i] = nil
	}
	b.head = 0
	b.size = 0
}

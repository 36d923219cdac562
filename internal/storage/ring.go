// internal/storage/ring.go
package storage

import "lostwheel-gateway/internal/data"

// ring is fixed-capacity sample storage that compacts instead of wrapping.
// When full, the newest keep entries are moved to the front before the
// next write, so storage[0:filled] is always in arrival order.
type ring struct {
	storage []data.Sample
	filled  int
	keep    int
}

func newRing(capacity, keep int) ring {
	return ring{
		storage: make([]data.Sample, capacity),
		keep:    keep,
	}
}

func (r *ring) push(s data.Sample) {
	if r.filled == len(r.storage) {
		r.compact()
	}
	r.storage[r.filled] = s
	r.filled++
}

func (r *ring) compact() {
	copy(r.storage, r.storage[r.filled-r.keep:r.filled])
	clear(r.storage[r.keep:r.filled])
	r.filled = r.keep
}

// tail returns the newest n stored entries (fewer if not yet filled).
func (r *ring) tail(n int) []data.Sample {
	start := r.filled - n
	if start < 0 {
		start = 0
	}
	return r.storage[start:r.filled:r.filled]
}

func (r *ring) reset() {
	clear(r.storage[:r.filled])
	r.filled = 0
}

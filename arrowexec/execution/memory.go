package execution

import (
	"sync/atomic"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

// MemoryTracker accounts for memory held by operator build phases.
// A nil tracker or a zero limit means unlimited.
type MemoryTracker struct {
	limit int64
	inUse atomic.Int64
	peak  atomic.Int64
}

func NewMemoryTracker(limit int64) *MemoryTracker {
	return &MemoryTracker{limit: limit}
}

func (m *MemoryTracker) Reserve(bytes int64) error {
	if m == nil {
		return nil
	}
	for {
		current := m.inUse.Load()
		next := current + bytes
		if m.limit > 0 && next > m.limit {
			return errors.Wrapf(octoframe.ErrResourceExhausted, "couldn't reserve %d bytes, %d of %d in use", bytes, current, m.limit)
		}
		if m.inUse.CompareAndSwap(current, next) {
			for {
				peak := m.peak.Load()
				if next <= peak || m.peak.CompareAndSwap(peak, next) {
					break
				}
			}
			return nil
		}
	}
}

func (m *MemoryTracker) Release(bytes int64) {
	if m == nil {
		return
	}
	m.inUse.Add(-bytes)
}

func (m *MemoryTracker) InUse() int64 {
	if m == nil {
		return 0
	}
	return m.inUse.Load()
}

func (m *MemoryTracker) Peak() int64 {
	if m == nil {
		return 0
	}
	return m.peak.Load()
}

func (m *MemoryTracker) Limit() int64 {
	if m == nil {
		return 0
	}
	return m.limit
}

// Reservation tracks everything one operator reserved, so it can all be released at once.
type Reservation struct {
	tracker *MemoryTracker
	bytes   int64
}

func (m *MemoryTracker) NewReservation() *Reservation {
	return &Reservation{tracker: m}
}

func (r *Reservation) Grow(bytes int64) error {
	if err := r.tracker.Reserve(bytes); err != nil {
		return err
	}
	r.bytes += bytes
	return nil
}

func (r *Reservation) Size() int64 {
	return r.bytes
}

// Close releases the whole reservation. It's safe to call more than once.
func (r *Reservation) Close() {
	r.tracker.Release(r.bytes)
	r.bytes = 0
}

package stats

import (
	"math"
	"sync/atomic"

	mentorerrors "github.com/arkilian/planmentor/internal/errors"
)

// MaxRefCount is the largest count a RefCount may hold. Anything at or above
// math.MaxUint32-1 means the bookkeeping has gone wrong somewhere.
const MaxRefCount = math.MaxUint32 - 2

// RefCount is a saturating counter of live statement handles. It never wraps:
// a decrement below zero clamps to zero and an increment past MaxRefCount
// clamps to MaxRefCount, and both report a consistency fault.
type RefCount struct {
	n atomic.Uint32
}

// Load returns the current count.
func (r *RefCount) Load() uint32 {
	return r.n.Load()
}

// Store overwrites the count. Values above MaxRefCount are clamped.
func (r *RefCount) Store(v uint32) {
	if v > MaxRefCount {
		v = MaxRefCount
	}
	r.n.Store(v)
}

// Add increments the count by delta and returns the new value.
func (r *RefCount) Add(delta uint32) (uint32, error) {
	for {
		cur := r.n.Load()
		next := uint64(cur) + uint64(delta)
		var err error
		if next > MaxRefCount {
			next = MaxRefCount
			err = mentorerrors.ErrRefcountOverflow
		}
		if r.n.CompareAndSwap(cur, uint32(next)) {
			return uint32(next), err
		}
	}
}

// Sub decrements the count by delta and returns the new value.
func (r *RefCount) Sub(delta uint32) (uint32, error) {
	for {
		cur := r.n.Load()
		var (
			next uint32
			err  error
		)
		if delta > cur {
			err = mentorerrors.ErrRefcountUnderflow
		} else {
			next = cur - delta
		}
		if r.n.CompareAndSwap(cur, next) {
			return next, err
		}
	}
}

// Inc is Add(1).
func (r *RefCount) Inc() (uint32, error) {
	return r.Add(1)
}

// Dec is Sub(1).
func (r *RefCount) Dec() (uint32, error) {
	return r.Sub(1)
}

// Package epoch implements the generation counter that tells workers that
// some shared decision changed. There is no per-entry invalidation message:
// a worker that sees a newer generation re-syncs everything it holds.
package epoch

import "sync/atomic"

// Epoch is the shared monotonic generation counter. It starts at 1 so that
// a zero Cursor is always stale.
type Epoch struct {
	v atomic.Uint64
}

// New returns an epoch initialized to generation 1.
func New() *Epoch {
	e := &Epoch{}
	e.v.Store(1)
	return e
}

// Bump advances the generation and returns the new value. Call it once per
// externally visible decision change.
func (e *Epoch) Bump() uint64 {
	return e.v.Add(1)
}

// Load returns the current generation.
func (e *Epoch) Load() uint64 {
	return e.v.Load()
}

// Cursor is a worker's last applied generation. It is private to one worker
// and not safe for concurrent use.
type Cursor struct {
	applied uint64
}

// Stale reads the shared generation and reports whether it differs from the
// last applied one. The observed value is returned so the caller can Advance
// to exactly what it synced against.
func (c *Cursor) Stale(e *Epoch) (uint64, bool) {
	observed := e.Load()
	return observed, observed != c.applied
}

// Advance records observed as applied. It never moves backwards.
func (c *Cursor) Advance(observed uint64) {
	if observed > c.applied {
		c.applied = observed
	}
}

// Applied returns the last applied generation (0 = never synced).
func (c *Cursor) Applied() uint64 {
	return c.applied
}

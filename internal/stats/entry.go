package stats

import (
	"sync"
	"time"

	"github.com/arkilian/planmentor/pkg/types"
)

// NoReference marks an absent reference or plan time.
const NoReference = -1.0

// Entry is the shared record for one fingerprint. All fields except
// Fingerprint and Refs must be accessed with the entry locked, which the
// Table accessors do on the caller's behalf.
type Entry struct {
	mu       sync.Mutex
	detached bool

	// Fingerprint is immutable once inserted.
	Fingerprint types.Fingerprint

	// Refs counts live statement handles across all workers.
	Refs RefCount

	Mode  types.Mode
	Fixed bool

	Since    time.Time
	LastUsed time.Time

	// RefExecTime and RefIOCost are the aggregates recorded at the last mode
	// switch, or NoReference.
	RefExecTime float64
	RefIOCost   float64

	// PlanTime is the last observed planning duration in milliseconds, or
	// NoReference.
	PlanTime float64

	Ring Ring
}

func newEntry(fp types.Fingerprint, capacity int, now time.Time) *Entry {
	return &Entry{
		Fingerprint: fp,
		Mode:        types.ModeAuto,
		Since:       now,
		LastUsed:    now,
		RefExecTime: NoReference,
		RefIOCost:   NoReference,
		PlanTime:    NoReference,
		Ring:        NewRing(capacity),
	}
}

// HasReference reports whether a switch baseline has been recorded.
func (e *Entry) HasReference() bool {
	return e.RefExecTime > 0
}

// HasPlanTime reports whether a planning duration has been observed.
func (e *Entry) HasPlanTime() bool {
	return e.PlanTime >= 0
}

// Executed reports whether any sample has been recorded since the last reset.
func (e *Entry) Executed() bool {
	return e.Ring.Len() > 0
}

// Touch marks the entry as used.
func (e *Entry) Touch(now time.Time) {
	e.LastUsed = now
}

// ResetDecision returns the entry to AUTO with no pin, references or
// samples. Refs, Since and PlanTime are kept. It reports whether the mode was
// something other than AUTO.
func (e *Entry) ResetDecision() bool {
	changed := e.Mode != types.ModeAuto
	e.Mode = types.ModeAuto
	e.Fixed = false
	e.RefExecTime = NoReference
	e.RefIOCost = NoReference
	e.Ring.Reset()
	return changed
}

// Snapshot is a point-in-time copy of an entry for observability.
type Snapshot struct {
	Fingerprint types.Fingerprint `json:"fingerprint"`
	Refcount    uint32            `json:"refcount"`
	Mode        types.Mode        `json:"mode"`
	Since       time.Time         `json:"since"`
	LastUsed    time.Time         `json:"last_used"`
	Fixed       bool              `json:"fixed"`
	Samples     int               `json:"samples"`
	IOCosts     []int64           `json:"io_costs,omitempty"`
	ExecTimes   []float64         `json:"exec_times,omitempty"`
	AvgIOCost   *float64          `json:"avg_io_cost,omitempty"`
	AvgExecTime *float64          `json:"avg_exec_time,omitempty"`
	RefIOCost   *float64          `json:"ref_io_cost,omitempty"`
	RefExecTime *float64          `json:"ref_exec_time,omitempty"`
	PlanTime    *float64          `json:"plan_time,omitempty"`
}

// Snapshot copies the entry. The caller must hold the entry lock.
func (e *Entry) Snapshot() Snapshot {
	s := Snapshot{
		Fingerprint: e.Fingerprint,
		Refcount:    e.Refs.Load(),
		Mode:        e.Mode,
		Since:       e.Since,
		LastUsed:    e.LastUsed,
		Fixed:       e.Fixed,
		Samples:     e.Ring.Len(),
	}
	if s.Samples > 0 {
		s.IOCosts, s.ExecTimes = e.Ring.Samples()
		s.AvgIOCost = float64Ptr(e.Ring.AvgIO())
		s.AvgExecTime = float64Ptr(e.Ring.AvgTime())
	}
	if e.RefIOCost > 0 {
		s.RefIOCost = float64Ptr(e.RefIOCost)
	}
	if e.RefExecTime > 0 {
		s.RefExecTime = float64Ptr(e.RefExecTime)
	}
	if e.PlanTime >= 0 {
		s.PlanTime = float64Ptr(e.PlanTime)
	}
	return s
}

func float64Ptr(v float64) *float64 {
	return &v
}

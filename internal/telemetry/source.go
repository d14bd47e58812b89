// Package telemetry reads historical per-fingerprint call statistics from a
// read-only external source. The advisor treats these as optional: a
// missing or failing source only means decisions fall back to the entry's
// own samples.
package telemetry

import (
	"context"
	"sync"

	"github.com/arkilian/planmentor/pkg/types"
)

// Stats are the aggregates reported for one fingerprint. Times are in
// milliseconds.
type Stats struct {
	Calls         int64   `json:"calls"`
	MinExecTime   float64 `json:"min_exec_time"`
	MeanExecTime  float64 `json:"mean_exec_time"`
	MaxExecTime   float64 `json:"max_exec_time"`
	TotalExecTime float64 `json:"total_exec_time"`
	TotalPlanTime float64 `json:"total_plan_time"`
}

// MeanPlanTime returns the average planning time per call, or 0.
func (s Stats) MeanPlanTime() float64 {
	if s.Calls <= 0 {
		return 0
	}
	return s.TotalPlanTime / float64(s.Calls)
}

// Source looks up statistics by fingerprint. found is false when the source
// has never seen the fingerprint.
type Source interface {
	Lookup(ctx context.Context, fp types.Fingerprint) (s Stats, found bool, err error)
}

// MapSource is an in-memory Source.
type MapSource struct {
	mu    sync.RWMutex
	stats map[types.Fingerprint]Stats
}

// NewMapSource creates an empty MapSource.
func NewMapSource() *MapSource {
	return &MapSource{stats: make(map[types.Fingerprint]Stats)}
}

// Set stores the statistics for fp.
func (m *MapSource) Set(fp types.Fingerprint, s Stats) {
	m.mu.Lock()
	m.stats[fp] = s
	m.mu.Unlock()
}

// Lookup implements Source.
func (m *MapSource) Lookup(_ context.Context, fp types.Fingerprint) (Stats, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[fp]
	return s, ok, nil
}

// Package observability tracks how often each heuristic rule and operator
// action changes plan cache modes.
package observability

import (
	"sort"
	"sync"
	"time"
)

// ManualSource is the source recorded for operator overrides.
const ManualSource = "set_mode"

// SourceStats holds the decisions attributed to one rule or action.
// Transitions counts "from->to" mode pairs and Scopes counts decisions per
// scope.
type SourceStats struct {
	Source      string         `json:"source"`
	Frequency   int64          `json:"frequency"`
	LastSeen    time.Time      `json:"last_seen"`
	Transitions map[string]int `json:"transitions"`
	Scopes      map[string]int `json:"scopes"`
}

// DecisionStats is a concurrency-safe tally of mode decisions. Entries not
// seen within the window are dropped by Prune.
type DecisionStats struct {
	mu      sync.RWMutex
	sources map[string]*SourceStats
	window  time.Duration
	clock   func() time.Time
}

// NewDecisionStats creates a tracker. window <= 0 keeps entries forever.
func NewDecisionStats(window time.Duration) *DecisionStats {
	return &DecisionStats{
		sources: make(map[string]*SourceStats),
		window:  window,
		clock:   time.Now,
	}
}

// Record counts one decision by source in scope.
func (d *DecisionStats) Record(source, scope, from, to string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sources[source]
	if !ok {
		s = &SourceStats{
			Source:      source,
			Transitions: make(map[string]int),
			Scopes:      make(map[string]int),
		}
		d.sources[source] = s
	}
	s.Frequency++
	s.LastSeen = d.clock()
	s.Transitions[from+"->"+to]++
	s.Scopes[scope]++
}

// Top returns copies of the n most frequent sources, most frequent first.
// Ties are ordered by source name.
func (d *DecisionStats) Top(n int) []SourceStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n <= 0 || len(d.sources) == 0 {
		return []SourceStats{}
	}

	out := make([]SourceStats, 0, len(d.sources))
	for _, s := range d.sources {
		out = append(out, SourceStats{
			Source:      s.Source,
			Frequency:   s.Frequency,
			LastSeen:    s.LastSeen,
			Transitions: copyCounts(s.Transitions),
			Scopes:      copyCounts(s.Scopes),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Source < out[j].Source
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes sources not seen within the window and returns how many
// were removed.
func (d *DecisionStats) Prune() int {
	if d.window <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	threshold := d.clock().Add(-d.window)
	removed := 0
	for name, s := range d.sources {
		if s.LastSeen.Before(threshold) {
			delete(d.sources, name)
			removed++
		}
	}
	return removed
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package automode meters statements that are left in AUTO mode and tells
// the engine when its own cached generic/custom cost estimates contradict
// what executions actually cost.
//
// Meterings are private to one worker. Generic and custom executions are
// accumulated separately; once both kinds are present and their total
// reaches MinMeterings the comparison is made, and totals restart at
// MaxMeterings so the sample follows workload drift.
package automode

import (
	"sync"

	"github.com/arkilian/planmentor/internal/engine"
	"github.com/arkilian/planmentor/pkg/types"
)

const (
	DefaultMinMeterings = 100
	DefaultMaxMeterings = 1000
)

// Config bounds the metering window.
type Config struct {
	MinMeterings int
	MaxMeterings int
}

// DefaultConfig returns the default window.
func DefaultConfig() Config {
	return Config{
		MinMeterings: DefaultMinMeterings,
		MaxMeterings: DefaultMaxMeterings,
	}
}

type metering struct {
	genericIO   int64
	genericTime float64
	generic     int

	customIO   int64
	customTime float64
	custom     int

	planTime float64
	plans    int

	attempts int
}

func (m *metering) reset() {
	attempts := m.attempts
	*m = metering{attempts: attempts}
}

func (m *metering) total() int {
	if m.generic == 0 || m.custom == 0 {
		return 0
	}
	return m.generic + m.custom
}

// Meter holds the meterings of one worker.
type Meter struct {
	mu      sync.Mutex
	cfg     Config
	entries map[types.Fingerprint]*metering
}

// New creates a meter. Zero config fields take defaults.
func New(cfg Config) *Meter {
	if cfg.MinMeterings <= 0 {
		cfg.MinMeterings = DefaultMinMeterings
	}
	if cfg.MaxMeterings < cfg.MinMeterings {
		cfg.MaxMeterings = DefaultMaxMeterings
		if cfg.MaxMeterings < cfg.MinMeterings {
			cfg.MaxMeterings = cfg.MinMeterings
		}
	}
	return &Meter{cfg: cfg, entries: make(map[types.Fingerprint]*metering)}
}

// Track starts metering fp. Tracking an already tracked fingerprint is a no-op.
func (m *Meter) Track(fp types.Fingerprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[fp]; !ok {
		m.entries[fp] = &metering{}
	}
}

// Untrack forgets fp.
func (m *Meter) Untrack(fp types.Fingerprint) {
	m.mu.Lock()
	delete(m.entries, fp)
	m.mu.Unlock()
}

// Clear forgets everything.
func (m *Meter) Clear() {
	m.mu.Lock()
	m.entries = make(map[types.Fingerprint]*metering)
	m.mu.Unlock()
}

// RecordPlan adds one planning duration in milliseconds.
func (m *Meter) RecordPlan(fp types.Fingerprint, ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[fp]; ok {
		e.planTime += ms
		e.plans++
	}
}

// RecordExecution adds one execution. Totals restart once MaxMeterings is
// reached.
func (m *Meter) RecordExecution(fp types.Fingerprint, generic bool, io int64, ms float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fp]
	if !ok {
		return
	}
	if e.total() >= m.cfg.MaxMeterings {
		e.reset()
	}
	if generic {
		e.genericIO += io
		e.genericTime += ms
		e.generic++
	} else {
		e.customIO += io
		e.customTime += ms
		e.custom++
	}
}

// Ready reports whether fp has enough meterings of both kinds to compare.
func (m *Meter) Ready(fp types.Fingerprint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fp]
	return ok && e.total() >= m.cfg.MinMeterings
}

// Attempts returns how many times fp was found to need a cost reset.
func (m *Meter) Attempts(fp types.Fingerprint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[fp]; ok {
		return e.attempts
	}
	return 0
}

// NeedsReset compares the engine's estimates with the metered costs. The
// estimates are contradicted when the side the engine thinks is more
// expensive actually dominates on both I/O (weighted by planning overhead)
// and execution time.
func (m *Meter) NeedsReset(fp types.Fingerprint, genericCost, avgCustomCost float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[fp]
	if !ok || e.generic == 0 || e.custom == 0 {
		return false
	}

	avgGenericIO := float64(e.genericIO) / float64(e.generic)
	avgCustomIO := float64(e.customIO) / float64(e.custom)
	avgGenericTime := e.genericTime / float64(e.generic)
	avgCustomTime := e.customTime / float64(e.custom)

	var planWeight float64
	if e.plans > 0 && avgCustomTime > 0 {
		planWeight = (e.planTime / float64(e.plans)) / avgCustomTime
	}
	threshold := avgCustomIO * (1 + planWeight)

	genericDominates := avgGenericIO < threshold && avgGenericTime < avgCustomTime
	customDominates := avgGenericIO > threshold && avgGenericTime > avgCustomTime

	if (genericCost > avgCustomCost && genericDominates) ||
		(genericCost < avgCustomCost && customDominates) {
		e.attempts++
		return true
	}
	return false
}

// Review checks every statement of fp once the meter is ready and resets
// the engine's estimates where they are contradicted. It returns the number
// of statements reset.
func (m *Meter) Review(fp types.Fingerprint, stmts []engine.Statement, cr engine.CostResetter) int {
	if cr == nil || !m.Ready(fp) {
		return 0
	}
	n := 0
	for _, s := range stmts {
		if s.Fingerprint() != fp {
			continue
		}
		generic, avgCustom, ok := cr.PlanCosts(s)
		if !ok {
			continue
		}
		if m.NeedsReset(fp, generic, avgCustom) {
			cr.ResetPlanCosts(s)
			n++
		}
	}
	return n
}

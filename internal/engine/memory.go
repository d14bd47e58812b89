package engine

import (
	"sort"
	"sync"

	"github.com/arkilian/planmentor/pkg/types"
)

// minCustomPlans is how many custom plans MemEngine wants before it reports
// comparable plan costs.
const minCustomPlans = 5

// MemEngine is an in-memory Engine for embedding and tests. It tracks named
// prepared statements and the plan cost estimates a planner would keep.
type MemEngine struct {
	mu          sync.Mutex
	stmts       map[string]*MemStatement
	defaultMode types.Mode
}

// NewMemEngine creates an engine whose statements start in defaultMode.
func NewMemEngine(defaultMode types.Mode) *MemEngine {
	if !defaultMode.Valid() {
		defaultMode = types.ModeAuto
	}
	return &MemEngine{
		stmts:       make(map[string]*MemStatement),
		defaultMode: defaultMode,
	}
}

// Prepare registers a named statement. Re-preparing a name replaces it.
func (m *MemEngine) Prepare(name string, fp types.Fingerprint) *MemStatement {
	s := &MemStatement{name: name, fp: fp, mode: m.defaultMode}
	m.mu.Lock()
	m.stmts[name] = s
	m.mu.Unlock()
	return s
}

// PrepareQuery registers a named statement fingerprinted from its text.
func (m *MemEngine) PrepareQuery(name, query string) *MemStatement {
	return m.Prepare(name, types.FingerprintOf(query))
}

// Lookup returns a statement by name.
func (m *MemEngine) Lookup(name string) (*MemStatement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stmts[name]
	return s, ok
}

// Deallocate removes a named statement and returns it.
func (m *MemEngine) Deallocate(name string) (*MemStatement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stmts[name]
	if ok {
		delete(m.stmts, name)
	}
	return s, ok
}

// DeallocateAll removes every statement and returns them.
func (m *MemEngine) DeallocateAll() []*MemStatement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MemStatement, 0, len(m.stmts))
	for _, s := range m.stmts {
		out = append(out, s)
	}
	m.stmts = make(map[string]*MemStatement)
	return out
}

// LiveStatements implements Engine, in name order.
func (m *MemEngine) LiveStatements() []Statement {
	m.mu.Lock()
	names := make([]string, 0, len(m.stmts))
	for n := range m.stmts {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Statement, 0, len(names))
	for _, n := range names {
		out = append(out, m.stmts[n])
	}
	m.mu.Unlock()
	return out
}

// PlanCosts implements CostResetter.
func (m *MemEngine) PlanCosts(s Statement) (float64, float64, bool) {
	ms, ok := s.(*MemStatement)
	if !ok {
		return 0, 0, false
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.mode != types.ModeAuto || ms.numCustom <= minCustomPlans || ms.genericCost <= 0 {
		return 0, 0, false
	}
	return ms.genericCost, ms.totalCustomCost / float64(ms.numCustom), true
}

// ResetPlanCosts implements CostResetter.
func (m *MemEngine) ResetPlanCosts(s Statement) {
	ms, ok := s.(*MemStatement)
	if !ok {
		return
	}
	ms.mu.Lock()
	ms.genericCost = 0
	ms.totalCustomCost = 0
	ms.numCustom = 0
	ms.resets++
	ms.mu.Unlock()
}

// MemStatement is a MemEngine statement handle.
type MemStatement struct {
	name string
	fp   types.Fingerprint

	mu              sync.Mutex
	mode            types.Mode
	applies         int
	genericCost     float64
	totalCustomCost float64
	numCustom       int
	resets          int
}

// Name returns the prepared statement name.
func (s *MemStatement) Name() string { return s.name }

// Fingerprint implements Statement.
func (s *MemStatement) Fingerprint() types.Fingerprint { return s.fp }

// PlanMode implements Statement.
func (s *MemStatement) PlanMode() types.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetPlanMode implements Statement.
func (s *MemStatement) SetPlanMode(m types.Mode) {
	s.mu.Lock()
	s.mode = m
	s.applies++
	s.mu.Unlock()
}

// Applies counts SetPlanMode calls.
func (s *MemStatement) Applies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applies
}

// SetGenericCost records the planner's estimate for the generic plan.
func (s *MemStatement) SetGenericCost(cost float64) {
	s.mu.Lock()
	s.genericCost = cost
	s.mu.Unlock()
}

// AddCustomPlan records the planner's estimate for one custom plan.
func (s *MemStatement) AddCustomPlan(cost float64) {
	s.mu.Lock()
	s.totalCustomCost += cost
	s.numCustom++
	s.mu.Unlock()
}

// CostResets counts ResetPlanCosts calls.
func (s *MemStatement) CostResets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Package heuristic decides plan cache mode transitions. The decision is an
// ordered list of rules; the first rule whose source mode and guard match
// wins. Rules only read an Input, so they can be tested without a table or a
// telemetry source.
package heuristic

import (
	"github.com/arkilian/planmentor/internal/stats"
	"github.com/arkilian/planmentor/pkg/types"
)

// Thresholds tune the rules.
type Thresholds struct {
	// StableCV is the largest I/O coefficient of variation considered
	// stable (default 0.3).
	StableCV float64 `json:"stable_cv" yaml:"stable_cv"`
	// UnstableCV is the I/O coefficient of variation above which the cost
	// is considered unstable (default 0.5).
	UnstableCV float64 `json:"unstable_cv" yaml:"unstable_cv"`
	// RegressionFactor bounds growth relative to a baseline (default 2.0).
	RegressionFactor float64 `json:"regression_factor" yaml:"regression_factor"`
	// PinOnRevert pins entries switched from custom back to generic.
	PinOnRevert bool `json:"pin_on_revert" yaml:"pin_on_revert"`
}

// DefaultThresholds returns the default tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StableCV:         0.3,
		UnstableCV:       0.5,
		RegressionFactor: 2.0,
	}
}

// Rule is one guarded transition.
type Rule struct {
	Name  string
	From  types.Mode
	To    types.Mode
	Pin   bool
	Guard func(in Input, th Thresholds) bool
}

// Decision is the outcome of a matching rule.
type Decision struct {
	Rule        string
	From        types.Mode
	To          types.Mode
	Fixed       bool
	RefExecTime float64
	RefIOCost   float64
}

// Apply writes the decision into the entry. The caller must hold the entry
// lock.
func (d Decision) Apply(e *stats.Entry) {
	e.Mode = d.To
	e.Fixed = d.Fixed
	e.RefExecTime = d.RefExecTime
	e.RefIOCost = d.RefIOCost
}

// Rules is an ordered rule list with its thresholds.
type Rules struct {
	th   Thresholds
	list []Rule
}

// New builds the standard rule list. Zero thresholds take defaults.
func New(th Thresholds) *Rules {
	def := DefaultThresholds()
	if th.StableCV <= 0 {
		th.StableCV = def.StableCV
	}
	if th.UnstableCV <= 0 {
		th.UnstableCV = def.UnstableCV
	}
	if th.RegressionFactor <= 0 {
		th.RegressionFactor = def.RegressionFactor
	}
	return &Rules{
		th: th,
		list: []Rule{
			{
				Name:  "planning-dominated",
				From:  types.ModeAuto,
				To:    types.ModeForceGeneric,
				Guard: planningDominated,
			},
			{
				Name:  "generic-regressed",
				From:  types.ModeForceGeneric,
				To:    types.ModeForceCustom,
				Pin:   true,
				Guard: genericRegressed,
			},
			{
				Name:  "unstable-cost",
				From:  types.ModeAuto,
				To:    types.ModeForceCustom,
				Guard: unstableCost,
			},
			{
				Name:  "custom-not-paying",
				From:  types.ModeForceCustom,
				To:    types.ModeForceGeneric,
				Pin:   th.PinOnRevert,
				Guard: customNotPaying,
			},
		},
	}
}

// NewFromList builds a rule set from an explicit list, in priority order.
func NewFromList(th Thresholds, list []Rule) *Rules {
	return &Rules{th: th, list: append([]Rule(nil), list...)}
}

// Thresholds returns the tuning in use.
func (r *Rules) Thresholds() Thresholds {
	return r.th
}

// List returns the rules in priority order.
func (r *Rules) List() []Rule {
	return append([]Rule(nil), r.list...)
}

// Evaluate returns the first matching rule's decision. ok is false when no
// rule matches or the entry is pinned. A non-nil error means the input could
// not be evaluated and the entry should be skipped for this pass.
func (r *Rules) Evaluate(in Input) (d Decision, ok bool, err error) {
	if in.Fixed {
		return Decision{}, false, nil
	}
	if err := in.Check(); err != nil {
		return Decision{}, false, err
	}
	for _, rule := range r.list {
		if rule.From != in.Mode || !rule.Guard(in, r.th) {
			continue
		}
		return Decision{
			Rule:        rule.Name,
			From:        rule.From,
			To:          rule.To,
			Fixed:       rule.Pin,
			RefExecTime: in.referenceTime(),
			RefIOCost:   in.AvgIO,
		}, true, nil
	}
	return Decision{}, false, nil
}

// planningDominated: executions are cheaper than planning and the cost is
// stable, so one generic plan serves.
func planningDominated(in Input, th Thresholds) bool {
	return !in.HasReference() &&
		in.AvgTime < in.PlanTime &&
		in.CV() <= th.StableCV
}

// genericRegressed: since switching to generic, execution time has grown
// past the baseline factor (or is still close to the planning cost) while
// I/O grew.
func genericRegressed(in Input, th Thresholds) bool {
	if !in.HasReference() || in.RefIO <= 0 {
		return false
	}
	grown := in.AvgTime > in.RefTime*th.RegressionFactor ||
		in.AvgTime < in.PlanTime*th.RegressionFactor
	return grown && in.AvgIO/in.RefIO > 1.0
}

// unstableCost: executions dominate planning and vary widely.
func unstableCost(in Input, th Thresholds) bool {
	return !in.HasReference() &&
		in.AvgTime > in.PlanTime &&
		in.CV() > th.UnstableCV
}

// customNotPaying: the custom baseline has not been beaten by the factor
// and the cost became stable.
func customNotPaying(in Input, th Thresholds) bool {
	if !in.HasReference() {
		return false
	}
	acceptable := in.AvgTime < in.PlanTime*th.RegressionFactor ||
		in.RefIO/in.AvgIO < th.RegressionFactor
	return acceptable && in.CV() <= th.StableCV
}

package heuristic

import (
	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/internal/stats"
	"github.com/arkilian/planmentor/pkg/types"
)

// Input is everything the rules look at for one fingerprint. Times are in
// milliseconds, I/O in blocks.
type Input struct {
	Fingerprint types.Fingerprint
	Mode        types.Mode
	Fixed       bool

	Samples  int
	AvgIO    float64
	StdDevIO float64
	AvgTime  float64

	// PlanTime is the last planning duration, negative when unknown.
	PlanTime float64

	// RefTime and RefIO are the baselines recorded at the last switch,
	// non-positive when absent.
	RefTime float64
	RefIO   float64

	// ExternalMeanTime is the mean execution time reported by an external
	// telemetry source, zero when there is none.
	ExternalMeanTime float64
}

// NewInput reads the entry's current state. The caller must hold the entry
// lock.
func NewInput(e *stats.Entry) Input {
	return Input{
		Fingerprint: e.Fingerprint,
		Mode:        e.Mode,
		Fixed:       e.Fixed,
		Samples:     e.Ring.Len(),
		AvgIO:       e.Ring.AvgIO(),
		StdDevIO:    e.Ring.StdDevIO(),
		AvgTime:     e.Ring.AvgTime(),
		PlanTime:    e.PlanTime,
		RefTime:     e.RefExecTime,
		RefIO:       e.RefIOCost,
	}
}

// WithExternal folds external aggregates into the input. meanPlanTime only
// fills in a missing local plan time.
func (in Input) WithExternal(meanExecTime, meanPlanTime float64) Input {
	if meanExecTime > 0 {
		in.ExternalMeanTime = meanExecTime
	}
	if in.PlanTime < 0 && meanPlanTime > 0 {
		in.PlanTime = meanPlanTime
	}
	return in
}

// HasReference reports whether a switch baseline exists.
func (in Input) HasReference() bool {
	return in.RefTime > 0
}

// CV is the coefficient of variation of the I/O cost.
func (in Input) CV() float64 {
	return in.StdDevIO / in.AvgIO
}

// Check reports why the input cannot be evaluated, if it cannot.
func (in Input) Check() error {
	if in.Samples <= 1 {
		return mentorerrors.NewArithmeticError(mentorerrors.CodeInsufficientSamples,
			"not enough samples to estimate variation").
			WithDetails(map[string]interface{}{
				"fingerprint": in.Fingerprint.String(),
				"samples":     in.Samples,
			})
	}
	if in.AvgIO <= 0 {
		return mentorerrors.ErrZeroDenominator
	}
	if in.PlanTime < 0 {
		return mentorerrors.NewArithmeticError(mentorerrors.CodeInsufficientSamples,
			"no planning time observed").
			WithDetails(map[string]interface{}{"fingerprint": in.Fingerprint.String()})
	}
	return nil
}

// referenceTime is the execution time to record as the new baseline.
func (in Input) referenceTime() float64 {
	if in.ExternalMeanTime > 0 {
		return in.ExternalMeanTime
	}
	return in.AvgTime
}

// Package engine defines what planmentor needs from the host query engine.
// Statement handles never point into the shared table; they only carry a
// fingerprint, and the table is looked up by value on every access.
package engine

import "github.com/arkilian/planmentor/pkg/types"

// Statement is a live prepared statement handle in one worker.
type Statement interface {
	// Fingerprint returns the statement's query fingerprint, or
	// types.InvalidFingerprint if none is assigned yet.
	Fingerprint() types.Fingerprint
	// PlanMode reads the engine's per-statement plan cache mode.
	PlanMode() types.Mode
	// SetPlanMode sets the per-statement plan cache mode. It must be cheap
	// and idempotent.
	SetPlanMode(types.Mode)
}

// Engine exposes the statements a worker currently holds.
type Engine interface {
	LiveStatements() []Statement
}

// CostResetter is implemented by engines that keep their own generic vs
// custom cost estimates for statements in AUTO mode.
type CostResetter interface {
	// PlanCosts returns the cached generic plan cost and the average custom
	// plan cost. ok is false when the statement is forced into a mode or the
	// engine has not built enough plans to compare.
	PlanCosts(s Statement) (generic, avgCustom float64, ok bool)
	// ResetPlanCosts forgets the cached estimates so the engine re-probes.
	ResetPlanCosts(s Statement)
}

// Usage is the buffer usage of one execution.
type Usage struct {
	SharedHit  int64
	SharedRead int64
	LocalHit   int64
	LocalRead  int64
	TempRead   int64
}

// Blocks is the I/O cost recorded for the execution.
func (u Usage) Blocks() int64 {
	return u.SharedHit + u.SharedRead + u.LocalHit + u.LocalRead + u.TempRead
}

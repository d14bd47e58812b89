// Package advisor is the operator surface over one namespace: manual mode
// overrides, inspection, reset, and the periodic heuristic pass.
package advisor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/internal/heuristic"
	"github.com/arkilian/planmentor/internal/namespace"
	"github.com/arkilian/planmentor/internal/observability"
	"github.com/arkilian/planmentor/internal/stats"
	"github.com/arkilian/planmentor/internal/telemetry"
	"github.com/arkilian/planmentor/pkg/types"
)

// DefaultFetchConcurrency bounds concurrent external telemetry lookups.
const DefaultFetchConcurrency = 4

// Options configures an Advisor.
type Options struct {
	Rules            *heuristic.Rules
	Source           telemetry.Source
	FetchConcurrency int
	Reap             stats.ReapPolicy
	// Decisions, when set, tallies every mode change by rule.
	Decisions *observability.DecisionStats
	Logger    *zap.Logger
}

// Advisor runs operator requests against one namespace.
type Advisor struct {
	ns          *namespace.Namespace
	rules       *heuristic.Rules
	source      telemetry.Source
	concurrency int
	reap        stats.ReapPolicy
	decisions   *observability.DecisionStats
	logger      *zap.Logger
}

// New creates an advisor for ns.
func New(ns *namespace.Namespace, opts Options) *Advisor {
	if opts.Rules == nil {
		opts.Rules = heuristic.New(heuristic.DefaultThresholds())
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = DefaultFetchConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Advisor{
		ns:          ns,
		rules:       opts.Rules,
		source:      opts.Source,
		concurrency: opts.FetchConcurrency,
		reap:        opts.Reap,
		decisions:   opts.Decisions,
		logger:      opts.Logger.Named("advisor").With(zap.String("scope", ns.Scope)),
	}
}

// Namespace returns the advised namespace.
func (a *Advisor) Namespace() *namespace.Namespace { return a.ns }

// Reload tells every worker to re-sync. It returns the new epoch.
func (a *Advisor) Reload() uint64 {
	e := a.ns.Epoch.Bump()
	a.logger.Info("reload", zap.Uint64("epoch", e))
	return e
}

// SetModeRequest is a manual override. Nil references default to the
// entry's current averages, which requires that it has executed.
type SetModeRequest struct {
	Fingerprint types.Fingerprint `json:"fingerprint"`
	Mode        types.Mode        `json:"mode"`
	RefExecTime *float64          `json:"ref_exec_time,omitempty"`
	RefIOCost   *float64          `json:"ref_io_cost,omitempty"`
	Fixed       bool              `json:"fixed"`
}

func (r SetModeRequest) validate() error {
	if !r.Fingerprint.Valid() {
		return mentorerrors.NewValidationError(mentorerrors.CodeInvalidFingerprint,
			"fingerprint 0 is reserved")
	}
	if !r.Mode.Valid() {
		return mentorerrors.NewValidationError(mentorerrors.CodeInvalidMode,
			fmt.Sprintf("invalid plan cache mode %d", int32(r.Mode)))
	}
	for name, v := range map[string]*float64{"ref_exec_time": r.RefExecTime, "ref_io_cost": r.RefIOCost} {
		if v != nil && *v < 0 {
			return mentorerrors.NewValidationError(mentorerrors.CodeNegativeReference,
				name+" must not be negative").
				WithDetails(map[string]interface{}{name: *v})
		}
	}
	return nil
}

func (r SetModeRequest) complete() bool {
	return r.RefExecTime != nil && *r.RefExecTime > 0 &&
		r.RefIOCost != nil && *r.RefIOCost > 0
}

// SetMode applies a manual override. It fails fast with a retryable
// contention error when another worker holds the entry, and with a
// validation error, without changing anything, when the request is
// malformed. An unknown fingerprint is inserted only when both references
// are given.
func (a *Advisor) SetMode(req SetModeRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	var (
		verr error
		prev types.Mode
	)
	apply := func(e *stats.Entry) {
		prev = e.Mode
		refTime, refIO := e.Ring.AvgTime(), e.Ring.AvgIO()
		if req.RefExecTime != nil && *req.RefExecTime > 0 {
			refTime = *req.RefExecTime
		}
		if req.RefIOCost != nil && *req.RefIOCost > 0 {
			refIO = *req.RefIOCost
		}
		if !e.Executed() && (refTime <= 0 || refIO <= 0) {
			verr = missingReference(req.Fingerprint)
			return
		}
		e.Mode = req.Mode
		e.Fixed = req.Fixed
		e.RefExecTime = refTime
		e.RefIOCost = refIO
	}

	var err error
	if req.complete() {
		err = a.ns.Table.TryUpsert(req.Fingerprint, func(e *stats.Entry, _ bool) { apply(e) })
	} else {
		var found bool
		found, err = a.ns.Table.TryUpdate(req.Fingerprint, apply)
		if err == nil && !found {
			verr = missingReference(req.Fingerprint)
		}
	}
	if err != nil {
		return err
	}
	if verr != nil {
		return verr
	}

	e := a.ns.Epoch.Bump()
	a.record(observability.ManualSource, prev, req.Mode)
	a.logger.Info("plan mode set",
		zap.String("fingerprint", req.Fingerprint.String()),
		zap.Stringer("mode", req.Mode),
		zap.Bool("fixed", req.Fixed),
		zap.Uint64("epoch", e),
	)
	return nil
}

func missingReference(fp types.Fingerprint) error {
	return mentorerrors.NewValidationError(mentorerrors.CodeMissingReference,
		"reference costs are required for a never executed query").
		WithDetails(map[string]interface{}{"fingerprint": fp.String()})
}

// ShowEntries returns snapshots of the entries in filter mode (ModeAny for
// all), ordered by fingerprint.
func (a *Advisor) ShowEntries(filter types.Mode) ([]stats.Snapshot, error) {
	if filter != types.ModeAny && !filter.Valid() {
		return nil, mentorerrors.NewValidationError(mentorerrors.CodeInvalidMode,
			fmt.Sprintf("invalid mode filter %d", int32(filter)))
	}

	var out []stats.Snapshot
	a.ns.Table.Range(func(e *stats.Entry) bool {
		if e.Mode.Matches(filter) {
			out = append(out, e.Snapshot())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

// Reset returns every entry to AUTO with empty statistics and reports how
// many entries had another mode.
func (a *Advisor) Reset() int {
	total, changed := a.ns.Table.ResetAll()
	e := a.ns.Epoch.Bump()
	a.logger.Info("reset",
		zap.Int("entries", total),
		zap.Int("changed", changed),
		zap.Uint64("epoch", e),
	)
	return changed
}

// Tally summarizes one reconsider pass. Skipped entries could not be
// evaluated and are also counted as unchanged.
type Tally struct {
	ToGeneric int `json:"to_generic"`
	ToCustom  int `json:"to_custom"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

// Reconsider runs one heuristic pass over every entry. External telemetry
// is fetched before any entry is locked; a failed lookup only means that
// entry is evaluated on its own samples. The pass holds one entry lock at a
// time and bumps the epoch once per switch.
func (a *Advisor) Reconsider(ctx context.Context) (Tally, error) {
	fps := a.ns.Table.Fingerprints()

	external, err := a.fetch(ctx, fps)
	if err != nil {
		return Tally{}, err
	}

	var tally Tally
	for _, fp := range fps {
		var (
			d       heuristic.Decision
			changed bool
			evalErr error
		)
		visited := a.ns.Table.Update(fp, func(e *stats.Entry) {
			in := heuristic.NewInput(e)
			if st, ok := external[fp]; ok {
				in = in.WithExternal(st.MeanExecTime, st.MeanPlanTime())
			}
			d, changed, evalErr = a.rules.Evaluate(in)
			if changed {
				d.Apply(e)
			}
		})
		if !visited {
			continue
		}

		switch {
		case evalErr != nil:
			tally.Unchanged++
			tally.Skipped++
		case !changed:
			tally.Unchanged++
		case d.To == types.ModeForceGeneric:
			tally.ToGeneric++
		default:
			tally.ToCustom++
		}

		if changed {
			e := a.ns.Epoch.Bump()
			a.record(d.Rule, d.From, d.To)
			a.logger.Info("plan mode switched",
				zap.String("fingerprint", fp.String()),
				zap.String("rule", d.Rule),
				zap.Stringer("from", d.From),
				zap.Stringer("to", d.To),
				zap.Bool("fixed", d.Fixed),
				zap.Float64("ref_exec_time", d.RefExecTime),
				zap.Float64("ref_io_cost", d.RefIOCost),
				zap.Uint64("epoch", e),
			)
		}
	}

	a.logger.Debug("reconsider pass",
		zap.Int("to_generic", tally.ToGeneric),
		zap.Int("to_custom", tally.ToCustom),
		zap.Int("unchanged", tally.Unchanged),
		zap.Int("skipped", tally.Skipped),
	)
	return tally, nil
}

func (a *Advisor) fetch(ctx context.Context, fps []types.Fingerprint) (map[types.Fingerprint]telemetry.Stats, error) {
	if a.source == nil || len(fps) == 0 {
		return nil, ctx.Err()
	}

	var mu sync.Mutex
	out := make(map[types.Fingerprint]telemetry.Stats, len(fps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, fp := range fps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, found, err := a.source.Lookup(gctx, fp)
			if err != nil {
				a.logger.Warn("telemetry lookup failed",
					zap.String("fingerprint", fp.String()),
					zap.Error(err),
				)
				return nil
			}
			if found {
				mu.Lock()
				out[fp] = st
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}

func (a *Advisor) record(source string, from, to types.Mode) {
	if a.decisions != nil {
		a.decisions.Record(source, a.ns.Scope, from.String(), to.String())
	}
}

// Reap removes idle unreferenced entries per the configured policy and
// expires old decision tallies.
func (a *Advisor) Reap() int {
	if a.decisions != nil {
		a.decisions.Prune()
	}
	n := a.ns.Table.Reap(a.reap)
	if n > 0 {
		a.logger.Info("reaped entries", zap.Int("removed", n))
	}
	return n
}

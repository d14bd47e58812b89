// Package worker holds the per-worker side of planmentor: the private
// registry of fingerprints this worker holds statements for, the applied
// epoch cursor, and the hooks the host engine calls around prepare, dispose,
// planning and execution.
//
// A Worker is meant to be driven by one host worker; its methods are safe
// for concurrent use but never block on other workers except for the short
// entry critical sections of the shared table.
package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkilian/planmentor/internal/automode"
	"github.com/arkilian/planmentor/internal/engine"
	"github.com/arkilian/planmentor/internal/epoch"
	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/internal/namespace"
	"github.com/arkilian/planmentor/internal/stats"
	"github.com/arkilian/planmentor/pkg/types"
)

// Options configures a Worker.
type Options struct {
	// ID names the worker in logs (default: a random UUID).
	ID string
	// Logger receives consistency faults (default: no-op).
	Logger *zap.Logger
	// Strict panics on consistency faults instead of logging them.
	Strict bool
	// AutoMode enables metering of AUTO statements when the engine
	// implements engine.CostResetter.
	AutoMode bool
	// Meter tunes auto-mode metering.
	Meter automode.Config
}

// Execution describes one finished execution.
type Execution struct {
	Fingerprint types.Fingerprint
	Usage       engine.Usage
	Duration    time.Duration
	// Generic is true when the execution ran a generic plan.
	Generic bool
}

// Worker is one worker's attachment to a namespace.
type Worker struct {
	id     string
	ns     *namespace.Namespace
	eng    engine.Engine
	costs  engine.CostResetter
	meter  *automode.Meter
	logger *zap.Logger
	strict bool

	mu    sync.Mutex
	local map[types.Fingerprint]uint32

	syncMu sync.Mutex
	cursor epoch.Cursor

	exitOnce sync.Once
	faults   atomic.Uint64
}

// New attaches a worker for eng to ns.
func New(ns *namespace.Namespace, eng engine.Engine, opts Options) *Worker {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	w := &Worker{
		id:    opts.ID,
		ns:    ns,
		eng:   eng,
		local: make(map[types.Fingerprint]uint32),
		logger: opts.Logger.Named("worker").With(
			zap.String("worker", opts.ID),
			zap.String("scope", ns.Scope),
		),
		strict: opts.Strict,
	}
	if cr, ok := eng.(engine.CostResetter); ok && opts.AutoMode {
		w.costs = cr
		w.meter = automode.New(opts.Meter)
	}
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// Namespace returns the namespace the worker is attached to.
func (w *Worker) Namespace() *namespace.Namespace { return w.ns }

// Faults returns the number of consistency faults seen so far.
func (w *Worker) Faults() uint64 { return w.faults.Load() }

// fault reports a bookkeeping inconsistency. It never returns an error to
// the host engine.
func (w *Worker) fault(err error, fp types.Fingerprint) {
	w.faults.Add(1)
	if w.strict {
		panic(err)
	}
	w.logger.Warn("consistency fault",
		zap.Error(err),
		zap.String("fingerprint", fp.String()),
		zap.String("code", mentorerrors.GetCode(err)),
	)
}

// OnPrepare registers a new statement handle. A new entry takes the
// handle's current mode; an existing entry's mode is pushed into the handle. It returns the shared
// refcount after the increment, or 0 when the statement has no fingerprint.
func (w *Worker) OnPrepare(s engine.Statement) uint32 {
	fp := s.Fingerprint()
	if !fp.Valid() {
		return 0
	}

	var refs uint32
	var mode types.Mode
	var created bool
	err := w.ns.Table.Upsert(fp, func(e *stats.Entry, isNew bool) {
		created = isNew
		if isNew {
			if m := s.PlanMode(); m.Valid() {
				e.Mode = m
			}
			e.Refs.Store(1)
			refs = 1
		} else {
			var err error
			if refs, err = e.Refs.Inc(); err != nil {
				w.fault(err, fp)
			}
		}
		e.Touch(w.ns.Table.Now())
		mode = e.Mode
	})
	if err != nil {
		w.fault(err, fp)
		return 0
	}

	w.mu.Lock()
	w.local[fp]++
	first := w.local[fp] == 1
	w.mu.Unlock()

	if first && w.meter != nil {
		w.meter.Track(fp)
	}
	if !created && s.PlanMode() != mode {
		s.SetPlanMode(mode)
	}
	return refs
}

// OnDispose releases one handle for fp. Releasing a fingerprint this worker
// never registered is a consistency fault and leaves the shared refcount
// alone.
func (w *Worker) OnDispose(fp types.Fingerprint) {
	if !fp.Valid() {
		return
	}

	w.mu.Lock()
	n, ok := w.local[fp]
	if ok {
		if n <= 1 {
			delete(w.local, fp)
		} else {
			w.local[fp] = n - 1
		}
	}
	w.mu.Unlock()

	if !ok {
		w.fault(mentorerrors.ErrNotRegistered, fp)
		return
	}
	if n <= 1 && w.meter != nil {
		w.meter.Untrack(fp)
	}
	w.release(fp, 1)
}

// OnDisposeAll releases every handle this worker holds. The worker stays
// usable.
func (w *Worker) OnDisposeAll() {
	w.mu.Lock()
	held := w.local
	w.local = make(map[types.Fingerprint]uint32)
	w.mu.Unlock()

	for fp, n := range held {
		w.release(fp, n)
	}
	if w.meter != nil {
		w.meter.Clear()
	}
}

// Exit releases everything on worker shutdown. Only the first call has any
// effect.
func (w *Worker) Exit() {
	w.exitOnce.Do(w.OnDisposeAll)
}

func (w *Worker) release(fp types.Fingerprint, n uint32) {
	found := w.ns.Table.Update(fp, func(e *stats.Entry) {
		if _, err := e.Refs.Sub(n); err != nil {
			w.fault(err, fp)
		}
	})
	if !found {
		w.fault(mentorerrors.NewConsistencyError(mentorerrors.CodeEntryMissing,
			"registered fingerprint has no shared entry"), fp)
	}
}

// LocalRefs returns how many handles this worker holds for fp.
func (w *Worker) LocalRefs(fp types.Fingerprint) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.local[fp]
}

// Registered returns a copy of the local registry.
func (w *Worker) Registered() map[types.Fingerprint]uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[types.Fingerprint]uint32, len(w.local))
	for fp, n := range w.local {
		out[fp] = n
	}
	return out
}

func (w *Worker) registered(fp types.Fingerprint) bool {
	if !fp.Valid() {
		return false
	}
	w.mu.Lock()
	_, ok := w.local[fp]
	w.mu.Unlock()
	return ok
}

// SyncIfStale pushes the shared modes into every live handle when the
// namespace epoch moved since the last sync. It reports whether a sync
// happened. The cursor advances even when there are no live handles.
func (w *Worker) SyncIfStale() bool {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	observed, stale := w.cursor.Stale(w.ns.Epoch)
	if !stale {
		return false
	}

	for _, s := range w.eng.LiveStatements() {
		fp := s.Fingerprint()
		if !fp.Valid() {
			continue
		}
		var mode types.Mode
		if !w.ns.Table.View(fp, func(e *stats.Entry) { mode = e.Mode }) {
			continue
		}
		s.SetPlanMode(mode)
	}
	w.cursor.Advance(observed)
	return true
}

// Applied returns the last epoch this worker synced against.
func (w *Worker) Applied() uint64 {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()
	return w.cursor.Applied()
}

// BeforePlan is the pre-planning hook.
func (w *Worker) BeforePlan() bool {
	return w.SyncIfStale()
}

// AfterPlan stores the planning duration of a locally registered
// fingerprint.
func (w *Worker) AfterPlan(fp types.Fingerprint, d time.Duration) {
	if !w.registered(fp) {
		return
	}
	ms := durationMillis(d)
	w.ns.Table.Update(fp, func(e *stats.Entry) {
		e.PlanTime = ms
	})
	if w.meter != nil {
		w.meter.RecordPlan(fp, ms)
	}
}

// AfterExecute records one execution sample for a locally registered
// fingerprint. Executions of anything else are ignored.
func (w *Worker) AfterExecute(x Execution) {
	if !w.registered(x.Fingerprint) {
		return
	}
	io := x.Usage.Blocks()
	ms := durationMillis(x.Duration)
	now := w.ns.Table.Now()
	w.ns.Table.Update(x.Fingerprint, func(e *stats.Entry) {
		e.Ring.Record(io, ms)
		e.Touch(now)
	})

	if w.meter == nil {
		return
	}
	w.meter.RecordExecution(x.Fingerprint, x.Generic, io, ms)
	if w.meter.Ready(x.Fingerprint) {
		if n := w.meter.Review(x.Fingerprint, w.eng.LiveStatements(), w.costs); n > 0 {
			w.logger.Debug("reset engine plan costs",
				zap.String("fingerprint", x.Fingerprint.String()),
				zap.Int("statements", n),
				zap.Int("attempts", w.meter.Attempts(x.Fingerprint)),
			)
		}
	}
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

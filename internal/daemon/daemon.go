// Package daemon runs the periodic maintenance of every attached
// namespace: heuristic reconsideration, reaping of idle entries and
// diagnostic snapshots.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/planmentor/internal/advisor"
	"github.com/arkilian/planmentor/internal/snapshot"
)

// Config holds the task intervals. A zero interval disables the task.
type Config struct {
	ReconsiderInterval time.Duration `json:"reconsider_interval" yaml:"reconsider_interval"`
	ReapInterval       time.Duration `json:"reap_interval" yaml:"reap_interval"`
	SnapshotInterval   time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`
}

// DefaultConfig returns the default intervals.
func DefaultConfig() Config {
	return Config{
		ReconsiderInterval: time.Minute,
		ReapInterval:       10 * time.Minute,
	}
}

// Daemon manages background maintenance.
type Daemon struct {
	config   Config
	advisors func() []*advisor.Advisor
	exporter *snapshot.Exporter
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a daemon over the advisors returned by advisors, which is
// called on every tick so newly attached scopes are picked up. exporter may
// be nil to disable snapshots.
func New(config Config, advisors func() []*advisor.Advisor, exporter *snapshot.Exporter, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{
		config:   config,
		advisors: advisors,
		exporter: exporter,
		logger:   logger.Named("daemon"),
	}
}

// Start begins the maintenance loop. It runs until the context is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop gracefully stops the daemon and waits for the current task.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

// ticker returns a channel for interval, or nil when the task is disabled.
func ticker(interval time.Duration) (<-chan time.Time, func()) {
	if interval <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	reconsider, stopReconsider := ticker(d.config.ReconsiderInterval)
	defer stopReconsider()
	reap, stopReap := ticker(d.config.ReapInterval)
	defer stopReap()
	snap, stopSnap := ticker(d.config.SnapshotInterval)
	defer stopSnap()
	if d.exporter == nil {
		snap = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconsider:
			d.reconsiderAll(ctx)
		case <-reap:
			d.reapAll()
		case <-snap:
			d.snapshotAll(ctx)
		}
	}
}

// RunOnce runs every enabled task once.
func (d *Daemon) RunOnce(ctx context.Context) {
	if d.config.ReconsiderInterval > 0 {
		d.reconsiderAll(ctx)
	}
	if d.config.ReapInterval > 0 {
		d.reapAll()
	}
	if d.config.SnapshotInterval > 0 && d.exporter != nil {
		d.snapshotAll(ctx)
	}
}

func (d *Daemon) reconsiderAll(ctx context.Context) {
	for _, a := range d.advisors() {
		if ctx.Err() != nil {
			return
		}
		tally, err := a.Reconsider(ctx)
		if err != nil {
			d.logger.Warn("reconsider failed",
				zap.String("scope", a.Namespace().Scope),
				zap.Error(err),
			)
			continue
		}
		if tally.ToGeneric > 0 || tally.ToCustom > 0 {
			d.logger.Info("reconsidered plan modes",
				zap.String("scope", a.Namespace().Scope),
				zap.Int("to_generic", tally.ToGeneric),
				zap.Int("to_custom", tally.ToCustom),
				zap.Int("unchanged", tally.Unchanged),
			)
		}
	}
}

func (d *Daemon) reapAll() {
	for _, a := range d.advisors() {
		a.Reap()
	}
}

func (d *Daemon) snapshotAll(ctx context.Context) {
	for _, a := range d.advisors() {
		if ctx.Err() != nil {
			return
		}
		if _, err := d.exporter.Export(ctx, a); err != nil {
			d.logger.Warn("snapshot failed",
				zap.String("scope", a.Namespace().Scope),
				zap.Error(err),
			)
		}
	}
}

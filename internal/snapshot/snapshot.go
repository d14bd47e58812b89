// Package snapshot writes diagnostic dumps of a namespace's entries to
// object storage. Snapshots are JSON compressed with snappy; they are never
// read back into a live table.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arkilian/planmentor/internal/advisor"
	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/internal/stats"
	"github.com/arkilian/planmentor/internal/storage"
	"github.com/arkilian/planmentor/pkg/types"
)

// DefaultPrefix is the key prefix snapshots are written under.
const DefaultPrefix = "snapshots"

// Snapshot is one captured view of a namespace.
type Snapshot struct {
	ID         string           `json:"id"`
	Scope      string           `json:"scope"`
	Epoch      uint64           `json:"epoch"`
	CapturedAt time.Time        `json:"captured_at"`
	Entries    []stats.Snapshot `json:"entries"`
}

// Options configures an Exporter.
type Options struct {
	// Prefix is the key prefix (default "snapshots").
	Prefix string
	// Retain keeps this many snapshots per scope after each export (0 = all).
	Retain int
	// Clock overrides time.Now, for tests.
	Clock  func() time.Time
	Logger *zap.Logger
}

// Exporter writes snapshots to object storage.
type Exporter struct {
	store  storage.ObjectStorage
	prefix string
	retain int
	clock  func() time.Time
	logger *zap.Logger
}

// NewExporter creates an exporter writing to store.
func NewExporter(store storage.ObjectStorage, opts Options) *Exporter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Exporter{
		store:  store,
		prefix: opts.Prefix,
		retain: opts.Retain,
		clock:  opts.Clock,
		logger: opts.Logger.Named("snapshot"),
	}
}

// Export captures every entry the advisor shows and writes it. It returns
// the object key.
func (x *Exporter) Export(ctx context.Context, a *advisor.Advisor) (string, error) {
	entries, err := a.ShowEntries(types.ModeAny)
	if err != nil {
		return "", err
	}

	ns := a.Namespace()
	now := x.clock()
	snap := Snapshot{
		ID:         uuid.NewString(),
		Scope:      ns.Scope,
		Epoch:      ns.Epoch.Load(),
		CapturedAt: now.UTC(),
		Entries:    entries,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return "", mentorerrors.NewInternalError("failed to encode snapshot", err)
	}

	key := x.key(ns.Scope, now, snap.ID)
	if err := x.store.Put(ctx, key, snappy.Encode(nil, raw)); err != nil {
		return "", err
	}
	x.logger.Info("snapshot written",
		zap.String("scope", ns.Scope),
		zap.String("key", key),
		zap.Int("entries", len(entries)),
	)

	if x.retain > 0 {
		if _, err := x.Prune(ctx, ns.Scope); err != nil {
			x.logger.Warn("snapshot prune failed", zap.String("scope", ns.Scope), zap.Error(err))
		}
	}
	return key, nil
}

// key sorts lexically by capture time within a scope.
func (x *Exporter) key(scope string, at time.Time, id string) string {
	return path.Join(x.prefix, scope, fmt.Sprintf("%020d-%s.json.sz", at.UnixNano(), id))
}

// List returns the snapshot keys of scope, oldest first.
func (x *Exporter) List(ctx context.Context, scope string) ([]string, error) {
	return x.store.List(ctx, path.Join(x.prefix, scope)+"/")
}

// Prune deletes all but the newest Retain snapshots of scope and returns
// how many were deleted.
func (x *Exporter) Prune(ctx context.Context, scope string) (int, error) {
	if x.retain <= 0 {
		return 0, nil
	}
	keys, err := x.List(ctx, scope)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for len(keys)-deleted > x.retain {
		if err := x.store.Delete(ctx, keys[deleted]); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Load reads one snapshot back for inspection.
func Load(ctx context.Context, store storage.ObjectStorage, key string) (*Snapshot, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, mentorerrors.NewStorageError(mentorerrors.CodeDownloadFailed, "corrupt snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, mentorerrors.NewStorageError(mentorerrors.CodeDownloadFailed, "corrupt snapshot", err)
	}
	return &snap, nil
}

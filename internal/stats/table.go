// Package stats holds the shared statistics table: one entry per query
// fingerprint, visible to every worker attached to the same namespace.
//
// The table is split into shards selected by murmur3 of the fingerprint.
// Structural changes (insert, reap) take the shard lock; entry mutation takes
// only the entry lock. Lock order is always shard then entry, and entry lock
// holders never touch shard locks, so callbacks passed to the accessors must
// not call back into the Table.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/pkg/types"
)

// DefaultShardCount is the default number of table shards.
const DefaultShardCount = 16

// Options configures a Table.
type Options struct {
	// Shards is the number of independently locked shards (default 16).
	Shards int
	// RingCapacity is the per-entry sample capacity (default 10).
	RingCapacity int
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Table is the shared statistics table.
type Table struct {
	shards   []*shard
	capacity int
	clock    func() time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[types.Fingerprint]*Entry
}

// NewTable creates an empty table.
func NewTable(opts Options) *Table {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShardCount
	}
	if opts.RingCapacity <= 0 {
		opts.RingCapacity = DefaultRingCapacity
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	t := &Table{
		shards:   make([]*shard, opts.Shards),
		capacity: opts.RingCapacity,
		clock:    opts.Clock,
	}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[types.Fingerprint]*Entry)}
	}
	return t
}

// Now returns the table clock's current time.
func (t *Table) Now() time.Time {
	return t.clock()
}

// RingCapacity returns the sample capacity of new entries.
func (t *Table) RingCapacity() int {
	return t.capacity
}

func (t *Table) shardFor(fp types.Fingerprint) *shard {
	return t.shards[murmur3.Sum32(fp.Bytes())%uint32(len(t.shards))]
}

// acquire returns the entry for fp with its lock held. With create it inserts
// a fresh entry when absent; with try it gives up instead of waiting for a
// busy entry.
func (t *Table) acquire(fp types.Fingerprint, create, try bool) (*Entry, bool, error) {
	if !fp.Valid() {
		return nil, false, mentorerrors.ErrZeroFingerprint
	}
	s := t.shardFor(fp)

	s.mu.RLock()
	e := s.entries[fp]
	if e != nil {
		if !lockEntry(e, try) {
			s.mu.RUnlock()
			return nil, false, mentorerrors.ErrContention
		}
		s.mu.RUnlock()
		return e, false, nil
	}
	s.mu.RUnlock()

	if !create {
		return nil, false, nil
	}

	s.mu.Lock()
	created := false
	e = s.entries[fp]
	if e == nil {
		e = newEntry(fp, t.capacity, t.clock())
		s.entries[fp] = e
		created = true
	}
	if !lockEntry(e, try && !created) {
		s.mu.Unlock()
		return nil, false, mentorerrors.ErrContention
	}
	s.mu.Unlock()
	return e, created, nil
}

func lockEntry(e *Entry, try bool) bool {
	if try {
		return e.mu.TryLock()
	}
	e.mu.Lock()
	return true
}

// Upsert finds or inserts the entry for fp and calls fn with it locked.
// Concurrent callers for the same new fingerprint converge on one entry;
// exactly one of them sees created == true.
func (t *Table) Upsert(fp types.Fingerprint, fn func(e *Entry, created bool)) error {
	e, created, err := t.acquire(fp, true, false)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	fn(e, created)
	return nil
}

// TryUpsert is Upsert that fails with a contention error instead of waiting
// for an entry another worker holds.
func (t *Table) TryUpsert(fp types.Fingerprint, fn func(e *Entry, created bool)) error {
	e, created, err := t.acquire(fp, true, true)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	fn(e, created)
	return nil
}

// Update calls fn with the entry for fp locked. It reports false when there
// is no such entry.
func (t *Table) Update(fp types.Fingerprint, fn func(e *Entry)) bool {
	e, _, err := t.acquire(fp, false, false)
	if err != nil || e == nil {
		return false
	}
	defer e.mu.Unlock()
	fn(e)
	return true
}

// TryUpdate is Update that fails with a contention error instead of waiting
// for an entry another worker holds.
func (t *Table) TryUpdate(fp types.Fingerprint, fn func(e *Entry)) (bool, error) {
	e, _, err := t.acquire(fp, false, true)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	defer e.mu.Unlock()
	fn(e)
	return true, nil
}

// View is Update for callers that only read the entry.
func (t *Table) View(fp types.Fingerprint, fn func(e *Entry)) bool {
	return t.Update(fp, fn)
}

// Get returns a snapshot of the entry for fp.
func (t *Table) Get(fp types.Fingerprint) (Snapshot, bool) {
	var snap Snapshot
	ok := t.View(fp, func(e *Entry) {
		snap = e.Snapshot()
	})
	return snap, ok
}

// Range calls fn for each entry with that entry locked, one at a time. Each
// observed entry is internally consistent; the pass as a whole is not a
// snapshot. Returning false stops the iteration.
func (t *Table) Range(fn func(e *Entry) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		entries := make([]*Entry, 0, len(s.entries))
		for _, e := range s.entries {
			entries = append(entries, e)
		}
		s.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			if e.detached {
				e.mu.Unlock()
				continue
			}
			cont := fn(e)
			e.mu.Unlock()
			if !cont {
				return
			}
		}
	}
}

// Fingerprints lists the keys currently in the table.
func (t *Table) Fingerprints() []types.Fingerprint {
	var fps []types.Fingerprint
	for _, s := range t.shards {
		s.mu.RLock()
		for fp := range s.entries {
			fps = append(fps, fp)
		}
		s.mu.RUnlock()
	}
	return fps
}

// Len returns the number of entries.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// ResetAll returns every entry to AUTO with empty samples and references,
// keeping refcounts and planning times. It returns the number of entries
// visited and how many of them had a mode other than AUTO.
func (t *Table) ResetAll() (total, changed int) {
	t.Range(func(e *Entry) bool {
		total++
		if e.ResetDecision() {
			changed++
		}
		return true
	})
	return total, changed
}

// ReapPolicy bounds the entries kept after their last handle goes away.
type ReapPolicy struct {
	// IdleTTL removes unreferenced entries not used for this long (0 = off).
	IdleTTL time.Duration
	// MaxEntries caps the table size by removing the oldest unreferenced
	// entries by creation time (0 = no cap).
	MaxEntries int
}

// Reap removes unreferenced entries according to policy and returns how many
// were removed. Entries with live handles are never removed.
func (t *Table) Reap(policy ReapPolicy) int {
	removed := 0
	now := t.clock()

	if policy.IdleTTL > 0 {
		for _, s := range t.shards {
			s.mu.Lock()
			for fp, e := range s.entries {
				e.mu.Lock()
				if e.Refs.Load() == 0 && now.Sub(e.LastUsed) > policy.IdleTTL {
					e.detached = true
					delete(s.entries, fp)
					removed++
				}
				e.mu.Unlock()
			}
			s.mu.Unlock()
		}
	}

	if policy.MaxEntries <= 0 {
		return removed
	}
	excess := t.Len() - policy.MaxEntries
	if excess <= 0 {
		return removed
	}

	type candidate struct {
		fp    types.Fingerprint
		since time.Time
	}
	var candidates []candidate
	t.Range(func(e *Entry) bool {
		if e.Refs.Load() == 0 {
			candidates = append(candidates, candidate{e.Fingerprint, e.Since})
		}
		return true
	})
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].since.Before(candidates[j].since)
	})

	for _, c := range candidates {
		if excess <= 0 {
			break
		}
		if t.removeIdle(c.fp) {
			removed++
			excess--
		}
	}
	return removed
}

func (t *Table) removeIdle(fp types.Fingerprint) bool {
	s := t.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[fp]
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Refs.Load() != 0 {
		return false
	}
	e.detached = true
	delete(s.entries, fp)
	return true
}

package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mentorerrors "github.com/arkilian/planmentor/internal/errors"
	"github.com/arkilian/planmentor/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestUpsertCreatesOnce(t *testing.T) {
	tbl := NewTable(Options{})

	var created []bool
	for i := 0; i < 3; i++ {
		err := tbl.Upsert(42, func(e *Entry, c bool) {
			created = append(created, c)
			_, _ = e.Refs.Inc()
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []bool{true, false, false}, created)
	snap, ok := tbl.Get(42)
	require.True(t, ok)
	assert.Equal(t, uint32(3), snap.Refcount)
	assert.Equal(t, types.ModeAuto, snap.Mode)
	assert.Nil(t, snap.RefExecTime)
	assert.Nil(t, snap.PlanTime)
	assert.Equal(t, 0, snap.Samples)
}

func TestUpsertRejectsZeroFingerprint(t *testing.T) {
	tbl := NewTable(Options{})
	err := tbl.Upsert(types.InvalidFingerprint, func(*Entry, bool) {})
	assert.ErrorIs(t, err, mentorerrors.ErrZeroFingerprint)
	assert.Equal(t, 0, tbl.Len())
}

func TestConcurrentUpsertConverges(t *testing.T) {
	tbl := NewTable(Options{Shards: 4})

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = tbl.Upsert(7, func(e *Entry, created bool) {
				if created {
					mu.Lock()
					creates++
					mu.Unlock()
				}
				_, _ = e.Refs.Inc()
			})
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, tbl.Len())
	snap, _ := tbl.Get(7)
	assert.Equal(t, uint32(workers), snap.Refcount)
}

func TestUpdateMissing(t *testing.T) {
	tbl := NewTable(Options{})
	called := false
	ok := tbl.Update(99, func(*Entry) { called = true })
	assert.False(t, ok)
	assert.False(t, called)
}

func TestTryUpsertFailsFastUnderContention(t *testing.T) {
	tbl := NewTable(Options{})
	require.NoError(t, tbl.Upsert(5, func(*Entry, bool) {}))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tbl.Update(5, func(*Entry) {
			close(held)
			<-release
		})
	}()
	<-held

	err := tbl.TryUpsert(5, func(*Entry, bool) {
		t.Error("callback must not run while the entry is held")
	})
	assert.ErrorIs(t, err, mentorerrors.ErrContention)
	assert.True(t, mentorerrors.IsRetryable(err))

	close(release)
	<-done

	err = tbl.TryUpsert(5, func(e *Entry, created bool) {
		assert.False(t, created)
	})
	assert.NoError(t, err)
}

func TestTryUpsertCreates(t *testing.T) {
	tbl := NewTable(Options{})
	var sawCreate bool
	require.NoError(t, tbl.TryUpsert(11, func(_ *Entry, created bool) { sawCreate = created }))
	assert.True(t, sawCreate)
}

func TestRangeVisitsEveryEntry(t *testing.T) {
	tbl := NewTable(Options{Shards: 3})
	for fp := types.Fingerprint(1); fp <= 20; fp++ {
		require.NoError(t, tbl.Upsert(fp, func(*Entry, bool) {}))
	}

	seen := map[types.Fingerprint]bool{}
	tbl.Range(func(e *Entry) bool {
		seen[e.Fingerprint] = true
		return true
	})
	assert.Len(t, seen, 20)
	assert.Len(t, tbl.Fingerprints(), 20)

	count := 0
	tbl.Range(func(*Entry) bool {
		count++
		return count < 5
	})
	assert.Equal(t, 5, count)
}

func TestResetAll(t *testing.T) {
	tbl := NewTable(Options{RingCapacity: 4})
	require.NoError(t, tbl.Upsert(1, func(e *Entry, _ bool) {
		e.Mode = types.ModeForceGeneric
		e.Fixed = true
		e.RefExecTime = 3
		e.RefIOCost = 9
		e.PlanTime = 1
		e.Ring.Record(9, 3)
		_, _ = e.Refs.Inc()
	}))
	require.NoError(t, tbl.Upsert(2, func(e *Entry, _ bool) {
		e.Ring.Record(1, 1)
	}))

	total, changed := tbl.ResetAll()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, changed)

	tbl.Range(func(e *Entry) bool {
		assert.Equal(t, types.ModeAuto, e.Mode)
		assert.False(t, e.Fixed)
		assert.False(t, e.HasReference())
		assert.Equal(t, 0, e.Ring.Len())
		return true
	})

	snap, _ := tbl.Get(1)
	assert.Equal(t, uint32(1), snap.Refcount, "reset keeps live handle counts")
	require.NotNil(t, snap.PlanTime, "reset keeps the planning time")
	assert.Equal(t, 1.0, *snap.PlanTime)
}

func TestReapIdle(t *testing.T) {
	clock := newFakeClock()
	tbl := NewTable(Options{Clock: clock.Now})

	require.NoError(t, tbl.Upsert(1, func(*Entry, bool) {}))
	require.NoError(t, tbl.Upsert(2, func(e *Entry, _ bool) { _, _ = e.Refs.Inc() }))

	clock.Advance(time.Hour)
	require.NoError(t, tbl.Upsert(3, func(*Entry, bool) {}))

	removed := tbl.Reap(ReapPolicy{IdleTTL: 30 * time.Minute})
	assert.Equal(t, 1, removed)

	_, ok := tbl.Get(1)
	assert.False(t, ok, "idle unreferenced entry is reaped")
	_, ok = tbl.Get(2)
	assert.True(t, ok, "referenced entry survives")
	_, ok = tbl.Get(3)
	assert.True(t, ok, "recent entry survives")
}

func TestReapMaxEntriesOldestFirst(t *testing.T) {
	clock := newFakeClock()
	tbl := NewTable(Options{Clock: clock.Now})

	for fp := types.Fingerprint(1); fp <= 5; fp++ {
		require.NoError(t, tbl.Upsert(fp, func(*Entry, bool) {}))
		clock.Advance(time.Minute)
	}
	require.True(t, tbl.Update(1, func(e *Entry) { _, _ = e.Refs.Inc() }))

	removed := tbl.Reap(ReapPolicy{MaxEntries: 3})
	assert.Equal(t, 2, removed)
	assert.Equal(t, 3, tbl.Len())

	_, ok := tbl.Get(1)
	assert.True(t, ok, "oldest but referenced")
	_, ok = tbl.Get(2)
	assert.False(t, ok)
	_, ok = tbl.Get(3)
	assert.False(t, ok)
	_, ok = tbl.Get(5)
	assert.True(t, ok)
}

func TestSnapshotAbsentValues(t *testing.T) {
	tbl := NewTable(Options{RingCapacity: 3})
	require.NoError(t, tbl.Upsert(8, func(e *Entry, _ bool) {
		e.Ring.Record(10, 2.5)
		e.PlanTime = 0
	}))

	snap, ok := tbl.Get(8)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Samples)
	require.NotNil(t, snap.AvgIOCost)
	assert.Equal(t, 10.0, *snap.AvgIOCost)
	require.NotNil(t, snap.PlanTime)
	assert.Equal(t, 0.0, *snap.PlanTime)
	assert.Nil(t, snap.RefIOCost)
	assert.Equal(t, []int64{10}, snap.IOCosts)
}

func TestTryUpdate(t *testing.T) {
	table := NewTable(Options{})

	found, err := table.TryUpdate(5, func(*Entry) { t.Fatal("called for missing entry") })
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, table.Len())

	require.NoError(t, table.Upsert(5, func(*Entry, bool) {}))

	held := make(chan struct{})
	release := make(chan struct{})
	go table.Update(5, func(*Entry) {
		close(held)
		<-release
	})
	<-held
	_, err = table.TryUpdate(5, func(*Entry) {})
	assert.ErrorIs(t, err, mentorerrors.ErrContention)
	close(release)
}

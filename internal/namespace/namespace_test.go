package namespace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/planmentor/internal/stats"
)

func TestAttachSharesState(t *testing.T) {
	reg := NewRegistry(stats.Options{RingCapacity: 5})

	a, found := reg.Attach("orders")
	assert.False(t, found)
	b, found := reg.Attach("orders")
	assert.True(t, found)
	assert.Same(t, a, b)

	c, _ := reg.Attach("billing")
	assert.NotSame(t, a, c)
	assert.Equal(t, []string{"billing", "orders"}, reg.Scopes())
	assert.Equal(t, 5, a.Table.RingCapacity())
	assert.Equal(t, uint64(1), a.Epoch.Load())
}

func TestConcurrentAttachConverges(t *testing.T) {
	reg := NewRegistry(stats.Options{})
	var wg sync.WaitGroup
	got := make([]*Namespace, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = reg.Attach("db")
		}(i)
	}
	wg.Wait()
	for _, ns := range got[1:] {
		assert.Same(t, got[0], ns)
	}
}

func TestDropStartsOver(t *testing.T) {
	reg := NewRegistry(stats.Options{})
	ns, _ := reg.Attach("db")
	require.NoError(t, ns.Table.Upsert(1, func(*stats.Entry, bool) {}))

	assert.True(t, reg.Drop("db"))
	assert.False(t, reg.Drop("db"))
	_, ok := reg.Lookup("db")
	assert.False(t, ok)

	fresh, found := reg.Attach("db")
	assert.False(t, found)
	assert.Equal(t, 0, fresh.Table.Len())
}

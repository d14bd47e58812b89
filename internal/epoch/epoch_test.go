package epoch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCursorIsStale(t *testing.T) {
	e := New()
	var c Cursor

	observed, stale := c.Stale(e)
	assert.True(t, stale)
	assert.Equal(t, uint64(1), observed)

	c.Advance(observed)
	_, stale = c.Stale(e)
	assert.False(t, stale)
}

func TestBumpMakesCursorStale(t *testing.T) {
	e := New()
	var c Cursor
	c.Advance(e.Load())

	assert.Equal(t, uint64(2), e.Bump())
	observed, stale := c.Stale(e)
	assert.True(t, stale)
	assert.Equal(t, uint64(2), observed)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	var c Cursor
	c.Advance(5)
	c.Advance(3)
	assert.Equal(t, uint64(5), c.Applied())
}

func TestConcurrentBumpsAreTotallyOrdered(t *testing.T) {
	e := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Bump()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(1001), e.Load())
}

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestShutdownClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	var order []string
	sm.RegisterCloser("first", CloserFunc(func() error { order = append(order, "first"); return nil }))
	sm.RegisterCloser("second", CloserFunc(func() error { order = append(order, "second"); return nil }))

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []string{"second", "first"}, order)
	assert.True(t, sm.IsShuttingDown())

	select {
	case <-sm.ShutdownCh():
	default:
		t.Fatal("shutdown channel not closed")
	}

	// Second call is a no-op.
	require.NoError(t, sm.Shutdown(context.Background(), "again"))
	assert.Len(t, order, 2)
}

func TestShutdownReportsFirstCloseError(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	sm.RegisterCloser("ok", CloserFunc(func() error { return nil }))
	sm.RegisterCloser("bad", CloserFunc(func() error { return errors.New("disk gone") }))

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestShutdownWaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: time.Second}, nil)
	require.True(t, sm.TrackRequest())

	go func() {
		time.Sleep(100 * time.Millisecond)
		sm.UntrackRequest()
	}()

	start := time.Now()
	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Zero(t, sm.InFlightCount())
	assert.False(t, sm.TrackRequest())
}

func TestShutdownDrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 50 * time.Millisecond}, nil)
	require.True(t, sm.TrackRequest())
	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-flight")
}

func TestShutdownMiddlewareRejectsDuringShutdown(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListenForSignalsReturnsOnCancel(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.ListenForSignals(ctx))
	assert.True(t, sm.IsShuttingDown())
}

package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arkilian/planmentor/internal/advisor"
	"github.com/arkilian/planmentor/internal/config"
	"github.com/arkilian/planmentor/internal/engine"
	"github.com/arkilian/planmentor/internal/worker"
	"github.com/arkilian/planmentor/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Scopes = []string{"appdb"}
	cfg.Consistency.Strict = true
	cfg.Daemon.ReconsiderInterval = 0
	cfg.Daemon.ReapInterval = 0
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, a.Stop(context.Background()))
	})
	return a
}

var client = &http.Client{
	Timeout:   5 * time.Second,
	Transport: &http.Transport{DisableKeepAlives: true},
}

func call(t *testing.T, a *App, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+a.Addr()+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stats.RingCapacity = 1
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestStartAttachesConfiguredScopes(t *testing.T) {
	a := startApp(t, testConfig(t))
	assert.Equal(t, []string{"appdb"}, a.Scopes())

	code, body := call(t, a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"healthy"`)

	code, _ = call(t, a, http.MethodPost, "/v1/missing/reload", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStartTwiceFails(t *testing.T) {
	a := startApp(t, testConfig(t))
	assert.Error(t, a.Start(context.Background()))
}

func TestSetModeReachesAttachedWorker(t *testing.T) {
	a := startApp(t, testConfig(t))
	eng := engine.NewMemEngine(types.ModeAuto)
	w := a.AttachWorker("appdb", "w1", eng)
	defer w.Exit()

	stmt := eng.Prepare("q", 77)
	w.OnPrepare(stmt)

	code, body := call(t, a, http.MethodPost, "/v1/appdb/mode",
		`{"fingerprint":"77","mode":"custom","ref_exec_time":1,"ref_io_cost":4}`)
	require.Equal(t, http.StatusOK, code, string(body))

	assert.True(t, w.BeforePlan())
	assert.Equal(t, types.ModeForceCustom, stmt.PlanMode())

	code, body = call(t, a, http.MethodGet, "/v1/appdb/entries?mode=custom", "")
	require.Equal(t, http.StatusOK, code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestAttachWorkerCreatesScope(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	defer a.Stop(context.Background())

	w := a.AttachWorker("reporting", "w1", engine.NewMemEngine(types.ModeAuto))
	defer w.Exit()
	assert.Equal(t, "reporting", w.Namespace().Scope)

	adv, ok := a.Advisor("reporting")
	require.True(t, ok)
	assert.Same(t, adv, a.Attach("reporting"))
}

func createTelemetryDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE statement_stats (
		queryid INTEGER, calls INTEGER, total_plan_time REAL,
		total_exec_time REAL, min_exec_time REAL, max_exec_time REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO statement_stats VALUES (42, 10, 5.0, 2.0, 0.1, 0.3)`)
	require.NoError(t, err)
	return path
}

// executeUnplanned records samples for fp without ever reporting a plan
// time, so only external telemetry can make the entry eligible.
func executeUnplanned(t *testing.T, a *App, fp types.Fingerprint) {
	t.Helper()
	eng := engine.NewMemEngine(types.ModeAuto)
	w := a.AttachWorker("appdb", "w1", eng)
	t.Cleanup(w.Exit)
	w.OnPrepare(eng.Prepare("q", fp))
	for i := 0; i < 10; i++ {
		w.AfterExecute(worker.Execution{
			Fingerprint: fp,
			Usage:       engine.Usage{SharedHit: 10},
			Duration:    200 * time.Microsecond,
		})
	}
}

func TestReconsiderUsesTelemetry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.SQLitePath = createTelemetryDB(t)
	a := startApp(t, cfg)
	executeUnplanned(t, a, 42)

	code, body := call(t, a, http.MethodPost, "/v1/appdb/reconsider", "")
	require.Equal(t, http.StatusOK, code, string(body))
	var tally advisor.Tally
	require.NoError(t, json.Unmarshal(body, &tally))
	assert.Equal(t, advisor.Tally{ToGeneric: 1}, tally)
}

func TestReconsiderWithoutTelemetrySkips(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.SQLitePath = createTelemetryDB(t)
	cfg.Heuristic.UseExternal = false
	a := startApp(t, cfg)
	executeUnplanned(t, a, 42)

	code, body := call(t, a, http.MethodPost, "/v1/appdb/reconsider", "")
	require.Equal(t, http.StatusOK, code)
	var tally advisor.Tally
	require.NoError(t, json.Unmarshal(body, &tally))
	assert.Equal(t, advisor.Tally{Unchanged: 1, Skipped: 1}, tally)
}

func TestSnapshotToLocalStorage(t *testing.T) {
	a := startApp(t, testConfig(t))
	executeUnplanned(t, a, 9)

	code, body := call(t, a, http.MethodPost, "/v1/appdb/snapshot", "")
	require.Equal(t, http.StatusCreated, code, string(body))
	assert.Contains(t, string(body), "snapshots/appdb/")
}

func TestStopWithoutStart(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	assert.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))
}

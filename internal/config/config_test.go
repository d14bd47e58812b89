package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("./data/planmentor", "storage"), cfg.Storage.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ring too small", func(c *Config) { c.Stats.RingCapacity = 1 }},
		{"no shards", func(c *Config) { c.Stats.Shards = 0 }},
		{"non-positive cv", func(c *Config) { c.Heuristic.StableCV = 0 }},
		{"unstable below stable", func(c *Config) { c.Heuristic.UnstableCV = 0.2 }},
		{"regression factor", func(c *Config) { c.Heuristic.RegressionFactor = 1 }},
		{"meterings", func(c *Config) { c.AutoMode.MaxMeterings = 10 }},
		{"negative interval", func(c *Config) { c.Daemon.ReapInterval = -time.Second }},
		{"fetch concurrency", func(c *Config) { c.Telemetry.FetchConcurrency = 0 }},
		{"storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"scope with slash", func(c *Config) { c.Scopes = []string{"a/b"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planmentor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scopes: [appdb, reporting]
http:
  addr: ":9999"
stats:
  ring_capacity: 20
heuristic:
  pin_on_revert: true
daemon:
  reconsider_interval: 30s
  snapshot_interval: 1h
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"appdb", "reporting"}, cfg.Scopes)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 20, cfg.Stats.RingCapacity)
	assert.Equal(t, 16, cfg.Stats.Shards, "defaults survive")
	assert.True(t, cfg.Heuristic.PinOnRevert)
	assert.Equal(t, 30*time.Second, cfg.Daemon.ReconsiderInterval)
	assert.Equal(t, time.Hour, cfg.Daemon.SnapshotInterval)
}

func TestLoadFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planmentor.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"type":"s3","s3":{"bucket":"diag"}}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "diag", cfg.Storage.S3.Bucket)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planmentor.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PLANMENTOR_SCOPES", "a, b ,")
	t.Setenv("PLANMENTOR_STATS_RING_CAPACITY", "32")
	t.Setenv("PLANMENTOR_HEURISTIC_STABLE_CV", "0.25")
	t.Setenv("PLANMENTOR_HEURISTIC_PIN_ON_REVERT", "1")
	t.Setenv("PLANMENTOR_DAEMON_REAP_INTERVAL", "90s")
	t.Setenv("PLANMENTOR_CONSISTENCY_STRICT", "true")
	t.Setenv("PLANMENTOR_STATS_SHARDS", "not-a-number")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	assert.Equal(t, []string{"a", "b"}, cfg.Scopes)
	assert.Equal(t, 32, cfg.Stats.RingCapacity)
	assert.Equal(t, 0.25, cfg.Heuristic.StableCV)
	assert.True(t, cfg.Heuristic.PinOnRevert)
	assert.Equal(t, 90*time.Second, cfg.Daemon.ReapInterval)
	assert.True(t, cfg.Consistency.Strict)
	assert.Equal(t, 16, cfg.Stats.Shards, "unparsable values are ignored")
}

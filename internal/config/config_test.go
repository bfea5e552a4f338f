package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "genomesim.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, 3, cfg.Store.RetryAttempts)
	assert.Equal(t, 200, cfg.Store.RetryBackoffMs)
	assert.Equal(t, 4, cfg.Engine.MaxWorkers)
	assert.Equal(t, "gene", cfg.Engine.Target)
	assert.Zero(t, cfg.Engine.AmbiguityTolerance)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Producers)
	assert.NoError(t, cfg.Validate("annotate"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/genomesim
log:
  level: debug
  format: console
engine:
  max_workers: 8
  target: domain
producers:
  - id: composition.gc
    options:
      window: 50
      min_gc: 0.55
  - id: motif.iupac
    options:
      max_mismatches: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Engine.MaxWorkers)
	assert.Equal(t, "domain", cfg.Engine.Target)
	// Defaults still apply for unset values
	assert.Zero(t, cfg.Engine.AmbiguityTolerance)

	opts := cfg.ProducerOptions()
	require.Len(t, opts, 2)
	assert.EqualValues(t, 50, opts["composition.gc"]["window"])
	assert.InDelta(t, 0.55, opts["composition.gc"]["min_gc"], 1e-9)
	assert.EqualValues(t, 1, opts["motif.iupac"]["max_mismatches"])
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("GENOMESIM_STORE_DRIVER", "postgres")
	t.Setenv("GENOMESIM_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("GENOMESIM_ENGINE_MAX_WORKERS", "2")
	t.Setenv("GENOMESIM_ENGINE_AMBIGUITY_TOLERANCE", "0.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.MaxWorkers)
	assert.InDelta(t, 0.1, cfg.Engine.AmbiguityTolerance, 1e-9)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "genomesim.db"
	cfg.Engine.MaxWorkers = 4
	cfg.Engine.Target = "gene"
	return cfg
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""
	cfg.Store.RetryAttempts = -1
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "store.retry_attempts must not be negative")
}

func TestValidateAnnotate(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("annotate"))

	cfg.Engine.MaxWorkers = 0
	err := cfg.Validate("annotate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.max_workers must be between 1 and 256")

	cfg.Engine.MaxWorkers = 4
	cfg.Engine.AmbiguityTolerance = 1
	err = cfg.Validate("annotate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguity_tolerance")

	cfg.Engine.AmbiguityTolerance = 0
	cfg.Engine.Target = " "
	err = cfg.Validate("annotate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.target is required")

	cfg.Engine.Target = "gene"
	cfg.Producers = []ProducerConfig{{ID: "motif.iupac"}, {}}
	err = cfg.Validate("annotate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producers[1].id is required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestProducerOptions_LastWins(t *testing.T) {
	cfg := &Config{Producers: []ProducerConfig{
		{ID: "motif.iupac", Options: map[string]any{"max_mismatches": 0}},
		{ID: "motif.iupac", Options: map[string]any{"max_mismatches": 2}},
	}}
	assert.Equal(t, 2, cfg.ProducerOptions()["motif.iupac"]["max_mismatches"])
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Crystallize.TurnThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Crystallize.Staleness)
	assert.Equal(t, 500, cfg.Crystallize.MaxBatch)
	assert.Equal(t, 10, cfg.Crystallize.Retention)
	assert.Equal(t, 2*time.Hour, cfg.Crystallize.LockTTL)
	assert.Equal(t, 3, cfg.Crystallize.FailureThreshold)
	assert.Equal(t, 500, cfg.Curation.BatchSize)
	assert.Equal(t, 3, cfg.Curation.FailureThreshold)
	assert.Contains(t, cfg.Curation.ReflexivePredicates, "same_as")
	assert.Contains(t, cfg.Curation.VagueTerms, "it")
	assert.Equal(t, "extractive", cfg.Summarizer.Provider)
	assert.Equal(t, "nop", cfg.EventStream.Provider)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	data := `
[crystallize]
turn_threshold = 20
staleness = "6h"

[curation]
batch_size = 100000
vague_terms = ["thing"]
failure_threshold = 5

[curation.aliases]
jeffrey = "jeff"

[eventstream]
provider = "kafka"
brokers = ["localhost:9092"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Crystallize.TurnThreshold)
	assert.Equal(t, 6*time.Hour, cfg.Crystallize.Staleness)
	assert.Equal(t, MaxBatchCap, cfg.Curation.BatchSize)
	assert.Equal(t, []string{"thing"}, cfg.Curation.VagueTerms)
	assert.Equal(t, 5, cfg.Curation.FailureThreshold)
	assert.Equal(t, "jeff", cfg.Curation.Aliases["jeffrey"])
	assert.Equal(t, "kafka", cfg.EventStream.Provider)
	assert.Equal(t, []string{"localhost:9092"}, cfg.EventStream.Brokers)
	assert.Equal(t, 500, cfg.Crystallize.MaxBatch)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PPS_CRYSTALLIZE_TURN_THRESHOLD", "7")
	t.Setenv("PPS_SUMMARIZER_PROVIDER", "ollama")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Crystallize.TurnThreshold)
	assert.Equal(t, "ollama", cfg.Summarizer.Provider)
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[crystallize\n"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Crystallize.TurnThreshold = 12
	cfg.Curation.Aliases = map[string]string{"jeffrey": "jeff"}

	require.NoError(t, Save(dir, cfg))

	data, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	got, err := ParseConfigTOML(data)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Crystallize.TurnThreshold)
	assert.Equal(t, cfg.Crystallize.Staleness, got.Crystallize.Staleness)
	assert.Equal(t, "jeff", got.Curation.Aliases["jeffrey"])
}

func TestSaveNil(t *testing.T) {
	assert.Error(t, Save(t.TempDir(), nil))
}

func TestDefaultDBPathHonoursHome(t *testing.T) {
	t.Setenv("PPS_HOME", "/tmp/pps-home")
	assert.Equal(t, filepath.Join("/tmp/pps-home", "pps.db"), DefaultDBPath())
}

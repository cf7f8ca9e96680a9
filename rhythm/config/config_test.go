package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultAnalysisConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.HopLength)
	assert.Equal(t, temporal.StrategyRaw, cfg.TempoStrategy)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"hop_length": 256,
		"tempo_strategy": "genre",
		"enable_plp": true,
		"server": {"addr": ":9090", "timeout": 5000000000}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.HopLength)
	assert.Equal(t, 2048, cfg.FrameLength)
	assert.Equal(t, temporal.StrategyGenreTable, cfg.TempoStrategy)
	assert.True(t, cfg.EnablePLP)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAnalysisConfig(), cfg)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"hop_length": `), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"tightness": -1, "tempo_strategy": "fastest"}`), 0o644))
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tightness")
	assert.Contains(t, err.Error(), "fastest")
}

func TestValidateRanges(t *testing.T) {
	cfg := DefaultAnalysisConfig()
	cfg.MinBPM, cfg.MaxBPM = 160, 80
	assert.ErrorContains(t, cfg.Validate(), "max_bpm=80 must be greater than min_bpm=160")

	cfg = DefaultAnalysisConfig()
	cfg.EnablePLP = true
	cfg.PLPTempoMin, cfg.PLPTempoMax = 300, 30
	assert.Error(t, cfg.Validate())

	cfg = DefaultAnalysisConfig()
	cfg.Backend = "fftw"
	assert.Error(t, cfg.Validate())
}

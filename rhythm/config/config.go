package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RyanBlaney/sonido-beat/algorithms/spectral"
	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
)

// AnalysisConfig configures the full rhythm pipeline
type AnalysisConfig struct {
	// Onset envelope
	FrameLength int              `json:"frame_length"`
	HopLength   int              `json:"hop_length"`
	Backend     spectral.Backend `json:"backend"` // "godsp", "gonum", "algofft", "direct"

	// Tempo estimation
	StartBPM      float64           `json:"start_bpm"`
	MinBPM        float64           `json:"min_bpm,omitempty"`
	MaxBPM        float64           `json:"max_bpm,omitempty"`
	TempoStrategy temporal.Strategy `json:"tempo_strategy"` // "raw", "prior", "genre"

	// Beat tracking
	Tightness   float64 `json:"tightness"`
	Trim        bool    `json:"trim"`
	QuickDetect bool    `json:"quick_detect"`

	// Tempogram and pulse
	TempogramWinLength int     `json:"tempogram_win_length"`
	EnableTempogram    bool    `json:"enable_tempogram"`
	EnablePLP          bool    `json:"enable_plp"`
	PLPTempoMin        float64 `json:"plp_tempo_min"`
	PLPTempoMax        float64 `json:"plp_tempo_max"`

	Server ServerConfig `json:"server"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr         string        `json:"addr"`
	Timeout      time.Duration `json:"timeout"`        // Per-request analysis budget
	MaxBodyBytes int64         `json:"max_body_bytes"` // Upload limit
}

// DefaultAnalysisConfig returns the standard pipeline settings
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		FrameLength:        2048,
		HopLength:          512,
		Backend:            spectral.DefaultBackend,
		StartBPM:           120,
		TempoStrategy:      temporal.StrategyRaw,
		Tightness:          100,
		Trim:               true,
		TempogramWinLength: 384,
		EnableTempogram:    true,
		EnablePLP:          false,
		PLPTempoMin:        30,
		PLPTempoMax:        300,
		Server: ServerConfig{
			Addr:         ":8080",
			Timeout:      30 * time.Second,
			MaxBodyBytes: 64 << 20,
		},
	}
}

// Load reads a JSON file over the defaults. An empty path returns the defaults.
func Load(path string) (*AnalysisConfig, error) {
	cfg := DefaultAnalysisConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks ranges. Values the core rejects on its own (tightness,
// start BPM) are checked here too so bad files fail at load time.
func (c *AnalysisConfig) Validate() error {
	var errs []error

	if c.FrameLength <= 0 {
		errs = append(errs, fmt.Errorf("frame_length must be positive: %d", c.FrameLength))
	}
	if c.HopLength <= 0 {
		errs = append(errs, fmt.Errorf("hop_length must be positive: %d", c.HopLength))
	}
	if c.StartBPM <= 0 {
		errs = append(errs, fmt.Errorf("start_bpm must be positive: %v", c.StartBPM))
	}
	if (c.MinBPM != 0 || c.MaxBPM != 0) && c.MaxBPM <= c.MinBPM {
		errs = append(errs, fmt.Errorf("max_bpm=%v must be greater than min_bpm=%v", c.MaxBPM, c.MinBPM))
	}
	if c.Tightness <= 0 {
		errs = append(errs, fmt.Errorf("tightness must be positive: %v", c.Tightness))
	}
	if c.TempogramWinLength <= 0 {
		errs = append(errs, fmt.Errorf("tempogram_win_length must be positive: %d", c.TempogramWinLength))
	}
	if c.EnablePLP && c.PLPTempoMax <= c.PLPTempoMin {
		errs = append(errs, fmt.Errorf("plp_tempo_max=%v must be greater than plp_tempo_min=%v", c.PLPTempoMax, c.PLPTempoMin))
	}
	switch c.TempoStrategy {
	case temporal.StrategyRaw, temporal.StrategyPriorWeighted, temporal.StrategyGenreTable:
	default:
		errs = append(errs, fmt.Errorf("unknown tempo_strategy %q", c.TempoStrategy))
	}
	switch c.Backend {
	case spectral.BackendDirect, spectral.BackendGoDSP, spectral.BackendGonum, spectral.BackendAlgoFFT:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, fmt.Errorf("server timeout cannot be negative: %s", c.Server.Timeout))
	}

	return errors.Join(errs...)
}

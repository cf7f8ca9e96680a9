// Package rhythm runs the full rhythm pipeline over decoded audio: onset
// envelope, global tempo, beat tracking, tempogram and predominant local pulse.
package rhythm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-beat/algorithms/beat"
	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
	"github.com/RyanBlaney/sonido-beat/logging"
	"github.com/RyanBlaney/sonido-beat/rhythm/config"
	"github.com/RyanBlaney/sonido-beat/transcode"
)

// OnsetSummary describes the onset envelope without carrying it
type OnsetSummary struct {
	Frames    int     `json:"frames"`
	FrameRate float64 `json:"frame_rate"`
	HopLength int     `json:"hop_length"`
	Mean      float64 `json:"mean"`
	Max       float64 `json:"max"`
	Peaks     int     `json:"peaks"`
}

// TempogramSummary keeps the tempogram peaks and energy profile
type TempogramSummary struct {
	Frames      int                      `json:"frames"`
	TempoRange  temporal.TempoRange      `json:"tempo_range"`
	Peaks       []temporal.TempogramPeak `json:"peaks"`
	TotalEnergy float64                  `json:"total_energy"`
}

// Analysis is the result of one pipeline run
type Analysis struct {
	ID         string                `json:"id"`
	SampleRate int                   `json:"sample_rate"`
	Duration   float64               `json:"duration"` // seconds
	Onset      OnsetSummary          `json:"onset"`
	Tempo      *temporal.TempoResult `json:"tempo"`
	Category   string                `json:"category"`
	BeatTempo  beat.Tempo            `json:"beat_tempo"`
	Beats      []float64             `json:"beats"` // seconds
	BeatFrames []int                 `json:"beat_frames"`
	RhythmFrom float64               `json:"rhythm_start,omitempty"` // seconds, quick detect only
	Tempogram  *TempogramSummary     `json:"tempogram,omitempty"`
	Pulse      []float64             `json:"pulse,omitempty"`
	PulseBeats []float64             `json:"pulse_beats,omitempty"` // seconds
	CreatedAt  time.Time             `json:"created_at"`
	Elapsed    time.Duration         `json:"elapsed"`
}

// Analyzer wires the algorithm packages together from one AnalysisConfig
type Analyzer struct {
	config *config.AnalysisConfig
	logger logging.Logger
}

// NewAnalyzer validates the configuration. A nil config uses the defaults.
func NewAnalyzer(cfg *config.AnalysisConfig) (*Analyzer, error) {
	if cfg == nil {
		cfg = config.DefaultAnalysisConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
	}

	return &Analyzer{
		config: cfg,
		logger: logging.WithFields(logging.Fields{
			"component": "rhythm_analyzer",
		}),
	}, nil
}

// Config returns the active configuration
func (a *Analyzer) Config() *config.AnalysisConfig {
	return a.config
}

// Analyze runs every enabled stage. ctx is checked between stages only;
// a stage that has started runs to completion.
func (a *Analyzer) Analyze(ctx context.Context, audio *transcode.AudioData) (*Analysis, error) {
	if audio == nil {
		return nil, fmt.Errorf("%w: audio data is required", common.ErrInvalidArgument)
	}
	if audio.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", common.ErrInvalidArgument, audio.SampleRate)
	}

	started := time.Now()
	cfg := a.config
	analysis := &Analysis{
		ID:         uuid.NewString(),
		SampleRate: audio.SampleRate,
		Duration:   float64(len(audio.PCM)) / float64(audio.SampleRate),
		CreatedAt:  started,
	}

	logger := a.logger.WithContext(ctx).WithFields(logging.Fields{
		"function":    "Analyze",
		"analysis_id": analysis.ID,
		"samples":     len(audio.PCM),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	detector := temporal.NewOnsetDetector(temporal.OnsetConfig{
		FrameLength: cfg.FrameLength,
		HopLength:   cfg.HopLength,
		Backend:     cfg.Backend,
	})
	envelope, err := detector.OnsetStrength(audio.PCM, audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("onset strength: %w", err)
	}
	analysis.Onset = summarizeOnsets(envelope)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tempo, err := temporal.TempoEstimation(envelope.Values, audio.SampleRate, temporal.TempoConfig{
		HopLength: cfg.HopLength,
		StartBPM:  cfg.StartBPM,
		MinBPM:    cfg.MinBPM,
		MaxBPM:    cfg.MaxBPM,
		Strategy:  cfg.TempoStrategy,
	})
	if err != nil {
		return nil, fmt.Errorf("tempo estimation: %w", err)
	}
	analysis.Tempo = tempo
	analysis.Category = temporal.ClassifyTempoCategory(tempo.BPM)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := a.trackBeats(analysis, envelope, tempo); err != nil {
		return nil, err
	}

	if cfg.EnableTempogram {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tg, err := a.Tempogram(envelope.Values, audio.SampleRate)
		if err != nil {
			return nil, err
		}
		analysis.Tempogram = tg
	}

	if cfg.EnablePLP {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.pulse(analysis, envelope); err != nil {
			return nil, err
		}
	}

	analysis.Elapsed = time.Since(started)

	logger.Info("Rhythm analysis completed", logging.Fields{
		"bpm":        tempo.BPM,
		"confidence": tempo.Confidence,
		"beats":      len(analysis.Beats),
		"elapsed_ms": analysis.Elapsed.Milliseconds(),
	})

	return analysis, nil
}

// AnalyzeSamples wraps mono samples and runs Analyze
func (a *Analyzer) AnalyzeSamples(ctx context.Context, samples []float64, sampleRate int) (*Analysis, error) {
	if samples == nil {
		return nil, fmt.Errorf("%w: samples are required", common.ErrInvalidArgument)
	}
	return a.Analyze(ctx, transcode.NewAudioData(samples, sampleRate))
}

// Tempogram summarizes the Fourier tempogram of an onset envelope
func (a *Analyzer) Tempogram(envelope []float64, sampleRate int) (*TempogramSummary, error) {
	result, err := temporal.ComputeFourierTempogram(envelope, sampleRate, temporal.TempogramConfig{
		HopLength: a.config.HopLength,
		WinLength: a.config.TempogramWinLength,
		Backend:   a.config.Backend,
	})
	if err != nil {
		return nil, fmt.Errorf("tempogram: %w", err)
	}

	return &TempogramSummary{
		Frames:      result.Frames,
		TempoRange:  result.TempoRange,
		Peaks:       result.PeakTempos,
		TotalEnergy: result.TotalEnergy,
	}, nil
}

// trackBeats feeds the global estimate to the tracker so both agree
func (a *Analyzer) trackBeats(analysis *Analysis, envelope *temporal.OnsetEnvelope, tempo *temporal.TempoResult) error {
	cfg := a.config

	opts := beat.DefaultOptions()
	opts.FrameLength = cfg.FrameLength
	opts.HopLength = cfg.HopLength
	opts.StartBPM = cfg.StartBPM
	opts.Tightness = cfg.Tightness
	opts.Trim = cfg.Trim
	opts.QuickDetect = cfg.QuickDetect
	opts.TempoStrategy = cfg.TempoStrategy
	opts.Backend = cfg.Backend
	// quick detect re-estimates on its excerpt
	if tempo.BPM > 0 && !cfg.QuickDetect {
		bpm := beat.StaticTempo(tempo.BPM)
		opts.BPM = &bpm
	}

	result, err := beat.NewTracker(opts).Track(beat.Input{
		Envelope:   envelope.Values,
		SampleRate: envelope.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("beat tracking: %w", err)
	}

	analysis.BeatTempo = result.Tempo
	analysis.BeatFrames = result.Frames
	analysis.Beats = result.Times(envelope.SampleRate, envelope.HopLength)
	if cfg.QuickDetect {
		analysis.RhythmFrom = envelope.FrameTime(result.QuickDetectStart)
	}
	return nil
}

func (a *Analyzer) pulse(analysis *Analysis, envelope *temporal.OnsetEnvelope) error {
	cfg := a.config

	pulse, err := beat.PLP(beat.Input{
		Envelope:   envelope.Values,
		SampleRate: envelope.SampleRate,
	}, beat.PLPOptions{
		FrameLength: cfg.FrameLength,
		HopLength:   cfg.HopLength,
		WinLength:   cfg.TempogramWinLength,
		TempoMin:    cfg.PLPTempoMin,
		TempoMax:    cfg.PLPTempoMax,
		Backend:     cfg.Backend,
	})
	if err != nil {
		return fmt.Errorf("predominant local pulse: %w", err)
	}

	analysis.Pulse = pulse
	peaks := beat.PulsePeaks(pulse)
	analysis.PulseBeats = make([]float64, len(peaks))
	for i, p := range peaks {
		analysis.PulseBeats[i] = envelope.FrameTime(p)
	}
	return nil
}

func summarizeOnsets(envelope *temporal.OnsetEnvelope) OnsetSummary {
	summary := OnsetSummary{
		Frames:    envelope.Len(),
		FrameRate: envelope.FrameRate(),
		HopLength: envelope.HopLength,
	}
	if envelope.Len() == 0 {
		return summary
	}

	summary.Mean = common.Mean(envelope.Values)
	summary.Max = common.Max(envelope.Values)

	// peaks at least a quarter second apart and a tenth of the maximum
	minGap := max(1, int(0.25*envelope.FrameRate()))
	summary.Peaks = len(envelope.PeakFrames(0.1, minGap))
	return summary
}

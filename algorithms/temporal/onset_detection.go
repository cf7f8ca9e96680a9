package temporal

import (
	"fmt"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/algorithms/spectral"
	"github.com/RyanBlaney/sonido-beat/logging"
)

// OnsetConfig holds the framing parameters of the onset detector
type OnsetConfig struct {
	FrameLength   int              `json:"frame_length"`
	HopLength     int              `json:"hop_length"`
	ProgressEvery int              `json:"progress_every"` // frames between progress reports, 0 disables
	Backend       spectral.Backend `json:"backend"`
}

// DefaultOnsetConfig returns the standard 2048/512 framing
func DefaultOnsetConfig() OnsetConfig {
	return OnsetConfig{
		FrameLength:   2048,
		HopLength:     512,
		ProgressEvery: 100,
		Backend:       spectral.DefaultBackend,
	}
}

// ProgressFunc receives the number of processed frames out of total.
// It has no effect on results.
type ProgressFunc func(done, total int)

// OnsetEnvelope is an onset strength value per analysis frame.
// Frame i starts at sample i*HopLength.
type OnsetEnvelope struct {
	Values     []float64 `json:"values"`
	SampleRate int       `json:"sample_rate"`
	HopLength  int       `json:"hop_length"`
}

// NewOnsetEnvelope wraps precomputed onset values
func NewOnsetEnvelope(values []float64, sampleRate, hopLength int) *OnsetEnvelope {
	return &OnsetEnvelope{Values: values, SampleRate: sampleRate, HopLength: hopLength}
}

// Len returns the number of frames
func (e *OnsetEnvelope) Len() int {
	return len(e.Values)
}

// FrameRate returns frames per second
func (e *OnsetEnvelope) FrameRate() float64 {
	if e.HopLength <= 0 {
		return 0
	}
	return float64(e.SampleRate) / float64(e.HopLength)
}

// FrameTime returns the time in seconds of frame i
func (e *OnsetEnvelope) FrameTime(i int) float64 {
	if e.SampleRate <= 0 {
		return 0
	}
	return float64(i*e.HopLength) / float64(e.SampleRate)
}

// Duration returns the time span covered by the frames
func (e *OnsetEnvelope) Duration() float64 {
	return e.FrameTime(len(e.Values))
}

// PeakFrames finds salient local maxima that reach threshold*max(envelope)
// and are at least minGap frames after the previously accepted peak.
func (e *OnsetEnvelope) PeakFrames(threshold float64, minGap int) []int {
	if len(e.Values) < 3 {
		return []int{}
	}

	limit := threshold * common.Max(e.Values)
	if limit <= 0 {
		return []int{}
	}

	peaks := []int{}
	lastPeakFrame := -minGap // Allow first peak

	for i := 1; i < len(e.Values)-1; i++ {
		if e.Values[i] > e.Values[i-1] &&
			e.Values[i] >= e.Values[i+1] &&
			e.Values[i] >= limit &&
			i-lastPeakFrame >= minGap {
			peaks = append(peaks, i)
			lastPeakFrame = i
		}
	}

	return peaks
}

// OnsetDetector converts samples into a spectral-flux onset envelope
type OnsetDetector struct {
	config       OnsetConfig
	stft         *spectral.STFT
	spectralFlux *spectral.SpectralFlux
	progress     ProgressFunc
	logger       logging.Logger
}

// NewOnsetDetector creates a new onset detector
func NewOnsetDetector(config OnsetConfig) *OnsetDetector {
	defaults := DefaultOnsetConfig()
	if config.FrameLength <= 0 {
		config.FrameLength = defaults.FrameLength
	}
	if config.HopLength <= 0 {
		config.HopLength = defaults.HopLength
	}
	if config.Backend == "" {
		config.Backend = defaults.Backend
	}

	return &OnsetDetector{
		config:       config,
		stft:         spectral.NewSTFT(spectral.NewSpectrumEngine(config.Backend)),
		spectralFlux: spectral.NewSpectralFlux(),
		logger: logging.WithFields(logging.Fields{
			"component": "onset_detector",
		}),
	}
}

// SetProgress installs a progress callback
func (od *OnsetDetector) SetProgress(fn ProgressFunc) {
	od.progress = fn
}

// Config returns the detector configuration
func (od *OnsetDetector) Config() OnsetConfig {
	return od.config
}

// OnsetStrength computes the spectral flux envelope of samples.
// A trailing partial frame is dropped; input shorter than one frame yields an
// empty envelope.
func (od *OnsetDetector) OnsetStrength(samples []float64, sampleRate int) (*OnsetEnvelope, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", common.ErrInvalidArgument, sampleRate)
	}

	logger := od.logger.WithFields(logging.Fields{
		"function":    "OnsetStrength",
		"samples":     len(samples),
		"sample_rate": sampleRate,
	})

	stftResult, err := od.stft.Compute(samples, od.config.FrameLength, od.config.HopLength, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to compute spectrogram: %w", err)
	}

	total := stftResult.TimeFrames
	values := make([]float64, total)

	for i := 1; i < total; i++ {
		values[i] = od.spectralFlux.Between(stftResult.Magnitude[i-1], stftResult.Magnitude[i])
		od.reportProgress(logger, i+1, total)
	}

	logger.Debug("Onset envelope computed", logging.Fields{"frames": total})

	return NewOnsetEnvelope(values, sampleRate, od.config.HopLength), nil
}

func (od *OnsetDetector) reportProgress(logger logging.Logger, done, total int) {
	every := od.config.ProgressEvery
	if every <= 0 || (done%every != 0 && done != total) {
		return
	}
	if od.progress != nil {
		od.progress(done, total)
	}
	logger.Debug("Onset progress", logging.Fields{"done": done, "total": total})
}

// OnsetStrength is a convenience wrapper around OnsetDetector with explicit framing
func OnsetStrength(samples []float64, sampleRate, frameLength, hopLength int) (*OnsetEnvelope, error) {
	config := DefaultOnsetConfig()
	config.FrameLength = frameLength
	config.HopLength = hopLength
	return NewOnsetDetector(config).OnsetStrength(samples, sampleRate)
}

package beat

import (
	"fmt"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
	"github.com/RyanBlaney/sonido-beat/logging"
)

const (
	sessionTolerance  = 0.10
	sessionMaxHistory = 16
)

// TrackingSession carries the last known tempo between successive analyses
// of a live or chunked stream. It is not safe for concurrent use.
type TrackingSession struct {
	sampleRate int
	hopLength  int
	initialBPM float64
	lastBPM    float64
	history    []float64
	estimator  *temporal.TempoEstimator
	logger     logging.Logger
}

// NewTrackingSession starts a session. initialBPM <= 0 means no prior tempo,
// so the first update searches the global window.
func NewTrackingSession(sampleRate, hopLength int, initialBPM float64) (*TrackingSession, error) {
	if sampleRate <= 0 || hopLength <= 0 {
		return nil, fmt.Errorf("%w: sample rate and hop length must be positive", common.ErrInvalidArgument)
	}

	s := &TrackingSession{
		sampleRate: sampleRate,
		hopLength:  hopLength,
		initialBPM: max(initialBPM, 0),
		estimator: temporal.NewTempoEstimator(temporal.TempoConfig{
			HopLength: hopLength,
			Strategy:  temporal.StrategyRaw,
		}),
		logger: logging.WithFields(logging.Fields{
			"component": "tracking_session",
		}),
	}
	s.Reset()
	return s, nil
}

// Update estimates the tempo of the next envelope chunk. With a known tempo
// the search is restricted to ±10% around it. Chunks without any
// autocorrelation peak leave the state unchanged.
func (s *TrackingSession) Update(envelope []float64) (*temporal.TempoResult, error) {
	var (
		result *temporal.TempoResult
		err    error
	)

	if s.lastBPM > 0 {
		result, err = s.estimator.EstimateLocal(envelope, s.sampleRate, s.lastBPM, s.lastBPM*sessionTolerance)
	} else {
		result, err = s.estimator.Estimate(envelope, s.sampleRate)
	}
	if err != nil {
		return nil, err
	}

	if result.Score > 0 {
		s.lastBPM = result.BPM
		s.history = append(s.history, result.BPM)
		if len(s.history) > sessionMaxHistory {
			s.history = s.history[len(s.history)-sessionMaxHistory:]
		}
	}

	s.logger.Debug("Session updated", logging.Fields{
		"bpm":       result.BPM,
		"last_bpm":  s.lastBPM,
		"stability": s.Stability(),
	})

	return result, nil
}

// LastBPM returns the most recent accepted tempo, or 0 if none
func (s *TrackingSession) LastBPM() float64 {
	return s.lastBPM
}

// History returns a copy of the recent accepted tempos, oldest first
func (s *TrackingSession) History() []float64 {
	h := make([]float64, len(s.history))
	copy(h, s.history)
	return h
}

// Stability is 1 minus the coefficient of variation of recent tempos,
// clamped to [0, 1]. Fewer than two estimates give 0.
func (s *TrackingSession) Stability() float64 {
	if len(s.history) < 2 {
		return 0
	}
	return common.Clamp01(1 - common.CoefficientOfVariation(s.history))
}

// Reset restores the initial tempo and clears the history
func (s *TrackingSession) Reset() {
	s.lastBPM = s.initialBPM
	s.history = nil
}

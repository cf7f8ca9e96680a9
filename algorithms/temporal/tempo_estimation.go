package temporal

import (
	"fmt"
	"math"
	"sort"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/logging"
)

const (
	// Global search window
	DefaultMinSearchBPM = 70.0
	DefaultMaxSearchBPM = 180.0

	// Result clamp when the caller gives no explicit range
	MinReportedBPM = 30.0
	MaxReportedBPM = 300.0

	DefaultStartBPM = 120.0
)

// TempoCandidate is one autocorrelation lag expressed as a tempo
type TempoCandidate struct {
	BPM   float64 `json:"bpm"`
	Score float64 `json:"score"`
	Lag   int     `json:"lag"`
}

// TempoRelationship records a metrical ratio between the winner and another candidate
type TempoRelationship struct {
	BPM   float64 `json:"bpm"`
	Ratio float64 `json:"ratio"`
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

// TempoResult holds a global tempo estimate
type TempoResult struct {
	BPM           float64             `json:"bpm"`
	Confidence    float64             `json:"confidence"`
	Score         float64             `json:"score"`
	Lag           int                 `json:"lag"`
	Candidates    []TempoCandidate    `json:"candidates"`
	Relationships []TempoRelationship `json:"relationships,omitempty"`
	IntervalBPM   float64             `json:"interval_bpm,omitempty"`
	Strategy      Strategy            `json:"strategy"`
}

// TempoConfig controls tempo estimation.
// When both MinBPM and MaxBPM are set they replace the default search window
// and also bound the reported tempo.
type TempoConfig struct {
	HopLength int      `json:"hop_length"`
	StartBPM  float64  `json:"start_bpm"`
	MinBPM    float64  `json:"min_bpm,omitempty"`
	MaxBPM    float64  `json:"max_bpm,omitempty"`
	Strategy  Strategy `json:"strategy"`
}

// DefaultTempoConfig returns the settings of the standalone estimator
func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		HopLength: 512,
		StartBPM:  DefaultStartBPM,
		Strategy:  StrategyGenreTable,
	}
}

// LagToBPM converts an autocorrelation lag in frames to BPM
func LagToBPM(lag float64, sampleRate, hopLength int) float64 {
	if lag <= 0 {
		return 0
	}
	return 60.0 * float64(sampleRate) / (lag * float64(hopLength))
}

// BPMToLag converts BPM to a fractional lag in frames
func BPMToLag(bpm float64, sampleRate, hopLength int) float64 {
	if bpm <= 0 {
		return 0
	}
	return 60.0 * float64(sampleRate) / (bpm * float64(hopLength))
}

// TempoEstimator performs autocorrelation tempo search with a swappable
// ranking strategy
type TempoEstimator struct {
	config TempoConfig
	ranker Ranker
	logger logging.Logger
}

// NewTempoEstimator creates a new tempo estimator
func NewTempoEstimator(config TempoConfig) *TempoEstimator {
	if config.HopLength <= 0 {
		config.HopLength = 512
	}
	if config.StartBPM == 0 {
		config.StartBPM = DefaultStartBPM
	}
	if config.Strategy == "" {
		config.Strategy = StrategyGenreTable
	}

	return &TempoEstimator{
		config: config,
		ranker: NewRanker(config.Strategy),
		logger: logging.WithFields(logging.Fields{
			"component": "tempo_estimator",
			"strategy":  string(config.Strategy),
		}),
	}
}

// Config returns the estimator configuration
func (te *TempoEstimator) Config() TempoConfig {
	return te.config
}

// Estimate runs autocorrelation over the search window and ranks the lags
func (te *TempoEstimator) Estimate(envelope []float64, sampleRate int) (*TempoResult, error) {
	cfg := te.config
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", common.ErrInvalidArgument, sampleRate)
	}
	if cfg.StartBPM <= 0 {
		return nil, fmt.Errorf("%w: start BPM must be strictly positive", common.ErrInvalidArgument)
	}

	searchMin, searchMax := DefaultMinSearchBPM, DefaultMaxSearchBPM
	clampMin, clampMax := MinReportedBPM, MaxReportedBPM
	if cfg.MinBPM > 0 || cfg.MaxBPM > 0 {
		if cfg.MinBPM <= 0 || cfg.MaxBPM <= cfg.MinBPM {
			return nil, fmt.Errorf("%w: maxBpm=%v must be greater than minBpm=%v", common.ErrInvalidArgument, cfg.MaxBPM, cfg.MinBPM)
		}
		searchMin, searchMax = cfg.MinBPM, cfg.MaxBPM
		clampMin, clampMax = cfg.MinBPM, cfg.MaxBPM
	}

	minLag := max(1, int(math.Ceil(BPMToLag(searchMax, sampleRate, cfg.HopLength))))
	maxLag := min(len(envelope)-1, int(math.Floor(BPMToLag(searchMin, sampleRate, cfg.HopLength))))

	autocorr := Autocorrelate(envelope, minLag, maxLag)
	candidates := rankCandidates(autocorr, minLag, maxLag, sampleRate, cfg.HopLength)

	result := &TempoResult{
		BPM:        cfg.StartBPM,
		Candidates: candidates,
		Strategy:   te.ranker.Strategy(),
	}

	if len(candidates) == 0 || candidates[0].Score <= 0 {
		te.logger.Debug("No autocorrelation peak, falling back to start BPM", logging.Fields{
			"frames":    len(envelope),
			"start_bpm": cfg.StartBPM,
		})
		return result, nil
	}

	ranking := te.ranker.Rank(RankInput{
		Envelope:   envelope,
		Autocorr:   autocorr,
		MinLag:     minLag,
		MaxLag:     maxLag,
		SampleRate: sampleRate,
		HopLength:  cfg.HopLength,
		StartBPM:   cfg.StartBPM,
		Candidates: candidates,
	})

	result.BPM = common.Clamp(ranking.BPM, clampMin, clampMax)
	result.Score = ranking.Best.Score
	result.Lag = ranking.Best.Lag
	result.Relationships = ranking.Relationships
	result.IntervalBPM = ranking.IntervalBPM
	result.Confidence = confidence(ranking.Best.Score, autocorr[minLag:maxLag+1])

	te.logger.Debug("Tempo estimated", logging.Fields{
		"bpm":        result.BPM,
		"score":      result.Score,
		"confidence": result.Confidence,
		"candidates": len(candidates),
	})

	return result, nil
}

// EstimateLocal searches only [center-tolerance, center+tolerance]
func (te *TempoEstimator) EstimateLocal(envelope []float64, sampleRate int, center, tolerance float64) (*TempoResult, error) {
	if center <= 0 || tolerance <= 0 || tolerance >= center {
		return nil, fmt.Errorf("%w: local search needs 0 < tolerance < center, got center=%v tolerance=%v",
			common.ErrInvalidArgument, center, tolerance)
	}
	cfg := te.config
	cfg.MinBPM = center - tolerance
	cfg.MaxBPM = center + tolerance
	cfg.StartBPM = center

	local := &TempoEstimator{config: cfg, ranker: te.ranker, logger: te.logger}
	return local.Estimate(envelope, sampleRate)
}

// Autocorrelate returns a lag-indexed slice where entry L in [minLag, maxLag]
// is Σo[i]o[i+L] / Σo[i]² over the valid i. Zero norms give 0.
func Autocorrelate(envelope []float64, minLag, maxLag int) []float64 {
	autocorr := make([]float64, max(maxLag+1, 0))

	for lag := max(minLag, 1); lag <= maxLag; lag++ {
		corr := 0.0
		norm := 0.0
		for i := 0; i+lag < len(envelope); i++ {
			corr += envelope[i] * envelope[i+lag]
			norm += envelope[i] * envelope[i]
		}
		if norm > 0 {
			autocorr[lag] = corr / norm
		}
	}

	return autocorr
}

// rankCandidates sorts lags by score descending, lower BPM first on ties
func rankCandidates(autocorr []float64, minLag, maxLag, sampleRate, hopLength int) []TempoCandidate {
	candidates := make([]TempoCandidate, 0, max(maxLag-minLag+1, 0))
	for lag := minLag; lag <= maxLag; lag++ {
		candidates = append(candidates, TempoCandidate{
			BPM:   LagToBPM(float64(lag), sampleRate, hopLength),
			Score: autocorr[lag],
			Lag:   lag,
		})
	}
	sortCandidates(candidates)
	return candidates
}

func sortCandidates(candidates []TempoCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].BPM < candidates[j].BPM
	})
}

// confidence is a relative prominence of the best score over the mean score
func confidence(best float64, scores []float64) float64 {
	avg := common.Mean(scores)
	return common.Clamp01((best - avg) / (0.3 + avg*0.5))
}

// EstimateTempo is the primary analysis path: raw autocorrelation ranking
func EstimateTempo(envelope []float64, sampleRate, hopLength int, startBPM float64) (*TempoResult, error) {
	return NewTempoEstimator(TempoConfig{
		HopLength: hopLength,
		StartBPM:  startBPM,
		Strategy:  StrategyRaw,
	}).Estimate(envelope, sampleRate)
}

// TempoEstimation is the standalone entry point with configurable strategy
func TempoEstimation(envelope []float64, sampleRate int, config TempoConfig) (*TempoResult, error) {
	return NewTempoEstimator(config).Estimate(envelope, sampleRate)
}

// ClassifyTempoCategory classifies tempo into broad categories
func ClassifyTempoCategory(tempo float64) string {
	if tempo < 60 {
		return "very_slow"
	} else if tempo < 90 {
		return "slow"
	} else if tempo < 120 {
		return "moderate"
	} else if tempo < 150 {
		return "fast"
	} else {
		return "very_fast"
	}
}

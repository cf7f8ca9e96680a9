package temporal

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
)

const (
	testSampleRate = 22050
	testHop        = 512
)

// impulseEnvelope places unit impulses every framesPerBeat frames
func impulseEnvelope(framesPerBeat, beats int) []float64 {
	env := make([]float64, framesPerBeat*beats)
	for i := 0; i < len(env); i += framesPerBeat {
		env[i] = 1
	}
	return env
}

func framesPerBeat(bpm float64) int {
	return int(math.Round(float64(testSampleRate) / float64(testHop) * 60.0 / bpm))
}

// clickTrain renders short decaying noise bursts at the given interval
func clickTrain(sampleRate int, seconds, interval float64) []float64 {
	samples := make([]float64, int(seconds*float64(sampleRate)))
	step := int(interval * float64(sampleRate))
	for start := 0; start < len(samples); start += step {
		for i := 0; i < 400 && start+i < len(samples); i++ {
			samples[start+i] = math.Exp(-float64(i)/60.0) * math.Sin(float64(i)*1.3)
		}
	}
	return samples
}

func TestOnsetStrengthFraming(t *testing.T) {
	samples := clickTrain(testSampleRate, 4, 0.5)
	detector := NewOnsetDetector(DefaultOnsetConfig())

	var calls [][2]int
	detector.SetProgress(func(done, total int) { calls = append(calls, [2]int{done, total}) })

	env, err := detector.OnsetStrength(samples, testSampleRate)
	require.NoError(t, err)

	wantFrames := (len(samples)-2048)/512 + 1
	require.Equal(t, wantFrames, env.Len())
	assert.Equal(t, 0.0, env.Values[0])
	for _, v := range env.Values {
		assert.GreaterOrEqual(t, v, 0.0)
	}

	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int{100, wantFrames}, calls[0])
	assert.Equal(t, [2]int{wantFrames, wantFrames}, calls[len(calls)-1])

	// the strongest onset should sit on a click
	peak := common.ArgMax(env.Values)
	clickFrames := 0.5 * env.FrameRate()
	phase := math.Mod(float64(peak), clickFrames)
	assert.True(t, phase <= 4 || clickFrames-phase <= 4, "peak frame %d is not near a click", peak)
}

func TestOnsetStrengthDegenerate(t *testing.T) {
	env, err := OnsetStrength(make([]float64, 1000), testSampleRate, 2048, 512)
	require.NoError(t, err)
	assert.Equal(t, 0, env.Len())

	env, err = OnsetStrength(make([]float64, 10000), testSampleRate, 2048, 512)
	require.NoError(t, err)
	for _, v := range env.Values {
		assert.Equal(t, 0.0, v)
	}

	_, err = OnsetStrength(make([]float64, 10000), 0, 2048, 512)
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))
}

func TestOnsetEnvelopeTiming(t *testing.T) {
	env := NewOnsetEnvelope(make([]float64, 100), 22050, 512)
	assert.InDelta(t, 512.0/22050.0, env.FrameTime(1), 1e-12)
	assert.InDelta(t, 22050.0/512.0, env.FrameRate(), 1e-12)
	assert.InDelta(t, 100*512.0/22050.0, env.Duration(), 1e-12)
}

func TestAutocorrelate(t *testing.T) {
	env := []float64{1, 0, 1, 0, 1, 0}
	ac := Autocorrelate(env, 1, 3)
	require.Len(t, ac, 4)
	assert.Equal(t, 0.0, ac[1])
	// corr = 2 over i in [0,4), norm = 2
	assert.Equal(t, 1.0, ac[2])
	assert.Equal(t, 0.0, ac[3])

	zeros := Autocorrelate(make([]float64, 10), 1, 5)
	for _, v := range zeros {
		assert.False(t, math.IsNaN(v))
		assert.Equal(t, 0.0, v)
	}
}

func TestTempoEstimationImpulseTrains(t *testing.T) {
	for _, bpm := range []float64{120, 100} {
		env := impulseEnvelope(framesPerBeat(bpm), 16)

		result, err := TempoEstimation(env, testSampleRate, DefaultTempoConfig())
		require.NoError(t, err)
		assert.Equal(t, bpm, math.Round(result.BPM), "bpm %v", bpm)
		assert.Equal(t, StrategyGenreTable, result.Strategy)
		assert.Equal(t, framesPerBeat(bpm), result.Lag)
		assert.Greater(t, result.Confidence, 0.5)
		assert.InDelta(t, LagToBPM(float64(result.Lag), testSampleRate, testHop), result.IntervalBPM, 1e-9)
	}
}

func TestEstimateTempoRawReportsLagTempo(t *testing.T) {
	fpb := framesPerBeat(120)
	env := impulseEnvelope(fpb, 16)

	result, err := EstimateTempo(env, testSampleRate, testHop, 120)
	require.NoError(t, err)

	assert.Equal(t, StrategyRaw, result.Strategy)
	assert.InDelta(t, 60.0*testSampleRate/float64(fpb*testHop), result.BPM, 1e-9)
	assert.Equal(t, 1.0, result.Score)

	for i := 1; i < len(result.Candidates); i++ {
		prev, cur := result.Candidates[i-1], result.Candidates[i]
		assert.True(t, prev.Score > cur.Score || (prev.Score == cur.Score && prev.BPM < cur.BPM))
		assert.InDelta(t, 60.0*testSampleRate/float64(cur.Lag*testHop), cur.BPM, 1e-9)
	}
}

func TestTempoEstimationClampsToExplicitRange(t *testing.T) {
	// 161.5 BPM train: only the half-tempo lag falls inside [80, 120]
	env := impulseEnvelope(16, 30)

	for _, strategy := range []Strategy{StrategyRaw, StrategyPriorWeighted, StrategyGenreTable} {
		cfg := DefaultTempoConfig()
		cfg.MinBPM = 80
		cfg.MaxBPM = 120
		cfg.Strategy = strategy

		result, err := TempoEstimation(env, testSampleRate, cfg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.BPM, 80.0, string(strategy))
		assert.LessOrEqual(t, result.BPM, 120.0, string(strategy))
	}

	cfg := DefaultTempoConfig()
	cfg.MinBPM = 120
	cfg.MaxBPM = 80
	_, err := TempoEstimation(env, testSampleRate, cfg)
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))
}

func TestTempoEstimationNoPeakReturnsStartBPM(t *testing.T) {
	result, err := EstimateTempo(make([]float64, 500), testSampleRate, testHop, 97)
	require.NoError(t, err)
	assert.Equal(t, 97.0, result.BPM)
	assert.Equal(t, 0.0, result.Score)

	result, err = EstimateTempo(nil, testSampleRate, testHop, 120)
	require.NoError(t, err)
	assert.Equal(t, 120.0, result.BPM)

	// the start tempo comes back as given, even outside the search range
	result, err = EstimateTempo(make([]float64, 500), testSampleRate, testHop, 400)
	require.NoError(t, err)
	assert.Equal(t, 400.0, result.BPM)
	assert.Equal(t, 0.0, result.Score)
	assert.Zero(t, result.Confidence)
}

func TestPriorWeightedPrefersHint(t *testing.T) {
	// equal-score peaks at 86 and 172 BPM (lags 30 and 15)
	env := impulseEnvelope(15, 40)
	cfg := DefaultTempoConfig()
	cfg.Strategy = StrategyPriorWeighted

	cfg.StartBPM = 170
	high, err := TempoEstimation(env, testSampleRate, cfg)
	require.NoError(t, err)
	assert.Equal(t, 15, high.Lag)

	cfg.StartBPM = 85
	low, err := TempoEstimation(env, testSampleRate, cfg)
	require.NoError(t, err)
	assert.Equal(t, 30, low.Lag)

	require.NotEmpty(t, low.Relationships)
	assert.Equal(t, "double", low.Relationships[0].Kind)
}

func TestEstimateLocal(t *testing.T) {
	env := impulseEnvelope(framesPerBeat(100), 20)
	estimator := NewTempoEstimator(TempoConfig{HopLength: testHop, Strategy: StrategyRaw})

	result, err := estimator.EstimateLocal(env, testSampleRate, 100, 10)
	require.NoError(t, err)
	assert.InDelta(t, 99.38, result.BPM, 0.01)

	_, err = estimator.EstimateLocal(env, testSampleRate, 100, 0)
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))
}

func TestClassifyTempoCategory(t *testing.T) {
	assert.Equal(t, "very_slow", ClassifyTempoCategory(50))
	assert.Equal(t, "moderate", ClassifyTempoCategory(100))
	assert.Equal(t, "fast", ClassifyTempoCategory(128))
	assert.Equal(t, "very_fast", ClassifyTempoCategory(174))
}

func TestTempogramImpulseTrain(t *testing.T) {
	env := impulseEnvelope(framesPerBeat(120), 40)

	result, err := ComputeFourierTempogram(env, testSampleRate, DefaultTempogramConfig())
	require.NoError(t, err)

	// (880-384)/96 + 1
	assert.Equal(t, 6, result.Frames)
	require.Len(t, result.Tempogram, 6)
	assert.Len(t, result.Tempogram[0], 193)
	assert.Len(t, result.Frequencies, 193)
	assert.InDelta(t, 22050.0*60/(384*512), result.TempoRange.Min, 1e-9)

	require.NotEmpty(t, result.PeakTempos)
	top := result.PeakTempos[0]
	assert.InDelta(t, 117.45, top.BPM, 7)
	assert.Greater(t, top.Prominence, 0.0)
	assert.LessOrEqual(t, top.Prominence, 1.0)
	assert.Equal(t, 6, top.FrameCount)

	for i := 1; i < len(result.PeakTempos); i++ {
		assert.GreaterOrEqual(t, result.PeakTempos[i-1].Energy, result.PeakTempos[i].Energy)
	}
	assert.InDelta(t, 1.0, common.Sum(result.EnergyDistribution), 1e-9)
}

func TestTempogramProminenceIncludesDC(t *testing.T) {
	env := impulseEnvelope(framesPerBeat(120), 40)
	for i := range env {
		env[i] += 0.5
	}

	result, err := ComputeFourierTempogram(env, testSampleRate, DefaultTempogramConfig())
	require.NoError(t, err)
	require.NotEmpty(t, result.PeakTempos)

	average := make([]float64, len(result.Frequencies))
	for _, row := range result.Tempogram {
		for j, v := range row {
			average[j] += v / float64(result.Frames)
		}
	}
	maxAverage := common.Max(average)
	assert.Equal(t, 0, common.ArgMax(average), "baseline puts the most energy in the DC bin")

	for _, peak := range result.PeakTempos {
		assert.InDelta(t, peak.Energy/maxAverage, peak.Prominence, 1e-9, "peak at %.2f BPM", peak.BPM)
		assert.Greater(t, peak.Energy, 0.01*maxAverage)
		assert.Less(t, peak.Prominence, 1.0)
	}
}

func TestTempogramShortEnvelope(t *testing.T) {
	result, err := ComputeFourierTempogram(make([]float64, 100), testSampleRate, DefaultTempogramConfig())
	require.NoError(t, err)
	assert.False(t, result.Available())
	assert.Equal(t, 0, result.Frames)
	assert.Empty(t, result.PeakTempos)
	assert.Empty(t, result.Tempogram)
}

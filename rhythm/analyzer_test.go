package rhythm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/rhythm/config"
	"github.com/RyanBlaney/sonido-beat/transcode"
)

const testSampleRate = 22050

// clickTrain returns decaying clicks at the given tempo
func clickTrain(bpm, seconds float64) []float64 {
	samples := make([]float64, int(seconds*testSampleRate))
	step := int(math.Round(60.0 / bpm * testSampleRate))
	for start := 0; start < len(samples); start += step {
		for i := 0; i < 400 && start+i < len(samples); i++ {
			samples[start+i] = math.Exp(-float64(i)/60.0) * math.Sin(float64(i)*0.7)
		}
	}
	return samples
}

func TestAnalyzeClickTrain(t *testing.T) {
	cfg := config.DefaultAnalysisConfig()
	cfg.EnablePLP = true
	analyzer, err := NewAnalyzer(cfg)
	require.NoError(t, err)

	samples := clickTrain(120, 10)
	analysis, err := analyzer.Analyze(context.Background(), transcode.NewAudioData(samples, testSampleRate))
	require.NoError(t, err)

	_, err = uuid.Parse(analysis.ID)
	assert.NoError(t, err)
	assert.Equal(t, testSampleRate, analysis.SampleRate)
	assert.InDelta(t, 10.0, analysis.Duration, 1e-9)

	require.NotNil(t, analysis.Tempo)
	assert.InDelta(t, 120, analysis.Tempo.BPM, 6)
	assert.Equal(t, analysis.Tempo.BPM, analysis.BeatTempo.BPM())
	assert.Contains(t, []string{"moderate", "fast"}, analysis.Category)

	require.GreaterOrEqual(t, len(analysis.Beats), 15)
	for i := 1; i < len(analysis.Beats); i++ {
		assert.InDelta(t, 0.5, analysis.Beats[i]-analysis.Beats[i-1], 0.05)
	}

	assert.Greater(t, analysis.Onset.Frames, 0)
	assert.Greater(t, analysis.Onset.Peaks, 10)

	require.NotNil(t, analysis.Tempogram)
	assert.Greater(t, analysis.Tempogram.Frames, 0)
	assert.NotEmpty(t, analysis.Tempogram.Peaks)

	assert.Len(t, analysis.Pulse, analysis.Onset.Frames)
	assert.NotEmpty(t, analysis.PulseBeats)

	data, err := json.Marshal(analysis)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"beat_tempo":`)
}

func TestAnalyzeSilence(t *testing.T) {
	analyzer, err := NewAnalyzer(nil)
	require.NoError(t, err)

	analysis, err := analyzer.AnalyzeSamples(context.Background(), make([]float64, 3*testSampleRate), testSampleRate)
	require.NoError(t, err)

	assert.Equal(t, 120.0, analysis.Tempo.BPM)
	assert.Equal(t, 0.0, analysis.Tempo.Score)
	assert.Empty(t, analysis.Beats)
	assert.Nil(t, analysis.Pulse)
}

func TestAnalyzeHonorsCancellation(t *testing.T) {
	analyzer, err := NewAnalyzer(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = analyzer.AnalyzeSamples(ctx, clickTrain(120, 2), testSampleRate)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeInvalidInput(t *testing.T) {
	analyzer, err := NewAnalyzer(nil)
	require.NoError(t, err)

	_, err = analyzer.Analyze(context.Background(), nil)
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))

	_, err = analyzer.AnalyzeSamples(context.Background(), []float64{0, 1}, 0)
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))

	_, err = analyzer.AnalyzeSamples(context.Background(), nil, testSampleRate)
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))

	cfg := config.DefaultAnalysisConfig()
	cfg.Tightness = 0
	_, err = NewAnalyzer(cfg)
	assert.True(t, errors.Is(err, common.ErrInvalidArgument))
}

func TestAnalyzeQuickDetect(t *testing.T) {
	cfg := config.DefaultAnalysisConfig()
	cfg.QuickDetect = true
	cfg.EnableTempogram = false
	analyzer, err := NewAnalyzer(cfg)
	require.NoError(t, err)

	samples := append(make([]float64, 2*testSampleRate), clickTrain(120, 8)...)
	analysis, err := analyzer.AnalyzeSamples(context.Background(), samples, testSampleRate)
	require.NoError(t, err)

	assert.Nil(t, analysis.Tempogram)
	require.NotEmpty(t, analysis.Beats)
	assert.GreaterOrEqual(t, analysis.Beats[0], analysis.RhythmFrom)
	assert.Greater(t, analysis.Beats[0], 1.8)
	// the excerpt spans eight beats
	assert.LessOrEqual(t, len(analysis.Beats), 8)
}

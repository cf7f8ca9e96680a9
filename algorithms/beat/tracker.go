package beat

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/algorithms/spectral"
	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
	"github.com/RyanBlaney/sonido-beat/logging"
)

// Units selects how beat positions are reported
type Units string

const (
	UnitsFrames  Units = "frames"
	UnitsSamples Units = "samples"
	UnitsTime    Units = "time"
)

// Options controls beat tracking. Start from DefaultOptions: the zero value
// disables trimming and sparse output.
type Options struct {
	FrameLength   int               `json:"frame_length"`
	HopLength     int               `json:"hop_length"`
	StartBPM      float64           `json:"start_bpm"`
	Tightness     float64           `json:"tightness"`
	Trim          bool              `json:"trim"`
	BPM           *Tempo            `json:"bpm,omitempty"`
	Units         Units             `json:"units"`
	Sparse        bool              `json:"sparse"`
	QuickDetect   bool              `json:"quick_detect"`
	TempoStrategy temporal.Strategy `json:"tempo_strategy"`
	Backend       spectral.Backend  `json:"backend"`
}

// DefaultOptions returns the standard tracker settings
func DefaultOptions() Options {
	return Options{
		FrameLength:   2048,
		HopLength:     512,
		StartBPM:      120,
		Tightness:     100,
		Trim:          true,
		Units:         UnitsFrames,
		Sparse:        true,
		TempoStrategy: temporal.StrategyRaw,
		Backend:       spectral.DefaultBackend,
	}
}

// Input carries either raw samples or a precomputed onset envelope
type Input struct {
	Samples    []float64
	Envelope   []float64
	SampleRate int
}

// Result is a tracked beat sequence
type Result struct {
	Tempo            Tempo     `json:"tempo"`
	Frames           []int     `json:"frames"`
	Beats            []float64 `json:"beats,omitempty"`
	Dense            []bool    `json:"dense,omitempty"`
	Units            Units     `json:"units"`
	QuickDetectStart int       `json:"quick_detect_start,omitempty"`
	EnvelopeFrames   int       `json:"envelope_frames"`
}

// Times converts beat frames to seconds
func (r *Result) Times(sampleRate, hopLength int) []float64 {
	return convertFrames(r.Frames, UnitsTime, sampleRate, hopLength)
}

// Tracker runs the dynamic-programming beat tracker
type Tracker struct {
	options Options
	logger  logging.Logger
}

// NewTracker creates a tracker. Zero numeric options take their defaults.
func NewTracker(options Options) *Tracker {
	defaults := DefaultOptions()
	if options.FrameLength <= 0 {
		options.FrameLength = defaults.FrameLength
	}
	if options.HopLength <= 0 {
		options.HopLength = defaults.HopLength
	}
	if options.StartBPM == 0 {
		options.StartBPM = defaults.StartBPM
	}
	if options.Units == "" {
		options.Units = defaults.Units
	}
	if options.TempoStrategy == "" {
		options.TempoStrategy = defaults.TempoStrategy
	}
	if options.Backend == "" {
		options.Backend = defaults.Backend
	}

	return &Tracker{
		options: options,
		logger: logging.WithFields(logging.Fields{
			"component": "beat_tracker",
		}),
	}
}

// Track estimates tempo when no BPM is given and returns the optimal beat sequence
func (bt *Tracker) Track(in Input) (*Result, error) {
	opts := bt.options

	if opts.Tightness <= 0 {
		return nil, fmt.Errorf("%w: tightness must be strictly positive", common.ErrInvalidArgument)
	}
	if opts.BPM != nil {
		if err := opts.BPM.Validate(); err != nil {
			return nil, err
		}
	}
	switch opts.Units {
	case UnitsFrames, UnitsSamples, UnitsTime:
	default:
		return nil, fmt.Errorf("%w: unknown units %q", common.ErrInvalidArgument, opts.Units)
	}

	envelope, err := resolveEnvelope(in, opts.FrameLength, opts.HopLength, opts.Backend)
	if err != nil {
		return nil, err
	}

	logger := bt.logger.WithFields(logging.Fields{
		"function": "Track",
		"frames":   len(envelope),
	})

	result := &Result{
		Tempo:          StaticTempo(0),
		Frames:         []int{},
		Units:          opts.Units,
		EnvelopeFrames: len(envelope),
	}

	if common.Max(envelope) <= 0 {
		logger.Debug("Onset envelope is silent, no beats")
		bt.finish(result, opts, in.SampleRate)
		return result, nil
	}

	frameRate := float64(in.SampleRate) / float64(opts.HopLength)
	offset := 0

	if opts.QuickDetect {
		hint := opts.StartBPM
		if opts.BPM != nil {
			hint = opts.BPM.At(0)
		}
		fpb := max(1, int(math.Round(frameRate*60.0/hint)))

		start, excerpt := QuickDetectExcerpt(envelope, fpb)
		offset = start
		result.QuickDetectStart = start
		envelope = excerpt

		logger.Debug("Quick detect excerpt", logging.Fields{
			"start":  start,
			"length": len(excerpt),
		})
	}

	var tempo Tempo
	if opts.BPM != nil {
		tempo = *opts.BPM
		if tempo.Kind() == TimeVarying && offset > 0 {
			tempo = tempo.shift(offset)
		}
	} else {
		estimate, err := temporal.TempoEstimation(envelope, in.SampleRate, temporal.TempoConfig{
			HopLength: opts.HopLength,
			StartBPM:  opts.StartBPM,
			Strategy:  opts.TempoStrategy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate tempo: %w", err)
		}
		tempo = StaticTempo(estimate.BPM)
	}
	result.Tempo = tempo

	beats := TrackBeats(envelope, tempo, frameRate, opts.Tightness, opts.Trim)
	for i := range beats {
		beats[i] += offset
	}
	result.Frames = beats

	logger.Debug("Beats tracked", logging.Fields{
		"beats": len(beats),
		"tempo": tempo.BPM(),
	})

	bt.finish(result, opts, in.SampleRate)
	return result, nil
}

func (bt *Tracker) finish(result *Result, opts Options, sampleRate int) {
	if opts.Sparse {
		result.Beats = convertFrames(result.Frames, opts.Units, sampleRate, opts.HopLength)
		return
	}
	result.Dense = make([]bool, result.EnvelopeFrames)
	for _, f := range result.Frames {
		if f >= 0 && f < len(result.Dense) {
			result.Dense[f] = true
		}
	}
}

// resolveEnvelope prefers a supplied envelope over computing one from samples
func resolveEnvelope(in Input, frameLength, hopLength int, backend spectral.Backend) ([]float64, error) {
	if in.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", common.ErrInvalidArgument, in.SampleRate)
	}
	if in.Envelope != nil {
		return in.Envelope, nil
	}
	if in.Samples == nil {
		return nil, fmt.Errorf("%w: either samples or an onset envelope is required", common.ErrInvalidArgument)
	}

	detector := temporal.NewOnsetDetector(temporal.OnsetConfig{
		FrameLength: frameLength,
		HopLength:   hopLength,
		Backend:     backend,
	})
	env, err := detector.OnsetStrength(in.Samples, in.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to compute onset strength: %w", err)
	}
	return env.Values, nil
}

func convertFrames(frames []int, units Units, sampleRate, hopLength int) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		switch units {
		case UnitsSamples:
			out[i] = float64(f * hopLength)
		case UnitsTime:
			out[i] = float64(f*hopLength) / float64(sampleRate)
		default:
			out[i] = float64(f)
		}
	}
	return out
}

// TrackBeats runs normalization, local scoring, the DP pass, tail selection,
// backtracking and optional trimming. tempo must already be validated.
func TrackBeats(onsets []float64, tempo Tempo, frameRate, tightness float64, trim bool) []int {
	n := len(onsets)
	if n == 0 {
		return []int{}
	}

	fpb := make([]int, n)
	for i := range fpb {
		fpb[i] = max(1, tempo.framesPerBeat(i, frameRate))
	}

	normalized := normalizeOnsets(onsets)
	local := localScore(normalized, fpb)
	backlink, cumScore := dynamicProgram(local, fpb, tightness)

	tail := lastBeat(cumScore)
	beats := backtrack(backlink, tail)

	if trim {
		beats = trimBeats(local, beats)
	}
	return beats
}

// normalizeOnsets divides by the sample standard deviation
func normalizeOnsets(onsets []float64) []float64 {
	std := common.StandardDeviation(onsets)
	out := make([]float64, len(onsets))
	for i, v := range onsets {
		out[i] = v / (std + 1e-10)
	}
	return out
}

// localScore convolves with a Gaussian of half-width fpb[i] at each frame i
func localScore(onsets []float64, fpb []int) []float64 {
	n := len(onsets)
	out := make([]float64, n)

	var kernel []float64
	kernelFPB := -1

	for i := range n {
		if fpb[i] != kernelFPB {
			kernelFPB = fpb[i]
			kernel = gaussianKernel(kernelFPB)
		}
		half := kernelFPB
		sum := 0.0
		for j := -half; j <= half; j++ {
			idx := i - j
			if idx < 0 || idx >= n {
				continue
			}
			sum += kernel[j+half] * onsets[idx]
		}
		out[i] = sum
	}

	return out
}

func gaussianKernel(fpb int) []float64 {
	kernel := make([]float64, 2*fpb+1)
	for j := -fpb; j <= fpb; j++ {
		x := float64(j) * 32.0 / float64(fpb)
		kernel[j+fpb] = math.Exp(-0.5 * x * x)
	}
	return kernel
}

// dynamicProgram fills cumulative scores and backlinks. Frames stay unarmed
// (backlink -1) until the local score first reaches 1% of its maximum.
func dynamicProgram(local []float64, fpb []int, tightness float64) ([]int, []float64) {
	n := len(local)
	backlink := make([]int, n)
	cumScore := make([]float64, n)

	threshold := 0.01 * common.Max(local)
	firstBeat := true

	backlink[0] = -1
	cumScore[0] = local[0]
	if local[0] >= threshold {
		firstBeat = false
	}

	for i := 1; i < n; i++ {
		period := float64(fpb[i])
		logPeriod := math.Log(math.Max(1, period))

		nearest := i - int(math.Round(0.5*period))
		farthest := max(0, i-int(math.Round(2.5*period)))

		bestScore := math.Inf(-1)
		beatLocation := -1

		for loc := min(nearest, i-1); loc >= farthest; loc-- {
			d := math.Log(math.Max(1, float64(i-loc))) - logPeriod
			score := cumScore[loc] - tightness*d*d
			if score > bestScore {
				bestScore = score
				beatLocation = loc
			}
		}

		if beatLocation >= 0 {
			cumScore[i] = local[i] + bestScore
		} else {
			cumScore[i] = local[i]
		}

		if firstBeat && local[i] < threshold {
			backlink[i] = -1
		} else {
			backlink[i] = beatLocation
			firstBeat = false
		}
	}

	return backlink, cumScore
}

// lastBeat picks the last local maximum of cumScore scoring at least half
// the median local-maximum score
func lastBeat(cumScore []float64) int {
	mask := common.LocalMaxima(cumScore)

	var peaks []float64
	for i, isMax := range mask {
		if isMax {
			peaks = append(peaks, cumScore[i])
		}
	}
	if len(peaks) == 0 {
		return common.ArgMax(cumScore)
	}

	threshold := 0.5 * common.Median(peaks)
	for i := len(cumScore) - 1; i >= 0; i-- {
		if mask[i] && cumScore[i] >= threshold {
			return i
		}
	}
	return common.ArgMax(cumScore)
}

func backtrack(backlink []int, tail int) []int {
	beats := []int{}
	for b := tail; b >= 0; b = backlink[b] {
		beats = append(beats, b)
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}
	return beats
}

// trimBeats drops weak leading and trailing beats: those whose local score
// is below half the RMS local score of all beats
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}

	scores := make([]float64, len(beats))
	for i, b := range beats {
		scores[i] = local[b]
	}
	threshold := 0.5 * common.RMS(scores)

	start := 0
	for start < len(beats) && scores[start] < threshold {
		start++
	}
	end := len(beats)
	for end > start && scores[end-1] < threshold {
		end--
	}

	return beats[start:end]
}

package temporal

import (
	"fmt"
	"math/cmplx"
	"sort"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/algorithms/spectral"
	"github.com/RyanBlaney/sonido-beat/algorithms/windowing"
	"github.com/RyanBlaney/sonido-beat/logging"
)

const (
	tempogramPeakMinBPM = 60.0
	tempogramPeakMaxBPM = 200.0
)

// TempogramConfig holds tempogram framing in onset-envelope frames
type TempogramConfig struct {
	HopLength int              `json:"hop_length"` // audio hop that produced the envelope
	WinLength int              `json:"win_length"` // window length in envelope frames
	Backend   spectral.Backend `json:"backend"`
}

// DefaultTempogramConfig returns the standard 384-frame window
func DefaultTempogramConfig() TempogramConfig {
	return TempogramConfig{
		HopLength: 512,
		WinLength: 384,
		Backend:   spectral.DefaultBackend,
	}
}

// TempogramPeak is a tempo bin whose time-averaged magnitude is a local maximum
type TempogramPeak struct {
	BPM        float64 `json:"bpm"`
	Energy     float64 `json:"energy"`
	FrameCount int     `json:"frame_count"`
	Prominence float64 `json:"prominence"`
}

// TempoRange spans the positive tempo bins
type TempoRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// TempogramResult is a frames x tempo-bins magnitude surface
type TempogramResult struct {
	Frames             int             `json:"frames"`
	Tempogram          [][]float64     `json:"tempogram"`
	Complex            [][]complex128  `json:"-"`
	Frequencies        []float64       `json:"frequencies"`
	TempoRange         TempoRange      `json:"tempo_range"`
	PeakTempos         []TempogramPeak `json:"peak_tempos"`
	TotalEnergy        float64         `json:"total_energy"`
	EnergyDistribution []float64       `json:"energy_distribution"`
}

// Available reports whether the envelope was long enough for at least one frame
func (r *TempogramResult) Available() bool {
	return r != nil && r.Frames > 0
}

// FourierTempoFrequencies returns the BPM of bins 0..winLength/2
func FourierTempoFrequencies(sampleRate, hopLength, winLength int) []float64 {
	if winLength <= 0 || hopLength <= 0 {
		return []float64{}
	}
	freqs := make([]float64, winLength/2+1)
	for j := range freqs {
		freqs[j] = float64(j*sampleRate) / float64(winLength*hopLength) * 60.0
	}
	return freqs
}

// ComplexTempogram frames envelope with a symmetric Hann window of winLength
// and returns the full complex spectrum per frame. With center set the
// envelope is zero padded by winLength/2 on both sides so frame t is centered
// on envelope frame t.
func ComplexTempogram(envelope []float64, winLength, stride int, center bool, fft *spectral.FFT) [][]complex128 {
	if winLength <= 0 || stride <= 0 {
		return [][]complex128{}
	}

	padded := envelope
	if center {
		pad := winLength / 2
		padded = make([]float64, len(envelope)+2*pad)
		copy(padded[pad:], envelope)
	}

	numFrames := spectral.FrameCount(len(padded), winLength, stride)
	window := windowing.SymmetricHann(winLength)
	frames := make([][]complex128, numFrames)
	buf := make([]float64, winLength)

	for f := range numFrames {
		copy(buf, padded[f*stride:f*stride+winLength])
		_ = window.ApplyInPlace(buf)
		frames[f] = fft.Compute(buf)
	}

	return frames
}

// Tempogram computes Fourier tempograms of onset envelopes
type Tempogram struct {
	config TempogramConfig
	fft    *spectral.FFT
	logger logging.Logger
}

// NewTempogram creates a tempogram calculator
func NewTempogram(config TempogramConfig) *Tempogram {
	defaults := DefaultTempogramConfig()
	if config.HopLength <= 0 {
		config.HopLength = defaults.HopLength
	}
	if config.WinLength <= 0 {
		config.WinLength = defaults.WinLength
	}
	if config.Backend == "" {
		config.Backend = defaults.Backend
	}
	return &Tempogram{
		config: config,
		fft:    spectral.NewFFTWithBackend(config.Backend),
		logger: logging.WithFields(logging.Fields{
			"component": "tempogram",
		}),
	}
}

// Compute slides the window over envelope with a stride of WinLength/4
// frames. An envelope shorter than the window yields zero frames and no peaks.
func (tg *Tempogram) Compute(envelope []float64, sampleRate int) (*TempogramResult, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", common.ErrInvalidArgument, sampleRate)
	}

	win := tg.config.WinLength
	stride := max(1, win/4)
	freqs := FourierTempoFrequencies(sampleRate, tg.config.HopLength, win)
	numBins := len(freqs)

	result := &TempogramResult{
		Tempogram:          [][]float64{},
		Complex:            [][]complex128{},
		Frequencies:        freqs,
		PeakTempos:         []TempogramPeak{},
		EnergyDistribution: []float64{},
	}
	if numBins > 1 {
		result.TempoRange = TempoRange{Min: freqs[1], Max: freqs[numBins-1]}
	}

	if len(envelope) < win {
		tg.logger.Debug("Envelope shorter than tempogram window", logging.Fields{
			"frames": len(envelope),
			"window": win,
		})
		return result, nil
	}

	complexFrames := ComplexTempogram(envelope, win, stride, false, tg.fft)
	magnitude := make([][]float64, len(complexFrames))
	for f, spectrum := range complexFrames {
		magnitude[f] = make([]float64, numBins)
		for j := range numBins {
			magnitude[f][j] = cmplx.Abs(spectrum[j])
		}
	}

	result.Frames = len(complexFrames)
	result.Complex = complexFrames
	result.Tempogram = magnitude

	average := make([]float64, numBins)
	for _, row := range magnitude {
		for j, v := range row {
			average[j] += v
		}
	}
	for j := range average {
		average[j] /= float64(result.Frames)
	}

	result.TotalEnergy = common.Sum(average)
	result.EnergyDistribution = make([]float64, numBins)
	if result.TotalEnergy > 0 {
		for j, v := range average {
			result.EnergyDistribution[j] = v / result.TotalEnergy
		}
	}

	result.PeakTempos = tg.findPeaks(magnitude, average, freqs)

	tg.logger.Debug("Tempogram computed", logging.Fields{
		"frames": result.Frames,
		"peaks":  len(result.PeakTempos),
	})

	return result, nil
}

// findPeaks picks band-limited local maxima of the time-averaged magnitude.
// Threshold and prominence are relative to the largest bin, DC included.
func (tg *Tempogram) findPeaks(magnitude [][]float64, average, freqs []float64) []TempogramPeak {
	peaks := []TempogramPeak{}
	if len(average) < 3 {
		return peaks
	}

	maxAverage := common.Max(average)
	if maxAverage <= 0 {
		return peaks
	}

	for j := 1; j < len(average)-1; j++ {
		if freqs[j] < tempogramPeakMinBPM || freqs[j] > tempogramPeakMaxBPM {
			continue
		}
		if average[j] <= average[j-1] || average[j] <= average[j+1] || average[j] <= 0.01*maxAverage {
			continue
		}

		count := 0
		for _, row := range magnitude {
			if row[j] > 0.5*average[j] {
				count++
			}
		}

		peaks = append(peaks, TempogramPeak{
			BPM:        freqs[j],
			Energy:     average[j],
			FrameCount: count,
			Prominence: average[j] / maxAverage,
		})
	}

	sort.SliceStable(peaks, func(a, b int) bool {
		return peaks[a].Energy > peaks[b].Energy
	})

	return peaks
}

// ComputeFourierTempogram computes a tempogram with explicit framing
func ComputeFourierTempogram(envelope []float64, sampleRate int, config TempogramConfig) (*TempogramResult, error) {
	return NewTempogram(config).Compute(envelope, sampleRate)
}

package beat

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
	"github.com/RyanBlaney/sonido-beat/algorithms/spectral"
	"github.com/RyanBlaney/sonido-beat/algorithms/temporal"
	"github.com/RyanBlaney/sonido-beat/algorithms/windowing"
	"github.com/RyanBlaney/sonido-beat/logging"
)

// PLPOptions controls predominant local pulse estimation
type PLPOptions struct {
	FrameLength int              `json:"frame_length"`
	HopLength   int              `json:"hop_length"`
	WinLength   int              `json:"win_length"`
	TempoMin    float64          `json:"tempo_min"`
	TempoMax    float64          `json:"tempo_max"`
	Backend     spectral.Backend `json:"backend"`

	// Prior is added to the log-magnitude of each tempo bin, e.g. a log density
	Prior func(bpm float64) float64 `json:"-"`
}

// DefaultPLPOptions returns the standard pulse settings
func DefaultPLPOptions() PLPOptions {
	return PLPOptions{
		FrameLength: 2048,
		HopLength:   512,
		WinLength:   384,
		TempoMin:    30,
		TempoMax:    300,
		Backend:     spectral.DefaultBackend,
	}
}

// PLP returns a pulse curve in [0, 1] with one value per onset envelope frame.
// Each hop-1 tempogram frame keeps only its dominant tempo bin (with phase);
// the frames are then overlap-added back into the time domain.
func PLP(in Input, opts PLPOptions) ([]float64, error) {
	defaults := DefaultPLPOptions()
	if opts.FrameLength <= 0 {
		opts.FrameLength = defaults.FrameLength
	}
	if opts.HopLength <= 0 {
		opts.HopLength = defaults.HopLength
	}
	if opts.WinLength <= 0 {
		opts.WinLength = defaults.WinLength
	}
	if opts.TempoMin == 0 && opts.TempoMax == 0 {
		opts.TempoMin, opts.TempoMax = defaults.TempoMin, defaults.TempoMax
	}
	if opts.Backend == "" {
		opts.Backend = defaults.Backend
	}

	if opts.TempoMax <= opts.TempoMin {
		return nil, fmt.Errorf("%w: tempoMax=%v must be greater than tempoMin=%v",
			common.ErrInvalidArgument, opts.TempoMax, opts.TempoMin)
	}

	envelope, err := resolveEnvelope(in, opts.FrameLength, opts.HopLength, opts.Backend)
	if err != nil {
		return nil, err
	}

	logger := logging.WithFields(logging.Fields{
		"component": "plp",
		"function":  "PLP",
		"frames":    len(envelope),
	})

	n := len(envelope)
	if n == 0 {
		return []float64{}, nil
	}

	win := opts.WinLength
	fft := spectral.NewFFTWithBackend(opts.Backend)
	freqs := temporal.FourierTempoFrequencies(in.SampleRate, opts.HopLength, win)
	frames := temporal.ComplexTempogram(envelope, win, 1, true, fft)
	window := windowing.SymmetricHann(win)

	pulse := make([]float64, n)
	windowSum := make([]float64, n)
	pad := win / 2
	buf := make([]complex128, win)

	for t, spectrum := range frames {
		k, value := dominantBin(spectrum, freqs, opts)

		var frame []float64
		if value != 0 {
			clear(buf)
			if k == 0 || 2*k == win {
				buf[k] = complex(real(value), 0)
			} else {
				buf[k] = value
				buf[win-k] = cmplx.Conj(value)
			}
			frame = fft.ComputeInverseReal(buf)
		}

		for m := range win {
			idx := t + m - pad
			if idx < 0 || idx >= n {
				continue
			}
			w := window.At(m)
			windowSum[idx] += w * w
			if frame != nil {
				pulse[idx] += w * frame[m]
			}
		}
	}

	for i := range pulse {
		if windowSum[i] > 1e-10 {
			pulse[i] /= windowSum[i]
		}
		if pulse[i] < 0 {
			pulse[i] = 0
		}
	}

	logger.Debug("Pulse curve computed", logging.Fields{"tempogram_frames": len(frames)})

	return common.MinMaxNormalize(pulse), nil
}

// dominantBin zeroes bins outside the tempo range, ranks the rest by
// log1p(1e6*|X|) plus the prior and returns the winner normalized by
// sqrt(1e-10 + |X|)
func dominantBin(spectrum []complex128, freqs []float64, opts PLPOptions) (int, complex128) {
	bestK := 0
	bestScore := math.Inf(-1)
	var bestValue complex128

	for k, bpm := range freqs {
		value := spectrum[k]
		if bpm < opts.TempoMin || bpm > opts.TempoMax {
			value = 0
		}

		score := math.Log1p(1e6 * cmplx.Abs(value))
		if opts.Prior != nil {
			score += opts.Prior(bpm)
		}
		if score > bestScore {
			bestScore = score
			bestK = k
			bestValue = value
		}
	}

	mag := cmplx.Abs(bestValue)
	if mag == 0 {
		return bestK, 0
	}
	return bestK, bestValue / complex(math.Sqrt(1e-10+mag), 0)
}

// PulsePeaks returns the frames where the pulse curve has a positive local maximum
func PulsePeaks(pulse []float64) []int {
	peaks := []int{}
	for i, isMax := range common.LocalMaxima(pulse) {
		if isMax && pulse[i] > 0 {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

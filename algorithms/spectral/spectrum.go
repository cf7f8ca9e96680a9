package spectral

import (
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/RyanBlaney/sonido-beat/algorithms/windowing"
)

// SpectrumEngine turns analysis frames into spectra
type SpectrumEngine struct {
	fft *FFT
}

// NewSpectrumEngine creates an engine on the given transform backend
func NewSpectrumEngine(backend Backend) *SpectrumEngine {
	return &SpectrumEngine{fft: NewFFTWithBackend(backend)}
}

// Backend reports the transform in use
func (e *SpectrumEngine) Backend() Backend {
	return e.fft.Backend()
}

// FFT returns the underlying calculator
func (e *SpectrumEngine) FFT() *FFT {
	return e.fft
}

// MagnitudeSpectrum applies a symmetric Hann window to a copy of frame and
// returns the magnitudes of bins [0, N/2). Empty input yields an empty result.
func (e *SpectrumEngine) MagnitudeSpectrum(frame []float64) []float64 {
	if len(frame) == 0 {
		return []float64{}
	}

	windowed := windowing.SymmetricHann(len(frame)).Apply(frame)
	return e.magnitudes(windowed, len(frame)/2)
}

func (e *SpectrumEngine) magnitudes(windowed []float64, bins int) []float64 {
	spectrum := e.fft.Compute(windowed)

	re := make([]float64, bins)
	im := make([]float64, bins)
	for k := range bins {
		re[k] = real(spectrum[k])
		im[k] = imag(spectrum[k])
	}

	out := make([]float64, bins)
	vecmath.Magnitude(out, re, im)
	return out
}

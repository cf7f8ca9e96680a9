package spectral

// SpectralFlux computes half-wave rectified spectral flux, the onset strength
// signal used for rhythm analysis
type SpectralFlux struct{}

// NewSpectralFlux creates a new spectral flux calculator
func NewSpectralFlux() *SpectralFlux {
	return &SpectralFlux{}
}

// Compute returns one value per spectrogram frame: the sum of positive
// bin-wise magnitude increases over the previous frame. Frame 0 has no
// predecessor and is 0.
func (sf *SpectralFlux) Compute(spectrogram [][]float64) []float64 {
	flux := make([]float64, len(spectrogram))

	for t := 1; t < len(spectrogram); t++ {
		flux[t] = sf.Between(spectrogram[t-1], spectrogram[t])
	}

	return flux
}

// Between returns the flux from prev to curr over their common bins
func (sf *SpectralFlux) Between(prev, curr []float64) float64 {
	n := min(len(prev), len(curr))
	sum := 0.0
	for f := range n {
		if diff := curr[f] - prev[f]; diff > 0 { // Only energy increases
			sum += diff
		}
	}
	return sum
}

package windowing

import (
	"fmt"
	"math"
	"sync"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Hann represents a Hann window function.
// Symmetric windows use 0.5 - 0.5*cos(2πi/(N-1)); periodic ones divide by N.
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
}

// NewHann creates a new Hann window
func NewHann(size int, symmetric bool) *Hann {
	h := &Hann{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h
}

var (
	cacheMu sync.Mutex
	cache   = map[int]*Hann{}
)

// SymmetricHann returns a shared symmetric window of the given size.
// Callers must treat it as read-only.
func SymmetricHann(size int) *Hann {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if h, ok := cache[size]; ok {
		return h
	}
	h := NewHann(size, true)
	cache[size] = h
	return h
}

func (h *Hann) generate() {
	if h.size <= 0 {
		h.coefficients = []float64{}
		return
	}
	h.coefficients = make([]float64, h.size)

	// a one-point symmetric window would divide by zero
	if h.size == 1 {
		h.coefficients[0] = 1.0
		return
	}

	denominator := float64(h.size)
	if h.symmetric {
		denominator = float64(h.size - 1)
	}

	for i := range h.size {
		h.coefficients[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/denominator)
	}
}

// Apply applies the window to a signal (creates new array)
func (h *Hann) Apply(signal []float64) []float64 {
	if len(signal) != h.size {
		return nil
	}

	windowed := make([]float64, h.size)
	copy(windowed, signal)
	vecmath.MulBlockInPlace(windowed, h.coefficients)

	return windowed
}

// ApplyInPlace applies the window to a signal in-place
func (h *Hann) ApplyInPlace(signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}

	vecmath.MulBlockInPlace(signal, h.coefficients)
	return nil
}

// At returns coefficient i without copying.
func (h *Hann) At(i int) float64 {
	return h.coefficients[i]
}

// GetCoefficients returns a copy of the window coefficients
func (h *Hann) GetCoefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}

// GetSize returns the window size
func (h *Hann) GetSize() int {
	return h.size
}

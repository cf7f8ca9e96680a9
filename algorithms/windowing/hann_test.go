package windowing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymmetricHannCoefficients(t *testing.T) {
	h := NewHann(5, true)
	coeffs := h.GetCoefficients()

	require.Len(t, coeffs, 5)
	assert.InDelta(t, 0.0, coeffs[0], 1e-12)
	assert.InDelta(t, 0.5, coeffs[1], 1e-12)
	assert.InDelta(t, 1.0, coeffs[2], 1e-12)
	assert.InDelta(t, 0.5, coeffs[3], 1e-12)
	assert.InDelta(t, 0.0, coeffs[4], 1e-12)
}

func TestPeriodicHannCoefficients(t *testing.T) {
	h := NewHann(4, false)
	coeffs := h.GetCoefficients()
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.5}, coeffs, 1e-12)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	h := NewHann(8, true)
	signal := []float64{1, 1, 1, 1, 1, 1, 1, 1}

	windowed := h.Apply(signal)
	require.Len(t, windowed, 8)
	for i, v := range windowed {
		assert.InDelta(t, h.At(i), v, 1e-12)
	}
	assert.Equal(t, 1.0, signal[0])
	assert.Nil(t, h.Apply([]float64{1, 2}))
}

func TestApplyInPlaceLengthMismatch(t *testing.T) {
	h := NewHann(4, true)
	assert.Error(t, h.ApplyInPlace([]float64{1, 2, 3}))
	assert.NoError(t, h.ApplyInPlace([]float64{1, 2, 3, 4}))
}

func TestSymmetricHannIsShared(t *testing.T) {
	a := SymmetricHann(384)
	b := SymmetricHann(384)
	assert.Same(t, a, b)
	assert.InDelta(t, 0.5-0.5*math.Cos(2*math.Pi*10/383), a.At(10), 1e-12)
}

func TestDegenerateSizes(t *testing.T) {
	assert.Empty(t, NewHann(0, true).GetCoefficients())
	assert.Equal(t, []float64{1}, NewHann(1, true).GetCoefficients())
}

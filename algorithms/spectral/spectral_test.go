package spectral

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSequence(n int, seed int64) []complex128 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]complex128, n)
	for i := range x {
		x[i] = complex(rng.Float64()*2-1, rng.Float64()*2-1)
	}
	return x
}

func assertComplexClose(t *testing.T, want, got []complex128, tol float64, msgAndArgs ...any) {
	t.Helper()
	require.Len(t, got, len(want), msgAndArgs...)
	for i := range want {
		if cmplx.Abs(want[i]-got[i]) > tol {
			assert.Failf(t, "bin mismatch", "index %d: want %v got %v", i, want[i], got[i])
			return
		}
	}
}

func TestBackendsMatchDirectDFT(t *testing.T) {
	direct := NewTransform(BackendDirect)
	sizes := []int{2, 8, 12, 64, 384}

	for _, backend := range []Backend{BackendGoDSP, BackendGonum, BackendAlgoFFT} {
		tr := NewTransform(backend)
		assert.Equal(t, backend, tr.Name())

		for _, n := range sizes {
			x := randomSequence(n, int64(n))
			want := direct.Forward(x)
			assertComplexClose(t, want, tr.Forward(x), 1e-8, "%s forward n=%d", backend, n)
			assertComplexClose(t, direct.Inverse(want), tr.Inverse(want), 1e-8, "%s inverse n=%d", backend, n)
		}
	}
}

func TestInverseRoundTrip(t *testing.T) {
	for _, backend := range []Backend{BackendDirect, BackendGoDSP, BackendGonum, BackendAlgoFFT} {
		tr := NewTransform(backend)
		x := randomSequence(32, 7)
		assertComplexClose(t, x, tr.Inverse(tr.Forward(x)), 1e-9, "%s", backend)
	}
}

func TestDirectDFTFormula(t *testing.T) {
	// a single impulse at n=1 gives X[k] = e^(-2πik/N)
	x := []complex128{0, 1, 0, 0}
	got := NewTransform(BackendDirect).Forward(x)
	want := []complex128{1, -1i, -1, 1i}
	assertComplexClose(t, want, got, 1e-12)
}

func TestParseBackend(t *testing.T) {
	assert.Equal(t, BackendGonum, ParseBackend(" Gonum "))
	assert.Equal(t, BackendDirect, ParseBackend("direct"))
	assert.Equal(t, DefaultBackend, ParseBackend("fftw"))
}

func TestMagnitudeSpectrum(t *testing.T) {
	engine := NewSpectrumEngine(BackendGoDSP)

	t.Run("empty frame", func(t *testing.T) {
		assert.Empty(t, engine.MagnitudeSpectrum(nil))
	})

	t.Run("returns N/2 bins with the sine peak", func(t *testing.T) {
		n := 256
		bin := 16
		frame := make([]float64, n)
		for i := range frame {
			frame[i] = math.Sin(2 * math.Pi * float64(bin) * float64(i) / float64(n))
		}

		mags := engine.MagnitudeSpectrum(frame)
		require.Len(t, mags, n/2)

		peak := 0
		for k, v := range mags {
			assert.GreaterOrEqual(t, v, 0.0)
			if v > mags[peak] {
				peak = k
			}
		}
		assert.Equal(t, bin, peak)
		assert.InDelta(t, math.Sin(2*math.Pi*float64(bin)/float64(n)), frame[1], 1e-15,
			"frame must not be windowed in place")
	})

	t.Run("backends agree", func(t *testing.T) {
		frame := make([]float64, 64)
		for i := range frame {
			frame[i] = math.Cos(float64(i) * 0.3)
		}
		want := NewSpectrumEngine(BackendDirect).MagnitudeSpectrum(frame)
		for _, b := range []Backend{BackendGoDSP, BackendGonum, BackendAlgoFFT} {
			assert.InDeltaSlice(t, want, NewSpectrumEngine(b).MagnitudeSpectrum(frame), 1e-8, string(b))
		}
	})
}

func TestSTFTFramesInOrder(t *testing.T) {
	stft := NewSTFT(NewSpectrumEngine(BackendGoDSP))
	engine := NewSpectrumEngine(BackendGoDSP)

	signal := make([]float64, 5000)
	rng := rand.New(rand.NewSource(3))
	for i := range signal {
		signal[i] = rng.Float64()*2 - 1
	}

	result, err := stft.Compute(signal, 1024, 256, 22050)
	require.NoError(t, err)

	// floor((5000-1024)/256)+1
	assert.Equal(t, 16, result.TimeFrames)
	assert.Equal(t, 512, result.FreqBins)
	require.Len(t, result.Magnitude, 16)

	for _, frameIdx := range []int{0, 7, 15} {
		start := frameIdx * 256
		want := engine.MagnitudeSpectrum(signal[start : start+1024])
		assert.InDeltaSlice(t, want, result.Magnitude[frameIdx], 1e-9)
	}
}

func TestSTFTShortSignal(t *testing.T) {
	stft := NewSTFT(nil)

	result, err := stft.Compute(make([]float64, 100), 2048, 512, 44100)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TimeFrames)
	assert.Empty(t, result.Magnitude)

	_, err = stft.Compute(make([]float64, 100), 0, 512, 44100)
	assert.Error(t, err)
	_, err = stft.Compute(make([]float64, 100), 64, 0, 44100)
	assert.Error(t, err)
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 1, FrameCount(2048, 2048, 512))
	assert.Equal(t, 2, FrameCount(2560, 2048, 512))
	assert.Equal(t, 2, FrameCount(3071, 2048, 512))
	assert.Equal(t, 0, FrameCount(2047, 2048, 512))
}

func TestSpectralFlux(t *testing.T) {
	flux := NewSpectralFlux()

	spec := [][]float64{
		{1, 1, 1},
		{2, 0, 1},
		{2, 3, 0.5},
	}
	got := flux.Compute(spec)
	assert.Equal(t, []float64{0, 1, 3}, got)

	assert.Empty(t, flux.Compute(nil))
	assert.Equal(t, []float64{0}, flux.Compute([][]float64{{5, 5}}))
}

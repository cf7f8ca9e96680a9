package spectral

import (
	"math"
	"strings"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Backend names a discrete Fourier transform implementation
type Backend string

const (
	BackendDirect  Backend = "direct"
	BackendGoDSP   Backend = "godsp"
	BackendGonum   Backend = "gonum"
	BackendAlgoFFT Backend = "algofft"
)

// DefaultBackend is used when no backend is configured
const DefaultBackend = BackendGoDSP

// ParseBackend maps a name to a Backend. Unknown names map to DefaultBackend.
func ParseBackend(name string) Backend {
	switch Backend(strings.ToLower(strings.TrimSpace(name))) {
	case BackendDirect:
		return BackendDirect
	case BackendGonum:
		return BackendGonum
	case BackendAlgoFFT:
		return BackendAlgoFFT
	default:
		return DefaultBackend
	}
}

// Transform is a complex DFT with the ordering X[k] = Σ x[n]·e^(-2πikn/N).
// Inverse is scaled by 1/N so Inverse(Forward(x)) == x.
// Implementations must be safe for concurrent use.
type Transform interface {
	Forward(x []complex128) []complex128
	Inverse(X []complex128) []complex128
	Name() Backend
}

// NewTransform returns the transform for backend
func NewTransform(backend Backend) Transform {
	switch backend {
	case BackendDirect:
		return directTransform{}
	case BackendGonum:
		return gonumTransform{}
	case BackendAlgoFFT:
		return algoFFTTransform{}
	default:
		return goDSPTransform{}
	}
}

// directTransform is the O(N²) reference DFT
type directTransform struct{}

func (directTransform) Name() Backend { return BackendDirect }

func (directTransform) Forward(x []complex128) []complex128 {
	return dft(x, -1)
}

func (directTransform) Inverse(X []complex128) []complex128 {
	out := dft(X, 1)
	scale := complex(1/float64(len(X)), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

func dft(x []complex128, sign float64) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := range n {
		var re, im float64
		for j, v := range x {
			// reduce k*j mod n to keep the angle small
			angle := sign * 2 * math.Pi * float64((k*j)%n) / float64(n)
			c, s := math.Cos(angle), math.Sin(angle)
			re += real(v)*c - imag(v)*s
			im += real(v)*s + imag(v)*c
		}
		out[k] = complex(re, im)
	}
	return out
}

type goDSPTransform struct{}

func (goDSPTransform) Name() Backend { return BackendGoDSP }

func (goDSPTransform) Forward(x []complex128) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFT(x)
}

// go-dsp's IFFT already applies the 1/N scale
func (goDSPTransform) Inverse(X []complex128) []complex128 {
	if len(X) == 0 {
		return []complex128{}
	}
	return fft.IFFT(X)
}

type gonumTransform struct{}

func (gonumTransform) Name() Backend { return BackendGonum }

func (gonumTransform) Forward(x []complex128) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fourier.NewCmplxFFT(len(x)).Coefficients(nil, x)
}

func (gonumTransform) Inverse(X []complex128) []complex128 {
	n := len(X)
	if n == 0 {
		return []complex128{}
	}
	// gonum returns the unnormalized sequence
	out := fourier.NewCmplxFFT(n).Sequence(nil, X)
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

type algoFFTTransform struct{}

func (algoFFTTransform) Name() Backend { return BackendAlgoFFT }

func (algoFFTTransform) Forward(x []complex128) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	plan, err := algofft.NewPlan64(len(x))
	if err != nil {
		return fft.FFT(x)
	}
	out := make([]complex128, len(x))
	if err := plan.Forward(out, x); err != nil {
		return fft.FFT(x)
	}
	return out
}

// Inverse uses conj(F(conj(X)))/N so only the forward plan is needed.
func (t algoFFTTransform) Inverse(X []complex128) []complex128 {
	n := len(X)
	if n == 0 {
		return []complex128{}
	}
	conj := make([]complex128, n)
	for i, v := range X {
		conj[i] = complex(real(v), -imag(v))
	}
	out := t.Forward(conj)
	scale := 1 / float64(n)
	for i, v := range out {
		out[i] = complex(real(v)*scale, -imag(v)*scale)
	}
	return out
}

// FFT provides Fast Fourier Transform functionality over real signals
type FFT struct {
	transform Transform
}

// NewFFT creates an FFT calculator on the default backend
func NewFFT() *FFT {
	return NewFFTWithBackend(DefaultBackend)
}

// NewFFTWithBackend creates an FFT calculator on the given backend
func NewFFTWithBackend(backend Backend) *FFT {
	return &FFT{transform: NewTransform(backend)}
}

// Backend reports the transform in use
func (f *FFT) Backend() Backend {
	return f.transform.Name()
}

// Compute returns the full N-bin complex spectrum of a real signal
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	in := make([]complex128, len(x))
	for i, v := range x {
		in[i] = complex(v, 0)
	}
	return f.transform.Forward(in)
}

// ComputeInverseReal computes the inverse transform and returns the real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := f.transform.Inverse(x)
	realResult := make([]float64, len(result))

	for i, val := range result {
		realResult[i] = real(val)
	}

	return realResult
}

package spectral

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-beat/algorithms/windowing"
	"github.com/RyanBlaney/sonido-beat/logging"
)

// STFT provides Short-Time Fourier Transform magnitude analysis
type STFT struct {
	engine *SpectrumEngine
	logger logging.Logger
}

// STFTResult holds the result of STFT analysis
type STFTResult struct {
	Magnitude      [][]float64 `json:"magnitude"`       // Time x Frequency magnitude matrix
	TimeFrames     int         `json:"time_frames"`     // Number of time frames
	FreqBins       int         `json:"freq_bins"`       // Bins per frame (windowSize/2)
	SampleRate     int         `json:"sample_rate"`     // Sample rate
	WindowSize     int         `json:"window_size"`     // FFT window size
	HopSize        int         `json:"hop_size"`        // Hop size between frames
	FreqResolution float64     `json:"freq_resolution"` // Frequency resolution (Hz/bin)
	TimeResolution float64     `json:"time_resolution"` // Time resolution (seconds/frame)
}

// NewSTFT creates a new STFT calculator
func NewSTFT(engine *SpectrumEngine) *STFT {
	if engine == nil {
		engine = NewSpectrumEngine(DefaultBackend)
	}
	return &STFT{
		engine: engine,
		logger: logging.WithFields(logging.Fields{
			"component": "stft",
			"backend":   string(engine.Backend()),
		}),
	}
}

// FrameCount returns floor((n-windowSize)/hopSize)+1, or 0 when the signal
// holds no complete frame. Trailing partial frames are dropped.
func FrameCount(n, windowSize, hopSize int) int {
	if n < windowSize || windowSize <= 0 || hopSize <= 0 {
		return 0
	}
	return (n-windowSize)/hopSize + 1
}

// Compute frames signal, applies a symmetric Hann window to each frame and
// stores windowSize/2 magnitude bins per frame. Frames are computed by a
// worker pool and written by index, so the output order never depends on
// scheduling.
func (s *STFT) Compute(signal []float64, windowSize int, hopSize int, sampleRate int) (*STFTResult, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}

	if hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	numFrames := FrameCount(len(signal), windowSize, hopSize)
	freqBins := windowSize / 2

	magnitude := make([][]float64, numFrames)

	result := &STFTResult{
		Magnitude:  magnitude,
		TimeFrames: numFrames,
		FreqBins:   freqBins,
		SampleRate: sampleRate,
		WindowSize: windowSize,
		HopSize:    hopSize,
	}
	if sampleRate > 0 {
		result.FreqResolution = float64(sampleRate) / float64(windowSize)
		result.TimeResolution = float64(hopSize) / float64(sampleRate)
	}

	if numFrames == 0 {
		return result, nil
	}

	window := windowing.SymmetricHann(windowSize)
	numWorkers := s.getOptimalWorkerCount(numFrames)

	s.logger.Debug("Computing STFT", logging.Fields{
		"frames":  numFrames,
		"window":  windowSize,
		"hop":     hopSize,
		"workers": numWorkers,
	})

	jobs := make(chan int, numFrames)

	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse frame buffer for this worker
			frameBuffer := make([]float64, windowSize)

			for frameIdx := range jobs {
				start := frameIdx * hopSize
				copy(frameBuffer, signal[start:start+windowSize])

				// sizes always match here
				_ = window.ApplyInPlace(frameBuffer)

				magnitude[frameIdx] = s.engine.magnitudes(frameBuffer, freqBins)
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)

	wg.Wait()

	return result, nil
}

// getOptimalWorkerCount determines the optimal number of workers based on workload
func (s *STFT) getOptimalWorkerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if numFrames < 100 {
		return max(1, min(numCPU/2, numFrames))
	}

	// For medium workloads, use most CPUs
	if numFrames < 1000 {
		return min(numCPU, 8)
	}

	return numCPU
}

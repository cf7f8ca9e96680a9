package beat

import "github.com/RyanBlaney/sonido-beat/algorithms/common"

const (
	quickDetectBeats     = 8
	rhythmStartLevel     = 0.1
	rhythmStartSupport   = 0.25
	rhythmWindowsPerBeat = 4
)

// FindRhythmStart returns the first frame where the rolling average over one
// bar (4 beats) exceeds 10% of the envelope peak and at least a quarter of
// the following half bar stays above half that level. It returns 0 when no
// such frame exists.
func FindRhythmStart(envelope []float64, framesPerBeat int) int {
	n := len(envelope)
	if n == 0 || framesPerBeat <= 0 {
		return 0
	}

	peak := common.Max(envelope)
	if peak <= 0 {
		return 0
	}
	threshold := rhythmStartLevel * peak

	window := rhythmWindowsPerBeat * framesPerBeat
	half := max(1, window/2)

	prefix := make([]float64, n+1)
	above := make([]int, n+1)
	for i, v := range envelope {
		prefix[i+1] = prefix[i] + v
		above[i+1] = above[i]
		if v > threshold/2 {
			above[i+1]++
		}
	}

	for i := range n {
		end := min(n, i+window)
		avg := (prefix[end] - prefix[i]) / float64(end-i)
		if avg <= threshold {
			continue
		}

		halfEnd := min(n, i+half)
		support := float64(above[halfEnd]-above[i]) / float64(halfEnd-i)
		if support >= rhythmStartSupport {
			return i
		}
	}

	return 0
}

// QuickDetectExcerpt returns the rhythm start and an 8-beat excerpt of the
// envelope beginning there. When fewer than 8 beats remain the excerpt is
// moved back so it stays full length where the envelope allows.
func QuickDetectExcerpt(envelope []float64, framesPerBeat int) (int, []float64) {
	start := FindRhythmStart(envelope, framesPerBeat)
	length := quickDetectBeats * max(1, framesPerBeat)

	if len(envelope)-start < length {
		start = max(0, len(envelope)-length)
	}
	end := min(len(envelope), start+length)

	return start, envelope[start:end]
}

package beat

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
)

// TempoKind tells a static tempo from a per-frame tempo curve
type TempoKind int

const (
	Static TempoKind = iota
	TimeVarying
)

func (k TempoKind) String() string {
	if k == TimeVarying {
		return "time_varying"
	}
	return "static"
}

// Tempo is either one BPM for the whole signal or one BPM per envelope frame
type Tempo struct {
	kind   TempoKind
	bpm    float64
	series []float64
}

// StaticTempo returns a constant tempo
func StaticTempo(bpm float64) Tempo {
	return Tempo{kind: Static, bpm: bpm}
}

// TimeVaryingTempo returns a per-frame tempo. The slice is copied.
func TimeVaryingTempo(series []float64) Tempo {
	s := make([]float64, len(series))
	copy(s, series)
	return Tempo{kind: TimeVarying, series: s}
}

// Kind reports the representation
func (t Tempo) Kind() TempoKind {
	return t.kind
}

// At returns the tempo for frame i. Time-varying tempos use the nearest
// entry, clipped to the series bounds.
func (t Tempo) At(frame int) float64 {
	if t.kind == Static {
		return t.bpm
	}
	if len(t.series) == 0 {
		return 0
	}
	return t.series[min(max(frame, 0), len(t.series)-1)]
}

// Series returns a copy of the per-frame tempo, or nil for a static tempo
func (t Tempo) Series() []float64 {
	if t.kind == Static {
		return nil
	}
	s := make([]float64, len(t.series))
	copy(s, t.series)
	return s
}

// shift drops the first offset frames of a time-varying tempo
func (t Tempo) shift(offset int) Tempo {
	if t.kind == Static || offset <= 0 {
		return t
	}
	if offset >= len(t.series) {
		return StaticTempo(t.series[len(t.series)-1])
	}
	return TimeVaryingTempo(t.series[offset:])
}

// BPM returns the static tempo or the mean of a time-varying one
func (t Tempo) BPM() float64 {
	if t.kind == Static {
		return t.bpm
	}
	return common.Mean(t.series)
}

// Validate rejects tempos that are not strictly positive
func (t Tempo) Validate() error {
	if t.kind == Static {
		if !(t.bpm > 0) || math.IsInf(t.bpm, 0) {
			return fmt.Errorf("%w: BPM must be strictly positive", common.ErrInvalidArgument)
		}
		return nil
	}
	if len(t.series) == 0 {
		return fmt.Errorf("%w: BPM must be strictly positive", common.ErrInvalidArgument)
	}
	for _, v := range t.series {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: BPM must be strictly positive", common.ErrInvalidArgument)
		}
	}
	return nil
}

// framesPerBeat returns round(frameRate*60/bpm) at frame i
func (t Tempo) framesPerBeat(frame int, frameRate float64) int {
	return int(math.Round(frameRate * 60.0 / t.At(frame)))
}

// MarshalJSON encodes a static tempo as a number and a curve as an array
func (t Tempo) MarshalJSON() ([]byte, error) {
	if t.kind == Static {
		return json.Marshal(t.bpm)
	}
	return json.Marshal(t.series)
}

// UnmarshalJSON accepts either a number or an array of numbers
func (t *Tempo) UnmarshalJSON(data []byte) error {
	var bpm float64
	if err := json.Unmarshal(data, &bpm); err == nil {
		*t = StaticTempo(bpm)
		return nil
	}
	var series []float64
	if err := json.Unmarshal(data, &series); err != nil {
		return fmt.Errorf("tempo must be a number or an array of numbers: %w", err)
	}
	*t = TimeVaryingTempo(series)
	return nil
}

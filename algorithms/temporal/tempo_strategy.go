package temporal

import (
	"math"
	"sort"

	"github.com/RyanBlaney/sonido-beat/algorithms/common"
)

// Strategy selects how autocorrelation candidates are re-ranked
type Strategy string

const (
	// StrategyRaw reports the top raw autocorrelation score
	StrategyRaw Strategy = "raw"
	// StrategyPriorWeighted weights peaks with a log-normal prior around the start BPM
	StrategyPriorWeighted Strategy = "prior"
	// StrategyGenreTable adds interval cross-checks and the common tempo table
	StrategyGenreTable Strategy = "genre"
)

// ParseStrategy maps a name to a Strategy, defaulting to StrategyGenreTable
func ParseStrategy(name string) Strategy {
	switch Strategy(name) {
	case StrategyRaw, StrategyPriorWeighted:
		return Strategy(name)
	default:
		return StrategyGenreTable
	}
}

// RankInput is everything a Ranker may look at
type RankInput struct {
	Envelope   []float64
	Autocorr   []float64 // lag-indexed
	MinLag     int
	MaxLag     int
	SampleRate int
	HopLength  int
	StartBPM   float64
	Candidates []TempoCandidate // sorted, non-empty, best score > 0
}

// Ranking is a ranker's verdict. BPM may differ from Best.BPM when the
// strategy snaps to a reference tempo.
type Ranking struct {
	Best          TempoCandidate
	BPM           float64
	Relationships []TempoRelationship
	IntervalBPM   float64
}

// Ranker chooses the reported tempo from autocorrelation candidates
type Ranker interface {
	Strategy() Strategy
	Rank(in RankInput) Ranking
}

// NewRanker returns the ranker for strategy
func NewRanker(strategy Strategy) Ranker {
	switch strategy {
	case StrategyRaw:
		return rawRanker{}
	case StrategyPriorWeighted:
		return priorRanker{}
	default:
		return genreRanker{}
	}
}

const (
	peakProminence     = 0.05
	relationTolerance  = 0.03
	intervalTolerance  = 0.04
	intervalBoost      = 1.2
	genreTolerance     = 0.025
	salientOnsetLevel  = 0.3
	salientOnsetMinGap = 10
	typicalMinBPM      = 90.0
	typicalMaxBPM      = 110.0
)

// metrical ratios checked between the winner and the other peaks
var tempoRelations = []struct {
	ratio float64
	kind  string
}{
	{0.5, "half"},
	{2.0, "double"},
	{1.5, "dotted"},
	{2.0 / 3.0, "triplet"},
	{4.0 / 3.0, "four_three"},
}

// GenreTempo is a common production tempo with its tie-break weight
type GenreTempo struct {
	BPM    float64
	Weight float64
	Genre  string
}

// GenreTempos is the common tempo table. Entries are spaced so that at most
// one falls inside the quantization cell of a lag at typical frame rates.
var GenreTempos = []GenreTempo{
	{70, 1.1, "downtempo"},
	{80, 1.1, "reggae"},
	{85, 1.15, "hip_hop"},
	{90, 1.2, "hip_hop"},
	{100, 1.2, "pop"},
	{110, 1.1, "funk"},
	{120, 1.4, "house"},
	{124, 1.4, "tech_house"},
	{126, 1.4, "house"},
	{128, 1.5, "edm"},
	{130, 1.3, "techno"},
	{140, 1.3, "dubstep"},
	{150, 1.1, "hardstyle"},
	{160, 1.2, "jungle"},
	{172, 1.4, "drum_and_bass"},
	{174, 1.5, "drum_and_bass"},
}

type rawRanker struct{}

func (rawRanker) Strategy() Strategy { return StrategyRaw }

func (rawRanker) Rank(in RankInput) Ranking {
	best := in.Candidates[0]
	return Ranking{Best: best, BPM: best.BPM}
}

type priorRanker struct{}

func (priorRanker) Strategy() Strategy { return StrategyPriorWeighted }

func (priorRanker) Rank(in RankInput) Ranking {
	peaks := autocorrPeaks(in)
	if len(peaks) == 0 {
		return rawRanker{}.Rank(in)
	}

	weights := make([]float64, len(peaks))
	for i, p := range peaks {
		weights[i] = p.Score * logNormalPrior(p.BPM, in.StartBPM)
	}
	best := peaks[pickBest(peaks, weights)]

	return Ranking{
		Best:          best,
		BPM:           best.BPM,
		Relationships: relationships(best, peaks),
	}
}

type genreRanker struct{}

func (genreRanker) Strategy() Strategy { return StrategyGenreTable }

func (genreRanker) Rank(in RankInput) Ranking {
	peaks := autocorrPeaks(in)
	if len(peaks) == 0 {
		return rawRanker{}.Rank(in)
	}

	intervalBPM := onsetIntervalBPM(in)

	weights := make([]float64, len(peaks))
	matched := false
	for i, p := range peaks {
		w := p.Score * logNormalPrior(p.BPM, in.StartBPM)
		if intervalBPM > 0 && math.Abs(p.BPM-intervalBPM)/intervalBPM <= intervalTolerance {
			w *= intervalBoost
		}
		if g, ok := genreMatch(p.BPM); ok {
			w *= g.Weight
			matched = true
		}
		weights[i] = w
	}

	// without a table match prefer the typical range and the hint
	if !matched {
		for i, p := range peaks {
			weights[i] *= typicalRangeFactor(p.BPM) * hintFactor(p.BPM, in.StartBPM)
		}
	}

	best := peaks[pickBest(peaks, weights)]
	bpm := best.BPM
	if snapped, ok := snapToTable(best.Lag, in.SampleRate, in.HopLength); ok {
		bpm = snapped
	}

	return Ranking{
		Best:          best,
		BPM:           bpm,
		Relationships: relationships(best, peaks),
		IntervalBPM:   intervalBPM,
	}
}

// autocorrPeaks returns lag-domain local maxima scoring at least 5% of the
// maximum, sorted like candidates
func autocorrPeaks(in RankInput) []TempoCandidate {
	maxScore := in.Candidates[0].Score
	peaks := []TempoCandidate{}

	for lag := in.MinLag; lag <= in.MaxLag; lag++ {
		v := in.Autocorr[lag]
		if v <= 0 || v < peakProminence*maxScore {
			continue
		}
		left := 0.0
		if lag-1 >= in.MinLag {
			left = in.Autocorr[lag-1]
		}
		right := 0.0
		if lag+1 <= in.MaxLag {
			right = in.Autocorr[lag+1]
		}
		if v >= left && v >= right {
			peaks = append(peaks, TempoCandidate{
				BPM:   LagToBPM(float64(lag), in.SampleRate, in.HopLength),
				Score: v,
				Lag:   lag,
			})
		}
	}

	sortCandidates(peaks)
	return peaks
}

// pickBest returns the index with the highest weight, lower BPM on ties
func pickBest(peaks []TempoCandidate, weights []float64) int {
	best := 0
	for i := 1; i < len(peaks); i++ {
		if weights[i] > weights[best] || (weights[i] == weights[best] && peaks[i].BPM < peaks[best].BPM) {
			best = i
		}
	}
	return best
}

// logNormalPrior is a one-octave log-normal weight centered on start
func logNormalPrior(bpm, start float64) float64 {
	if bpm <= 0 || start <= 0 {
		return 0
	}
	octaves := math.Log2(bpm / start)
	return math.Exp(-0.5 * octaves * octaves)
}

func typicalRangeFactor(bpm float64) float64 {
	dist := 0.0
	if bpm < typicalMinBPM {
		dist = typicalMinBPM - bpm
	} else if bpm > typicalMaxBPM {
		dist = bpm - typicalMaxBPM
	}
	return 1.0 + 0.1*math.Exp(-dist/20.0)
}

func hintFactor(bpm, start float64) float64 {
	return 1.0 + 0.1*math.Exp(-math.Abs(bpm-start)/20.0)
}

func relationships(best TempoCandidate, peaks []TempoCandidate) []TempoRelationship {
	var out []TempoRelationship
	for _, p := range peaks {
		if p.Lag == best.Lag {
			continue
		}
		ratio := p.BPM / best.BPM
		for _, rel := range tempoRelations {
			if math.Abs(ratio-rel.ratio)/rel.ratio <= relationTolerance {
				out = append(out, TempoRelationship{
					BPM:   p.BPM,
					Ratio: rel.ratio,
					Kind:  rel.kind,
					Score: p.Score,
				})
				break
			}
		}
	}
	return out
}

// onsetIntervalBPM converts the median spacing of salient onset peaks to BPM
func onsetIntervalBPM(in RankInput) float64 {
	env := OnsetEnvelope{Values: in.Envelope}
	peaks := env.PeakFrames(salientOnsetLevel, salientOnsetMinGap)
	if len(peaks) < 2 {
		return 0
	}

	intervals := make([]float64, len(peaks)-1)
	for i := range intervals {
		intervals[i] = float64(peaks[i+1] - peaks[i])
	}
	return LagToBPM(common.Median(intervals), in.SampleRate, in.HopLength)
}

func genreMatch(bpm float64) (GenreTempo, bool) {
	var best GenreTempo
	found := false
	for _, g := range GenreTempos {
		if math.Abs(bpm-g.BPM)/g.BPM <= genreTolerance && (!found || g.Weight > best.Weight) {
			best = g
			found = true
		}
	}
	return best, found
}

// snapToTable reports a table tempo lying inside the quantization cell of lag,
// i.e. a tempo that lag would have produced after rounding to whole frames.
// The table entry closest to the lag tempo wins.
func snapToTable(lag, sampleRate, hopLength int) (float64, bool) {
	lo := LagToBPM(float64(lag)+0.5, sampleRate, hopLength)
	hi := LagToBPM(float64(lag)-0.5, sampleRate, hopLength)
	center := LagToBPM(float64(lag), sampleRate, hopLength)

	inCell := []float64{}
	for _, g := range GenreTempos {
		if g.BPM >= lo && g.BPM <= hi {
			inCell = append(inCell, g.BPM)
		}
	}
	if len(inCell) == 0 {
		return 0, false
	}

	sort.Slice(inCell, func(i, j int) bool {
		return math.Abs(inCell[i]-center) < math.Abs(inCell[j]-center)
	})
	return inCell[0], true
}

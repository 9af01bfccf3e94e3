/**
 * Consensus Engine
 *
 * Picks one winning result out of a voting pool. The winner is always one of
 * the inputs; text from different backends is never merged.
 */

package recognition

import (
	"math"
	"sort"
	"unicode/utf8"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
)

// Scoring weights; they sum to 1.0 so a total score stays within [0,1]
const (
	confidenceWeight = 0.6
	lengthWeight     = 0.3
	speedWeight      = 0.1

	// text length at which the length term saturates
	lengthSaturation = 100.0
	// processing time (seconds) at which the speed term reaches zero
	speedHorizon = 10.0
)

// Candidate pairs a backend name with the result it produced
type Candidate struct {
	Backend string
	Result  *Result
}

// Score computes the weighted total for one result
func Score(r *Result) float64 {
	confidence := clamp01(r.Confidence)
	length := math.Min(float64(utf8.RuneCountInString(r.Text))/lengthSaturation, 1.0)
	speed := math.Max(0, (speedHorizon-r.ProcessingTime)/speedHorizon)
	speed = math.Min(speed, 1.0)

	return confidence*confidenceWeight + length*lengthWeight + speed*speedWeight
}

// SelectBest returns the highest-scoring candidate and its score rounded to 3 decimals.
// Ties go to the candidate listed first.
func SelectBest(candidates []Candidate) (Candidate, float64, error) {
	if len(candidates) == 0 {
		return Candidate{}, 0, apperrors.NewAllBackendsFailedError(map[string]string{})
	}

	type scored struct {
		candidate Candidate
		score     float64
	}

	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{candidate: c, score: Score(c.Result)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	best := ranked[0]
	return best.candidate, roundTo(best.score, 3), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

package scale

import (
	"math"
	"sort"
)

// Estimate maps a round's raw votes onto a single deck card: discard
// non-positive values (unsure cards), take the lower median, then pick the
// deck card nearest to it. Ties keep the earlier card in deck order, so the
// result is always a legal, postable value even when raw votes are not.
func Estimate(votes []float64, deck []float64) float64 {
	if len(deck) == 0 {
		return 0
	}

	median := LowerMedian(votes)

	estimate := deck[0]
	for _, card := range deck[1:] {
		if math.Abs(card-median) < math.Abs(estimate-median) {
			estimate = card
		}
	}
	return estimate
}

// LowerMedian returns values[floor((n-1)/2)] of the positive votes sorted
// ascending, or 0 when none remain.
func LowerMedian(votes []float64) float64 {
	counted := make([]float64, 0, len(votes))
	for _, v := range votes {
		if v > 0 {
			counted = append(counted, v)
		}
	}
	if len(counted) == 0 {
		return 0
	}

	sort.Float64s(counted)
	return counted[(len(counted)-1)/2]
}

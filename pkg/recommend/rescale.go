package recommend

import "fmt"

// scoreRange returns the minimum and maximum candidate score. Callers
// guarantee at least one candidate.
func scoreRange(candidates []Candidate) (min, max float64) {
	min, max = candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	return min, max
}

// Rescale maps candidate scores linearly from [scoreMin, scoreMax] onto
// [ratingMin, ratingMax]:
//
//	rescaled = (score - scoreMin) × (ratingMax - ratingMin) / (scoreMax - scoreMin) + ratingMin
//
// The best-scoring prediction lands exactly on ratingMax and the worst on
// ratingMin. A collapsed score range (scoreMax == scoreMin) leaves the map
// undefined and returns ErrUniformScores. A collapsed rating range is fine:
// every prediction just lands on that single rating.
func Rescale(candidates []Candidate, scoreMin, scoreMax, ratingMin, ratingMax float64) ([]Prediction, error) {
	if scoreMax == scoreMin {
		return nil, fmt.Errorf("%w: every allocated score is %g", ErrUniformScores, scoreMax)
	}

	scale := (ratingMax - ratingMin) / (scoreMax - scoreMin)
	predictions := make([]Prediction, len(candidates))
	for i, c := range candidates {
		predictions[i] = Prediction{
			User:  c.User,
			Item:  c.Item,
			Score: (c.Score-scoreMin)*scale + ratingMin,
		}
	}
	return predictions, nil
}

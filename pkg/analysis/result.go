package analysis

import "math"

// Result is the classifier verdict for one upload.
type Result struct {
	AIGenerated bool    `json:"aiGenerated"`
	Score       float64 `json:"score"`
}

// ConfidencePercent is the value written to the ledger: floor(score*100).
// Floor applies to the float64 product, so 0.29 yields 28.
func ConfidencePercent(score float64) uint64 {
	if score <= 0 || math.IsNaN(score) {
		return 0
	}
	return uint64(math.Floor(score * 100))
}

// ConfidencePercent of the result's score.
func (r Result) ConfidencePercent() uint64 {
	return ConfidencePercent(r.Score)
}

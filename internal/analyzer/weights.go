package analyzer

import "github.com/heimdex/heimdex-inspect/internal/compliance"

// Weights holds the contribution of each scored category to the overall
// frame score. Presets sum to 1.
type Weights [compliance.NumScored]float64

// FullWeights is used when the cloud provider group answered for the frame.
var FullWeights = Weights{
	compliance.CategoryPPE:           0.15,
	compliance.CategorySafety:        0.15,
	compliance.CategoryCleanliness:   0.10,
	compliance.CategoryFoodSafety:    0.15,
	compliance.CategoryEquipment:     0.10,
	compliance.CategoryOperational:   0.05,
	compliance.CategoryFoodQuality:   0.05,
	compliance.CategoryStaffBehavior: 0.10,
	compliance.CategoryUniform:       0.10,
	compliance.CategoryMenuBoard:     0.05,
}

// DegradedWeights puts the whole score on the local-only categories.
var DegradedWeights = Weights{
	compliance.CategoryUniform:   0.50,
	compliance.CategoryMenuBoard: 0.50,
}

func WeightsFor(cloudAvailable bool) Weights {
	if cloudAvailable {
		return FullWeights
	}
	return DegradedWeights
}

func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// Overall returns the weighted score.
func (w Weights) Overall(scores compliance.Scores) float64 {
	var total float64
	for i, v := range w {
		total += v * scores[i]
	}
	return clampScore(total)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

package patterns

import "math"

// DefaultComplexityWeight stands in for a mid rule complexity.
const DefaultComplexityWeight = 0.8

// Scorer decides which candidates are kept and how automatable they are.
type Scorer struct {
	// KeepFrequency and KeepConfidence are strict lower bounds.
	KeepFrequency  float64
	KeepConfidence float64

	// ComplexityWeight is the fixed third term of the automation potential.
	ComplexityWeight float64
}

// DefaultScorer returns a Scorer with the standard thresholds.
func DefaultScorer() Scorer {
	return Scorer{
		KeepFrequency:    0.3,
		KeepConfidence:   0.5,
		ComplexityWeight: DefaultComplexityWeight,
	}
}

// Keep reports whether a candidate is strong enough to become a pattern.
func (s Scorer) Keep(frequency, confidence float64) bool {
	return frequency > s.KeepFrequency && confidence > s.KeepConfidence
}

// AutomationPotential scores a kept candidate.
func (s Scorer) AutomationPotential(frequency, confidence float64) float64 {
	return AutomationPotential(frequency, confidence, s.ComplexityWeight)
}

// AutomationPotential is (min(2f, 1) + c + w) / 3, bounded to [0, 1].
func AutomationPotential(frequency, confidence, complexityWeight float64) float64 {
	return Clamp01((math.Min(frequency*2, 1) + confidence + complexityWeight) / 3)
}

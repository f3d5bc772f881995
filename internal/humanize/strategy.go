package humanize

import "github.com/JakeFAU/session-harvester/internal/harvest"

// Weight pairs a skip profile with its selection probability.
type Weight struct {
	Profile     harvest.SkipProfile
	Probability float64
}

// DefaultWeights is the stock skip-profile distribution.
var DefaultWeights = []Weight{
	{Profile: harvest.SkipQuick, Probability: 0.60},
	{Profile: harvest.SkipScanThenSkip, Probability: 0.25},
	{Profile: harvest.SkipHesitate, Probability: 0.15},
}

// WeightedStrategy picks profiles by cumulative probability.
type WeightedStrategy struct {
	weights []Weight
	draw    func() float64
}

// NewWeightedStrategy builds a strategy. draw must return values in [0, 1);
// nil weights use DefaultWeights.
func NewWeightedStrategy(weights []Weight, draw func() float64) *WeightedStrategy {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	return &WeightedStrategy{weights: weights, draw: draw}
}

// Choose implements harvest.SkipStrategy.
func (s *WeightedStrategy) Choose() harvest.SkipProfile {
	r := s.draw()
	cumulative := 0.0
	for _, w := range s.weights {
		cumulative += w.Probability
		if r < cumulative {
			return w.Profile
		}
	}
	return harvest.SkipQuick
}

// Fixed always chooses the same profile.
type Fixed harvest.SkipProfile

// Choose implements harvest.SkipStrategy.
func (f Fixed) Choose() harvest.SkipProfile {
	return harvest.SkipProfile(f)
}

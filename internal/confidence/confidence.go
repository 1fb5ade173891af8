// Package confidence maps probability-like values to display tiers. The same tiers
// are used for classifier confidence and similarity scores.
package confidence

import "math"

type Tier int

const (
	Low Tier = iota
	Medium
	High
)

const (
	HighThreshold   = 0.80
	MediumThreshold = 0.60
)

func (t Tier) String() string {
	switch t {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// TierOf is total: NaN and negative values are Low, values above 1 are High.
func TierOf(v float64) Tier {
	switch {
	case math.IsNaN(v):
		return Low
	case v >= HighThreshold:
		return High
	case v >= MediumThreshold:
		return Medium
	default:
		return Low
	}
}

// Describe gives a short reading of a similarity score.
func Describe(score float64) string {
	switch {
	case score >= 0.90:
		return "very high: the texts are practically identical"
	case score >= 0.75:
		return "high: same topic with a similar focus"
	case score >= 0.50:
		return "moderate: the texts share elements"
	case score >= 0.30:
		return "low: the texts are loosely related"
	default:
		return "very low: the texts are unrelated"
	}
}

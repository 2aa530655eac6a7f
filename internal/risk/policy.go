package risk

import (
	"math/big"

	"github.com/mbd888/approvalguard/internal/approvals"
)

// Policy holds every scoring constant in one place. It is immutable after
// construction and passed explicitly into NewEngine — weight overrides are
// a constructor concern, never a global patch.
type Policy struct {
	// Weights are point budgets per factor (contribution = raw × weight).
	WeightUnlimited  float64
	WeightDormancy   float64
	WeightNeverUsed  float64
	WeightUnverified float64
	WeightHighValue  float64
	WeightMalicious  float64

	// Level cutoffs on the 0–100 score. Single shared table; handlers and
	// reports must not carry their own copies.
	CriticalThreshold int
	HighThreshold     int
	MediumThreshold   int

	// UnlimitedThreshold marks an allowance as practically infinite.
	UnlimitedThreshold *big.Int

	// HighValueUSD is the exposure at which the high_value factor starts.
	HighValueUSD float64

	// Dormancy day boundaries, ascending.
	DormancyBands [4]int
}

// DefaultPolicy returns the canonical scoring policy.
//
// The weights are chosen so that:
//   - no combination of minor factors reaches critical
//     (20 + 20 + 25 + 15 = 80 < 90);
//   - an unlimited allowance alone lands medium (50);
//   - unlimited + unverified lands high (75);
//   - a known-malicious spender alone lands critical (95).
func DefaultPolicy() Policy {
	return Policy{
		WeightUnlimited:    50,
		WeightDormancy:     20,
		WeightNeverUsed:    20,
		WeightUnverified:   25,
		WeightHighValue:    15,
		WeightMalicious:    95,
		CriticalThreshold:  90,
		HighThreshold:      70,
		MediumThreshold:    40,
		UnlimitedThreshold: approvals.DefaultUnlimitedThreshold,
		HighValueUSD:       1000,
		DormancyBands:      [4]int{30, 90, 180, 365},
	}
}

// LevelFor maps a clamped score to its risk level.
func (p Policy) LevelFor(score int) Level {
	switch {
	case score >= p.CriticalThreshold:
		return LevelCritical
	case score >= p.HighThreshold:
		return LevelHigh
	case score >= p.MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// dormancyRaw maps days without activity to the factor's raw score.
// Monotonically non-decreasing in elapsed days: longer dormancy never
// scores lower than shorter.
func (p Policy) dormancyRaw(days int) float64 {
	switch {
	case days >= p.DormancyBands[3]:
		return 1.0
	case days >= p.DormancyBands[2]:
		return 0.75
	case days >= p.DormancyBands[1]:
		return 0.5
	case days >= p.DormancyBands[0]:
		return 0.25
	default:
		return 0
	}
}

// highValueRaw maps USD exposure to the factor's raw score. Graduated at
// 1×, 5× and 10× the base threshold.
func (p Policy) highValueRaw(usd float64) float64 {
	switch {
	case usd >= p.HighValueUSD*10:
		return 1.0
	case usd >= p.HighValueUSD*5:
		return 0.75
	case usd >= p.HighValueUSD:
		return 0.5
	default:
		return 0
	}
}

// Package risk scores outstanding ERC-20 approvals.
//
// Every live approval is evaluated against 6 weighted factors: unlimited
// allowance, dormancy, never-used, unverified spender, high USD exposure,
// and known-malicious spender. Factor raw scores are on a fixed 0.0–1.0
// scale; weights are absolute points. The overall score is the clamped
// weighted sum on a 0–100 scale mapped to a discrete level.
//
// The engine is pure: it takes an explicit "now", never reads a clock,
// never logs, and produces byte-identical output for identical input.
package risk

import (
	"time"
)

// FactorKind enumerates the contributing risk signals.
type FactorKind string

const (
	FactorZeroApproval       FactorKind = "zero_approval"
	FactorUnlimitedAllowance FactorKind = "unlimited_allowance"
	FactorDormantApproval    FactorKind = "dormant_approval"
	FactorNeverUsed          FactorKind = "never_used"
	FactorUnverifiedSpender  FactorKind = "unverified_spender"
	FactorHighValue          FactorKind = "high_value"
	FactorKnownMalicious     FactorKind = "known_malicious"
)

// Level is the discrete risk band for an assessment.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank orders levels from low (0) to critical (3).
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// Factor is one contributing signal to a score. RawScore is factor-local
// on [0,1]; Weight is the factor's point budget; the contribution to the
// overall score is RawScore × Weight.
type Factor struct {
	Kind        FactorKind `json:"kind"`
	RawScore    float64    `json:"rawScore"`
	Weight      float64    `json:"weight"`
	Description string     `json:"description"`
}

// Points is the factor's contribution to the overall score.
func (f Factor) Points() float64 {
	return f.RawScore * f.Weight
}

// Assessment is the scoring result for one approval pair. Factors are in
// evaluation order and hold only the signals that triggered: a fully
// benign approval has none and scores 0.
type Assessment struct {
	Score          int      `json:"score"` // 0–100, clamped
	Level          Level    `json:"level"`
	Factors        []Factor `json:"factors"`
	Recommendation string   `json:"recommendation"`
}

// HasFactor reports whether a factor of the given kind contributed.
func (a *Assessment) HasFactor(kind FactorKind) bool {
	for _, f := range a.Factors {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// DominantFactor returns the factor with the highest point contribution,
// or a zero Factor when none contributed.
func (a *Assessment) DominantFactor() Factor {
	var dominant Factor
	for _, f := range a.Factors {
		if f.Points() > dominant.Points() {
			dominant = f
		}
	}
	return dominant
}

// Enrichment carries optional best-effort context for one approval pair.
// Missing fields mean "unknown" and are scored conservatively; they are
// never a fatal condition.
type Enrichment struct {
	// SpenderVerified is nil when no verification data is available,
	// which scores the same as explicitly unverified.
	SpenderVerified *bool `json:"spenderVerified,omitempty"`

	// USDValue is the estimated exposure in USD. Negative values are
	// malformed input and ignored.
	USDValue *float64 `json:"usdValue,omitempty"`

	// KnownMalicious is set when the spender matches the denylist.
	KnownMalicious bool `json:"knownMalicious,omitempty"`

	// UsageObserved is true when transfer activity for the pair was
	// actually looked up. Only then can LastUsedAt == nil mean
	// "approved but never used" rather than "no data".
	UsageObserved bool       `json:"usageObserved,omitempty"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`

	// Token metadata, placeholder-filled on lookup failure.
	TokenName     string `json:"tokenName,omitempty"`
	TokenSymbol   string `json:"tokenSymbol,omitempty"`
	TokenDecimals uint8  `json:"tokenDecimals,omitempty"`
}

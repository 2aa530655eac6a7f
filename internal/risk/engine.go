package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/mbd888/approvalguard/internal/approvals"
)

// Engine scores approval pair states against an immutable Policy.
type Engine struct {
	policy Policy
}

// NewEngine creates a scoring engine with the given policy. Use
// DefaultPolicy() unless the caller has explicit weight overrides.
func NewEngine(policy Policy) *Engine {
	if policy.UnlimitedThreshold == nil {
		policy.UnlimitedThreshold = approvals.DefaultUnlimitedThreshold
	}
	return &Engine{policy: policy}
}

// Policy returns the engine's scoring policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Score evaluates one approval pair and always returns an assessment:
// scoring is total over its domain. Malformed enrichment (negative USD,
// nil fields) is ignored, never an error. The caller passes "now" so that
// identical inputs yield byte-identical output.
func (e *Engine) Score(state *approvals.PairState, enr Enrichment, now time.Time) *Assessment {
	p := e.policy

	// Zero-value short-circuit. The reducer filters these by default, but
	// the engine is also called standalone and with audit-mode input.
	if state.CurrentAllowance == nil || state.CurrentAllowance.Sign() == 0 {
		return &Assessment{
			Score: 0,
			Level: LevelLow,
			Factors: []Factor{{
				Kind:        FactorZeroApproval,
				RawScore:    0,
				Weight:      0,
				Description: "allowance is zero; this approval is fully revoked",
			}},
			Recommendation: "No action needed: the allowance is already revoked.",
		}
	}

	var factors []Factor
	unlimited := false

	// Known-malicious dominates; evaluated first so it leads the factor list.
	if enr.KnownMalicious {
		factors = append(factors, Factor{
			Kind:        FactorKnownMalicious,
			RawScore:    1.0,
			Weight:      p.WeightMalicious,
			Description: "spender address appears on a known-malicious denylist",
		})
	}

	if state.CurrentAllowance.Cmp(p.UnlimitedThreshold) >= 0 {
		unlimited = true
		factors = append(factors, Factor{
			Kind:        FactorUnlimitedAllowance,
			RawScore:    1.0,
			Weight:      p.WeightUnlimited,
			Description: "allowance is effectively unlimited; the spender can drain the full token balance",
		})
	}

	// Dormancy: days since last usage if observed, otherwise since the
	// approval was last modified.
	ref := state.LastModifiedAt
	if enr.UsageObserved && enr.LastUsedAt != nil {
		ref = *enr.LastUsedAt
	}
	if !ref.IsZero() {
		days := int(now.Sub(ref).Hours() / 24)
		if raw := p.dormancyRaw(days); raw > 0 {
			factors = append(factors, Factor{
				Kind:        FactorDormantApproval,
				RawScore:    raw,
				Weight:      p.WeightDormancy,
				Description: fmt.Sprintf("no activity for %d days", days),
			})
		}
	}

	// Never-used is a stronger, distinct signal: usage data was looked up
	// and the spender has never moved tokens under this approval.
	if enr.UsageObserved && enr.LastUsedAt == nil {
		factors = append(factors, Factor{
			Kind:        FactorNeverUsed,
			RawScore:    1.0,
			Weight:      p.WeightNeverUsed,
			Description: "approval has never been used since it was granted",
		})
	}

	if enr.SpenderVerified == nil || !*enr.SpenderVerified {
		factors = append(factors, Factor{
			Kind:        FactorUnverifiedSpender,
			RawScore:    1.0,
			Weight:      p.WeightUnverified,
			Description: "spender contract is unverified or unknown",
		})
	}

	// High value is skipped when unlimited already fired: both measure the
	// same underlying exposure.
	if !unlimited && enr.USDValue != nil && *enr.USDValue > 0 {
		if raw := p.highValueRaw(*enr.USDValue); raw > 0 {
			factors = append(factors, Factor{
				Kind:        FactorHighValue,
				RawScore:    raw,
				Weight:      p.WeightHighValue,
				Description: fmt.Sprintf("approval covers roughly $%.0f of tokens", *enr.USDValue),
			})
		}
	}

	score := 0.0
	for _, f := range factors {
		score += f.Points()
	}
	clamped := int(math.Round(math.Min(100, math.Max(0, score))))

	level := p.LevelFor(clamped)
	assessment := &Assessment{
		Score:   clamped,
		Level:   level,
		Factors: factors,
	}
	assessment.Recommendation = recommendationText(level, assessment.DominantFactor())
	return assessment
}

// recommendationText derives the user-facing recommendation from the level
// and the dominant factor. Pure and deterministic, suitable for golden tests.
func recommendationText(level Level, dominant Factor) string {
	switch level {
	case LevelCritical:
		if dominant.Kind == FactorKnownMalicious {
			return "Revoke immediately: the spender is a known-malicious address."
		}
		return "Revoke immediately: this approval exposes funds to critical risk."
	case LevelHigh:
		return "Revoke soon: this approval carries high risk and is unlikely to be needed as-is."
	case LevelMedium:
		if dominant.Kind == FactorUnlimitedAllowance {
			return "Consider replacing this unlimited approval with a bounded allowance."
		}
		return "Review this approval and revoke it if the spender is no longer needed."
	default:
		return "Low risk: no action required, but periodic review is good hygiene."
	}
}

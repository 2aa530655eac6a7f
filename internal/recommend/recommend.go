// Package recommend turns scored approvals into an ordered revocation plan
// plus wallet-level aggregate statistics.
//
// Like the reducer and the scoring engine, this stage is pure and
// deterministic: two runs over the same input produce byte-identical output.
package recommend

import (
	"math"
	"sort"

	"github.com/mbd888/approvalguard/internal/approvals"
	"github.com/mbd888/approvalguard/internal/risk"
)

// Urgency tiers, most urgent first.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyHigh      Urgency = "high"
	UrgencyMedium    Urgency = "medium"
	UrgencyLow       Urgency = "low"
)

// rank orders urgency tiers ascending from most urgent.
func (u Urgency) rank() int {
	switch u {
	case UrgencyImmediate:
		return 0
	case UrgencyHigh:
		return 1
	case UrgencyMedium:
		return 2
	default:
		return 3
	}
}

// Priority-sort bonuses per factor. These adjust sort order among
// revocation candidates only; the user-facing score is untouched.
const (
	bonusMalicious = 25.0
	bonusUnlimited = 10.0
	bonusNeverUsed = 5.0
)

// ScoredApproval pairs a reduced state with its assessment.
type ScoredApproval struct {
	State      *approvals.PairState `json:"state"`
	Assessment *risk.Assessment     `json:"assessment"`
}

// Recommendation is one actionable revocation entry.
type Recommendation struct {
	State        *approvals.PairState `json:"state"`
	Assessment   *risk.Assessment     `json:"assessment"`
	ShouldRevoke bool                 `json:"shouldRevoke"`
	Urgency      Urgency              `json:"urgency"`

	// PriorityScore is the sort key among candidates: the risk score plus
	// factor-specific bonuses. Not shown as "the" risk score.
	PriorityScore float64 `json:"priorityScore"`
}

// Summary is the wallet-level aggregate, recomputed from the current
// assessments on every run — never stored as mutable shared state.
type Summary struct {
	TotalApprovals int                `json:"totalApprovals"`
	ByLevel        map[risk.Level]int `json:"byLevel"`
	RevokeCount    int                `json:"revokeCount"`

	// OverallScore blends 60% of the worst single score with 40% of the
	// mean, so one critical approval is not diluted by many safe ones.
	OverallScore int        `json:"overallScore"`
	OverallLevel risk.Level `json:"overallLevel"`
}

// Prioritize converts scored approvals into an ordered action list and the
// wallet summary. Sort order: urgency tier ascending (most urgent first),
// then priority score descending, then original input order (stable).
func Prioritize(scored []ScoredApproval, policy risk.Policy) ([]Recommendation, Summary) {
	recs := make([]Recommendation, 0, len(scored))
	summary := Summary{
		TotalApprovals: len(scored),
		ByLevel:        map[risk.Level]int{},
	}

	maxScore := 0
	sumScore := 0
	for _, sa := range scored {
		a := sa.Assessment
		summary.ByLevel[a.Level]++
		sumScore += a.Score
		if a.Score > maxScore {
			maxScore = a.Score
		}

		rec := Recommendation{
			State:         sa.State,
			Assessment:    a,
			ShouldRevoke:  shouldRevoke(a),
			Urgency:       urgencyFor(a.Level),
			PriorityScore: priorityScore(a),
		}
		if rec.ShouldRevoke {
			summary.RevokeCount++
		}
		recs = append(recs, rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Urgency != recs[j].Urgency {
			return recs[i].Urgency.rank() < recs[j].Urgency.rank()
		}
		return recs[i].PriorityScore > recs[j].PriorityScore
	})

	if len(scored) > 0 {
		mean := float64(sumScore) / float64(len(scored))
		summary.OverallScore = int(math.Round(0.6*float64(maxScore) + 0.4*mean))
	}
	summary.OverallLevel = policy.LevelFor(summary.OverallScore)

	return recs, summary
}

// shouldRevoke: high/critical always; medium only with 2+ factors.
func shouldRevoke(a *risk.Assessment) bool {
	switch a.Level {
	case risk.LevelHigh, risk.LevelCritical:
		return true
	case risk.LevelMedium:
		return len(a.Factors) >= 2
	default:
		return false
	}
}

// urgencyFor is a direct, total-order mapping from risk level.
func urgencyFor(level risk.Level) Urgency {
	switch level {
	case risk.LevelCritical:
		return UrgencyImmediate
	case risk.LevelHigh:
		return UrgencyHigh
	case risk.LevelMedium:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func priorityScore(a *risk.Assessment) float64 {
	score := float64(a.Score)
	if a.HasFactor(risk.FactorKnownMalicious) {
		score += bonusMalicious
	}
	if a.HasFactor(risk.FactorUnlimitedAllowance) {
		score += bonusUnlimited
	}
	if a.HasFactor(risk.FactorNeverUsed) {
		score += bonusNeverUsed
	}
	return score
}

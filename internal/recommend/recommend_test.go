package recommend

import (
	"math/big"
	"testing"

	"github.com/mbd888/approvalguard/internal/approvals"
	"github.com/mbd888/approvalguard/internal/risk"
)

func scored(spender string, score int, level risk.Level, kinds ...risk.FactorKind) ScoredApproval {
	factors := make([]risk.Factor, 0, len(kinds))
	for _, k := range kinds {
		factors = append(factors, risk.Factor{Kind: k, RawScore: 1, Weight: 10})
	}
	return ScoredApproval{
		State: &approvals.PairState{
			Owner:            "0x1111111111111111111111111111111111111111",
			TokenAddress:     "0xaaaa000000000000000000000000000000000001",
			Spender:          spender,
			CurrentAllowance: big.NewInt(1000),
		},
		Assessment: &risk.Assessment{Score: score, Level: level, Factors: factors},
	}
}

func TestPrioritizeOrdering(t *testing.T) {
	input := []ScoredApproval{
		scored("0xlow", 10, risk.LevelLow),
		scored("0xcritical", 95, risk.LevelCritical, risk.FactorKnownMalicious),
		scored("0xmedium", 50, risk.LevelMedium, risk.FactorUnlimitedAllowance),
		scored("0xhigh", 75, risk.LevelHigh, risk.FactorUnlimitedAllowance, risk.FactorUnverifiedSpender),
	}

	recs, _ := Prioritize(input, risk.DefaultPolicy())

	wantOrder := []string{"0xcritical", "0xhigh", "0xmedium", "0xlow"}
	for i, spender := range wantOrder {
		if recs[i].State.Spender != spender {
			t.Fatalf("recs[%d] = %s, want %s", i, recs[i].State.Spender, spender)
		}
	}
	wantUrgency := []Urgency{UrgencyImmediate, UrgencyHigh, UrgencyMedium, UrgencyLow}
	for i, u := range wantUrgency {
		if recs[i].Urgency != u {
			t.Errorf("recs[%d].Urgency = %s, want %s", i, recs[i].Urgency, u)
		}
	}
}

func TestPrioritizeBonusBreaksTies(t *testing.T) {
	// Same score and level: the malicious one sorts first via its bonus.
	input := []ScoredApproval{
		scored("0xplain", 80, risk.LevelHigh, risk.FactorUnverifiedSpender),
		scored("0xmalicious", 80, risk.LevelHigh, risk.FactorKnownMalicious),
	}

	recs, _ := Prioritize(input, risk.DefaultPolicy())
	if recs[0].State.Spender != "0xmalicious" {
		t.Errorf("malicious bonus should sort first, got %s", recs[0].State.Spender)
	}
	if recs[0].PriorityScore != 105 {
		t.Errorf("priorityScore = %.0f, want 105 (80 + 25)", recs[0].PriorityScore)
	}
}

func TestPrioritizeStable(t *testing.T) {
	// Identical entries keep input order, and repeated runs agree.
	input := []ScoredApproval{
		scored("0xfirst", 50, risk.LevelMedium, risk.FactorUnverifiedSpender, risk.FactorDormantApproval),
		scored("0xsecond", 50, risk.LevelMedium, risk.FactorUnverifiedSpender, risk.FactorDormantApproval),
	}

	for i := 0; i < 5; i++ {
		recs, _ := Prioritize(input, risk.DefaultPolicy())
		if recs[0].State.Spender != "0xfirst" || recs[1].State.Spender != "0xsecond" {
			t.Fatal("equal entries must keep input order")
		}
	}
}

func TestShouldRevokeRules(t *testing.T) {
	cases := []struct {
		name   string
		sa     ScoredApproval
		revoke bool
	}{
		{"critical", scored("0xs", 95, risk.LevelCritical, risk.FactorKnownMalicious), true},
		{"high", scored("0xs", 75, risk.LevelHigh, risk.FactorUnlimitedAllowance), true},
		{"medium one factor", scored("0xs", 50, risk.LevelMedium, risk.FactorUnlimitedAllowance), false},
		{"medium two factors", scored("0xs", 55, risk.LevelMedium, risk.FactorUnlimitedAllowance, risk.FactorDormantApproval), true},
		{"low", scored("0xs", 10, risk.LevelLow, risk.FactorDormantApproval, risk.FactorNeverUsed), false},
	}
	for _, tc := range cases {
		recs, _ := Prioritize([]ScoredApproval{tc.sa}, risk.DefaultPolicy())
		if recs[0].ShouldRevoke != tc.revoke {
			t.Errorf("%s: shouldRevoke = %v, want %v", tc.name, recs[0].ShouldRevoke, tc.revoke)
		}
	}
}

func TestSummaryAggregates(t *testing.T) {
	input := []ScoredApproval{
		scored("0xa", 95, risk.LevelCritical, risk.FactorKnownMalicious),
		scored("0xb", 50, risk.LevelMedium, risk.FactorUnlimitedAllowance),
		scored("0xc", 10, risk.LevelLow),
		scored("0xd", 5, risk.LevelLow),
	}

	_, summary := Prioritize(input, risk.DefaultPolicy())

	if summary.TotalApprovals != 4 {
		t.Errorf("total = %d, want 4", summary.TotalApprovals)
	}
	if summary.ByLevel[risk.LevelCritical] != 1 || summary.ByLevel[risk.LevelLow] != 2 {
		t.Errorf("byLevel = %v", summary.ByLevel)
	}
	if summary.RevokeCount != 1 {
		t.Errorf("revokeCount = %d, want 1", summary.RevokeCount)
	}

	// 0.6×95 + 0.4×mean(95,50,10,5) = 57 + 16 = 73.
	if summary.OverallScore != 73 {
		t.Errorf("overallScore = %d, want 73", summary.OverallScore)
	}
	if summary.OverallLevel != risk.LevelHigh {
		t.Errorf("overallLevel = %s, want high", summary.OverallLevel)
	}
}

func TestSummaryEmptyInput(t *testing.T) {
	recs, summary := Prioritize(nil, risk.DefaultPolicy())
	if len(recs) != 0 {
		t.Errorf("got %d recs, want 0", len(recs))
	}
	if summary.OverallScore != 0 || summary.OverallLevel != risk.LevelLow {
		t.Errorf("empty wallet should be score 0 / low, got %d / %s",
			summary.OverallScore, summary.OverallLevel)
	}
}

func TestSingleCriticalNotDiluted(t *testing.T) {
	// One drained-wallet-waiting-to-happen among many safe approvals
	// must still dominate the wallet score.
	input := []ScoredApproval{scored("0xbad", 100, risk.LevelCritical, risk.FactorKnownMalicious)}
	for i := 0; i < 20; i++ {
		input = append(input, scored("0xok", 0, risk.LevelLow))
	}

	_, summary := Prioritize(input, risk.DefaultPolicy())
	// 0.6×100 + 0.4×(100/21) ≈ 62.
	if summary.OverallScore < 60 {
		t.Errorf("overallScore = %d; a critical approval should not be diluted below 60", summary.OverallScore)
	}
}

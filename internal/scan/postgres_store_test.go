package scan

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/approvalguard/internal/approvals"
	"github.com/mbd888/approvalguard/internal/recommend"
	"github.com/mbd888/approvalguard/internal/risk"
	"github.com/mbd888/approvalguard/internal/testutil"
)

func pgReport(id string, generatedAt time.Time, score int, level risk.Level) *Report {
	return &Report{
		ID:          id,
		Owner:       testOwner,
		ChainID:     8453,
		FromBlock:   4000,
		ToBlock:     5000,
		GeneratedAt: generatedAt,
		EventCount:  1,
		Approvals: []recommend.ScoredApproval{{
			State: &approvals.PairState{
				Owner:            testOwner,
				TokenAddress:     testToken,
				Spender:          goodSpend,
				CurrentAllowance: big.NewInt(500),
			},
			Assessment: &risk.Assessment{Score: score, Level: level},
		}},
		Summary: recommend.Summary{
			TotalApprovals: 1,
			ByLevel:        map[risk.Level]int{level: 1},
			OverallScore:   score,
			OverallLevel:   level,
		},
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	report := pgReport("scan_pg1", time.Now().UTC().Truncate(time.Microsecond), 50, risk.LevelMedium)
	require.NoError(t, store.Save(ctx, report))

	got, err := store.Get(ctx, "scan_pg1")
	require.NoError(t, err)
	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, report.Owner, got.Owner)
	assert.Equal(t, report.FromBlock, got.FromBlock)
	require.Len(t, got.Approvals, 1)
	assert.Equal(t, 0, got.Approvals[0].State.CurrentAllowance.Cmp(big.NewInt(500)))
	assert.Equal(t, risk.LevelMedium, got.Summary.OverallLevel)

	_, err = store.Get(ctx, "scan_missing")
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestPostgresStoreLatestByOwner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.Save(ctx, pgReport("scan_old", now.Add(-time.Hour), 10, risk.LevelLow)))
	require.NoError(t, store.Save(ctx, pgReport("scan_new", now, 80, risk.LevelHigh)))

	got, err := store.LatestByOwner(ctx, testOwner, 8453)
	require.NoError(t, err)
	assert.Equal(t, "scan_new", got.ID)

	// Mixed-case owner resolves to the same rows.
	got, err = store.LatestByOwner(ctx, "0x1111111111111111111111111111111111111111", 8453)
	require.NoError(t, err)
	assert.Equal(t, "scan_new", got.ID)

	_, err = store.LatestByOwner(ctx, testOwner, 1)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestPostgresStoreListByOwner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	ids := []string{"scan_a", "scan_b", "scan_c", "scan_d"}
	for i, id := range ids {
		report := pgReport(id, now.Add(time.Duration(i)*time.Minute), 10, risk.LevelLow)
		require.NoError(t, store.Save(ctx, report))
	}

	page, err := store.ListByOwner(ctx, testOwner, 8453, 3, nil)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "scan_d", page[0].ID, "newest first")

	svc := &Service{store: store, config: Config{ChainID: 8453}}
	_, next, hasMore, err := svc.ListReports(ctx, testOwner, 2, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.NotEmpty(t, next)

	older, _, _, err := svc.ListReports(ctx, testOwner, 2, next)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "scan_b", older[0].ID)
}

func TestPostgresStoreListByOwnerTimestampTies(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	// All three share a generated_at; paging one at a time must visit
	// each exactly once.
	for _, id := range []string{"scan_b", "scan_c", "scan_a"} {
		require.NoError(t, store.Save(ctx, pgReport(id, now, 10, risk.LevelLow)))
	}

	svc := &Service{store: store, config: Config{ChainID: 8453}}
	var seen []string
	cursor := ""
	for i := 0; i < 3; i++ {
		page, next, _, err := svc.ListReports(ctx, testOwner, 1, cursor)
		require.NoError(t, err)
		require.Len(t, page, 1)
		seen = append(seen, page[0].ID)
		cursor = next
	}
	assert.Equal(t, []string{"scan_c", "scan_b", "scan_a"}, seen)
}

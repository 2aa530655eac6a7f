package scan

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/approvalguard/internal/approvals"
	"github.com/mbd888/approvalguard/internal/events"
	"github.com/mbd888/approvalguard/internal/risk"
)

var (
	scanNow   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testOwner = "0x1111111111111111111111111111111111111111"
	testToken = "0x4200000000000000000000000000000000000006"
	goodSpend = "0x2222222222222222222222222222222222222222"
	badSpend  = "0xbad0000000000000000000000000000000000001"
)

func approvalLog(token, owner, spender string, value *big.Int, block uint64) types.Log {
	return types.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			events.ApprovalEventSig,
			common.BytesToHash(common.HexToAddress(owner).Bytes()),
			common.BytesToHash(common.HexToAddress(spender).Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.HexToHash("0xf00d"),
	}
}

// fakeSource serves canned logs and deterministic block times.
type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	logs    []types.Log
	headErr error
	fetches int
}

func (f *fakeSource) LatestBlock(ctx context.Context) (uint64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeSource) FetchApprovalLogs(ctx context.Context, owner string, fromBlock, toBlock uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) ResolveTimestamps(ctx context.Context, evs []*events.ApprovalEvent) {
	for _, ev := range evs {
		ev.BlockTime = scanNow.Add(-time.Duration(f.head-ev.BlockNumber) * 12 * time.Second)
	}
}

// fakeEnricher marks one spender verified and one malicious.
type fakeEnricher struct{}

func (fakeEnricher) EnrichAll(ctx context.Context, states map[approvals.PairKey]*approvals.PairState) map[approvals.PairKey]risk.Enrichment {
	verified := true
	unverified := false
	out := make(map[approvals.PairKey]risk.Enrichment, len(states))
	for key := range states {
		switch key.Spender {
		case badSpend:
			out[key] = risk.Enrichment{SpenderVerified: &unverified, KnownMalicious: true}
		default:
			out[key] = risk.Enrichment{SpenderVerified: &verified, TokenSymbol: "WETH"}
		}
	}
	return out
}

func newTestService(source *fakeSource, store Store) *Service {
	svc := NewService(source, fakeEnricher{}, risk.NewEngine(risk.DefaultPolicy()), store,
		Config{ChainID: 8453, DefaultRange: 1000, CacheTTL: time.Hour},
		slog.New(slog.DiscardHandler))
	svc.now = func() time.Time { return scanNow }
	return svc
}

func uintPtr(v uint64) *uint64 { return &v }

func TestScanEndToEnd(t *testing.T) {
	source := &fakeSource{
		head: 5000,
		logs: []types.Log{
			approvalLog(testToken, testOwner, goodSpend, big.NewInt(500), 4100),
			approvalLog(testToken, testOwner, badSpend, new(big.Int).Set(approvals.MaxUint256), 4200),
		},
	}
	store := NewMemoryStore()
	svc := newTestService(source, store)

	report, err := svc.Scan(context.Background(), Request{Owner: testOwner})
	require.NoError(t, err)

	assert.Equal(t, testOwner, report.Owner)
	assert.Equal(t, int64(8453), report.ChainID)
	assert.Equal(t, uint64(4000), report.FromBlock, "default range is head minus DefaultRange")
	assert.Equal(t, uint64(5000), report.ToBlock)
	assert.Equal(t, scanNow, report.GeneratedAt)
	assert.Equal(t, 2, report.EventCount)
	assert.Equal(t, 0, report.SkippedRecords)
	require.Len(t, report.Approvals, 2)
	require.Len(t, report.Recommendations, 2)

	// The malicious unlimited approval must lead the recommendation list.
	top := report.Recommendations[0]
	assert.Equal(t, badSpend, top.State.Spender)
	assert.Equal(t, risk.LevelCritical, top.Assessment.Level)
	assert.True(t, top.ShouldRevoke)

	assert.Equal(t, 1, report.Summary.RevokeCount)
	// 0.6×100 + 0.4×mean(100, 0) = 80.
	assert.Equal(t, 80, report.Summary.OverallScore)
	assert.Equal(t, risk.LevelHigh, report.Summary.OverallLevel)

	// The report is persisted and retrievable by ID.
	stored, err := svc.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ID, stored.ID)
}

func TestScanExplicitRange(t *testing.T) {
	source := &fakeSource{
		head: 5000,
		logs: []types.Log{
			approvalLog(testToken, testOwner, goodSpend, big.NewInt(500), 100),
			approvalLog(testToken, testOwner, goodSpend, big.NewInt(900), 4500),
		},
	}
	svc := newTestService(source, NewMemoryStore())

	report, err := svc.Scan(context.Background(), Request{
		Owner:     testOwner,
		FromBlock: uintPtr(0),
		ToBlock:   uintPtr(200),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), report.FromBlock)
	assert.Equal(t, uint64(200), report.ToBlock)
	assert.Equal(t, 1, report.EventCount, "out-of-range log must be excluded")
}

func TestScanCacheShortcut(t *testing.T) {
	source := &fakeSource{
		head: 5000,
		logs: []types.Log{approvalLog(testToken, testOwner, goodSpend, big.NewInt(500), 4100)},
	}
	svc := newTestService(source, NewMemoryStore())

	first, err := svc.Scan(context.Background(), Request{Owner: testOwner})
	require.NoError(t, err)

	second, err := svc.Scan(context.Background(), Request{Owner: testOwner})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "fresh report should be served from cache")
	assert.Equal(t, 1, source.fetches, "cached scan must not hit the chain")

	forced, err := svc.Scan(context.Background(), Request{Owner: testOwner, Force: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)
	assert.Equal(t, 2, source.fetches)
}

func TestScanExplicitRangeBypassesCache(t *testing.T) {
	source := &fakeSource{head: 5000}
	svc := newTestService(source, NewMemoryStore())

	_, err := svc.Scan(context.Background(), Request{Owner: testOwner})
	require.NoError(t, err)

	_, err = svc.Scan(context.Background(), Request{Owner: testOwner, FromBlock: uintPtr(0), ToBlock: uintPtr(100)})
	require.NoError(t, err)
	assert.Equal(t, 2, source.fetches, "an explicit range is never served from cache")
}

func TestScanInvalidOwner(t *testing.T) {
	svc := newTestService(&fakeSource{head: 100}, NewMemoryStore())

	for _, owner := range []string{"", "nope", "0x123"} {
		_, err := svc.Scan(context.Background(), Request{Owner: owner})
		assert.ErrorIs(t, err, ErrInvalidOwner, "owner=%q", owner)
	}
}

func TestScanInvalidRange(t *testing.T) {
	svc := newTestService(&fakeSource{head: 100}, NewMemoryStore())

	_, err := svc.Scan(context.Background(), Request{
		Owner:     testOwner,
		FromBlock: uintPtr(500),
		ToBlock:   uintPtr(100),
	})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestScanHeadLookupFailure(t *testing.T) {
	source := &fakeSource{headErr: errors.New("rpc down")}
	svc := newTestService(source, NewMemoryStore())

	_, err := svc.Scan(context.Background(), Request{Owner: testOwner, Force: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolving chain head")
}

func TestScanSkipsMalformedLogs(t *testing.T) {
	garbage := approvalLog(testToken, testOwner, goodSpend, big.NewInt(1), 4100)
	garbage.Data = nil

	source := &fakeSource{
		head: 5000,
		logs: []types.Log{
			garbage,
			approvalLog(testToken, testOwner, goodSpend, big.NewInt(500), 4200),
		},
	}
	svc := newTestService(source, NewMemoryStore())

	report, err := svc.Scan(context.Background(), Request{Owner: testOwner})
	require.NoError(t, err)
	assert.Equal(t, 1, report.EventCount)
	assert.Equal(t, 1, report.SkippedRecords)
	assert.Len(t, report.Approvals, 1)
}

func TestScanEmptyWallet(t *testing.T) {
	svc := newTestService(&fakeSource{head: 5000}, NewMemoryStore())

	report, err := svc.Scan(context.Background(), Request{Owner: testOwner})
	require.NoError(t, err)
	assert.Empty(t, report.Approvals)
	assert.Equal(t, 0, report.Summary.OverallScore)
	assert.Equal(t, risk.LevelLow, report.Summary.OverallLevel)
}

func TestScanWithoutStore(t *testing.T) {
	source := &fakeSource{
		head: 5000,
		logs: []types.Log{approvalLog(testToken, testOwner, goodSpend, big.NewInt(500), 4100)},
	}
	svc := newTestService(source, nil)

	report, err := svc.Scan(context.Background(), Request{Owner: testOwner})
	require.NoError(t, err)
	assert.Len(t, report.Approvals, 1)
}

func TestScanDeterministic(t *testing.T) {
	source := &fakeSource{
		head: 5000,
		logs: []types.Log{
			approvalLog(testToken, testOwner, goodSpend, big.NewInt(500), 4100),
			approvalLog(testToken, testOwner, badSpend, new(big.Int).Set(approvals.MaxUint256), 4200),
		},
	}
	svc := newTestService(source, nil)

	first, err := svc.Scan(context.Background(), Request{Owner: testOwner, Force: true})
	require.NoError(t, err)
	second, err := svc.Scan(context.Background(), Request{Owner: testOwner, Force: true})
	require.NoError(t, err)

	require.Len(t, second.Recommendations, len(first.Recommendations))
	for i := range first.Recommendations {
		a, b := first.Recommendations[i], second.Recommendations[i]
		assert.Equal(t, a.State.Spender, b.State.Spender)
		assert.Equal(t, a.Assessment.Score, b.Assessment.Score)
		assert.Equal(t, a.PriorityScore, b.PriorityScore)
	}
	assert.Equal(t, first.Summary, second.Summary)
}

func TestLatestReportValidatesOwner(t *testing.T) {
	svc := newTestService(&fakeSource{}, NewMemoryStore())

	_, err := svc.LatestReport(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidOwner)

	_, err = svc.LatestReport(context.Background(), testOwner)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestListReports(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(&fakeSource{}, store)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(context.Background(), &Report{
			ID:          string(rune('a' + i)),
			Owner:       testOwner,
			ChainID:     8453,
			GeneratedAt: scanNow.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, next, hasMore, err := svc.ListReports(context.Background(), testOwner, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "e", page[0].ID, "newest first")
	assert.Equal(t, "d", page[1].ID)

	page, _, hasMore, err = svc.ListReports(context.Background(), testOwner, 2, next)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "c", page[0].ID)
}

package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/approvalguard/internal/approvals"
	"github.com/mbd888/approvalguard/internal/events"
	"github.com/mbd888/approvalguard/internal/idgen"
	"github.com/mbd888/approvalguard/internal/logging"
	"github.com/mbd888/approvalguard/internal/metrics"
	"github.com/mbd888/approvalguard/internal/pagination"
	"github.com/mbd888/approvalguard/internal/recommend"
	"github.com/mbd888/approvalguard/internal/risk"
	"github.com/mbd888/approvalguard/internal/traces"
	"github.com/mbd888/approvalguard/internal/validation"
)

// LogSource supplies raw approval logs and block metadata. Implemented by
// chain.Fetcher; narrowed here so service tests can use a fake.
type LogSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FetchApprovalLogs(ctx context.Context, owner string, fromBlock, toBlock uint64) ([]types.Log, error)
	ResolveTimestamps(ctx context.Context, evs []*events.ApprovalEvent)
}

// EnrichSource supplies best-effort enrichment for reduced pairs.
type EnrichSource interface {
	EnrichAll(ctx context.Context, states map[approvals.PairKey]*approvals.PairState) map[approvals.PairKey]risk.Enrichment
}

// Config for the scan service.
type Config struct {
	ChainID      int64
	DefaultRange uint64        // blocks scanned when fromBlock is omitted
	CacheTTL     time.Duration // reuse a stored report younger than this
}

// Service runs scans and persists their reports.
type Service struct {
	source   LogSource
	enricher EnrichSource
	engine   *risk.Engine
	store    Store
	config   Config
	logger   *slog.Logger

	// now is swappable in tests for deterministic reports.
	now func() time.Time
}

// NewService wires a scan service.
func NewService(source LogSource, enricher EnrichSource, engine *risk.Engine, store Store, cfg Config, logger *slog.Logger) *Service {
	if cfg.DefaultRange == 0 {
		cfg.DefaultRange = 2_000_000
	}
	return &Service{
		source:   source,
		enricher: enricher,
		engine:   engine,
		store:    store,
		config:   cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Scan runs one wallet scan end to end and returns the report.
//
// The fetch/enrich collaborators may have returned truncated data after
// exhausting retries on their side; the scan still produces a well-formed
// (possibly empty) report rather than failing.
func (s *Service) Scan(ctx context.Context, req Request) (*Report, error) {
	owner := validation.SanitizeAddress(req.Owner)
	if !validation.IsValidEthAddress(owner) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOwner, req.Owner)
	}
	if req.FromBlock != nil && req.ToBlock != nil && *req.FromBlock > *req.ToBlock {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidRange, *req.FromBlock, *req.ToBlock)
	}

	scanID := idgen.WithPrefix("scan_")
	ctx = logging.WithScanID(ctx, scanID)
	log := logging.L(ctx)

	// Cached-report shortcut: a default-shaped request within the TTL
	// reuses the stored report instead of re-walking the chain.
	if !req.Force && req.FromBlock == nil && req.ToBlock == nil && s.store != nil {
		if cached, err := s.store.LatestByOwner(ctx, owner, s.config.ChainID); err == nil {
			if s.now().Sub(cached.GeneratedAt) < s.config.CacheTTL {
				metrics.ScansTotal.WithLabelValues("cached").Inc()
				log.Debug("returning cached report", "report_id", cached.ID, "age", s.now().Sub(cached.GeneratedAt))
				return cached, nil
			}
		}
	}

	metrics.ActiveScans.Inc()
	defer metrics.ActiveScans.Dec()
	timer := prometheus.NewTimer(metrics.ScanDuration)
	defer timer.ObserveDuration()

	ctx, span := traces.StartSpan(ctx, "scan.run", traces.Owner(owner), traces.ChainID(s.config.ChainID))
	defer span.End()

	report, err := s.run(ctx, owner, req, scanID)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.ScansTotal.WithLabelValues("completed").Inc()

	if s.store != nil {
		if err := s.store.Save(ctx, report); err != nil {
			// Persistence is best-effort; the caller still gets the report.
			log.Warn("failed to persist scan report", "report_id", report.ID, "error", err)
		}
	}

	log.Info("scan completed",
		"owner", owner,
		"blocks", fmt.Sprintf("%d-%d", report.FromBlock, report.ToBlock),
		"events", report.EventCount,
		"approvals", len(report.Approvals),
		"revoke_count", report.Summary.RevokeCount,
		"overall_level", report.Summary.OverallLevel,
	)
	return report, nil
}

func (s *Service) run(ctx context.Context, owner string, req Request, scanID string) (*Report, error) {
	fromBlock, toBlock, err := s.resolveRange(ctx, req)
	if err != nil {
		return nil, err
	}

	fetchCtx, fetchSpan := traces.StartSpan(ctx, "scan.fetch_logs", traces.BlockRange(fromBlock, toBlock))
	logs, err := s.source.FetchApprovalLogs(fetchCtx, owner, fromBlock, toBlock)
	fetchSpan.End()
	if err != nil {
		return nil, fmt.Errorf("fetching approval logs: %w", err)
	}

	evs, skipped := events.NormalizeBatch(logs)
	metrics.ApprovalEventsTotal.WithLabelValues("normalized").Add(float64(len(evs)))
	metrics.ApprovalEventsTotal.WithLabelValues("skipped").Add(float64(skipped))
	if skipped > 0 {
		logging.L(ctx).Debug("skipped malformed log records", "count", skipped)
	}

	tsCtx, tsSpan := traces.StartSpan(ctx, "scan.resolve_timestamps", traces.EventCount(len(evs)))
	s.source.ResolveTimestamps(tsCtx, evs)
	tsSpan.End()

	states, err := approvals.Reduce(owner, evs, approvals.Options{
		IncludeZeroAllowances: req.IncludeZeroAllowances,
		UnlimitedThreshold:    s.engine.Policy().UnlimitedThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("reducing approval state: %w", err)
	}

	enrCtx, enrSpan := traces.StartSpan(ctx, "scan.enrich", traces.PairCount(len(states)))
	var enrichments map[approvals.PairKey]risk.Enrichment
	if s.enricher != nil {
		enrichments = s.enricher.EnrichAll(enrCtx, states)
	}
	enrSpan.End()

	// Pure, synchronous core: everything network-bound is resolved above.
	now := s.now()
	scored := make([]recommend.ScoredApproval, 0, len(states))
	for _, key := range approvals.SortedKeys(states) {
		state := states[key]
		scored = append(scored, recommend.ScoredApproval{
			State:      state,
			Assessment: s.engine.Score(state, enrichments[key], now),
		})
	}

	recs, summary := recommend.Prioritize(scored, s.engine.Policy())

	return &Report{
		ID:              scanID,
		Owner:           owner,
		ChainID:         s.config.ChainID,
		FromBlock:       fromBlock,
		ToBlock:         toBlock,
		GeneratedAt:     now,
		EventCount:      len(evs),
		SkippedRecords:  skipped,
		Approvals:       scored,
		Recommendations: recs,
		Summary:         summary,
	}, nil
}

// resolveRange fills in the scan's block bounds from the request and the
// chain head.
func (s *Service) resolveRange(ctx context.Context, req Request) (uint64, uint64, error) {
	var toBlock uint64
	if req.ToBlock != nil {
		toBlock = *req.ToBlock
	} else {
		head, err := s.source.LatestBlock(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("resolving chain head: %w", err)
		}
		toBlock = head
	}

	var fromBlock uint64
	if req.FromBlock != nil {
		fromBlock = *req.FromBlock
	} else if toBlock > s.config.DefaultRange {
		fromBlock = toBlock - s.config.DefaultRange
	}

	if fromBlock > toBlock {
		return 0, 0, fmt.Errorf("%w: %d-%d", ErrInvalidRange, fromBlock, toBlock)
	}
	return fromBlock, toBlock, nil
}

// GetReport returns a stored report by ID.
func (s *Service) GetReport(ctx context.Context, id string) (*Report, error) {
	return s.store.Get(ctx, id)
}

// LatestReport returns the newest stored report for an owner.
func (s *Service) LatestReport(ctx context.Context, owner string) (*Report, error) {
	owner = validation.SanitizeAddress(owner)
	if !validation.IsValidEthAddress(owner) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	return s.store.LatestByOwner(ctx, owner, s.config.ChainID)
}

// ListReports returns stored reports for an owner, newest first.
func (s *Service) ListReports(ctx context.Context, owner string, limit int, beforeCursor string) ([]*Report, string, bool, error) {
	owner = validation.SanitizeAddress(owner)
	if !validation.IsValidEthAddress(owner) {
		return nil, "", false, fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}

	cursor, err := pagination.Decode(beforeCursor)
	if err != nil {
		return nil, "", false, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	// Fetch one extra row to detect whether another page exists.
	reports, err := s.store.ListByOwner(ctx, owner, s.config.ChainID, limit+1, cursor)
	if err != nil {
		return nil, "", false, err
	}

	page, next, hasMore := pagination.ComputePage(reports, limit, func(r *Report) (time.Time, string) {
		return r.GeneratedAt, r.ID
	})
	return page, next, hasMore, nil
}

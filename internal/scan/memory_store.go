package scan

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/approvalguard/internal/events"
	"github.com/mbd888/approvalguard/internal/pagination"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Report
	byOwner map[ownerKey][]*Report // newest last
}

type ownerKey struct {
	owner   string
	chainID int64
}

// NewMemoryStore creates an in-memory scan report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Report),
		byOwner: make(map[ownerKey][]*Report),
	}
}

func (s *MemoryStore) Save(ctx context.Context, report *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey{owner: events.CanonicalAddress(report.Owner), chainID: report.ChainID}
	s.byID[report.ID] = report
	s.byOwner[key] = append(s.byOwner[key], report)
	// ID breaks GeneratedAt ties so pagination order is total.
	sort.SliceStable(s.byOwner[key], func(i, j int) bool {
		a, b := s.byOwner[key][i], s.byOwner[key][j]
		if !a.GeneratedAt.Equal(b.GeneratedAt) {
			return a.GeneratedAt.Before(b.GeneratedAt)
		}
		return a.ID < b.ID
	})
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.byID[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return report, nil
}

func (s *MemoryStore) LatestByOwner(ctx context.Context, owner string, chainID int64) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := s.byOwner[ownerKey{owner: events.CanonicalAddress(owner), chainID: chainID}]
	if len(reports) == 0 {
		return nil, ErrReportNotFound
	}
	return reports[len(reports)-1], nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner string, chainID int64, limit int, before *pagination.Cursor) ([]*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byOwner[ownerKey{owner: events.CanonicalAddress(owner), chainID: chainID}]

	// Newest first, honoring the cursor. The cursor compares
	// (generatedAt, id) so reports sharing a timestamp are neither
	// skipped nor repeated across pages.
	result := make([]*Report, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		r := all[i]
		if before != nil {
			if r.GeneratedAt.After(before.CreatedAt) {
				continue
			}
			if r.GeneratedAt.Equal(before.CreatedAt) && r.ID >= before.ID {
				continue
			}
		}
		result = append(result, r)
	}
	return result, nil
}

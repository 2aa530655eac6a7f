// Package scan orchestrates wallet approval scans.
//
// A scan fetches the owner's Approval history, runs the pure pipeline
// (normalize → reduce → score → prioritize), and persists the resulting
// report. The pipeline stages live in their own packages and stay free of
// I/O; everything with a network or database round-trip is here or below.
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/approvalguard/internal/pagination"
	"github.com/mbd888/approvalguard/internal/recommend"
)

var (
	// ErrInvalidOwner is returned for a missing or malformed owner address.
	ErrInvalidOwner = errors.New("scan: invalid owner address")

	// ErrInvalidRange is returned when fromBlock > toBlock.
	ErrInvalidRange = errors.New("scan: invalid block range")

	// ErrReportNotFound is returned by stores for unknown report IDs/owners.
	ErrReportNotFound = errors.New("scan: report not found")
)

// Report is one completed wallet scan. It is a plain data structure; all
// rendering (JSON endpoints, CLI output, MCP text) happens outside.
type Report struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	ChainID     int64     `json:"chainId"`
	FromBlock   uint64    `json:"fromBlock"`
	ToBlock     uint64    `json:"toBlock"`
	GeneratedAt time.Time `json:"generatedAt"`

	// EventCount and SkippedRecords describe the raw log batch: how many
	// records normalized cleanly and how many were dropped as malformed.
	EventCount     int `json:"eventCount"`
	SkippedRecords int `json:"skippedRecords"`

	Approvals       []recommend.ScoredApproval `json:"approvals"`
	Recommendations []recommend.Recommendation `json:"recommendations"`
	Summary         recommend.Summary          `json:"summary"`
}

// Request describes one scan invocation.
type Request struct {
	Owner string `json:"owner"`

	// FromBlock/ToBlock bound the scanned range. Nil ToBlock means the
	// chain head; nil FromBlock means head minus the configured default
	// range.
	FromBlock *uint64 `json:"fromBlock,omitempty"`
	ToBlock   *uint64 `json:"toBlock,omitempty"`

	// IncludeZeroAllowances retains fully revoked pairs for audit output.
	IncludeZeroAllowances bool `json:"includeZeroAllowances,omitempty"`

	// Force bypasses the cached-report shortcut.
	Force bool `json:"force,omitempty"`
}

// Store persists scan reports. Keyed by report ID and by
// (lowercased owner, chain id) for the cache lookup.
type Store interface {
	Save(ctx context.Context, report *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	LatestByOwner(ctx context.Context, owner string, chainID int64) (*Report, error)
	ListByOwner(ctx context.Context, owner string, chainID int64, limit int, before *pagination.Cursor) ([]*Report, error)
}

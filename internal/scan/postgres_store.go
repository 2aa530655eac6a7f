package scan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mbd888/approvalguard/internal/events"
	"github.com/mbd888/approvalguard/internal/pagination"
)

// PostgresStore persists scan reports in PostgreSQL. The full report is
// stored as JSONB; the indexed columns exist only for lookup and listing.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed scan report store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the scan_reports table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scan_reports (
			id            VARCHAR(36) PRIMARY KEY,
			owner_addr    VARCHAR(42) NOT NULL,
			chain_id      BIGINT NOT NULL,
			from_block    BIGINT NOT NULL,
			to_block      BIGINT NOT NULL,
			overall_score INT NOT NULL CHECK (overall_score >= 0 AND overall_score <= 100),
			overall_level VARCHAR(10) NOT NULL CHECK (overall_level IN ('low', 'medium', 'high', 'critical')),
			revoke_count  INT NOT NULL DEFAULT 0,
			report        JSONB NOT NULL,
			generated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_scan_reports_owner
			ON scan_reports (owner_addr, chain_id, generated_at DESC);
	`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, report *Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_reports
			(id, owner_addr, chain_id, from_block, to_block, overall_score, overall_level, revoke_count, report, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		report.ID,
		events.CanonicalAddress(report.Owner),
		report.ChainID,
		int64(report.FromBlock),
		int64(report.ToBlock),
		report.Summary.OverallScore,
		string(report.Summary.OverallLevel),
		report.Summary.RevokeCount,
		reportJSON,
		report.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save scan report: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report FROM scan_reports WHERE id = $1
	`, id)
	return scanReportRow(row)
}

func (s *PostgresStore) LatestByOwner(ctx context.Context, owner string, chainID int64) (*Report, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report FROM scan_reports
		WHERE owner_addr = $1 AND chain_id = $2
		ORDER BY generated_at DESC, id DESC
		LIMIT 1
	`, events.CanonicalAddress(owner), chainID)
	return scanReportRow(row)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner string, chainID int64, limit int, before *pagination.Cursor) ([]*Report, error) {
	query := `
		SELECT report FROM scan_reports
		WHERE owner_addr = $1 AND chain_id = $2
	`
	args := []any{events.CanonicalAddress(owner), chainID}
	if before != nil {
		// Row comparison keeps pages stable when reports share a timestamp.
		query += ` AND (generated_at, id) < ($3, $4)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY generated_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Report
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		var report Report
		if err := json.Unmarshal(raw, &report); err != nil {
			continue
		}
		result = append(result, &report)
	}
	return result, rows.Err()
}

func scanReportRow(row *sql.Row) (*Report, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to load scan report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("failed to decode scan report: %w", err)
	}
	return &report, nil
}

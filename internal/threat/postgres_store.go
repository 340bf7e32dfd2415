package threat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists scan reports and custom patterns in PostgreSQL.
// Schema lives in the goose migrations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RecordScan(ctx context.Context, report *ScanReport) error {
	findingsJSON, err := json.Marshal(report.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	profileJSON, err := json.Marshal(report.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (id, address, network, score, findings, profile,
			evaluated_patterns, skipped_patterns, duration_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		report.ID,
		report.Address,
		report.Network,
		report.Profile.Score,
		findingsJSON,
		profileJSON,
		report.EvaluatedPatterns,
		report.SkippedPatterns,
		report.Duration.Nanoseconds(),
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record scan: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScan(ctx context.Context, id string) (*ScanReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, network, findings, profile,
			evaluated_patterns, skipped_patterns, duration_ns, created_at
		FROM scans
		WHERE id = $1
	`, id)

	report, err := scanRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return report, nil
}

func (s *PostgresStore) ListScans(ctx context.Context, q ScanQuery) ([]*ScanReport, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, address, network, findings, profile,
			evaluated_patterns, skipped_patterns, duration_ns, created_at
		FROM scans
		WHERE 1=1`
	args := []any{}
	n := 0

	if q.Address != "" {
		n++
		query += fmt.Sprintf(" AND address = $%d", n)
		args = append(args, q.Address)
	}
	if q.Network != "" {
		n++
		query += fmt.Sprintf(" AND network = $%d", n)
		args = append(args, q.Network)
	}
	if !q.Before.IsZero() {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", n+1, n+2)
		args = append(args, q.Before, q.BeforeID)
		n += 2
	}
	n++
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", n)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*ScanReport
	for rows.Next() {
		report, err := scanRow(rows.Scan)
		if err != nil {
			continue
		}
		result = append(result, report)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SavePattern(ctx context.Context, p ThreatPattern) error {
	patternJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pattern: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO custom_patterns (id, pattern, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET pattern = EXCLUDED.pattern, updated_at = NOW()
	`, p.ID, patternJSON)
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadPatterns(ctx context.Context) ([]ThreatPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern FROM custom_patterns ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []ThreatPattern
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		var p ThreatPattern
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// scanRow maps one scans row onto a ScanReport.
func scanRow(scan func(dest ...any) error) (*ScanReport, error) {
	var (
		r            ScanReport
		findingsJSON []byte
		profileJSON  []byte
		durationNs   int64
		createdAt    time.Time
	)
	if err := scan(&r.ID, &r.Address, &r.Network, &findingsJSON, &profileJSON,
		&r.EvaluatedPatterns, &r.SkippedPatterns, &durationNs, &createdAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(findingsJSON, &r.Findings)
	_ = json.Unmarshal(profileJSON, &r.Profile)
	r.Duration = time.Duration(durationNs)
	r.CreatedAt = createdAt
	return &r, nil
}

var _ Store = (*PostgresStore)(nil)

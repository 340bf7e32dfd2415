package threat

import (
	"context"
	"time"
)

// Store persists scan reports for audit and custom patterns across
// restarts. The engine writes to it best-effort; the HTTP layer reads
// from it for the scan history endpoints.
type Store interface {
	RecordScan(ctx context.Context, report *ScanReport) error
	GetScan(ctx context.Context, id string) (*ScanReport, error)
	ListScans(ctx context.Context, q ScanQuery) ([]*ScanReport, error)
	SavePattern(ctx context.Context, p ThreatPattern) error
	LoadPatterns(ctx context.Context) ([]ThreatPattern, error)
}

// ScanQuery filters and pages the scan audit trail. Results are ordered
// newest first; Before/BeforeID position the page exclusively (the
// caller fetches Limit+1 rows to detect a next page).
type ScanQuery struct {
	Address  string
	Network  string
	Before   time.Time
	BeforeID string
	Limit    int
}

package threat

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	scans    []*ScanReport
	patterns map[string]ThreatPattern
}

// NewMemoryStore creates an in-memory scan and pattern store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patterns: make(map[string]ThreatPattern),
	}
}

func (s *MemoryStore) RecordScan(ctx context.Context, report *ScanReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = append(s.scans, copyReport(report))
	return nil
}

func (s *MemoryStore) GetScan(ctx context.Context, id string) (*ScanReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.scans {
		if r.ID == id {
			return copyReport(r), nil
		}
	}
	return nil, ErrScanNotFound
}

func (s *MemoryStore) ListScans(ctx context.Context, q ScanQuery) ([]*ScanReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	// Newest first; scans arrive in time order.
	var result []*ScanReport
	for i := len(s.scans) - 1; i >= 0 && len(result) < limit; i-- {
		r := s.scans[i]
		if q.Address != "" && r.Address != q.Address {
			continue
		}
		if q.Network != "" && r.Network != q.Network {
			continue
		}
		if !q.Before.IsZero() {
			if r.CreatedAt.After(q.Before) {
				continue
			}
			if r.CreatedAt.Equal(q.Before) && r.ID >= q.BeforeID {
				continue
			}
		}
		result = append(result, copyReport(r))
	}
	return result, nil
}

func (s *MemoryStore) SavePattern(ctx context.Context, p ThreatPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[p.ID] = p
	return nil
}

func (s *MemoryStore) LoadPatterns(ctx context.Context) ([]ThreatPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ThreatPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	return out, nil
}

func copyReport(r *ScanReport) *ScanReport {
	c := *r
	c.Findings = append([]ThreatFinding(nil), r.Findings...)
	return &c
}

var _ Store = (*MemoryStore)(nil)

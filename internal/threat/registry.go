package threat

import "sync"

// Registry holds the threat-pattern catalog. Reads are lock-shared and
// return copies; scans take an ordered snapshot so an in-flight scan is
// never exposed to a concurrent mutation.
type Registry struct {
	mu       sync.RWMutex
	patterns map[string]ThreatPattern
	order    []string
}

// NewRegistry returns a registry seeded with the given patterns.
// Seeding panics on an invalid or duplicate seed pattern: the built-in
// catalog is code, and a bad entry is a programming error.
func NewRegistry(seed ...ThreatPattern) *Registry {
	r := &Registry{patterns: make(map[string]ThreatPattern, len(seed))}
	for _, p := range seed {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a new pattern. Returns ErrDuplicatePattern if the ID is
// already present.
func (r *Registry) Register(p ThreatPattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.patterns[p.ID]; exists {
		return ErrDuplicatePattern
	}
	r.patterns[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Update merges the non-nil fields of upd into the stored pattern.
// Returns ErrPatternNotFound if the ID is absent; on a validation
// failure the stored pattern is left untouched.
func (r *Registry) Update(id string, upd PatternUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.patterns[id]
	if !exists {
		return ErrPatternNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Severity != nil {
		p.Severity = *upd.Severity
	}
	if upd.Confidence != nil {
		p.Confidence = *upd.Confidence
	}
	if upd.Category != nil {
		p.Category = *upd.Category
	}
	if upd.Condition != nil {
		p.Condition = *upd.Condition
	}
	if upd.Indicators != nil {
		p.Indicators = append([]string(nil), (*upd.Indicators)...)
	}
	if upd.Mitigation != nil {
		p.Mitigation = *upd.Mitigation
	}
	if upd.Reference != nil {
		p.Reference = *upd.Reference
	}
	if err := p.Validate(); err != nil {
		return err
	}
	r.patterns[id] = p
	return nil
}

// Get returns a copy of the pattern, or ErrPatternNotFound.
func (r *Registry) Get(id string) (ThreatPattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, exists := r.patterns[id]
	if !exists {
		return ThreatPattern{}, ErrPatternNotFound
	}
	return p, nil
}

// List returns all patterns in registration order.
func (r *Registry) List() []ThreatPattern {
	return r.snapshot()
}

// ListByCategory returns all patterns in the given category, in
// registration order.
func (r *Registry) ListByCategory(c Category) []ThreatPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ThreatPattern
	for _, id := range r.order {
		if p := r.patterns[id]; p.Category == c {
			out = append(out, p)
		}
	}
	return out
}

// ListBySeverity returns all patterns at the given severity, in
// registration order.
func (r *Registry) ListBySeverity(s Severity) []ThreatPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ThreatPattern
	for _, id := range r.order {
		if p := r.patterns[id]; p.Severity == s {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Stats returns per-category and per-severity counts.
func (r *Registry) Stats() (byCategory map[Category]int, bySeverity map[Severity]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byCategory = make(map[Category]int)
	bySeverity = make(map[Severity]int)
	for _, p := range r.patterns {
		byCategory[p.Category]++
		bySeverity[p.Severity]++
	}
	return byCategory, bySeverity
}

// snapshot returns an ordered copy of the catalog for one scan.
func (r *Registry) snapshot() []ThreatPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ThreatPattern, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.patterns[id])
	}
	return out
}

package threat

import (
	"errors"
	"testing"
)

func validPattern(id string) ThreatPattern {
	return ThreatPattern{
		ID:         id,
		Name:       "Pattern " + id,
		Severity:   SeverityMedium,
		Confidence: 50,
		Category:   CategoryPhishing,
		Condition:  Contains("marker"),
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(validPattern("p1")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	p, err := r.Get("p1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if p.Name != "Pattern p1" {
		t.Errorf("unexpected pattern: %+v", p)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("expected ErrPatternNotFound, got %v", err)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry(validPattern("p1"))

	if err := r.Register(validPattern("p1")); !errors.Is(err, ErrDuplicatePattern) {
		t.Errorf("expected ErrDuplicatePattern, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("duplicate registration changed size: %d", r.Len())
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewRegistry()

	cases := []ThreatPattern{
		{},
		{ID: "no_name", Severity: SeverityLow, Confidence: 10, Category: CategoryPhishing, Condition: Contains("x")},
		{ID: "bad_sev", Name: "n", Severity: "extreme", Confidence: 10, Category: CategoryPhishing, Condition: Contains("x")},
		{ID: "bad_conf", Name: "n", Severity: SeverityLow, Confidence: 101, Category: CategoryPhishing, Condition: Contains("x")},
		{ID: "bad_cat", Name: "n", Severity: SeverityLow, Confidence: 10, Category: "malware", Condition: Contains("x")},
		{ID: "no_cond", Name: "n", Severity: SeverityLow, Confidence: 10, Category: CategoryPhishing},
	}
	for _, p := range cases {
		if err := r.Register(p); err == nil {
			t.Errorf("pattern %q should have been rejected", p.ID)
		}
	}
	if r.Len() != 0 {
		t.Errorf("invalid registrations changed size: %d", r.Len())
	}
}

func TestRegistrySeedPanicsOnBadPattern(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for invalid seed pattern")
		}
	}()
	NewRegistry(ThreatPattern{ID: "broken"})
}

func TestRegistryUpdateMergesFields(t *testing.T) {
	r := NewRegistry(validPattern("p1"))

	name := "Renamed"
	conf := 75
	sev := SeverityCritical
	if err := r.Update("p1", PatternUpdate{Name: &name, Confidence: &conf, Severity: &sev}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	p, _ := r.Get("p1")
	if p.Name != "Renamed" || p.Confidence != 75 || p.Severity != SeverityCritical {
		t.Errorf("merge incomplete: %+v", p)
	}
	// Untouched fields survive
	if p.Category != CategoryPhishing || p.Condition.Kind() != "contains" {
		t.Errorf("update clobbered untouched fields: %+v", p)
	}
}

func TestRegistryUpdateRollsBackOnValidationFailure(t *testing.T) {
	r := NewRegistry(validPattern("p1"))

	bad := 500
	if err := r.Update("p1", PatternUpdate{Confidence: &bad}); err == nil {
		t.Fatal("expected validation error")
	}
	p, _ := r.Get("p1")
	if p.Confidence != 50 {
		t.Errorf("failed update mutated the pattern: confidence = %d", p.Confidence)
	}
}

func TestRegistryUpdateUnknownID(t *testing.T) {
	r := NewRegistry()
	if err := r.Update("missing", PatternUpdate{}); !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("expected ErrPatternNotFound, got %v", err)
	}
}

func TestRegistryListPreservesOrder(t *testing.T) {
	r := NewRegistry(validPattern("first"), validPattern("second"), validPattern("third"))

	list := r.List()
	want := []string{"first", "second", "third"}
	if len(list) != len(want) {
		t.Fatalf("expected %d patterns, got %d", len(want), len(list))
	}
	for i, p := range list {
		if p.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, p.ID, want[i])
		}
	}
}

func TestRegistryFilters(t *testing.T) {
	honeypot := validPattern("hp")
	honeypot.Category = CategoryHoneypot
	honeypot.Severity = SeverityCritical
	r := NewRegistry(validPattern("p1"), honeypot, validPattern("p2"))

	byCat := r.ListByCategory(CategoryHoneypot)
	if len(byCat) != 1 || byCat[0].ID != "hp" {
		t.Errorf("category filter: %+v", byCat)
	}

	bySev := r.ListBySeverity(SeverityMedium)
	if len(bySev) != 2 {
		t.Errorf("severity filter returned %d, want 2", len(bySev))
	}
}

func TestRegistryStats(t *testing.T) {
	honeypot := validPattern("hp")
	honeypot.Category = CategoryHoneypot
	r := NewRegistry(validPattern("p1"), honeypot)

	byCategory, bySeverity := r.Stats()
	if byCategory[CategoryPhishing] != 1 || byCategory[CategoryHoneypot] != 1 {
		t.Errorf("category stats: %v", byCategory)
	}
	if bySeverity[SeverityMedium] != 2 {
		t.Errorf("severity stats: %v", bySeverity)
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	r := NewRegistry(validPattern("p1"))

	snap := r.snapshot()
	snap[0].Name = "mutated"

	p, _ := r.Get("p1")
	if p.Name == "mutated" {
		t.Error("snapshot mutation leaked into the registry")
	}
}

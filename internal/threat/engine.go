package threat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vermlabs/sentinel/internal/idgen"
	"github.com/vermlabs/sentinel/internal/logging"
	"github.com/vermlabs/sentinel/internal/metrics"
)

// DefaultDetectorTimeout bounds each detector adapter per scan.
const DefaultDetectorTimeout = 3 * time.Second

// Engine owns one pattern registry and a set of detector adapters.
// Construct with NewEngine and configure with the With* methods; every
// Engine is independent, so tests can build isolated instances.
type Engine struct {
	registry        *Registry
	detectors       []Detector
	sink            EventSink
	store           Store
	detectorTimeout time.Duration
	builtins        map[string]struct{}
}

// NewEngine creates an engine seeded with the built-in pattern catalog.
func NewEngine() *Engine {
	defaults := DefaultPatterns()
	builtins := make(map[string]struct{}, len(defaults))
	for _, p := range defaults {
		builtins[p.ID] = struct{}{}
	}
	return &Engine{
		registry:        NewRegistry(defaults...),
		detectorTimeout: DefaultDetectorTimeout,
		builtins:        builtins,
	}
}

// WithDetector loads a detector adapter. Order is preserved and used as
// the tie-break for equal risk scores.
func (e *Engine) WithDetector(d Detector) *Engine {
	e.detectors = append(e.detectors, d)
	return e
}

// WithSink sets the notification sink for threat_detected events.
func (e *Engine) WithSink(s EventSink) *Engine {
	e.sink = s
	return e
}

// WithStore sets the best-effort audit store for scan reports and the
// persistence backend for custom patterns.
func (e *Engine) WithStore(s Store) *Engine {
	e.store = s
	return e
}

// WithDetectorTimeout overrides the per-detector deadline.
func (e *Engine) WithDetectorTimeout(d time.Duration) *Engine {
	e.detectorTimeout = d
	return e
}

// AnalyzeContract evaluates every registered pattern and every loaded
// detector against the bundle and returns the scan report. Rule
// evaluation runs over an immutable registry snapshot; detectors run
// concurrently, each under its own timeout. A failing pattern or
// detector is skipped, never fatal; the only scan-wide error is an
// invalid bundle.
func (e *Engine) AnalyzeContract(ctx context.Context, b *ContractAnalysisBundle) (*ScanReport, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := logging.L(ctx)

	// Detectors run while rules evaluate on the calling goroutine.
	// Results are collected by index so load order is preserved.
	signals := make([]*Signal, len(e.detectors))
	var wg sync.WaitGroup
	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			sig, err := e.runDetector(ctx, d, b)
			if err != nil {
				log.Warn("detector contributed nothing",
					"detector", d.Name(), "error", err)
				return
			}
			signals[i] = sig
		}(i, d)
	}

	var (
		findings  []ThreatFinding
		evaluated int
		skipped   int
	)
	for _, p := range e.registry.snapshot() {
		matched, err := p.Condition.evaluate(b)
		if err != nil {
			skipped++
			metrics.PatternEvalErrors.Inc()
			evalErr := &PatternEvaluationError{PatternID: p.ID, Err: err}
			log.Warn("pattern skipped", "pattern_id", p.ID, "error", evalErr)
			continue
		}
		evaluated++
		if !matched {
			continue
		}
		f := e.ruleFinding(p, b)
		findings = append(findings, f)
		e.publish(f, b)
	}

	wg.Wait()
	for i, d := range e.detectors {
		sig := signals[i]
		if sig == nil || sig.Confidence < d.Threshold() {
			continue
		}
		metrics.DetectorContributions.WithLabelValues(d.Name()).Inc()
		f := e.detectorFinding(d, sig, b)
		findings = append(findings, f)
		e.publish(f, b)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].RiskScore > findings[j].RiskScore
	})

	profile := aggregate(findings)
	if profile.Score > criticalScoreThreshold {
		meta := e.metaFinding(profile, b)
		findings = append(findings, meta)
		e.publish(meta, b)
		sort.SliceStable(findings, func(i, j int) bool {
			return findings[i].RiskScore > findings[j].RiskScore
		})
	}

	report := &ScanReport{
		ID:                idgen.WithPrefix("scan_"),
		Address:           b.Address,
		Network:           b.Network,
		Findings:          findings,
		Profile:           profile,
		EvaluatedPatterns: evaluated,
		SkippedPatterns:   skipped,
		Duration:          time.Since(start),
		CreatedAt:         time.Now(),
	}

	metrics.ScansTotal.Inc()
	metrics.ScanDuration.Observe(report.Duration.Seconds())
	for _, f := range findings {
		metrics.FindingsTotal.WithLabelValues(string(f.Severity)).Inc()
	}

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		go func() {
			_ = e.store.RecordScan(context.Background(), report)
		}()
	}

	return report, nil
}

// runDetector invokes one adapter under its own deadline. The inner
// goroutine means a hung adapter cannot hold the scan past the timeout.
func (e *Engine) runDetector(ctx context.Context, d Detector, b *ContractAnalysisBundle) (*Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.detectorTimeout)
	defer cancel()

	type result struct {
		sig *Signal
		err error
	}
	ch := make(chan result, 1)
	go func() {
		sig, err := d.Analyze(ctx, b)
		ch <- result{sig, err}
	}()

	select {
	case r := <-ch:
		return r.sig, r.err
	case <-ctx.Done():
		metrics.DetectorTimeouts.WithLabelValues(d.Name()).Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrDetectorUnavailable, d.Name(), ctx.Err())
	}
}

func (e *Engine) ruleFinding(p ThreatPattern, b *ContractAnalysisBundle) ThreatFinding {
	return ThreatFinding{
		ID:          idgen.WithPrefix("fnd_"),
		PatternID:   p.ID,
		Severity:    p.Severity,
		Confidence:  p.Confidence,
		Title:       p.Name,
		Description: p.Description,
		Evidence:    []string{fmt.Sprintf("%s condition matched for %s", p.Condition.Kind(), b.Address)},
		Indicators:  append([]string(nil), p.Indicators...),
		Mitigation:  p.Mitigation,
		Category:    p.Category,
		RiskScore:   float64(p.Confidence) * p.Severity.Weight(),
		DetectedAt:  time.Now(),
	}
}

func (e *Engine) detectorFinding(d Detector, sig *Signal, b *ContractAnalysisBundle) ThreatFinding {
	return ThreatFinding{
		ID:          idgen.WithPrefix("fnd_"),
		PatternID:   detectorPatternPrefix + d.Name(),
		Severity:    severityForConfidence(sig.Confidence),
		Confidence:  sig.Confidence,
		Title:       fmt.Sprintf("Detector Signal: %s", d.Name()),
		Description: fmt.Sprintf("Probabilistic detector %s reported confidence %d (threshold %d).", d.Name(), sig.Confidence, d.Threshold()),
		Evidence:    append([]string(nil), sig.Evidence...),
		Category:    d.Category(),
		RiskScore:   float64(sig.Confidence) * detectorRiskScale,
		Metadata:    map[string]string{"detector": d.Name()},
		DetectedAt:  time.Now(),
	}
}

func (e *Engine) metaFinding(p CompositeRiskProfile, b *ContractAnalysisBundle) ThreatFinding {
	return ThreatFinding{
		ID:         idgen.WithPrefix("fnd_"),
		PatternID:  MetaEscalationPatternID,
		Severity:   SeverityCritical,
		Confidence: 95,
		Title:      "Critical Threat Escalation",
		Description: "Multiple severe findings co-occur for this contract. " +
			"The combined profile matches known total-loss scams.",
		Evidence: []string{fmt.Sprintf(
			"composite score %.1f from %d findings (%d critical, %d high, %d medium, %d low)",
			p.Score, p.TotalFindings, p.CriticalCount, p.HighCount, p.MediumCount, p.LowCount)},
		Mitigation: "Avoid. High probability of total loss.",
		Category:   CategoryRugPull,
		RiskScore:  100,
		DetectedAt: time.Now(),
	}
}

func (e *Engine) publish(f ThreatFinding, b *ContractAnalysisBundle) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ThreatEvent{
		FindingID: f.ID,
		Severity:  f.Severity,
		Category:  f.Category,
		Address:   b.Address,
	})
}

// severityForConfidence maps a detector confidence onto a severity band.
func severityForConfidence(confidence int) Severity {
	switch {
	case confidence >= 90:
		return SeverityCritical
	case confidence >= 75:
		return SeverityHigh
	case confidence >= 50:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// aggregate computes the composite risk profile from one scan's findings.
func aggregate(findings []ThreatFinding) CompositeRiskProfile {
	p := CompositeRiskProfile{TotalFindings: len(findings)}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			p.CriticalCount++
		case SeverityHigh:
			p.HighCount++
		case SeverityMedium:
			p.MediumCount++
		case SeverityLow:
			p.LowCount++
		}
	}
	if p.TotalFindings == 0 {
		return p
	}

	raw := float64(p.CriticalCount*25+p.HighCount*15+p.MediumCount*8+p.LowCount*3) /
		float64(p.TotalFindings*25) * 100

	// Clamp to [0, 100]
	if raw > 100 {
		raw = 100
	}
	if raw < 0 {
		raw = 0
	}
	p.Score = raw
	return p
}

// ----------------------------------------------------------------------------
// Registry surface
// ----------------------------------------------------------------------------

// GetPatternByID returns the pattern, or ErrPatternNotFound.
func (e *Engine) GetPatternByID(id string) (ThreatPattern, error) {
	return e.registry.Get(id)
}

// ListAllPatterns returns every registered pattern in registration order.
func (e *Engine) ListAllPatterns() []ThreatPattern {
	return e.registry.List()
}

// ListPatternsByCategory filters the catalog by category.
func (e *Engine) ListPatternsByCategory(c Category) []ThreatPattern {
	return e.registry.ListByCategory(c)
}

// ListPatternsBySeverity filters the catalog by severity.
func (e *Engine) ListPatternsBySeverity(s Severity) []ThreatPattern {
	return e.registry.ListBySeverity(s)
}

// AddCustomPattern registers a caller-supplied pattern and, when a
// store is configured, persists it so it survives restarts.
func (e *Engine) AddCustomPattern(p ThreatPattern) error {
	if err := e.registry.Register(p); err != nil {
		return err
	}
	if e.store != nil {
		go func() {
			_ = e.store.SavePattern(context.Background(), p)
		}()
	}
	return nil
}

// UpdatePattern applies a partial update. Returns false when the ID is
// unknown or the merged pattern fails validation. Updated custom
// patterns are re-persisted; built-ins live in code, not in the store.
func (e *Engine) UpdatePattern(id string, upd PatternUpdate) bool {
	if err := e.registry.Update(id, upd); err != nil {
		return false
	}
	if _, builtin := e.builtins[id]; !builtin && e.store != nil {
		if p, err := e.registry.Get(id); err == nil {
			go func() {
				_ = e.store.SavePattern(context.Background(), p)
			}()
		}
	}
	return true
}

// GetDetectionStats summarizes the loaded detection surface.
func (e *Engine) GetDetectionStats() DetectionStats {
	byCategory, bySeverity := e.registry.Stats()
	return DetectionStats{
		TotalPatterns:      e.registry.Len(),
		PatternsByCategory: byCategory,
		PatternsBySeverity: bySeverity,
		LoadedDetectors:    len(e.detectors),
	}
}

// Package threat implements rule-based threat-pattern detection and
// composite risk scoring for on-chain contracts.
//
// A scan evaluates every registered ThreatPattern plus any loaded detector
// adapters against one immutable ContractAnalysisBundle and returns the
// resulting findings sorted by risk score, together with a normalized
// 0-100 composite risk profile. The engine holds no per-contract state:
// the only long-lived state is the pattern registry.
package threat

import (
	"errors"
	"fmt"
	"time"
)

// Severity classifies how damaging a matched pattern is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Weight returns the severity multiplier used for finding risk scores.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.00
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.50
	default:
		return 0.25
	}
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// rank orders severities for sorting and aggregation.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Category groups patterns by the kind of threat they describe.
type Category string

const (
	CategoryHoneypot              Category = "honeypot"
	CategoryRugPull               Category = "rug_pull"
	CategoryPhishing              Category = "phishing"
	CategoryMintAbuse             Category = "mint_abuse"
	CategoryLiquidityManipulation Category = "liquidity_manipulation"
	CategorySocialEngineering     Category = "social_engineering"
	CategoryCodeVulnerability     Category = "code_vulnerability"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryHoneypot, CategoryRugPull, CategoryPhishing, CategoryMintAbuse,
		CategoryLiquidityManipulation, CategorySocialEngineering, CategoryCodeVulnerability:
		return true
	}
	return false
}

// Scoring constants.
const (
	// detectorRiskScale discounts detector findings relative to a confirmed
	// rule match of the same confidence.
	detectorRiskScale = 0.65

	// criticalScoreThreshold is the composite score above which the engine
	// appends the critical meta-escalation finding.
	criticalScoreThreshold = 90.0

	// detectorPatternPrefix namespaces synthetic detector pattern IDs so
	// they can never collide with registry pattern IDs.
	detectorPatternPrefix = "detector:"

	// MetaEscalationPatternID is the synthetic pattern ID carried by the
	// meta-escalation finding.
	MetaEscalationPatternID = "meta:critical_escalation"
)

// Sentinel errors for registry mutations and scan rejection.
var (
	ErrDuplicatePattern    = errors.New("threat: pattern id already registered")
	ErrPatternNotFound     = errors.New("threat: pattern not found")
	ErrScanNotFound        = errors.New("threat: scan not found")
	ErrInvalidBundle       = errors.New("threat: invalid analysis bundle")
	ErrDetectorUnavailable = errors.New("threat: detector unavailable")
)

// PatternEvaluationError wraps a failure inside a single pattern's match
// condition. The scan logs it and moves on; it never aborts the scan.
type PatternEvaluationError struct {
	PatternID string
	Err       error
}

func (e *PatternEvaluationError) Error() string {
	return fmt.Sprintf("threat: pattern %s evaluation failed: %v", e.PatternID, e.Err)
}

func (e *PatternEvaluationError) Unwrap() error { return e.Err }

// ThreatPattern is a named heuristic rule held by the registry.
type ThreatPattern struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Confidence  int       `json:"confidence"` // 0-100
	Category    Category  `json:"category"`
	Condition   Condition `json:"condition"`
	Indicators  []string  `json:"indicators,omitempty"`
	Mitigation  string    `json:"mitigation,omitempty"`
	Reference   string    `json:"reference,omitempty"`
}

// Validate checks the pattern's invariants before registration.
func (p *ThreatPattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("threat: pattern id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("threat: pattern %s: name is required", p.ID)
	}
	if !p.Severity.Valid() {
		return fmt.Errorf("threat: pattern %s: invalid severity %q", p.ID, p.Severity)
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Errorf("threat: pattern %s: confidence %d outside [0,100]", p.ID, p.Confidence)
	}
	if !p.Category.Valid() {
		return fmt.Errorf("threat: pattern %s: invalid category %q", p.ID, p.Category)
	}
	if p.Condition.kind == 0 {
		return fmt.Errorf("threat: pattern %s: condition is required", p.ID)
	}
	return nil
}

// PatternUpdate carries a partial pattern mutation. Nil fields are left
// unchanged by Registry.Update.
type PatternUpdate struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Severity    *Severity  `json:"severity,omitempty"`
	Confidence  *int       `json:"confidence,omitempty"`
	Category    *Category  `json:"category,omitempty"`
	Condition   *Condition `json:"condition,omitempty"`
	Indicators  *[]string  `json:"indicators,omitempty"`
	Mitigation  *string    `json:"mitigation,omitempty"`
	Reference   *string    `json:"reference,omitempty"`
}

// ThreatFinding is one reported issue for one scan. Findings are immutable
// once produced and are owned by the caller; the engine does not keep them.
type ThreatFinding struct {
	ID          string            `json:"id"`
	PatternID   string            `json:"patternId"`
	Severity    Severity          `json:"severity"`
	Confidence  int               `json:"confidence"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Evidence    []string          `json:"evidence,omitempty"`
	Indicators  []string          `json:"indicators,omitempty"`
	Mitigation  string            `json:"mitigation,omitempty"`
	Category    Category          `json:"category"`
	RiskScore   float64           `json:"riskScore"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DetectedAt  time.Time         `json:"detectedAt"`
}

// CompositeRiskProfile aggregates one scan's findings into per-severity
// counts and a normalized 0-100 score. Computed fresh per scan.
type CompositeRiskProfile struct {
	CriticalCount int     `json:"criticalCount"`
	HighCount     int     `json:"highCount"`
	MediumCount   int     `json:"mediumCount"`
	LowCount      int     `json:"lowCount"`
	TotalFindings int     `json:"totalFindings"`
	Score         float64 `json:"score"`
}

// ScanReport is the result of one AnalyzeContract call: the ordered
// findings plus the composite profile and scan bookkeeping.
type ScanReport struct {
	ID                string               `json:"id"`
	Address           string               `json:"address"`
	Network           string               `json:"network"`
	Findings          []ThreatFinding      `json:"findings"`
	Profile           CompositeRiskProfile `json:"profile"`
	EvaluatedPatterns int                  `json:"evaluatedPatterns"`
	SkippedPatterns   int                  `json:"skippedPatterns"`
	Duration          time.Duration        `json:"durationNs"`
	CreatedAt         time.Time            `json:"createdAt"`
}

// ThreatEvent is the notification payload published once per finding.
type ThreatEvent struct {
	FindingID string   `json:"findingId"`
	Severity  Severity `json:"severity"`
	Category  Category `json:"category"`
	Address   string   `json:"address"`
}

// EventSink receives one ThreatEvent per synthesized finding. Publish must
// never block the scan path; slow consumers are the sink's problem.
type EventSink interface {
	Publish(ThreatEvent)
}

// DetectionStats summarizes the engine's loaded detection surface.
type DetectionStats struct {
	TotalPatterns      int              `json:"totalPatterns"`
	PatternsByCategory map[Category]int `json:"patternsByCategory"`
	PatternsBySeverity map[Severity]int `json:"patternsBySeverity"`
	LoadedDetectors    int              `json:"loadedDetectors"`
}

package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SentinelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SentinelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeContract submits a bundle and formats the scan report.
func (h *Handlers) HandleAnalyzeContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	network := req.GetString("network", "")
	if network == "" {
		return mcp.NewToolResultError("network is required"), nil
	}

	bundle := map[string]any{
		"address": address,
		"network": network,
	}
	if src := req.GetString("source_code", ""); src != "" {
		bundle["sourceCode"] = src
	}
	if code := req.GetString("bytecode", ""); code != "" {
		bundle["bytecode"] = code
	}

	raw, err := h.client.AnalyzeContract(ctx, bundle)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scan failed: %v", err)), nil
	}

	text, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse scan report: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetScan fetches a stored scan report.
func (h *Handlers) HandleGetScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scanID := req.GetString("scan_id", "")
	if scanID == "" {
		return mcp.NewToolResultError("scan_id is required"), nil
	}

	raw, err := h.client.GetScan(ctx, scanID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get scan: %v", err)), nil
	}

	text, err := formatReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse scan report: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListScans pages the audit trail.
func (h *Handlers) HandleListScans(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	network := req.GetString("network", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListScans(ctx, address, network, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list scans: %v", err)), nil
	}

	text, err := formatScanList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse scans: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListPatterns lists the pattern catalog.
func (h *Handlers) HandleListPatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	severity := req.GetString("severity", "")

	raw, err := h.client.ListPatterns(ctx, category, severity)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list patterns: %v", err)), nil
	}

	text, err := formatPatternList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse patterns: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetPattern fetches one pattern.
func (h *Handlers) HandleGetPattern(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patternID := req.GetString("pattern_id", "")
	if patternID == "" {
		return mcp.NewToolResultError("pattern_id is required"), nil
	}

	raw, err := h.client.GetPattern(ctx, patternID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get pattern: %v", err)), nil
	}

	text, err := formatPattern(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse pattern: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCreatePattern registers a custom substring pattern.
func (h *Handlers) HandleCreatePattern(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	contains := req.GetString("contains", "")
	if contains == "" {
		return mcp.NewToolResultError("contains is required"), nil
	}
	severity := req.GetString("severity", "")
	if severity == "" {
		return mcp.NewToolResultError("severity is required"), nil
	}
	category := req.GetString("category", "")
	if category == "" {
		return mcp.NewToolResultError("category is required"), nil
	}
	confidence := req.GetInt("confidence", -1)
	if confidence < 0 || confidence > 100 {
		return mcp.NewToolResultError("confidence must be between 0 and 100"), nil
	}

	pattern := map[string]any{
		"id":         id,
		"name":       name,
		"severity":   severity,
		"confidence": confidence,
		"category":   category,
		"condition":  map[string]any{"kind": "contains", "text": contains},
	}
	if desc := req.GetString("description", ""); desc != "" {
		pattern["description"] = desc
	}

	if _, err := h.client.CreatePattern(ctx, pattern); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create pattern: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Pattern %s registered.\n"+
			"Matches: contracts containing %q\n"+
			"Severity: %s | Confidence: %d | Category: %s\n\n"+
			"It will be evaluated on every future scan.",
		id, contains, severity, confidence, category)), nil
}

// HandleDetectionStats returns the detection surface summary.
func (h *Handlers) HandleDetectionStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

type findingInfo struct {
	PatternID  string  `json:"patternId"`
	Severity   string  `json:"severity"`
	Confidence int     `json:"confidence"`
	Title      string  `json:"title"`
	RiskScore  float64 `json:"riskScore"`
	Mitigation string  `json:"mitigation"`
}

type reportInfo struct {
	ID       string        `json:"id"`
	Address  string        `json:"address"`
	Network  string        `json:"network"`
	Findings []findingInfo `json:"findings"`
	Profile  struct {
		CriticalCount int     `json:"criticalCount"`
		HighCount     int     `json:"highCount"`
		MediumCount   int     `json:"mediumCount"`
		LowCount      int     `json:"lowCount"`
		Score         float64 `json:"score"`
	} `json:"profile"`
}

func formatReport(raw json.RawMessage) (string, error) {
	var r reportInfo
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}
	if r.ID == "" {
		return "", fmt.Errorf("unexpected scan report format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Scan %s\n", r.ID)
	fmt.Fprintf(&sb, "Contract: %s (%s)\n", r.Address, r.Network)
	fmt.Fprintf(&sb, "Composite risk score: %.0f/100 (%s)\n", r.Profile.Score, riskLabel(r.Profile.Score))

	if len(r.Findings) == 0 {
		sb.WriteString("\nNo threats detected.")
		return sb.String(), nil
	}

	fmt.Fprintf(&sb, "Findings: %d critical, %d high, %d medium, %d low\n\n",
		r.Profile.CriticalCount, r.Profile.HighCount, r.Profile.MediumCount, r.Profile.LowCount)
	for i, f := range r.Findings {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, strings.ToUpper(f.Severity), f.Title)
		fmt.Fprintf(&sb, "   Pattern: %s | Confidence: %d | Risk: %.1f\n", f.PatternID, f.Confidence, f.RiskScore)
		if f.Mitigation != "" {
			fmt.Fprintf(&sb, "   Mitigation: %s\n", f.Mitigation)
		}
	}
	return sb.String(), nil
}

func riskLabel(score float64) string {
	switch {
	case score > 90:
		return "critical"
	case score > 60:
		return "high"
	case score > 30:
		return "moderate"
	default:
		return "low"
	}
}

func formatScanList(raw json.RawMessage) (string, error) {
	var resp struct {
		Scans   []reportInfo `json:"scans"`
		HasMore bool         `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Scans) == 0 {
		return "No scans found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d scan(s):\n\n", len(resp.Scans))
	for i, r := range resp.Scans {
		fmt.Fprintf(&sb, "%d. %s: %s (%s)\n", i+1, r.ID, r.Address, r.Network)
		fmt.Fprintf(&sb, "   Score: %.0f/100 | Findings: %d\n", r.Profile.Score, len(r.Findings))
	}
	if resp.HasMore {
		sb.WriteString("\nMore scans are available; refine the filters or raise the limit.")
	}
	return sb.String(), nil
}

type patternInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Confidence  int      `json:"confidence"`
	Category    string   `json:"category"`
	Indicators  []string `json:"indicators"`
	Mitigation  string   `json:"mitigation"`
}

func formatPatternList(raw json.RawMessage) (string, error) {
	var resp struct {
		Patterns []patternInfo `json:"patterns"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Patterns) == 0 {
		return "No patterns match the given filters.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d pattern(s):\n\n", len(resp.Patterns))
	for i, p := range resp.Patterns {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, p.ID, p.Name)
		fmt.Fprintf(&sb, "   Severity: %s | Confidence: %d | Category: %s\n", p.Severity, p.Confidence, p.Category)
	}
	return sb.String(), nil
}

func formatPattern(raw json.RawMessage) (string, error) {
	var p patternInfo
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", err
	}
	if p.ID == "" {
		return "", fmt.Errorf("unexpected pattern format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", p.ID, p.Name)
	fmt.Fprintf(&sb, "Severity: %s | Confidence: %d | Category: %s\n", p.Severity, p.Confidence, p.Category)
	if p.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", p.Description)
	}
	if len(p.Indicators) > 0 {
		sb.WriteString("\nIndicators:\n")
		for _, ind := range p.Indicators {
			fmt.Fprintf(&sb, "  - %s\n", ind)
		}
	}
	if p.Mitigation != "" {
		fmt.Fprintf(&sb, "\nMitigation: %s\n", p.Mitigation)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

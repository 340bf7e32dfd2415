package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Sentinel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeContract = mcp.NewTool("analyze_contract",
	mcp.WithDescription(
		"Scan an on-chain contract for threat patterns: honeypots, rug pulls, "+
			"mint abuse, liquidity manipulation, and code vulnerabilities. "+
			"Returns the findings sorted by risk plus a 0-100 composite risk score. "+
			"Provide as much material as you have; source code and bytecode both improve coverage."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Contract address (e.g. '0x1234...')")),
	mcp.WithString("network",
		mcp.Required(),
		mcp.Description("Network the contract is deployed on (e.g. 'mainnet', 'base', 'arbitrum')")),
	mcp.WithString("source_code",
		mcp.Description("Verified Solidity source code, if available")),
	mcp.WithString("bytecode",
		mcp.Description("Deployed bytecode as a hex string (with or without 0x prefix)")),
)

var ToolGetScan = mcp.NewTool("get_scan",
	mcp.WithDescription(
		"Fetch a previously completed scan report by its scan ID."),
	mcp.WithString("scan_id",
		mcp.Required(),
		mcp.Description("The scan ID from a previous analyze_contract result (e.g. 'scan_...')")),
)

var ToolListScans = mcp.NewTool("list_scans",
	mcp.WithDescription(
		"Browse the scan audit trail, newest first. "+
			"Optionally filter by contract address or network."),
	mcp.WithString("address",
		mcp.Description("Filter by contract address")),
	mcp.WithString("network",
		mcp.Description("Filter by network (e.g. 'mainnet')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of scans to return (default 20)")),
)

var ToolListPatterns = mcp.NewTool("list_patterns",
	mcp.WithDescription(
		"List the threat pattern catalog. Each pattern is a named heuristic "+
			"with a severity and confidence. Optionally filter by category or severity."),
	mcp.WithString("category",
		mcp.Description("Filter by threat category"),
		mcp.Enum("honeypot", "rug_pull", "phishing", "mint_abuse",
			"liquidity_manipulation", "social_engineering", "code_vulnerability")),
	mcp.WithString("severity",
		mcp.Description("Filter by severity"),
		mcp.Enum("low", "medium", "high", "critical")),
)

var ToolGetPattern = mcp.NewTool("get_pattern",
	mcp.WithDescription(
		"Fetch one threat pattern by ID, including its description, indicators, and mitigation."),
	mcp.WithString("pattern_id",
		mcp.Required(),
		mcp.Description("The pattern ID (e.g. 'honeypot_sell_restriction')")),
)

var ToolCreatePattern = mcp.NewTool("create_pattern",
	mcp.WithDescription(
		"Register a custom substring-match threat pattern. "+
			"The pattern fires when the given text appears anywhere in a scanned contract's "+
			"source, ABI, or metadata. Requires the admin secret when the API enforces one."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Unique pattern ID (lowercase letters, digits, '_', '-')")),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Human-readable pattern name")),
	mcp.WithString("contains",
		mcp.Required(),
		mcp.Description("Text that triggers the pattern (matched case-insensitively)")),
	mcp.WithString("severity",
		mcp.Required(),
		mcp.Description("Severity assigned to matches"),
		mcp.Enum("low", "medium", "high", "critical")),
	mcp.WithNumber("confidence",
		mcp.Required(),
		mcp.Description("Confidence 0-100 assigned to matches")),
	mcp.WithString("category",
		mcp.Required(),
		mcp.Description("Threat category"),
		mcp.Enum("honeypot", "rug_pull", "phishing", "mint_abuse",
			"liquidity_manipulation", "social_engineering", "code_vulnerability")),
	mcp.WithString("description",
		mcp.Description("What the pattern detects")),
)

var ToolDetectionStats = mcp.NewTool("detection_stats",
	mcp.WithDescription(
		"Get the detection surface summary: total patterns, counts by category "+
			"and severity, and how many detector adapters are loaded."),
)

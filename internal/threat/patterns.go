package threat

import "regexp"

var (
	feeEscalationRe = regexp.MustCompile(`set[a-z]*fee[a-z]*\(|fee[a-z]*\s*=\s*(100|[5-9][0-9])\b`)
	stealthMintRe   = regexp.MustCompile(`onlyowner[^\n]{0,40}mint|mint[^\n]{0,40}onlyowner`)
)

// DefaultPatterns returns the built-in threat catalog loaded into every
// new engine. IDs are stable identifiers; external references point at
// them, so never renumber.
func DefaultPatterns() []ThreatPattern {
	return []ThreatPattern{
		{
			ID:          "honeypot_sell_restriction",
			Name:        "Honeypot Sell Restriction",
			Description: "Contract exposes a buy path but no sell path, combined with a blacklist or restriction mechanism.",
			Severity:    SeverityCritical,
			Confidence:  92,
			Category:    CategoryHoneypot,
			Condition:   Predicate("honeypot_sell_restriction", honeypotSellRestriction),
			Indicators:  []string{"buy-only-abi", "blacklist-mechanism"},
			Mitigation:  "Do not purchase. Tokens bought into this contract likely cannot be sold.",
			Reference:   "SWC-000-HONEYPOT",
		},
		{
			ID:          "unlimited_mint",
			Name:        "Unlimited Mint Authority",
			Description: "Mint entry point present with no maximum-supply cap anywhere in the source.",
			Severity:    SeverityCritical,
			Confidence:  88,
			Category:    CategoryRugPull,
			Condition:   Predicate("unlimited_mint", unlimitedMint),
			Indicators:  []string{"mint-function", "no-supply-cap"},
			Mitigation:  "Verify supply cap on-chain before holding. Owner can dilute holders to zero.",
		},
		{
			ID:          "liquidity_drain_risk",
			Name:        "Liquidity Drain Risk",
			Description: "Liquidity is under-locked, untimed, or removable by the owner.",
			Severity:    SeverityHigh,
			Confidence:  85,
			Category:    CategoryLiquidityManipulation,
			Condition:   Predicate("liquidity_drain_risk", liquidityDrainRisk),
			Indicators:  []string{"weak-liquidity-lock"},
			Mitigation:  "Only trade tokens whose liquidity is majority-locked behind a timelock.",
		},
		{
			ID:          "ownership_concentration",
			Name:        "Ownership Concentration",
			Description: "A single holder controls more than 20% of supply, or the top ten control more than 70%.",
			Severity:    SeverityHigh,
			Confidence:  80,
			Category:    CategoryRugPull,
			Condition:   Predicate("ownership_concentration", ownershipConcentration),
			Indicators:  []string{"whale-concentration"},
			Mitigation:  "Concentrated supply enables coordinated dumps. Size positions accordingly.",
		},
		{
			ID:          "reentrancy_exposure",
			Name:        "Reentrancy Exposure",
			Description: "External call syntax present without a reentrancy guard marker.",
			Severity:    SeverityHigh,
			Confidence:  82,
			Category:    CategoryCodeVulnerability,
			Condition:   Predicate("reentrancy_exposure", reentrancyExposure),
			Indicators:  []string{"external-call", "no-reentrancy-guard"},
			Mitigation:  "Audit state-change ordering around external calls.",
			Reference:   "SWC-107",
		},
		{
			ID:          "unchecked_arithmetic",
			Name:        "Unchecked Arithmetic",
			Description: "Arithmetic operations present without an overflow-safety marker.",
			Severity:    SeverityMedium,
			Confidence:  70,
			Category:    CategoryCodeVulnerability,
			Condition:   Predicate("unchecked_arithmetic", uncheckedArithmetic),
			Indicators:  []string{"overflow-risk"},
			Mitigation:  "Use checked arithmetic or an audited math library.",
			Reference:   "SWC-101",
		},
		{
			ID:          "unsafe_delegatecall",
			Name:        "Unsafe Delegatecall",
			Description: "delegatecall used without validating the target address.",
			Severity:    SeverityHigh,
			Confidence:  84,
			Category:    CategoryCodeVulnerability,
			Condition:   Predicate("unsafe_delegatecall", unsafeDelegatecall),
			Indicators:  []string{"delegatecall", "no-target-validation"},
			Mitigation:  "Restrict delegatecall targets to audited, immutable addresses.",
			Reference:   "SWC-112",
		},
		{
			ID:          "fake_team",
			Name:        "Fabricated Team Profiles",
			Description: "Team profiles show low cross-platform consistency or stock-photo matches.",
			Severity:    SeverityMedium,
			Confidence:  72,
			Category:    CategorySocialEngineering,
			Condition:   Predicate("fake_team", fakeTeam),
			Indicators:  []string{"fake-profiles"},
			Mitigation:  "Treat anonymous or fabricated teams as unaccountable.",
		},
		{
			ID:          "coordinated_promotion",
			Name:        "Coordinated Promotion",
			Description: "Bot-heavy follower base or coordinated posting pattern detected.",
			Severity:    SeverityMedium,
			Confidence:  68,
			Category:    CategorySocialEngineering,
			Condition:   Predicate("coordinated_promotion", coordinatedPromotion),
			Indicators:  []string{"bot-followers", "coordinated-posts"},
			Mitigation:  "Discount social hype driven by inauthentic accounts.",
		},
		{
			ID:          "domain_impersonation",
			Name:        "Domain Impersonation",
			Description: "Project website closely imitates a legitimate project's domain.",
			Severity:    SeverityHigh,
			Confidence:  86,
			Category:    CategoryPhishing,
			Condition:   Predicate("domain_impersonation", domainImpersonation),
			Indicators:  []string{"lookalike-domain"},
			Mitigation:  "Verify the canonical domain through independent channels.",
		},
		{
			ID:          "single_source_oracle",
			Name:        "Single-Source Price Oracle",
			Description: "Price oracle referenced without multi-source validation, enabling flash-loan manipulation.",
			Severity:    SeverityMedium,
			Confidence:  75,
			Category:    CategoryCodeVulnerability,
			Condition:   Predicate("single_source_oracle", singleSourceOracle),
			Indicators:  []string{"single-oracle"},
			Mitigation:  "Use TWAP or median-of-sources pricing.",
			Reference:   "SWC-114",
		},
		{
			ID:          "selfdestruct_present",
			Name:        "Selfdestruct Present",
			Description: "Contract source contains a selfdestruct, allowing the contract to be erased.",
			Severity:    SeverityHigh,
			Confidence:  78,
			Category:    CategoryCodeVulnerability,
			Condition:   Contains("selfdestruct"),
			Indicators:  []string{"selfdestruct"},
			Mitigation:  "Confirm who can trigger destruction and under what conditions.",
			Reference:   "SWC-106",
		},
		{
			ID:          "owner_fee_escalation",
			Name:        "Owner Fee Escalation",
			Description: "Owner-settable fee or a hardcoded fee at 50% or above.",
			Severity:    SeverityMedium,
			Confidence:  74,
			Category:    CategoryHoneypot,
			Condition:   StructuredMatch(feeEscalationRe),
			Indicators:  []string{"mutable-fee"},
			Mitigation:  "Check current fee values and whether they are bounded.",
		},
		{
			ID:          "stealth_mint",
			Name:        "Owner-Gated Mint",
			Description: "Mint capability gated behind the owner, a common dilution backdoor.",
			Severity:    SeverityMedium,
			Confidence:  76,
			Category:    CategoryMintAbuse,
			Condition:   StructuredMatch(stealthMintRe),
			Indicators:  []string{"owner-mint"},
			Mitigation:  "Confirm mint authority is renounced or behind a timelocked multisig.",
		},
	}
}

package threat

// Named predicates backing the built-in pattern catalog. Each inspects
// one structured slice of the bundle; thresholds live here so the
// catalog entries stay declarative.

const (
	topHolderPercentLimit  = 20.0
	topTenPercentLimit     = 70.0
	liquidityLockedMinimum = 50.0
	profileConsistencyMin  = 0.40
	stockPhotoMatchLimit   = 2
	botFollowerRatioLimit  = 0.50
	coordinatedScoreLimit  = 0.70
	domainSimilarityLimit  = 0.80
)

// builtinPredicates maps predicate names to their logic. Condition
// deserialization resolves names against this table, so entries must
// never be renamed once released.
var builtinPredicates = map[string]predicateFn{
	"honeypot_sell_restriction": honeypotSellRestriction,
	"unlimited_mint":            unlimitedMint,
	"liquidity_drain_risk":      liquidityDrainRisk,
	"ownership_concentration":   ownershipConcentration,
	"reentrancy_exposure":       reentrancyExposure,
	"unchecked_arithmetic":      uncheckedArithmetic,
	"unsafe_delegatecall":       unsafeDelegatecall,
	"fake_team":                 fakeTeam,
	"coordinated_promotion":     coordinatedPromotion,
	"domain_impersonation":      domainImpersonation,
	"single_source_oracle":      singleSourceOracle,
}

// honeypotSellRestriction: the ABI exposes a buy path but no sell path,
// plus a block/restrict mechanism. Classic one-way token.
func honeypotSellRestriction(b *ContractAnalysisBundle) bool {
	if len(b.ABI) == 0 {
		return false
	}
	hasBuy := b.hasABIFunction("buy")
	hasSell := b.hasABIFunction("sell")
	hasRestrict := b.hasABIFunction("blacklist") || b.hasABIFunction("block") ||
		b.hasABIFunction("restrict") || b.hasABIFunction("exclude")
	return hasBuy && !hasSell && hasRestrict
}

// unlimitedMint: a mint entry point with no max-supply marker anywhere
// in the source text.
func unlimitedMint(b *ContractAnalysisBundle) bool {
	if !b.hasABIFunction("mint") && !b.sourceContains("function mint") {
		return false
	}
	return !b.sourceContains("maxsupply", "max_supply", "max supply", "totalsupplycap", "supply cap")
}

func liquidityDrainRisk(b *ContractAnalysisBundle) bool {
	if b.TokenMetrics == nil || b.TokenMetrics.LiquidityLock == nil {
		return false
	}
	lock := b.TokenMetrics.LiquidityLock
	return lock.LockedPercent < liquidityLockedMinimum || !lock.HasTimelock || lock.OwnerCanRemove
}

func ownershipConcentration(b *ContractAnalysisBundle) bool {
	if b.TokenMetrics == nil || len(b.TokenMetrics.TopHolders) == 0 {
		return false
	}
	holders := b.TokenMetrics.TopHolders
	if holders[0].Percentage > topHolderPercentLimit {
		return true
	}
	var topTen float64
	for i, h := range holders {
		if i >= 10 {
			break
		}
		topTen += h.Percentage
	}
	return topTen > topTenPercentLimit
}

func reentrancyExposure(b *ContractAnalysisBundle) bool {
	if !b.sourceContains(".call{", ".call(", "call.value") {
		return false
	}
	return !b.sourceContains("nonreentrant", "reentrancyguard", "reentrancy_guard", "mutex")
}

func uncheckedArithmetic(b *ContractAnalysisBundle) bool {
	if !b.sourceContains("unchecked", "+=", "-=", "*=") {
		return false
	}
	return !b.sourceContains("safemath", "checked_add", "checkedadd", "overflow")
}

func unsafeDelegatecall(b *ContractAnalysisBundle) bool {
	if !b.sourceContains("delegatecall") {
		return false
	}
	return !b.sourceContains("require(target", "iscontract", "address(0)")
}

func fakeTeam(b *ContractAnalysisBundle) bool {
	if b.SocialData == nil || b.SocialData.Team == nil {
		return false
	}
	team := b.SocialData.Team
	return team.ProfileConsistency < profileConsistencyMin || team.StockPhotoMatches > stockPhotoMatchLimit
}

func coordinatedPromotion(b *ContractAnalysisBundle) bool {
	if b.SocialData == nil {
		return false
	}
	return b.SocialData.BotFollowerRatio > botFollowerRatioLimit ||
		b.SocialData.CoordinatedScore > coordinatedScoreLimit
}

func domainImpersonation(b *ContractAnalysisBundle) bool {
	return b.SocialData != nil && b.SocialData.DomainSimilarity > domainSimilarityLimit
}

func singleSourceOracle(b *ContractAnalysisBundle) bool {
	if !b.sourceContains("oracle", "getprice", "latestanswer") {
		return false
	}
	return !b.sourceContains("twap", "median", "chainlink", "multi-source", "multisource")
}

package threat

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ContractAnalysisBundle is the immutable per-scan input. The caller
// assembles it from whatever data sources it has; the engine never
// mutates it and never fetches anything on its own.
type ContractAnalysisBundle struct {
	Address      string            `json:"address"`
	Network      string            `json:"network"`
	Bytecode     string            `json:"bytecode,omitempty"`
	SourceCode   string            `json:"sourceCode,omitempty"`
	ABI          []ABIFunction     `json:"abi,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Transactions []Transaction     `json:"transactions,omitempty"`
	TokenMetrics *TokenMetrics     `json:"tokenMetrics,omitempty"`
	SocialData   *SocialData       `json:"socialData,omitempty"`
}

// ABIFunction is one entry of the contract's exposed interface.
type ABIFunction struct {
	Name            string   `json:"name"`
	Inputs          []string `json:"inputs,omitempty"`
	Outputs         []string `json:"outputs,omitempty"`
	StateMutability string   `json:"stateMutability,omitempty"`
}

// Transaction is a single observed transfer involving the contract.
type Transaction struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"`
	Method   string `json:"method,omitempty"`
	ValueWei string `json:"valueWei,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
}

// TokenMetrics describes holder distribution and liquidity state.
type TokenMetrics struct {
	TopHolders    []HolderStake  `json:"topHolders,omitempty"`
	HolderCount   int            `json:"holderCount,omitempty"`
	LiquidityLock *LiquidityLock `json:"liquidityLock,omitempty"`
}

// HolderStake is one address's share of supply, percentage in [0,100].
type HolderStake struct {
	Address    string  `json:"address"`
	Percentage float64 `json:"percentage"`
}

// LiquidityLock describes how (and whether) liquidity is locked.
type LiquidityLock struct {
	LockedPercent  float64 `json:"lockedPercent"`
	HasTimelock    bool    `json:"hasTimelock"`
	OwnerCanRemove bool    `json:"ownerCanRemove"`
}

// SocialData carries off-chain signals about the project behind the
// contract.
type SocialData struct {
	Team             *TeamData `json:"team,omitempty"`
	BotFollowerRatio float64   `json:"botFollowerRatio,omitempty"`
	CoordinatedScore float64   `json:"coordinatedScore,omitempty"`
	DomainSimilarity float64   `json:"domainSimilarity,omitempty"`
	PostsPerHour     float64   `json:"postsPerHour,omitempty"`
}

// TeamData summarizes what is publicly known about the team.
type TeamData struct {
	ProfileConsistency float64 `json:"profileConsistency"`
	StockPhotoMatches  int     `json:"stockPhotoMatches"`
	MemberCount        int     `json:"memberCount,omitempty"`
}

// Validate rejects bundles the engine cannot evaluate. Checked once,
// before any pattern runs.
func (b *ContractAnalysisBundle) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil bundle", ErrInvalidBundle)
	}
	if !common.IsHexAddress(b.Address) {
		return fmt.Errorf("%w: address %q is not a hex address", ErrInvalidBundle, b.Address)
	}
	if b.Network == "" {
		return fmt.Errorf("%w: network is required", ErrInvalidBundle)
	}
	return nil
}

// searchText serializes the textual surface of the bundle for Contains
// and StructuredMatch conditions: source code, ABI function names,
// metadata values, and transaction method names, lowercased.
func (b *ContractAnalysisBundle) searchText() string {
	var sb strings.Builder
	sb.WriteString(b.SourceCode)
	sb.WriteByte('\n')
	for _, fn := range b.ABI {
		sb.WriteString(fn.Name)
		sb.WriteByte('\n')
	}
	for _, v := range b.Metadata {
		sb.WriteString(v)
		sb.WriteByte('\n')
	}
	for _, tx := range b.Transactions {
		if tx.Method != "" {
			sb.WriteString(tx.Method)
			sb.WriteByte('\n')
		}
	}
	return strings.ToLower(sb.String())
}

// abiFunction returns the first ABI entry whose lowercased name contains
// needle, or nil.
func (b *ContractAnalysisBundle) abiFunction(needle string) *ABIFunction {
	for i := range b.ABI {
		if strings.Contains(strings.ToLower(b.ABI[i].Name), needle) {
			return &b.ABI[i]
		}
	}
	return nil
}

// hasABIFunction reports whether any ABI entry name contains needle.
func (b *ContractAnalysisBundle) hasABIFunction(needle string) bool {
	return b.abiFunction(needle) != nil
}

// sourceContains reports whether the lowercased source text contains any
// of the given markers.
func (b *ContractAnalysisBundle) sourceContains(markers ...string) bool {
	src := strings.ToLower(b.SourceCode)
	for _, m := range markers {
		if strings.Contains(src, m) {
			return true
		}
	}
	return false
}

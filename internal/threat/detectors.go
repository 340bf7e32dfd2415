package threat

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signal is one detector's contribution: a confidence in [0,100] plus
// the evidence behind it.
type Signal struct {
	Confidence int
	Evidence   []string
}

// Detector is a pluggable probabilistic contributor, independent of the
// rule catalog. A detector whose confidence meets its threshold yields
// one finding with a synthetic pattern ID; failures and timeouts degrade
// to no contribution.
type Detector interface {
	Name() string
	Category() Category
	Threshold() int
	Analyze(ctx context.Context, b *ContractAnalysisBundle) (*Signal, error)
}

// ----------------------------------------------------------------------------
// Bytecode similarity
// ----------------------------------------------------------------------------

// selector returns the 4-byte function selector for a signature.
func selector(sig string) [4]byte {
	var s [4]byte
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

// drainerSelectors are selectors commonly found in drainer and trap
// contracts. Matched against PUSH4 operands in the deployed bytecode.
var drainerSelectors = map[[4]byte]string{
	selector("setTaxFeePercent(uint256)"):      "setTaxFeePercent(uint256)",
	selector("setMaxTxAmount(uint256)"):        "setMaxTxAmount(uint256)",
	selector("blacklistAddress(address)"):      "blacklistAddress(address)",
	selector("enableTrading(bool)"):            "enableTrading(bool)",
	selector("setSellTax(uint256)"):            "setSellTax(uint256)",
	selector("excludeFromFee(address)"):        "excludeFromFee(address)",
	selector("multiTransfer(address[])"):       "multiTransfer(address[])",
	selector("rescueTokens(address)"):          "rescueTokens(address)",
	selector("setSwapEnabled(bool)"):           "setSwapEnabled(bool)",
	selector("updateDividendTracker(address)"): "updateDividendTracker(address)",
}

// BytecodeSimilarityDetector fingerprints the deployed bytecode by its
// PUSH4 selector set and scores overlap with known drainer selectors.
type BytecodeSimilarityDetector struct {
	threshold int
}

// NewBytecodeSimilarityDetector returns the detector with the given
// contribution threshold.
func NewBytecodeSimilarityDetector(threshold int) *BytecodeSimilarityDetector {
	return &BytecodeSimilarityDetector{threshold: threshold}
}

func (d *BytecodeSimilarityDetector) Name() string       { return "bytecode_similarity" }
func (d *BytecodeSimilarityDetector) Category() Category { return CategoryHoneypot }
func (d *BytecodeSimilarityDetector) Threshold() int     { return d.threshold }

func (d *BytecodeSimilarityDetector) Analyze(ctx context.Context, b *ContractAnalysisBundle) (*Signal, error) {
	if b.Bytecode == "" {
		return nil, fmt.Errorf("%w: bundle has no bytecode", ErrDetectorUnavailable)
	}
	code, err := hex.DecodeString(strings.TrimPrefix(b.Bytecode, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: bytecode is not hex: %v", ErrDetectorUnavailable, err)
	}

	sig := &Signal{}
	for _, sel := range extractSelectors(code) {
		if name, hit := drainerSelectors[sel]; hit {
			sig.Evidence = append(sig.Evidence, "selector overlap with known drainer: "+name)
		}
	}
	sig.Confidence = min(95, 35*len(sig.Evidence))
	return sig, nil
}

// extractSelectors walks the EVM opcode stream and collects PUSH4
// operands, skipping the data bytes of every PUSH so data is never
// misread as opcodes.
func extractSelectors(code []byte) [][4]byte {
	var out [][4]byte
	for i := 0; i < len(code); i++ {
		op := code[i]
		if op < 0x60 || op > 0x7f {
			continue
		}
		n := int(op-0x60) + 1
		if op == 0x63 && i+4 < len(code) {
			var sel [4]byte
			copy(sel[:], code[i+1:i+5])
			out = append(out, sel)
		}
		i += n
	}
	return out
}

// ----------------------------------------------------------------------------
// Social signals
// ----------------------------------------------------------------------------

// SocialSignalsDetector scores inauthentic-promotion pressure from the
// bundle's social slice.
type SocialSignalsDetector struct {
	threshold int
}

func NewSocialSignalsDetector(threshold int) *SocialSignalsDetector {
	return &SocialSignalsDetector{threshold: threshold}
}

func (d *SocialSignalsDetector) Name() string       { return "social_signals" }
func (d *SocialSignalsDetector) Category() Category { return CategorySocialEngineering }
func (d *SocialSignalsDetector) Threshold() int     { return d.threshold }

func (d *SocialSignalsDetector) Analyze(ctx context.Context, b *ContractAnalysisBundle) (*Signal, error) {
	if b.SocialData == nil {
		return nil, fmt.Errorf("%w: bundle has no social data", ErrDetectorUnavailable)
	}
	sd := b.SocialData

	sig := &Signal{}
	score := 0.0
	if sd.BotFollowerRatio > 0 {
		score += sd.BotFollowerRatio * 55
		sig.Evidence = append(sig.Evidence, fmt.Sprintf("bot follower ratio %.2f", sd.BotFollowerRatio))
	}
	if sd.CoordinatedScore > 0 {
		score += sd.CoordinatedScore * 45
		sig.Evidence = append(sig.Evidence, fmt.Sprintf("coordinated posting score %.2f", sd.CoordinatedScore))
	}
	if sd.PostsPerHour > 20 {
		score += 10
		sig.Evidence = append(sig.Evidence, fmt.Sprintf("posting rate %.0f/hour", sd.PostsPerHour))
	}
	sig.Confidence = min(100, int(score))
	return sig, nil
}

// ----------------------------------------------------------------------------
// Transaction patterns
// ----------------------------------------------------------------------------

// TransactionPatternDetector scores trap-like transaction flow: failed
// sells and one-way buy pressure.
type TransactionPatternDetector struct {
	threshold int
}

func NewTransactionPatternDetector(threshold int) *TransactionPatternDetector {
	return &TransactionPatternDetector{threshold: threshold}
}

func (d *TransactionPatternDetector) Name() string       { return "transaction_pattern" }
func (d *TransactionPatternDetector) Category() Category { return CategoryHoneypot }
func (d *TransactionPatternDetector) Threshold() int     { return d.threshold }

func (d *TransactionPatternDetector) Analyze(ctx context.Context, b *ContractAnalysisBundle) (*Signal, error) {
	if len(b.Transactions) == 0 {
		return nil, fmt.Errorf("%w: bundle has no transactions", ErrDetectorUnavailable)
	}

	var buys, sells, failedSells int
	for _, tx := range b.Transactions {
		method := strings.ToLower(tx.Method)
		switch {
		case strings.Contains(method, "sell"):
			sells++
			if tx.Failed {
				failedSells++
			}
		case strings.Contains(method, "buy"):
			buys++
		}
	}

	sig := &Signal{}
	score := 0.0
	if sells > 0 {
		ratio := float64(failedSells) / float64(sells)
		score += ratio * 70
		if failedSells > 0 {
			sig.Evidence = append(sig.Evidence, fmt.Sprintf("%d of %d sell attempts failed", failedSells, sells))
		}
	}
	if buys > 0 && sells == 0 {
		score += 30
		sig.Evidence = append(sig.Evidence, fmt.Sprintf("%d buys with zero sells observed", buys))
	}
	sig.Confidence = min(100, int(score))
	return sig, nil
}

var (
	_ Detector = (*BytecodeSimilarityDetector)(nil)
	_ Detector = (*SocialSignalsDetector)(nil)
	_ Detector = (*TransactionPatternDetector)(nil)
)

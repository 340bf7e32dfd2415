package threat

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
)

// push4 encodes a PUSH4 instruction carrying the selector of sig.
func push4(sig string) []byte {
	sel := selector(sig)
	return append([]byte{0x63}, sel[:]...)
}

func TestBytecodeSimilarityDetector(t *testing.T) {
	d := NewBytecodeSimilarityDetector(30)

	code := append([]byte{0x60, 0x80, 0x60, 0x40}, push4("blacklistAddress(address)")...)
	code = append(code, push4("setSellTax(uint256)")...)
	code = append(code, push4("transfer(address,uint256)")...) // benign selector

	b := testBundle()
	b.Bytecode = "0x" + hex.EncodeToString(code)

	sig, err := d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(sig.Evidence) != 2 {
		t.Errorf("expected 2 drainer selector hits, got %d: %v", len(sig.Evidence), sig.Evidence)
	}
	if sig.Confidence != 70 {
		t.Errorf("confidence = %d, want 70 (35 per hit)", sig.Confidence)
	}
}

func TestBytecodeSimilarityConfidenceCap(t *testing.T) {
	d := NewBytecodeSimilarityDetector(30)

	var code []byte
	for _, sig := range []string{
		"blacklistAddress(address)", "setSellTax(uint256)",
		"enableTrading(bool)", "rescueTokens(address)",
	} {
		code = append(code, push4(sig)...)
	}

	b := testBundle()
	b.Bytecode = hex.EncodeToString(code)

	sig, err := d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if sig.Confidence != 95 {
		t.Errorf("confidence should cap at 95, got %d", sig.Confidence)
	}
}

func TestBytecodeDetectorSkipsPushData(t *testing.T) {
	d := NewBytecodeSimilarityDetector(30)

	// A drainer selector buried inside PUSH32 data must not be read as code
	sel := selector("blacklistAddress(address)")
	code := []byte{0x7f} // PUSH32
	data := make([]byte, 32)
	copy(data[3:], append([]byte{0x63}, sel[:]...))
	code = append(code, data...)

	b := testBundle()
	b.Bytecode = hex.EncodeToString(code)

	sig, err := d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if len(sig.Evidence) != 0 {
		t.Errorf("selector inside PUSH data was misread as code: %v", sig.Evidence)
	}
}

func TestBytecodeDetectorUnavailable(t *testing.T) {
	d := NewBytecodeSimilarityDetector(30)

	b := testBundle()
	if _, err := d.Analyze(context.Background(), b); !errors.Is(err, ErrDetectorUnavailable) {
		t.Errorf("empty bytecode: expected ErrDetectorUnavailable, got %v", err)
	}

	b.Bytecode = "0xnothex"
	if _, err := d.Analyze(context.Background(), b); !errors.Is(err, ErrDetectorUnavailable) {
		t.Errorf("bad hex: expected ErrDetectorUnavailable, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Social signals
// ---------------------------------------------------------------------------

func TestSocialSignalsDetector(t *testing.T) {
	d := NewSocialSignalsDetector(60)

	b := testBundle()
	b.SocialData = &SocialData{
		BotFollowerRatio: 1.0,
		CoordinatedScore: 1.0,
		PostsPerHour:     30,
	}
	sig, err := d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if sig.Confidence != 100 {
		t.Errorf("saturated signals should cap at 100, got %d", sig.Confidence)
	}
	if len(sig.Evidence) != 3 {
		t.Errorf("expected 3 evidence lines, got %d", len(sig.Evidence))
	}

	b.SocialData = &SocialData{BotFollowerRatio: 0.5}
	sig, err = d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if sig.Confidence != 27 {
		t.Errorf("confidence = %d, want 27 (0.5 x 55)", sig.Confidence)
	}
}

func TestSocialSignalsUnavailable(t *testing.T) {
	d := NewSocialSignalsDetector(60)
	if _, err := d.Analyze(context.Background(), testBundle()); !errors.Is(err, ErrDetectorUnavailable) {
		t.Errorf("expected ErrDetectorUnavailable, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Transaction patterns
// ---------------------------------------------------------------------------

func TestTransactionPatternDetector(t *testing.T) {
	d := NewTransactionPatternDetector(60)

	b := testBundle()
	b.Transactions = []Transaction{
		{Hash: "0x1", Method: "sellTokens", Failed: true},
		{Hash: "0x2", Method: "sellTokens", Failed: true},
		{Hash: "0x3", Method: "sellTokens"},
		{Hash: "0x4", Method: "sellTokens"},
	}
	sig, err := d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if sig.Confidence != 35 {
		t.Errorf("half-failed sells: confidence = %d, want 35", sig.Confidence)
	}

	// One-way buy pressure
	b.Transactions = []Transaction{
		{Hash: "0x1", Method: "buyTokens"},
		{Hash: "0x2", Method: "buyTokens"},
	}
	sig, err = d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if sig.Confidence != 30 {
		t.Errorf("buys with no sells: confidence = %d, want 30", sig.Confidence)
	}

	// Every sell fails on top of buy pressure
	b.Transactions = []Transaction{
		{Hash: "0x1", Method: "buyTokens"},
		{Hash: "0x2", Method: "sellTokens", Failed: true},
	}
	sig, err = d.Analyze(context.Background(), b)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if sig.Confidence != 70 {
		t.Errorf("all sells failed: confidence = %d, want 70", sig.Confidence)
	}
}

func TestTransactionPatternUnavailable(t *testing.T) {
	d := NewTransactionPatternDetector(60)
	if _, err := d.Analyze(context.Background(), testBundle()); !errors.Is(err, ErrDetectorUnavailable) {
		t.Errorf("expected ErrDetectorUnavailable, got %v", err)
	}
}

func TestExtractSelectors(t *testing.T) {
	// PUSH1 0x80, PUSH4 selector, PUSH2 0xffff
	sel := selector("approve(address,uint256)")
	code := []byte{0x60, 0x80}
	code = append(code, 0x63)
	code = append(code, sel[:]...)
	code = append(code, 0x61, 0xff, 0xff)

	got := extractSelectors(code)
	if len(got) != 1 {
		t.Fatalf("expected 1 selector, got %d", len(got))
	}
	if got[0] != sel {
		t.Errorf("extracted %x, want %x", got[0], sel)
	}
}

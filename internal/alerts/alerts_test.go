package alerts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vermlabs/sentinel/internal/circuitbreaker"
	"github.com/vermlabs/sentinel/internal/threat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(sev threat.Severity) threat.ThreatEvent {
	return threat.ThreatEvent{
		FindingID: "find_abc123",
		Severity:  sev,
		Category:  threat.CategoryHoneypot,
		Address:   "0x1111111111111111111111111111111111111111",
	}
}

func newTestNotifier(t *testing.T, url, secret string, min threat.Severity) *Notifier {
	t.Helper()
	n, err := NewNotifier(url, secret, min, true, testLogger(),
		WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}
	return n
}

func TestNotifyDeliversSignedPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		hdr  http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		body, _ = io.ReadAll(r.Body)
		hdr = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "hunter2", threat.SeverityLow)
	evt := testEvent(threat.SeverityCritical)
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	var got threat.ThreatEvent
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("payload is not a threat event: %v", err)
	}
	if got.FindingID != evt.FindingID || got.Severity != evt.Severity {
		t.Errorf("payload = %+v, want %+v", got, evt)
	}

	if hdr.Get("X-Sentinel-Event") != "threat_detected" {
		t.Errorf("event header = %q", hdr.Get("X-Sentinel-Event"))
	}
	if hdr.Get("X-Sentinel-Severity") != "critical" {
		t.Errorf("severity header = %q", hdr.Get("X-Sentinel-Severity"))
	}

	mac := hmac.New(sha256.New, []byte("hunter2"))
	mac.Write(body)
	if want := hex.EncodeToString(mac.Sum(nil)); hdr.Get("X-Sentinel-Signature") != want {
		t.Errorf("signature = %q, want %q", hdr.Get("X-Sentinel-Signature"), want)
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "", threat.SeverityLow)
	if err := n.Notify(context.Background(), testEvent(threat.SeverityHigh)); err != nil {
		t.Fatalf("notify should succeed on the third attempt: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d attempts, want 3", got)
	}
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "", threat.SeverityLow)
	if err := n.Notify(context.Background(), testEvent(threat.SeverityHigh)); err == nil {
		t.Fatal("expected delivery error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xx was retried: %d attempts", got)
	}
}

func TestNotifyTripsCircuitAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL, "", threat.SeverityLow, true, testLogger(),
		WithRetry(1, time.Millisecond),
		WithBreaker(circuitbreaker.New(2, time.Hour)))
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}

	evt := testEvent(threat.SeverityHigh)
	for i := 0; i < 2; i++ {
		if err := n.Notify(context.Background(), evt); err == nil {
			t.Fatalf("delivery %d should have failed", i)
		}
	}
	before := calls.Load()

	if err := n.Notify(context.Background(), evt); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("open circuit still reached the endpoint")
	}
}

func TestNotifyClosesCircuitAfterProbeSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNotifier(srv.URL, "", threat.SeverityLow, true, testLogger(),
		WithRetry(1, time.Millisecond),
		WithBreaker(circuitbreaker.New(1, time.Millisecond)))
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}

	evt := testEvent(threat.SeverityHigh)
	if err := n.Notify(context.Background(), evt); err == nil {
		t.Fatal("first delivery should fail and trip the circuit")
	}

	// Let the open window elapse, then the probe succeeds and closes it.
	fail.Store(false)
	time.Sleep(5 * time.Millisecond)
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("probe delivery failed: %v", err)
	}
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("closed circuit rejected delivery: %v", err)
	}
}

func TestRunFiltersBySeverity(t *testing.T) {
	var severities sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		severities.Store(r.Header.Get("X-Sentinel-Severity"), true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL, "", threat.SeverityHigh)

	events := make(chan threat.ThreatEvent, 4)
	events <- testEvent(threat.SeverityLow)
	events <- testEvent(threat.SeverityMedium)
	events <- testEvent(threat.SeverityHigh)
	events <- testEvent(threat.SeverityCritical)
	close(events)

	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not drain the channel")
	}

	for _, sev := range []string{"high", "critical"} {
		if _, ok := severities.Load(sev); !ok {
			t.Errorf("severity %s was never delivered", sev)
		}
	}
	for _, sev := range []string{"low", "medium"} {
		if _, ok := severities.Load(sev); ok {
			t.Errorf("severity %s should have been filtered", sev)
		}
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	n := newTestNotifier(t, "http://example.com/hook", "", threat.SeverityLow)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan threat.ThreatEvent)

	done := make(chan struct{})
	go func() {
		n.Run(ctx, events)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run ignored context cancellation")
	}
}

func TestNewNotifierValidation(t *testing.T) {
	if _, err := NewNotifier("", "", threat.SeverityHigh, true, testLogger()); err == nil {
		t.Error("empty URL should be rejected")
	}
	if _, err := NewNotifier("http://example.com", "", "extreme", true, testLogger()); err == nil {
		t.Error("bad severity should be rejected")
	}
	// Loopback is blocked unless private endpoints are allowed.
	if _, err := NewNotifier("http://127.0.0.1:9000/hook", "", threat.SeverityHigh, false, testLogger()); err == nil {
		t.Error("loopback URL should be rejected when private endpoints are disallowed")
	}
	if _, err := NewNotifier("http://127.0.0.1:9000/hook", "", threat.SeverityHigh, true, testLogger()); err != nil {
		t.Errorf("allowPrivate should accept loopback: %v", err)
	}
}

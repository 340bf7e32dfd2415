package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/vermlabs/sentinel/internal/threat"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventThreatDetected, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventThreatDetected},
	}}

	threatEvent := &Event{Type: EventThreatDetected}
	scanEvent := &Event{Type: EventScanCompleted}

	if !h.shouldSend(client, threatEvent) {
		t.Error("Should receive threat_detected events")
	}
	if h.shouldSend(client, scanEvent) {
		t.Error("Should NOT receive scan_completed events")
	}
}

func TestShouldSend_SeverityFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Severities: []string{"critical", "high"},
	}}

	critical := &Event{
		Type: EventThreatDetected,
		Data: threat.ThreatEvent{Severity: threat.SeverityCritical},
	}
	low := &Event{
		Type: EventThreatDetected,
		Data: threat.ThreatEvent{Severity: threat.SeverityLow},
	}

	if !h.shouldSend(client, critical) {
		t.Error("Should receive critical findings")
	}
	if h.shouldSend(client, low) {
		t.Error("Should NOT receive low findings")
	}
}

func TestShouldSend_AddressFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Addresses: []string{"0xAbC0000000000000000000000000000000000001"},
	}}

	matching := &Event{
		Type: EventThreatDetected,
		Data: threat.ThreatEvent{Address: "0xabc0000000000000000000000000000000000001"},
	}
	notMatching := &Event{
		Type: EventThreatDetected,
		Data: threat.ThreatEvent{Address: "0x0000000000000000000000000000000000000002"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match watched address case-insensitively")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated contracts")
	}
}

func TestShouldSend_CategoryFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Categories: []string{"rug_pull"},
	}}

	rugPull := &Event{
		Type: EventThreatDetected,
		Data: threat.ThreatEvent{Category: threat.CategoryRugPull},
	}
	phishing := &Event{
		Type: EventThreatDetected,
		Data: threat.ThreatEvent{Category: threat.CategoryPhishing},
	}

	if !h.shouldSend(client, rugPull) {
		t.Error("Should receive rug_pull findings")
	}
	if h.shouldSend(client, phishing) {
		t.Error("Should NOT receive phishing findings")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventThreatDetected}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonThreatData(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Severities: []string{"critical"},
	}}

	// Severity filter can only inspect threat events; others pass through.
	event := &Event{
		Type: EventScanCompleted,
		Data: map[string]any{"score": 42.0},
	}

	if !h.shouldSend(client, event) {
		t.Error("Non-threat data should pass through severity filter")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventThreatDetected, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastThreat(threat.ThreatEvent{
		FindingID: "fnd_test",
		Severity:  threat.SeverityHigh,
		Category:  threat.CategoryHoneypot,
		Address:   "0x0000000000000000000000000000000000000001",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants scan completions
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventScanCompleted}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a threat event (should be filtered out)
	h.Broadcast(&Event{Type: EventThreatDetected, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive threat_detected event")
	default:
		// Good - filtered out
	}

	// Send a scan event (should be received)
	h.Broadcast(&Event{Type: EventScanCompleted, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive scan_completed event")
	}
}

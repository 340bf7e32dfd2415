// Package alerts delivers threat notifications to an operator-configured
// webhook endpoint.
//
// The notifier consumes events from the bus, filters by severity, and
// POSTs each surviving event with an HMAC signature. Delivery is retried
// with backoff; a 4xx response is treated as permanent.
package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vermlabs/sentinel/internal/circuitbreaker"
	"github.com/vermlabs/sentinel/internal/retry"
	"github.com/vermlabs/sentinel/internal/security"
	"github.com/vermlabs/sentinel/internal/threat"
)

var (
	alertSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alert deliveries by severity.",
	}, []string{"severity"})

	alertErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "alerts",
		Name:      "errors_total",
		Help:      "Total alert delivery failures by severity.",
	}, []string{"severity"})
)

func init() {
	prometheus.MustRegister(alertSentTotal, alertErrorsTotal)
}

const (
	defaultAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
	deliveryTimeout  = 10 * time.Second

	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
)

// ErrCircuitOpen is returned when deliveries are suspended because the
// endpoint has failed repeatedly.
var ErrCircuitOpen = fmt.Errorf("alerts: circuit open, delivery suspended")

// Notifier posts threat events to a single webhook URL.
type Notifier struct {
	url         string
	secret      string
	minSeverity threat.Severity
	client      *http.Client
	logger      *slog.Logger
	breaker     *circuitbreaker.Breaker
	attempts    int
	baseDelay   time.Duration
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithHTTPClient replaces the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithRetry overrides the delivery retry schedule.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(n *Notifier) {
		n.attempts = attempts
		n.baseDelay = baseDelay
	}
}

// WithBreaker replaces the delivery circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(n *Notifier) { n.breaker = b }
}

// NewNotifier validates the webhook URL and builds a notifier. When
// allowPrivate is false the URL must not point at loopback or private
// address space.
func NewNotifier(url, secret string, minSeverity threat.Severity, allowPrivate bool, logger *slog.Logger, opts ...Option) (*Notifier, error) {
	if url == "" {
		return nil, fmt.Errorf("alerts: webhook url is required")
	}
	if !minSeverity.Valid() {
		return nil, fmt.Errorf("alerts: invalid minimum severity %q", minSeverity)
	}
	if !allowPrivate {
		if err := security.ValidateEndpointURL(url); err != nil {
			return nil, fmt.Errorf("alerts: webhook url rejected: %w", err)
		}
	}

	n := &Notifier{
		url:         url,
		secret:      secret,
		minSeverity: minSeverity,
		client:      &http.Client{Timeout: deliveryTimeout},
		logger:      logger,
		breaker:     circuitbreaker.New(breakerThreshold, breakerOpenFor),
		attempts:    defaultAttempts,
		baseDelay:   defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Run consumes events until the channel closes or ctx is done. Delivery
// failures are logged, never fatal.
func (n *Notifier) Run(ctx context.Context, events <-chan threat.ThreatEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !evt.Severity.AtLeast(n.minSeverity) {
				continue
			}
			if err := n.Notify(ctx, evt); err != nil {
				n.logger.Warn("alert delivery failed",
					"finding", evt.FindingID,
					"severity", evt.Severity,
					"error", err)
			}
		}
	}
}

// Notify delivers one event, retrying transient failures. When the
// endpoint keeps failing the circuit opens and deliveries are dropped
// until the probe window elapses.
func (n *Notifier) Notify(ctx context.Context, evt threat.ThreatEvent) error {
	if !n.breaker.Allow(n.url) {
		alertErrorsTotal.WithLabelValues(string(evt.Severity)).Inc()
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("alerts: marshal event: %w", err)
	}

	err = retry.Do(ctx, n.attempts, n.baseDelay, func() error {
		return n.post(ctx, evt, payload)
	})
	if err != nil {
		n.breaker.RecordFailure(n.url)
		alertErrorsTotal.WithLabelValues(string(evt.Severity)).Inc()
		return err
	}
	n.breaker.RecordSuccess(n.url)
	alertSentTotal.WithLabelValues(string(evt.Severity)).Inc()
	return nil
}

func (n *Notifier) post(ctx context.Context, evt threat.ThreatEvent, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sentinel-Event", "threat_detected")
	req.Header.Set("X-Sentinel-Severity", string(evt.Severity))
	if n.secret != "" {
		req.Header.Set("X-Sentinel-Signature", sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("alerts: webhook rejected delivery: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("alerts: webhook returned status %d", resp.StatusCode)
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

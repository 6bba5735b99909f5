package cmdrdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	usageEventsPath = "/api/events"
	iso8601         = "2006-01-02T15:04:05Z"
)

// UsageSink consumes normalized usage events. Implementations must be
// non-blocking or background their own I/O; the interceptor calls RecordUsage
// synchronously on the request path.
type UsageSink interface {
	RecordUsage(event *UsageEvent)
}

// UsageEvent is a single normalized usage record for one tracked call.
type UsageEvent struct {
	CustomerID   string `json:"customerId"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	InputTokens  int    `json:"inputTokenCount"`
	OutputTokens int    `json:"outputTokenCount"`
	TotalTokens  int    `json:"totalTokenCount"`

	// RequestID correlates the event with the originating call.
	RequestID       string `json:"requestId"`
	RequestTime     string `json:"requestTime"`
	ResponseTime    string `json:"responseTime"`
	RequestDuration int64  `json:"requestDuration"`

	ErrorOccurred bool   `json:"errorOccurred,omitempty"`
	ErrorKind     string `json:"errorKind,omitempty"`
	ErrorCode     string `json:"errorCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	Environment      string `json:"environment,omitempty"`
	MiddlewareSource string `json:"middlewareSource,omitempty"`
}

// Tracker delivers usage events to the CmdrData API in the background. It is
// the default UsageSink implementation.
type Tracker struct {
	cfg     *Config
	logger  *Logger
	breaker *gobreaker.CircuitBreaker
	wg      sync.WaitGroup

	// retryBackoff is the initial backoff between delivery attempts,
	// doubled per retry.
	retryBackoff time.Duration
}

var _ UsageSink = (*Tracker)(nil)

// NewTracker creates a new Tracker with the given options. Unset options
// fall back to CMDRDATA_* environment variables.
func NewTracker(opts ...Option) (*Tracker, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	loadFromEnv(cfg)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:    cfg,
		logger: newLogger(cfg.Debug),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cmdrdata-delivery",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		retryBackoff: time.Second,
	}, nil
}

// RecordUsage hands a usage event to the tracker and returns immediately.
// Delivery happens on a detached context so it is not canceled when the
// caller's request context ends.
func (t *Tracker) RecordUsage(event *UsageEvent) {
	if event == nil {
		return
	}
	event.MiddlewareSource = middlewareSource
	if event.Environment == "" {
		event.Environment = t.cfg.Environment
	}
	outcome := "success"
	if event.ErrorOccurred {
		outcome = "failure"
	}
	usageEventsRecorded.WithLabelValues(outcome).Inc()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout)
		defer cancel()
		if err := t.deliver(ctx, event); err != nil {
			usageDeliveryFailures.Inc()
			t.logger.Error("failed to deliver usage event %s: %v", event.RequestID, err)
		}
	}()
}

// Flush waits for all pending deliveries to complete.
func (t *Tracker) Flush() {
	t.wg.Wait()
}

func (t *Tracker) deliver(ctx context.Context, event *UsageEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return newTrackingError("failed to marshal usage event", err)
	}

	t.logger.Debug("usage event: %s", string(body))

	url := t.cfg.BaseURL + usageEventsPath
	backoff := t.retryBackoff

	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return newNetworkError("context canceled during retry", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		_, err = t.breaker.Execute(func() (any, error) {
			return nil, t.send(ctx, url, body)
		})
		if err == nil {
			t.logger.Debug("usage event delivered (customer=%s, model=%s, tokens=%d+%d)",
				event.CustomerID, event.Model, event.InputTokens, event.OutputTokens)
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			return newNetworkError("delivery circuit open", err)
		}
		t.logger.Warn("usage event delivery failed (attempt %d/%d): %v",
			attempt+1, t.cfg.MaxRetries+1, err)
	}
	return err
}

func (t *Tracker) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return newNetworkError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return newNetworkError("request failed", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	t.logger.Debug("usage API response (%d): %s", resp.StatusCode, string(respBody))
	return newTrackingError(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
}

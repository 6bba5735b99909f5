package cmdrdata

import (
	"context"

	"google.golang.org/genai"
)

// Client wraps *genai.Client with usage tracking. The Models surface meters
// GenerateContent and CountTokens; everything else on the SDK client is
// reachable through the embedded client unchanged.
type Client struct {
	*genai.Client

	// Models shadows the SDK's Models surface with tracked operations.
	Models *Models

	tracker *Tracker
}

// NewClient creates a genai client with the given config and wraps it with
// usage tracking.
func NewClient(ctx context.Context, tracker *Tracker, cfg *genai.ClientConfig) (*Client, error) {
	inner, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return WrapClient(inner, tracker), nil
}

// WrapClient wraps an existing genai client. Calls made through the wrapper
// behave identically to calls on the wrapped client, plus usage telemetry.
func WrapClient(inner *genai.Client, tracker *Tracker) *Client {
	var logger *Logger
	if tracker != nil {
		logger = tracker.logger
	}
	warnCompatibilityOnce(logger)
	return &Client{
		Client:  inner,
		Models:  &Models{Models: inner.Models, tracker: tracker},
		tracker: tracker,
	}
}

// Tracker returns the tracker usage events are delivered to.
func (c *Client) Tracker() *Tracker {
	return c.tracker
}

// Models meters the generation and token-counting operations of the SDK's
// Models surface. All other model operations are promoted from the embedded
// SDK type untouched.
type Models struct {
	*genai.Models

	tracker *Tracker
}

// GenerateContent forwards to the SDK and emits a usage event attributed to
// the customer carried by ctx.
func (m *Models) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	result, err := observeCall(ctx, m.sink(), m.logger(), "Models.GenerateContent",
		[]any{model, contents, config}, TrackGenerateContent,
		func() (any, error) {
			return m.Models.GenerateContent(ctx, model, contents, config)
		})
	resp, _ := result.(*genai.GenerateContentResponse)
	return resp, err
}

// CountTokens forwards to the SDK and emits a usage event attributed to the
// customer carried by ctx.
func (m *Models) CountTokens(ctx context.Context, model string, contents []*genai.Content, config *genai.CountTokensConfig) (*genai.CountTokensResponse, error) {
	result, err := observeCall(ctx, m.sink(), m.logger(), "Models.CountTokens",
		[]any{model, contents, config}, TrackCountTokens,
		func() (any, error) {
			return m.Models.CountTokens(ctx, model, contents, config)
		})
	resp, _ := result.(*genai.CountTokensResponse)
	return resp, err
}

func (m *Models) sink() UsageSink {
	if m.tracker == nil {
		return nil
	}
	return m.tracker
}

func (m *Models) logger() *Logger {
	if m.tracker == nil {
		return defaultLogger
	}
	return m.tracker.logger
}

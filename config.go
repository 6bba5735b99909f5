package cmdrdata

import (
	"net/http"
	"os"
	"time"
)

const defaultBaseURL = "https://api.cmdrdata.ai"

// Config holds the configuration for the CmdrData usage tracker.
type Config struct {
	// APIKey is the CmdrData API key (required).
	APIKey string

	// BaseURL is the CmdrData API base URL. Defaults to "https://api.cmdrdata.ai".
	BaseURL string

	// Environment identifies the deployment environment (e.g., "production",
	// "staging"). Attached to every usage event.
	Environment string

	// Timeout bounds a single delivery attempt, including retries.
	// Defaults to 30 seconds.
	Timeout time.Duration

	// MaxRetries is the number of retries after a failed delivery attempt.
	// Defaults to 3.
	MaxRetries int

	// Debug enables debug-level logging.
	Debug bool

	// HTTPClient is an optional custom HTTP client for delivering usage events.
	HTTPClient *http.Client
}

// Option is a functional option for configuring a Tracker.
type Option func(*Config)

// WithAPIKey sets the CmdrData API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithBaseURL sets the CmdrData API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithEnvironment sets the deployment environment attached to usage events.
func WithEnvironment(env string) Option {
	return func(c *Config) { c.Environment = env }
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithMaxRetries sets the number of retries after a failed delivery attempt.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithDebug enables debug-level logging.
func WithDebug(debug bool) Option {
	return func(c *Config) { c.Debug = debug }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

func loadFromEnv(c *Config) {
	if v := os.Getenv("CMDRDATA_API_KEY"); v != "" && c.APIKey == "" {
		c.APIKey = v
	}
	if v := os.Getenv("CMDRDATA_BASE_URL"); v != "" && c.BaseURL == "" {
		c.BaseURL = v
	}
	if v := os.Getenv("CMDRDATA_ENVIRONMENT"); v != "" && c.Environment == "" {
		c.Environment = v
	}
	if os.Getenv("CMDRDATA_DEBUG") != "" {
		c.Debug = true
	}
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return newConfigError("API key is required", nil)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Package base provides the HTTP plumbing shared by the provider clients:
// request pacing, status handling and cache-first lookups.
package base

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/macroecon/internal/domain"
	"github.com/aristath/macroecon/internal/timeseries"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 60 * time.Second

// ErrMissingAPIKey is returned by providers that cannot be called without a key.
var ErrMissingAPIKey = errors.New("API key required")

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Client carries what every provider client needs. Embed it.
type Client struct {
	provider string
	http     *http.Client
	limiter  *rate.Limiter
	cache    domain.SeriesCache
	log      zerolog.Logger
}

// New creates the shared client. Requests are spaced at least interval
// apart. cache is optional; nil disables caching.
func New(provider string, interval time.Duration, cache domain.SeriesCache, log zerolog.Logger) *Client {
	return &Client{
		provider: provider,
		http:     &http.Client{Timeout: DefaultTimeout},
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		cache:    cache,
		log:      log.With().Str("client", provider).Logger(),
	}
}

// Provider returns the provider name.
func (c *Client) Provider() string {
	return c.provider
}

// Log returns the client logger.
func (c *Client) Log() *zerolog.Logger {
	return &c.log
}

// SetHTTPClient replaces the HTTP client, mainly for tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

// SetInterval changes the minimum spacing between requests.
func (c *Client) SetInterval(interval time.Duration) {
	c.limiter.SetLimit(rate.Every(interval))
}

// Lookup returns the cached frame for key, or nil, nil on a miss or stale
// entry. Unreadable entries (cache.ErrCorruptEntry) are returned as errors
// and must not be papered over with a refetch.
func (c *Client) Lookup(key string) (*timeseries.Frame, error) {
	if c.cache == nil {
		return nil, nil
	}
	frame, err := c.cache.Get(key)
	if err != nil {
		return nil, fmt.Errorf("%s cache read %s: %w", c.provider, key, err)
	}
	if frame != nil {
		c.log.Debug().Str("key", key).Msg("Cache hit")
	}
	return frame, nil
}

// Remember stores frame under key.
func (c *Client) Remember(key string, frame *timeseries.Frame, tags map[string]any) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Put(key, frame, tags); err != nil {
		return fmt.Errorf("%s cache write %s: %w", c.provider, key, err)
	}
	return nil
}

// Cached returns the frame stored under key, or calls fetch and stores its
// result with tags. Cache read and write failures are returned.
func (c *Client) Cached(key string, tags map[string]any, fetch func() (*timeseries.Frame, error)) (*timeseries.Frame, error) {
	frame, err := c.Lookup(key)
	if err != nil || frame != nil {
		return frame, err
	}

	frame, err = fetch()
	if err != nil {
		return nil, err
	}
	if err := c.Remember(key, frame, tags); err != nil {
		return nil, err
	}
	return frame, nil
}

// Do paces and sends a request, returning the body of a 2xx response.
func (c *Client) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s request cancelled: %w", c.provider, err)
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), 512),
		}
	}
	return body, nil
}

// GetJSON sends a GET request and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", c.provider, err)
	}
	return nil
}

// PostJSON sends payload as JSON and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", c.provider, err)
	}
	return nil
}

// Optional turns an empty string into nil so absent query bounds hash the
// same way in cache keys no matter how they were spelled.
func Optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

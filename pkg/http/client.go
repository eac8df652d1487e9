package http

import (
	"fmt"
	"net/http"
	"time"

	"seopilot/internal/config"
	"seopilot/pkg/circuitbreaker"
)

const defaultRequestTimeout = 30 * time.Second

// Client wraps the standard http.Client with circuit breaking, so a dead
// backend fails fast instead of tying up every caller in timeouts.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// NewClient creates a Client from backend configuration. When the breaker
// is disabled the client degrades to a plain timeout-bounded http.Client.
func NewClient(cfg config.BackendConfig) (*Client, error) {
	timeout := defaultRequestTimeout
	if cfg.RequestTimeout != "" {
		parsed, err := time.ParseDuration(cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid backend request timeout %q: %w", cfg.RequestTimeout, err)
		}
		timeout = parsed
	}

	client := &Client{httpClient: &http.Client{Timeout: timeout}}
	if !cfg.CircuitBreaker.Enabled {
		return client, nil
	}

	breakerTimeout, err := time.ParseDuration(cfg.CircuitBreaker.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid circuit breaker timeout %q: %w", cfg.CircuitBreaker.Timeout, err)
	}
	client.breaker = circuitbreaker.New(circuitbreaker.Settings{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		Timeout:          breakerTimeout,
	})
	return client, nil
}

// Do executes an HTTP request under circuit breaker protection. Responses
// with status >= 500 count as failures toward tripping the breaker; they
// are still returned to the caller.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			// Report to the breaker but hand the response back.
			return resp, fmt.Errorf("server error: status code %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if resp, ok := res.(*http.Response); ok && resp != nil {
			return resp, nil
		}
		return nil, err
	}
	return res.(*http.Response), nil
}

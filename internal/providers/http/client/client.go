package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GriffinCanCode/lectern/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RPS       float64 // outbound requests per second, 0 = unlimited
	UserAgent string
	// OnBreakerChange is notified when the backend breaker changes state
	OnBreakerChange func(name string, from, to resilience.State)
}

// Client wraps resty with rate limiting and a circuit breaker.
// It never retries: a lecture view decides whether to retry on user action.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
}

// errServerStatus marks 5xx responses so the breaker counts them as failures
// while callers still receive the response.
var errServerStatus = errors.New("server error status")

// NewClient creates the backend HTTP client
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Lectern/1.0"
	}

	// retryablehttp supplies a pooled transport; its retry loop is not used.
	transport := retryablehttp.NewClient().HTTPClient.Transport

	restyClient := resty.New().
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", opts.UserAgent)
	if opts.BaseURL != "" {
		restyClient.SetBaseURL(opts.BaseURL)
	}

	breaker := resilience.New("content-backend", resilience.Settings{
		Threshold:     5,
		MinRequests:   20,
		FailureRatio:  0.5,
		Window:        60 * time.Second,
		Cooldown:      30 * time.Second,
		Probes:        3,
		OnStateChange: opts.OnBreakerChange,
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}

	return &Client{
		Resty:   restyClient,
		Limiter: limiter,
		Breaker: breaker,
	}
}

// Request creates a request after waiting on the rate limiter
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.Breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	return c.Resty.R().SetContext(ctx), nil
}

// Do executes fn under the circuit breaker. Transport errors and 5xx
// responses count as backend failures; 4xx responses do not.
func (c *Client) Do(fn func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := resilience.Execute(c.Breaker, func() (*resty.Response, error) {
		resp, err := fn()
		if err != nil {
			return resp, err
		}
		if resp != nil && resp.StatusCode() >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})

	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return nil, fmt.Errorf("content backend unavailable: %w", err)
	}
	return resp, err
}

// Get fetches path with an optional bearer token
func (c *Client) Get(ctx context.Context, path, token string) (*resty.Response, error) {
	req, err := c.Request(ctx)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.SetAuthToken(token)
	}
	return c.Do(func() (*resty.Response, error) {
		return req.Get(path)
	})
}

// GetExternal fetches an absolute URL on another host, anonymously. It
// bypasses the backend breaker and limiter: a failing third-party host says
// nothing about the content backend.
func (c *Client) GetExternal(ctx context.Context, rawURL string) (*resty.Response, error) {
	return c.Resty.R().SetContext(ctx).Get(rawURL)
}

// BaseURL returns the configured backend base URL
func (c *Client) BaseURL() string {
	return c.Resty.BaseURL
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.Breaker.State()
}

package groww

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

const (
	defaultBaseURL = "https://api.groww.in"
	apiVersion     = "1.0"

	// Live-data endpoints allow ~10 req/s per token; stay at half of that.
	defaultRatePerSec = 5
	defaultBurst      = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the Groww market-data HTTP client. Every request carries the
// bearer token it is called with, and each token has its own rate limiter.
type Client struct {
	http    *http.Client
	baseURL string

	ratePerSec float64
	burst      int
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter

	retryWait time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithRate sets the per-token request rate.
func WithRate(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec > 0 {
			c.ratePerSec = perSec
		}
		if burst > 0 {
			c.burst = burst
		}
	}
}

// WithRetryWait sets the base backoff between retries.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// NewClient creates a Client. An empty baseURL selects production.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		ratePerSec: defaultRatePerSec,
		burst:      defaultBurst,
		limiters:   make(map[string]*rate.Limiter),
		retryWait:  baseRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the wrapper around every Groww response body.
type envelope struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Error   *apiError       `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) limiter(token string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[token]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.ratePerSec), c.burst)
		c.limiters[token] = l
	}
	return l
}

// get performs an authenticated GET and decodes the envelope payload into out.
func (c *Client) get(ctx context.Context, token, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	body, err := c.doWithRetry(ctx, token, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-API-VERSION", apiVersion)
		return c.http.Do(req)
	})
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &domain.TransientDataError{Reason: fmt.Sprintf("decode envelope: %v", err)}
	}
	if !strings.EqualFold(env.Status, "SUCCESS") {
		msg := "status " + env.Status
		if env.Error != nil {
			msg = fmt.Sprintf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("groww %s: %s", path, msg)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return &domain.TransientDataError{Reason: path + ": empty payload"}
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return &domain.TransientDataError{Reason: fmt.Sprintf("decode %s payload: %v", path, err)}
	}
	return nil
}

// doWithRetry runs fn with exponential backoff on 429, 5xx and transport
// errors. 401/403 fail immediately as a credential error; a 429 that
// survives every retry is also pinned on the credential.
func (c *Client) doWithRetry(ctx context.Context, token string, fn func() (*http.Response, error)) ([]byte, error) {
	limiter := c.limiter(token)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < maxRetries {
				c.sleep(ctx, attempt)
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, &domain.CredentialError{
				Token:  token,
				Status: resp.StatusCode,
				Reason: truncate(string(body), 120),
			}
		case resp.StatusCode == http.StatusTooManyRequests:
			slog.Warn("groww: rate limited", "token", domain.MaskToken(token), "attempt", attempt+1)
			lastErr = &domain.CredentialError{Token: token, Status: resp.StatusCode, Reason: "rate limited"}
			if attempt < maxRetries {
				c.sleep(ctx, attempt)
			}
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			if attempt < maxRetries {
				c.sleep(ctx, attempt)
			}
			continue
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("client error %d: %s", resp.StatusCode, truncate(string(body), 200))
		}

		if readErr != nil {
			return nil, fmt.Errorf("read body: %w", readErr)
		}
		return body, nil
	}

	if ce, ok := lastErr.(*domain.CredentialError); ok {
		return nil, ce
	}
	return nil, fmt.Errorf("request failed after %d retries: %w", maxRetries, lastErr)
}

// sleep waits with exponential backoff, honoring ctx.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

package authoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry and backoff defaults.
const (
	defaultMaxAttempts = 5
	defaultRetryMin    = 1 * time.Second
	defaultRetryMax    = 60 * time.Second
	defaultRetryFactor = 2.0
	jitterFraction     = 0.25
	defaultPageLimit   = 100
	userAgent          = "dxsync/0.1"
	publishPriorityHdr = "x-ibm-dx-publish-priority"
	tenantBaseURLHdr   = "x-ibm-dx-tenant-base-url"
	apiPrefix          = "/authoring/v1"
)

// AuthProvider attaches credentials to outgoing requests. Defined at
// the consumer per Go convention "accept interfaces, return structs";
// the CLI wires the real session-cookie implementation.
type AuthProvider interface {
	Apply(req *http.Request) error
}

// BodyFactory produces a fresh request body reader per attempt so the
// retry loop can re-issue a streaming request without buffering the
// whole payload.
type BodyFactory func() (io.Reader, error)

// bytesBody adapts a fixed byte slice to a BodyFactory.
func bytesBody(b []byte) BodyFactory {
	if b == nil {
		return nil
	}

	return func() (io.Reader, error) {
		return bytes.NewReader(b), nil
	}
}

// NetworkError marks a transport failure where no HTTP status was
// received. Never retried: without a status there is no evidence the
// server saw the request.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("authoring: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Client issues HTTP requests against the authoring service. It
// handles request construction, authentication, retry with exponential
// backoff, and error classification. Safe for concurrent use; all
// callers share one connection pool.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthProvider
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an authoring API client. baseURL is the tenant API
// origin, e.g. "https://content.example.com/api/12345".
func NewClient(baseURL string, httpClient *http.Client, auth AuthProvider, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		auth:       auth,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// request is the assembled call the retry loop re-issues per attempt.
type request struct {
	method      string
	path        string
	body        BodyFactory
	contentType string
	accept      string
	headers     map[string]string
	opts        *Options
}

// Do executes an HTTP request against the authoring API with the
// default JSON accept header. The path is appended to the effective
// base URL (per-call tenant override wins over the configured base).
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body BodyFactory, opts *Options) (*http.Response, error) {
	return c.doRetry(ctx, &request{
		method: method,
		path:   path,
		body:   body,
		accept: "application/json",
		opts:   opts,
	})
}

// DoRaw executes a request with explicit content type, accept header,
// and extra headers. Used by the resource adapter for binary transfer.
func (c *Client) DoRaw(
	ctx context.Context, method, path string, body BodyFactory,
	contentType, accept string, headers map[string]string, opts *Options,
) (*http.Response, error) {
	return c.doRetry(ctx, &request{
		method:      method,
		path:        path,
		body:        body,
		contentType: contentType,
		accept:      accept,
		headers:     headers,
		opts:        opts,
	})
}

// doRetry is the retry loop. A call is retried iff the server returned
// a status code in the retry set; transport errors without a status
// are surfaced as NetworkError and never retried. Exhaustion surfaces
// ErrTechnicalDifficulties.
func (c *Client) doRetry(ctx context.Context, req *request) (*http.Response, error) {
	maxAttempts := defaultMaxAttempts
	if req.opts != nil && req.opts.MaxAttempts > 0 {
		maxAttempts = req.opts.MaxAttempts
	}

	var attempt int

	for {
		resp, err := c.doOnce(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("authoring: request canceled: %w", ctx.Err())
			}

			return nil, &NetworkError{Err: err}
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := resp.Header.Get("x-ibm-dx-request-id")

		var retrySet []int
		if req.opts != nil {
			retrySet = req.opts.RetryStatusCodes
		}

		if IsRetryableStatus(resp.StatusCode, retrySet) {
			if attempt+1 >= maxAttempts {
				c.logger.Error("request failed after retries",
					slog.String("method", req.method),
					slog.String("path", req.path),
					slog.Int("status", resp.StatusCode),
					slog.Int("attempts", attempt+1),
				)

				return nil, &APIError{
					StatusCode: resp.StatusCode,
					RequestID:  reqID,
					Message:    string(errBody),
					Err:        ErrTechnicalDifficulties,
				}
			}

			backoff := c.retryBackoff(resp, attempt, req.opts)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("authoring: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, req *request) (*http.Response, error) {
	base := c.baseURL
	tenantOverride := req.opts != nil && req.opts.TenantBaseURL != ""

	if tenantOverride {
		base = req.opts.TenantBaseURL
	}

	var body io.Reader
	if req.body != nil {
		var err error

		body, err = req.body()
		if err != nil {
			return nil, fmt.Errorf("creating request body: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, base+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.auth != nil {
		if err := c.auth.Apply(httpReq); err != nil {
			return nil, fmt.Errorf("applying credentials: %w", err)
		}
	}

	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("Accept-Language", req.opts.locale())

	if req.accept != "" {
		httpReq.Header.Set("Accept", req.accept)
	}

	switch {
	case req.contentType != "":
		httpReq.Header.Set("Content-Type", req.contentType)
	case body != nil:
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.opts != nil && req.opts.PublishNow {
		httpReq.Header.Set(publishPriorityHdr, "now")
	}

	if tenantOverride {
		httpReq.Header.Set(tenantBaseURLHdr, req.opts.TenantBaseURL)
	}

	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	return c.httpClient.Do(httpReq)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int, opts *Options) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return calcBackoff(attempt, opts)
}

// calcBackoff computes exponential backoff bounded by the min/max
// timeouts, with optional ±25% jitter.
func calcBackoff(attempt int, opts *Options) time.Duration {
	min := defaultRetryMin
	max := defaultRetryMax
	factor := defaultRetryFactor
	randomize := true

	if opts != nil {
		if opts.RetryMinTimeout > 0 {
			min = opts.RetryMinTimeout
		}

		if opts.RetryMaxTimeout > 0 {
			max = opts.RetryMaxTimeout
		}

		if opts.RetryFactor > 0 {
			factor = opts.RetryFactor
		}

		randomize = opts.RetryRandomize || opts.RetryFactor == 0
	}

	backoff := float64(min) * math.Pow(factor, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}

	if randomize {
		jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
		backoff += jitter
	}

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is
// canceled. It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

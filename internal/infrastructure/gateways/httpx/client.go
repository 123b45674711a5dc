// Package httpx is the outbound HTTP plumbing shared by the gateway adapters:
// bounded timeouts, tracing, a circuit breaker per gateway and a small JSON
// client for providers without an SDK.
package httpx

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

	"github.com/cassiomorais/paygate/internal/domain/gateway"
	"github.com/cassiomorais/paygate/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// ErrDecode marks a response that arrived but could not be decoded.
var ErrDecode = errors.New("decode response")

// Options configures the HTTP client of one gateway.
type Options struct {
	Name             string
	Timeout          time.Duration
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
	OnStateChange    func(name string, from, to gobreaker.State)
	// OnResult observes every call with "success", "failure" or "rejected".
	OnResult func(name, result string)
	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
}

// NewHTTPClient returns a client with a bounded timeout whose transport is
// traced and guarded by a circuit breaker. 5xx responses count as breaker
// failures but are still handed back to the caller.
func NewHTTPClient(opts Options) *http.Client {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &breakerTransport{
			next:     otelhttp.NewTransport(base),
			breaker:  newBreaker(opts),
			onResult: opts.OnResult,
		},
	}
}

func newBreaker(opts Options) *gobreaker.CircuitBreaker[*http.Response] {
	threshold := opts.BreakerThreshold
	if threshold == 0 {
		threshold = 10
	}
	timeout := opts.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		OnStateChange: opts.OnStateChange,
	})
}

type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.status)
}

type breakerTransport struct {
	next     http.RoundTripper
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	onResult func(name, result string)
}

func (t *breakerTransport) observe(result string) {
	if t.onResult != nil {
		t.onResult(t.breaker.Name(), result)
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, &serverError{status: resp.StatusCode}
		}
		return resp, nil
	})
	var srvErr *serverError
	switch {
	case err == nil:
		t.observe("success")
	case errors.As(err, &srvErr):
		t.observe("failure")
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		t.observe("rejected")
		return nil, &CircuitOpenError{Name: t.breaker.Name()}
	default:
		t.observe("failure")
	}
	return resp, err
}

// CircuitOpenError is returned without contacting the provider while its
// breaker is open.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s: circuit breaker open", e.Name)
}

// StatusError is returned by Client for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(string(e.Body), 200))
}

// Transient reports whether a retry of the same read may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient classifies transport, breaker and status errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, ErrDecode) || errors.Is(err, context.Canceled) {
		return false
	}
	// Anything that never produced a response: timeouts, resets, open breaker.
	return true
}

// Classify maps a client error to a gateway failure kind.
func Classify(err error) gateway.FailureKind {
	switch {
	case err == nil:
		return gateway.FailureNone
	case IsTransient(err):
		return gateway.FailureTransient
	default:
		return gateway.FailureRejected
	}
}

// Client is a minimal JSON REST client bound to one provider base URL.
type Client struct {
	baseURL string
	http    *http.Client
	auth    func(*http.Request)
	retry   retry.Config
	logger  zerolog.Logger
}

// NewClient builds a JSON client. auth decorates every request with the
// provider's credentials; readRetry governs Get only.
func NewClient(baseURL string, httpClient *http.Client, auth func(*http.Request), readRetry retry.Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		auth:    auth,
		retry:   readRetry,
		logger:  logger,
	}
}

// Post sends a JSON body once. It is never retried.
func (c *Client) Post(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	return c.do(ctx, http.MethodPost, path, body, headers, out)
}

// Get reads a resource, retrying transient failures.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	cfg := c.retry
	cfg.RetryIf = IsTransient
	cfg.OnRetry = func(n uint, err error) {
		c.logger.Warn().Err(err).Uint("attempt", n+1).Str("path", path).Msg("Retrying gateway read")
	}
	return retry.Do(ctx, cfg, func() error {
		return c.do(ctx, http.MethodGet, path, nil, nil, out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: data}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

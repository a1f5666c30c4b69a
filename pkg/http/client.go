// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	apperrors "grid_trader/pkg/errors"
	"grid_trader/pkg/telemetry"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError represents a non-2xx API response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Unwrap classifies throttling and server failures
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return apperrors.ErrRateLimitExceeded
	case e.StatusCode == http.StatusUnauthorized:
		return apperrors.ErrAuthenticationFailed
	case e.StatusCode == http.StatusForbidden:
		return apperrors.ErrPermissionDenied
	case e.StatusCode >= 500:
		return apperrors.ErrNetwork
	}
	return nil
}

// Signer signs a request right before it is sent. It runs once per attempt,
// so signatures that embed a nonce stay fresh across retries.
type Signer interface {
	SignRequest(req *http.Request, body []byte) error
}

// RequestOption tunes a single request
type RequestOption func(*requestOptions)

type requestOptions struct {
	noRetry bool
	headers map[string]string
}

// NoRetry sends the request at most once. Use it for calls that are not idempotent.
func NoRetry() RequestOption {
	return func(o *requestOptions) { o.noRetry = true }
}

// WithHeader sets a header on every attempt
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	pipeline failsafe.Executor[*http.Response]
	once     failsafe.Executor[*http.Response]

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	// Retry on network errors, 5xx and throttling
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return !isLocal(err)
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return !isLocal(err)
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10). // 5 failures out of 10
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		signer:      signer,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		once:        failsafe.With[*http.Response](breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// BaseURL returns the URL every path is resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string, opts ...RequestOption) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, "", opts)
}

// PostForm sends a form-encoded POST. form may be changed by the signer, e.g. to add a nonce.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, opts ...RequestOption) ([]byte, error) {
	return c.do(ctx, http.MethodPost, c.baseURL+path, form, "application/x-www-form-urlencoded", opts)
}

// PostJSON sends a JSON POST
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, opts ...RequestOption) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, rawBody(jsonBody), "application/json", opts)
}

// rawBody is a pre-encoded request body
type rawBody []byte

// FormSigner is implemented by signers that need to add fields to a form before it is encoded
type FormSigner interface {
	PrepareForm(form url.Values)
}

func (c *Client) do(ctx context.Context, method, target string, payload interface{}, contentType string, opts []RequestOption) ([]byte, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, method+" "+pathOf(target),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", target),
		),
	)
	defer span.End()

	attempt := func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		req, err := c.buildRequest(ctx, method, target, payload, contentType, ro.headers)
		if err != nil {
			return nil, localError{err}
		}
		return c.client.Do(req)
	}

	executor := c.pipeline
	if ro.noRetry {
		executor = c.once
	}
	resp, err := executor.GetWithExecution(attempt)

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", pathOf(target)),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	// Exhausted retries still carry the last response, which is reported as an APIError below
	if err != nil && resp == nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", pathOf(target)),
			attribute.String("error", "pipeline_failed"),
		))
		var local localError
		if errors.As(err, &local) {
			return nil, local.err
		}
		return nil, fmt.Errorf("request failed: %w: %w", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w: %w", apperrors.ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", pathOf(target)),
			attribute.Int("status", resp.StatusCode),
		))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}

// buildRequest creates and signs a fresh request for one attempt
func (c *Client) buildRequest(ctx context.Context, method, target string, payload interface{}, contentType string, headers map[string]string) (*http.Request, error) {
	var body []byte
	switch p := payload.(type) {
	case url.Values:
		form := url.Values{}
		for k, v := range p {
			form[k] = append([]string(nil), v...)
		}
		if fs, ok := c.signer.(FormSigner); ok {
			fs.PrepareForm(form)
		}
		body = []byte(form.Encode())
	case rawBody:
		body = p
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.signer != nil {
		if err := c.signer.SignRequest(req, body); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}
	return req, nil
}

// localError marks a failure to build or sign a request. It is never retried.
type localError struct{ err error }

func (b localError) Error() string { return b.err.Error() }
func (b localError) Unwrap() error { return b.err }

func isLocal(err error) bool {
	var local localError
	return errors.As(err, &local)
}

func pathOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Path
}

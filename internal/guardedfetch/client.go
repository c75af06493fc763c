package guardedfetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/macho715/marine-weather-dashboard/internal/circuitbreaker"
)

const (
	tracerName   = "github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
	maxBodyBytes = 4 << 20
)

// Target describes the request to send. Body is replayed on every attempt.
type Target struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Observer receives fetch outcomes. Implementations must not block.
type Observer interface {
	AttemptFinished(key string, statusCode int, duration time.Duration, err error)
	CircuitOpened(key string)
	CircuitRejected(key string)
}

type nopObserver struct{}

func (nopObserver) AttemptFinished(string, int, time.Duration, error) {}
func (nopObserver) CircuitOpened(string)                              {}
func (nopObserver) CircuitRejected(string)                            {}

type Client struct {
	httpClient *http.Client
	breakers   *circuitbreaker.Registry
	clock      clockwork.Clock
	logger     *slog.Logger
	observer   Observer
	tracer     trace.Tracer
	policy     Policy
	random     func() float64
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRegistry shares a breaker registry between clients.
func WithRegistry(r *circuitbreaker.Registry) ClientOption {
	return func(c *Client) { c.breakers = r }
}

func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

// WithRandom replaces the jitter source. fn must return values in [0,1).
func WithRandom(fn func() float64) ClientOption {
	return func(c *Client) { c.random = fn }
}

// WithDefaultPolicy sets the policy used by calls that do not pass WithPolicy.
func WithDefaultPolicy(p Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		observer:   nopObserver{},
		tracer:     otel.Tracer(tracerName),
		policy:     DefaultPolicy(),
		random:     rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakers == nil {
		p := c.policy.normalized()
		c.breakers = circuitbreaker.NewRegistry(p.CircuitThreshold, p.CircuitCooldown, c.clock)
	}
	return c
}

// Breakers exposes the registry backing this client.
func (c *Client) Breakers() *circuitbreaker.Registry {
	return c.breakers
}

type callOptions struct {
	key    string
	policy Policy
}

// Option customizes a single Fetch.
type Option func(*callOptions)

// WithKey sets the circuit key. Defaults to the target URL.
func WithKey(key string) Option {
	return func(o *callOptions) { o.key = key }
}

func WithPolicy(p Policy) Option {
	return func(o *callOptions) { o.policy = p }
}

// Fetch sends target through the circuit breaker for its key, retrying
// retryable failures with exponential backoff. A half-open circuit admits one
// probe which gets a single attempt.
func (c *Client) Fetch(ctx context.Context, target Target, opts ...Option) (*Response, error) {
	call := callOptions{key: target.URL, policy: c.policy}
	for _, opt := range opts {
		opt(&call)
	}
	policy := call.policy.normalized()
	key := call.key

	if target.Method == "" {
		target.Method = http.MethodGet
	}
	if _, err := newRequest(ctx, target); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "guardedfetch.Fetch", trace.WithAttributes(
		attribute.String("guardedfetch.key", key),
		attribute.String("http.method", target.Method),
	))
	defer span.End()

	cb := c.breakers.GetBreaker(key)
	cb.Configure(policy.CircuitThreshold, policy.CircuitCooldown)

	admission := cb.Admit()
	if !admission.Allowed {
		err := &CircuitOpenError{Key: key, RetryAfter: cb.RetryAfter()}
		c.observer.CircuitRejected(key)
		c.logger.Warn("Circuit open, rejecting call", "key", key, "retry_after", err.RetryAfter)
		span.RecordError(err)
		span.SetStatus(codes.Error, "circuit open")
		return nil, err
	}

	maxAttempts := policy.Retries + 1
	if admission.Probe {
		maxAttempts = 1
		span.SetAttributes(attribute.Bool("guardedfetch.probe", true))
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		attempts++
		start := c.clock.Now()
		resp, err := c.attempt(ctx, target, policy.Timeout, attempt)
		elapsed := c.clock.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		var statusErr *UpstreamStatusError
		var sizeErr *BodyTooLargeError
		switch {
		case errors.As(err, &statusErr):
			status = statusErr.StatusCode
		case errors.As(err, &sizeErr):
			status = sizeErr.StatusCode
		}
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("guardedfetch.attempt", attempt+1),
			attribute.Int("http.status_code", status),
			attribute.Bool("guardedfetch.ok", err == nil),
		))

		if ctxErr := ctx.Err(); ctxErr != nil {
			if admission.Probe {
				cb.Release()
			}
			span.SetStatus(codes.Error, ctxErr.Error())
			return nil, &GuardedFetchError{Key: key, Attempts: attempts, Cause: ctxErr}
		}

		c.observer.AttemptFinished(key, status, elapsed, err)

		if err == nil {
			cb.RecordSuccess()
			resp.Attempts = attempts
			span.SetStatus(codes.Ok, "")
			return resp, nil
		}

		lastErr = err
		if cb.RecordFailure() {
			c.observer.CircuitOpened(key)
			c.logger.Warn("Circuit opened", "key", key, "cooldown", policy.CircuitCooldown)
		}

		if !retryable(err, policy.RetryClientErrors) || attempt+1 >= maxAttempts {
			break
		}

		delay := jitter(policy.Delay(attempt), policy.JitterRatio, c.random())
		c.logger.Debug("Retrying fetch", "key", key, "attempt", attempt+1, "delay", delay, "error", err)

		if err := c.sleep(ctx, delay); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, &GuardedFetchError{Key: key, Attempts: attempts, Cause: err}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, &GuardedFetchError{Key: key, Attempts: attempts, Cause: lastErr}
}

func (c *Client) attempt(ctx context.Context, target Target, timeout time.Duration, attempt int) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := newRequest(attemptCtx, target)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, attemptError(ctx, attemptCtx, err, timeout, attempt)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, attemptError(ctx, attemptCtx, err, timeout, attempt)
	}
	oversized := len(body) > maxBodyBytes
	if oversized {
		body = body[:maxBodyBytes]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}
	if oversized {
		return nil, &BodyTooLargeError{StatusCode: resp.StatusCode, Limit: maxBodyBytes}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

func newRequest(ctx context.Context, target Target) (*http.Request, error) {
	var body io.Reader
	if target.Body != nil {
		body = bytes.NewReader(target.Body)
	}
	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, body)
	if err != nil {
		return nil, err
	}
	if target.Header != nil {
		req.Header = target.Header.Clone()
	}
	return req, nil
}

// attemptError maps a deadline hit on the attempt context, while the caller's
// context is still live, to a TimeoutError.
func attemptError(parent, attemptCtx context.Context, err error, timeout time.Duration, attempt int) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout, Attempt: attempt}
	}
	return err
}

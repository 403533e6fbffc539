// Package transport delivers one logical HTTP request with bounded
// exponential-backoff retry.
//
// A transport fault and a non-2xx status draw from the same attempt budget.
// Exhausting the budget is not an error in the Go sense: Send always returns a
// Result and the caller branches on Result.Failure.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pders01/snapsync/internal/logging"
	"github.com/pders01/snapsync/internal/metrics"
)

const (
	// DefaultBaseDelay is the wait before the first retry
	DefaultBaseDelay = 10 * time.Second
	// DefaultMaxAttempts is the total number of attempts, including the first
	DefaultMaxAttempts = 10

	// maxFailureBody bounds how much of a failed response body is kept
	maxFailureBody = 4 << 10
)

// Config configures the retry budget
type Config struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultConfig returns the production retry budget
func DefaultConfig() Config {
	return Config{
		BaseDelay:   DefaultBaseDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Validate checks the retry budget
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative, got %s", c.BaseDelay)
	}
	return nil
}

// Backoff returns the wait after the attempt with the given zero-based index
// failed: base × 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(int64(1)<<uint(attempt))
}

// WorstCase returns the total time spent sleeping when every attempt fails
func (c Config) WorstCase() time.Duration {
	var total time.Duration
	for attempt := 0; attempt < c.MaxAttempts-1; attempt++ {
		total += Backoff(c.BaseDelay, attempt)
	}
	return total
}

// Request is one logical request. Body is buffered so every attempt can replay it.
type Request struct {
	Method   string
	URL      string
	Header   http.Header
	Body     []byte
	Endpoint string // label for logs and metrics; defaults to URL
}

// Failure describes the last outcome of a request that never succeeded
type Failure struct {
	// StatusCode is the last non-2xx status, or 0 when the last attempt faulted
	StatusCode int
	// Body holds the beginning of the last non-2xx response body
	Body []byte
	// Err is the last transport fault, or the context error when cancelled
	Err error
	// Attempts is how many attempts were made
	Attempts int
	// Exhausted is true when the whole budget was spent
	Exhausted bool
}

func (f *Failure) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("request failed after %d attempt(s): %v", f.Attempts, f.Err)
	default:
		return fmt.Sprintf("request failed after %d attempt(s): status %d", f.Attempts, f.StatusCode)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of Send. Exactly one of Response and Failure is set.
// A successful Response is still open; the caller must close its body.
type Result struct {
	Response *http.Response
	Failure  *Failure
	Attempts int
}

// OK reports whether the request succeeded
func (r Result) OK() bool {
	return r.Failure == nil && r.Response != nil
}

// Doer is the subset of *http.Client the transport needs
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport sends requests with retry
type Transport struct {
	client  Doer
	config  Config
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customises a Transport
type Option func(*Transport)

// WithClock replaces the clock used for backoff sleeps
func WithClock(c clockwork.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// New creates a transport. A nil client means http.DefaultClient.
func New(client Doer, config Config, opts ...Option) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	t := &Transport{
		client: client,
		config: config,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.OrDefault(t.logger)
	return t, nil
}

// Config returns the retry budget in use
func (t *Transport) Config() Config {
	return t.config
}

// Send delivers req, retrying faults and non-2xx statuses until the budget
// runs out. Cancelling ctx aborts a backoff wait immediately.
func (t *Transport) Send(ctx context.Context, req Request) Result {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.URL
	}

	var failure *Failure
	for attempt := 0; attempt < t.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err, attempt)
		}

		resp, f := t.attempt(ctx, req)
		if f == nil {
			t.metrics.RequestAttempt(endpoint, "ok")
			return Result{Response: resp, Attempts: attempt + 1}
		}
		f.Attempts = attempt + 1
		failure = f

		if f.Err != nil {
			t.metrics.RequestAttempt(endpoint, "fault")
		} else {
			t.metrics.RequestAttempt(endpoint, "status")
		}

		if attempt == t.config.MaxAttempts-1 {
			break
		}

		delay := Backoff(t.config.BaseDelay, attempt)
		t.logger.Warn("request failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt+1,
			"max_attempts", t.config.MaxAttempts,
			"status", f.StatusCode,
			"error", f.Err,
			"delay", delay,
		)
		t.metrics.RequestRetry(endpoint)

		select {
		case <-ctx.Done():
			return cancelled(ctx.Err(), attempt+1)
		case <-t.clock.After(delay):
		}
	}

	failure.Exhausted = true
	t.logger.Error("request retries exhausted",
		"endpoint", endpoint,
		"attempts", failure.Attempts,
		"status", failure.StatusCode,
		"error", failure.Err,
	)
	return Result{Failure: failure, Attempts: failure.Attempts}
}

// attempt performs one HTTP round trip
func (t *Transport) attempt(ctx context.Context, req Request) (*http.Response, *Failure) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Failure{Err: fmt.Errorf("build request: %w", err)}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &Failure{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxFailureBody))
		return nil, &Failure{StatusCode: resp.StatusCode, Body: snippet}
	}
	return resp, nil
}

func cancelled(err error, attempts int) Result {
	if err == nil {
		err = context.Canceled
	}
	return Result{
		Failure:  &Failure{Err: err, Attempts: attempts},
		Attempts: attempts,
	}
}

// IsCancelled reports whether a failure was caused by context cancellation
func IsCancelled(f *Failure) bool {
	return f != nil && (errors.Is(f.Err, context.Canceled) || errors.Is(f.Err, context.DeadlineExceeded))
}

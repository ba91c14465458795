package httputil

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
	"github.com/matzehuels/neonfeed/pkg/observability"
)

const (
	// DefaultMaxRetries is the default number of attempts, including the first.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the wait before the second attempt.
	DefaultBaseDelay = time.Second

	// DefaultTimeout bounds a single request made with [NewClient].
	DefaultTimeout = 10 * time.Second
)

// Policy controls how often and how patiently a request is retried.
type Policy struct {
	MaxRetries int           // Total attempts, including the first
	BaseDelay  time.Duration // Wait before attempt 2; doubles after each failure
}

// DefaultPolicy returns 3 attempts starting at a 1 second delay.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// Backoff returns the wait after the given zero-based failed attempt:
// BaseDelay * 2^attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay << attempt
}

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient creates an HTTP client with the given per-request timeout.
// A timeout <= 0 selects [DefaultTimeout].
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// NewProxyClient is like [NewClient] but never follows redirects: a 3xx
// response is returned to the caller as is, with its Location and
// Set-Cookie headers intact.
func NewProxyClient(timeout time.Duration) *http.Client {
	c := NewClient(timeout)
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// Fetcher sends requests through a [Doer], retrying transient failures.
//
// A response with status below 400 is returned as is. A 4xx response fails
// at once with a CLIENT_ERROR. A network error or 5xx response is TRANSIENT
// and is retried according to the policy; when attempts run out the error
// is RETRY_EXHAUSTED wrapping the last TRANSIENT failure.
type Fetcher struct {
	client Doer
	policy Policy
	logger *log.Logger
	sleep  sleepFunc
}

// NewFetcher creates a Fetcher. A nil client uses [NewClient] with the
// default timeout; a nil logger uses log.Default().
func NewFetcher(client Doer, p Policy, logger *log.Logger) *Fetcher {
	if client == nil {
		client = NewClient(0)
	}
	if p.MaxRetries < 1 {
		p.MaxRetries = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{client: client, policy: p, logger: logger, sleep: sleep}
}

// Policy returns the retry policy in effect.
func (f *Fetcher) Policy() Policy { return f.policy }

// Do sends req, retrying as described on [Fetcher]. The caller owns the
// returned response body. A request with a body must set GetBody to be
// retried; http.NewRequest does this for the common body types.
func (f *Fetcher) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := retry(ctx, f.policy.MaxRetries, f.policy.BaseDelay, f.sleep,
		func(attempt int) error {
			r, err := f.attempt(ctx, req, attempt)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		func(attempt int, d time.Duration, err error) {
			f.logger.Debug("retrying request", "url", req.URL.String(), "attempt", attempt+1, "delay", d, "err", err)
		},
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *Fetcher) attempt(ctx context.Context, req *http.Request, attempt int) (*http.Response, error) {
	r := req.Clone(ctx)
	if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errs.New(errs.ErrCodeInternal, "request body for %s cannot be replayed", req.URL)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, errs.Wrap(errs.ErrCodeInternal, err, "replay request body")
		}
		r.Body = body
	}

	hooks := observability.HTTP()
	host, path := req.URL.Host, req.URL.Path
	hooks.OnRequest(ctx, req.Method, host, path, attempt+1)
	start := time.Now()

	resp, err := f.client.Do(r)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Transient(0, err)
	}
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(code int) error {
	switch {
	case code < http.StatusBadRequest:
		return nil
	case code < http.StatusInternalServerError:
		return errs.ClientError(code)
	default:
		return errs.Transient(code, nil)
	}
}

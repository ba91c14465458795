package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/neonfeed/pkg/buildinfo"
	"github.com/matzehuels/neonfeed/pkg/cache"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
	"github.com/matzehuels/neonfeed/pkg/httputil"
	"github.com/matzehuels/neonfeed/pkg/notify"
)

// DefaultErrorMessage is shown to the user for any failed request.
const DefaultErrorMessage = "An error occurred. Please try again."

// ErrorNoticeDuration is how long the failure notice stays visible. It is
// the generic notice duration, not the longer error-toast default.
const ErrorNoticeDuration = 3 * time.Second

// RequestOptions describes a read request. It is part of the cache key.
type RequestOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"` // Sent as JSON unless Headers sets Content-Type
}

// Response is the outcome of a request: decoded JSON data, or a failure
// envelope when the request could not be completed.
type Response struct {
	Data    any
	Failure *errs.Envelope
	Cached  bool // Data was served from the cache
}

// OK reports whether the request succeeded.
func (r Response) OK() bool { return r.Failure == nil }

// MarshalJSON encodes the data, or the failure envelope.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Failure != nil {
		return json.Marshal(r.Failure)
	}
	return json.Marshal(r.Data)
}

// Options configures a [Client]. Every field is optional.
type Options struct {
	BaseURL  string                 // Resolves relative request URLs
	Cache    cache.Store            // Defaults to a NullCache
	Keyer    cache.Keyer            // Defaults to cache.DefaultKeyer
	TTL      time.Duration          // Entry lifetime; 0 uses the store default
	HTTP     httputil.Doer          // Transport for both reads and posts
	Policy   *httputil.Policy       // Read retry policy; nil uses the default
	Notifier notify.Notifier        // Receives failure notices
	Loading  notify.LoadingIndicator // Shown during PostForm
	Logger   *log.Logger
	Headers  map[string]string // Sent with every request
}

// Client performs application API requests.
type Client struct {
	base     *url.URL
	cache    cache.Store
	keyer    cache.Keyer
	ttl      time.Duration
	http     httputil.Doer
	fetcher  *httputil.Fetcher
	notifier notify.Notifier
	loading  notify.LoadingIndicator
	logger   *log.Logger
	headers  map[string]string
}

// NewClient creates a Client. It returns an INVALID_INPUT error when
// BaseURL is set but is not an absolute http(s) URL.
func NewClient(opts Options) (*Client, error) {
	c := &Client{
		cache:    opts.Cache,
		keyer:    opts.Keyer,
		ttl:      opts.TTL,
		http:     opts.HTTP,
		notifier: opts.Notifier,
		loading:  opts.Loading,
		logger:   opts.Logger,
		headers:  opts.Headers,
	}
	if opts.BaseURL != "" {
		if err := errs.ValidateURL(opts.BaseURL); err != nil {
			return nil, err
		}
		c.base, _ = url.Parse(opts.BaseURL)
	}
	if c.cache == nil {
		c.cache = cache.NewNullCache()
	}
	if c.keyer == nil {
		c.keyer = cache.NewDefaultKeyer()
	}
	if c.http == nil {
		c.http = httputil.NewClient(0)
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.loading == nil {
		c.loading = notify.Nop{}
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	policy := httputil.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	c.fetcher = httputil.NewFetcher(c.http, policy, c.logger)
	return c, nil
}

// Cache returns the store responses are cached in.
func (c *Client) Cache() cache.Store { return c.cache }

// FetchCached reads JSON from rawURL.
//
// With useCache set, a live cache entry for (rawURL, opts) is returned
// without touching the network, and a successful response is cached for
// later calls. Transient failures are retried; any remaining failure is
// reported and returned as an envelope.
func (c *Client) FetchCached(ctx context.Context, rawURL string, opts RequestOptions, useCache bool) Response {
	target, err := c.resolve(rawURL)
	if err != nil {
		return c.handleError(ctx, err)
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	key := c.keyer.RequestKey(target, opts)
	if useCache {
		if v, ok := c.cache.Get(ctx, key); ok {
			c.logger.Debug("cache hit", "url", target)
			return Response{Data: v, Cached: true}
		}
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, target, body)
	if err != nil {
		return c.handleError(ctx, errs.Wrap(errs.ErrCodeInvalidInput, err, "build request for %s", target))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req, opts.Headers)

	resp, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return c.handleError(ctx, err)
	}
	defer resp.Body.Close()

	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return c.handleError(ctx, errs.Wrap(errs.ErrCodeInternal, err, "decode response from %s", target))
	}

	if useCache {
		c.cache.Set(ctx, key, data, c.ttl)
	}
	return Response{Data: data}
}

// PostForm sends fields as a multipart form in a single POST to rawURL.
//
// With showLoading set the loading indicator is shown for the duration of
// the call and hidden on every exit path. A successful post sweeps expired
// entries from the cache. Failures are reported and returned as an envelope.
func (c *Client) PostForm(ctx context.Context, rawURL string, fields map[string]string, showLoading bool) Response {
	if showLoading {
		c.loading.Show()
		defer c.loading.Hide()
	}

	target, err := c.resolve(rawURL)
	if err != nil {
		return c.handleError(ctx, err)
	}

	body, contentType, err := encodeForm(fields)
	if err != nil {
		return c.handleError(ctx, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return c.handleError(ctx, errs.Wrap(errs.ErrCodeInvalidInput, err, "build request for %s", target))
	}
	c.applyHeaders(req, nil)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.handleError(ctx, errs.Transient(0, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.handleError(ctx, errs.Transient(0, err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return c.handleError(ctx, statusError(resp.StatusCode, raw))
	}

	var data any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return c.handleError(ctx, errs.Wrap(errs.ErrCodeInternal, err, "decode response from %s", target))
		}
	}

	c.cache.ClearExpired(ctx)
	return Response{Data: data}
}

// handleError is the single exit for failed requests.
func (c *Client) handleError(ctx context.Context, err error) Response {
	c.logger.Error("request failed", "code", errs.GetCode(err), "err", err)
	c.notifier.Notify(DefaultErrorMessage, notify.SeverityError, ErrorNoticeDuration)
	return Response{Failure: errs.NewEnvelope(err, DefaultErrorMessage)}
}

func (c *Client) resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.Wrap(errs.ErrCodeInvalidInput, err, "invalid URL %q", rawURL)
	}
	if !u.IsAbs() {
		if c.base == nil {
			return "", errs.New(errs.ErrCodeInvalidInput, "relative URL %q without a base URL", rawURL)
		}
		u = c.base.ResolveReference(u)
	}
	if err := errs.ValidateURL(u.String()); err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) applyHeaders(req *http.Request, extra map[string]string) {
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}

// encodeForm writes fields in key order so identical input gives identical bodies.
func encodeForm(fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		if err := errs.ValidateFieldName(k); err != nil {
			return nil, "", err
		}
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", errs.Wrap(errs.ErrCodeInternal, err, "encode field %q", k)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errs.Wrap(errs.ErrCodeInternal, err, "encode form")
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// statusError classifies a failed post, keeping the server's message when
// the body is a JSON {"error": ...} object.
func statusError(status int, body []byte) error {
	var e *errs.Error
	if status >= http.StatusInternalServerError {
		e = errs.Transient(status, nil)
	} else {
		e = errs.ClientError(status)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		e.Message += ": " + payload.Error
	}
	return e
}

package offline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/neonfeed/pkg/bucket"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
	"github.com/matzehuels/neonfeed/pkg/httputil"
	"github.com/matzehuels/neonfeed/pkg/observability"
)

// State is a worker lifecycle state.
type State string

// Lifecycle states, in order.
const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

const (
	// DefaultPrefix names the buckets: "<prefix>-<version>" and
	// "<prefix>-runtime-<version>".
	DefaultPrefix = "neonfeed"

	// DefaultVersion is the bucket version.
	DefaultVersion = "v1"

	// SyncTag is the background sync tag used for queued offline actions.
	SyncTag = "sync-actions"

	installConcurrency = 4
)

// DefaultAssets is the static manifest cached at install time.
var DefaultAssets = []string{
	"/",
	"/static/neon-theme.css",
	"/static/neon-interactions.js",
	"/static/app-utils.js",
	"/feed",
	"/explore",
}

// Config describes a worker version.
type Config struct {
	Origin  string   // Absolute origin URL, e.g. http://localhost:5000
	Prefix  string   // Bucket name prefix; defaults to DefaultPrefix
	Version string   // Bucket version; defaults to DefaultVersion
	Assets  []string // Install manifest; defaults to DefaultAssets
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if len(c.Assets) == 0 {
		c.Assets = DefaultAssets
	}
	return c
}

// StaticBucket returns the install-time bucket name.
func (c Config) StaticBucket() string {
	c = c.withDefaults()
	return c.Prefix + "-" + c.Version
}

// RuntimeBucket returns the runtime bucket name.
func (c Config) RuntimeBucket() string {
	c = c.withDefaults()
	return c.Prefix + "-runtime-" + c.Version
}

// Info is a snapshot of a worker.
type Info struct {
	ID            string `json:"id"`
	Version       string `json:"version"`
	State         State  `json:"state"`
	StaticBucket  string `json:"static_bucket"`
	RuntimeBucket string `json:"runtime_bucket"`
}

// Worker is one version of the offline layer.
type Worker struct {
	id      string
	cfg     Config
	origin  *url.URL
	store   bucket.Store
	network httputil.Doer
	logger  *log.Logger

	mu    sync.RWMutex
	state State

	writes sync.WaitGroup
}

// NewWorker creates a worker in the parsed state. network performs real
// requests and should not follow redirects; a nil network uses
// httputil.NewProxyClient.
func NewWorker(cfg Config, store bucket.Store, network httputil.Doer, logger *log.Logger) (*Worker, error) {
	cfg = cfg.withDefaults()
	if err := errs.ValidateURL(cfg.Origin); err != nil {
		return nil, err
	}
	for _, a := range cfg.Assets {
		if err := errs.ValidateAssetPath(a); err != nil {
			return nil, err
		}
	}
	for _, name := range []string{cfg.StaticBucket(), cfg.RuntimeBucket()} {
		if err := errs.ValidateBucketName(name); err != nil {
			return nil, err
		}
	}
	if store == nil {
		return nil, errs.New(errs.ErrCodeInvalidInput, "worker requires a bucket store")
	}
	if network == nil {
		network = httputil.NewProxyClient(0)
	}
	if logger == nil {
		logger = log.Default()
	}

	origin, _ := url.Parse(cfg.Origin)
	id := uuid.NewString()
	return &Worker{
		id:      id,
		cfg:     cfg,
		origin:  origin,
		store:   store,
		network: network,
		logger:  logger.With("worker", id[:8], "version", cfg.Version),
		state:   StateParsed,
	}, nil
}

// ID returns the worker's unique id.
func (w *Worker) ID() string { return w.id }

// Config returns the worker's configuration with defaults applied.
func (w *Worker) Config() Config { return w.cfg }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() Info {
	return Info{
		ID:            w.id,
		Version:       w.cfg.Version,
		State:         w.State(),
		StaticBucket:  w.cfg.StaticBucket(),
		RuntimeBucket: w.cfg.RuntimeBucket(),
	}
}

func (w *Worker) transition(ctx context.Context, from []State, to State) error {
	w.mu.Lock()
	prev := w.state
	allowed := len(from) == 0
	for _, s := range from {
		if s == prev {
			allowed = true
			break
		}
	}
	if !allowed {
		w.mu.Unlock()
		return errs.New(errs.ErrCodeInvalidInput, "worker %s cannot move from %s to %s", w.id, prev, to)
	}
	w.state = to
	w.mu.Unlock()

	w.logger.Debug("state change", "from", prev, "to", to)
	observability.Worker().OnStateChange(ctx, w.id, w.cfg.Version, string(prev), string(to))
	return nil
}

// Install fetches every manifest asset in parallel and stores them in the
// static bucket. If any fetch fails (network error or non-2xx status) the
// bucket is not written, the worker becomes redundant and an
// INSTALL_FAILED error is returned.
func (w *Worker) Install(ctx context.Context) error {
	if err := w.transition(ctx, []State{StateParsed}, StateInstalling); err != nil {
		return err
	}

	entries, err := w.fetchAssets(ctx)
	if err == nil {
		if perr := w.store.PutAll(ctx, w.cfg.StaticBucket(), entries); perr != nil {
			err = errs.Wrap(errs.ErrCodeInstallFailed, perr, "store static assets")
		}
	}
	if err != nil {
		w.logger.Error("install failed", "err", err)
		w.transition(ctx, nil, StateRedundant)
		return err
	}

	w.logger.Info("installed", "bucket", w.cfg.StaticBucket(), "assets", len(entries))
	return w.transition(ctx, []State{StateInstalling}, StateInstalled)
}

func (w *Worker) fetchAssets(ctx context.Context) (map[string]bucket.Entry, error) {
	results := make([]bucket.Entry, len(w.cfg.Assets))
	keys := make([]string, len(w.cfg.Assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, asset := range w.cfg.Assets {
		g.Go(func() error {
			target := w.origin.ResolveReference(&url.URL{Path: asset}).String()
			entry, err := w.fetchAsset(gctx, target)
			if err != nil {
				return err
			}
			results[i] = entry
			keys[i] = target
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make(map[string]bucket.Entry, len(results))
	for i, e := range results {
		entries[keys[i]] = e
	}
	return entries, nil
}

func (w *Worker) fetchAsset(ctx context.Context, target string) (bucket.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return bucket.Entry{}, errs.Wrap(errs.ErrCodeInstallFailed, err, "build request for %s", target)
	}
	resp, err := w.network.Do(req)
	if err != nil {
		return bucket.Entry{}, errs.Wrap(errs.ErrCodeInstallFailed, err, "fetch %s", target)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return bucket.Entry{}, errs.New(errs.ErrCodeInstallFailed, "fetch %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return bucket.Entry{}, errs.Wrap(errs.ErrCodeInstallFailed, err, "read %s", target)
	}
	return bucket.NewEntry(resp, body), nil
}

// Activate deletes every bucket other than this version's static and
// runtime buckets. Failures to delete an old bucket are logged; the stale
// bucket is retried on the next activation.
func (w *Worker) Activate(ctx context.Context) error {
	if err := w.transition(ctx, []State{StateInstalled}, StateActivating); err != nil {
		return err
	}

	keep := map[string]bool{w.cfg.StaticBucket(): true, w.cfg.RuntimeBucket(): true}
	names, err := w.store.Names(ctx)
	if err != nil {
		w.logger.Warn("list buckets", "err", err)
	}
	for _, name := range names {
		if keep[name] {
			continue
		}
		if _, err := w.store.DeleteBucket(ctx, name); err != nil {
			w.logger.Warn("delete old bucket", "bucket", name, "err", err)
			continue
		}
		w.logger.Info("deleted old bucket", "bucket", name)
	}

	return w.transition(ctx, []State{StateActivating}, StateActivated)
}

// retire marks the worker redundant after a newer worker took over.
func (w *Worker) retire(ctx context.Context) {
	w.transition(ctx, nil, StateRedundant)
}

// Sync handles a background sync event. Queued offline actions are not
// replayed yet, so every tag is acknowledged without work.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	w.logger.Debug("sync", "tag", tag)
	return nil
}

// Wait blocks until background runtime-bucket writes have finished.
func (w *Worker) Wait() {
	w.writes.Wait()
}

// Fetch answers req, which must be a client request with an absolute URL.
//
// An error is returned only for requests that are not intercepted and whose
// network call fails; intercepted requests always get a response.
func (w *Worker) Fetch(req *http.Request) (*http.Response, error) {
	resp, _, err := w.fetch(req)
	return resp, err
}

// fetch is Fetch plus the source that produced the response.
func (w *Worker) fetch(req *http.Request) (*http.Response, string, error) {
	ctx := req.Context()
	start := time.Now()
	target := req.URL.String()

	if req.Method != http.MethodGet || !w.sameOrigin(req.URL) {
		resp, err := w.network.Do(req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		observability.Worker().OnFetch(ctx, target, observability.SourcePassthrough, status, time.Since(start))
		return resp, observability.SourcePassthrough, err
	}

	key := bucket.Key(req)
	if resp, ok := w.match(ctx, req, key); ok {
		observability.Worker().OnFetch(ctx, target, observability.SourceCache, resp.StatusCode, time.Since(start))
		return resp, observability.SourceCache, nil
	}

	resp, err := w.fromNetwork(req, key)
	if err == nil {
		observability.Worker().OnFetch(ctx, target, observability.SourceNetwork, resp.StatusCode, time.Since(start))
		return resp, observability.SourceNetwork, nil
	}

	if isNavigation(req) {
		root := w.origin.ResolveReference(&url.URL{Path: "/"}).String()
		if resp, ok := w.match(ctx, req, root); ok {
			w.logger.Debug("offline, serving cached root", "url", target)
			observability.Worker().OnFetch(ctx, target, observability.SourceFallback, resp.StatusCode, time.Since(start))
			return resp, observability.SourceFallback, nil
		}
	}

	w.logger.Warn("offline", "err", errs.OfflineUnavailable(target, err))
	observability.Worker().OnFetch(ctx, target, observability.SourceOffline, http.StatusServiceUnavailable, time.Since(start))
	return offlineResponse(req), observability.SourceOffline, nil
}

// match looks key up in the static bucket, then the runtime bucket.
func (w *Worker) match(ctx context.Context, req *http.Request, key string) (*http.Response, bool) {
	for _, name := range []string{w.cfg.StaticBucket(), w.cfg.RuntimeBucket()} {
		e, ok, err := w.store.Match(ctx, name, key)
		if err != nil {
			w.logger.Warn("bucket lookup", "bucket", name, "err", err)
			continue
		}
		if ok {
			return e.Response(req), true
		}
	}
	return nil, false
}

// fromNetwork fetches req and, when the response is shareable, schedules a
// copy into the runtime bucket. The returned response carries the full body.
func (w *Worker) fromNetwork(req *http.Request, key string) (*http.Response, error) {
	resp, err := w.network.Do(req)
	if err != nil {
		return nil, err
	}
	if !cacheable(req, resp) {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := bucket.NewEntry(resp, body)
	w.writes.Add(1)
	go func() {
		defer w.writes.Done()
		ctx := context.WithoutCancel(req.Context())
		err := w.store.Put(ctx, w.cfg.RuntimeBucket(), key, entry)
		observability.Worker().OnBucketWrite(ctx, w.cfg.RuntimeBucket(), key, err)
		if err != nil {
			w.logger.Warn("runtime cache write failed", "url", key, "err", err)
		}
	}()
	return resp, nil
}

func (w *Worker) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, w.origin.Scheme) && strings.EqualFold(u.Host, w.origin.Host)
}

// cacheable reports whether resp may be stored in the runtime bucket, which
// every client of the worker shares. Only an unredirected 200 answering an
// anonymous request, and not marked private by the origin, qualifies.
func cacheable(req *http.Request, resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Request != nil && resp.Request.URL != nil && resp.Request.URL.String() != req.URL.String() {
		return false
	}
	if req.Header.Get("Cookie") != "" || req.Header.Get("Authorization") != "" {
		return false
	}
	if len(resp.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	cc := strings.ToLower(strings.Join(resp.Header.Values("Cache-Control"), ","))
	return !strings.Contains(cc, "private") && !strings.Contains(cc, "no-store")
}

// isNavigation reports whether req asks for a top-level document.
func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" || req.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func offlineResponse(req *http.Request) *http.Response {
	const body = "Offline"
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

package offline

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
	"github.com/matzehuels/neonfeed/pkg/httputil"
	"github.com/matzehuels/neonfeed/pkg/notify"
	"github.com/matzehuels/neonfeed/pkg/observability"
)

// Connectivity notices.
const (
	MessageOnline  = "You are back online!"
	MessageOffline = "You are offline. Some features may not work."
)

// hopHeaders are not forwarded by the proxy.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Scope routes requests for one origin to its controlling worker.
//
// Scope implements http.Handler: incoming paths are resolved against the
// origin and answered by the controller, or by the network when no worker
// controls the scope yet.
type Scope struct {
	origin   *url.URL
	network  httputil.Doer
	notifier notify.Notifier
	logger   *log.Logger

	mu         sync.RWMutex
	controller *Worker
	online     bool
}

// NewScope creates an uncontrolled scope for origin.
func NewScope(origin string, network httputil.Doer, notifier notify.Notifier, logger *log.Logger) (*Scope, error) {
	if err := errs.ValidateURL(origin); err != nil {
		return nil, err
	}
	if network == nil {
		network = httputil.NewProxyClient(0)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = log.Default()
	}
	u, _ := url.Parse(origin)
	return &Scope{origin: u, network: network, notifier: notifier, logger: logger, online: true}, nil
}

// Origin returns the scope's origin URL.
func (s *Scope) Origin() string { return s.origin.String() }

// Controller returns the worker handling requests, or nil.
func (s *Scope) Controller() *Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controller
}

// Register installs and activates w, then makes it the controller. The
// previous controller is retired. If installation fails the previous
// controller stays in charge and the error is returned.
func (s *Scope) Register(ctx context.Context, w *Worker) error {
	if w.origin.Scheme != s.origin.Scheme || w.origin.Host != s.origin.Host {
		return errs.New(errs.ErrCodeInvalidInput, "worker origin %s does not match scope %s", w.origin, s.origin)
	}
	if err := w.Install(ctx); err != nil {
		return err
	}
	if err := w.Activate(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.controller
	s.controller = w
	s.mu.Unlock()

	if prev != nil && prev != w {
		prev.retire(ctx)
		s.logger.Info("replaced worker", "old", prev.Info().Version, "new", w.cfg.Version)
	}
	return nil
}

// Fetch answers a client request through the controller, or the network
// when the scope is not controlled.
func (s *Scope) Fetch(req *http.Request) (*http.Response, error) {
	w := s.Controller()
	if w == nil {
		resp, err := s.network.Do(req)
		s.observe(err == nil)
		if resp != nil {
			observability.Worker().OnFetch(req.Context(), req.URL.String(), observability.SourcePassthrough, resp.StatusCode, 0)
		}
		return resp, err
	}

	resp, source, err := w.fetch(req)
	switch source {
	case observability.SourceNetwork:
		s.observe(true)
	case observability.SourceFallback, observability.SourceOffline:
		s.observe(false)
	case observability.SourcePassthrough:
		s.observe(err == nil)
	}
	return resp, err
}

// Online reports whether the last network access succeeded.
func (s *Scope) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// observe records a network outcome and notifies on transitions.
func (s *Scope) observe(ok bool) {
	s.mu.Lock()
	changed := s.online != ok
	s.online = ok
	s.mu.Unlock()

	if !changed {
		return
	}
	if ok {
		s.notifier.Notify(MessageOnline, notify.SeveritySuccess, notify.DefaultDuration(notify.SeveritySuccess))
	} else {
		s.notifier.Notify(MessageOffline, notify.SeverityWarning, notify.DefaultDuration(notify.SeverityWarning))
	}
}

// ServeHTTP proxies r to the origin through the scope.
func (s *Scope) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := s.origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	out.ContentLength = r.ContentLength

	resp, err := s.Fetch(out)
	if err != nil {
		s.logger.Warn("proxy request failed", "method", r.Method, "url", target, "err", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	if loc := header.Get("Location"); loc != "" {
		header.Set("Location", s.localLocation(loc))
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// localLocation rewrites a redirect target on the origin to a path on the
// proxy. Other targets are returned unchanged.
func (s *Scope) localLocation(loc string) string {
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() || u.Scheme != s.origin.Scheme || u.Host != s.origin.Host {
		return loc
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return (&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery, Fragment: u.Fragment}).String()
}

var _ http.Handler = (*Scope)(nil)

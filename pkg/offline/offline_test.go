package offline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/neonfeed/pkg/bucket"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

// countingDoer records every request sent to the network.
type countingDoer struct {
	inner *http.Client
	mu    sync.Mutex
	paths []string
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	d.paths = append(d.paths, req.Method+" "+req.URL.Path)
	d.mu.Unlock()
	return d.inner.Do(req)
}

func (d *countingDoer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.paths)
}

// newOrigin serves the default manifest plus a few dynamic pages.
// Paths listed in missing answer 404.
func newOrigin(t *testing.T, missing ...string) *httptest.Server {
	t.Helper()
	skip := map[string]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skip[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Path {
		case "/", "/feed", "/explore", "/profile/neo":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, "<html>"+r.URL.Path+"</html>")
		case "/static/neon-theme.css", "/static/neon-interactions.js", "/static/app-utils.js":
			io.WriteString(w, "asset "+r.URL.Path)
		case "/api/like":
			io.WriteString(w, `{"liked":true}`)
		case "/gone":
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

func newTestWorker(t *testing.T, origin string, store bucket.Store, net *countingDoer, version string) *Worker {
	t.Helper()
	w, err := NewWorker(Config{Origin: origin, Version: version}, store, net, quietLogger())
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

func get(t *testing.T, w interface {
	Fetch(*http.Request) (*http.Response, error)
}, url string, header http.Header) (int, string, http.Header) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := w.Fetch(req)
	if err != nil {
		t.Fatalf("Fetch(%s): %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), resp.Header
}

func TestConfigBuckets(t *testing.T) {
	c := Config{}
	if c.StaticBucket() != "neonfeed-v1" || c.RuntimeBucket() != "neonfeed-runtime-v1" {
		t.Errorf("buckets = %s, %s", c.StaticBucket(), c.RuntimeBucket())
	}
	c = Config{Prefix: "app", Version: "v7"}
	if c.StaticBucket() != "app-v7" || c.RuntimeBucket() != "app-runtime-v7" {
		t.Errorf("buckets = %s, %s", c.StaticBucket(), c.RuntimeBucket())
	}
}

func TestNewWorker_Validation(t *testing.T) {
	store := bucket.NewMemoryStore()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no origin", Config{}},
		{"relative origin", Config{Origin: "localhost:5000"}},
		{"bad asset", Config{Origin: "http://localhost:5000", Assets: []string{"feed"}}},
		{"bad version", Config{Origin: "http://localhost:5000", Version: "v/1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWorker(tt.cfg, store, nil, quietLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := NewWorker(Config{Origin: "http://localhost:5000"}, nil, nil, quietLogger()); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestInstallActivate(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t)
	store := bucket.NewMemoryStore()
	net := &countingDoer{inner: origin.Client()}

	// Leftovers from an older version and an unrelated bucket.
	old := bucket.Entry{URL: origin.URL + "/", Status: 200, Body: []byte("old")}
	store.Put(ctx, "neonfeed-v0", origin.URL+"/", old)
	store.Put(ctx, "neonfeed-runtime-v0", origin.URL+"/feed", old)
	store.Put(ctx, "neonfeed-runtime-v1", origin.URL+"/explore", old)

	w := newTestWorker(t, origin.URL, store, net, "v1")
	if w.State() != StateParsed {
		t.Fatalf("initial state = %s", w.State())
	}

	if err := w.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if w.State() != StateInstalled {
		t.Errorf("state after install = %s", w.State())
	}
	if net.count() != len(DefaultAssets) {
		t.Errorf("install fetched %d assets, want %d", net.count(), len(DefaultAssets))
	}

	keys, _ := store.Keys(ctx, "neonfeed-v1")
	var want []string
	for _, a := range []string{"/", "/explore", "/feed", "/static/app-utils.js", "/static/neon-interactions.js", "/static/neon-theme.css"} {
		want = append(want, origin.URL+a)
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("static keys mismatch (-want +got):\n%s", diff)
	}

	if err := w.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if w.State() != StateActivated {
		t.Errorf("state after activate = %s", w.State())
	}
	names, _ := store.Names(ctx)
	if diff := cmp.Diff([]string{"neonfeed-runtime-v1", "neonfeed-v1"}, names); diff != "" {
		t.Errorf("buckets after activate (-want +got):\n%s", diff)
	}

	// Lifecycle steps do not repeat.
	if err := w.Install(ctx); err == nil {
		t.Error("second Install should fail")
	}
}

func TestInstallFailsWithoutPartialBucket(t *testing.T) {
	ctx := context.Background()
	origin := newOrigin(t, "/static/app-utils.js")
	store := bucket.NewMemoryStore()
	w := newTestWorker(t, origin.URL, store, &countingDoer{inner: origin.Client()}, "v1")

	err := w.Install(ctx)
	if !errs.Is(err, errs.ErrCodeInstallFailed) {
		t.Fatalf("Install error = %v, want INSTALL_FAILED", err)
	}
	if w.State() != StateRedundant {
		t.Errorf("state = %s, want redundant", w.State())
	}
	keys, _ := store.Keys(ctx, "neonfeed-v1")
	if len(keys) != 0 {
		t.Errorf("static bucket partially populated: %v", keys)
	}
	if err := w.Activate(ctx); err == nil {
		t.Error("Activate after failed install should fail")
	}
}

func TestInstallFailsWhenOriginDown(t *testing.T) {
	origin := newOrigin(t)
	origin.Close()
	store := bucket.NewMemoryStore()
	w := newTestWorker(t, origin.URL, store, &countingDoer{inner: origin.Client()}, "v1")

	if err := w.Install(context.Background()); !errs.Is(err, errs.ErrCodeInstallFailed) {
		t.Fatalf("Install error = %v, want INSTALL_FAILED", err)
	}
	names, _ := store.Names(context.Background())
	if len(names) != 0 {
		t.Errorf("buckets = %v, want none", names)
	}
}

func activeWorker(t *testing.T) (*Worker, *httptest.Server, *countingDoer, bucket.Store) {
	t.Helper()
	ctx := context.Background()
	origin := newOrigin(t)
	store := bucket.NewMemoryStore()
	net := &countingDoer{inner: origin.Client()}
	w := newTestWorker(t, origin.URL, store, net, "v1")
	if err := w.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Activate(ctx); err != nil {
		t.Fatal(err)
	}
	return w, origin, net, store
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	w, origin, net, _ := activeWorker(t)
	before := net.count()

	status, body, _ := get(t, w, origin.URL+"/feed", nil)
	if status != 200 || body != "<html>/feed</html>" {
		t.Errorf("got %d %q", status, body)
	}
	if net.count() != before {
		t.Errorf("network called %d times for a cached request", net.count()-before)
	}
}

func TestFetch_MissStoresInRuntimeBucket(t *testing.T) {
	w, origin, net, store := activeWorker(t)
	ctx := context.Background()
	before := net.count()

	status, body, _ := get(t, w, origin.URL+"/profile/neo", nil)
	if status != 200 || body != "<html>/profile/neo</html>" {
		t.Fatalf("got %d %q", status, body)
	}
	w.Wait()

	if _, ok, _ := store.Match(ctx, "neonfeed-runtime-v1", origin.URL+"/profile/neo"); !ok {
		t.Fatal("response not stored in runtime bucket")
	}

	status, body, _ = get(t, w, origin.URL+"/profile/neo", nil)
	if status != 200 || body != "<html>/profile/neo</html>" {
		t.Errorf("cached got %d %q", status, body)
	}
	if got := net.count() - before; got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}
}

func TestFetch_NonOKNotStored(t *testing.T) {
	w, origin, net, store := activeWorker(t)
	before := net.count()

	status, _, _ := get(t, w, origin.URL+"/gone", nil)
	if status != http.StatusNotFound {
		t.Errorf("status = %d", status)
	}
	w.Wait()
	if _, ok, _ := store.Match(context.Background(), "neonfeed-runtime-v1", origin.URL+"/gone"); ok {
		t.Error("404 stored in runtime bucket")
	}
	get(t, w, origin.URL+"/gone", nil)
	if got := net.count() - before; got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}
}

func TestFetch_PassThrough(t *testing.T) {
	w, origin, net, store := activeWorker(t)
	other := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		io.WriteString(rw, "elsewhere")
	}))
	defer other.Close()
	ctx := context.Background()

	// Non-GET goes to the network each time.
	before := net.count()
	for range 2 {
		req, _ := http.NewRequest(http.MethodPost, origin.URL+"/feed", nil)
		resp, err := w.Fetch(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if got := net.count() - before; got != 2 {
		t.Errorf("POST network calls = %d, want 2", got)
	}

	// Cross-origin GET is not cached.
	status, body, _ := get(t, w, other.URL+"/x", nil)
	if status != 200 || body != "elsewhere" {
		t.Errorf("cross-origin got %d %q", status, body)
	}
	w.Wait()
	names, _ := store.Names(ctx)
	for _, n := range names {
		keys, _ := store.Keys(ctx, n)
		for _, k := range keys {
			if k == other.URL+"/x" {
				t.Errorf("cross-origin response stored in %s", n)
			}
		}
	}
}

func TestFetch_Offline(t *testing.T) {
	w, origin, _, _ := activeWorker(t)
	origin.Close()

	tests := []struct {
		name       string
		path       string
		header     http.Header
		wantStatus int
		wantBody   string
	}{
		{"cached asset", "/static/neon-theme.css", nil, 200, "asset /static/neon-theme.css"},
		{"navigation by mode", "/profile/neo", http.Header{"Sec-Fetch-Mode": {"navigate"}}, 200, "<html>/</html>"},
		{"navigation by accept", "/settings", http.Header{"Accept": {"text/html,application/xhtml+xml"}}, 200, "<html>/</html>"},
		{"non-navigation", "/api/like", http.Header{"Accept": {"application/json"}}, 503, "Offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, header := get(t, w, origin.URL+tt.path, tt.header)
			if status != tt.wantStatus || body != tt.wantBody {
				t.Errorf("got %d %q, want %d %q", status, body, tt.wantStatus, tt.wantBody)
			}
			if status == 503 && header.Get("Content-Type") != "text/plain; charset=utf-8" {
				t.Errorf("Content-Type = %q", header.Get("Content-Type"))
			}
		})
	}
}

func TestFetch_OfflineWithoutRoot(t *testing.T) {
	origin := newOrigin(t)
	w := newTestWorker(t, origin.URL, bucket.NewMemoryStore(), &countingDoer{inner: origin.Client()}, "v1")
	origin.Close()

	status, body, _ := get(t, w, origin.URL+"/feed", http.Header{"Sec-Fetch-Dest": {"document"}})
	if status != http.StatusServiceUnavailable || body != "Offline" {
		t.Errorf("got %d %q, want 503 Offline", status, body)
	}
}

func TestSync(t *testing.T) {
	w, _, net, _ := activeWorker(t)
	before := net.count()
	if err := w.Sync(context.Background(), SyncTag); err != nil {
		t.Errorf("Sync: %v", err)
	}
	if net.count() != before {
		t.Error("Sync should not touch the network")
	}
}

func TestCacheable(t *testing.T) {
	const target = "http://localhost/feed"
	tests := []struct {
		name      string
		reqHeader http.Header
		status    int
		header    http.Header
		finalURL  string
		want      bool
	}{
		{name: "anonymous 200", status: 200, want: true},
		{name: "not found", status: 404},
		{name: "redirect", status: 302, header: http.Header{"Location": {"/login"}}},
		{name: "followed redirect", status: 200, finalURL: "http://localhost/login"},
		{name: "cookie", status: 200, reqHeader: http.Header{"Cookie": {"user=alice"}}},
		{name: "authorization", status: 200, reqHeader: http.Header{"Authorization": {"Bearer x"}}},
		{name: "sets cookie", status: 200, header: http.Header{"Set-Cookie": {"csrf=1"}}},
		{name: "private", status: 200, header: http.Header{"Cache-Control": {"Private, max-age=60"}}},
		{name: "no-store", status: 200, header: http.Header{"Cache-Control": {"no-store"}}},
		{name: "public max-age", status: 200, header: http.Header{"Cache-Control": {"public, max-age=60"}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, target, nil)
			for k, v := range tt.reqHeader {
				req.Header[k] = v
			}
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			final := req
			if tt.finalURL != "" {
				final, _ = http.NewRequest(http.MethodGet, tt.finalURL, nil)
			}
			resp := &http.Response{StatusCode: tt.status, Header: header, Request: final}
			if got := cacheable(req, resp); got != tt.want {
				t.Errorf("cacheable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetch_PrivateResponsesNotShared(t *testing.T) {
	ctx := context.Background()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			io.WriteString(w, "<html>/</html>")
		case "/inbox":
			user := "anonymous"
			if c, err := r.Cookie("user"); err == nil {
				user = c.Value
			}
			http.SetCookie(w, &http.Cookie{Name: "csrf", Value: "token-" + user})
			io.WriteString(w, "inbox of "+user)
		case "/settings":
			w.Header().Set("Cache-Control", "private")
			io.WriteString(w, "settings")
		case "/drafts":
			w.Header().Set("Cache-Control", "no-store")
			io.WriteString(w, "drafts")
		default:
			http.NotFound(w, r)
		}
	}))
	defer origin.Close()

	store := bucket.NewMemoryStore()
	net := &countingDoer{inner: origin.Client()}
	w, err := NewWorker(Config{Origin: origin.URL, Assets: []string{"/"}}, store, net, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Install(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	_, body, header := get(t, w, origin.URL+"/inbox", http.Header{"Cookie": {"user=alice"}})
	if body != "inbox of alice" || header.Get("Set-Cookie") == "" {
		t.Fatalf("alice got %q, Set-Cookie %q", body, header.Get("Set-Cookie"))
	}
	w.Wait()

	_, body, header = get(t, w, origin.URL+"/inbox", http.Header{"Cookie": {"user=bob"}})
	if body != "inbox of bob" {
		t.Errorf("bob got %q", body)
	}
	if got := header.Get("Set-Cookie"); got != "csrf=token-bob" {
		t.Errorf("bob Set-Cookie = %q", got)
	}

	get(t, w, origin.URL+"/inbox", nil)
	get(t, w, origin.URL+"/settings", nil)
	get(t, w, origin.URL+"/drafts", nil)
	w.Wait()

	for _, path := range []string{"/inbox", "/settings", "/drafts"} {
		if _, ok, _ := store.Match(ctx, "neonfeed-runtime-v1", origin.URL+path); ok {
			t.Errorf("%s stored in runtime bucket", path)
		}
	}
	if got := net.count(); got != 6 {
		t.Errorf("network calls = %d, want 6", got)
	}
}

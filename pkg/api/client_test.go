package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/neonfeed/pkg/cache"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
	"github.com/matzehuels/neonfeed/pkg/httputil"
	"github.com/matzehuels/neonfeed/pkg/notify"
)

// spyStore wraps a TTLCache and counts ClearExpired calls.
type spyStore struct {
	*cache.TTLCache
	sweeps atomic.Int32
}

func (s *spyStore) ClearExpired(ctx context.Context) {
	s.sweeps.Add(1)
	s.TTLCache.ClearExpired(ctx)
}

func newTestClient(t *testing.T, server *httptest.Server) (*Client, *spyStore, *notify.Recorder) {
	t.Helper()
	store := &spyStore{TTLCache: cache.NewTTLCache(cache.Options{SweepInterval: -1})}
	t.Cleanup(func() { store.Close() })

	rec := &notify.Recorder{}
	policy := httputil.Policy{MaxRetries: 3, BaseDelay: time.Millisecond}
	c, err := NewClient(Options{
		BaseURL:  server.URL,
		Cache:    store,
		HTTP:     server.Client(),
		Policy:   &policy,
		Notifier: rec,
		Loading:  rec,
		Logger:   log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, store, rec
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "localhost:5000"})
	if !errs.Is(err, errs.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestFetchCached_SecondCallServedFromCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"posts": []any{"a", "b"}})
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, server)
	ctx := context.Background()

	first := c.FetchCached(ctx, "/api/feed", RequestOptions{}, true)
	second := c.FetchCached(ctx, "/api/feed", RequestOptions{}, true)

	if !first.OK() || !second.OK() {
		t.Fatalf("unexpected failure: %+v %+v", first.Failure, second.Failure)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}
	if diff := cmp.Diff(first.Data, second.Data); diff != "" {
		t.Errorf("cached data mismatch (-first +second):\n%s", diff)
	}
	if first.Cached || !second.Cached {
		t.Errorf("Cached flags = %v, %v; want false, true", first.Cached, second.Cached)
	}
}

func TestFetchCached_Bypass(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, server)
	ctx := context.Background()

	c.FetchCached(ctx, "/api/feed", RequestOptions{}, false)
	c.FetchCached(ctx, "/api/feed", RequestOptions{}, false)

	if got := calls.Load(); got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}
}

func TestFetchCached_OptionsAreKeyed(t *testing.T) {
	var calls atomic.Int32
	var lastLang atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		lastLang.Store(r.Header.Get("Accept-Language"))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, server)
	ctx := context.Background()

	c.FetchCached(ctx, "/api/explore", RequestOptions{Headers: map[string]string{"Accept-Language": "en"}}, true)
	c.FetchCached(ctx, "/api/explore", RequestOptions{Headers: map[string]string{"Accept-Language": "de"}}, true)

	if got := calls.Load(); got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}
	if got := lastLang.Load(); got != "de" {
		t.Errorf("Accept-Language = %v, want de", got)
	}
}

func TestFetchCached_BodyIsSentAndKeyed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]any{
			"method":       r.Method,
			"content_type": r.Header.Get("Content-Type"),
			"echo":         string(raw),
		})
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, server)
	ctx := context.Background()

	a := RequestOptions{Method: http.MethodPost, Body: `{"q":"neon"}`}
	b := RequestOptions{Method: http.MethodPost, Body: `{"q":"glow"}`}

	first := c.FetchCached(ctx, "/api/search", a, true)
	if !first.OK() {
		t.Fatalf("unexpected failure: %+v", first.Failure)
	}
	want := map[string]any{"method": "POST", "content_type": "application/json", "echo": `{"q":"neon"}`}
	if diff := cmp.Diff(want, first.Data); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}

	if r := c.FetchCached(ctx, "/api/search", a, true); !r.Cached {
		t.Error("same body should be served from the cache")
	}
	if r := c.FetchCached(ctx, "/api/search", b, true); r.Cached {
		t.Error("different body should not share a cache entry")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}
}

func TestFetchCached_ClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	c, _, rec := newTestClient(t, server)
	resp := c.FetchCached(context.Background(), "/api/missing", RequestOptions{}, true)

	want := &errs.Envelope{Error: DefaultErrorMessage, Code: errs.ErrCodeClient, Status: http.StatusNotFound}
	if diff := cmp.Diff(want, resp.Failure); diff != "" {
		t.Errorf("Failure mismatch (-want +got):\n%s", diff)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}

	wantMsgs := []notify.Message{{Text: DefaultErrorMessage, Severity: notify.SeverityError, Duration: 3 * time.Second}}
	if diff := cmp.Diff(wantMsgs, rec.Messages()); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchCached_RetryExhaustedNotCached(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, server)
	ctx := context.Background()

	resp := c.FetchCached(ctx, "/api/feed", RequestOptions{}, true)
	if resp.OK() {
		t.Fatal("expected failure")
	}
	if resp.Failure.Code != errs.ErrCodeRetryExhausted || resp.Failure.Status != http.StatusInternalServerError {
		t.Errorf("Failure = %+v, want RETRY_EXHAUSTED with status 500", resp.Failure)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("network calls = %d, want 3", got)
	}

	c.FetchCached(ctx, "/api/feed", RequestOptions{}, true)
	if got := calls.Load(); got != 6 {
		t.Errorf("failures must not be cached: calls = %d, want 6", got)
	}
}

func TestFetchCached_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, server)
	resp := c.FetchCached(context.Background(), "/feed", RequestOptions{}, true)
	if resp.OK() || resp.Failure.Code != errs.ErrCodeInternal {
		t.Errorf("Failure = %+v, want INTERNAL_ERROR", resp.Failure)
	}
}

func TestFetchCached_RelativeWithoutBase(t *testing.T) {
	c, err := NewClient(Options{Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatal(err)
	}
	resp := c.FetchCached(context.Background(), "/api/feed", RequestOptions{}, true)
	if resp.OK() || resp.Failure.Code != errs.ErrCodeInvalidInput {
		t.Errorf("Failure = %+v, want INVALID_INPUT", resp.Failure)
	}
}

func TestPostForm_Success(t *testing.T) {
	var fields map[string]string
	var requestedWith string
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		requestedWith = r.Header.Get("X-Requested-With")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		w.Write([]byte(`{"success":true,"likes":4}`))
	}))
	defer server.Close()

	c, store, rec := newTestClient(t, server)
	resp := c.PostForm(context.Background(), "/api/posts/7/like", map[string]string{"post_id": "7", "action": "like"}, true)

	if !resp.OK() {
		t.Fatalf("unexpected failure: %+v", resp.Failure)
	}
	want := map[string]any{"success": true, "likes": float64(4)}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"post_id": "7", "action": "like"}, fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if requestedWith != "XMLHttpRequest" {
		t.Errorf("X-Requested-With = %q", requestedWith)
	}
	if shows, hides := rec.Loading(); shows != 1 || hides != 1 {
		t.Errorf("loading = %d shows, %d hides; want 1, 1", shows, hides)
	}
	if store.sweeps.Load() != 1 {
		t.Errorf("ClearExpired calls = %d, want 1", store.sweeps.Load())
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPostForm_FailuresHideLoading(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode errs.Code
		wantCall int32
	}{
		{
			name: "client error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"caption required"}`))
			},
			wantCode: errs.ErrCodeClient,
			wantCall: 1,
		},
		{
			name: "server error is not retried",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantCode: errs.ErrCodeTransient,
			wantCall: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer server.Close()

			c, store, rec := newTestClient(t, server)
			resp := c.PostForm(context.Background(), "/create", map[string]string{"caption": ""}, true)

			if resp.OK() || resp.Failure.Code != tt.wantCode {
				t.Errorf("Failure = %+v, want code %s", resp.Failure, tt.wantCode)
			}
			if resp.Failure != nil && resp.Failure.Error != DefaultErrorMessage {
				t.Errorf("Failure.Error = %q", resp.Failure.Error)
			}
			if calls.Load() != tt.wantCall {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCall)
			}
			if shows, hides := rec.Loading(); shows != 1 || hides != 1 {
				t.Errorf("loading = %d shows, %d hides; want 1, 1", shows, hides)
			}
			if store.sweeps.Load() != 0 {
				t.Error("failed post must not sweep the cache")
			}
		})
	}
}

func TestPostForm_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c, _, rec := newTestClient(t, server)
	server.Close()

	resp := c.PostForm(context.Background(), "/create", nil, false)
	if resp.OK() || resp.Failure.Code != errs.ErrCodeTransient {
		t.Errorf("Failure = %+v, want TRANSIENT", resp.Failure)
	}
	if shows, hides := rec.Loading(); shows != 0 || hides != 0 {
		t.Errorf("loading = %d shows, %d hides; want none", shows, hides)
	}
}

func TestPostForm_InvalidFieldName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	c, _, _ := newTestClient(t, server)
	resp := c.PostForm(context.Background(), "/create", map[string]string{"bad\nname": "x"}, false)
	if resp.OK() || resp.Failure.Code != errs.ErrCodeInvalidInput {
		t.Errorf("Failure = %+v, want INVALID_INPUT", resp.Failure)
	}
}

func TestResponseMarshalJSON(t *testing.T) {
	ok, _ := json.Marshal(Response{Data: map[string]int{"n": 1}})
	if string(ok) != `{"n":1}` {
		t.Errorf("ok = %s", ok)
	}
	failed, _ := json.Marshal(Response{Failure: &errs.Envelope{Error: DefaultErrorMessage}})
	if string(failed) != `{"error":"An error occurred. Please try again."}` {
		t.Errorf("failed = %s", failed)
	}
}

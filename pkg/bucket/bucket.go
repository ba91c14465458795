// Package bucket provides persistent named buckets of cached HTTP responses.
//
// A bucket maps request keys (absolute URLs) to stored responses. The
// offline worker keeps one bucket for install-time assets and one for
// responses cached at runtime; bucket names carry a version so that a new
// version can drop everything the old one stored.
//
// # Backends
//
//   - memory: process-local maps, for tests and one-shot commands
//   - file: one JSON file per entry under a directory
//   - redis: one hash per bucket plus an index set of bucket names
//   - mongo: one collection of {bucket, key} documents
//   - sqlite: one table keyed by (bucket, key)
//
// Use [Open] to select a backend from configuration.
//
// A bucket exists while it holds at least one entry. Lookups of unknown
// keys or buckets are misses, not errors.
package bucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"
)

// Entry is a stored HTTP response.
type Entry struct {
	URL      string      `json:"url" bson:"url"`
	Status   int         `json:"status" bson:"status"`
	Header   http.Header `json:"header,omitempty" bson:"header,omitempty"`
	Body     []byte      `json:"body" bson:"body"`
	StoredAt time.Time   `json:"stored_at" bson:"stored_at"`
}

// NewEntry captures resp with its already-read body. The response body
// itself is not consumed.
func NewEntry(resp *http.Response, body []byte) Entry {
	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	header := resp.Header.Clone()
	if header != nil {
		header.Del("Set-Cookie")
	}
	return Entry{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   header,
		Body:     bytes.Clone(body),
		StoredAt: time.Now().UTC(),
	}
}

// Response rebuilds an *http.Response for req from the entry.
// Each call returns an independent body.
func (e Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func (e Entry) clone() Entry {
	e.Header = e.Header.Clone()
	e.Body = bytes.Clone(e.Body)
	return e
}

// Key returns the bucket key for req: its absolute URL without fragment.
func Key(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Store is a set of named buckets.
type Store interface {
	// Names lists the existing buckets in sorted order.
	Names(ctx context.Context) ([]string, error)

	// Match returns the entry stored under key in bucket.
	Match(ctx context.Context, bucket, key string) (Entry, bool, error)

	// Put stores entry under key in bucket, replacing any previous entry.
	Put(ctx context.Context, bucket, key string, entry Entry) error

	// PutAll stores all entries in bucket. Backends with transactions
	// apply it atomically.
	PutAll(ctx context.Context, bucket string, entries map[string]Entry) error

	// Keys lists the keys in bucket in sorted order.
	Keys(ctx context.Context, bucket string) ([]string, error)

	// DeleteBucket removes bucket and reports whether it existed.
	DeleteBucket(ctx context.Context, bucket string) (bool, error)

	// Close releases the backend's resources.
	Close() error
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

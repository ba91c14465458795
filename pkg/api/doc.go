// Package api is the application's request layer: cached JSON reads and
// uncached multipart form posts.
//
// # Overview
//
// A [Client] composes a [cache.Store] with a retrying [httputil.Fetcher]:
//
//   - [Client.FetchCached]: cache-first GET with retry and JSON decoding
//   - [Client.PostForm]: single-attempt multipart POST with a loading indicator
//
// Neither call returns a Go error. Every failure is logged, reported to the
// user through a [notify.Notifier] and converted into an error envelope in
// [Response.Failure]:
//
//	resp := client.FetchCached(ctx, "/api/feed", api.RequestOptions{}, true)
//	if !resp.OK() {
//	    fmt.Println(resp.Failure.Error) // "An error occurred. Please try again."
//	}
//
// # Cache keys
//
// A cached entry is keyed by the request URL and the JSON serialization of
// its [RequestOptions], so requests differing in method or headers never
// share an entry. Only successful responses are cached.
package api

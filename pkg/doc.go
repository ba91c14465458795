// Package pkg holds the libraries behind neonfeed, the client support layer
// of the Neonfeed social app.
//
// # Overview
//
// The libraries fall into three groups:
//
//  1. Request plumbing: [errors], [httputil], [cache] and [api] turn flaky
//     JSON endpoints into cached, retried, user-friendly responses.
//  2. Offline layer: [bucket] stores response snapshots and [offline] runs a
//     versioned worker that serves them when the origin is unreachable.
//  3. Ambient: [config], [notify], [observability] and [buildinfo].
//
// # Request Flow
//
// A read goes through the API client:
//
//	api.Client.FetchCached
//	         ↓
//	    [cache] lookup (hit returns immediately)
//	         ↓
//	    [httputil] Fetcher (retries transient failures with backoff)
//	         ↓
//	    decoded JSON, cached for the TTL
//
// A page load goes through the offline scope:
//
//	offline.Scope.Fetch
//	         ↓
//	    static bucket, then runtime bucket
//	         ↓
//	    network (same-origin 200s are copied into the runtime bucket)
//	         ↓
//	    cached root for navigations, or a 503 "Offline" response
//
// # Quick Start
//
//	client, _ := api.NewClient(api.Options{
//	    BaseURL: "http://localhost:5000",
//	    Cache:   cache.NewTTLCache(cache.Options{}),
//	})
//	resp := client.FetchCached(ctx, "/api/feed", api.RequestOptions{}, true)
//	if !resp.OK() {
//	    // resp.Failure carries the user-facing message
//	}
package pkg

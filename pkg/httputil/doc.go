// Package httputil provides the retrying HTTP fetch used by the API layer.
//
// # Overview
//
//   - [Fetcher]: sends a request with bounded exponential backoff
//   - [Retry]: the generic retry loop behind it
//   - [NewClient]: an *http.Client with a per-request timeout
//
// # Retry
//
// Failures are classified with the codes from pkg/errors:
//
//   - Status below 400: success, returned immediately
//   - Status 400-499: CLIENT_ERROR, returned immediately without waiting
//   - Network error or status 500+: TRANSIENT, retried
//
// The wait before attempt i+1 is BaseDelay * 2^i with no jitter, and there
// is no wait after the final attempt. With the default policy (3 attempts,
// 1 second) a request that keeps failing waits 1s then 2s and then returns
// RETRY_EXHAUSTED wrapping the last failure:
//
//	f := httputil.NewFetcher(nil, httputil.DefaultPolicy(), logger)
//	resp, err := f.Do(ctx, req)
//	if errors.Is(err, errors.ErrCodeRetryExhausted) {
//	    status := errors.StatusOf(err) // 503, or 0 for a network failure
//	}
//
// Cancelling ctx interrupts a backoff wait; the context error is returned.
package httputil

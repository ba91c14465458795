// Package offline implements a cache-first offline layer in front of the
// application origin, modelled on a browser service worker.
//
// # Lifecycle
//
// A [Worker] moves through these states:
//
//	parsed -> installing -> installed -> activating -> activated -> redundant
//
// Install fetches the static asset manifest and stores it in the versioned
// static bucket; if any asset cannot be fetched nothing is stored and the
// worker becomes redundant. Activate deletes every bucket that does not
// belong to the worker's version. [Scope.Register] runs both steps and then
// routes all traffic to the new worker, retiring the previous one.
//
// # Fetch
//
// GET requests to the origin are answered from the static or runtime
// bucket when possible, without touching the network. Misses go to the
// network; same-origin 200 responses are copied into the runtime bucket in
// the background. When the network is unreachable a navigation request is
// answered with the cached root document and anything else with a
// 503 "Offline" response. Other requests pass through unchanged.
package offline

package cli

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/neonfeed/pkg/observability"
)

// logHooks writes observability events to the debug log.
type logHooks struct {
	logger *log.Logger
}

func (h logHooks) OnStateChange(_ context.Context, workerID, version, from, to string) {
	h.logger.Debug("worker state", "id", workerID, "version", version, "from", from, "to", to)
}

func (h logHooks) OnFetch(_ context.Context, url, source string, status int, d time.Duration) {
	h.logger.Debug("worker fetch", "url", url, "source", source, "status", status, "duration", d)
}

func (h logHooks) OnBucketWrite(_ context.Context, bucket, url string, err error) {
	if err != nil {
		h.logger.Debug("bucket write failed", "bucket", bucket, "url", url, "err", err)
		return
	}
	h.logger.Debug("bucket write", "bucket", bucket, "url", url)
}

func (h logHooks) OnCacheHit(_ context.Context, layer string) {
	h.logger.Debug("cache hit", "layer", layer)
}

func (h logHooks) OnCacheMiss(_ context.Context, layer string) {
	h.logger.Debug("cache miss", "layer", layer)
}

func (h logHooks) OnCacheSet(_ context.Context, layer string) {
	h.logger.Debug("cache set", "layer", layer)
}

func (h logHooks) OnCacheSweep(_ context.Context, layer string, removed int) {
	h.logger.Debug("cache sweep", "layer", layer, "removed", removed)
}

func (h logHooks) OnRequest(_ context.Context, method, host, path string, attempt int) {
	h.logger.Debug("http request", "method", method, "host", host, "path", path, "attempt", attempt)
}

func (h logHooks) OnResponse(_ context.Context, method, host, path string, status int, d time.Duration) {
	h.logger.Debug("http response", "method", method, "host", host, "path", path, "status", status, "duration", d)
}

func (h logHooks) OnError(_ context.Context, method, host, path string, err error) {
	h.logger.Debug("http error", "method", method, "host", host, "path", path, "err", err)
}

var (
	_ observability.WorkerHooks = logHooks{}
	_ observability.CacheHooks  = logHooks{}
	_ observability.HTTPHooks   = logHooks{}
)

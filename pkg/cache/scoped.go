package cache

// Keyer derives cache keys for API requests.
type Keyer interface {
	// RequestKey returns the key for a request to url made with options.
	// options is serialized as JSON, so equal options give equal keys.
	RequestKey(url string, options any) string
}

// DefaultKeyer hashes the URL and options into an "api:" key.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// RequestKey generates a key for API response caching.
func (DefaultKeyer) RequestKey(url string, options any) string {
	return hashKey("api", url, options)
}

// ScopedKeyer wraps a Keyer with a prefix so that several users or
// profiles can share one cache without seeing each other's entries.
//
// Example usage:
//
//	// Keys for the signed-in user only
//	userKeyer := NewScopedKeyer(NewDefaultKeyer(), "user:abc123:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// RequestKey generates a prefixed key for API response caching.
func (k *ScopedKeyer) RequestKey(url string, options any) string {
	return k.prefix + k.inner.RequestKey(url, options)
}

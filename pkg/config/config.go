// Package config loads neonfeed settings.
//
// Settings are layered, later layers winning:
//
//  1. built-in defaults ([Default])
//  2. a config file, TOML (.toml) or YAML (.yaml, .yml)
//  3. NEONFEED_* environment variables
//  4. command-line flags, applied by the caller
//
// Example config.toml:
//
//	origin = "http://localhost:5000"
//	listen = ":8080"
//
//	[retry]
//	max_retries = 3
//	base_delay_ms = 1000
//
//	[store]
//	backend = "redis"
//	redis_addr = "localhost:6379"
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/neonfeed/pkg/bucket"
	"github.com/matzehuels/neonfeed/pkg/cache"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
	"github.com/matzehuels/neonfeed/pkg/httputil"
	"github.com/matzehuels/neonfeed/pkg/offline"
)

const appName = "neonfeed"

// Config is the complete neonfeed configuration.
type Config struct {
	Origin  string  `toml:"origin" yaml:"origin" env:"NEONFEED_ORIGIN"`
	Listen  string  `toml:"listen" yaml:"listen" env:"NEONFEED_LISTEN"`
	Retry   Retry   `toml:"retry" yaml:"retry"`
	Cache   Cache   `toml:"cache" yaml:"cache"`
	Offline Offline `toml:"offline" yaml:"offline"`
	Store   Store   `toml:"store" yaml:"store"`
	HTTP    HTTP    `toml:"http" yaml:"http"`
}

// Retry configures the API layer's read retries.
type Retry struct {
	MaxRetries  int `toml:"max_retries" yaml:"max_retries" env:"NEONFEED_RETRY_MAX_RETRIES"`
	BaseDelayMs int `toml:"base_delay_ms" yaml:"base_delay_ms" env:"NEONFEED_RETRY_BASE_DELAY_MS"`
}

// Cache configures the API response cache.
type Cache struct {
	TimeoutMs       int    `toml:"timeout_ms" yaml:"timeout_ms" env:"NEONFEED_CACHE_TIMEOUT_MS"`
	SweepIntervalMs int    `toml:"sweep_interval_ms" yaml:"sweep_interval_ms" env:"NEONFEED_CACHE_SWEEP_INTERVAL_MS"`
	Namespace       string `toml:"namespace" yaml:"namespace" env:"NEONFEED_CACHE_NAMESPACE"`
}

// Offline configures the offline worker.
type Offline struct {
	Prefix  string   `toml:"prefix" yaml:"prefix" env:"NEONFEED_OFFLINE_PREFIX"`
	Version string   `toml:"version" yaml:"version" env:"NEONFEED_OFFLINE_VERSION"`
	Assets  []string `toml:"assets" yaml:"assets" env:"NEONFEED_OFFLINE_ASSETS" env-separator:","`
}

// Store configures the bucket store backend.
type Store struct {
	Backend       string `toml:"backend" yaml:"backend" env:"NEONFEED_STORE_BACKEND"`
	Dir           string `toml:"dir" yaml:"dir" env:"NEONFEED_STORE_DIR"`
	RedisAddr     string `toml:"redis_addr" yaml:"redis_addr" env:"NEONFEED_STORE_REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" yaml:"redis_password" env:"NEONFEED_STORE_REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db" yaml:"redis_db" env:"NEONFEED_STORE_REDIS_DB"`
	RedisPrefix   string `toml:"redis_prefix" yaml:"redis_prefix" env:"NEONFEED_STORE_REDIS_PREFIX"`
	MongoURI      string `toml:"mongo_uri" yaml:"mongo_uri" env:"NEONFEED_STORE_MONGO_URI"`
	MongoDatabase string `toml:"mongo_database" yaml:"mongo_database" env:"NEONFEED_STORE_MONGO_DATABASE"`
	SQLitePath    string `toml:"sqlite_path" yaml:"sqlite_path" env:"NEONFEED_STORE_SQLITE_PATH"`
}

// HTTP configures outgoing requests.
type HTTP struct {
	TimeoutSeconds int `toml:"timeout_seconds" yaml:"timeout_seconds" env:"NEONFEED_HTTP_TIMEOUT_SECONDS"`
}

// Default returns the built-in configuration.
func Default() Config {
	data := DefaultDataDir()
	return Config{
		Origin: "http://localhost:5000",
		Listen: ":8080",
		Retry: Retry{
			MaxRetries:  httputil.DefaultMaxRetries,
			BaseDelayMs: int(httputil.DefaultBaseDelay / time.Millisecond),
		},
		Cache: Cache{
			TimeoutMs:       int(cache.DefaultTTL / time.Millisecond),
			SweepIntervalMs: int(cache.DefaultSweepInterval / time.Millisecond),
		},
		Offline: Offline{
			Prefix:  offline.DefaultPrefix,
			Version: offline.DefaultVersion,
			Assets:  slices.Clone(offline.DefaultAssets),
		},
		Store: Store{
			Backend:     bucket.BackendFile,
			Dir:         filepath.Join(data, "buckets"),
			RedisPrefix: bucket.DefaultRedisPrefix,
			SQLitePath:  filepath.Join(data, "buckets.db"),
		},
		HTTP: HTTP{TimeoutSeconds: int(httputil.DefaultTimeout / time.Second)},
	}
}

// DefaultPath returns the config file read when no path is given:
// $XDG_CONFIG_HOME/neonfeed/config.toml, or ~/.config/neonfeed/config.toml.
func DefaultPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appName, "config.toml")
}

// DefaultDataDir returns $XDG_CACHE_HOME/neonfeed, or ~/.cache/neonfeed.
func DefaultDataDir() string {
	return filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), appName)
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

// Load builds the configuration from defaults, the file at path and the
// environment, then validates it. An empty path reads [DefaultPath] if it
// exists; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return Config{}, errs.Wrap(errs.ErrCodeInvalidConfig, err, "read config %s", path)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, errs.Wrap(errs.ErrCodeInvalidConfig, err, "read environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return errs.Wrap(errs.ErrCodeInvalidConfig, err, "read config %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return errs.Wrap(errs.ErrCodeInvalidConfig, err, "parse %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return errs.New(errs.ErrCodeInvalidConfig, "%s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return errs.Wrap(errs.ErrCodeInvalidConfig, err, "parse %s", path)
		}
	default:
		return errs.New(errs.ErrCodeInvalidConfig, "%s: unsupported config format %q", path, ext)
	}
	return nil
}

// Validate checks the configuration for values no component can use.
func (c Config) Validate() error {
	if err := errs.ValidateURL(c.Origin); err != nil {
		return errs.Wrap(errs.ErrCodeInvalidConfig, err, "origin")
	}
	if c.Listen == "" {
		return errs.New(errs.ErrCodeInvalidConfig, "listen address is required")
	}
	if c.Retry.MaxRetries < 1 {
		return errs.New(errs.ErrCodeInvalidConfig, "retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelayMs < 0 {
		return errs.New(errs.ErrCodeInvalidConfig, "retry.base_delay_ms cannot be negative")
	}
	if c.Cache.TimeoutMs <= 0 {
		return errs.New(errs.ErrCodeInvalidConfig, "cache.timeout_ms must be positive")
	}
	if c.Cache.SweepIntervalMs <= 0 {
		return errs.New(errs.ErrCodeInvalidConfig, "cache.sweep_interval_ms must be positive")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errs.New(errs.ErrCodeInvalidConfig, "http.timeout_seconds must be positive")
	}

	oc := c.OfflineConfig()
	for _, name := range []string{oc.StaticBucket(), oc.RuntimeBucket()} {
		if err := errs.ValidateBucketName(name); err != nil {
			return errs.Wrap(errs.ErrCodeInvalidConfig, err, "offline.prefix/version")
		}
	}
	for _, a := range c.Offline.Assets {
		if err := errs.ValidateAssetPath(a); err != nil {
			return errs.Wrap(errs.ErrCodeInvalidConfig, err, "offline.assets")
		}
	}

	switch c.Store.Backend {
	case bucket.BackendMemory:
	case bucket.BackendFile:
		if c.Store.Dir == "" {
			return errs.New(errs.ErrCodeInvalidConfig, "store.dir is required for the file backend")
		}
	case bucket.BackendRedis:
		if c.Store.RedisAddr == "" {
			return errs.New(errs.ErrCodeInvalidConfig, "store.redis_addr is required for the redis backend")
		}
	case bucket.BackendMongo:
		if c.Store.MongoURI == "" {
			return errs.New(errs.ErrCodeInvalidConfig, "store.mongo_uri is required for the mongo backend")
		}
	case bucket.BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errs.New(errs.ErrCodeInvalidConfig, "store.sqlite_path is required for the sqlite backend")
		}
	default:
		return errs.New(errs.ErrCodeInvalidConfig, "store.backend %q is not one of %v", c.Store.Backend, bucket.Backends)
	}
	return nil
}

// Policy returns the retry policy.
func (c Config) Policy() httputil.Policy {
	return httputil.Policy{
		MaxRetries: c.Retry.MaxRetries,
		BaseDelay:  time.Duration(c.Retry.BaseDelayMs) * time.Millisecond,
	}
}

// CacheOptions returns the TTL cache options.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{
		DefaultTTL:    time.Duration(c.Cache.TimeoutMs) * time.Millisecond,
		SweepInterval: time.Duration(c.Cache.SweepIntervalMs) * time.Millisecond,
		Layer:         "api",
	}
}

// HTTPTimeout returns the per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// OfflineConfig returns the worker configuration.
func (c Config) OfflineConfig() offline.Config {
	return offline.Config{
		Origin:  c.Origin,
		Prefix:  c.Offline.Prefix,
		Version: c.Offline.Version,
		Assets:  slices.Clone(c.Offline.Assets),
	}
}

// BucketConfig returns the bucket store configuration.
func (c Config) BucketConfig() bucket.Config {
	return bucket.Config{
		Backend:       c.Store.Backend,
		Dir:           c.Store.Dir,
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		RedisPrefix:   c.Store.RedisPrefix,
		MongoURI:      c.Store.MongoURI,
		MongoDatabase: c.Store.MongoDatabase,
		SQLitePath:    c.Store.SQLitePath,
	}
}

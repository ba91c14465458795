// Package cli implements the neonfeed command-line interface.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/matzehuels/neonfeed/pkg/api"
	"github.com/matzehuels/neonfeed/pkg/bucket"
	"github.com/matzehuels/neonfeed/pkg/buildinfo"
	"github.com/matzehuels/neonfeed/pkg/cache"
	"github.com/matzehuels/neonfeed/pkg/config"
	"github.com/matzehuels/neonfeed/pkg/httputil"
	"github.com/matzehuels/neonfeed/pkg/notify"
	"github.com/matzehuels/neonfeed/pkg/observability"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for display.
const appName = "neonfeed"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	out        io.Writer
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		out:    os.Stdout,
	}
}

// SetLogLevel updates the logger's level. At debug level the observability
// hooks are routed to the logger.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
	if level <= log.DebugLevel {
		hooks := logHooks{logger: c.Logger}
		observability.SetWorkerHooks(hooks)
		observability.SetCacheHooks(hooks)
		observability.SetHTTPHooks(hooks)
	}
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Neonfeed runs the offline layer of the Neonfeed web app",
		Long:         `Neonfeed caches API responses, retries flaky reads and serves the Neonfeed app through an offline worker that keeps working when the origin is unreachable.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default "+config.DefaultPath()+")")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.installCommand())
	root.AddCommand(c.fetchCommand())
	root.AddCommand(c.postCommand())
	root.AddCommand(c.bucketsCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Wiring
// =============================================================================

// loadConfig reads the config file named by --config, or the default path
// when it exists.
func (c *CLI) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return config.Config{}, err
	}
	c.Logger.Debug("loaded config", "path", c.configPath, "origin", cfg.Origin, "store", cfg.Store.Backend)
	return cfg, nil
}

// openStore opens the configured bucket store.
func (c *CLI) openStore(ctx context.Context, cfg config.Config) (bucket.Store, error) {
	return bucket.Open(ctx, cfg.BucketConfig())
}

// notifier returns the terminal notifier, or a log notifier for quiet runs
// and when stdout is not a terminal.
func (c *CLI) notifier(quiet bool) notify.Notifier {
	return pickNotifier(c.Logger, quiet || !isatty.IsTerminal(os.Stdout.Fd()))
}

func pickNotifier(logger *log.Logger, plain bool) notify.Notifier {
	if plain {
		return notify.LogNotifier{Logger: logger}
	}
	return terminalNotifier{}
}

// newAPIClient creates an API client against the configured origin.
// The returned cache must be closed by the caller.
func (c *CLI) newAPIClient(cfg config.Config, noCache, quiet bool) (*api.Client, cache.Store, error) {
	var store cache.Store
	if noCache {
		store = cache.NewNullCache()
	} else {
		opts := cfg.CacheOptions()
		opts.Logger = c.Logger
		store = cache.NewTTLCache(opts)
	}

	policy := cfg.Policy()
	opts := api.Options{
		BaseURL:  cfg.Origin,
		Cache:    store,
		Keyer:    cache.NewScopedKeyer(nil, cfg.Cache.Namespace),
		HTTP:     httputil.NewClient(cfg.HTTPTimeout()),
		Policy:   &policy,
		Notifier: c.notifier(quiet),
		Logger:   c.Logger,
	}
	if !quiet {
		opts.Loading = newLoadingSpinner("Sending...")
	}

	client, err := api.NewClient(opts)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return client, store, nil
}

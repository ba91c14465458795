package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matzehuels/neonfeed/internal/server"
	"github.com/matzehuels/neonfeed/pkg/bucket"
	"github.com/matzehuels/neonfeed/pkg/config"
	"github.com/matzehuels/neonfeed/pkg/httputil"
	"github.com/matzehuels/neonfeed/pkg/offline"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var listen, origin string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Proxy the app through the offline worker",
		Long: `Serve installs the offline worker for the configured origin and proxies
every request through it. Pages in the static bucket are served from the
store; other same-origin pages are fetched and cached at runtime. When the
origin is unreachable, cached pages keep working.

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if origin != "" {
				cfg.Origin = origin
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := c.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			scope, err := c.register(cmd.Context(), cfg, store)
			if err != nil {
				c.Logger.Warn("offline worker not installed; serving without offline support", "err", err)
			}
			if scope == nil {
				return err
			}

			printInfo("Serving %s on %s", StyleLink.Render(cfg.Origin), StyleHighlight.Render(cfg.Listen))
			return server.New(scope, store, c.Logger).ListenAndServe(cmd.Context(), cfg.Listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&origin, "origin", "", "origin URL (overrides config)")
	return cmd
}

// register creates a scope for cfg.Origin and registers a worker in it.
// When registration fails the scope is still returned, uncontrolled,
// together with the error.
func (c *CLI) register(ctx context.Context, cfg config.Config, store bucket.Store) (*offline.Scope, error) {
	network := httputil.NewProxyClient(cfg.HTTPTimeout())
	scope, err := offline.NewScope(cfg.Origin, network, c.notifier(false), c.Logger)
	if err != nil {
		return nil, err
	}

	w, err := offline.NewWorker(cfg.OfflineConfig(), store, network, c.Logger)
	if err != nil {
		return scope, err
	}
	if err := scope.Register(ctx, w); err != nil {
		return scope, err
	}
	c.Logger.Debug("worker registered", "id", w.ID(), "version", w.Config().Version)
	return scope, nil
}

// installCommand creates the install command.
func (c *CLI) installCommand() *cobra.Command {
	var origin string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the offline worker and populate the static bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if origin != "" {
				cfg.Origin = origin
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			store, err := c.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			prog := newProgress(c.Logger)
			spinner := newSpinnerWithContext(cmd.Context(), "Installing offline worker...")
			spinner.Start()
			scope, err := c.register(cmd.Context(), cfg, store)
			if err != nil {
				spinner.StopWithError("Install failed")
				return err
			}
			spinner.Stop()

			w := scope.Controller()
			defer w.Wait()
			info := w.Info()
			prog.done("Installed worker " + info.Version)

			printSuccess("Worker %s %s", StyleHighlight.Render(info.Version), string(info.State))
			printKeyValue("Origin", cfg.Origin)
			printKeyValue("Static bucket", info.StaticBucket)
			printKeyValue("Assets", strconv.Itoa(len(w.Config().Assets)))
			printNewline()
			printNextStep("Serve the app", appName+" serve")
			return nil
		},
	}

	cmd.Flags().StringVar(&origin, "origin", "", "origin URL (overrides config)")
	return cmd
}

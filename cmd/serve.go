package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/firefly-engineering/botfile-proxy/internal/config"
	"github.com/firefly-engineering/botfile-proxy/internal/errors"
	"github.com/firefly-engineering/botfile-proxy/internal/logging"
	"github.com/firefly-engineering/botfile-proxy/internal/monitor"
	"github.com/firefly-engineering/botfile-proxy/internal/proxy"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		Long: `Run the proxy in front of a local Telegram Bot API server.

Settings are taken from flags, then environment variables (PROXY_TO,
BASE_FOLDER, HOST, PORT, ...), then the config file given with --config
or BOTFILE_PROXY_CONFIG (TOML, or YAML for .yaml/.yml files).

The upstream must be plain http. Any path on its URL is ignored.`,
		Example: `  botfile-proxy serve -t http://localhost:8081
  botfile-proxy serve -t http://localhost:8081 -b ~/telegram-data -p 8080`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	config.RegisterFlags(serveCmd.Flags())
	return serveCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve(cmd.Flags())
	if err != nil {
		return errors.ConfigError("invalid configuration", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.ConfigError("invalid configuration", err)
	}
	logging.Setup(level, cfg.LogJSON, cmd.ErrOrStderr())

	if cfg.UpstreamPathIgnored {
		logging.Warn("path in proxy URL is ignored", "upstream", cfg.Upstream.String())
	}

	srv, err := proxy.NewServer(cfg, proxy.WithLogger(logging.Logger))
	if err != nil {
		return errors.Wrap(errors.ExitGeneralError, "failed to create proxy", err)
	}
	if err := srv.Listen(); err != nil {
		return errors.ListenError(cfg.ListenAddr(), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, srv, cfg)
}

// serve runs srv until ctx is cancelled or serving fails, then shuts it
// down within the configured timeout.
func serve(ctx context.Context, srv *proxy.Server, cfg *config.Config) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Serve)
	if cfg.HealthInterval > 0 {
		m := monitor.New(cfg.HealthInterval, cfg, monitor.WithLogger(logging.Logger))
		g.Go(func() error {
			// Only ever stops on cancellation, which is not a failure.
			_ = m.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down proxy server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return errors.Wrap(errors.ExitGeneralError, "proxy server failed", err)
	}
	return nil
}

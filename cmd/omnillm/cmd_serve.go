package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/omnillm/internal/app"
	"github.com/MrWong99/omnillm/internal/config"
	"github.com/MrWong99/omnillm/internal/gateway"
	"github.com/MrWong99/omnillm/internal/health"
	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/internal/usage"
)

var (
	serveAddr  string
	serveGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Serve the configured providers over HTTP and websocket.

With --config the file is watched: provider and log-level changes apply
without a restart, other changes are logged and wait for one.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.listen_addr)")
	serveCmd.Flags().DurationVar(&serveGrace, "grace", 15*time.Second, "how long to drain in-flight requests on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "omnillm",
		SampleRatio: cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	application, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		return err
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(_, next *config.Config) {
			if _, err := application.Apply(next); err != nil {
				slog.Error("config reload rejected", "err", err)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	addr := cmp.Or(serveAddr, cfg.Server.ListenAddr)
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	opts := []gateway.Option{gateway.WithMetricsPath(cfg.Server.MetricsPath)}
	if cfg.Usage.PostgresDSN != "" {
		opts = append(opts, gateway.WithHealthCheck(health.Checker{
			Name: "usage",
			Check: func(ctx context.Context) error {
				_, err := application.Ledger().Recent(ctx, usage.Filter{Limit: 1})
				return err
			},
		}))
	}
	var certFile, keyFile string
	if tls := cfg.Server.TLS; tls != nil {
		certFile, keyFile = tls.CertFile, tls.KeyFile
	}

	slog.Info("omnillm starting", "addr", addr, "config", configPath, "log_level", level.Level().String())
	serveErr := gateway.New(application, opts...).Serve(ctx, ln, certFile, keyFile, serveGrace)
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		slog.Error("serve error", "err", serveErr)
	}

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveGrace)
	defer cancel()
	err = errors.Join(serveErr, application.Shutdown(shutdownCtx), shutdownTelemetry(shutdownCtx))
	if err == nil {
		slog.Info("goodbye")
	}
	return err
}

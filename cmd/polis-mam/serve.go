package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-mam/pkg/api"
	"github.com/polisai/polis-mam/pkg/config"
	"github.com/polisai/polis-mam/pkg/logging"
	"github.com/polisai/polis-mam/pkg/policy"
	"github.com/polisai/polis-mam/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the policy query API with hot reload",
		Long: `Loads the policy document, watches it for changes and serves JSON query
endpoints under /v1 plus /healthz and /metrics. SIGHUP forces a reload.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringP("file", "f", "", "Policy document (overrides settings)")
	cmd.Flags().String("addr", "", "Listen address (overrides settings)")
	cmd.Flags().StringP("settings", "s", "", "Service settings file (YAML)")
	cmd.Flags().Bool("no-watch", false, "Disable hot reload of the policy document")
	return cmd
}

// buildSettings merges the settings file, environment and command flags.
// Flags take precedence.
func buildSettings(cmd *cobra.Command) (*config.Settings, error) {
	settingsPath, err := cmd.Flags().GetString("settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get settings flag: %w", err)
	}
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		settings.Policy.File = file
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		settings.Server.ListenAddress = addr
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		settings.Policy.Watch = false
	}
	if cmd.Flags().Changed("log-level") {
		settings.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}

	if settings.Policy.File == "" {
		return nil, errors.New("no policy document specified. Use: polis-mam serve -f <file>")
	}
	return settings, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := buildSettings(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  settings.Logging.Level,
		Pretty: settings.Logging.Pretty,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: settings.Telemetry.ServiceName,
		Endpoint:    settings.Telemetry.OTLPEndpoint,
		Insecure:    settings.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()

	provider, err := config.NewFileProvider(settings.Policy.File,
		config.WithProviderLogger(logger),
		config.WithReloadObserver(metrics),
		config.WithWatch(settings.Policy.Watch),
		config.WithRegoCacheEntries(settings.Policy.RegoCacheEntries),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Warn("Policy watcher close error", "error", err)
		}
	}()

	facade := policy.New(provider, policy.WithLogger(logger), policy.WithObserver(metrics))
	handler := otelhttp.NewHandler(api.NewHandler(api.HandlerConfig{
		Facade:  facade,
		Source:  provider,
		Logger:  logger,
		Metrics: metrics.Handler(),
	}), "polis.mam")

	go handleReloadSignals(ctx, provider, logger)

	return serveHTTP(ctx, settings.Server.ListenAddress, handler, logger)
}

// handleReloadSignals reloads the policy document on SIGHUP.
func handleReloadSignals(ctx context.Context, provider *config.FileProvider, logger *slog.Logger) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sighup:
			logger.Info("Received SIGHUP, reloading policy", "path", provider.Path())
			if err := provider.Reload(ctx); err != nil {
				logger.Error("Policy reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}

// serveHTTP serves handler until ctx is cancelled, then shuts down gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind listener on %s: %w", addr, err)
	}
	logger.Info("Server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

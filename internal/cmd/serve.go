package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ingestkit/ingestkit/internal/config"
	errwrap "github.com/ingestkit/ingestkit/internal/errors"
	"github.com/ingestkit/ingestkit/internal/metrics"
	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/scrape"
	"github.com/ingestkit/ingestkit/internal/server"
	"github.com/ingestkit/ingestkit/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil // Signal handlers are registered and ready
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

The server owns one outbound session shared by every request to
POST /frontend-api/fetches, so the configured rate limit applies across
concurrent API calls.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (session settings apply after restart)

The server will cleanly shut down the HTTP server, close the outbound session
and the store, and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return errwrap.WrapConfigInvalid(ctx, err, "configuration invalid")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Environment, config.AppName)

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, metricsPort, config.AppName); err != nil {
				observability.ServerLogger.Error("Failed to initialize metrics",
					zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
			}
		}

		observability.ServerLogger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("environment", cfg.Environment),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.Int("throttler_rate_limit", cfg.Session.ThrottlerRateLimit),
			zap.Duration("throttler_period", cfg.Session.ThrottlerPeriod))

		db, err := openStore(ctx, cfg)
		if err != nil {
			return errwrap.WrapDatabaseError(ctx, err, "failed to open store")
		}

		sess, err := newSession(cfg)
		if err != nil {
			_ = db.Close()
			return errwrap.FromSessionError(ctx, err)
		}

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		hm.RegisterChecker("store", handlers.StoreChecker{DB: db.DB})
		hm.RegisterChecker("session", handlers.SessionChecker{Session: sess})

		handlers.SetAppInfo(config.AppName, cfg.Environment)

		fetchAPI := handlers.NewFetchAPI(db, sess, scrape.NewRobotsCache(sess, cfg.Session.UserAgent), cfg.Pagination)
		srv := server.New(cfg.Server.Host, cfg.Server.Port,
			server.WithFetchAPI(fetchAPI),
			server.WithContextHeaders(cfg.ContextHeadersPrefix),
			server.WithTimeouts(server.Timeouts{
				Read:  cfg.Server.ReadTimeout,
				Write: cfg.Server.WriteTimeout,
				Idle:  cfg.Server.IdleTimeout,
			}))

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Register graceful shutdown handlers (LIFO order - last registered, first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Flushing logger...")
			if err := observability.ServerLogger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				observability.ServerLogger.Warn("Logger sync returned error (may be benign)",
					zap.Error(err))
			}
			return nil
		})

		// Handler 2: Close session and store once in-flight requests are done
		signals.OnShutdown(func(ctx context.Context) error {
			if err := sess.Close(); err != nil {
				observability.ServerLogger.Warn("Failed to close outbound session", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "store close failed")
			}
			observability.ServerLogger.Info("Outbound session and store closed")
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			observability.ServerLogger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			observability.ServerLogger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			observability.ServerLogger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					observability.ServerLogger.Error("Failed to reload config file",
						zap.String("file", viper.ConfigFileUsed()),
						zap.Error(err))
					return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
				}
			}

			reloaded, err := config.Load(ctx, viper.GetViper())
			if err != nil {
				observability.ServerLogger.Error("Reloaded configuration is invalid; keeping current settings",
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			observability.ServerLogger.Info("Configuration reloaded successfully",
				zap.String("file", viper.ConfigFileUsed()),
				zap.String("environment", reloaded.Environment))
			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			observability.ServerLogger.Warn("Failed to enable double-tap force quit",
				zap.Error(err))
		}

		uptimeCtx, stopUptime := context.WithCancel(ctx)
		defer stopUptime()
		if cfg.Metrics.Enabled {
			go metrics.TrackUptime(uptimeCtx, time.Now(), 15*time.Second)
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(ctx); err != nil {
				observability.ServerLogger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			_ = sess.Close()
			_ = db.Close()
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

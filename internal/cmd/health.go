package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/ingestkit/ingestkit/internal/errors"
	"github.com/ingestkit/ingestkit/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long: `Run a self-health check to verify the application can start successfully:
configuration decodes and validates, the outbound session can be built from it,
and the fetch store opens and migrates.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		observability.CLILogger.Info("Running health check...")

		// Check 1: Version info available
		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		// Check 2: Configuration loaded and valid
		cfg, err := loadConfig(ctx)
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(ctx, err, "configuration invalid"))
			return
		}
		observability.CLILogger.Info("✅ Configuration valid", zap.String("environment", cfg.Environment))

		// Check 3: Outbound session can be constructed
		sess, err := newSession(cfg)
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Outbound session")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Outbound session could not be built", errwrap.FromSessionError(ctx, err))
			return
		}
		_ = sess.Close()
		observability.CLILogger.Info("✅ Outbound session ready",
			zap.Int("throttler_rate_limit", cfg.Session.ThrottlerRateLimit),
			zap.Duration("throttler_period", cfg.Session.ThrottlerPeriod))

		// Check 4: Store opens and migrates
		db, err := openStore(ctx, cfg)
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Store unavailable")
			ExitWithCode(observability.CLILogger, foundry.ExitFailure, "Store unavailable", errwrap.WrapDatabaseError(ctx, err, "store unavailable"))
			return
		}
		_ = db.Close()
		observability.CLILogger.Info("✅ Store ready", zap.String("driver", db.Driver()))

		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

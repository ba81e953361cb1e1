package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/ingestkit/ingestkit/internal/config"
	"github.com/ingestkit/ingestkit/internal/core/store"
	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/session"
)

// loadConfig decodes the global viper state populated by initConfig.
func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// newSession builds the shared outbound session from the session config
// section, logging through the current CLI or server logger.
func newSession(cfg *config.Config) (*session.Session, error) {
	return session.New(cfg.Session.SessionOptions(), session.WithLogger(observability.Logger()))
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/firewatch/internal/config"
	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/logger"
	"github.com/rewired-gh/firewatch/internal/postgres"
	"github.com/rewired-gh/firewatch/internal/report"
	"github.com/rewired-gh/firewatch/internal/storage"
	"github.com/rewired-gh/firewatch/internal/supabase"
)

const connectTimeout = 10 * time.Second

// sources holds the opened persistence backends.
type sources struct {
	store    *storage.Storage
	history  report.Source
	supabase *supabase.Client
	postgres *postgres.Repository

	closers []func() error
}

// openSources opens local storage and the configured history source.
func openSources(ctx context.Context, cfg *config.Config) (*sources, error) {
	store, err := storage.New(cfg.Storage.MaxReadings, cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	s := &sources{store: store, history: store}
	s.closers = append(s.closers, store.Close)
	logger.Info("Storage opened at %s", store.Path())

	if cfg.Supabase.URL != "" && (cfg.Source.Kind == config.SourceSupabase || cfg.Feed.PollSupabase) {
		s.supabase = supabase.NewClient(
			cfg.Supabase.URL,
			cfg.Supabase.APIKey,
			cfg.Supabase.Timeout,
			supabase.ClientConfig{
				MaxRetries:     cfg.Supabase.MaxRetries,
				RetryDelayBase: cfg.Supabase.RetryDelayBase,
			},
			logger.L(),
		)
	}

	switch cfg.Source.Kind {
	case config.SourcePostgres:
		openCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		db, err := postgres.Open(openCtx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			MaxIdle:  cfg.Postgres.MaxIdle,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s.closers = append(s.closers, db.Close)

		s.postgres = postgres.NewRepository(db, logger.L())
		if err := s.postgres.EnsureSchema(openCtx); err != nil {
			logger.Warn("Postgres schema not applied, continuing with existing tables: %v", err)
		}
		s.history = s.postgres
		logger.Info("Reading history from postgres")
	case config.SourceSupabase:
		s.history = s.supabase
		logger.Info("Reading history from supabase at %s", cfg.Supabase.URL)
	default:
		logger.Info("Reading history from local storage")
	}
	return s, nil
}

// producer returns the feed producer for the configured mode. A nil
// producer means the feed is push-only. Polled sources skip rows the feed
// has already installed.
func (s *sources) producer(cfg *config.Config, demo feed.Producer) feed.Producer {
	if cfg.Feed.Mode == config.ModeDemo {
		return demo
	}
	if cfg.Feed.PollSupabase && s.supabase != nil {
		return feed.SkipUnchanged(s.supabase)
	}
	if cfg.Source.Kind == config.SourcePostgres && s.postgres != nil && !cfg.MQTT.Enabled {
		return feed.SkipUnchanged(s.postgres)
	}
	return nil
}

// Close closes every opened backend in reverse order.
func (s *sources) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Error("Failed to close source: %v", err)
		}
	}
	s.closers = nil
}

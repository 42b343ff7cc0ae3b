package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/api"
	"github.com/rewired-gh/firewatch/internal/broker"
	"github.com/rewired-gh/firewatch/internal/cache"
	"github.com/rewired-gh/firewatch/internal/config"
	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/generator"
	"github.com/rewired-gh/firewatch/internal/ingest"
	"github.com/rewired-gh/firewatch/internal/logger"
	"github.com/rewired-gh/firewatch/internal/metrics"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/monitor"
	"github.com/rewired-gh/firewatch/internal/report"
	"github.com/rewired-gh/firewatch/internal/telegram"
)

const dispatchBuffer = 64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the feed, sinks and HTTP API",
	Long: `Runs the reading feed, fans updates out to storage, alerts and the
configured sinks, and serves the HTTP API until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	classifier, err := cfg.Classifier()
	if err != nil {
		return err
	}
	th := classifier.Thresholds()
	logger.Info("Classifier thresholds: temperature=%.1f humidity=%.1f co2=%.0f co=%.1f h2=%.1f (missing_as_warning: %v)",
		th.Temperature, th.Humidity, th.CO2, th.CO, th.H2, cfg.Risk.MissingAsWarning)

	src, err := openSources(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	m := metrics.New()

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	// Feed
	opts := feed.Options{
		Interval:    cfg.Feed.Interval,
		HistorySize: cfg.Feed.HistorySize,
	}
	var demo feed.Producer
	if cfg.Feed.Mode == config.ModeDemo {
		gen := generator.New()
		demo = gen
		opts.Series = gen.SeriesFunc(cfg.Feed.SeriesPoints)
	}
	producer := src.producer(cfg, demo)
	if producer != nil {
		var notifier errorNotifier
		if telegramClient != nil {
			notifier = telegramClient
		}
		producer = newSourceHealth(notifier, m).wrap(producer)
	}
	fd := feed.New(producer, classifier, opts)

	// Sinks
	d := &dispatcher{
		metrics: m,
		rotate: func(ctx context.Context) {
			if n, err := src.store.RotateReadings(ctx); err != nil {
				logger.Warn("Failed to rotate readings: %v", err)
			} else if n > 0 {
				logger.Debug("Rotated %d readings", n)
			}
			if _, err := src.store.RotateAlerts(ctx); err != nil {
				logger.Warn("Failed to rotate alerts: %v", err)
			}
		},
	}
	d.sinks = append(d.sinks, stateSink{name: "sqlite", put: func(ctx context.Context, st feed.State) error {
		r := withPrediction(st)
		return src.store.AddReading(ctx, &r)
	}})
	if src.postgres != nil && cfg.MQTT.Enabled {
		repo := src.postgres
		d.sinks = append(d.sinks, stateSink{name: "postgres", put: func(ctx context.Context, st feed.State) error {
			return repo.InsertReading(ctx, withPrediction(st))
		}})
	}

	if cfg.Redis.Enabled {
		client := cache.NewRedisClient(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		latest := cache.NewLatestCache(client, cfg.Redis.Key, cfg.Redis.TTL, logger.L())
		if err := latest.Ping(ctx); err != nil {
			logger.Warn("Redis not reachable at %s, writes will be retried per reading: %v", cfg.Redis.Addr, err)
		}
		defer latest.Close()
		d.sinks = append(d.sinks, stateSink{name: "redis", put: latest.Put})
	}

	if cfg.Kafka.Enabled {
		pub := broker.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.L())
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn("Failed to close Kafka publisher: %v", err)
			}
		}()
		d.sinks = append(d.sinks, stateSink{name: "kafka", put: pub.Publish})
	}

	if cfg.Monitor.Enabled {
		d.watcher = monitor.New(th, cfg.Monitor.Cooldown)
		d.alertSinks = append(d.alertSinks, alertSink{name: "sqlite", put: func(ctx context.Context, a *models.Alert, _ feed.State) error {
			return src.store.AddAlert(ctx, a)
		}})
		if src.postgres != nil {
			repo := src.postgres
			d.alertSinks = append(d.alertSinks, alertSink{name: "postgres", put: func(ctx context.Context, a *models.Alert, _ feed.State) error {
				return repo.InsertAlert(ctx, *a)
			}})
		}
		if telegramClient != nil {
			d.alertSinks = append(d.alertSinks, alertSink{name: "telegram", put: func(_ context.Context, a *models.Alert, st feed.State) error {
				return telegramClient.SendAlert(a, &st.Reading)
			}})
		}
	}

	updates, unsubscribe := fd.Subscribe(dispatchBuffer)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		d.run(ctx, updates)
	}()

	// Ingest
	if cfg.MQTT.Enabled {
		sub := ingest.NewSubscriber(ingest.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, func(r models.Reading) {
			fd.Push(r)
		}, logger.L())
		if err := sub.Connect(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer sub.Disconnect()
		logger.Info("MQTT ingest connected to %s (topic: %s)", cfg.MQTT.Broker, cfg.MQTT.Topic)
	}

	if producer != nil {
		if err := fd.Start(ctx); err != nil {
			return fmt.Errorf("failed to start feed: %w", err)
		}
		defer fd.Stop()
	} else {
		logger.Info("Feed is push-only (mode: %s)", cfg.Feed.Mode)
		if !cfg.MQTT.Enabled {
			logger.Warn("Live mode without MQTT or polling: no readings will arrive")
		}
	}

	// HTTP
	reports := report.NewService(src.history, classifier, logger.L())
	server := api.NewServer(fd, classifier, reports, m, logger.L())

	var accessLog io.Writer
	if cfg.HTTP.AccessLog {
		accessLog = zap.NewStdLog(logger.L().Named("http")).Writer()
	}
	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.Handler(accessLog),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received, cleaning up...")
	case err := <-serveErr:
		if err != nil {
			cancel()
			unsubscribe()
			<-dispatchDone
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not complete: %v", err)
	}

	fd.Stop()
	unsubscribe()
	<-dispatchDone
	logger.Info("Service stopped")
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/amirphl/portfolio-sync/internal/config"
	"github.com/amirphl/portfolio-sync/internal/db"
	"github.com/amirphl/portfolio-sync/internal/etoro"
	"github.com/amirphl/portfolio-sync/internal/events"
	"github.com/amirphl/portfolio-sync/internal/lock"
	"github.com/amirphl/portfolio-sync/internal/metrics"
	"github.com/amirphl/portfolio-sync/internal/notifier"
	"github.com/amirphl/portfolio-sync/internal/syncer"
	"github.com/amirphl/portfolio-sync/internal/utils"
)

// loadConfig reads the config selected by the global flags and applies the
// log level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := utils.SetLogLevel(cfg.LogLevel); err != nil {
		return config.Config{}, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return cfg, nil
}

func newNotifier(cfg config.Config) notifier.Notifier {
	if cfg.TelegramToken == "" {
		return notifier.LogNotifier{}
	}
	t := notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay())
	if cfg.TelegramAPIURL != "" {
		t.APIURL = cfg.TelegramAPIURL
	}
	return notifier.Multi{notifier.LogNotifier{}, t}
}

// newService wires a sync service from cfg. The returned cleanup closes the
// store and every optional backend that was opened.
func newService(ctx context.Context, cfg config.Config) (*syncer.Service, func(), error) {
	log := utils.GetLogger().Named("main")

	store, err := db.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	closers := []func() error{store.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warnw("close failed", "error", err)
			}
		}
	}

	client := etoro.NewClient(etoro.Options{
		BaseURL:      cfg.EtoroBaseURL,
		StaticAPIURL: cfg.EtoroStaticURL,
		UserAgent:    cfg.UserAgent,
		Timeout:      cfg.HTTPTimeout(),
	})

	s := syncer.New(store, client)
	s.Notifier = newNotifier(cfg)
	s.Metrics = metrics.NewMetrics()

	if cfg.RedisAddr != "" {
		rc, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, rc.Close)
		s.Locker = lock.NewRedisLocker(rc, cfg.LockTTL())
	}

	if len(cfg.KafkaBrokers) > 0 {
		p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, p.Close)
		s.Publisher = p
	}

	return s, cleanup, nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/bot"
	"github.com/avtomat-kz/avtomat-api/internal/repository"
	"github.com/avtomat-kz/avtomat-api/internal/service"
	"github.com/avtomat-kz/avtomat-api/internal/telegram"
	"github.com/avtomat-kz/avtomat-api/pkg/cache"
	"github.com/avtomat-kz/avtomat-api/pkg/config"
	"github.com/avtomat-kz/avtomat-api/pkg/database"
	"github.com/avtomat-kz/avtomat-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "bot")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("bot stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	location, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Bot.Timezone, err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	var sessions bot.SessionStore
	switch cfg.Session.Backend {
	case config.SessionBackendMemory:
		sessions = repository.NewMemorySessionStore(cfg.Session.TTL)
		logr.Warn("using in-memory sessions, conversations reset on restart")
	default:
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		sessions = repository.NewRedisSessionStore(redisClient, cfg.Session.Prefix, cfg.Session.TTL)
	}

	client, err := telegram.NewClient(telegram.Config{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		PollTimeout: time.Duration(cfg.Telegram.PollTimeout) * time.Second,
		Debug:       cfg.Telegram.Debug,
		Logger:      logr,
	})
	if err != nil {
		return err
	}

	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	cities := repository.NewCityRepository(db)
	schools := repository.NewSchoolRepository(db)
	instructors := repository.NewInstructorRepository(db)
	applications := repository.NewApplicationRepository(db)
	events := repository.NewAnalyticsRepository(db)

	catalog := service.NewCatalogService(cities, schools, instructors, logr)
	factory := service.NewApplicationFactory(users, cities, applications, metrics, logr)
	analytics := service.NewAnalyticsService(events, applications, schools, metrics, logr)

	notifier := service.NewNotificationService(applications, schools, instructors, client, metrics, service.NotificationConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: cfg.Notify.MaxRetries,
		RetryDelay: cfg.Notify.RetryDelay,
		Location:   location,
		Logger:     logr,
	})
	refresher := service.NewScoreRefresher(analytics, service.ScoreRefresherConfig{
		Workers:    cfg.Scoring.Workers,
		MaxRetries: cfg.Scoring.MaxRetries,
		Logger:     logr,
	})

	engine := bot.NewEngine(bot.Dependencies{
		Sessions:  sessions,
		Catalog:   catalog,
		Factory:   factory,
		Students:  users,
		Tracker:   analytics,
		Notifier:  notifier,
		Refresher: refresher,
		Logger:    logr,
	}, bot.Config{
		MiniAppURL: cfg.Bot.MiniAppURL,
		ListLimit:  cfg.Bot.ListLimit,
		Location:   location,
	})
	runner := bot.NewRunner(engine, client, metrics, bot.RunnerConfig{
		MaxPending: cfg.Bot.MaxPending,
		Logger:     logr,
	})

	notifier.Start(ctx)
	defer notifier.Stop()
	refresher.Start(ctx)
	defer refresher.Stop()
	runner.Start(ctx)
	defer runner.Stop()

	logr.Info("bot polling", zap.String("session_backend", cfg.Session.Backend), zap.Int("max_pending", cfg.Bot.MaxPending))
	client.Poll(ctx, runner.Submit)
	logr.Info("shutting down")
	return nil
}

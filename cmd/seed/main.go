package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/avtomat-kz/avtomat-api/internal/repository"
	"github.com/avtomat-kz/avtomat-api/pkg/config"
	"github.com/avtomat-kz/avtomat-api/pkg/database"
	"github.com/avtomat-kz/avtomat-api/pkg/logger"
)

// seed inserts the configured cities. Running it twice is harmless.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "seed")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cities := repository.NewCityRepository(db)
	added := 0
	for _, name := range cfg.Seed.Cities {
		city, inserted, err := cities.GetOrCreate(ctx, name, name)
		if err != nil {
			logr.Fatal("seed city", zap.String("city", name), zap.Error(err))
		}
		if inserted {
			added++
			logr.Info("city added", zap.String("city", city.Name), zap.Int64("id", city.ID))
		}
	}
	logr.Info("seed finished", zap.Int("cities", len(cfg.Seed.Cities)), zap.Int("added", added))
}

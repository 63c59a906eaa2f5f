package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mjhen/medstock/server/internal/app"
	"github.com/mjhen/medstock/server/internal/config"
	"github.com/mjhen/medstock/server/internal/db"
	"github.com/mjhen/medstock/server/internal/logging"
	"github.com/mjhen/medstock/server/internal/migrate"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	config.BindFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect db", zap.Error(err))
	}

	if cfg.AutoMigrate {
		src, err := migrate.Source(db.Dialect(cfg.DatabaseURL), cfg.MigrationsDir)
		if err != nil {
			logger.Fatal("locate migrations", zap.Error(err))
		}
		if err := migrate.Run(ctx, database, src); err != nil {
			logger.Fatal("run migrations", zap.Error(err))
		}
	}

	application, err := app.New(cfg, database, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}
	defer application.Close()

	if cfg.APIKeyHash == "" {
		logger.Warn("api_key_hash is empty; /v1 is unauthenticated")
	}
	if err := application.Run(ctx); err != nil {
		logger.Fatal("run server", zap.Error(err))
	}
}

package main

import (
	"errors"
	"flag"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/nilasense/order-service/internal/config"
	"github.com/nilasense/order-service/internal/logging"
	"go.uber.org/zap"
	"log"
)

func main() {
	_ = godotenv.Load()
	down := flag.Bool("down", false, "roll back every migration")
	force := flag.Int("force", -1, "force the schema version after a failed run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.MustNewLogger(cfg.ServiceName+"-migrate", cfg.Env)
	defer func() { _ = logger.Sync() }()

	m, err := migrate.New(cfg.MigrationsPath, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("open migrations", zap.Error(err), zap.String("source", cfg.MigrationsPath))
	}
	defer func() { _, _ = m.Close() }()

	if *force >= 0 {
		// dirty state: set the version by hand, then rerun up
		if err := m.Force(*force); err != nil {
			logger.Fatal("force version", zap.Int("version", *force), zap.Error(err))
		}
		logger.Info("forced version", zap.Int("version", *force))
	}

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migrate", zap.Bool("down", *down), zap.Error(err))
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		logger.Warn("read version", zap.Error(verr))
	}
	logger.Info("migration done", zap.Uint("version", version), zap.Bool("dirty", dirty))
}

package main

import (
	"context"
	"github.com/joho/godotenv"
	"github.com/nilasense/order-service/internal/config"
	kafkax "github.com/nilasense/order-service/internal/kafka"
	"github.com/nilasense/order-service/internal/logging"
	"github.com/nilasense/order-service/internal/notify"
	"github.com/nilasense/order-service/internal/orders"
	"github.com/nilasense/order-service/internal/redisx"
	"go.uber.org/zap"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.MustNewLogger(cfg.ServiceName+"-notifier", cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr, cfg.RedisPassword)
	defer rdb.Close()

	svc := &notify.Service{
		Dedup:    &redisx.Deduper{RDB: rdb, Service: "notifier"},
		Notifier: notify.LogNotifier{Log: logger.Named("notifier")},
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.Topics, cfg.NotifierWorkers, logger.Named("consumer"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("notifier consumer started",
			zap.String("group", cfg.NotifierGroup),
			zap.Strings("topics", orders.Topics),
			zap.Int("workers", cfg.NotifierWorkers),
		)
		if err := cons.Start(ctx, svc.HandleMessage); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}

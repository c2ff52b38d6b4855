package main

import (
	"context"
	"errors"
	"github.com/joho/godotenv"
	"github.com/nilasense/order-service/internal/auth"
	"github.com/nilasense/order-service/internal/config"
	"github.com/nilasense/order-service/internal/httpx"
	kafkax "github.com/nilasense/order-service/internal/kafka"
	"github.com/nilasense/order-service/internal/logging"
	"github.com/nilasense/order-service/internal/orders"
	"github.com/nilasense/order-service/internal/postgres"
	"github.com/nilasense/order-service/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr, cfg.RedisPassword)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("producer"))
	prod.Start(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	repo := &orders.Repo{DB: db}
	svc := orders.NewService(orders.NewUnitOfWork(db), repo,
		orders.WithPublisher(prod, cfg.ServiceName),
		orders.WithIdempotencyCache(&redisx.IdempotencyCache{RDB: rdb}),
		orders.WithMetrics(orders.NewMetrics(reg)),
		orders.WithLocation(cfg.Location()),
		orders.WithMaxAttempts(cfg.TxMaxAttempts),
	)

	router := httpx.NewRouter(logger, httpx.NewMetrics(reg), reg)
	oh := &httpx.OrdersHandler{
		Service: svc,
		Auth:    httpx.Authenticate(auth.NewVerifier(cfg.JWTSecret)),
		Limiter: httpx.NewActorRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Timeout: 10 * time.Second,
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}

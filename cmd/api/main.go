package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/config"
	"github.com/ariefcatur/go-sayur-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-sayur-orders/internal/kafka"
	"github.com/ariefcatur/go-sayur-orders/internal/notify"
	"github.com/ariefcatur/go-sayur-orders/internal/orders"
	"github.com/ariefcatur/go-sayur-orders/internal/postgres"
	"github.com/ariefcatur/go-sayur-orders/internal/redisx"
	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/ariefcatur/go-sayur-orders/internal/settings"
	"github.com/ariefcatur/go-sayur-orders/internal/topup"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	store := &postgres.Store{DB: db}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer, topic dipilih per event
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)
	notifier := &notify.Publisher{Producer: prod, Service: cfg.ServiceName}

	points := &settings.Lookup{Source: store, Redis: rdb, Log: log}
	bonus := &referral.Engine{Points: points, Repo: store}

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{
		Orders: &orders.Service{
			Tx:       store.OrdersRunner(),
			Reader:   store,
			Bonus:    bonus,
			Points:   points,
			Notifier: notifier,
			Log:      log,
		},
		Bonuses: bonus,
		Redis:   rdb,
		Log:     log,
	}).Register(router)
	(&httpx.TopUpsHandler{
		TopUps: &topup.Service{Tx: store.TopUpsRunner(), Notifier: notifier, Log: log},
		Log:    log,
	}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}

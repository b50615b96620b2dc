package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-sayur-orders/internal/config"
	kafkax "github.com/ariefcatur/go-sayur-orders/internal/kafka"
	"github.com/ariefcatur/go-sayur-orders/internal/notify"
	"github.com/ariefcatur/go-sayur-orders/internal/postgres"
	"github.com/ariefcatur/go-sayur-orders/internal/redisx"
	"github.com/ariefcatur/go-sayur-orders/internal/referral"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	sender := &notify.Sender{
		Users:    store,
		Pusher:   notify.LogPusher{Log: log},
		Alerts:   notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatIDs, log),
		Redis:    rdb,
		AdminURL: cfg.AdminBaseURL,
		Service:  cfg.ServiceName + "-worker",
		Log:      log,
	}
	bonus := &referral.Engine{Repo: store}

	g, gctx := errgroup.WithContext(ctx)

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, notify.Topics, cfg.WorkerCount, log)
	g.Go(func() error {
		log.Info("notification consumer started",
			zap.String("group", cfg.WorkerGroup),
			zap.Strings("topics", notify.Topics),
			zap.Int("workers", cfg.WorkerCount))
		return cons.Start(gctx, sender.Handle)
	})

	// bonus yang lewat masa berlaku -> expired
	g.Go(func() error {
		t := time.NewTicker(cfg.BonusExpiryInterval)
		defer t.Stop()
		for {
			expireBonuses(gctx, log, bonus)
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error("worker exit", zap.Error(err))
		return
	}
	log.Info("worker stopped")
}

func expireBonuses(ctx context.Context, log *zap.Logger, e *referral.Engine) {
	n, err := e.ExpirePending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("expire bonuses", zap.Error(err))
		}
		return
	}
	if n > 0 {
		log.Info("bonuses expired", zap.Int64("count", n))
	}
}

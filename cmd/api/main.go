package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/cirqle-payments/internal/api"
	"github.com/baharkarakas/cirqle-payments/internal/api/handlers"
	"github.com/baharkarakas/cirqle-payments/internal/auth"
	"github.com/baharkarakas/cirqle-payments/internal/config"
	"github.com/baharkarakas/cirqle-payments/internal/db"
	"github.com/baharkarakas/cirqle-payments/internal/events"
	"github.com/baharkarakas/cirqle-payments/internal/logger"
	"github.com/baharkarakas/cirqle-payments/internal/metrics"
	"github.com/baharkarakas/cirqle-payments/internal/middleware"
	"github.com/baharkarakas/cirqle-payments/internal/mpesa"
	repo "github.com/baharkarakas/cirqle-payments/internal/repository"
	"github.com/baharkarakas/cirqle-payments/internal/repository/memory"
	"github.com/baharkarakas/cirqle-payments/internal/repository/postgres"
	"github.com/baharkarakas/cirqle-payments/internal/repository/redisstore"
	"github.com/baharkarakas/cirqle-payments/internal/services"
	"github.com/baharkarakas/cirqle-payments/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	txns, audits, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// missing credentials are a per-request 500, not a crash
	var gw services.Gateway
	if c, err := mpesa.NewClient(cfg.Mpesa); err != nil {
		log.Warn("mpesa gateway disabled", "err", err)
	} else {
		gw = c
		log.Info("mpesa gateway ready", "env", cfg.Mpesa.Env, "base_url", mpesa.BaseURL(cfg.Mpesa.Env))
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka", "err", err)
			os.Exit(1)
		}
		pub = kp
	}
	defer pub.Close()

	wp := worker.NewPool(cfg.Workers)
	defer wp.Stop()

	paySvc := services.NewPaymentService(txns, audits, gw).WithTimeout(cfg.Mpesa.Timeout)
	cbSvc := services.NewCallbackService(txns, audits, pub, wp)
	statusSvc := services.NewStatusService(txns)

	var tm *auth.TokenManager
	if cfg.JWTSecret != "" {
		tm = auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, 0)
	}

	metrics.Init()
	r := api.NewRouter(api.RouterDeps{
		Cfg:       cfg,
		Payments:  handlers.NewPaymentHandler(paySvc, statusSvc),
		Callbacks: handlers.NewCallbackHandler(cbSvc, cfg.CallbackToken),
		Auth:      middleware.NewAuthMiddleware(tm, cfg.Env),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (repo.Transactions, repo.AuditLogs, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if cfg.Migrate {
			if err := db.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		repos := postgres.NewRepositories(pool)
		return repos.Transactions, repos.AuditLogs, pool.Close, nil
	case "redis":
		rdb, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			return nil, nil, nil, err
		}
		return redisstore.NewTransactions(rdb), redisstore.NewAuditLogs(rdb), closer(rdb), nil
	case "memory":
		slog.Warn("memory store: state is lost on restart and not shared between instances")
		return memory.NewTransactions(), memory.NewAuditLogs(), func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func closer(c io.Closer) func() { return func() { _ = c.Close() } }

// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kassa-billing/internal/config"
	"kassa-billing/internal/domain/ports/adapter"
	kassaAdapter "kassa-billing/internal/infra/adapters/kassa"
	pg "kassa-billing/internal/infra/db/postgres"
	"kassa-billing/internal/infra/logging"
	"kassa-billing/internal/infra/metrics"
	red "kassa-billing/internal/infra/redis"
	"kassa-billing/internal/infra/sched"
	"kassa-billing/internal/infra/web"
	"kassa-billing/internal/infra/worker"
	"kassa-billing/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, relaxed checks)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	paymentRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	couponRepo := pg.NewCouponRepoCacheDecorator(pg.NewCouponRepo(pool), redisClient, cfg.Redis.TTL)
	eventRepo := pg.NewEventLogRepo(pool)

	// ---- Provider gateway ----
	var gateway adapter.KassaGateway
	if cfg.Kassa.LocalMode && cfg.Kassa.ShopID == "" {
		logger.Warn().Msg("kassa: no credentials, using in-memory gateway")
		gateway = kassaAdapter.NewNoOpGateway()
	} else {
		gw, err := kassaAdapter.NewGateway(cfg.Kassa.ShopID, cfg.Kassa.SecretKey, cfg.Kassa.Timeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("kassa gateway init failed")
		}
		gateway = gw
	}

	// ---- Use cases ----
	webhookUC := usecase.NewWebhookUseCase(txManager, paymentRepo, subRepo, eventRepo, gateway, logger)
	paymentUC := usecase.NewPaymentUseCase(txManager, paymentRepo, subRepo, couponRepo, gateway, webhookUC, cfg.Kassa.ReturnURL, logger)
	subUC := usecase.NewSubscriptionUseCase(txManager, subRepo, logger)
	recurringUC := usecase.NewRecurringChargeUseCase(txManager, subRepo, paymentRepo, gateway, webhookUC, locker, logger)

	// ---- Web server ----
	trust, err := web.NewTrustChecker(cfg.Kassa.AllowedCIDRs, cfg.Kassa.LocalMode)
	if err != nil {
		logger.Fatal().Err(err).Msg("trust checker init failed")
	}
	auth := web.NewAuthManager(cfg.Admin.JWTSecret, !cfg.Runtime.Dev, cfg.Admin.SessionTTL)
	server := web.NewServer(paymentUC, webhookUC, subUC, recurringUC, paymentRepo, eventRepo,
		trust, auth, cfg.Admin.APIKey, cfg.Admin.CronSecret, logger)
	httpSrv := web.NewHTTPServer(fmt.Sprintf(":%d", cfg.Admin.Port), server.Router())

	// ---- Background workers ----
	chargePool := worker.NewPool(cfg.Scheduler.ChargeWorkers, logger)
	chargePool.Start(ctx)
	defer chargePool.Stop()

	chargeWorker := sched.NewChargeWorker(recurringUC, chargePool, cfg.Scheduler.ChargeInterval, cfg.Scheduler.ChargeBatchLimit, logger)
	go chargeWorker.Start(ctx)

	reconciler := sched.NewReconcileWorker(paymentRepo, gateway, webhookUC, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileAfter, logger)
	go reconciler.Start(ctx)

	go func() {
		logger.Info().Int("port", cfg.Admin.Port).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
}

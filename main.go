package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/config"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/routes"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/services/payments"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/utils"
	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/worker"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Error loading config:", err)
	}

	// Initialize logger
	if err := utils.InitLogger(cfg.Env, cfg.LogLevel); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer utils.SyncLogger()
	logger := utils.GetLogger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := config.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// Per-transaction locks are shared through Redis. A single development
	// instance can run without it.
	var locker payments.Locker
	redisClient, err := config.NewRedisClient(cfg, cfg.RedisLockDB)
	switch {
	case err == nil:
		defer redisClient.Close()
		locker = payments.NewRedisLocker(redisClient, "dr7:lock:")
	case cfg.IsProduction():
		logger.Fatal("redis is required in production", zap.Error(err))
	default:
		logger.Warn("redis unavailable, using in-process locks", zap.Error(err))
		locker = payments.NewLocalLocker()
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
	queue := asynq.NewClient(redisOpt)
	defer queue.Close()

	gateway, err := nexi.NewClient(nexi.Config{
		BaseURL: cfg.NexiBaseURL,
		Alias:   cfg.NexiAlias,
		MACKey:  cfg.NexiMACKey,
		Timeout: cfg.NexiTimeout,
	})
	if err != nil {
		logger.Fatal("failed to create gateway client", zap.Error(err))
	}

	svc := payments.NewService(db, gateway, locker, worker.NewEnqueuer(queue, logger), payments.Settings{
		MaxVerifyAttempts: cfg.VerifyMaxAttempts,
		ResendCooldown:    cfg.ResendCooldown,
		LockTTL:           cfg.LockTTL,
		OTPWindow:         cfg.OTPCountdown,
	}, logger)

	router, err := routes.SetupRouter(routes.Dependencies{Config: cfg, DB: db, Payments: svc, Logger: logger})
	if err != nil {
		logger.Fatal("failed to set up router", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mailer := utils.NewMailer(utils.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx, worker.NewServer(redisOpt, 5), worker.NewMux(mailer, logger), logger)
	}()

	// the outcome endpoint holds a request for up to POLL_TIMEOUT
	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.PollTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	wg.Wait()
}

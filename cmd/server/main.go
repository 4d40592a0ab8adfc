package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sellerledger/backend/internal/cache"
	"sellerledger/backend/internal/config"
	"sellerledger/backend/internal/domain"
	"sellerledger/backend/internal/events"
	"sellerledger/backend/internal/httpapi"
	"sellerledger/backend/internal/logger"
	"sellerledger/backend/internal/metrics"
	"sellerledger/backend/internal/notify"
	"sellerledger/backend/internal/scheduler"
	"sellerledger/backend/internal/service"
	"sellerledger/backend/internal/store"
	"sellerledger/backend/internal/store/memory"
	pgstore "sellerledger/backend/internal/store/postgres"
)

type ledgerStore interface {
	store.Repository
	store.OrderSource
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo ledgerStore
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal("migrate ledger schema", zap.Error(err))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	summaries := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			summaries = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	m := metrics.New()
	dispatcher, err := events.NewDispatcher(cfg.EventWorkers, log)
	if err != nil {
		log.Fatal("event dispatcher", zap.Error(err))
	}
	dispatcher.Subscribe(events.AuditLogger(log.Named("audit")))
	dispatcher.Subscribe(m.EventHandler())

	var notifier notify.Notifier = notify.LogNotifier{Logger: log.Named("notify")}
	if cfg.SMTP.Enabled() {
		notifier = notify.NewEmailNotifier(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
		log.Info("notifications: smtp", zap.String("host", cfg.SMTP.Host))
	}
	dispatcher.Subscribe(notify.Subscriber(repo, notifier, log.Named("notify")))

	svc := service.New(repo, repo, cfg.Ledger(), summaries, dispatcher, log.Named("ledger"))

	jobs, err := scheduler.NewManager(svc, scheduler.Options{
		AutoApproveAfter: time.Duration(cfg.AutoApproveAfterHours) * time.Hour,
		Interval:         time.Duration(cfg.AutoApproveIntervalMinutes) * time.Minute,
		OnApproved:       m.AutoApproved,
	}, log.Named("scheduler"))
	if err != nil {
		log.Fatal("scheduler", zap.Error(err))
	}
	if err := jobs.Start(); err != nil {
		log.Fatal("scheduler start", zap.Error(err))
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.AdminUsername, cfg.AdminPasswordHash)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:      cfg.AllowedOrigin,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
		Metrics:            m,
		Logger:             log.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("seller ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	if err := jobs.Stop(); err != nil {
		log.Warn("scheduler shutdown error", zap.Error(err))
	}
	dispatcher.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AdminPasswordHash != "" && !strings.HasPrefix(cfg.AdminPasswordHash, "$2") {
		return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash, not a plain password")
	}
	for name, rate := range map[string]bool{
		"DEFAULT_COMMISSION_RATE":     domain.ValidRate(cfg.DefaultCommissionRate),
		"DEFAULT_PLATFORM_FEE_RATE":   domain.ValidRate(cfg.DefaultPlatformFeeRate),
		"PAYOUT_TRANSACTION_FEE_RATE": domain.ValidRate(cfg.PayoutTransactionFeeRate),
	} {
		if !rate {
			return fmt.Errorf("%s must be within [0,100]", name)
		}
	}
	if cfg.DefaultPlatformFeeRate.GreaterThan(cfg.DefaultCommissionRate) {
		return fmt.Errorf("DEFAULT_PLATFORM_FEE_RATE must not exceed DEFAULT_COMMISSION_RATE")
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fx-signal-auditor/internal/api"
	"fx-signal-auditor/internal/audit"
	"fx-signal-auditor/internal/auth"
	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/database"
	"fx-signal-auditor/internal/logger"
	"fx-signal-auditor/internal/metrics"
	"fx-signal-auditor/internal/notify"
	"fx-signal-auditor/internal/pricefeed"
	"fx-signal-auditor/internal/reconciler"
	"fx-signal-auditor/internal/report"
	gormrepository "fx-signal-auditor/internal/repository/gorm"
	"fx-signal-auditor/internal/scheduler"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger, zap.Fields(zap.String("service", "auditor")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.", zap.String("driver", cfg.Database.Driver))
	store := gormrepository.New(db)

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, continuing without it until it recovers", zap.Error(err))
		}
	}

	prices := priceSource(cfg, log, store, redisClient)

	m := metrics.New("")
	hub := notify.NewHub(log)
	go hub.Run(ctx)

	rec := reconciler.NewReconciler(log, cfg.Reconciler, store, store, prices)
	rec.Notices = hub
	rec.Metrics = m

	verifier := report.NewVerifier(log, cfg.Report, store, store)
	verifier.Metrics = m

	// Expiration audit
	listenerDone := make(chan struct{})
	feed := auditFeed(cfg, log, store, redisClient)
	if feed != nil {
		listener := audit.NewListener(log, cfg.Audit, feed, store)
		listener.Notices = hub
		listener.Metrics = m
		listener.Repairer = rec
		go func() {
			defer close(listenerDone)
			if err := listener.Run(ctx); err != nil {
				log.Error("Audit listener stopped", zap.Error(err))
			}
		}()
	} else {
		close(listenerDone)
		log.Info("Expiration audit disabled")
	}

	sched := scheduler.New(log, ctx)
	if err := sched.Add("repair", cfg.Reconciler.Schedule, scheduler.RepairJob(rec)); err != nil {
		log.Fatal("Invalid repair schedule", zap.Error(err))
	}
	if err := sched.Add("report", cfg.Report.Schedule, scheduler.ReportJob(log, verifier)); err != nil {
		log.Fatal("Invalid report schedule", zap.Error(err))
	}
	sched.Start()

	deps := api.Deps{
		Logger:   log,
		DB:       store,
		Repairer: rec,
		Verifier: verifier,
		Outcomes: store,
		Notices:  hub,
		Metrics:  m,
	}
	if cfg.Server.JWTSecret != "" {
		deps.Auth = &auth.JWT{Secret: []byte(cfg.Server.JWTSecret)}
	} else {
		log.Warn("server.jwt_secret is empty, API routes are unauthenticated")
	}
	server := api.NewServer(cfg.Server.Port, api.NewRouter(deps), log)
	server.Start()

	<-ctx.Done()
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	sched.Stop()
	<-listenerDone

	log.Info("Auditor has been shut down.")
}

// priceSource prefers the market state table, then the quote service. Redis, when configured,
// caches whichever answered.
func priceSource(cfg config.Config, log *zap.Logger, store *gormrepository.Store, rdb *redis.Client) pricefeed.Source {
	sources := []pricefeed.Source{pricefeed.NewStoreSource(store, cfg.PriceFeed.MaxAge)}
	if cfg.PriceFeed.QuoteBaseURL != "" {
		sources = append(sources, pricefeed.NewQuoteClient(cfg.PriceFeed, log))
	}

	var src pricefeed.Source = pricefeed.NewChain(log, sources...)
	if rdb != nil && cfg.PriceFeed.CacheTTL > 0 {
		src = pricefeed.NewCachedSource(rdb, src, cfg.PriceFeed.CacheTTL, log)
	}
	return src
}

func auditFeed(cfg config.Config, log *zap.Logger, store *gormrepository.Store, rdb *redis.Client) audit.Feed {
	switch cfg.Audit.Feed {
	case "redis":
		if rdb == nil {
			log.Fatal("audit.feed is redis but redis.addr is empty")
		}
		return audit.NewRedisFeed(rdb, cfg.Audit.RedisChannel, log)
	case "pgnotify":
		if cfg.Database.Driver != "postgres" {
			log.Fatal("audit.feed pgnotify requires the postgres driver")
		}
		return audit.NewPGNotifyFeed(cfg.Database.DSN, database.StatusChannel, log)
	case "poll":
		return audit.NewPollFeed(store, cfg.Audit.PollInterval, log)
	case "", "none":
		return nil
	default:
		log.Fatal("Unknown audit feed", zap.String("feed", cfg.Audit.Feed))
		return nil
	}
}

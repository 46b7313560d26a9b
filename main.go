package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"participation-points/config"
	"participation-points/handlers"
	"participation-points/metrics"
	"participation-points/middleware"
	"participation-points/repository"
	"participation-points/rewards"
	"participation-points/services"
	"participation-points/utils"
	"participation-points/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ invalid configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("❌ failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := repository.AutoMigrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	store := repository.NewGormStore(db)

	catalog := loadCatalog(ctx, cfg, logger)

	var cache services.TotalCache
	if cfg.Redis.Addr != "" {
		rdb := utils.NewRedisClient(cfg.Redis, logger)
		defer func() { _ = rdb.Close() }()
		cache = utils.NewRedisTotalCache(rdb, cfg.Redis.TTL, logger)
	}

	outbox := services.NewOutboxService(store, logger)
	achievements := services.NewAchievementService(store, catalog, outbox, logger)
	totals := services.NewTotalService(store, store, achievements, cache, logger)
	ledger := services.NewLedgerService(store, catalog, totals, achievements, logger)
	subscriptions := services.NewSubscriptionService(store, logger)

	var sender workers.Sender
	switch cfg.Delivery.Transport {
	case "kafka":
		ks := workers.NewKafkaSender(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = ks.Close() }()
		sender = ks
	default:
		sender = workers.NewPushSender(subscriptions, utils.NewHTTPClient(cfg.Delivery.ItemTimeout), cfg.Delivery.PushTTL, logger)
	}
	worker := workers.NewDeliveryWorker(outbox, sender, cfg.Delivery.BatchSize, cfg.Delivery.ItemTimeout, logger)

	sched, err := workers.StartScheduler(ctx, worker, totals, workers.ScheduleConfig{
		DeliveryInterval:  cfg.Delivery.Interval,
		ReconcileInterval: cfg.ReconcileInterval,
	}, logger)
	if err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Service-Token, X-Request-ID",
		MaxAge:       86400,
	}))
	app.Use(middleware.Metrics())
	app.Use(middleware.RequestLogger(logger))

	serviceAuth := middleware.ServiceTokenAuth(cfg.ServiceToken, logger)

	handlers.SetupPointsRoutes(app, handlers.PointsDeps{
		Ledger:       ledger,
		Totals:       totals,
		Achievements: achievements,
		AwardLimiter: middleware.NewKeyedLimiter(cfg.AwardRatePerMinute),
		ServiceAuth:  serviceAuth,
	})
	handlers.SetupNotificationRoutes(app, handlers.NotificationDeps{
		Worker:        worker,
		Outbox:        outbox,
		Subscriptions: subscriptions,
		CronAuth:      middleware.BearerAuth(cfg.CronSecret, logger),
		ServiceAuth:   serviceAuth,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		pingCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok", "rewards_version": catalog.Version()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ participation points service running",
		zap.String("port", cfg.Port),
		zap.String("transport", sender.Name()),
		zap.Strings("cors_origins", cfg.AllowedOrigins),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := sched.Shutdown(); err != nil {
		logger.Error("scheduler shutdown", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// loadCatalog prefers the R2 object, then a local file, then the embedded default.
// A configured source that fails to load is fatal.
func loadCatalog(ctx context.Context, cfg *config.Config, logger *zap.Logger) *rewards.Catalog {
	src := rewards.Source{File: cfg.Rewards.File}
	if cfg.Rewards.R2Key != "" {
		client, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			logger.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		src.Remote = func(ctx context.Context) ([]byte, error) {
			return utils.FetchR2Object(ctx, client, cfg.R2.Bucket, cfg.Rewards.R2Key)
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	catalog, origin, err := rewards.Load(loadCtx, src)
	if err != nil {
		logger.Fatal("failed to load reward catalog", zap.Error(err))
	}
	logger.Info("reward catalog loaded",
		zap.String("origin", origin),
		zap.String("version", catalog.Version()),
		zap.Int("actions", len(catalog.Actions())),
	)
	return catalog
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/evpower/csms/internal/adapter/bus"
	"github.com/evpower/csms/internal/adapter/cache"
	payprovider "github.com/evpower/csms/internal/adapter/external/payment"
	"github.com/evpower/csms/internal/adapter/http/fiber/handlers"
	"github.com/evpower/csms/internal/adapter/http/fiber/middleware"
	v16 "github.com/evpower/csms/internal/adapter/ocpp/v16"
	"github.com/evpower/csms/internal/adapter/queue"
	"github.com/evpower/csms/internal/adapter/storage/postgres"
	"github.com/evpower/csms/internal/adapter/vault"
	wsAdapter "github.com/evpower/csms/internal/adapter/websocket"
	"github.com/evpower/csms/internal/observability/telemetry"
	"github.com/evpower/csms/internal/service/charging"
	paymentsvc "github.com/evpower/csms/internal/service/payment"
	"github.com/evpower/csms/internal/service/reconciler"
	"github.com/evpower/csms/internal/service/station"
	"github.com/evpower/csms/pkg/config"
)

const serviceName = "csms"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync()

	logger.Info("starting csms",
		zap.String("environment", cfg.App.Environment),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("ocpp_port", cfg.OCPP.Port))

	// Secrets from Vault override the static config when enabled.
	if cfg.Vault.Enabled {
		secrets, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token)
		if err != nil {
			logger.Fatal("failed to connect to vault", zap.Error(err))
		}
		if secret, err := secrets.GetPaymentSecret(cfg.Vault.SecretPath); err == nil {
			cfg.Payment.Secret = secret
		} else {
			logger.Fatal("failed to read payment secret from vault", zap.Error(err))
		}
		if dbURL, err := secrets.GetDatabaseURL(); err == nil {
			cfg.Database.URL = dbURL
		}
	}

	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(serviceName,
			cfg.OpenTelemetry.Jaeger.Endpoint, cfg.OpenTelemetry.Jaeger.SamplerParam)
		if err != nil {
			logger.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	db, err := postgres.NewConnection(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to get underlying sql db", zap.Error(err))
	}
	defer sqlDB.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisCache.Close()

	messageQueue, err := queue.New(cfg.Queue.Kind, cfg.Queue.NATSURL, cfg.Queue.AMQPURL, logger)
	if err != nil {
		logger.Fatal("failed to connect to message queue", zap.Error(err))
	}
	defer messageQueue.Close()

	// Repositories
	clientRepo := postgres.NewClientRepository(db, logger)
	stationRepo := postgres.NewStationRepository(db, logger)
	connectorRepo := postgres.NewConnectorRepository(db, logger)
	sessionRepo := postgres.NewSessionRepository(db, logger)
	meterRepo := postgres.NewMeterSampleRepository(db, logger)
	topUpRepo := postgres.NewTopUpRepository(db, logger)
	tariffRepo := postgres.NewTariffRepository(db, logger)

	// Station connectivity plane
	registry := bus.NewRegistry(redisCache, cfg.OCPP.HeartbeatIntervalDuration(), logger)
	commandRouter := bus.NewCommandRouter(redisCache, redisCache, registry, logger)

	// Services
	stationDirectory := station.NewService(stationRepo, connectorRepo, redisCache, cfg.OCPP, logger)
	chargingService := charging.NewService(sessionRepo, clientRepo, stationRepo, connectorRepo,
		meterRepo, tariffRepo, registry, commandRouter, messageQueue, cfg.Charging, logger)

	provider, err := payprovider.New(cfg.Payment.ProviderKind, payprovider.Options{
		BaseURL:       cfg.Payment.BaseURL,
		MerchantID:    cfg.Payment.MerchantID,
		Secret:        cfg.Payment.Secret,
		InvoiceExpiry: cfg.Payment.InvoiceExpiry,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize payment provider", zap.Error(err))
	}
	paymentService := paymentsvc.NewService(topUpRepo, clientRepo, provider, messageQueue, logger)

	// OCPP server
	ocppServer := v16.NewServer(cfg.OCPP, chargingService, stationDirectory, registry, commandRouter, logger)
	go func() {
		logger.Info("starting ocpp server", zap.Int("port", cfg.OCPP.Port))
		if err := ocppServer.Start(); err != nil {
			logger.Fatal("ocpp server failed", zap.Error(err))
		}
	}()

	// Realtime updates hub
	hub := wsAdapter.NewHub(logger)
	if err := hub.Attach(messageQueue); err != nil {
		logger.Fatal("failed to subscribe updates hub", zap.Error(err))
	}
	go hub.Run()

	// HTTP API
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(middleware.NewCORS(cfg.HTTP))
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
	}))

	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Get("/health/ready", func(c *fiber.Ctx) error {
		if err := sqlDB.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("database not ready")
		}
		if err := redisCache.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("cache not ready")
		}
		return c.SendString("Ready")
	})

	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})

	v1 := app.Group("/api/v1", middleware.Deadline(cfg.HTTP.RequestTimeout))

	paymentHandler := handlers.NewPaymentHandler(paymentService, provider, logger)
	v1.Post("/payment/webhook", paymentHandler.Webhook)

	stationHandler := handlers.NewStationHandler(stationDirectory, logger)
	v1.Get("/stations/:id/status", stationHandler.Status)

	client := v1.Group("", middleware.ClientRequired(), middleware.Idempotency(redisCache, logger))

	chargingHandler := handlers.NewChargingHandler(chargingService, logger)
	client.Post("/charging/start", chargingHandler.Start)
	client.Post("/charging/:id/stop", chargingHandler.Stop)
	client.Get("/charging/:id", chargingHandler.Get)

	client.Post("/balance/topup", paymentHandler.CreateTopUp)
	client.Get("/balance", paymentHandler.GetBalance)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/updates", websocket.New(func(c *websocket.Conn) {
		clientID := c.Query("client_id")
		hub.AddClient(c, clientID)
	}))

	// Background reconciliation
	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	reconcilerService := reconciler.NewService(sessionRepo, topUpRepo, chargingService,
		stationDirectory, redisCache, cfg.Reconciler, cfg.OCPP, logger)
	go reconcilerService.Run(reconcilerCtx)

	go func() {
		logger.Info("starting http server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopReconciler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := ocppServer.Stop(ctx); err != nil {
		logger.Error("ocpp shutdown failed", zap.Error(err))
	}

	logger.Info("server exited")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fairyhunter13/flash-coupon-system/internal/config"
	"github.com/fairyhunter13/flash-coupon-system/internal/handler"
	"github.com/fairyhunter13/flash-coupon-system/internal/messaging"
	"github.com/fairyhunter13/flash-coupon-system/internal/repository"
	"github.com/fairyhunter13/flash-coupon-system/internal/reservation"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
	"github.com/fairyhunter13/flash-coupon-system/internal/validator"
	"github.com/fairyhunter13/flash-coupon-system/pkg/database"
	applog "github.com/fairyhunter13/flash-coupon-system/pkg/logger"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	applog.Init(cfg.Log.Level, cfg.Log.Pretty)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Create context for startup
	ctx := context.Background()

	// Initialize database pool with retry
	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	rdb, err := database.NewRedisClient(ctx, database.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	writer := messaging.NewWriter(cfg.Kafka.Brokers)

	// Initialize Fiber with production-ready configuration
	app := fiber.New(fiber.Config{
		AppName:      "Flash Coupon System",
		ReadTimeout:  30 * time.Second,  // Max time to read request
		WriteTimeout: 30 * time.Second,  // Max time to write response
		IdleTimeout:  120 * time.Second, // Max time for keep-alive connections
		BodyLimit:    1 * 1024 * 1024,   // 1MB body limit (explicit, prevents large payloads)
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New()) // Adds X-Request-ID header to all requests
	app.Use(logger.New())

	validate := validator.New()

	// Layered wiring: repositories, services, handlers
	couponRepo := repository.NewCouponRepository(pool)
	userCouponRepo := repository.NewUserCouponRepository(pool)
	store := reservation.NewStore(rdb, reservation.WithKeyPrefix(cfg.Redis.KeyPrefix))
	publisher := messaging.NewPublisher(writer, cfg.Kafka.IssueTopic)

	couponService := service.NewCouponService(pool, couponRepo, userCouponRepo)
	reservationService := service.NewReservationService(couponRepo, store, publisher, cfg.Issuance.ReservationTTL)

	handler.RegisterRoutes(app, handler.Handlers{
		Coupon:       handler.NewCouponHandler(couponService, validate),
		Reservation:  handler.NewReservationHandler(reservationService, validate),
		UserCoupon:   handler.NewUserCouponHandler(couponService),
		Health:       handler.NewHealthHandler(pool, store),
		ReserveLimit: handler.ReserveRateLimit(cfg.Server.ReserveRateRPS, cfg.Server.ReserveBurst),
	})

	// Start server with graceful shutdown
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	log.Info().Int("timeout_seconds", cfg.Server.ShutdownTimeout).Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second,
	)
	defer shutdownCancel()

	// Shutdown server (waits for in-flight requests)
	log.Info().Msg("waiting for in-flight requests to complete...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Flush pending publishes before closing the stores they depend on
	if err := writer.Close(); err != nil {
		log.Error().Err(err).Msg("error closing kafka writer")
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("error closing redis client")
	}
	log.Info().Msg("closing database connections...")
	pool.Close()
	log.Info().Msg("server stopped")
}

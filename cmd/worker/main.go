package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/flash-coupon-system/internal/config"
	"github.com/fairyhunter13/flash-coupon-system/internal/messaging"
	"github.com/fairyhunter13/flash-coupon-system/internal/repository"
	"github.com/fairyhunter13/flash-coupon-system/internal/reservation"
	"github.com/fairyhunter13/flash-coupon-system/internal/service"
	"github.com/fairyhunter13/flash-coupon-system/pkg/database"
	"github.com/fairyhunter13/flash-coupon-system/pkg/lock"
	applog "github.com/fairyhunter13/flash-coupon-system/pkg/logger"
)

// The worker runs the fulfillment consumer and the dead-letter compensator.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	applog.Init(cfg.Log.Level, cfg.Log.Pretty)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, cfg.DB.DSN(), 5)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
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
	defer func() { _ = rdb.Close() }()

	store := reservation.NewStore(rdb, reservation.WithKeyPrefix(cfg.Redis.KeyPrefix))
	locker := lock.NewLocker(rdb,
		lock.WithWait(cfg.Issuance.LockWait),
		lock.WithLease(cfg.Issuance.LockLease),
	)

	couponRepo := repository.NewCouponRepository(pool)
	userCouponRepo := repository.NewUserCouponRepository(pool)
	failedEventRepo := repository.NewFailedEventRepository(pool)

	fulfillment := service.NewFulfillmentService(
		pool, couponRepo, userCouponRepo, store, locker,
		cfg.Issuance.IssuedTTL, cfg.DB.LockTimeout,
	)
	compensation := service.NewCompensationService(userCouponRepo, store, cfg.Issuance.IssuedTTL)

	policy := messaging.RetryPolicy{
		MaxAttempts: cfg.Issuance.MaxAttempts,
		Initial:     cfg.Issuance.BackoffInitial,
		Max:         cfg.Issuance.BackoffMax,
	}

	dltWriter := messaging.NewWriter(cfg.Kafka.Brokers)
	defer func() { _ = dltWriter.Close() }()

	issueReader := messaging.NewReader(cfg.Kafka.Brokers, cfg.Kafka.IssueTopic, cfg.Kafka.IssueGroup)
	dltReader := messaging.NewReader(cfg.Kafka.Brokers, cfg.Kafka.DLTTopic, cfg.Kafka.DLTGroup)

	issueConsumer := messaging.NewIssueConsumer(issueReader, dltWriter, cfg.Kafka.DLTTopic, fulfillment, policy)
	dltConsumer := messaging.NewDeadLetterConsumer(dltReader, cfg.Kafka.DLTTopic, compensation, failedEventRepo, policy)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return issueConsumer.Run(gctx) })
	g.Go(func() error { return dltConsumer.Run(gctx) })

	log.Info().
		Str("issue_topic", cfg.Kafka.IssueTopic).
		Str("dlt_topic", cfg.Kafka.DLTTopic).
		Int("max_attempts", policy.MaxAttempts).
		Msg("worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("worker stopped")
}

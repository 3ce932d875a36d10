// Package app builds the object graph shared by the gateway and opsctl.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/auth"
	"github.com/lalithlochan/backoffice/internal/circuitbreaker"
	"github.com/lalithlochan/backoffice/internal/config"
	"github.com/lalithlochan/backoffice/internal/db"
	"github.com/lalithlochan/backoffice/internal/devices"
	"github.com/lalithlochan/backoffice/internal/jobs"
	"github.com/lalithlochan/backoffice/internal/nps"
	"github.com/lalithlochan/backoffice/internal/redis"
	"github.com/lalithlochan/backoffice/internal/sqs"
	"github.com/lalithlochan/backoffice/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *db.DB
	Repo  *db.Repository
	Redis *redis.Client // nil when Redis is unreachable

	Tokens     *auth.TokenService
	Auth       *auth.Authenticator
	Registry   *devices.Registry
	Queue      *jobs.Queue
	Scheduler  *nps.Scheduler
	Renderer   *nps.Renderer
	Dispatcher *worker.Dispatcher

	// One breaker per live channel sender; empty in dry run.
	Breakers []*circuitbreaker.CircuitBreaker

	// Set only when Redis is available.
	PollLimiter *redis.RateLimiter
	Idempotency *redis.IdempotencyService
}

// New connects to Postgres (required) and Redis (optional) and wires every
// component.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		AppName:  "backoffice",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = database
	a.Repo = db.NewRepository(database, logger)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable: poll limit, idempotency, dispatch lock and device cache disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		a.Redis = redisClient
	}

	if a.Tokens, err = auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL); err != nil {
		a.Close()
		return nil, err
	}
	a.Auth = auth.NewAuthenticator(a.Repo, a.Tokens, logger)

	var deviceCache devices.Cache
	var locker worker.Locker
	if a.Redis != nil {
		deviceCache = redis.NewDeviceCache(a.Redis)
		locker = redis.NewLocker(a.Redis, logger)
		a.PollLimiter = redis.NewRateLimiter(a.Redis, logger, redis.RateLimitConfig{
			Limit:  1,
			Window: cfg.DeviceMinPollInterval,
		})
		a.Idempotency = redis.NewIdempotencyService(a.Redis, logger)
	}
	a.Registry = devices.NewRegistry(a.Repo, deviceCache, cfg.DeviceCacheTTL, logger)

	var publisher jobs.OutcomePublisher
	if cfg.SQSOutcomeQueueURL != "" {
		producer, err := sqs.NewProducer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSOutcomeQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, job outcomes will not be published", zap.Error(err))
		} else {
			publisher = producer
		}
	}
	a.Queue = jobs.NewQueue(a.Repo, publisher, logger)

	a.Scheduler = nps.NewScheduler(a.Repo, nps.Config{
		BatchSize:   cfg.NPSBatchSize,
		MaxAttempts: cfg.NPSMaxAttempts,
	}, logger)
	a.Renderer = nps.NewRenderer(cfg.NPSSurveyBaseURL)

	sender, err := a.newSender(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Dispatcher = worker.NewDispatcher(a.Scheduler, a.Renderer, sender, locker, worker.Config{
		CycleTimeout: cfg.NPSCycleTimeout,
		SendTimeout:  cfg.NPSSendTimeout,
	}, logger)

	return a, nil
}

// newSender builds the channel senders, each behind its own breaker.
func (a *App) newSender(ctx context.Context, cfg *config.Config, logger *zap.Logger) (worker.Sender, error) {
	if cfg.NPSDryRun {
		logger.Info("nps dry run: messages are logged, not sent")
		return worker.NewLogSender(logger), nil
	}

	protect := func(name string, s worker.Sender) worker.Sender {
		cb := circuitbreaker.New(circuitbreaker.DefaultConfig(name), logger)
		a.Breakers = append(a.Breakers, cb)
		return circuitbreaker.NewProtectedSender(s, cb, logger)
	}

	ses, err := worker.NewSESSender(ctx, worker.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SES email sender: %w", err)
	}
	senders := []worker.Sender{protect("ses", ses)}

	sns, err := worker.NewSNSSender(ctx, worker.SNSConfig{Region: cfg.SNSRegion}, logger)
	if err != nil {
		logger.Warn("SNS sender unavailable, SMS surveys disabled", zap.Error(err))
	} else {
		senders = append(senders, protect("sns", sns))
	}

	if cfg.WhatsAppGatewayURL != "" {
		wa, err := worker.NewWhatsAppSender(worker.WhatsAppConfig{
			GatewayURL: cfg.WhatsAppGatewayURL,
			Token:      cfg.WhatsAppGatewayToken,
			Timeout:    time.Duration(cfg.WebhookTimeout) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		senders = append(senders, protect("whatsapp", wa))
	}

	logger.Info("initialized nps senders",
		zap.Bool("sms_enabled", sns != nil),
		zap.Bool("whatsapp_enabled", cfg.WhatsAppGatewayURL != ""),
	)
	return worker.NewMultiSender(logger, senders...), nil
}

// Health pings Postgres; Redis being down only degrades the gateway.
func (a *App) Health(ctx context.Context) error {
	return a.DB.Health(ctx)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

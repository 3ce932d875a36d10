package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is built once at process start and handed to every component.
type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion          string
	SESFromEmail       string
	SNSRegion          string // AWS region for SNS (SMS)
	SQSRegion          string
	SQSOutcomeQueueURL string // sync job outcome events; empty disables publishing

	// WhatsApp HTTP gateway
	WhatsAppGatewayURL   string
	WhatsAppGatewayToken string
	WebhookTimeout       int // seconds

	// Token service
	JWTSecret string
	TokenTTL  time.Duration

	// Device registry and job queue
	DeviceMinPollInterval time.Duration
	DeviceCacheTTL        time.Duration
	JobClaimTimeout       time.Duration

	// NPS scheduler
	NPSBatchSize     int
	NPSMaxAttempts   int
	NPSSurveyBaseURL string
	NPSCycleTimeout  time.Duration
	NPSSendTimeout   time.Duration
	// NPSDryRun routes every channel to the log sender.
	NPSDryRun bool
}

const devSecret = "dev-only-secret-change-me"

// Load reads an optional .env file and then the environment, falling back to defaults.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "backoffice",
		DBName:    "backoffice",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "nps@backoffice.local",

		WebhookTimeout: 30,

		TokenTTL: 12 * time.Hour,

		DeviceMinPollInterval: 10 * time.Second,
		DeviceCacheTTL:        30 * time.Second,
		JobClaimTimeout:       15 * time.Minute,

		NPSBatchSize:     50,
		NPSMaxAttempts:   3,
		NPSSurveyBaseURL: "https://nps.backoffice.local/r",
		NPSCycleTimeout:  2 * time.Minute,
		NPSSendTimeout:   10 * time.Second,
	}

	var err error

	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}
	if cfg.DBPort, err = envInt("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}
	if cfg.RedisPort, err = envInt("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// AWS
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}
	cfg.SNSRegion = envOr("SNS_REGION", cfg.AWSRegion)
	cfg.SQSRegion = envOr("SQS_REGION", cfg.AWSRegion)
	cfg.SQSOutcomeQueueURL = os.Getenv("SQS_OUTCOME_QUEUE_URL")

	// WhatsApp gateway
	cfg.WhatsAppGatewayURL = os.Getenv("WHATSAPP_GATEWAY_URL")
	cfg.WhatsAppGatewayToken = os.Getenv("WHATSAPP_GATEWAY_TOKEN")
	if cfg.WebhookTimeout, err = envInt("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}

	// Token service
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		if cfg.Env == "production" {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = devSecret
	}
	if cfg.TokenTTL, err = envDuration("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return nil, err
	}

	// Devices and jobs
	if cfg.DeviceMinPollInterval, err = envDuration("DEVICE_MIN_POLL_INTERVAL", cfg.DeviceMinPollInterval); err != nil {
		return nil, err
	}
	if cfg.DeviceCacheTTL, err = envDuration("DEVICE_CACHE_TTL", cfg.DeviceCacheTTL); err != nil {
		return nil, err
	}
	if cfg.JobClaimTimeout, err = envDuration("JOB_CLAIM_TIMEOUT", cfg.JobClaimTimeout); err != nil {
		return nil, err
	}

	// NPS
	if cfg.NPSBatchSize, err = envInt("NPS_BATCH_SIZE", cfg.NPSBatchSize); err != nil {
		return nil, err
	}
	if cfg.NPSMaxAttempts, err = envInt("NPS_MAX_ATTEMPTS", cfg.NPSMaxAttempts); err != nil {
		return nil, err
	}
	if url := os.Getenv("NPS_SURVEY_BASE_URL"); url != "" {
		cfg.NPSSurveyBaseURL = url
	}
	if cfg.NPSCycleTimeout, err = envDuration("NPS_CYCLE_TIMEOUT", cfg.NPSCycleTimeout); err != nil {
		return nil, err
	}
	if cfg.NPSSendTimeout, err = envDuration("NPS_SEND_TIMEOUT", cfg.NPSSendTimeout); err != nil {
		return nil, err
	}
	if cfg.NPSDryRun, err = envBool("NPS_DRY_RUN", cfg.Env != "production"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

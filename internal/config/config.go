package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	AuthJWTSecret string
	AuthJWTIssuer string

	CronSecret string

	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Payment      PaymentConfig
	Deposit      DepositConfig
	Sweeper      SweeperConfig
	Email        EmailConfig
	Notification NotificationConfig
	MetricsPush  MetricsPushConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled            bool
	WebhookPerMinute   int
	WebhookBurst       int
	SweepLockTTLSecond int
}

type PaymentConfig struct {
	VerifyWebhookSignatures bool
	HTTPTimeout             time.Duration
	AmountTolerancePercent  float64

	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalWebhookID    string

	StripeBaseURL       string
	StripeSecretKey     string
	StripeWebhookSecret string
}

type DepositConfig struct {
	DefaultRefundDays int
	DefaultCurrency   string
}

type SweeperConfig struct {
	Enabled        bool
	Schedule       string
	BatchSize      int
	ReleaseTimeout time.Duration
	JobTimeout     time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type NotificationConfig struct {
	Driver       string
	AMQPURL      string
	AMQPExchange string
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	production := IsProductionEnv(environment)

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "stayledger"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   environment,
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		NodeID:        getenvInt64("NODE_ID", 1),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:        getenv("DATABASE_TYPE", "postgres"),
		DBHost:        getenv("DATABASE_HOST", "localhost"),
		DBPort:        getenv("DATABASE_PORT", "5432"),
		DBName:        getenv("DATABASE_NAME", "stayledger"),
		DBUser:        getenv("DATABASE_USER", "postgres"),
		DBPassword:    getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:     getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn: getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn: getenvInt("DATABASE_MAX_OPEN_CONN", 50),

		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthJWTIssuer: strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "stayledger")),
		CronSecret:    strings.TrimSpace(getenv("CRON_SECRET", "")),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:            getenvBool("RATE_LIMIT_ENABLED", false),
			WebhookPerMinute:   getenvInt("RATE_LIMIT_WEBHOOK_PER_MINUTE", 100),
			WebhookBurst:       getenvInt("RATE_LIMIT_WEBHOOK_BURST", 100),
			SweepLockTTLSecond: getenvInt("SWEEP_LOCK_TTL_SECONDS", 300),
		},
		Payment: PaymentConfig{
			// Signature checks cannot be disabled in production.
			VerifyWebhookSignatures: production || getenvBool("WEBHOOK_VERIFY_SIGNATURES", true),
			HTTPTimeout:             getenvDuration("PAYMENT_HTTP_TIMEOUT", 15*time.Second),
			AmountTolerancePercent:  getenvFloat("PAYMENT_AMOUNT_TOLERANCE_PERCENT", 1),
			PayPalBaseURL:           getenv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			PayPalClientID:          strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
			PayPalClientSecret:      strings.TrimSpace(getenv("PAYPAL_CLIENT_SECRET", "")),
			PayPalWebhookID:         strings.TrimSpace(getenv("PAYPAL_WEBHOOK_ID", "")),
			StripeBaseURL:           getenv("STRIPE_BASE_URL", "https://api.stripe.com"),
			StripeSecretKey:         strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			StripeWebhookSecret:     strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
		Deposit: DepositConfig{
			DefaultRefundDays: getenvInt("DEPOSIT_DEFAULT_REFUND_DAYS", 7),
			DefaultCurrency:   strings.ToUpper(getenv("DEPOSIT_DEFAULT_CURRENCY", "EUR")),
		},
		Sweeper: SweeperConfig{
			Enabled:        getenvBool("SWEEPER_ENABLED", true),
			Schedule:       getenv("SWEEPER_SCHEDULE", "@every 15m"),
			BatchSize:      getenvInt("SWEEPER_BATCH_SIZE", 100),
			ReleaseTimeout: getenvDuration("SWEEP_RELEASE_TIMEOUT", 10*time.Second),
			JobTimeout:     getenvDuration("SWEEP_JOB_TIMEOUT", 5*time.Minute),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@stayledger.local"),
		},
		Notification: NotificationConfig{
			Driver:       strings.ToLower(getenv("NOTIFICATION_DRIVER", "log")),
			AMQPURL:      strings.TrimSpace(getenv("AMQP_URL", "")),
			AMQPExchange: getenv("AMQP_EXCHANGE", "stayledger.events"),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return IsProductionEnv(c.Environment)
}

func IsProductionEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

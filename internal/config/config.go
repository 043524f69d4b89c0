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

	Logger LoggerConfig

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Bus BusConfig

	Gateway GatewayConfig

	AuthTokenSecret string
}

type LoggerConfig struct {
	Level string
}

// BusConfig bounds event delivery retries before an event is dead-lettered.
type BusConfig struct {
	Backend             string
	Stream              string
	MaxDeliveryAttempts int
	RetryBaseDelay      time.Duration
}

// GatewayConfig carries payment provider credentials. The webhook secret is
// the one configured in the provider dashboard for callback signing.
type GatewayConfig struct {
	BaseURL        string
	KeyID          string
	KeySecret      string
	WebhookSecret  string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "sahayak"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "sahayak"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Bus: BusConfig{
			Backend:             strings.ToLower(getenv("BUS_BACKEND", "redis")),
			Stream:              getenv("BUS_STREAM", "sahayak:events"),
			MaxDeliveryAttempts: getenvInt("BUS_MAX_DELIVERY_ATTEMPTS", 5),
			RetryBaseDelay:      getenvDuration("BUS_RETRY_BASE_DELAY", 200*time.Millisecond),
		},
		Gateway: GatewayConfig{
			BaseURL:        getenv("GATEWAY_BASE_URL", "https://api.razorpay.com/v1"),
			KeyID:          strings.TrimSpace(getenv("GATEWAY_KEY_ID", "")),
			KeySecret:      strings.TrimSpace(getenv("GATEWAY_KEY_SECRET", "")),
			WebhookSecret:  strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
			RequestTimeout: getenvDuration("GATEWAY_REQUEST_TIMEOUT", 10*time.Second),
			MaxAttempts:    getenvInt("GATEWAY_MAX_ATTEMPTS", 3),
			RetryBaseDelay: getenvDuration("GATEWAY_RETRY_BASE_DELAY", 500*time.Millisecond),
		},
		AuthTokenSecret: strings.TrimSpace(getenv("AUTH_TOKEN_SECRET", "")),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal engine.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Localization
	Language string // "en" or "zh"

	// Storage
	DBPath        string
	WatchlistPath string

	// Order persistence
	EnableOrderWAL bool
	OrderWALPath   string

	// Default trading mode for watchlist entries that omit one.
	TradingMode string

	// Broker
	BrokerBaseURL     string
	BrokerAccessToken string
	BrokerRPS         float64

	// Market data
	FeedURL     string
	UseMockFeed bool
	MockSymbols []string

	// HMA service
	HMAService     string // "local", "http" or "grpc"
	HMAServiceAddr string
	HMAPeriod      int
	HMATimeframe   time.Duration
	HMASettleDelay time.Duration
	HMARetryDelay  time.Duration

	ReversalConfirmation time.Duration

	// Engine loops
	OrderPollInterval  time.Duration
	TimerSweepInterval time.Duration
	NetworkTimeout     time.Duration
	RetryAttempts      int
	Workers            int
	AutoExitOnStopLoss bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  strings.ToLower(getEnv("ENV", "development")),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Language:             getEnv("LANGUAGE", "en"),
		DBPath:               getEnv("DB_PATH", "./data/engine.db"),
		WatchlistPath:        getEnv("WATCHLIST_PATH", "./watchlist.yaml"),
		EnableOrderWAL:       getEnv("ENABLE_ORDER_WAL", "true") == "true",
		OrderWALPath:         getEnv("ORDER_WAL_PATH", "./data/order_wal"),
		TradingMode:          strings.ToUpper(getEnv("TRADING_MODE", "PAPER")),
		BrokerBaseURL:        getEnv("BROKER_BASE_URL", ""),
		BrokerAccessToken:    os.Getenv("BROKER_ACCESS_TOKEN"),
		BrokerRPS:            getEnvFloat("BROKER_RPS", 10),
		FeedURL:              getEnv("FEED_URL", ""),
		UseMockFeed:          getEnv("USE_MOCK_FEED", "true") == "true",
		MockSymbols:          splitAndTrim(getEnv("MOCK_SYMBOLS", "NIFTY24000CE,NIFTY24000PE")),
		HMAService:           strings.ToLower(getEnv("HMA_SERVICE", "local")),
		HMAServiceAddr:       getEnv("HMA_SERVICE_ADDR", "localhost:50051"),
		HMAPeriod:            getEnvInt("HMA_PERIOD", 55),
		HMATimeframe:         time.Duration(getEnvInt("HMA_TIMEFRAME_MINUTES", 5)) * time.Minute,
		HMASettleDelay:       getEnvDuration("HMA_SETTLE_DELAY", 2*time.Second),
		HMARetryDelay:        getEnvDuration("HMA_RETRY_DELAY", 5*time.Second),
		ReversalConfirmation: getEnvDuration("REVERSAL_CONFIRMATION", 15*time.Minute),
		OrderPollInterval:    getEnvDuration("ORDER_POLL_INTERVAL", 3*time.Second),
		TimerSweepInterval:   getEnvDuration("TIMER_SWEEP_INTERVAL", time.Second),
		NetworkTimeout:       getEnvDuration("NETWORK_TIMEOUT", 5*time.Second),
		RetryAttempts:        getEnvInt("RETRY_ATTEMPTS", 3),
		Workers:              getEnvInt("WORKERS", 8),
		AutoExitOnStopLoss:   getEnv("AUTO_EXIT_ON_STOPLOSS", "true") == "true",
	}, nil
}

// Production reports whether logs should be emitted as JSON.
func (c *Config) Production() bool {
	return c.Env == "production" || c.Env == "prod"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

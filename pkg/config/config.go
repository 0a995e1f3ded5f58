package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cascade scopes for close-time cancellation of sibling entries.
const (
	CascadeSymbol = "symbol"
	CascadeSignal = "signal"
)

// Config is the immutable settings snapshot taken once at startup and passed to
// every component.
type Config struct {
	Port   string
	DBPath string

	// BingX perpetual swap
	BingXAPIKey     string
	BingXAPISecret  string
	BingXDemo       bool
	ExchangeTimeout time.Duration
	LeverageDelay   time.Duration

	// Paper venue when true or when no API key is set
	DryRun        bool
	DryRunBalance float64

	// Optional override of the embedded symbol rules
	SymbolRulesPath string

	// Action tokens
	ActionSecret   string
	ActionTokenTTL time.Duration
	RedisURL       string

	// Risk / lifecycle
	MaxOpenPositions int
	CascadeScope     string

	// Auth
	JWTSecret            string
	OperatorPasswordHash string
	PollerKey            string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	PublicBaseURL    string

	// Price polling
	PriceFetchConcurrency int
	PriceCacheTTL         time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                getEnv("DB_PATH", "./data/signal-core.db"),
		BingXAPIKey:           os.Getenv("BINGX_API_KEY"),
		BingXAPISecret:        os.Getenv("BINGX_API_SECRET"),
		BingXDemo:             getEnv("BINGX_DEMO", "true") == "true",
		ExchangeTimeout:       getEnvDuration("EXCHANGE_TIMEOUT", 15*time.Second),
		LeverageDelay:         getEnvDuration("LEVERAGE_DELAY", 500*time.Millisecond),
		DryRun:                getEnv("DRY_RUN", "false") == "true",
		DryRunBalance:         getEnvFloat("DRY_RUN_BALANCE", 10000),
		SymbolRulesPath:       os.Getenv("SYMBOL_RULES_PATH"),
		ActionSecret:          os.Getenv("ACTION_SECRET"),
		ActionTokenTTL:        getEnvDuration("ACTION_TOKEN_TTL", time.Hour),
		RedisURL:              os.Getenv("REDIS_URL"),
		MaxOpenPositions:      getEnvInt("MAX_OPEN_POSITIONS", 0),
		CascadeScope:          strings.ToLower(getEnv("CASCADE_SCOPE", CascadeSymbol)),
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		OperatorPasswordHash:  os.Getenv("OPERATOR_PASSWORD_HASH"),
		PollerKey:             os.Getenv("POLLER_KEY"),
		TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:        os.Getenv("TELEGRAM_CHAT_ID"),
		PublicBaseURL:         strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		PriceFetchConcurrency: getEnvInt("PRICE_FETCH_CONCURRENCY", 4),
		PriceCacheTTL:         getEnvDuration("PRICE_CACHE_TTL", 2*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.ActionSecret == "" {
		return errors.New("ACTION_SECRET is required")
	}
	if c.CascadeScope != CascadeSymbol && c.CascadeScope != CascadeSignal {
		return errors.New("CASCADE_SCOPE must be 'symbol' or 'signal'")
	}
	if c.PriceFetchConcurrency <= 0 {
		c.PriceFetchConcurrency = 1
	}
	if c.BingXAPIKey == "" || c.BingXAPISecret == "" {
		c.DryRun = true
	}
	if c.ActionTokenTTL <= 0 {
		return errors.New("ACTION_TOKEN_TTL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("15s") or bare milliseconds ("500").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

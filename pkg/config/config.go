package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPairs maps the tracked short symbols to Binance spot pairs.
var DefaultPairs = map[string]string{
	"BTC":  "BTCUSDT",
	"ETH":  "ETHUSDT",
	"BNB":  "BNBUSDT",
	"SOL":  "SOLUSDT",
	"ADA":  "ADAUSDT",
	"XRP":  "XRPUSDT",
	"DOGE": "DOGEUSDT",
	"DOT":  "DOTUSDT",
}

// Config holds environment-driven settings for the paper trading core.
type Config struct {
	Port string

	// Database
	DBDriver    string // "sqlite" (default) or "postgres"
	DBPath      string
	DatabaseURL string

	// Quote providers
	BinanceBase   string
	ForexBase     string
	HTTPTimeout   time.Duration
	PriceCacheTTL time.Duration
	FxCacheTTL    time.Duration
	UpstreamRPS   float64
	UpstreamBurst int
	Pairs         map[string]string // short symbol -> upstream pair

	// Ledger
	InitialCash     decimal.Decimal
	ShortCashPolicy string // "legacy" or "symmetric"

	// API
	JWTSecret      string
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	CORSOrigin     string

	// Logging
	LogLevel  string
	LogFormat string
}

type pairsFile struct {
	Pairs map[string]string `yaml:"pairs"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	initialCash, err := decimal.NewFromString(getEnv("INITIAL_CASH", "10000"))
	if err != nil {
		return nil, fmt.Errorf("parse INITIAL_CASH: %w", err)
	}

	pairs, err := loadPairs(getEnv("PAIRS_FILE", ""))
	if err != nil {
		return nil, err
	}

	policy := strings.ToLower(getEnv("SHORT_CASH_POLICY", "legacy"))
	if policy != "legacy" && policy != "symmetric" {
		return nil, fmt.Errorf("SHORT_CASH_POLICY must be legacy or symmetric, got %q", policy)
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", "sqlite"))
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", driver)
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DBDriver:        driver,
		DBPath:          getEnv("DB_PATH", "./data/papertrade.db"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		BinanceBase:     strings.TrimRight(getEnv("BINANCE_BASE", "https://api.binance.com"), "/"),
		ForexBase:       strings.TrimRight(getEnv("FOREX_BASE", "https://api.frankfurter.app"), "/"),
		HTTPTimeout:     getEnvMillis("HTTP_TIMEOUT_MS", 10_000),
		PriceCacheTTL:   getEnvMillis("PRICE_CACHE_TTL_MS", 30_000),
		FxCacheTTL:      getEnvMillis("FX_CACHE_TTL_MS", 60_000),
		UpstreamRPS:     getEnvFloat("UPSTREAM_RPS", 10),
		UpstreamBurst:   getEnvInt("UPSTREAM_BURST", 20),
		Pairs:           pairs,
		InitialCash:     initialCash,
		ShortCashPolicy: policy,
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret"),
		TokenTTL:        getEnvDuration("TOKEN_TTL", 72*time.Hour),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		CORSOrigin:      getEnv("CORS_ORIGIN", "*"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
	}, nil
}

// loadPairs starts from DefaultPairs, applies PAIRS_FILE (YAML) and then
// <SYMBOL>_PAIR environment overrides.
func loadPairs(path string) (map[string]string, error) {
	pairs := make(map[string]string, len(DefaultPairs))
	for sym, pair := range DefaultPairs {
		pairs[sym] = pair
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read pairs file: %w", err)
		}
		var f pairsFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse pairs file: %w", err)
		}
		for sym, pair := range f.Pairs {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			pair = strings.ToUpper(strings.TrimSpace(pair))
			if sym == "" || pair == "" {
				continue
			}
			pairs[sym] = pair
		}
	}

	for sym := range pairs {
		if v := os.Getenv(sym + "_PAIR"); v != "" {
			pairs[sym] = strings.ToUpper(strings.TrimSpace(v))
		}
	}
	return pairs, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvMillis(key string, defMs int) time.Duration {
	return time.Duration(getEnvInt(key, defMs)) * time.Millisecond
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

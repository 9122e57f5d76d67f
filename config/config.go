package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/joho/godotenv"
)

type Config struct {
	// Gateway
	GatewayURL   string // default: http://localhost:5000
	ChatEndpoint string // default: /gateway/chat/invocations
	Container    string // default: mlflow-gateway
	Timeout      time.Duration

	// Pricing
	DefaultModel string
	PricingFile  string
	PricingURL   string

	// Usage store
	UsageStore  string // "none", "sqlite" or "postgres"
	SQLitePath  string
	PostgresDSN string

	// Cache
	RedisAddr string

	// Observability
	OTELExporterType     string // "none", "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	Debug                bool

	// Stub gateway
	Port       string
	StubAPIKey string

	// Rate Limiting
	DefaultRateLimitRPM int64 // requests per minute, default: 60
	EvalConcurrency     int
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		GatewayURL:           strings.TrimRight(getEnv("GATEWAY_URL", "http://localhost:5000"), "/"),
		ChatEndpoint:         getEnv("GATEWAY_CHAT_ENDPOINT", "/gateway/chat/invocations"),
		Container:            getEnv("GATEWAY_CONTAINER", "mlflow-gateway"),
		DefaultModel:         getEnv("DEFAULT_MODEL", "gpt-3.5-turbo"),
		PricingFile:          os.Getenv("PRICING_FILE"),
		PricingURL:           os.Getenv("PRICING_URL"),
		UsageStore:           strings.ToLower(getEnv("USAGE_STORE", "none")),
		SQLitePath:           getEnv("SQLITE_PATH", "gateway-ops.db"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "none"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		Port:                 getEnv("PORT", "5000"),
		StubAPIKey:           os.Getenv("STUB_API_KEY"),
	}

	timeoutSec, err := strconv.Atoi(getEnv("REQUEST_TIMEOUT", "60"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid REQUEST_TIMEOUT")
	}
	if timeoutSec <= 0 {
		return nil, errors.Errorf("REQUEST_TIMEOUT must be positive, got %d", timeoutSec)
	}
	cfg.Timeout = time.Duration(timeoutSec) * time.Second

	// Rate Limiting Default
	rpm, err := strconv.ParseInt(getEnv("DEFAULT_RATE_LIMIT_RPM", "60"), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "invalid DEFAULT_RATE_LIMIT_RPM")
	}
	cfg.DefaultRateLimitRPM = rpm

	concurrency, err := strconv.Atoi(getEnv("EVAL_CONCURRENCY", "1"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid EVAL_CONCURRENCY")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	cfg.EvalConcurrency = concurrency

	debug, err := strconv.ParseBool(getEnv("DEBUG", "false"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid DEBUG")
	}
	cfg.Debug = debug

	// Validation
	switch cfg.UsageStore {
	case "none", "sqlite":
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("POSTGRES_DSN is required when USAGE_STORE=postgres")
		}
	default:
		return nil, errors.Errorf("unknown USAGE_STORE %q", cfg.UsageStore)
	}

	switch cfg.OTELExporterType {
	case "none", "stdout", "otlp":
	default:
		return nil, errors.Errorf("unknown OTEL_EXPORTER_TYPE %q", cfg.OTELExporterType)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

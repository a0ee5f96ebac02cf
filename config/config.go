package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port       string // default: 8080
	AppName    string
	AppVersion string

	// Logging
	LogLevel  string // default: info
	LogFormat string // "json" or "console"

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// KRA open data API
	KRAAPIKey           string
	KRABaseURL          string
	KRATimeout          time.Duration // default: 30s
	KRAMaxRetries       int           // default: 3
	KRAScheduleEndpoint string
	KRAResultsEndpoint  string
	KRAHorseEndpoint    string
	KRAEntriesEndpoint  string

	// Gemini
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// Auth
	JWTSecret      string
	AllowedOrigins []string

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	PredictionRateLimitPerMin int // requests per minute per caller, default: 30
}

// Load reads .env (if present) and the environment. It only fails on values
// that are present but malformed; use the Validate helpers for required keys.
func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		AppName:              getEnv("APP_NAME", "race-predictor"),
		AppVersion:           getEnv("APP_VERSION", "0.1.0"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		KRAAPIKey:            os.Getenv("KRA_API_KEY"),
		KRABaseURL:           getEnv("KRA_API_BASE_URL", "https://apis.data.go.kr/B551015"),
		KRAScheduleEndpoint:  os.Getenv("KRA_ENDPOINT_SCHEDULE"),
		KRAResultsEndpoint:   os.Getenv("KRA_ENDPOINT_RESULTS"),
		KRAHorseEndpoint:     os.Getenv("KRA_ENDPOINT_HORSE"),
		KRAEntriesEndpoint:   os.Getenv("KRA_ENDPOINT_ENTRIES"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		GeminiBaseURL:        os.Getenv("GEMINI_BASE_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		AllowedOrigins:       splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	timeout, err := time.ParseDuration(getEnv("KRA_API_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid KRA_API_TIMEOUT: %w", err)
	}
	cfg.KRATimeout = timeout

	retries, err := strconv.Atoi(getEnv("KRA_API_MAX_RETRIES", "3"))
	if err != nil || retries < 1 {
		return nil, fmt.Errorf("invalid KRA_API_MAX_RETRIES: %q", os.Getenv("KRA_API_MAX_RETRIES"))
	}
	cfg.KRAMaxRetries = retries

	rpm, err := strconv.Atoi(getEnv("PREDICTION_RATE_LIMIT_PER_MIN", "30"))
	if err != nil || rpm < 1 {
		return nil, fmt.Errorf("invalid PREDICTION_RATE_LIMIT_PER_MIN: %q", os.Getenv("PREDICTION_RATE_LIMIT_PER_MIN"))
	}
	cfg.PredictionRateLimitPerMin = rpm

	return cfg, nil
}

// ValidateServer checks everything the HTTP server needs.
func (c *Config) ValidateServer() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if err := c.ValidateKRA(); err != nil {
		return err
	}
	return c.ValidateGemini()
}

func (c *Config) ValidateKRA() error {
	if c.KRAAPIKey == "" {
		return fmt.Errorf("KRA_API_KEY is required")
	}
	return nil
}

func (c *Config) ValidateGemini() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// External services
	NormalizerAPIURL string
	OpenAIAPIKey     string
	OpenAIModel      string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxConcurrency int

	// Engine
	ConfidenceThreshold float64 // extraction admission gate, 0-100
	BatchConcurrency    int     // batch worker pool size
	RunTimeout          time.Duration
	ExtractionTimeout   time.Duration

	// Pricing variant margins (percent)
	MarginMinimum float64
	MarginIdeal   float64
	MarginMaximum float64

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Persistence (PostgREST store; in-memory when unset)
	StoreURL    string
	StoreAPIKey string

	// Rule packs loaded at startup (directory of YAML files; optional)
	RulePackDir string

	// Auth (bearer middleware disabled when secret is empty)
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		NormalizerAPIURL: getEnv("NORMALIZER_API_URL", "http://localhost:8081"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxBackoff:     getEnvDuration("MAX_BACKOFF", 5*time.Second),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 70),
		BatchConcurrency:    getEnvInt("BATCH_CONCURRENCY", 4),
		RunTimeout:          getEnvDuration("RUN_TIMEOUT", 2*time.Minute),
		ExtractionTimeout:   getEnvDuration("EXTRACTION_TIMEOUT", 90*time.Second),

		MarginMinimum: getEnvFloat("MARGIN_MINIMUM", 10),
		MarginIdeal:   getEnvFloat("MARGIN_IDEAL", 25),
		MarginMaximum: getEnvFloat("MARGIN_MAXIMUM", 40),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		StoreURL:    getEnv("STORE_URL", ""),
		StoreAPIKey: getEnv("STORE_API_KEY", ""),

		RulePackDir: getEnv("RULE_PACK_DIR", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

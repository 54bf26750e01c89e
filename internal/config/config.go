package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Gemini AI
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int

	// Sessions
	SessionSecret  string
	SessionIdleTTL time.Duration

	// Status pacing shown while an analysis is in flight
	StatusFirstDelay  time.Duration
	StatusSecondDelay time.Duration

	// Analysis rate limiting (per client IP)
	AnalysisRatePerMinute int
	AnalysisRateBurst     int

	// Optional backends
	RedisURL    string
	DatabaseURL string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                  getEnvOrDefault("PORT", "8080"),
		Env:                   getEnvOrDefault("ENV", "development"),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		GeminiAPIKey:          mustGetEnv("GEMINI_API_KEY"),
		GeminiModel:           getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiConcurrentReqs:  getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		SessionSecret:         getEnvOrDefault("SESSION_SECRET", ""),
		SessionIdleTTL:        time.Duration(getEnvAsIntOrDefault("SESSION_IDLE_TTL_MINUTES", 60)) * time.Minute,
		StatusFirstDelay:      time.Duration(getEnvAsIntOrDefault("STATUS_FIRST_DELAY_MS", 2000)) * time.Millisecond,
		StatusSecondDelay:     time.Duration(getEnvAsIntOrDefault("STATUS_SECOND_DELAY_MS", 4500)) * time.Millisecond,
		AnalysisRatePerMinute: getEnvAsIntOrDefault("ANALYSIS_RATE_PER_MINUTE", 6),
		AnalysisRateBurst:     getEnvAsIntOrDefault("ANALYSIS_RATE_BURST", 2),
		RedisURL:              getEnvOrDefault("REDIS_URL", ""),
		DatabaseURL:           getEnvOrDefault("DATABASE_URL", ""),
		FrontendURL:           getEnvOrDefault("FRONTEND_URL", "http://localhost:8080"),
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = randomSecret()
	}
	if cfg.GeminiConcurrentReqs < 1 {
		cfg.GeminiConcurrentReqs = 1
	}

	return cfg
}

// IsProduction reports whether the service runs with production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// randomSecret is used when SESSION_SECRET is unset; sessions then do not
// survive a restart, which matches their in-memory lifetime anyway.
func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("failed to generate session secret: %v", err))
	}
	return hex.EncodeToString(buf)
}

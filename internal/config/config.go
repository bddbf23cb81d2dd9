package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	UseRedisQueue bool

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Routing engine tunables.
	MatchThreshold        float64
	AvgHandlingSeconds    int
	DefaultMaxConcurrent  int
	DrainBatchSize        int
	UseSuggestedOwnerPref bool

	// Lead intake rate limiting.
	IntakeRatePerSecond float64
	IntakeBurst         int

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		UseRedisQueue: getEnvAsBool("USE_REDIS_QUEUE", false),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),

		MatchThreshold:        getEnvAsFloat("ROUTING_MATCH_THRESHOLD", 0),
		AvgHandlingSeconds:    getEnvAsInt("ROUTING_AVG_HANDLING_SECONDS", 120),
		DefaultMaxConcurrent:  getEnvAsInt("ROUTING_DEFAULT_MAX_CONCURRENT", 3),
		DrainBatchSize:        getEnvAsInt("ROUTING_DRAIN_BATCH_SIZE", 10),
		UseSuggestedOwnerPref: getEnvAsBool("TRIAGE_USE_SUGGESTED_OWNER", true),

		IntakeRatePerSecond: getEnvAsFloat("INTAKE_RATE_PER_SECOND", 5),
		IntakeBurst:         getEnvAsInt("INTAKE_BURST", 20),

		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

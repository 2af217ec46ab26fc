package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr       string
	AppEnv           string
	DevelopmentStage bool
	GatewayURL       string
	ReadonlyGASURL   string
	GatewayTimeout   time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
	SessionSecret    string
	SecureCookies    bool
	CacheBackend     string
	RedisURL         string
	DBPath           string
	GateConfig       string
	TimeZone         string
	LogLevel         string
	LogFormat        string
	LogFile          string
}

// devSessionSecret signs cookies in development only. Any other APP_ENV must
// set SESSION_SECRET.
const devSessionSecret = "portal-dev-session-secret-change-me"

// Load reads configuration from the environment. When ENV_FILE names a file
// it is loaded first; variables already set in the environment win.
func Load() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	appEnv := getEnv("APP_ENV", "production")
	secret := getEnv("SESSION_SECRET", "")
	if secret == "" {
		if appEnv != "development" {
			return nil, fmt.Errorf("SESSION_SECRET is required when APP_ENV=%s", appEnv)
		}
		secret = devSessionSecret
	}

	return &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		AppEnv:           appEnv,
		DevelopmentStage: getEnvBool("DEVELOPMENT_STAGE", false),
		GatewayURL:       getEnv("GATEWAY_URL", "http://localhost:3000/api/gas"),
		ReadonlyGASURL:   getEnv("READONLY_GAS_URL", ""),
		GatewayTimeout:   getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		RetryAttempts:    getEnvInt("RETRY_ATTEMPTS", 3),
		RetryDelay:       getEnvDuration("RETRY_DELAY", time.Second),
		SessionSecret:    secret,
		SecureCookies:    getEnvBool("SECURE_COOKIES", false),
		CacheBackend:     getEnv("CACHE_BACKEND", "memory"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DBPath:           getEnv("DB_PATH", "/data/portal.db"),
		GateConfig:       getEnv("GATE_CONFIG", ""),
		TimeZone:         getEnv("TIME_ZONE", "Asia/Tokyo"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		LogFile:          getEnv("LOG_FILE", ""),
	}, nil
}

// Development reports whether the portal runs as a local development build,
// which relaxes referrer checks and exposes the gate override control.
func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// Location resolves TimeZone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvBool(key string, defaultVal bool) bool {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

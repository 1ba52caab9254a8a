package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Addr                   string
	Environment            string
	DatabaseURL            string
	StoreDriver            string
	RunMigrations          bool
	MigrationsDir          string
	RunSeed                bool
	SeedAdminEmail         string
	JWTSecret              string
	LogLevel               string
	MaxBodyBytes           int64
	RateLimitPerMinute     int
	CORSAllowedOrigins     []string
	KafkaBrokers           []string
	KafkaTopic             string
	NotifyQueueSize        int
	PeriodAutoLockInterval time.Duration
	PeriodAutoLockGrace    time.Duration
	MetricsEnabled         bool
	DepartmentPipeline     []string
}

// Load reads a .env file when one exists and then the process environment.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Addr:                   getEnv("APP_ADDR", ":8080"),
		Environment:            getEnv("APP_ENV", "development"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		StoreDriver:            strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		RunMigrations:          getEnvBool("RUN_MIGRATIONS", true),
		MigrationsDir:          getEnv("MIGRATIONS_DIR", "migrations"),
		RunSeed:                getEnvBool("RUN_SEED", true),
		SeedAdminEmail:         getEnv("SEED_ADMIN_EMAIL", ""),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		MaxBodyBytes:           int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute:     getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", nil),
		KafkaBrokers:           getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "appraisal.submission-events"),
		NotifyQueueSize:        getEnvInt("NOTIFY_QUEUE_SIZE", 128),
		PeriodAutoLockInterval: getEnvDuration("PERIOD_AUTOLOCK_INTERVAL", 0),
		PeriodAutoLockGrace:    getEnvDuration("PERIOD_AUTOLOCK_GRACE", 24*time.Hour),
		MetricsEnabled:         getEnvBool("METRICS_ENABLED", true),
		DepartmentPipeline:     getEnvList("DEPARTMENT_PIPELINE", nil),
	}
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.Environment == "production" {
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET must be set to a strong value in production")
		}
		if c.StoreDriver == StoreDriverMemory {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive")
	}
	if c.PeriodAutoLockInterval < 0 || c.PeriodAutoLockGrace < 0 {
		return fmt.Errorf("PERIOD_AUTOLOCK_INTERVAL and PERIOD_AUTOLOCK_GRACE must not be negative")
	}
	return nil
}

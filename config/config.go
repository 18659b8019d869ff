// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // SNAPSHOT_TIMEZONE must resolve on minimal images

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppPort string

	// Database
	DBDriver          string // sqlite3 or mysql
	DBDSN             string // overrides the DB_HOST.. fields when set
	DBHost            string
	DBPort            string
	DBDatabase        string
	DBUsername        string
	DBPassword        string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Redis report cache; empty host disables it
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Asynq worker and scheduler
	AsynqRedisAddr     string
	AsynqRedisPassword string
	AsynqRedisDB       int
	WorkerConcurrency  int

	// HTTP
	JWTSecret          string
	CORSAllowedOrigins []string // empty keeps the router defaults

	// Audit stream; no brokers means log-only audit
	KafkaBrokers    []string
	KafkaAuditTopic string

	// Reports and snapshots
	ReportCacheTTL   time.Duration
	SnapshotCron     string
	SnapshotTimezone string
	SnapshotInterval time.Duration // in-process ticker when no worker runs
	SnapshotTicker   bool

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("../../.env") // when running from cmd/server or cmd/worker

	cfg := &Config{
		AppName: getEnv("APP_NAME", "KSP Transactions"),
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),

		DBDriver:          getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:             getEnv("DB_DSN", ""),
		DBHost:            getEnv("DB_HOST", "127.0.0.1"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBDatabase:        getEnv("DB_DATABASE", "ksp"),
		DBUsername:        getEnv("DB_USERNAME", "ksp"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		AsynqRedisAddr:     getEnv("ASYNQ_REDIS_ADDR", "127.0.0.1:6379"),
		AsynqRedisPassword: getEnv("ASYNQ_REDIS_PASSWORD", ""),
		AsynqRedisDB:       getEnvAsInt("ASYNQ_REDIS_DB", 0),
		WorkerConcurrency:  getEnvAsInt("WORKER_CONCURRENCY", 4),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS"),
		KafkaAuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "ksp.audit"),

		ReportCacheTTL:   getEnvAsDuration("REPORT_CACHE_TTL", 5*time.Minute),
		SnapshotCron:     getEnv("SNAPSHOT_CRON", "55 23 * * *"),
		SnapshotTimezone: getEnv("SNAPSHOT_TIMEZONE", "Asia/Jakarta"),
		SnapshotInterval: getEnvAsDuration("SNAPSHOT_INTERVAL", time.Hour),
		SnapshotTicker:   getEnvAsBool("SNAPSHOT_TICKER", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBDriver != "sqlite3" && c.DBDriver != "mysql" {
		return fmt.Errorf("DB_DRIVER must be sqlite3 or mysql, got %q", c.DBDriver)
	}
	if c.JWTSecret == "" && c.AppEnv == "production" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if _, err := time.LoadLocation(c.SnapshotTimezone); err != nil {
		return fmt.Errorf("SNAPSHOT_TIMEZONE: %w", err)
	}
	return nil
}

// GetDSN returns DB_DSN, or a MySQL DSN built from the DB_* fields, or the
// default SQLite file.
func (c *Config) GetDSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	if c.DBDriver == "sqlite3" {
		return "./data/ksp.db"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBDatabase,
	)
}

func (c *Config) GetRedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// Location is the timezone that defines month boundaries.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SnapshotTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

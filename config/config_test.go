package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("REDIS_HOST", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "./data/ksp.db", cfg.GetDSN())
	assert.Empty(t, cfg.GetRedisAddr())
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	assert.Equal(t, "55 23 * * *", cfg.SnapshotCron)
}

func TestLoad_MySQLAndLists(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_DSN", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_DATABASE", "koperasi")
	t.Setenv("DB_USERNAME", "app")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REPORT_CACHE_TTL", "90s")
	t.Setenv("SNAPSHOT_TICKER", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "app:pw@tcp(db:3307)/koperasi?parseTime=true&loc=UTC", cfg.GetDSN())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "cache:6379", cfg.GetRedisAddr())
	assert.Equal(t, 90*time.Second, cfg.ReportCacheTTL)
	assert.True(t, cfg.SnapshotTicker)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	_, err = config.Load()
	assert.Error(t, err)
}

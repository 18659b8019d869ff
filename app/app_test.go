package app_test

import (
	"context"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/app"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/config"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
)

func sqliteConfig() *config.Config {
	return &config.Config{
		DBDriver:         "sqlite3",
		DBDSN:            ":memory:",
		SnapshotTimezone: "Asia/Jakarta",
		ReportCacheTTL:   time.Minute,
	}
}

func TestNew_SQLiteWithoutOptionalInfrastructure(t *testing.T) {
	// GIVEN: No Redis host and no Kafka brokers
	// WHEN: The app is assembled
	// THEN: Every component is wired and a report can be rendered

	log, _ := logtest.NewNullLogger()
	a, err := app.New(context.Background(), sqliteConfig(), log)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Ping(context.Background()))
	assert.NotNil(t, a.Savings)
	assert.NotNil(t, a.Loans)
	assert.NotNil(t, a.Operator)
	assert.NotNil(t, a.Jobs)

	r, err := a.Reports.Report(context.Background(), report.KindSummary, ledger.Period{Month: 1, Year: 2025}, "")
	require.NoError(t, err)
	assert.Equal(t, report.KindSummary, r.Kind)
}

func TestNew_UnreachableRedisFallsBack(t *testing.T) {
	cfg := sqliteConfig()
	cfg.RedisHost, cfg.RedisPort = "127.0.0.1", "1"

	log, hook := logtest.NewNullLogger()
	a, err := app.New(context.Background(), cfg, log)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "redis unavailable")
}

func TestNew_BadDriver(t *testing.T) {
	cfg := sqliteConfig()
	cfg.DBDriver = "postgres"

	log, _ := logtest.NewNullLogger()
	_, err := app.New(context.Background(), cfg, log)
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	a, err := app.New(context.Background(), sqliteConfig(), log)
	require.NoError(t, err)

	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

/*
Package app assembles the engine from configuration.

PURPOSE:
  Both binaries (cmd/server and cmd/worker) need the same object graph: a
  SQL store, cached settings, an audit sink, a report cache, the processor,
  the workflows and the snapshot job. New builds it once from a Config so
  the two processes can never disagree about how the engine is wired.

OPTIONAL INFRASTRUCTURE:
  REDIS_HOST empty    -> in-process report cache
  Redis unreachable   -> warning, in-process report cache
  KAFKA_BROKERS empty -> audit events only go to the log

SEE ALSO:
  - config/config.go: the settings read here
*/
package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/audit"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/cache"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/config"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/jobs"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/store/sqlstore"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/workflow"
)

type App struct {
	Config *config.Config
	Log    logrus.FieldLogger

	Store     *sqlstore.Store
	Settings  *sqlstore.Settings
	Processor *ledger.Processor
	Savings   *workflow.Savings
	Loans     *workflow.Loans
	Operator  *workflow.Operator
	Reports   *report.Aggregator
	Snapshots *report.Snapshots
	Jobs      *jobs.SnapshotHandler

	closers []func() error
}

// New opens every dependency named by cfg. On error, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = sqlstore.New(sqlstore.Config{
		Driver:          cfg.DBDriver,
		DSN:             cfg.GetDSN(),
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)
	a.Settings = sqlstore.NewSettings(a.Store, sqlstore.DefaultSettingsTTL, log)

	sink, err := a.auditSink(cfg, log)
	if err != nil {
		return nil, err
	}

	a.Processor = ledger.NewProcessor(a.Store,
		ledger.WithAuditSink(sink),
		ledger.WithLogger(log),
	)
	a.Savings = workflow.NewSavings(a.Store, a.Store, a.Processor)
	a.Loans = workflow.NewLoans(a.Store, a.Store, a.Processor)
	a.Operator = workflow.NewOperator(a.Store, a.Processor)

	opts := report.Options{
		Cache:    a.reportCache(ctx, cfg, log),
		Settings: a.Settings,
		Audit:    sink,
		Location: cfg.Location(),
		CacheTTL: cfg.ReportCacheTTL,
		Logger:   log,
	}
	a.Reports = report.NewAggregator(a.Store, opts)
	a.Snapshots = report.NewSnapshots(a.Store, opts)
	a.Jobs = jobs.NewSnapshotHandler(a.Snapshots, a.Store, a.Settings,
		jobs.WithLocation(cfg.Location()),
		jobs.WithLogger(log),
	)
	return a, nil
}

func (a *App) auditSink(cfg *config.Config, log logrus.FieldLogger) (ledger.AuditSink, error) {
	logSink := audit.NewLog(log)
	if len(cfg.KafkaBrokers) == 0 {
		return logSink, nil
	}
	k, err := audit.NewKafka(cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, k.Close)
	return audit.Multi{logSink, k}, nil
}

func (a *App) reportCache(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) report.Cache {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return report.NewMemoryCache()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := cache.Connect(ctx, addr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Warn("redis unavailable, using in-process report cache")
		return report.NewMemoryCache()
	}
	a.closers = append(a.closers, client.Close)
	return cache.NewRedis(client)
}

// Ping checks the database; it backs the health endpoint.
func (a *App) Ping(ctx context.Context) error {
	return a.Store.DB().PingContext(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

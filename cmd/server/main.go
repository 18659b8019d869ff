/*
main.go - HTTP API entry point

PURPOSE:
  Starts the KSP transaction and reporting API. Handles configuration,
  dependency assembly, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), parse flags
  2. Assemble the engine (app.New): store, settings, audit, cache
  3. Connect the asynq client for async snapshot generation
  4. Optionally start the in-process month-end ticker
  5. Configure the router and serve

COMMAND-LINE FLAGS:
  -port    HTTP port, overrides APP_PORT
  -db      Database DSN, overrides DB_DSN
           Use ":memory:" with DB_DRIVER=sqlite3 for a throwaway database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the ticker, close the asynq client and the engine
  4. Exit

EXAMPLES:
  ./server -db="./data/ksp.db"
  DB_DRIVER=mysql DB_HOST=db ./server -port=3000

SEE ALSO:
  - cmd/worker/main.go: background snapshot worker
  - api/server.go: Router configuration
  - config/config.go: environment variables
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/api"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/app"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/config"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/jobs"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/logging"
)

const devSecret = "dev-secret-change-me"

func main() {
	log := logging.Get()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log.SetLevel(logging.ParseLevel(cfg.LogLevel))

	port := flag.String("port", cfg.AppPort, "HTTP server port")
	dsn := flag.String("db", cfg.DBDSN, "Database DSN")
	flag.Parse()
	cfg.AppPort, cfg.DBDSN = *port, *dsn

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using the development secret")
		cfg.JWTSecret = devSecret
	}

	engine, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize engine")
	}
	defer engine.Close()

	queue := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPassword,
		DB:       cfg.AsynqRedisDB,
	})
	defer queue.Close()

	var ticker *jobs.Ticker
	if cfg.SnapshotTicker {
		ticker = jobs.NewTicker(engine.Jobs, cfg.SnapshotInterval, log)
		ticker.Start()
		defer ticker.Stop()
	}

	handler := &api.Handler{
		Savings:   engine.Savings,
		Loans:     engine.Loans,
		Operator:  engine.Operator,
		Store:     engine.Store,
		Reports:   engine.Reports,
		Snapshots: engine.Snapshots,
		Ping:      engine.Ping,
		Log:       log,
		Enqueue: func(ctx context.Context, p ledger.Period, actorID string) (string, error) {
			info, err := jobs.EnqueueGenerate(ctx, queue, p, actorID)
			if err != nil {
				return "", err
			}
			return info.ID, nil
		},
	}
	router := api.NewRouter(handler, api.NewAuth(cfg.JWTSecret), cfg.CORSAllowedOrigins...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // exports can take a while
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.AppPort,
			"driver": cfg.DBDriver,
			"env":    cfg.AppEnv,
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server stopped")
}

/*
main.go - Background worker entry point

PURPOSE:
  Runs the asynq server that executes snapshot:generate tasks, and the
  scheduler that enqueues the daily month-end check (SNAPSHOT_CRON, in
  SNAPSHOT_TIMEZONE). Manual generation requests queued by the API land
  on the same handler.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the scheduler stops first, then the server drains
  in-flight tasks, then the engine is closed.

SEE ALSO:
  - jobs/snapshot.go: task handler
  - jobs/scheduler.go: cron registration
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/app"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/config"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/jobs"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/logging"
)

func main() {
	log := logging.Get()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	log.SetLevel(logging.ParseLevel(cfg.LogLevel))

	engine, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize engine")
	}
	defer engine.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPassword,
		DB:       cfg.AsynqRedisDB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
		Logger:   log,
		LogLevel: asynq.InfoLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.WithFields(logrus.Fields{
				"task":    task.Type(),
				"payload": string(task.Payload()),
			}).WithError(err).Error("Task failed")
		}),
	})

	mux := asynq.NewServeMux()
	jobs.Register(mux, engine.Jobs)

	scheduler, err := jobs.NewScheduler(redisOpt, cfg.SnapshotCron, cfg.Location())
	if err != nil {
		log.WithError(err).Fatal("Failed to configure scheduler")
	}
	if err := scheduler.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start scheduler")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("Gracefully shutting down worker...")
		scheduler.Shutdown()
		srv.Shutdown()
	}()

	log.WithFields(logrus.Fields{
		"concurrency": cfg.WorkerConcurrency,
		"cron":        cfg.SnapshotCron,
		"timezone":    cfg.SnapshotTimezone,
	}).Info("Worker starting")
	if err := srv.Run(mux); err != nil {
		log.WithError(err).Fatal("Failed to start worker")
	}

	log.Info("Worker exited")
}

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// DefaultCron fires daily at 23:55; the handler decides whether the day is
// a month end.
const DefaultCron = "55 23 * * *"

// Register binds the handler on mux.
func Register(mux *asynq.ServeMux, h *SnapshotHandler) {
	mux.Handle(TypeSnapshotGenerate, h)
}

// NewScheduler registers the periodic snapshot:generate entry. The caller
// runs it with Start or Run and stops it with Shutdown.
func NewScheduler(redis asynq.RedisConnOpt, cronspec string, loc *time.Location) (*asynq.Scheduler, error) {
	if cronspec == "" {
		cronspec = DefaultCron
	}
	if loc == nil {
		loc = time.UTC
	}
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{Location: loc})

	task, err := NewGenerateTask(GeneratePayload{})
	if err != nil {
		return nil, err
	}
	// Unique keeps a second scheduler replica from enqueueing the same run.
	if _, err := scheduler.Register(cronspec, task,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Hour),
	); err != nil {
		return nil, fmt.Errorf("register %s: %w", TypeSnapshotGenerate, err)
	}
	return scheduler, nil
}

// EnqueueGenerate asks the worker to (re)generate p's DRAFT now.
func EnqueueGenerate(ctx context.Context, client *asynq.Client, p ledger.Period, actorID string) (*asynq.TaskInfo, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	task, err := NewGenerateTask(GeneratePayload{Month: p.Month, Year: p.Year, ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
}

// =============================================================================
// TICKER - In-process fallback when no worker runs
// =============================================================================

// Ticker calls RunMonthEnd on a fixed interval inside the current process.
type Ticker struct {
	Handler  *SnapshotHandler
	Interval time.Duration
	Log      logrus.FieldLogger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewTicker(h *SnapshotHandler, interval time.Duration, log logrus.FieldLogger) *Ticker {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ticker{Handler: h, Interval: interval, Log: log}
}

// Start runs one check immediately and then one per interval.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(t.Interval)
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go t.run(t.ticker, t.stop)
	t.Log.WithField("interval", t.Interval.String()).Info("snapshot ticker started")
}

func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.stop)
	t.wg.Wait()
	t.ticker = nil
	t.Log.Info("snapshot ticker stopped")
}

func (t *Ticker) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer t.wg.Done()
	t.check()
	for {
		select {
		case <-ticker.C:
			t.check()
		case <-stop:
			return
		}
	}
}

func (t *Ticker) check() {
	outcome, err := t.Handler.RunMonthEnd(context.Background())
	if err != nil {
		t.Log.WithField("error", err.Error()).Error("month-end check failed")
		return
	}
	if outcome == OutcomeGenerated {
		t.Log.Info("month-end snapshot generated")
	}
}

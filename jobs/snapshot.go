/*
Package jobs runs the month-end snapshot generation in the background.

PURPOSE:
  On the last day of each month a DRAFT snapshot of the closing period is
  generated automatically, so the report pages have authoritative figures
  ready before anyone finalizes the month.

DESIGN:
  - One asynq task type, snapshot:generate, fired daily by a cron entry
  - The handler acts only on the last day of the month (in the configured
    timezone); on other days it returns without work
  - FINAL periods are skipped; a DRAFT is regenerated in place
  - The snapshot.auto_generate setting can switch the job off at runtime
  - A manual task (EnqueueGenerate) names its period and runs any day

  Deployments without the asynq worker can use Ticker, which calls the same
  handler from inside the API process.

SEE ALSO:
  - report/snapshot.go: Generate and Finalize
  - cmd/worker: the asynq server and scheduler
*/
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
)

// TypeSnapshotGenerate is the asynq task type.
const TypeSnapshotGenerate = "snapshot:generate"

// SystemActor is recorded as the generator of scheduled snapshots.
const SystemActor = "system"

// GeneratePayload is the task body. The cron entry sends an empty payload;
// a manual request names its period and actor.
type GeneratePayload struct {
	Month   int    `json:"month,omitempty"`
	Year    int    `json:"year,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
}

func (p GeneratePayload) manual() bool { return p.Month != 0 || p.Year != 0 }

// Outcome says what a run did.
type Outcome string

const (
	OutcomeGenerated   Outcome = "generated"
	OutcomeNotMonthEnd Outcome = "skipped_not_month_end"
	OutcomeDisabled    Outcome = "skipped_disabled"
	OutcomeFinal       Outcome = "skipped_final"
)

// NewGenerateTask builds a snapshot:generate task.
func NewGenerateTask(p GeneratePayload, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSnapshotGenerate, body, opts...), nil
}

// =============================================================================
// HANDLER
// =============================================================================

// SnapshotHandler implements asynq.Handler for snapshot:generate.
type SnapshotHandler struct {
	snapshots *report.Snapshots
	store     ledger.Queries
	settings  ledger.Settings
	loc       *time.Location
	log       logrus.FieldLogger
	now       func() time.Time
}

type HandlerOption func(*SnapshotHandler)

func WithLocation(loc *time.Location) HandlerOption {
	return func(h *SnapshotHandler) { h.loc = loc }
}

func WithLogger(l logrus.FieldLogger) HandlerOption {
	return func(h *SnapshotHandler) { h.log = l }
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *SnapshotHandler) { h.now = now }
}

func NewSnapshotHandler(snapshots *report.Snapshots, store ledger.Queries, settings ledger.Settings, opts ...HandlerOption) *SnapshotHandler {
	h := &SnapshotHandler{
		snapshots: snapshots,
		store:     store,
		settings:  settings,
		loc:       time.UTC,
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.settings == nil {
		h.settings = ledger.StaticSettings{}
	}
	return h
}

// ProcessTask runs one task. Malformed payloads and FINAL periods on a
// manual request are not retried.
func (h *SnapshotHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p GeneratePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
	}

	if !p.manual() {
		_, err := h.RunMonthEnd(ctx)
		return err
	}

	period := ledger.Period{Month: p.Month, Year: p.Year}
	if err := period.Validate(); err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	actor := p.ActorID
	if actor == "" {
		actor = SystemActor
	}
	if _, err := h.snapshots.Generate(ctx, period, actor); err != nil {
		if errors.Is(err, ledger.ErrSnapshotFinal) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// RunMonthEnd generates the current period's DRAFT when today is the last
// day of the month.
func (h *SnapshotHandler) RunMonthEnd(ctx context.Context) (Outcome, error) {
	today := h.now().In(h.loc)
	period := ledger.PeriodOf(today)
	log := h.log.WithField("period", period.String())

	if !ledger.IsLastDayOfMonth(today) {
		return OutcomeNotMonthEnd, nil
	}
	if !h.settings.Bool(ctx, ledger.SettingSnapshotAutoGenerate, true) {
		log.Info("snapshot auto-generation disabled")
		return OutcomeDisabled, nil
	}

	existing, err := h.store.GetSnapshotByPeriod(ctx, period)
	switch {
	case err == nil && existing.Final():
		log.Info("snapshot already final, skipping")
		return OutcomeFinal, nil
	case err != nil && !errors.Is(err, ledger.ErrSnapshotNotFound):
		return "", fmt.Errorf("look up snapshot %s: %w", period, err)
	}

	if _, err := h.snapshots.Generate(ctx, period, SystemActor); err != nil {
		// Finalized between the lookup and the lock.
		if errors.Is(err, ledger.ErrSnapshotFinal) {
			return OutcomeFinal, nil
		}
		log.WithField("error", err.Error()).Error("scheduled snapshot generation failed")
		return "", err
	}
	return OutcomeGenerated, nil
}

package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/jobs"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger/store"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
)

var (
	jan31 = time.Date(2025, 1, 31, 23, 55, 0, 0, time.UTC)
	jan30 = time.Date(2025, 1, 30, 23, 55, 0, 0, time.UTC)
	jan   = ledger.Period{Month: 1, Year: 2025}
)

type env struct {
	mem       *store.Memory
	snapshots *report.Snapshots
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return &env{mem: mem, snapshots: report.NewSnapshots(mem, report.Options{Logger: log})}
}

func (e *env) handler(now time.Time, settings ledger.Settings) *jobs.SnapshotHandler {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return jobs.NewSnapshotHandler(e.snapshots, e.mem, settings,
		jobs.WithClock(func() time.Time { return now }),
		jobs.WithLogger(log),
	)
}

func TestRunMonthEnd_GeneratesOnLastDay(t *testing.T) {
	e := newEnv(t)

	outcome, err := e.handler(jan31, nil).RunMonthEnd(context.Background())

	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeGenerated, outcome)
	snap, err := e.mem.GetSnapshotByPeriod(context.Background(), jan)
	require.NoError(t, err)
	assert.Equal(t, ledger.SnapshotDraft, snap.Status)
	assert.Equal(t, jobs.SystemActor, snap.GeneratedBy)
}

func TestRunMonthEnd_SkipsOtherDays(t *testing.T) {
	e := newEnv(t)

	outcome, err := e.handler(jan30, nil).RunMonthEnd(context.Background())

	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeNotMonthEnd, outcome)
	_, err = e.mem.GetSnapshotByPeriod(context.Background(), jan)
	assert.ErrorIs(t, err, ledger.ErrSnapshotNotFound)
}

func TestRunMonthEnd_UsesConfiguredTimezone(t *testing.T) {
	e := newEnv(t)
	jakarta := time.FixedZone("WIB", 7*3600)

	// GIVEN: 20:00 UTC on Jan 30 is already Jan 31 in UTC+7
	h := jobs.NewSnapshotHandler(e.snapshots, e.mem, nil,
		jobs.WithClock(func() time.Time { return time.Date(2025, 1, 30, 20, 0, 0, 0, time.UTC) }),
		jobs.WithLocation(jakarta),
	)

	outcome, err := h.RunMonthEnd(context.Background())

	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeGenerated, outcome)
}

func TestRunMonthEnd_Disabled(t *testing.T) {
	e := newEnv(t)
	settings := ledger.StaticSettings{Bools: map[string]bool{ledger.SettingSnapshotAutoGenerate: false}}

	outcome, err := e.handler(jan31, settings).RunMonthEnd(context.Background())

	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeDisabled, outcome)
}

func TestRunMonthEnd_SkipsFinal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	snap, err := e.snapshots.Generate(ctx, jan, "manager")
	require.NoError(t, err)
	_, err = e.snapshots.Finalize(ctx, snap.ID, "manager")
	require.NoError(t, err)

	outcome, err := e.handler(jan31, nil).RunMonthEnd(ctx)

	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeFinal, outcome)
	stored, err := e.mem.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "manager", stored.GeneratedBy)
}

func TestProcessTask_ManualPeriod(t *testing.T) {
	e := newEnv(t)
	task, err := jobs.NewGenerateTask(jobs.GeneratePayload{Month: 1, Year: 2025, ActorID: "manager"})
	require.NoError(t, err)
	assert.Equal(t, jobs.TypeSnapshotGenerate, task.Type())

	// WHEN: processed on a day that is not a month end
	err = e.handler(jan30.AddDate(0, 2, 0), nil).ProcessTask(context.Background(), task)

	// THEN: the named period is generated anyway
	require.NoError(t, err)
	snap, err := e.mem.GetSnapshotByPeriod(context.Background(), jan)
	require.NoError(t, err)
	assert.Equal(t, "manager", snap.GeneratedBy)
}

func TestProcessTask_PermanentFailuresSkipRetry(t *testing.T) {
	e := newEnv(t)
	h := e.handler(jan30, nil)
	ctx := context.Background()

	err := h.ProcessTask(ctx, asynq.NewTask(jobs.TypeSnapshotGenerate, []byte("{not json")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	bad, _ := jobs.NewGenerateTask(jobs.GeneratePayload{Month: 13, Year: 2025})
	err = h.ProcessTask(ctx, bad)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)

	snap, err := e.snapshots.Generate(ctx, jan, "manager")
	require.NoError(t, err)
	_, err = e.snapshots.Finalize(ctx, snap.ID, "manager")
	require.NoError(t, err)
	final, _ := jobs.NewGenerateTask(jobs.GeneratePayload{Month: 1, Year: 2025})
	err = h.ProcessTask(ctx, final)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTask_EmptyPayloadIsScheduledRun(t *testing.T) {
	e := newEnv(t)

	err := e.handler(jan31, nil).ProcessTask(context.Background(), asynq.NewTask(jobs.TypeSnapshotGenerate, nil))

	require.NoError(t, err)
	_, err = e.mem.GetSnapshotByPeriod(context.Background(), jan)
	assert.NoError(t, err)
}

func TestTicker_RunsOnStart(t *testing.T) {
	e := newEnv(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	ticker := jobs.NewTicker(e.handler(jan31, nil), time.Hour, log)

	ticker.Start()
	require.Eventually(t, func() bool {
		_, err := e.mem.GetSnapshotByPeriod(context.Background(), jan)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	ticker.Stop()
	ticker.Stop()
}

func TestEnqueueGenerate_RejectsInvalidPeriod(t *testing.T) {
	_, err := jobs.EnqueueGenerate(context.Background(), nil, ledger.Period{Month: 0, Year: 2025}, "manager")
	assert.ErrorIs(t, err, ledger.ErrInvalidPeriod)
}

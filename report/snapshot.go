package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// SNAPSHOTS - Period close
// =============================================================================

// Snapshots generates and finalizes period snapshots.
//
// Generate and Finalize each run in one unit of work holding the period's
// snapshot row locked, so concurrent generations of the same period
// serialize and a finalization cannot interleave with a regeneration.
type Snapshots struct {
	store ledger.Store
	opts  Options
}

func NewSnapshots(store ledger.Store, opts Options) *Snapshots {
	return &Snapshots{store: store, opts: opts.withDefaults()}
}

// Generate recomputes the totals of p and stores them as a DRAFT, inserting
// on first generation and overwriting an existing DRAFT. A FINAL period is
// a conflict and nothing is written.
func (s *Snapshots) Generate(ctx context.Context, p ledger.Period, actorID string) (*ledger.Snapshot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	start, end := p.Range(s.opts.Location)

	result, previous, err := s.generate(ctx, p, start, end, actorID)
	if errors.Is(err, ledger.ErrConcurrentUpdate) {
		// Another generation inserted the period first; the retry sees
		// its row and overwrites the DRAFT or stops at FINAL.
		result, previous, err = s.generate(ctx, p, start, end, actorID)
	}
	if err != nil {
		if ledger.IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("generate snapshot %s: %w", p, err)
	}

	s.invalidate(ctx, p)
	event := ledger.AuditEvent{
		Action:   ledger.AuditSnapshotGenerated,
		Entity:   "snapshot",
		EntityID: result.ID,
		After:    result,
		ActorID:  actorID,
		IP:       ledger.RequestIP(ctx),
		At:       result.GeneratedAt,
	}
	if previous != nil {
		event.Before = *previous
	}
	s.opts.Audit.Record(ctx, event)
	s.opts.Logger.WithFields(logrus.Fields{
		"snapshot_id":     result.ID,
		"period":          p.String(),
		"closing_balance": result.ClosingBalance.String(),
		"regenerated":     previous != nil,
	}).Info("snapshot generated")
	return &result, nil
}

// generate runs one generation unit for p.
func (s *Snapshots) generate(ctx context.Context, p ledger.Period, start, end time.Time, actorID string) (ledger.Snapshot, *ledger.Snapshot, error) {
	var (
		result   ledger.Snapshot
		previous *ledger.Snapshot
	)
	err := s.store.Atomically(ctx, func(tx ledger.Tx) error {
		existing, err := tx.LockSnapshotByPeriod(ctx, p)
		found := err == nil
		if err != nil && !errors.Is(err, ledger.ErrSnapshotNotFound) {
			return err
		}
		if found && existing.Final() {
			return &ledger.SnapshotFinalError{SnapshotID: existing.ID, Period: p}
		}

		totals, err := tx.SumApproved(ctx, start, end)
		if err != nil {
			return fmt.Errorf("sum %s: %w", p, err)
		}
		cumulative, err := tx.SumApproved(ctx, time.Time{}, end)
		if err != nil {
			return fmt.Errorf("sum through %s: %w", p, err)
		}

		now := s.opts.Now()
		result = ledger.Snapshot{
			ID:                 ledger.NewID(),
			Period:             p,
			TotalDeposits:      totals.Deposits,
			TotalWithdrawals:   totals.Withdrawals,
			TotalDisbursements: totals.Disbursements,
			TotalInstallments:  totals.Installments,
			ClosingBalance:     cumulative.Net(),
			Status:             ledger.SnapshotDraft,
			GeneratedBy:        actorID,
			GeneratedAt:        now,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if !found {
			return tx.InsertSnapshot(ctx, result)
		}
		prev := existing
		previous = &prev
		result.ID = existing.ID
		result.CreatedAt = existing.CreatedAt
		return tx.UpdateSnapshot(ctx, result)
	})
	return result, previous, err
}

// Finalize flips a DRAFT to FINAL. It is one-way: finalizing again returns
// ErrSnapshotAlreadyFinal.
func (s *Snapshots) Finalize(ctx context.Context, id, actorID string) (*ledger.Snapshot, error) {
	var before, result ledger.Snapshot
	err := s.store.Atomically(ctx, func(tx ledger.Tx) error {
		snap, err := tx.LockSnapshot(ctx, id)
		if err != nil {
			return err
		}
		if snap.Final() {
			return fmt.Errorf("%w: %s", ledger.ErrSnapshotAlreadyFinal, id)
		}
		before = snap
		now := s.opts.Now()
		snap.Status = ledger.SnapshotFinal
		snap.FinalizedAt = &now
		snap.UpdatedAt = now
		result = snap
		return tx.UpdateSnapshot(ctx, snap)
	})
	if err != nil {
		if ledger.IsConflict(err) || ledger.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("finalize snapshot %s: %w", id, err)
	}

	s.invalidate(ctx, result.Period)
	s.opts.Audit.Record(ctx, ledger.AuditEvent{
		Action:   ledger.AuditSnapshotFinalized,
		Entity:   "snapshot",
		EntityID: result.ID,
		Before:   before,
		After:    result,
		ActorID:  actorID,
		IP:       ledger.RequestIP(ctx),
		At:       result.UpdatedAt,
	})
	s.opts.Logger.WithFields(logrus.Fields{
		"snapshot_id": result.ID,
		"period":      result.Period.String(),
	}).Info("snapshot finalized")
	return &result, nil
}

func (s *Snapshots) Get(ctx context.Context, id string) (*ledger.Snapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Snapshots) GetByPeriod(ctx context.Context, p ledger.Period) (*ledger.Snapshot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.store.GetSnapshotByPeriod(ctx, p)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// List pages through snapshots in creation order.
func (s *Snapshots) List(ctx context.Context, cursor string) (ledger.Page[ledger.Snapshot], error) {
	after, err := ledger.DecodeCursor(cursor)
	if err != nil {
		return ledger.Page[ledger.Snapshot]{}, err
	}
	items, err := s.store.ListSnapshots(ctx, after, ledger.PageSize+1)
	if err != nil {
		return ledger.Page[ledger.Snapshot]{}, fmt.Errorf("list snapshots: %w", err)
	}
	return ledger.NewPage(items, func(s ledger.Snapshot) string { return s.ID }), nil
}

// invalidate runs after commit; a failure only leaves stale entries that
// expire with their TTL.
func (s *Snapshots) invalidate(ctx context.Context, p ledger.Period) {
	if err := s.opts.Cache.InvalidatePeriod(ctx, p); err != nil {
		s.opts.Logger.WithFields(logrus.Fields{
			"period": p.String(),
			"error":  err.Error(),
		}).Warn("report cache invalidation failed")
	}
}

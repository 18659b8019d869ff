package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// UNIT OF WORK VIEW - Reads and writes on one sqlx.Tx
// =============================================================================

type txView struct {
	*queries
}

func (v *txView) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	tx.OccurredAt = utc(tx.OccurredAt)
	tx.CreatedAt = utc(tx.CreatedAt)
	tx.UpdatedAt = utc(tx.UpdatedAt)
	tx.DeletedAt = utcPtr(tx.DeletedAt)

	_, err := sqlx.NamedExecContext(ctx, v.ext, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (:id, :member_id, :actor_id, :account_id, :loan_id, :kind, :amount, :occurred_at,
			:method, :status, :note, :evidence_url, :created_at, :updated_at, :deleted_at)`, tx)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// LockForProcessing locks the transaction row first and its target second,
// then reads the member under a shared lock so a concurrent status change
// either commits before the decision or waits for it. Every unit locks in
// that order, which keeps MySQL free of lock cycles.
func (v *txView) LockForProcessing(ctx context.Context, id string) (ledger.Locked, error) {
	tx, err := v.getTransaction(ctx, id, v.dialect.lock)
	if err != nil {
		return ledger.Locked{}, err
	}
	locked := ledger.Locked{Transaction: tx}

	if tx.AccountID != nil {
		a, err := v.getAccount(ctx, *tx.AccountID, v.dialect.lock)
		switch {
		case err == nil:
			locked.Account = &a
		case !errors.Is(err, ledger.ErrAccountNotFound):
			return ledger.Locked{}, err
		}
	}
	if tx.LoanID != nil {
		l, err := v.getLoan(ctx, *tx.LoanID, v.dialect.lock)
		switch {
		case err == nil:
			locked.Loan = &l
		case !errors.Is(err, ledger.ErrLoanNotFound):
			return ledger.Locked{}, err
		}
	}

	m, err := v.findMemberState(ctx, tx.MemberID, v.dialect.shareLock)
	switch {
	case err == nil:
		locked.MemberStatus = m.Status
	case !errors.Is(err, ledger.ErrMemberNotFound):
		return ledger.Locked{}, err
	}
	return locked, nil
}

func (v *txView) SetAccountBalance(ctx context.Context, accountID string, balance ledger.Money, at time.Time) error {
	res, err := v.ext.ExecContext(ctx,
		`UPDATE savings_accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance, utc(at), accountID)
	if err != nil {
		return fmt.Errorf("set balance %s: %w", accountID, err)
	}
	return v.requireRow(ctx, res, "savings_accounts", accountID, ledger.ErrAccountNotFound)
}

func (v *txView) SetLoanState(ctx context.Context, loanID string, u ledger.LoanUpdate) error {
	res, err := v.ext.ExecContext(ctx,
		`UPDATE loans SET outstanding = ?, status = ?, disbursed_at = COALESCE(?, disbursed_at), updated_at = ?
		WHERE id = ?`,
		u.Outstanding, u.Status, utcPtr(u.DisbursedAt), utc(u.At), loanID)
	if err != nil {
		return fmt.Errorf("set loan state %s: %w", loanID, err)
	}
	return v.requireRow(ctx, res, "loans", loanID, ledger.ErrLoanNotFound)
}

// FinalizeTransaction is guarded on PENDING in the UPDATE itself, so a
// second finalization affects no row whatever the caller checked before.
func (v *txView) FinalizeTransaction(ctx context.Context, id string, status ledger.Status, note string, at time.Time) error {
	res, err := v.ext.ExecContext(ctx,
		`UPDATE transactions SET status = ?, note = ?, updated_at = ?
		WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		status, note, utc(at), id, ledger.StatusPending)
	if err != nil {
		return fmt.Errorf("finalize transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize transaction %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	current, err := v.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	return &ledger.AlreadyProcessedError{TransactionID: id, Status: current.Status}
}

func (v *txView) LockSnapshotByPeriod(ctx context.Context, p ledger.Period) (ledger.Snapshot, error) {
	return v.getSnapshot(ctx, "month = ? AND year = ?", []any{p.Month, p.Year}, v.dialect.lock)
}

func (v *txView) LockSnapshot(ctx context.Context, id string) (ledger.Snapshot, error) {
	return v.getSnapshot(ctx, "id = ?", []any{id}, v.dialect.lock)
}

func (v *txView) InsertSnapshot(ctx context.Context, s ledger.Snapshot) error {
	_, err := sqlx.NamedExecContext(ctx, v.ext, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (:id, :month, :year, :total_deposits, :total_withdrawals, :total_disbursements,
			:total_installments, :closing_balance, :status, :generated_by, :generated_at, :finalized_at,
			:created_at, :updated_at)`, utcSnapshot(s))
	if lostRace(err) {
		return fmt.Errorf("insert snapshot %s: %w: %v", s.Period, ledger.ErrConcurrentUpdate, err)
	}
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", s.Period, err)
	}
	return nil
}

func (v *txView) UpdateSnapshot(ctx context.Context, s ledger.Snapshot) error {
	res, err := sqlx.NamedExecContext(ctx, v.ext, `
		UPDATE snapshots SET
			total_deposits = :total_deposits,
			total_withdrawals = :total_withdrawals,
			total_disbursements = :total_disbursements,
			total_installments = :total_installments,
			closing_balance = :closing_balance,
			status = :status,
			generated_by = :generated_by,
			generated_at = :generated_at,
			finalized_at = :finalized_at,
			updated_at = :updated_at
		WHERE id = :id`, utcSnapshot(s))
	if err != nil {
		return fmt.Errorf("update snapshot %s: %w", s.ID, err)
	}
	return v.requireRow(ctx, res, "snapshots", s.ID, ledger.ErrSnapshotNotFound)
}

func utcSnapshot(s ledger.Snapshot) ledger.Snapshot {
	s.GeneratedAt = utc(s.GeneratedAt)
	s.FinalizedAt = utcPtr(s.FinalizedAt)
	s.CreatedAt = utc(s.CreatedAt)
	s.UpdatedAt = utc(s.UpdatedAt)
	return s
}

// requireRow turns a zero-row UPDATE into the table's not-found sentinel.
// MySQL reports unchanged rows as unaffected, so zero is confirmed with a
// lookup before it is treated as missing.
func (v *txView) requireRow(ctx context.Context, res sql.Result, table, id string, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if n > 0 {
		return nil
	}
	var one int
	err = sqlx.GetContext(ctx, v.ext, &one, `SELECT 1 FROM `+table+` WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return nil
}

package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// SEEDING - Rows owned by collaborators outside the engine
// =============================================================================
//
// Members, staff, accounts and loans are created by the membership and loan
// application services. The engine only reads them (and writes balances and
// loan state); these helpers exist for local runs and tests.

func (s *Store) PutMember(ctx context.Context, m ledger.MemberState, joinedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, m.ID)
	if err == nil {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO members (id, status, created_at) VALUES (?, ?, ?)`,
			m.ID, m.Status, utc(joinedAt))
	}
	if err != nil {
		return fmt.Errorf("put member %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) PutStaff(ctx context.Context, st ledger.StaffState) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM staff WHERE id = ?`, st.ID)
	if err == nil {
		_, err = s.db.ExecContext(ctx, `INSERT INTO staff (id, is_active) VALUES (?, ?)`, st.ID, st.IsActive)
	}
	if err != nil {
		return fmt.Errorf("put staff %s: %w", st.ID, err)
	}
	return nil
}

func (s *Store) PutAccount(ctx context.Context, a ledger.SavingsAccount) error {
	a.CreatedAt, a.UpdatedAt = stamp(a.CreatedAt, a.UpdatedAt)
	a.DeletedAt = utcPtr(a.DeletedAt)
	_, err := s.db.ExecContext(ctx, `DELETE FROM savings_accounts WHERE id = ?`, a.ID)
	if err == nil {
		_, err = sqlx.NamedExecContext(ctx, s.db, `
			INSERT INTO savings_accounts (`+accountColumns+`)
			VALUES (:id, :member_id, :category, :balance, :created_at, :updated_at, :deleted_at)`, a)
	}
	if err != nil {
		return fmt.Errorf("put account %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) PutLoan(ctx context.Context, l ledger.Loan) error {
	l.CreatedAt, l.UpdatedAt = stamp(l.CreatedAt, l.UpdatedAt)
	l.ApprovedAt = utcPtr(l.ApprovedAt)
	l.DisbursedAt = utcPtr(l.DisbursedAt)
	l.DeletedAt = utcPtr(l.DeletedAt)
	_, err := s.db.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, l.ID)
	if err == nil {
		_, err = sqlx.NamedExecContext(ctx, s.db, `
			INSERT INTO loans (`+loanColumns+`)
			VALUES (:id, :member_id, :principal, :interest_percent, :tenor_months, :outstanding, :status,
				:approved_by, :approved_at, :disbursed_at, :created_at, :updated_at, :deleted_at)`, l)
	}
	if err != nil {
		return fmt.Errorf("put loan %s: %w", l.ID, err)
	}
	return nil
}

// stamp fills missing audit timestamps with the current time.
func stamp(created, updated time.Time) (time.Time, time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}
	return utc(created), utc(updated)
}

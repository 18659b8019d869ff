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
// QUERIES - Shared by the pool and the unit of work
// =============================================================================

const (
	transactionColumns = `id, member_id, actor_id, account_id, loan_id, kind, amount, occurred_at,
		method, status, note, evidence_url, created_at, updated_at, deleted_at`
	accountColumns = `id, member_id, category, balance, created_at, updated_at, deleted_at`
	loanColumns    = `id, member_id, principal, interest_percent, tenor_months, outstanding, status,
		approved_by, approved_at, disbursed_at, created_at, updated_at, deleted_at`
	snapshotColumns = `id, month, year, total_deposits, total_withdrawals, total_disbursements,
		total_installments, closing_balance, status, generated_by, generated_at, finalized_at,
		created_at, updated_at`
)

// queries runs against either the pool or an open transaction.
type queries struct {
	ext     sqlx.ExtContext
	dialect dialect
}

func (q *queries) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	return q.getTransaction(ctx, id, "")
}

func (q *queries) getTransaction(ctx context.Context, id, lock string) (ledger.Transaction, error) {
	var tx ledger.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ? AND deleted_at IS NULL` + lock
	if err := sqlx.GetContext(ctx, q.ext, &tx, query, id); err != nil {
		return ledger.Transaction{}, notFound(err, ledger.ErrTransactionNotFound, "transaction "+id)
	}
	return tx, nil
}

func (q *queries) ListTransactions(ctx context.Context, f ledger.TxFilter) ([]ledger.Transaction, error) {
	w := &where{}
	w.add("deleted_at IS NULL")
	if f.Kind != "" {
		w.add("kind = ?", f.Kind)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	w.timeRange("occurred_at", f.From, f.To)
	if f.After != "" {
		w.add("id > ?", f.After)
	}

	txs := []ledger.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions` + w.String() + ` ORDER BY id` + limitClause(f.Limit)
	if err := sqlx.SelectContext(ctx, q.ext, &txs, query, w.args...); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (q *queries) GetSavingsAccount(ctx context.Context, id string) (ledger.SavingsAccount, error) {
	return q.getAccount(ctx, id, "")
}

func (q *queries) getAccount(ctx context.Context, id, lock string) (ledger.SavingsAccount, error) {
	var a ledger.SavingsAccount
	query := `SELECT ` + accountColumns + ` FROM savings_accounts WHERE id = ?` + lock
	if err := sqlx.GetContext(ctx, q.ext, &a, query, id); err != nil {
		return ledger.SavingsAccount{}, notFound(err, ledger.ErrAccountNotFound, "account "+id)
	}
	return a, nil
}

func (q *queries) GetLoan(ctx context.Context, id string) (ledger.Loan, error) {
	return q.getLoan(ctx, id, "")
}

func (q *queries) getLoan(ctx context.Context, id, lock string) (ledger.Loan, error) {
	var l ledger.Loan
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = ?` + lock
	if err := sqlx.GetContext(ctx, q.ext, &l, query, id); err != nil {
		return ledger.Loan{}, notFound(err, ledger.ErrLoanNotFound, "loan "+id)
	}
	return l, nil
}

func (q *queries) ListLoans(ctx context.Context, f ledger.LoanFilter) ([]ledger.Loan, error) {
	w := &where{}
	w.add("deleted_at IS NULL")
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.After != "" {
		w.add("id > ?", f.After)
	}

	loans := []ledger.Loan{}
	query := `SELECT ` + loanColumns + ` FROM loans` + w.String() + ` ORDER BY id` + limitClause(f.Limit)
	if err := sqlx.SelectContext(ctx, q.ext, &loans, query, w.args...); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// =============================================================================
// AGGREGATES - Summed in Go so both dialects agree to the cent
// =============================================================================

type kindAmount struct {
	Kind   ledger.Kind  `db:"kind"`
	Amount ledger.Money `db:"amount"`
}

func (q *queries) SumApproved(ctx context.Context, from, to time.Time) (ledger.Totals, error) {
	w := &where{}
	w.add("deleted_at IS NULL")
	w.add("status = ?", ledger.StatusApproved)
	w.timeRange("occurred_at", from, to)

	rows, err := q.ext.QueryxContext(ctx, `SELECT kind, amount FROM transactions`+w.String(), w.args...)
	if err != nil {
		return ledger.Totals{}, fmt.Errorf("sum approved: %w", err)
	}
	defer rows.Close()

	var t ledger.Totals
	for rows.Next() {
		var r kindAmount
		if err := rows.StructScan(&r); err != nil {
			return ledger.Totals{}, fmt.Errorf("sum approved: %w", err)
		}
		t.Add(r.Kind, r.Amount)
	}
	if err := rows.Err(); err != nil {
		return ledger.Totals{}, fmt.Errorf("sum approved: %w", err)
	}
	return t, nil
}

func (q *queries) SavingsComposition(ctx context.Context) ([]ledger.CategoryBalance, error) {
	var rows []struct {
		Category ledger.SavingsCategory `db:"category"`
		Balance  ledger.Money           `db:"balance"`
	}
	if err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT category, balance FROM savings_accounts WHERE deleted_at IS NULL`); err != nil {
		return nil, fmt.Errorf("savings composition: %w", err)
	}

	byCat := make(map[ledger.SavingsCategory]*ledger.CategoryBalance, len(ledger.SavingsCategories))
	out := make([]ledger.CategoryBalance, len(ledger.SavingsCategories))
	for i, c := range ledger.SavingsCategories {
		out[i] = ledger.CategoryBalance{Category: c, Balance: ledger.ZeroMoney}
		byCat[c] = &out[i]
	}
	for _, r := range rows {
		if cb, ok := byCat[r.Category]; ok {
			cb.Accounts++
			cb.Balance = cb.Balance.Add(r.Balance)
		}
	}
	return out, nil
}

var loanStatuses = []ledger.LoanStatus{
	ledger.LoanPending, ledger.LoanApproved, ledger.LoanRejected, ledger.LoanPaidOff,
}

func (q *queries) LoanPortfolio(ctx context.Context) ([]ledger.LoanStatusTotal, error) {
	var rows []struct {
		Status      ledger.LoanStatus `db:"status"`
		Principal   ledger.Money      `db:"principal"`
		Outstanding ledger.Money      `db:"outstanding"`
	}
	if err := sqlx.SelectContext(ctx, q.ext, &rows,
		`SELECT status, principal, outstanding FROM loans WHERE deleted_at IS NULL`); err != nil {
		return nil, fmt.Errorf("loan portfolio: %w", err)
	}

	byStatus := make(map[ledger.LoanStatus]*ledger.LoanStatusTotal, len(loanStatuses))
	out := make([]ledger.LoanStatusTotal, len(loanStatuses))
	for i, s := range loanStatuses {
		out[i] = ledger.LoanStatusTotal{Status: s, Principal: ledger.ZeroMoney, Outstanding: ledger.ZeroMoney}
		byStatus[s] = &out[i]
	}
	for _, r := range rows {
		if st, ok := byStatus[r.Status]; ok {
			st.Count++
			st.Principal = st.Principal.Add(r.Principal)
			st.Outstanding = st.Outstanding.Add(r.Outstanding)
		}
	}
	return out, nil
}

func (q *queries) MemberStats(ctx context.Context, joinedFrom, joinedTo time.Time) (ledger.MemberStats, error) {
	var counts []struct {
		Status ledger.MemberStatus `db:"status"`
		N      int                 `db:"n"`
	}
	if err := sqlx.SelectContext(ctx, q.ext, &counts,
		`SELECT status, COUNT(*) AS n FROM members GROUP BY status`); err != nil {
		return ledger.MemberStats{}, fmt.Errorf("member stats: %w", err)
	}

	var s ledger.MemberStats
	for _, c := range counts {
		s.Total += c.N
		switch c.Status {
		case ledger.MemberActive:
			s.Active = c.N
		case ledger.MemberInactive:
			s.Inactive = c.N
		case ledger.MemberPending:
			s.Pending = c.N
		case ledger.MemberRejected:
			s.Rejected = c.N
		}
	}

	w := &where{}
	w.timeRange("created_at", joinedFrom, joinedTo)
	if err := sqlx.GetContext(ctx, q.ext, &s.Joined, `SELECT COUNT(*) FROM members`+w.String(), w.args...); err != nil {
		return ledger.MemberStats{}, fmt.Errorf("member stats: %w", err)
	}
	return s, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (q *queries) GetSnapshot(ctx context.Context, id string) (ledger.Snapshot, error) {
	return q.getSnapshot(ctx, "id = ?", []any{id}, "")
}

func (q *queries) GetSnapshotByPeriod(ctx context.Context, p ledger.Period) (ledger.Snapshot, error) {
	return q.getSnapshot(ctx, "month = ? AND year = ?", []any{p.Month, p.Year}, "")
}

func (q *queries) getSnapshot(ctx context.Context, cond string, args []any, lock string) (ledger.Snapshot, error) {
	var s ledger.Snapshot
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE ` + cond + lock
	if err := sqlx.GetContext(ctx, q.ext, &s, query, args...); err != nil {
		return ledger.Snapshot{}, notFound(err, ledger.ErrSnapshotNotFound, "snapshot")
	}
	return s, nil
}

func (q *queries) ListSnapshots(ctx context.Context, after string, limit int) ([]ledger.Snapshot, error) {
	w := &where{}
	if after != "" {
		w.add("id > ?", after)
	}
	snaps := []ledger.Snapshot{}
	query := `SELECT ` + snapshotColumns + ` FROM snapshots` + w.String() + ` ORDER BY id` + limitClause(limit)
	if err := sqlx.SelectContext(ctx, q.ext, &snaps, query, w.args...); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// =============================================================================
// IDENTITY
// =============================================================================

func (q *queries) FindActingStaff(ctx context.Context, id string) (ledger.StaffState, error) {
	var s ledger.StaffState
	if err := sqlx.GetContext(ctx, q.ext, &s, `SELECT id, is_active FROM staff WHERE id = ?`, id); err != nil {
		return ledger.StaffState{}, notFound(err, ledger.ErrStaffNotFound, "staff "+id)
	}
	return s, nil
}

func (q *queries) FindMemberState(ctx context.Context, id string) (ledger.MemberState, error) {
	return q.findMemberState(ctx, id, "")
}

func (q *queries) findMemberState(ctx context.Context, id, suffix string) (ledger.MemberState, error) {
	var m ledger.MemberState
	if err := sqlx.GetContext(ctx, q.ext, &m, `SELECT id, status FROM members WHERE id = ?`+suffix, id); err != nil {
		return ledger.MemberState{}, notFound(err, ledger.ErrMemberNotFound, "member "+id)
	}
	return m, nil
}

// notFound maps sql.ErrNoRows to the domain sentinel and wraps anything else.
func notFound(err, sentinel error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("get %s: %w", what, err)
}

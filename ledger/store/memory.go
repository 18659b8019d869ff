// Package store provides an in-memory ledger.Store for tests and local runs.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store and ledger.Identity.
//
// Atomically holds the write lock for the whole unit, so units are fully
// serialized. That is stronger than per-row locking and trivially satisfies
// the one-writer-per-account guarantee.
type Memory struct {
	mu   sync.RWMutex
	data memoryData
}

var (
	_ ledger.Store    = (*Memory)(nil)
	_ ledger.Identity = (*Memory)(nil)
	_ ledger.Tx       = (*memoryView)(nil)
)

type memoryData struct {
	transactions map[string]ledger.Transaction
	accounts     map[string]ledger.SavingsAccount
	loans        map[string]ledger.Loan
	snapshots    map[string]ledger.Snapshot
	members      map[string]memberRow
	staff        map[string]ledger.StaffState
}

type memberRow struct {
	state    ledger.MemberState
	joinedAt time.Time
}

func NewMemory() *Memory {
	return &Memory{data: memoryData{
		transactions: make(map[string]ledger.Transaction),
		accounts:     make(map[string]ledger.SavingsAccount),
		loans:        make(map[string]ledger.Loan),
		snapshots:    make(map[string]ledger.Snapshot),
		members:      make(map[string]memberRow),
		staff:        make(map[string]ledger.StaffState),
	}}
}

// =============================================================================
// SEEDING - Rows owned by collaborators outside the engine
// =============================================================================

func (m *Memory) PutMember(s ledger.MemberState, joinedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.members[s.ID] = memberRow{state: s, joinedAt: joinedAt}
}

func (m *Memory) PutStaff(s ledger.StaffState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.staff[s.ID] = s
}

func (m *Memory) PutAccount(a ledger.SavingsAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.accounts[a.ID] = a
}

func (m *Memory) PutLoan(l ledger.Loan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.loans[l.ID] = l
}

// =============================================================================
// IDENTITY
// =============================================================================

func (m *Memory) FindActingStaff(_ context.Context, id string) (ledger.StaffState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.data.staff[id]
	if !ok {
		return ledger.StaffState{}, ledger.ErrStaffNotFound
	}
	return s, nil
}

func (m *Memory) FindMemberState(_ context.Context, id string) (ledger.MemberState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data.members[id]
	if !ok {
		return ledger.MemberState{}, ledger.ErrMemberNotFound
	}
	return r.state, nil
}

// =============================================================================
// QUERIES - Read-locked wrappers over the view
// =============================================================================

func (m *Memory) view() *memoryView { return &memoryView{d: &m.data} }

func (m *Memory) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetTransaction(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, f ledger.TxFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListTransactions(ctx, f)
}

func (m *Memory) GetSavingsAccount(ctx context.Context, id string) (ledger.SavingsAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetSavingsAccount(ctx, id)
}

func (m *Memory) GetLoan(ctx context.Context, id string) (ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetLoan(ctx, id)
}

func (m *Memory) ListLoans(ctx context.Context, f ledger.LoanFilter) ([]ledger.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListLoans(ctx, f)
}

func (m *Memory) SumApproved(ctx context.Context, from, to time.Time) (ledger.Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().SumApproved(ctx, from, to)
}

func (m *Memory) SavingsComposition(ctx context.Context) ([]ledger.CategoryBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().SavingsComposition(ctx)
}

func (m *Memory) LoanPortfolio(ctx context.Context) ([]ledger.LoanStatusTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().LoanPortfolio(ctx)
}

func (m *Memory) MemberStats(ctx context.Context, from, to time.Time) (ledger.MemberStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().MemberStats(ctx, from, to)
}

func (m *Memory) GetSnapshot(ctx context.Context, id string) (ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetSnapshot(ctx, id)
}

func (m *Memory) GetSnapshotByPeriod(ctx context.Context, p ledger.Period) (ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().GetSnapshotByPeriod(ctx, p)
}

func (m *Memory) ListSnapshots(ctx context.Context, after string, limit int) ([]ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view().ListSnapshots(ctx, after, limit)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// Atomically executes fn with the store exclusively locked.
// On error the state captured before fn ran is restored.
func (m *Memory) Atomically(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	saved := m.data.clone()
	if err := fn(m.view()); err != nil {
		m.data = saved
		return err
	}
	return nil
}

func (d memoryData) clone() memoryData {
	return memoryData{
		transactions: cloneMap(d.transactions),
		accounts:     cloneMap(d.accounts),
		loans:        cloneMap(d.loans),
		snapshots:    cloneMap(d.snapshots),
		members:      cloneMap(d.members),
		staff:        cloneMap(d.staff),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// =============================================================================
// VIEW - Unlocked access; callers hold the lock
// =============================================================================

type memoryView struct {
	d *memoryData
}

func (v *memoryView) GetTransaction(_ context.Context, id string) (ledger.Transaction, error) {
	tx, ok := v.d.transactions[id]
	if !ok || tx.DeletedAt != nil {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (v *memoryView) ListTransactions(_ context.Context, f ledger.TxFilter) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range v.d.transactions {
		if tx.DeletedAt != nil {
			continue
		}
		if f.Kind != "" && tx.Kind != f.Kind {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if !inRange(tx.OccurredAt, f.From, f.To) {
			continue
		}
		if f.After != "" && tx.ID <= f.After {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return limit(out, f.Limit), nil
}

func (v *memoryView) GetSavingsAccount(_ context.Context, id string) (ledger.SavingsAccount, error) {
	a, ok := v.d.accounts[id]
	if !ok {
		return ledger.SavingsAccount{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (v *memoryView) GetLoan(_ context.Context, id string) (ledger.Loan, error) {
	l, ok := v.d.loans[id]
	if !ok {
		return ledger.Loan{}, ledger.ErrLoanNotFound
	}
	return l, nil
}

func (v *memoryView) ListLoans(_ context.Context, f ledger.LoanFilter) ([]ledger.Loan, error) {
	var out []ledger.Loan
	for _, l := range v.d.loans {
		if l.Deleted() {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.After != "" && l.ID <= f.After {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return limit(out, f.Limit), nil
}

func (v *memoryView) SumApproved(_ context.Context, from, to time.Time) (ledger.Totals, error) {
	var t ledger.Totals
	for _, tx := range v.d.transactions {
		if tx.DeletedAt != nil || tx.Status != ledger.StatusApproved {
			continue
		}
		if !inRange(tx.OccurredAt, from, to) {
			continue
		}
		t.Add(tx.Kind, tx.Amount)
	}
	return t, nil
}

func (v *memoryView) SavingsComposition(_ context.Context) ([]ledger.CategoryBalance, error) {
	byCat := make(map[ledger.SavingsCategory]*ledger.CategoryBalance)
	for _, c := range ledger.SavingsCategories {
		byCat[c] = &ledger.CategoryBalance{Category: c, Balance: ledger.ZeroMoney}
	}
	for _, a := range v.d.accounts {
		if a.Deleted() {
			continue
		}
		cb, ok := byCat[a.Category]
		if !ok {
			continue
		}
		cb.Accounts++
		cb.Balance = cb.Balance.Add(a.Balance)
	}
	out := make([]ledger.CategoryBalance, 0, len(ledger.SavingsCategories))
	for _, c := range ledger.SavingsCategories {
		out = append(out, *byCat[c])
	}
	return out, nil
}

var loanStatuses = []ledger.LoanStatus{
	ledger.LoanPending, ledger.LoanApproved, ledger.LoanRejected, ledger.LoanPaidOff,
}

func (v *memoryView) LoanPortfolio(_ context.Context) ([]ledger.LoanStatusTotal, error) {
	byStatus := make(map[ledger.LoanStatus]*ledger.LoanStatusTotal)
	for _, s := range loanStatuses {
		byStatus[s] = &ledger.LoanStatusTotal{Status: s, Principal: ledger.ZeroMoney, Outstanding: ledger.ZeroMoney}
	}
	for _, l := range v.d.loans {
		if l.Deleted() {
			continue
		}
		st, ok := byStatus[l.Status]
		if !ok {
			continue
		}
		st.Count++
		st.Principal = st.Principal.Add(l.Principal)
		st.Outstanding = st.Outstanding.Add(l.Outstanding)
	}
	out := make([]ledger.LoanStatusTotal, 0, len(loanStatuses))
	for _, s := range loanStatuses {
		out = append(out, *byStatus[s])
	}
	return out, nil
}

func (v *memoryView) MemberStats(_ context.Context, from, to time.Time) (ledger.MemberStats, error) {
	var s ledger.MemberStats
	for _, r := range v.d.members {
		s.Total++
		switch r.state.Status {
		case ledger.MemberActive:
			s.Active++
		case ledger.MemberInactive:
			s.Inactive++
		case ledger.MemberPending:
			s.Pending++
		case ledger.MemberRejected:
			s.Rejected++
		}
		if inRange(r.joinedAt, from, to) {
			s.Joined++
		}
	}
	return s, nil
}

func (v *memoryView) GetSnapshot(_ context.Context, id string) (ledger.Snapshot, error) {
	s, ok := v.d.snapshots[id]
	if !ok {
		return ledger.Snapshot{}, ledger.ErrSnapshotNotFound
	}
	return s, nil
}

func (v *memoryView) GetSnapshotByPeriod(_ context.Context, p ledger.Period) (ledger.Snapshot, error) {
	for _, s := range v.d.snapshots {
		if s.Period == p {
			return s, nil
		}
	}
	return ledger.Snapshot{}, ledger.ErrSnapshotNotFound
}

func (v *memoryView) ListSnapshots(_ context.Context, after string, n int) ([]ledger.Snapshot, error) {
	var out []ledger.Snapshot
	for _, s := range v.d.snapshots {
		if after != "" && s.ID <= after {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return limit(out, n), nil
}

// Writes. Locks are implicit: the whole store is held by Atomically.

func (v *memoryView) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	v.d.transactions[tx.ID] = tx
	return nil
}

func (v *memoryView) LockForProcessing(ctx context.Context, id string) (ledger.Locked, error) {
	tx, err := v.GetTransaction(ctx, id)
	if err != nil {
		return ledger.Locked{}, err
	}
	locked := ledger.Locked{Transaction: tx}
	if m, ok := v.d.members[tx.MemberID]; ok {
		locked.MemberStatus = m.state.Status
	}
	if tx.AccountID != nil {
		if a, ok := v.d.accounts[*tx.AccountID]; ok {
			locked.Account = &a
		}
	}
	if tx.LoanID != nil {
		if l, ok := v.d.loans[*tx.LoanID]; ok {
			locked.Loan = &l
		}
	}
	return locked, nil
}

func (v *memoryView) SetAccountBalance(_ context.Context, accountID string, balance ledger.Money, at time.Time) error {
	a, ok := v.d.accounts[accountID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.Balance = balance
	a.UpdatedAt = at
	v.d.accounts[accountID] = a
	return nil
}

func (v *memoryView) SetLoanState(_ context.Context, loanID string, u ledger.LoanUpdate) error {
	l, ok := v.d.loans[loanID]
	if !ok {
		return ledger.ErrLoanNotFound
	}
	l.Outstanding = u.Outstanding
	l.Status = u.Status
	if u.DisbursedAt != nil {
		l.DisbursedAt = u.DisbursedAt
	}
	l.UpdatedAt = u.At
	v.d.loans[loanID] = l
	return nil
}

func (v *memoryView) FinalizeTransaction(_ context.Context, id string, status ledger.Status, note string, at time.Time) error {
	tx, ok := v.d.transactions[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	if tx.Status != ledger.StatusPending {
		return &ledger.AlreadyProcessedError{TransactionID: id, Status: tx.Status}
	}
	tx.Status = status
	tx.Note = note
	tx.UpdatedAt = at
	v.d.transactions[id] = tx
	return nil
}

func (v *memoryView) LockSnapshotByPeriod(ctx context.Context, p ledger.Period) (ledger.Snapshot, error) {
	return v.GetSnapshotByPeriod(ctx, p)
}

func (v *memoryView) LockSnapshot(ctx context.Context, id string) (ledger.Snapshot, error) {
	return v.GetSnapshot(ctx, id)
}

// InsertSnapshot enforces one snapshot per period like the SQL unique key.
func (v *memoryView) InsertSnapshot(_ context.Context, s ledger.Snapshot) error {
	for _, existing := range v.d.snapshots {
		if existing.Period == s.Period {
			return fmt.Errorf("insert snapshot %s: %w", s.Period, ledger.ErrConcurrentUpdate)
		}
	}
	v.d.snapshots[s.ID] = s
	return nil
}

func (v *memoryView) UpdateSnapshot(_ context.Context, s ledger.Snapshot) error {
	if _, ok := v.d.snapshots[s.ID]; !ok {
		return ledger.ErrSnapshotNotFound
	}
	v.d.snapshots[s.ID] = s
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// inRange checks from <= t < to; zero bounds are open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

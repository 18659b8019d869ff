package sqlstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	staffID  = "staff-1"
	memberID = "member-1"
)

type fixture struct {
	ctx       context.Context
	store     *sqlstore.Store
	processor *ledger.Processor
	accountID string
	loanID    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{ctx: ctx, store: s, accountID: ledger.NewID(), loanID: ledger.NewID()}
	require.NoError(t, s.PutStaff(ctx, ledger.StaffState{ID: staffID, IsActive: true}))
	require.NoError(t, s.PutMember(ctx, ledger.MemberState{ID: memberID, Status: ledger.MemberActive}, time.Now()))
	require.NoError(t, s.PutAccount(ctx, ledger.SavingsAccount{
		ID:       f.accountID,
		MemberID: memberID,
		Category: ledger.SavingsSukarela,
		Balance:  ledger.ZeroMoney,
	}))
	require.NoError(t, s.PutLoan(ctx, ledger.Loan{
		ID:              f.loanID,
		MemberID:        memberID,
		Principal:       ledger.MustMoney("1200000"),
		InterestPercent: ledger.MustMoney("1.5"),
		TenorMonths:     12,
		Outstanding:     ledger.ZeroMoney,
		Status:          ledger.LoanApproved,
	}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	f.processor = ledger.NewProcessor(s, ledger.WithLogger(log))
	return f
}

func (f *fixture) submit(t *testing.T, kind ledger.Kind, amount string) *ledger.Transaction {
	t.Helper()
	req := ledger.NewTransaction{ActorID: staffID, Kind: kind, Amount: ledger.MustMoney(amount)}
	if kind.TargetsAccount() {
		req.AccountID = f.accountID
	} else {
		req.LoanID = f.loanID
	}
	tx, err := f.processor.SubmitAndProcess(f.ctx, req)
	require.NoError(t, err)
	return tx
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	a, err := f.store.GetSavingsAccount(f.ctx, f.accountID)
	require.NoError(t, err)
	return a.Balance.String()
}

// =============================================================================
// PROCESSING
// =============================================================================

func TestSQLite_DepositThenWithdraw(t *testing.T) {
	f := newFixture(t)

	// GIVEN: an empty account
	// WHEN: 100.50 is deposited and 40.25 withdrawn
	dep := f.submit(t, ledger.KindDeposit, "100.50")
	wd := f.submit(t, ledger.KindWithdrawal, "40.25")

	// THEN: both are approved and the cents survive the round trip
	assert.Equal(t, ledger.StatusApproved, dep.Status)
	assert.Equal(t, ledger.StatusApproved, wd.Status)
	assert.Equal(t, "60.25", f.balance(t))

	stored, err := f.store.GetTransaction(f.ctx, wd.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, stored.Status)
	assert.Equal(t, "40.25", stored.Amount.String())
	require.NotNil(t, stored.AccountID)
	assert.Equal(t, f.accountID, *stored.AccountID)
	assert.Nil(t, stored.LoanID)
}

func TestSQLite_InsufficientBalanceRejected(t *testing.T) {
	f := newFixture(t)
	f.submit(t, ledger.KindDeposit, "50")

	// WHEN: withdrawing more than the balance
	tx := f.submit(t, ledger.KindWithdrawal, "50.01")

	// THEN: rejected with the reason as note, balance untouched
	assert.Equal(t, ledger.StatusRejected, tx.Status)
	assert.Equal(t, ledger.ReasonInsufficientBalance, tx.Note)
	assert.Equal(t, "50.00", f.balance(t))
}

func TestSQLite_ProcessTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	tx := f.submit(t, ledger.KindDeposit, "10")

	// WHEN: the same transaction is processed again
	_, err := f.processor.Process(f.ctx, tx.ID)

	// THEN: conflict, nothing changes
	var already *ledger.AlreadyProcessedError
	require.True(t, errors.As(err, &already))
	assert.Equal(t, ledger.StatusApproved, already.Status)
	assert.Equal(t, "10.00", f.balance(t))
}

func TestSQLite_UnknownTransaction(t *testing.T) {
	f := newFixture(t)

	_, err := f.processor.Process(f.ctx, ledger.NewID())

	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestSQLite_LoanLifecycle(t *testing.T) {
	f := newFixture(t)

	// GIVEN: an approved loan of 1,200,000 over 12 months
	// WHEN: it is disbursed and repaid in 12 installments of 100,000
	dis := f.submit(t, ledger.KindDisbursement, "1200000")
	require.Equal(t, ledger.StatusApproved, dis.Status)
	for i := 0; i < 12; i++ {
		tx := f.submit(t, ledger.KindInstallment, "100000")
		require.Equal(t, ledger.StatusApproved, tx.Status, "installment %d", i+1)
	}

	// THEN: the loan is paid off with its disbursement date recorded
	loan, err := f.store.GetLoan(f.ctx, f.loanID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanPaidOff, loan.Status)
	assert.True(t, loan.Outstanding.IsZero())
	assert.Equal(t, "1.50", loan.InterestPercent.String())
	require.NotNil(t, loan.DisbursedAt)
	assert.WithinDuration(t, dis.OccurredAt, *loan.DisbursedAt, time.Millisecond)

	// AND: further installments are rejected
	extra := f.submit(t, ledger.KindInstallment, "1")
	assert.Equal(t, ledger.StatusRejected, extra.Status)
}

func TestSQLite_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	f.submit(t, ledger.KindDeposit, "1000")

	// GIVEN: 20 concurrent withdrawals of 75 against a balance of 1000
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := f.processor.SubmitAndProcess(f.ctx, ledger.NewTransaction{
				ActorID:   staffID,
				AccountID: f.accountID,
				Kind:      ledger.KindWithdrawal,
				Amount:    ledger.MustMoney("75"),
			})
			if err != nil {
				t.Errorf("withdraw: %v", err)
				return
			}
			if tx.Status == ledger.StatusApproved {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// THEN: exactly 13 fit and 25.00 remains
	assert.Equal(t, 13, approved)
	assert.Equal(t, "25.00", f.balance(t))
}

// deactivatingStore flips a member to INACTIVE just before each unit of
// work starts.
type deactivatingStore struct {
	*sqlstore.Store
	memberID string
}

func (s deactivatingStore) Atomically(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := s.PutMember(ctx, ledger.MemberState{ID: s.memberID, Status: ledger.MemberInactive}, time.Now()); err != nil {
		return err
	}
	return s.Store.Atomically(ctx, fn)
}

func TestSQLite_MemberStatusReadInsideUnit(t *testing.T) {
	f := newFixture(t)

	// GIVEN: a PENDING deposit created while the member is ACTIVE
	created, err := f.processor.Create(f.ctx, ledger.NewTransaction{
		ActorID: staffID, AccountID: f.accountID, Kind: ledger.KindDeposit, Amount: ledger.MustMoney("100"),
	})
	require.NoError(t, err)

	// WHEN: the member is deactivated right before the processing unit
	p := ledger.NewProcessor(deactivatingStore{Store: f.store, memberID: memberID})
	tx, err := p.Process(f.ctx, created.ID)

	// THEN: the unit sees INACTIVE and rejects
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, tx.Status)
	assert.Equal(t, ledger.ReasonMemberInactive, tx.Note)
	assert.Equal(t, "0.00", f.balance(t))
}

func TestSQLite_LockForProcessing_ReadsMemberStatus(t *testing.T) {
	f := newFixture(t)
	created, err := f.processor.Create(f.ctx, ledger.NewTransaction{
		ActorID: staffID, AccountID: f.accountID, Kind: ledger.KindDeposit, Amount: ledger.MustMoney("1"),
	})
	require.NoError(t, err)

	err = f.store.Atomically(f.ctx, func(tx ledger.Tx) error {
		locked, err := tx.LockForProcessing(f.ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.MemberActive, locked.MemberStatus)
		require.NotNil(t, locked.Account)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLite_RollbackOnError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")

	// WHEN: a unit writes and then fails
	err := f.store.Atomically(f.ctx, func(tx ledger.Tx) error {
		if err := tx.SetAccountBalance(f.ctx, f.accountID, ledger.MustMoney("999"), time.Now()); err != nil {
			return err
		}
		return boom
	})

	// THEN: the write is gone
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "0.00", f.balance(t))
}

func TestSQLite_WritesToMissingRows(t *testing.T) {
	f := newFixture(t)

	err := f.store.Atomically(f.ctx, func(tx ledger.Tx) error {
		return tx.SetAccountBalance(f.ctx, "missing", ledger.ZeroMoney, time.Now())
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	err = f.store.Atomically(f.ctx, func(tx ledger.Tx) error {
		return tx.SetLoanState(f.ctx, "missing", ledger.LoanUpdate{Outstanding: ledger.ZeroMoney, Status: ledger.LoanApproved})
	})
	assert.ErrorIs(t, err, ledger.ErrLoanNotFound)

	err = f.store.Atomically(f.ctx, func(tx ledger.Tx) error {
		return tx.FinalizeTransaction(f.ctx, "missing", ledger.StatusApproved, "", time.Now())
	})
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

// =============================================================================
// IDENTITY
// =============================================================================

func TestSQLite_Identity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.PutStaff(f.ctx, ledger.StaffState{ID: "staff-off", IsActive: false}))

	staff, err := f.store.FindActingStaff(f.ctx, staffID)
	require.NoError(t, err)
	assert.True(t, staff.IsActive)

	off, err := f.store.FindActingStaff(f.ctx, "staff-off")
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	_, err = f.store.FindActingStaff(f.ctx, "nobody")
	assert.ErrorIs(t, err, ledger.ErrStaffNotFound)

	member, err := f.store.FindMemberState(f.ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, ledger.MemberActive, member.Status)

	_, err = f.store.FindMemberState(f.ctx, "nobody")
	assert.ErrorIs(t, err, ledger.ErrMemberNotFound)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestSQLite_ListAndSumByPeriod(t *testing.T) {
	f := newFixture(t)
	march, _ := ledger.Period{Month: 3, Year: 2025}.Range(time.UTC)
	inside := march.Add(36 * time.Hour)
	before := march.Add(-time.Second)

	// GIVEN: 60 deposits in March and one on the last second of February
	for i := 0; i < 60; i++ {
		_, err := f.processor.SubmitAndProcess(f.ctx, ledger.NewTransaction{
			ActorID: staffID, AccountID: f.accountID, Kind: ledger.KindDeposit,
			Amount: ledger.MustMoney("10"), OccurredAt: &inside,
		})
		require.NoError(t, err)
	}
	_, err := f.processor.SubmitAndProcess(f.ctx, ledger.NewTransaction{
		ActorID: staffID, AccountID: f.accountID, Kind: ledger.KindDeposit,
		Amount: ledger.MustMoney("5"), OccurredAt: &before,
	})
	require.NoError(t, err)

	start, end := ledger.Period{Month: 3, Year: 2025}.Range(time.UTC)

	// THEN: March sums exclude February
	totals, err := f.store.SumApproved(f.ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, 60, totals.Count)
	assert.Equal(t, "600.00", totals.Deposits.String())

	all, err := f.store.SumApproved(f.ctx, time.Time{}, end)
	require.NoError(t, err)
	assert.Equal(t, "605.00", all.Deposits.String())

	// AND: keyset pages walk March in id order
	page1, err := f.store.ListTransactions(f.ctx, ledger.TxFilter{From: start, To: end, Limit: ledger.PageSize})
	require.NoError(t, err)
	require.Len(t, page1, ledger.PageSize)
	page2, err := f.store.ListTransactions(f.ctx, ledger.TxFilter{
		From: start, To: end, After: page1[len(page1)-1].ID, Limit: ledger.PageSize,
	})
	require.NoError(t, err)
	assert.Len(t, page2, 10)
	assert.Less(t, page1[len(page1)-1].ID, page2[0].ID)

	withdrawals, err := f.store.ListTransactions(f.ctx, ledger.TxFilter{Kind: ledger.KindWithdrawal})
	require.NoError(t, err)
	assert.Empty(t, withdrawals)
}

func TestSQLite_CompositionPortfolioMembers(t *testing.T) {
	f := newFixture(t)
	f.submit(t, ledger.KindDeposit, "250")
	require.NoError(t, f.store.PutAccount(f.ctx, ledger.SavingsAccount{
		ID: ledger.NewID(), MemberID: memberID, Category: ledger.SavingsPokok, Balance: ledger.MustMoney("100000"),
	}))
	deleted := time.Now()
	require.NoError(t, f.store.PutAccount(f.ctx, ledger.SavingsAccount{
		ID: ledger.NewID(), MemberID: memberID, Category: ledger.SavingsWajib,
		Balance: ledger.MustMoney("7"), DeletedAt: &deleted,
	}))
	march := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.PutMember(f.ctx, ledger.MemberState{ID: "m2", Status: ledger.MemberInactive}, march))

	comp, err := f.store.SavingsComposition(f.ctx)
	require.NoError(t, err)
	require.Len(t, comp, len(ledger.SavingsCategories))
	byCat := map[ledger.SavingsCategory]ledger.CategoryBalance{}
	for _, c := range comp {
		byCat[c.Category] = c
	}
	assert.Equal(t, "100000.00", byCat[ledger.SavingsPokok].Balance.String())
	assert.Equal(t, "250.00", byCat[ledger.SavingsSukarela].Balance.String())
	assert.Equal(t, 0, byCat[ledger.SavingsWajib].Accounts)

	portfolio, err := f.store.LoanPortfolio(f.ctx)
	require.NoError(t, err)
	for _, p := range portfolio {
		if p.Status == ledger.LoanApproved {
			assert.Equal(t, 1, p.Count)
			assert.Equal(t, "1200000.00", p.Principal.String())
		}
	}

	start, end := ledger.Period{Month: 3, Year: 2025}.Range(time.UTC)
	stats, err := f.store.MemberStats(f.ctx, start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Inactive)
	assert.Equal(t, 1, stats.Joined)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestSQLite_SnapshotGenerateFinalize(t *testing.T) {
	f := newFixture(t)
	f.submit(t, ledger.KindDeposit, "500")
	snaps := report.NewSnapshots(f.store, report.Options{})
	p := ledger.PeriodOf(time.Now().UTC())

	// WHEN: the period is generated twice
	first, err := snaps.Generate(f.ctx, p, staffID)
	require.NoError(t, err)
	f.submit(t, ledger.KindDeposit, "20")
	second, err := snaps.Generate(f.ctx, p, staffID)
	require.NoError(t, err)

	// THEN: the draft is updated in place
	assert.Equal(t, first.ID, second.ID)
	stored, err := f.store.GetSnapshotByPeriod(f.ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "520.00", stored.TotalDeposits.String())
	assert.Equal(t, "520.00", stored.ClosingBalance.String())
	assert.Equal(t, ledger.SnapshotDraft, stored.Status)

	// WHEN: finalized
	final, err := snaps.Finalize(f.ctx, second.ID, staffID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SnapshotFinal, final.Status)

	// THEN: regeneration and refinalization conflict
	_, err = snaps.Generate(f.ctx, p, staffID)
	assert.ErrorIs(t, err, ledger.ErrSnapshotFinal)
	_, err = snaps.Finalize(f.ctx, second.ID, staffID)
	assert.ErrorIs(t, err, ledger.ErrSnapshotAlreadyFinal)

	listed, err := f.store.ListSnapshots(f.ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].FinalizedAt)
	assert.Equal(t, p, listed[0].Period)
}

func TestSQLite_DuplicateSnapshotInsertIsConflict(t *testing.T) {
	f := newFixture(t)
	p := ledger.Period{Month: 4, Year: 2025}
	now := time.Now()
	snap := func() ledger.Snapshot {
		return ledger.Snapshot{
			ID: ledger.NewID(), Period: p, Status: ledger.SnapshotDraft, GeneratedBy: staffID,
			GeneratedAt: now, CreatedAt: now, UpdatedAt: now,
		}
	}

	// GIVEN: a DRAFT for April inserted by one unit
	require.NoError(t, f.store.Atomically(f.ctx, func(tx ledger.Tx) error {
		return tx.InsertSnapshot(f.ctx, snap())
	}))

	// WHEN: a second unit that missed it inserts the same period
	err := f.store.Atomically(f.ctx, func(tx ledger.Tx) error {
		return tx.InsertSnapshot(f.ctx, snap())
	})

	// THEN: the unique key violation is a retryable conflict, not a 500
	assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)
	assert.True(t, ledger.IsConflict(err))
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSQLite_Settings(t *testing.T) {
	f := newFixture(t)
	settings := sqlstore.NewSettings(f.store, time.Hour, nil)

	// GIVEN: no rows, defaults apply
	assert.Equal(t, 300, settings.Int(f.ctx, ledger.SettingReportCacheTTL, 300))
	assert.True(t, settings.Bool(f.ctx, ledger.SettingSnapshotAutoGenerate, true))

	// WHEN: values are set through the provider
	require.NoError(t, settings.Set(f.ctx, ledger.SettingReportCacheTTL, "60"))
	require.NoError(t, settings.Set(f.ctx, ledger.SettingSnapshotAutoGenerate, "false"))

	// THEN: they are visible immediately
	assert.Equal(t, 60, settings.Int(f.ctx, ledger.SettingReportCacheTTL, 300))
	assert.False(t, settings.Bool(f.ctx, ledger.SettingSnapshotAutoGenerate, true))

	// AND: a value written behind the provider's back is served from cache
	// until the TTL expires, while a fresh provider reads it
	_, err := f.store.DB().Exec(`UPDATE settings SET setting_value = '90' WHERE setting_key = ?`, ledger.SettingReportCacheTTL)
	require.NoError(t, err)
	assert.Equal(t, 60, settings.Int(f.ctx, ledger.SettingReportCacheTTL, 300))
	fresh := sqlstore.NewSettings(f.store, time.Hour, nil)
	assert.Equal(t, 90, fresh.Int(f.ctx, ledger.SettingReportCacheTTL, 300))

	// AND: unparsable values fall back to the default
	require.NoError(t, settings.Set(f.ctx, "broken", "abc"))
	assert.Equal(t, 7, settings.Int(f.ctx, "broken", 7))
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := sqlstore.New(sqlstore.Config{Driver: "postgres", DSN: "x"})
	assert.Error(t, err)
}

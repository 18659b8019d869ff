package sqlstore_test

import (
	"context"
	"math/rand"
	"os"
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

// These tests run the MySQL dialect, where row locks come from
// SELECT ... FOR UPDATE instead of a single writer connection. They need a
// disposable database, e.g.
//
//	TEST_MYSQL_DSN="root:secret@tcp(127.0.0.1:3306)/ksp_test" go test ./store/sqlstore/
//
// Every test writes rows under fresh ids, so the database is not cleaned.

func liveMySQL(t *testing.T) *sqlstore.Store {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	s, err := sqlstore.New(sqlstore.Config{Driver: "mysql", DSN: dsn, MaxOpenConns: 16, MaxIdleConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type mysqlFixture struct {
	ctx       context.Context
	store     *sqlstore.Store
	processor *ledger.Processor
	staffID   string
	memberID  string
	accountID string
}

func newMySQLFixture(t *testing.T) *mysqlFixture {
	t.Helper()
	s := liveMySQL(t)
	ctx := context.Background()
	f := &mysqlFixture{
		ctx: ctx, store: s,
		staffID: ledger.NewID(), memberID: ledger.NewID(), accountID: ledger.NewID(),
	}
	require.NoError(t, s.PutStaff(ctx, ledger.StaffState{ID: f.staffID, IsActive: true}))
	require.NoError(t, s.PutMember(ctx, ledger.MemberState{ID: f.memberID, Status: ledger.MemberActive}, time.Now()))
	require.NoError(t, s.PutAccount(ctx, ledger.SavingsAccount{
		ID:       f.accountID,
		MemberID: f.memberID,
		Category: ledger.SavingsSukarela,
		Balance:  ledger.ZeroMoney,
	}))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	f.processor = ledger.NewProcessor(s, ledger.WithLogger(log))
	return f
}

func (f *mysqlFixture) savings(kind ledger.Kind, amount string) ledger.NewTransaction {
	return ledger.NewTransaction{ActorID: f.staffID, AccountID: f.accountID, Kind: kind, Amount: ledger.MustMoney(amount)}
}

func (f *mysqlFixture) balance(t *testing.T) string {
	t.Helper()
	a, err := f.store.GetSavingsAccount(f.ctx, f.accountID)
	require.NoError(t, err)
	return a.Balance.String()
}

func TestMySQL_ConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newMySQLFixture(t)
	dep, err := f.processor.SubmitAndProcess(f.ctx, f.savings(ledger.KindDeposit, "1000"))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusApproved, dep.Status)

	// GIVEN: 20 concurrent withdrawals of 75 on separate connections
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := f.processor.SubmitAndProcess(f.ctx, f.savings(ledger.KindWithdrawal, "75"))
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

	// THEN: FOR UPDATE serializes them: exactly 13 fit and 25.00 remains
	assert.Equal(t, 13, approved)
	assert.Equal(t, "25.00", f.balance(t))
}

func TestMySQL_MemberStatusReadInsideUnit(t *testing.T) {
	f := newMySQLFixture(t)
	created, err := f.processor.Create(f.ctx, f.savings(ledger.KindDeposit, "100"))
	require.NoError(t, err)

	// WHEN: the member is deactivated right before the processing unit
	p := ledger.NewProcessor(deactivatingStore{Store: f.store, memberID: f.memberID})
	tx, err := p.Process(f.ctx, created.ID)

	// THEN: the decision sees INACTIVE
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, tx.Status)
	assert.Equal(t, ledger.ReasonMemberInactive, tx.Note)
	assert.Equal(t, "0.00", f.balance(t))
}

func TestMySQL_ConcurrentFirstGenerationOfPeriod(t *testing.T) {
	f := newMySQLFixture(t)
	snaps := report.NewSnapshots(f.store, report.Options{})
	// A period no earlier run has used.
	p := ledger.Period{Month: 1 + rand.Intn(12), Year: 3000 + rand.Intn(6000)}

	// GIVEN: eight generations of a period with no snapshot row yet
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		ids  = map[string]bool{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := snaps.Generate(f.ctx, p, f.staffID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[snap.ID] = true
		}()
	}
	wg.Wait()

	// THEN: one row exists and no caller saw an infrastructure error
	for _, err := range errs {
		assert.True(t, ledger.IsConflict(err), "unexpected error: %v", err)
	}
	assert.Len(t, ids, 1)

	stored, err := f.store.GetSnapshotByPeriod(f.ctx, p)
	require.NoError(t, err)
	assert.True(t, ids[stored.ID])
}

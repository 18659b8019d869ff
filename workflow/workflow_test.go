package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger/store"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	mem      *store.Memory
	savings  *workflow.Savings
	loans    *workflow.Loans
	operator *workflow.Operator

	accountID string
	loanID    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	mem.PutStaff(ledger.StaffState{ID: "teller", IsActive: true})
	mem.PutStaff(ledger.StaffState{ID: "former-teller", IsActive: false})
	mem.PutMember(ledger.MemberState{ID: "m1", Status: ledger.MemberActive}, time.Now())

	e := &env{mem: mem, accountID: ledger.NewID(), loanID: ledger.NewID()}
	mem.PutAccount(ledger.SavingsAccount{ID: e.accountID, MemberID: "m1", Category: ledger.SavingsWajib})
	mem.PutLoan(ledger.Loan{
		ID:          e.loanID,
		MemberID:    "m1",
		Principal:   ledger.MustMoney("2000000"),
		TenorMonths: 6,
		Status:      ledger.LoanApproved,
	})

	p := ledger.NewProcessor(mem)
	e.savings = workflow.NewSavings(mem, mem, p)
	e.loans = workflow.NewLoans(mem, mem, p)
	e.operator = workflow.NewOperator(mem, p)
	return e
}

func (e *env) deposit(amount string) workflow.SavingsRequest {
	return workflow.SavingsRequest{
		AccountID: e.accountID,
		Kind:      ledger.KindDeposit,
		Amount:    ledger.MustMoney(amount),
		Method:    ledger.MethodCash,
		ActorID:   "teller",
	}
}

func (e *env) countTransactions(t *testing.T) int {
	t.Helper()
	all, err := e.mem.ListTransactions(context.Background(), ledger.TxFilter{})
	require.NoError(t, err)
	return len(all)
}

// =============================================================================
// SAVINGS GATES
// =============================================================================

func TestSavings_Gates(t *testing.T) {
	// GIVEN: Requests that each fail exactly one precondition
	// THEN: Each returns its own named error and nothing is persisted

	e := newEnv(t)
	ctx := context.Background()

	deletedID := ledger.NewID()
	deletedAt := time.Now()
	e.mem.PutAccount(ledger.SavingsAccount{ID: deletedID, MemberID: "m1", Category: ledger.SavingsPokok, DeletedAt: &deletedAt})

	inactiveAcct := ledger.NewID()
	e.mem.PutMember(ledger.MemberState{ID: "m2", Status: ledger.MemberInactive}, time.Now())
	e.mem.PutAccount(ledger.SavingsAccount{ID: inactiveAcct, MemberID: "m2", Category: ledger.SavingsPokok})

	orphanAcct := ledger.NewID()
	e.mem.PutAccount(ledger.SavingsAccount{ID: orphanAcct, MemberID: "ghost", Category: ledger.SavingsPokok})

	cases := []struct {
		name   string
		mutate func(r *workflow.SavingsRequest)
		want   error
	}{
		{"zero amount", func(r *workflow.SavingsRequest) { r.Amount = ledger.ZeroMoney }, ledger.ErrInvalidAmount},
		{"loan kind", func(r *workflow.SavingsRequest) { r.Kind = ledger.KindInstallment }, ledger.ErrInvalidKind},
		{"unknown staff", func(r *workflow.SavingsRequest) { r.ActorID = "nobody" }, ledger.ErrStaffNotFound},
		{"inactive staff", func(r *workflow.SavingsRequest) { r.ActorID = "former-teller" }, ledger.ErrStaffInactive},
		{"unknown account", func(r *workflow.SavingsRequest) { r.AccountID = ledger.NewID() }, ledger.ErrAccountNotFound},
		{"deleted account", func(r *workflow.SavingsRequest) { r.AccountID = deletedID }, ledger.ErrAccountNotFound},
		{"inactive member", func(r *workflow.SavingsRequest) { r.AccountID = inactiveAcct }, ledger.ErrMemberInactive},
		{"unknown member", func(r *workflow.SavingsRequest) { r.AccountID = orphanAcct }, ledger.ErrMemberNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := e.deposit("1000")
			c.mutate(&req)
			_, err := e.savings.Submit(ctx, req)
			assert.ErrorIs(t, err, c.want)
			assert.True(t, ledger.IsClientError(err))
		})
	}
	assert.Zero(t, e.countTransactions(t))
}

func TestSavings_DepositThenWithdraw(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tx, err := e.savings.Submit(ctx, e.deposit("500000"))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, tx.Status)

	withdraw := e.deposit("400000")
	withdraw.Kind = ledger.KindWithdrawal
	withdraw.Amount = ledger.MustMoney("600000")
	tx, err = e.savings.Submit(ctx, withdraw)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, tx.Status)
	assert.Equal(t, ledger.ReasonInsufficientBalance, tx.Note)

	acct, err := e.mem.GetSavingsAccount(ctx, e.accountID)
	require.NoError(t, err)
	assert.Equal(t, "500000.00", acct.Balance.String())
}

// =============================================================================
// LOAN GATES
// =============================================================================

func TestLoans_DefaultAmounts(t *testing.T) {
	// GIVEN: An approved 2,000,000 / 6 month loan
	// WHEN: Disbursed and repaid without explicit amounts
	// THEN: Disbursement uses principal and installments use ceil(principal/6)

	e := newEnv(t)
	ctx := context.Background()

	tx, err := e.loans.Submit(ctx, workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindDisbursement, ActorID: "teller"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, tx.Status)
	assert.Equal(t, "2000000.00", tx.Amount.String())

	var amounts []string
	for i := 0; i < 6; i++ {
		tx, err = e.loans.Submit(ctx, workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindInstallment, ActorID: "teller"})
		require.NoError(t, err)
		require.Equal(t, ledger.StatusApproved, tx.Status)
		amounts = append(amounts, tx.Amount.String())
	}
	assert.Equal(t, []string{
		"333334.00", "333334.00", "333334.00", "333334.00", "333334.00", "333330.00",
	}, amounts)

	loan, err := e.mem.GetLoan(ctx, e.loanID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanPaidOff, loan.Status)

	// Once paid off the loan is no longer APPROVED: a precondition error.
	_, err = e.loans.Submit(ctx, workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindInstallment, ActorID: "teller"})
	assert.ErrorIs(t, err, ledger.ErrLoanNotApproved)
}

func TestLoans_InstallmentBeforeDisbursement_Rejected(t *testing.T) {
	e := newEnv(t)

	tx, err := e.loans.Submit(context.Background(), workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindInstallment, ActorID: "teller"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, tx.Status)
	assert.Equal(t, ledger.ReasonExceedsOutstanding, tx.Note)
}

func TestLoans_Gates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	pendingLoan := ledger.NewID()
	e.mem.PutLoan(ledger.Loan{ID: pendingLoan, MemberID: "m1", Principal: ledger.MustMoney("100"), TenorMonths: 1, Status: ledger.LoanPending})

	negative := ledger.MustMoney("-5")
	cases := []struct {
		name string
		req  workflow.LoanRequest
		want error
	}{
		{"savings kind", workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindDeposit, ActorID: "teller"}, ledger.ErrInvalidKind},
		{"negative amount", workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindInstallment, Amount: &negative, ActorID: "teller"}, ledger.ErrInvalidAmount},
		{"inactive staff", workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindDisbursement, ActorID: "former-teller"}, ledger.ErrStaffInactive},
		{"unknown loan", workflow.LoanRequest{LoanID: ledger.NewID(), Kind: ledger.KindDisbursement, ActorID: "teller"}, ledger.ErrLoanNotFound},
		{"pending loan", workflow.LoanRequest{LoanID: pendingLoan, Kind: ledger.KindDisbursement, ActorID: "teller"}, ledger.ErrLoanNotApproved},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.loans.Submit(ctx, c.req)
			assert.ErrorIs(t, err, c.want)
		})
	}
	assert.Zero(t, e.countTransactions(t))
}

func TestLoans_InactiveMember_LeftToStateMachine(t *testing.T) {
	// GIVEN: The borrower became inactive after loan approval
	// THEN: The loan workflow does not gate on it; the record is REJECTED

	e := newEnv(t)
	e.mem.PutMember(ledger.MemberState{ID: "m1", Status: ledger.MemberInactive}, time.Now())

	tx, err := e.loans.Submit(context.Background(), workflow.LoanRequest{LoanID: e.loanID, Kind: ledger.KindDisbursement, ActorID: "teller"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRejected, tx.Status)
	assert.Equal(t, ledger.ReasonMemberInactive, tx.Note)
}

// =============================================================================
// OPERATOR PATH
// =============================================================================

func TestOperator_CreateThenProcess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.operator.Create(ctx, workflow.OperatorRequest{
		ActorID:   "teller",
		AccountID: e.accountID,
		Kind:      ledger.KindDeposit,
		Amount:    ledger.MustMoney("75.50"),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, created.Status)

	_, err = e.operator.Process(ctx, "former-teller", created.ID)
	assert.ErrorIs(t, err, ledger.ErrStaffInactive)

	done, err := e.operator.Process(ctx, "teller", created.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusApproved, done.Status)

	_, err = e.operator.Process(ctx, "teller", created.ID)
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)
}

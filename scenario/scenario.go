/*
Package scenario loads demo data into a SQL store.

PURPOSE:
  Provides pre-built cooperatives for local runs, demos and end-to-end
  tests. Reference rows (staff, members, accounts, loans) are written
  directly; every money movement goes through the savings and loan
  workflows, so balances, loan state and audit events are exactly what the
  API would have produced.

AVAILABLE SCENARIOS:
  fresh:     Staff, members, one account per category, one approved loan
             waiting for disbursement. No transactions.
  month-end: fresh + a month of deposits, one withdrawal, one overdraw
             attempt (REJECTED), the loan disbursed and two installments.

HOW SCENARIOS WORK:
  1. Put staff and members
  2. Open accounts and loans
  3. Submit transactions dated inside the chosen period

NOTE:
  Seeding overwrites rows with the same ids but never clears the database.
  Only use against development databases.

SEE ALSO:
  - cmd/seed/main.go: command-line loader
  - store/sqlstore/seed.go: the Put* helpers used here
*/
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/store/sqlstore"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/workflow"
)

// =============================================================================
// CATALOG
// =============================================================================

type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

const (
	Fresh    = "fresh"
	MonthEnd = "month-end"
)

var scenarios = []Scenario{
	{
		ID:          Fresh,
		Name:        "Fresh cooperative",
		Description: "Three active members and one pending applicant, one account per savings category, one approved loan",
	},
	{
		ID:          MonthEnd,
		Name:        "Month end",
		Description: "A full month of activity ready for a snapshot: deposits, a withdrawal, a rejected overdraw, a disbursement and installments",
	},
}

// List returns the available scenarios.
func List() []Scenario {
	return append([]Scenario(nil), scenarios...)
}

// Staff ids seeded by every scenario.
const (
	StaffAdmin   = "staff-admin"
	StaffManager = "staff-manager"
	StaffTeller  = "staff-teller"
	StaffFormer  = "staff-former"
)

// =============================================================================
// LOADER
// =============================================================================

// Loader writes scenarios through the store and workflows.
type Loader struct {
	Store   *sqlstore.Store
	Savings *workflow.Savings
	Loans   *workflow.Loans

	// Period receives the dated transactions. Zero means the current month.
	Period   ledger.Period
	Location *time.Location
}

// Result lists what a scenario created.
type Result struct {
	Scenario     string            `json:"scenario"`
	Period       string            `json:"period"`
	Members      []string          `json:"members"`
	Accounts     map[string]string `json:"accounts"` // "<member>/<category>" -> id
	LoanID       string            `json:"loan_id"`
	Approved     int               `json:"approved"`
	Rejected     int               `json:"rejected"`
	Transactions []string          `json:"transactions,omitempty"`
}

// Load runs the scenario with the given id.
func (l *Loader) Load(ctx context.Context, id string) (*Result, error) {
	loc := l.Location
	if loc == nil {
		loc = time.UTC
	}
	p := l.Period
	if p == (ledger.Period{}) {
		p = ledger.PeriodOf(time.Now().In(loc))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Scenario: id, Period: p.String(), Accounts: make(map[string]string)}
	switch id {
	case Fresh:
		return res, l.fresh(ctx, p, loc, res)
	case MonthEnd:
		if err := l.fresh(ctx, p, loc, res); err != nil {
			return nil, err
		}
		return res, l.monthEnd(ctx, p, loc, res)
	default:
		return nil, fmt.Errorf("unknown scenario %q", id)
	}
}

func (l *Loader) fresh(ctx context.Context, p ledger.Period, loc *time.Location, res *Result) error {
	for _, st := range []ledger.StaffState{
		{ID: StaffAdmin, IsActive: true},
		{ID: StaffManager, IsActive: true},
		{ID: StaffTeller, IsActive: true},
		{ID: StaffFormer, IsActive: false},
	} {
		if err := l.Store.PutStaff(ctx, st); err != nil {
			return err
		}
	}

	start, _ := p.Range(loc)
	members := []ledger.MemberState{
		{ID: "member-001", Status: ledger.MemberActive},
		{ID: "member-002", Status: ledger.MemberActive},
		{ID: "member-003", Status: ledger.MemberActive},
		{ID: "member-004", Status: ledger.MemberPending},
	}
	for i, m := range members {
		// The first two joined before the period, the rest during it.
		joined := start.AddDate(0, -1, 0)
		if i >= 2 {
			joined = start.AddDate(0, 0, i)
		}
		if err := l.Store.PutMember(ctx, m, joined); err != nil {
			return err
		}
		res.Members = append(res.Members, m.ID)
		if m.Status != ledger.MemberActive {
			continue
		}
		for _, cat := range []ledger.SavingsCategory{ledger.SavingsPokok, ledger.SavingsWajib, ledger.SavingsSukarela} {
			acct := ledger.SavingsAccount{ID: ledger.NewID(), MemberID: m.ID, Category: cat, CreatedAt: joined}
			if err := l.Store.PutAccount(ctx, acct); err != nil {
				return err
			}
			res.Accounts[accountKey(m.ID, cat)] = acct.ID
		}
	}

	approvedBy := StaffManager
	approvedAt := start.AddDate(0, 0, -3)
	loan := ledger.Loan{
		ID:              ledger.NewID(),
		MemberID:        "member-001",
		Principal:       ledger.MustMoney("3000000"),
		InterestPercent: ledger.MustMoney("1.5"),
		TenorMonths:     12,
		Status:          ledger.LoanApproved,
		ApprovedBy:      &approvedBy,
		ApprovedAt:      &approvedAt,
	}
	if err := l.Store.PutLoan(ctx, loan); err != nil {
		return err
	}
	res.LoanID = loan.ID
	return nil
}

func (l *Loader) monthEnd(ctx context.Context, p ledger.Period, loc *time.Location, res *Result) error {
	start, _ := p.Range(loc)
	on := func(day int) *time.Time {
		t := start.AddDate(0, 0, day-1).Add(10 * time.Hour)
		return &t
	}

	deposits := map[ledger.SavingsCategory]string{
		ledger.SavingsPokok:    "100000",
		ledger.SavingsWajib:    "50000",
		ledger.SavingsSukarela: "250000",
	}
	for i, member := range []string{"member-001", "member-002", "member-003"} {
		for _, cat := range []ledger.SavingsCategory{ledger.SavingsPokok, ledger.SavingsWajib, ledger.SavingsSukarela} {
			err := l.savings(ctx, res, workflow.SavingsRequest{
				AccountID:  res.Accounts[accountKey(member, cat)],
				Kind:       ledger.KindDeposit,
				Amount:     ledger.MustMoney(deposits[cat]),
				Method:     ledger.MethodCash,
				ActorID:    StaffTeller,
				OccurredAt: on(2 + i),
				Note:       "monthly deposit",
			})
			if err != nil {
				return err
			}
		}
	}

	sukarela := res.Accounts[accountKey("member-002", ledger.SavingsSukarela)]
	for _, amount := range []string{"75000", "900000"} {
		err := l.savings(ctx, res, workflow.SavingsRequest{
			AccountID:  sukarela,
			Kind:       ledger.KindWithdrawal,
			Amount:     ledger.MustMoney(amount),
			Method:     ledger.MethodTransfer,
			ActorID:    StaffTeller,
			OccurredAt: on(10),
		})
		if err != nil {
			return err
		}
	}

	for i, kind := range []ledger.Kind{ledger.KindDisbursement, ledger.KindInstallment, ledger.KindInstallment} {
		tx, err := l.Loans.Submit(ctx, workflow.LoanRequest{
			LoanID:     res.LoanID,
			Kind:       kind,
			Method:     ledger.MethodTransfer,
			ActorID:    StaffManager,
			OccurredAt: on(5 + 7*i),
		})
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		res.record(tx)
	}
	return nil
}

func (l *Loader) savings(ctx context.Context, res *Result, req workflow.SavingsRequest) error {
	tx, err := l.Savings.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Kind, req.AccountID, err)
	}
	res.record(tx)
	return nil
}

func (r *Result) record(tx *ledger.Transaction) {
	r.Transactions = append(r.Transactions, tx.ID)
	if tx.Status == ledger.StatusApproved {
		r.Approved++
	} else {
		r.Rejected++
	}
}

func accountKey(memberID string, cat ledger.SavingsCategory) string {
	return memberID + "/" + string(cat)
}

/*
Package ledger is the transaction-processing and balance-mutation engine of
the cooperative back office.

PURPOSE:
  Takes a proposed monetary movement (deposit, withdrawal, loan disbursement,
  loan installment), decides it against the current account or loan state,
  and moves it from PENDING to APPROVED or REJECTED while mutating the owning
  balance exactly once.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: one monetary movement against a savings account OR a loan
  - SavingsAccount: one running balance per member per savings category
  - Loan: single-disbursement, declining-balance credit facility
  - MemberState / StaffState: identity projections consumed from outside

DATA FLOW:
  workflow -> Processor -> Decide (pure) -> Store.Atomically (commit)

SEE ALSO:
  - money.go: exact decimal amounts
  - decide.go: the state machine
  - processor.go: create/process orchestration
  - store.go: persistence ports and the unit of work
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a time-ordered identifier (UUIDv7). Ordering by id is
// ordering by creation, which keyset pagination relies on.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Kind string

const (
	KindDeposit      Kind = "DEPOSIT"
	KindWithdrawal   Kind = "WITHDRAWAL"
	KindDisbursement Kind = "DISBURSEMENT"
	KindInstallment  Kind = "INSTALLMENT"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindDisbursement, KindInstallment:
		return true
	}
	return false
}

// TargetsAccount is true for kinds that move a savings balance.
func (k Kind) TargetsAccount() bool { return k == KindDeposit || k == KindWithdrawal }

// TargetsLoan is true for kinds that move a loan's outstanding balance.
func (k Kind) TargetsLoan() bool { return k == KindDisbursement || k == KindInstallment }

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Terminal states never change again.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodTransfer PaymentMethod = "TRANSFER"
)

// Transaction is immutable once it leaves PENDING.
type Transaction struct {
	ID          string        `json:"id" db:"id"`
	MemberID    string        `json:"member_id" db:"member_id"`
	ActorID     string        `json:"actor_id" db:"actor_id"`
	AccountID   *string       `json:"account_id,omitempty" db:"account_id"`
	LoanID      *string       `json:"loan_id,omitempty" db:"loan_id"`
	Kind        Kind          `json:"kind" db:"kind"`
	Amount      Money         `json:"amount" db:"amount"`
	OccurredAt  time.Time     `json:"occurred_at" db:"occurred_at"`
	Method      PaymentMethod `json:"method" db:"method"`
	Status      Status        `json:"status" db:"status"`
	Note        string        `json:"note,omitempty" db:"note"`
	EvidenceURL string        `json:"evidence_url,omitempty" db:"evidence_url"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time    `json:"-" db:"deleted_at"`
}

// NewTransaction is the input to Processor.Create.
type NewTransaction struct {
	ActorID     string
	AccountID   string
	LoanID      string
	Kind        Kind
	Amount      Money
	Method      PaymentMethod
	OccurredAt  *time.Time
	Note        string
	EvidenceURL string
}

// =============================================================================
// SAVINGS ACCOUNT
// =============================================================================

type SavingsCategory string

const (
	SavingsPokok    SavingsCategory = "POKOK"    // mandatory initial
	SavingsWajib    SavingsCategory = "WAJIB"    // mandatory monthly
	SavingsSukarela SavingsCategory = "SUKARELA" // voluntary
)

// SavingsCategories lists categories in display order.
var SavingsCategories = []SavingsCategory{SavingsPokok, SavingsWajib, SavingsSukarela}

type SavingsAccount struct {
	ID        string          `json:"id" db:"id"`
	MemberID  string          `json:"member_id" db:"member_id"`
	Category  SavingsCategory `json:"category" db:"category"`
	Balance   Money           `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time      `json:"-" db:"deleted_at"`
}

func (a SavingsAccount) Deleted() bool { return a.DeletedAt != nil }

// =============================================================================
// LOAN
// =============================================================================

type LoanStatus string

const (
	LoanPending  LoanStatus = "PENDING"
	LoanApproved LoanStatus = "APPROVED"
	LoanRejected LoanStatus = "REJECTED"
	LoanPaidOff  LoanStatus = "PAID_OFF"
)

type Loan struct {
	ID              string     `json:"id" db:"id"`
	MemberID        string     `json:"member_id" db:"member_id"`
	Principal       Money      `json:"principal" db:"principal"`
	InterestPercent Money      `json:"interest_percent" db:"interest_percent"`
	TenorMonths     int        `json:"tenor_months" db:"tenor_months"`
	Outstanding     Money      `json:"outstanding" db:"outstanding"`
	Status          LoanStatus `json:"status" db:"status"`
	ApprovedBy      *string    `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	DisbursedAt     *time.Time `json:"disbursed_at,omitempty" db:"disbursed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt       *time.Time `json:"-" db:"deleted_at"`
}

func (l Loan) Deleted() bool { return l.DeletedAt != nil }

// SuggestedInstallment is principal/tenor rounded up to a whole unit,
// capped at what is still outstanding.
func (l Loan) SuggestedInstallment() Money {
	return l.Principal.CeilDiv(l.TenorMonths).Min(l.Outstanding)
}

// =============================================================================
// IDENTITY PROJECTIONS
// =============================================================================

type MemberStatus string

const (
	MemberActive   MemberStatus = "ACTIVE"
	MemberInactive MemberStatus = "INACTIVE"
	MemberPending  MemberStatus = "PENDING"
	MemberRejected MemberStatus = "REJECTED"
)

type MemberState struct {
	ID     string       `json:"id" db:"id"`
	Status MemberStatus `json:"status" db:"status"`
}

type StaffState struct {
	ID       string `json:"id" db:"id"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

/*
store.go - Persistence ports for the transaction engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  never holds a global client: a Store is passed into the Processor and the
  report services.

KEY INTERFACES:
  Queries: read-only projections (flat structs, no navigable graphs)
  Tx:      Queries plus the writes allowed inside a unit of work
  Store:   Queries plus Atomically, the unit-of-work port

ATOMICITY CONTRACT:
  Atomically(fn) runs fn against a Tx. If fn returns an error nothing fn
  wrote is visible afterwards. Rows returned by the Lock* methods stay
  locked until the unit ends, which gives at-most-one committing writer per
  account, per loan, and per snapshot period.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and local runs
  - store/sqlstore: SQLite (single writer) and MySQL (SELECT ... FOR UPDATE)

SEE ALSO:
  - processor.go: the only writer of balances
  - report/snapshot.go: the only writer of snapshots
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// PROJECTIONS
// =============================================================================

// TxFilter selects transactions for listing. Zero fields do not filter.
// From is inclusive and To exclusive.
type TxFilter struct {
	Kind   Kind
	Status Status
	From   time.Time
	To     time.Time
	After  string // keyset cursor: only ids greater than After
	Limit  int
}

type LoanFilter struct {
	Status LoanStatus
	After  string
	Limit  int
}

// CategoryBalance is the live savings position of one category.
type CategoryBalance struct {
	Category SavingsCategory `json:"category" db:"category"`
	Accounts int             `json:"accounts" db:"accounts"`
	Balance  Money           `json:"balance" db:"balance"`
}

// LoanStatusTotal is the live loan portfolio for one loan status.
type LoanStatusTotal struct {
	Status      LoanStatus `json:"status" db:"status"`
	Count       int        `json:"count" db:"count"`
	Principal   Money      `json:"principal" db:"principal"`
	Outstanding Money      `json:"outstanding" db:"outstanding"`
}

// MemberStats counts members by status plus those who joined in a range.
type MemberStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
	Joined   int `json:"joined"`
}

// Locked is a transaction and its target as seen under lock.
// Account or Loan is nil when the target no longer exists. MemberStatus is
// read in the same unit and is empty when the member no longer exists.
type Locked struct {
	Transaction  Transaction
	MemberStatus MemberStatus
	Account      *SavingsAccount
	Loan         *Loan
}

// LoanUpdate is the loan state written on an approved loan transaction.
type LoanUpdate struct {
	Outstanding Money
	Status      LoanStatus
	DisbursedAt *time.Time
	At          time.Time
}

// =============================================================================
// PORTS
// =============================================================================

// Queries are the reads available both inside and outside a unit of work.
type Queries interface {
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, f TxFilter) ([]Transaction, error)
	GetSavingsAccount(ctx context.Context, id string) (SavingsAccount, error)
	GetLoan(ctx context.Context, id string) (Loan, error)
	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)

	// SumApproved totals APPROVED transactions with OccurredAt in
	// [from, to). A zero from means "since the beginning".
	SumApproved(ctx context.Context, from, to time.Time) (Totals, error)
	SavingsComposition(ctx context.Context) ([]CategoryBalance, error)
	LoanPortfolio(ctx context.Context) ([]LoanStatusTotal, error)
	MemberStats(ctx context.Context, joinedFrom, joinedTo time.Time) (MemberStats, error)

	GetSnapshot(ctx context.Context, id string) (Snapshot, error)
	GetSnapshotByPeriod(ctx context.Context, p Period) (Snapshot, error)
	ListSnapshots(ctx context.Context, after string, limit int) ([]Snapshot, error)
}

// Tx is the view handed to a unit of work.
type Tx interface {
	Queries

	InsertTransaction(ctx context.Context, tx Transaction) error

	// LockForProcessing loads a transaction and its target, locking both,
	// and reads the owning member's status under a shared lock.
	// Returns ErrTransactionNotFound if the transaction does not exist.
	LockForProcessing(ctx context.Context, id string) (Locked, error)

	SetAccountBalance(ctx context.Context, accountID string, balance Money, at time.Time) error
	SetLoanState(ctx context.Context, loanID string, u LoanUpdate) error

	// FinalizeTransaction moves a PENDING transaction to a terminal status.
	// It is guarded on PENDING and returns an *AlreadyProcessedError when
	// the row has already left it.
	FinalizeTransaction(ctx context.Context, id string, status Status, note string, at time.Time) error

	// LockSnapshotByPeriod returns the period's snapshot locked, or
	// ErrSnapshotNotFound when none exists yet.
	LockSnapshotByPeriod(ctx context.Context, p Period) (Snapshot, error)
	LockSnapshot(ctx context.Context, id string) (Snapshot, error)
	InsertSnapshot(ctx context.Context, s Snapshot) error
	UpdateSnapshot(ctx context.Context, s Snapshot) error
}

// Store is the persistence gateway.
type Store interface {
	Queries

	// Atomically executes fn within a single unit of work.
	// If fn returns error, every write is rolled back.
	Atomically(ctx context.Context, fn func(Tx) error) error
}

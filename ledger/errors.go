/*
errors.go - Error taxonomy for the transaction engine

PURPOSE:
  All error values in one place so the HTTP boundary can classify them
  without knowing which layer produced them.

ERROR CATEGORIES:
  1. Precondition errors - raised before a transaction record exists.
     Nothing is persisted. Surfaced as client errors.
  2. Not found - read paths (transaction, snapshot).
  3. Conflict - one-shot operations attempted twice, or a lost race on a
     unique row.
  4. Infrastructure - everything else, wrapped with %w and propagated.

  Business rejections (insufficient balance, amount mismatch, ...) are NOT
  errors. They are a successful Process outcome: a REJECTED Transaction whose
  Note carries the reason. See decide.go.

SEE ALSO:
  - decide.go: rejection reasons
  - api/respond.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

// Precondition errors.
var (
	ErrStaffNotFound   = errors.New("acting staff not found")
	ErrStaffInactive   = errors.New("acting staff is inactive")
	ErrAccountNotFound = errors.New("savings account not found")
	ErrLoanNotFound    = errors.New("loan not found")
	ErrMemberNotFound  = errors.New("member not found")
	ErrMemberInactive  = errors.New("member is not active")
	ErrLoanNotApproved = errors.New("loan is not approved")

	// ErrInvalidAmount covers non-positive amounts and amounts with more
	// than MoneyScale fractional digits.
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidKind   = errors.New("invalid transaction kind")
	ErrInvalidMethod = errors.New("invalid payment method")

	// ErrInvalidTarget is returned when a transaction does not name exactly
	// one of account or loan, or names the wrong one for its kind.
	ErrInvalidTarget = errors.New("invalid transaction target")
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Not found on read paths.
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
)

// Conflicts.
var (
	// ErrAlreadyProcessed guards the one-shot PENDING -> terminal transition.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrSnapshotFinal is returned when regenerating a FINAL period.
	ErrSnapshotFinal = errors.New("snapshot is final")

	// ErrSnapshotAlreadyFinal is returned when finalizing twice.
	ErrSnapshotAlreadyFinal = errors.New("snapshot already final")

	// ErrConcurrentUpdate is returned when a concurrent unit of work claimed
	// the same row first. The unit was rolled back and can be retried.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AlreadyProcessedError reports the terminal status a transaction already has.
type AlreadyProcessedError struct {
	TransactionID string
	Status        Status
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("transaction %s already processed: status %s", e.TransactionID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error {
	return ErrAlreadyProcessed
}

// SnapshotFinalError names the period that can no longer be regenerated.
type SnapshotFinalError struct {
	SnapshotID string
	Period     Period
}

func (e *SnapshotFinalError) Error() string {
	return fmt.Sprintf("snapshot %s for %s is final", e.SnapshotID, e.Period)
}

func (e *SnapshotFinalError) Unwrap() error {
	return ErrSnapshotFinal
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a failed precondition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrStaffNotFound) ||
		errors.Is(err, ErrStaffInactive) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrLoanNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrMemberInactive) ||
		errors.Is(err, ErrLoanNotApproved) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidMethod) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidCursor)
}

// IsNotFound returns true if a read path found nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSnapshotNotFound)
}

// IsConflict returns true for repeated one-shot operations and lost races.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrSnapshotFinal) ||
		errors.Is(err, ErrSnapshotAlreadyFinal) ||
		errors.Is(err, ErrConcurrentUpdate)
}

/*
Package workflow holds the domain entry points for savings and loan
transactions.

PURPOSE:
  Each workflow is a thin precondition gate in front of the Processor.
  Gate failures are named errors returned before any transaction record
  exists; once the gates pass, the outcome (APPROVED or REJECTED) belongs
  to the state machine.

GATES:
  Savings (DEPOSIT, WITHDRAWAL):
    amount -> acting staff active -> account exists -> member ACTIVE
  Loans (DISBURSEMENT, INSTALLMENT):
    amount -> acting staff active -> loan exists -> loan APPROVED
    -> default amount -> processor (member-active left to the state machine)
  Operator (any kind, PENDING only):
    acting staff active -> processor.Create

SEE ALSO:
  - ledger/processor.go: create and process
  - ledger/decide.go: business rejections
*/
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// SHARED GATES
// =============================================================================

// requireActiveStaff resolves the acting staff member.
func requireActiveStaff(ctx context.Context, identity ledger.Identity, actorID string) error {
	if actorID == "" {
		return ledger.ErrStaffNotFound
	}
	staff, err := identity.FindActingStaff(ctx, actorID)
	if err != nil {
		return err
	}
	if !staff.IsActive {
		return fmt.Errorf("%w: %s", ledger.ErrStaffInactive, actorID)
	}
	return nil
}

func requirePositive(amount ledger.Money) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive, got %s", ledger.ErrInvalidAmount, amount)
	}
	return nil
}

// =============================================================================
// OPERATOR - back-office create / process
// =============================================================================

// Operator is the manual path: records are created PENDING and processed
// by a separate call.
type Operator struct {
	identity  ledger.Identity
	processor *ledger.Processor
}

func NewOperator(identity ledger.Identity, processor *ledger.Processor) *Operator {
	return &Operator{identity: identity, processor: processor}
}

// OperatorRequest names its target explicitly; the kind decides which of
// AccountID or LoanID must be set.
type OperatorRequest struct {
	ActorID     string
	AccountID   string
	LoanID      string
	Kind        ledger.Kind
	Amount      ledger.Money
	Method      ledger.PaymentMethod
	OccurredAt  *time.Time
	Note        string
	EvidenceURL string
}

func (o *Operator) Create(ctx context.Context, req OperatorRequest) (*ledger.Transaction, error) {
	if err := requireActiveStaff(ctx, o.identity, req.ActorID); err != nil {
		return nil, err
	}
	return o.processor.Create(ctx, ledger.NewTransaction{
		ActorID:     req.ActorID,
		AccountID:   req.AccountID,
		LoanID:      req.LoanID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Method:      req.Method,
		OccurredAt:  req.OccurredAt,
		Note:        req.Note,
		EvidenceURL: req.EvidenceURL,
	})
}

func (o *Operator) Process(ctx context.Context, actorID, transactionID string) (*ledger.Transaction, error) {
	if err := requireActiveStaff(ctx, o.identity, actorID); err != nil {
		return nil, err
	}
	return o.processor.Process(ctx, transactionID)
}

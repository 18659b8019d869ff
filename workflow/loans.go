package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// Loans handles disbursements and installments.
type Loans struct {
	store     ledger.Queries
	identity  ledger.Identity
	processor *ledger.Processor
}

func NewLoans(store ledger.Queries, identity ledger.Identity, processor *ledger.Processor) *Loans {
	return &Loans{store: store, identity: identity, processor: processor}
}

// LoanRequest leaves Amount nil to use the default: the full principal for
// a disbursement, the suggested installment otherwise.
type LoanRequest struct {
	LoanID      string
	Kind        ledger.Kind
	Amount      *ledger.Money
	Method      ledger.PaymentMethod
	ActorID     string
	OccurredAt  *time.Time
	Note        string
	EvidenceURL string
}

func (l *Loans) Submit(ctx context.Context, req LoanRequest) (*ledger.Transaction, error) {
	if !req.Kind.TargetsLoan() {
		return nil, fmt.Errorf("%w: %q is not a loan kind", ledger.ErrInvalidKind, req.Kind)
	}
	if req.Amount != nil {
		if err := requirePositive(*req.Amount); err != nil {
			return nil, err
		}
	}
	if err := requireActiveStaff(ctx, l.identity, req.ActorID); err != nil {
		return nil, err
	}

	loan, err := l.store.GetLoan(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.Deleted() {
		return nil, ledger.ErrLoanNotFound
	}
	if loan.Status != ledger.LoanApproved {
		return nil, fmt.Errorf("%w: %s is %s", ledger.ErrLoanNotApproved, loan.ID, loan.Status)
	}

	amount := defaultAmount(req.Kind, loan)
	if req.Amount != nil {
		amount = *req.Amount
	}

	return l.processor.SubmitAndProcess(ctx, ledger.NewTransaction{
		ActorID:     req.ActorID,
		LoanID:      loan.ID,
		Kind:        req.Kind,
		Amount:      amount,
		Method:      req.Method,
		OccurredAt:  req.OccurredAt,
		Note:        req.Note,
		EvidenceURL: req.EvidenceURL,
	})
}

func defaultAmount(kind ledger.Kind, loan ledger.Loan) ledger.Money {
	if kind == ledger.KindDisbursement {
		return loan.Principal
	}
	// Before disbursement there is nothing to cap against; let the state
	// machine reject the uncapped amount as exceeding outstanding.
	if s := loan.SuggestedInstallment(); s.IsPositive() {
		return s
	}
	return loan.Principal.CeilDiv(loan.TenorMonths)
}

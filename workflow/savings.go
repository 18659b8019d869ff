package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// Savings handles deposits and withdrawals.
type Savings struct {
	store     ledger.Queries
	identity  ledger.Identity
	processor *ledger.Processor
}

func NewSavings(store ledger.Queries, identity ledger.Identity, processor *ledger.Processor) *Savings {
	return &Savings{store: store, identity: identity, processor: processor}
}

type SavingsRequest struct {
	AccountID   string
	Kind        ledger.Kind
	Amount      ledger.Money
	Method      ledger.PaymentMethod
	ActorID     string
	OccurredAt  *time.Time
	Note        string
	EvidenceURL string
}

// Submit gates and then synchronously decides a savings transaction.
// A REJECTED result is returned with a nil error.
func (s *Savings) Submit(ctx context.Context, req SavingsRequest) (*ledger.Transaction, error) {
	if !req.Kind.TargetsAccount() {
		return nil, fmt.Errorf("%w: %q is not a savings kind", ledger.ErrInvalidKind, req.Kind)
	}
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	if err := requireActiveStaff(ctx, s.identity, req.ActorID); err != nil {
		return nil, err
	}

	acct, err := s.store.GetSavingsAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.Deleted() {
		return nil, ledger.ErrAccountNotFound
	}

	member, err := s.identity.FindMemberState(ctx, acct.MemberID)
	if err != nil {
		return nil, err
	}
	if member.Status != ledger.MemberActive {
		return nil, fmt.Errorf("%w: %s is %s", ledger.ErrMemberInactive, member.ID, member.Status)
	}

	return s.processor.SubmitAndProcess(ctx, ledger.NewTransaction{
		ActorID:     req.ActorID,
		AccountID:   acct.ID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Method:      req.Method,
		OccurredAt:  req.OccurredAt,
		Note:        req.Note,
		EvidenceURL: req.EvidenceURL,
	})
}

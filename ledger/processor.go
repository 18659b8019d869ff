/*
processor.go - Transaction orchestrator

PURPOSE:
  The only code path that moves a transaction out of PENDING and the only
  writer of savings balances and loan outstanding balances.

OPERATIONS:
  Create:            validate and insert a PENDING record (operator path)
  Process:           decide a PENDING record and commit the outcome
  SubmitAndProcess:  Create then Process; used by the domain workflows

PROCESS, STEP BY STEP:
  1. Read the transaction and refuse anything not PENDING early.
  2. Inside Store.Atomically:
       a. lock the transaction and its target, read the member's status
       b. refuse anything not PENDING with AlreadyProcessedError
       c. Decide (a panic here becomes a REJECTED decision)
       d. REJECTED: finalize with the reason as note
          APPROVED: write the new balance / loan state, then finalize
  3. After commit: audit event (fire-and-forget) and a log line.

  A storage error in step 2 rolls the whole unit back. The record stays
  PENDING and the error is returned for retry or inspection.

SEE ALSO:
  - decide.go: the pure state machine
  - store.go: the unit-of-work contract
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	store Store
	audit AuditSink
	log   logrus.FieldLogger
	now   func() time.Time
}

type ProcessorOption func(*Processor)

func WithAuditSink(a AuditSink) ProcessorOption {
	return func(p *Processor) { p.audit = a }
}

func WithLogger(l logrus.FieldLogger) ProcessorOption {
	return func(p *Processor) { p.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(store Store, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store: store,
		audit: NopAudit{},
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// =============================================================================
// CREATE
// =============================================================================

// Create validates req and stores it as a PENDING transaction.
// The owning member is taken from the target account or loan.
func (p *Processor) Create(ctx context.Context, req NewTransaction) (*Transaction, error) {
	if req.ActorID == "" {
		return nil, ErrStaffNotFound
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, req.Amount)
	}
	method := req.Method
	if method == "" {
		method = MethodCash
	}
	if method != MethodCash && method != MethodTransfer {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}

	now := p.now()
	tx := Transaction{
		ID:          NewID(),
		ActorID:     req.ActorID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		OccurredAt:  now,
		Method:      method,
		Status:      StatusPending,
		Note:        req.Note,
		EvidenceURL: req.EvidenceURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.OccurredAt != nil {
		tx.OccurredAt = *req.OccurredAt
	}

	switch {
	case req.Kind.TargetsAccount():
		if req.AccountID == "" || req.LoanID != "" {
			return nil, fmt.Errorf("%w: %s needs an account and no loan", ErrInvalidTarget, req.Kind)
		}
		acct, err := p.store.GetSavingsAccount(ctx, req.AccountID)
		if err != nil {
			return nil, err
		}
		if acct.Deleted() {
			return nil, ErrAccountNotFound
		}
		accountID := acct.ID
		tx.AccountID = &accountID
		tx.MemberID = acct.MemberID
	default:
		if req.LoanID == "" || req.AccountID != "" {
			return nil, fmt.Errorf("%w: %s needs a loan and no account", ErrInvalidTarget, req.Kind)
		}
		loan, err := p.store.GetLoan(ctx, req.LoanID)
		if err != nil {
			return nil, err
		}
		if loan.Deleted() {
			return nil, ErrLoanNotFound
		}
		loanID := loan.ID
		tx.LoanID = &loanID
		tx.MemberID = loan.MemberID
	}

	err := p.store.Atomically(ctx, func(s Tx) error {
		return s.InsertTransaction(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	p.audit.Record(ctx, AuditEvent{
		Action:   AuditTransactionCreated,
		Entity:   "transaction",
		EntityID: tx.ID,
		After:    tx,
		ActorID:  tx.ActorID,
		IP:       RequestIP(ctx),
		At:       now,
	})
	return &tx, nil
}

// SubmitAndProcess creates the transaction and decides it immediately.
// A business rejection is a successful call returning a REJECTED record.
func (p *Processor) SubmitAndProcess(ctx context.Context, req NewTransaction) (*Transaction, error) {
	tx, err := p.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, tx.ID)
}

// =============================================================================
// PROCESS
// =============================================================================

// Process decides a PENDING transaction and commits the outcome.
// Processing is one-shot: a second call returns an *AlreadyProcessedError
// and mutates nothing.
func (p *Processor) Process(ctx context.Context, id string) (*Transaction, error) {
	current, err := p.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return nil, &AlreadyProcessedError{TransactionID: id, Status: current.Status}
	}

	var (
		result   Transaction
		decision Decision
		before   any
		after    any
	)
	err = p.store.Atomically(ctx, func(s Tx) error {
		locked, err := s.LockForProcessing(ctx, id)
		if err != nil {
			return err
		}
		if locked.Transaction.Status != StatusPending {
			return &AlreadyProcessedError{TransactionID: id, Status: locked.Transaction.Status}
		}

		decision = p.decide(ProcessingView{
			Transaction:  locked.Transaction,
			MemberStatus: locked.MemberStatus,
			Account:      locked.Account,
			Loan:         locked.Loan,
		})

		now := p.now()
		result = locked.Transaction
		result.UpdatedAt = now

		if !decision.Approved() {
			result.Status = StatusRejected
			result.Note = decision.Reason
			return s.FinalizeTransaction(ctx, id, StatusRejected, decision.Reason, now)
		}

		switch {
		case locked.Account != nil && result.Kind.TargetsAccount():
			before = *locked.Account
			updated := *locked.Account
			updated.Balance = decision.Balance
			updated.UpdatedAt = now
			after = updated
			if err := s.SetAccountBalance(ctx, updated.ID, decision.Balance, now); err != nil {
				return err
			}
		case locked.Loan != nil && result.Kind.TargetsLoan():
			before = *locked.Loan
			updated := *locked.Loan
			updated.Outstanding = decision.Balance
			updated.Status = decision.LoanStatus
			updated.UpdatedAt = now
			u := LoanUpdate{Outstanding: decision.Balance, Status: decision.LoanStatus, At: now}
			if result.Kind == KindDisbursement {
				disbursedAt := result.OccurredAt
				u.DisbursedAt = &disbursedAt
				updated.DisbursedAt = &disbursedAt
			}
			after = updated
			if err := s.SetLoanState(ctx, updated.ID, u); err != nil {
				return err
			}
		default:
			return fmt.Errorf("approved %s without a matching target", result.Kind)
		}

		result.Status = StatusApproved
		return s.FinalizeTransaction(ctx, id, StatusApproved, result.Note, now)
	})
	if err != nil {
		var already *AlreadyProcessedError
		if errors.As(err, &already) {
			return nil, already
		}
		p.log.WithFields(logrus.Fields{
			"transaction_id": id,
			"error":          err.Error(),
		}).Error("transaction left pending")
		return nil, fmt.Errorf("process transaction %s: %w", id, err)
	}

	p.log.WithFields(logrus.Fields{
		"transaction_id": result.ID,
		"kind":           result.Kind,
		"amount":         result.Amount.String(),
		"status":         result.Status,
		"reason":         decision.Reason,
	}).Info("transaction processed")

	p.recordOutcome(ctx, result, before, after)
	return &result, nil
}

// decide runs Decide, turning a panic into a rejection.
func (p *Processor) decide(v ProcessingView) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"transaction_id": v.Transaction.ID,
				"panic":          fmt.Sprint(r),
			}).Error("decision panicked")
			d = reject(fmt.Sprintf("decision failed: %v", r))
		}
	}()
	return decideFunc(v)
}

// decideFunc is swapped in tests to exercise panic recovery.
var decideFunc = Decide

func (p *Processor) recordOutcome(ctx context.Context, tx Transaction, before, after any) {
	action := AuditTransactionApproved
	if tx.Status == StatusRejected {
		action = AuditTransactionRejected
	}
	if after == nil {
		after = tx
	}
	p.audit.Record(ctx, AuditEvent{
		Action:   action,
		Entity:   "transaction",
		EntityID: tx.ID,
		Before:   before,
		After:    after,
		ActorID:  tx.ActorID,
		IP:       RequestIP(ctx),
		At:       tx.UpdatedAt,
	})
}

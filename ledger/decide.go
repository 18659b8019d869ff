/*
decide.go - The transaction state machine

PURPOSE:
  Decides a PENDING transaction against the current state of its target.
  Decide is a pure function: state in, decision out. It does no I/O, takes
  no context, and never touches a store. The only race window (read balance
  -> commit balance) is closed by Store.Atomically, not here.

RULES (evaluated in order):
  0. Owning member must be ACTIVE                       -> "member inactive"
  1. Target must exist and amount must be positive      -> "target not found" / "invalid amount"
  2. Per kind:
     DEPOSIT       always approved, balance += amount
     WITHDRAWAL    balance >= amount (inclusive)        -> "insufficient balance"
     DISBURSEMENT  loan APPROVED                        -> "not approved"
                   outstanding == 0                     -> "already disbursed"
                   amount == principal (exact)          -> "amount mismatch"
     INSTALLMENT   loan APPROVED                        -> "not approved"
                   amount <= outstanding (inclusive)    -> "exceeds outstanding"
                   outstanding reaching 0 flips the loan to PAID_OFF

SEE ALSO:
  - processor.go: applies the Decision inside a unit of work
*/
package ledger

// Rejection reasons, recorded verbatim as the transaction note.
const (
	ReasonMemberInactive      = "member inactive"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonAlreadyDisbursed    = "already disbursed"
	ReasonAmountMismatch      = "amount mismatch"
	ReasonNotApproved         = "not approved"
	ReasonExceedsOutstanding  = "exceeds outstanding"
	ReasonTargetNotFound      = "target not found"
	ReasonInvalidAmount       = "invalid amount"
	ReasonUnsupportedKind     = "unsupported kind"
)

// ProcessingView is everything Decide may look at. Exactly one of Account
// or Loan is set for a well-formed transaction; nil means the target row
// vanished (or was soft-deleted) between creation and processing.
type ProcessingView struct {
	Transaction  Transaction
	MemberStatus MemberStatus
	Account      *SavingsAccount
	Loan         *Loan
}

// Decision is the outcome of Decide.
//
// For approvals, Balance is the new account balance or loan outstanding and
// LoanStatus the resulting loan status (loan kinds only). Delta is signed
// from the target's point of view.
type Decision struct {
	Status     Status
	Delta      Money
	Balance    Money
	LoanStatus LoanStatus
	Reason     string
}

func (d Decision) Approved() bool { return d.Status == StatusApproved }

func reject(reason string) Decision {
	return Decision{Status: StatusRejected, Reason: reason}
}

// Decide runs the state machine. It never returns an error: every failure
// is a REJECTED decision with a reason.
func Decide(v ProcessingView) Decision {
	if v.MemberStatus != MemberActive {
		return reject(ReasonMemberInactive)
	}

	tx := v.Transaction
	if !tx.Amount.IsPositive() {
		return reject(ReasonInvalidAmount)
	}

	switch tx.Kind {
	case KindDeposit:
		if v.Account == nil || v.Account.Deleted() {
			return reject(ReasonTargetNotFound)
		}
		return Decision{
			Status:  StatusApproved,
			Delta:   tx.Amount,
			Balance: v.Account.Balance.Add(tx.Amount),
		}

	case KindWithdrawal:
		if v.Account == nil || v.Account.Deleted() {
			return reject(ReasonTargetNotFound)
		}
		if v.Account.Balance.LessThan(tx.Amount) {
			return reject(ReasonInsufficientBalance)
		}
		return Decision{
			Status:  StatusApproved,
			Delta:   tx.Amount.Neg(),
			Balance: v.Account.Balance.Sub(tx.Amount),
		}

	case KindDisbursement:
		if v.Loan == nil || v.Loan.Deleted() {
			return reject(ReasonTargetNotFound)
		}
		if v.Loan.Status != LoanApproved {
			return reject(ReasonNotApproved)
		}
		if !v.Loan.Outstanding.IsZero() {
			return reject(ReasonAlreadyDisbursed)
		}
		if !tx.Amount.Equal(v.Loan.Principal) {
			return reject(ReasonAmountMismatch)
		}
		return Decision{
			Status:     StatusApproved,
			Delta:      tx.Amount,
			Balance:    v.Loan.Principal,
			LoanStatus: LoanApproved,
		}

	case KindInstallment:
		if v.Loan == nil || v.Loan.Deleted() {
			return reject(ReasonTargetNotFound)
		}
		if v.Loan.Status != LoanApproved {
			return reject(ReasonNotApproved)
		}
		if v.Loan.Outstanding.LessThan(tx.Amount) {
			return reject(ReasonExceedsOutstanding)
		}
		remaining := v.Loan.Outstanding.Sub(tx.Amount)
		status := LoanApproved
		if !remaining.IsPositive() {
			remaining = ZeroMoney
			status = LoanPaidOff
		}
		return Decision{
			Status:     StatusApproved,
			Delta:      tx.Amount.Neg(),
			Balance:    remaining,
			LoanStatus: status,
		}
	}

	return reject(ReasonUnsupportedKind)
}

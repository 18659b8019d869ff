package ledger

import "time"

// =============================================================================
// FINANCIAL SNAPSHOT - Period close
// =============================================================================

type SnapshotStatus string

const (
	SnapshotDraft SnapshotStatus = "DRAFT"
	SnapshotFinal SnapshotStatus = "FINAL"
)

// Snapshot is the stored summary of one period. A DRAFT may be regenerated
// any number of times; a FINAL snapshot never changes again.
//
// ClosingBalance is the cumulative net cash position of the cooperative at
// the end of the period: deposits - withdrawals + installments - disbursements
// over every APPROVED transaction before Period end.
type Snapshot struct {
	ID string `json:"id" db:"id"`
	Period
	TotalDeposits      Money          `json:"total_deposits" db:"total_deposits"`
	TotalWithdrawals   Money          `json:"total_withdrawals" db:"total_withdrawals"`
	TotalDisbursements Money          `json:"total_disbursements" db:"total_disbursements"`
	TotalInstallments  Money          `json:"total_installments" db:"total_installments"`
	ClosingBalance     Money          `json:"closing_balance" db:"closing_balance"`
	Status             SnapshotStatus `json:"status" db:"status"`
	GeneratedBy        string         `json:"generated_by" db:"generated_by"`
	GeneratedAt        time.Time      `json:"generated_at" db:"generated_at"`
	FinalizedAt        *time.Time     `json:"finalized_at,omitempty" db:"finalized_at"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

func (s Snapshot) Final() bool { return s.Status == SnapshotFinal }

// Totals are sums over APPROVED transactions, grouped by kind.
type Totals struct {
	Deposits      Money `json:"deposits"`
	Withdrawals   Money `json:"withdrawals"`
	Disbursements Money `json:"disbursements"`
	Installments  Money `json:"installments"`
	Count         int   `json:"count"`
}

// Add accumulates one approved transaction.
func (t *Totals) Add(kind Kind, amount Money) {
	switch kind {
	case KindDeposit:
		t.Deposits = t.Deposits.Add(amount)
	case KindWithdrawal:
		t.Withdrawals = t.Withdrawals.Add(amount)
	case KindDisbursement:
		t.Disbursements = t.Disbursements.Add(amount)
	case KindInstallment:
		t.Installments = t.Installments.Add(amount)
	default:
		return
	}
	t.Count++
}

// Inflow is cash received by the cooperative.
func (t Totals) Inflow() Money { return t.Deposits.Add(t.Installments) }

// Outflow is cash paid out by the cooperative.
func (t Totals) Outflow() Money { return t.Withdrawals.Add(t.Disbursements) }

// Net is Inflow - Outflow.
func (t Totals) Net() Money { return t.Inflow().Sub(t.Outflow()) }

// IsEmpty is true when no approved transaction contributed.
func (t Totals) IsEmpty() bool { return t.Count == 0 }

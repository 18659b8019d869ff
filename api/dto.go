/*
dto.go - Request and response bodies

Amounts travel as decimal strings ("150000.00"); bare JSON numbers are
rejected with 400. Timestamps are RFC 3339.
*/
package api

import (
	"time"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// SavingsTransactionRequest is the body of
// POST /api/savings/{accountId}/transactions.
type SavingsTransactionRequest struct {
	Kind        ledger.Kind          `json:"kind"`
	Amount      ledger.Money         `json:"amount"`
	Method      ledger.PaymentMethod `json:"method,omitempty"`
	OccurredAt  *time.Time           `json:"occurred_at,omitempty"`
	Note        string               `json:"note,omitempty"`
	EvidenceURL string               `json:"evidence_url,omitempty"`
}

// LoanTransactionRequest is the body of POST /api/loans/{loanId}/transactions.
// A missing amount means "the default for this kind".
type LoanTransactionRequest struct {
	Kind        ledger.Kind          `json:"kind"`
	Amount      *ledger.Money        `json:"amount,omitempty"`
	Method      ledger.PaymentMethod `json:"method,omitempty"`
	OccurredAt  *time.Time           `json:"occurred_at,omitempty"`
	Note        string               `json:"note,omitempty"`
	EvidenceURL string               `json:"evidence_url,omitempty"`
}

// CreateTransactionRequest is the body of POST /api/transactions. Exactly
// one of AccountID and LoanID is set.
type CreateTransactionRequest struct {
	AccountID   string               `json:"account_id,omitempty"`
	LoanID      string               `json:"loan_id,omitempty"`
	Kind        ledger.Kind          `json:"kind"`
	Amount      ledger.Money         `json:"amount"`
	Method      ledger.PaymentMethod `json:"method,omitempty"`
	OccurredAt  *time.Time           `json:"occurred_at,omitempty"`
	Note        string               `json:"note,omitempty"`
	EvidenceURL string               `json:"evidence_url,omitempty"`
}

// GenerateSnapshotRequest is the body of POST /api/reports/snapshots.
// Async hands the work to the background worker.
type GenerateSnapshotRequest struct {
	Month int  `json:"month"`
	Year  int  `json:"year"`
	Async bool `json:"async,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// AcceptedResponse answers work handed to the background worker.
type AcceptedResponse struct {
	TaskID string `json:"task_id"`
	Period string `json:"period"`
}

/*
handlers.go - HTTP API handlers for the transaction engine

PURPOSE:
  Exposes savings and loan transaction submission, operator processing,
  and period reporting over REST. Handlers parse the request, call one
  engine operation, and serialize the result. No business rule lives here.

ENDPOINTS:
  Transactions:
    POST   /api/savings/{accountId}/transactions  Submit and decide a deposit/withdrawal
    POST   /api/loans/{loanId}/transactions       Submit and decide a disbursement/installment
    POST   /api/transactions                      Create a PENDING transaction
    POST   /api/transactions/{id}/process         Decide a PENDING transaction
    GET    /api/transactions                      List (?kind=&status=&cursor=)
    GET    /api/transactions/{id}                 Get one

  Reports:
    GET    /api/reports/{kind}                    Render (?month=&year=&cursor= or ?period=yyyy-mm)
    GET    /api/reports/{kind}/export             xlsx workbook
    POST   /api/reports/snapshots                 Generate a DRAFT
    POST   /api/reports/snapshots/{id}/finalize   DRAFT -> FINAL
    GET    /api/reports/snapshots                 List (?cursor=)
    GET    /api/reports/snapshots/{id}            Get one

  GET /health

ERROR HANDLING:
  See respond.go. A rejected transaction is not an error: the call succeeds
  and the body carries status REJECTED with the reason in note.

SEE ALSO:
  - middleware.go: the guard chain applied per route
  - server.go: router setup
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/report"
	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/workflow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// SnapshotEnqueuer hands a snapshot generation to the background worker and
// returns the task id.
type SnapshotEnqueuer func(ctx context.Context, p ledger.Period, actorID string) (string, error)

// Handler holds all dependencies for HTTP handlers. Enqueue and Ping are
// optional.
type Handler struct {
	Savings   *workflow.Savings
	Loans     *workflow.Loans
	Operator  *workflow.Operator
	Store     ledger.Queries
	Reports   *report.Aggregator
	Snapshots *report.Snapshots
	Enqueue   SnapshotEnqueuer
	Ping      func(context.Context) error
	Log       logrus.FieldLogger
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, h.logger(), err)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// SubmitSavingsTransaction validates, creates and decides a savings movement.
// POST /api/savings/{accountId}/transactions
func (h *Handler) SubmitSavingsTransaction(w http.ResponseWriter, r *http.Request) {
	var req SavingsTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tx, err := h.Savings.Submit(r.Context(), workflow.SavingsRequest{
		AccountID:   chi.URLParam(r, "accountId"),
		Kind:        req.Kind,
		Amount:      req.Amount,
		Method:      req.Method,
		ActorID:     actorID(r),
		OccurredAt:  req.OccurredAt,
		Note:        req.Note,
		EvidenceURL: req.EvidenceURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// SubmitLoanTransaction validates, creates and decides a loan movement.
// POST /api/loans/{loanId}/transactions
func (h *Handler) SubmitLoanTransaction(w http.ResponseWriter, r *http.Request) {
	var req LoanTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tx, err := h.Loans.Submit(r.Context(), workflow.LoanRequest{
		LoanID:      chi.URLParam(r, "loanId"),
		Kind:        req.Kind,
		Amount:      req.Amount,
		Method:      req.Method,
		ActorID:     actorID(r),
		OccurredAt:  req.OccurredAt,
		Note:        req.Note,
		EvidenceURL: req.EvidenceURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// CreateTransaction records a PENDING transaction for later processing.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tx, err := h.Operator.Create(r.Context(), workflow.OperatorRequest{
		ActorID:     actorID(r),
		AccountID:   req.AccountID,
		LoanID:      req.LoanID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Method:      req.Method,
		OccurredAt:  req.OccurredAt,
		Note:        req.Note,
		EvidenceURL: req.EvidenceURL,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ProcessTransaction decides a PENDING transaction.
// POST /api/transactions/{id}/process
func (h *Handler) ProcessTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Operator.Process(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Store.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ListTransactions pages through transactions in creation order.
// GET /api/transactions?kind=&status=&cursor=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TxFilter{
		Kind:   ledger.Kind(q.Get("kind")),
		Status: ledger.Status(q.Get("status")),
		Limit:  ledger.PageSize + 1,
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		h.fail(w, r, fmt.Errorf("%w: %q", ledger.ErrInvalidKind, filter.Kind))
		return
	}
	switch filter.Status {
	case "", ledger.StatusPending, ledger.StatusApproved, ledger.StatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "Invalid request", fmt.Errorf("unknown status %q", filter.Status))
		return
	}
	after, err := ledger.DecodeCursor(q.Get("cursor"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter.After = after

	txs, err := h.Store.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.NewPage(txs, func(t ledger.Transaction) string { return t.ID }))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetReport renders one report kind for a period.
// GET /api/reports/{kind}?month=&year=&cursor=
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rep, err := h.Reports.Report(r.Context(), report.Kind(chi.URLParam(r, "kind")), p, r.URL.Query().Get("cursor"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ExportReport streams the report as an xlsx workbook.
// GET /api/reports/{kind}/export?month=&year=
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	p, err := periodFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	kind, err := report.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := h.Reports.Export(r.Context(), kind, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.xlsx"`, kind, p))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// GenerateSnapshot creates or refreshes the DRAFT of a period, or queues
// that work when async is requested and a worker is configured.
// POST /api/reports/snapshots
func (h *Handler) GenerateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req GenerateSnapshotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := ledger.Period{Month: req.Month, Year: req.Year}
	if err := p.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}

	if req.Async && h.Enqueue != nil {
		taskID, err := h.Enqueue(r.Context(), p, actorID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, AcceptedResponse{TaskID: taskID, Period: p.String()})
		return
	}

	snap, err := h.Snapshots.Generate(r.Context(), p, actorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// POST /api/reports/snapshots/{id}/finalize
func (h *Handler) FinalizeSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Finalize(r.Context(), chi.URLParam(r, "id"), actorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/reports/snapshots?cursor=
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	page, err := h.Snapshots.List(r.Context(), r.URL.Query().Get("cursor"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /api/reports/snapshots/{id}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Health reports whether the database answers.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok"}
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			resp.Status, resp.Database = "degraded", err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeJSON writes a 400 and returns false when the body is not valid JSON
// for v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// periodFromQuery reads ?period=yyyy-mm or ?month=&year=.
func periodFromQuery(r *http.Request) (ledger.Period, error) {
	q := r.URL.Query()
	if s := q.Get("period"); s != "" {
		return ledger.ParsePeriod(s)
	}
	month, errM := strconv.Atoi(q.Get("month"))
	year, errY := strconv.Atoi(q.Get("year"))
	if errM != nil || errY != nil {
		return ledger.Period{}, fmt.Errorf("%w: month and year are required", ledger.ErrInvalidPeriod)
	}
	p := ledger.Period{Month: month, Year: year}
	return p, p.Validate()
}

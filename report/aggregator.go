package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator computes period reports from the ledger.
type Aggregator struct {
	store ledger.Queries
	opts  Options
}

func NewAggregator(store ledger.Queries, opts Options) *Aggregator {
	return &Aggregator{store: store, opts: opts.withDefaults()}
}

// Report returns the kind report for period p. cursor only applies to
// paginated kinds and is ignored otherwise.
func (a *Aggregator) Report(ctx context.Context, kind Kind, p ledger.Period, cursor string) (*Report, error) {
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !kind.Paginated() {
		cursor = ""
	}
	after, err := ledger.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	// The generation is read before computing. A snapshot generated while
	// this report is computed bumps it, so the write below lands on a key
	// no later read will use.
	gen, err := a.opts.Cache.Generation(ctx, p)
	if err != nil {
		a.opts.Logger.WithFields(logrus.Fields{"period": p.String(), "error": err.Error()}).Warn("report cache read failed")
		return a.compute(ctx, kind, p, after)
	}
	key := CacheKey(kind, p, gen, cursor)
	if r, ok := a.fromCache(ctx, key); ok {
		return r, nil
	}

	r, err := a.compute(ctx, kind, p, after)
	if err != nil {
		return nil, err
	}
	a.toCache(ctx, p, key, r)
	return r, nil
}

func (a *Aggregator) fromCache(ctx context.Context, key string) (*Report, bool) {
	raw, ok, err := a.opts.Cache.Get(ctx, key)
	if err != nil {
		a.opts.Logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("report cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var cached struct {
		Kind        Kind            `json:"kind"`
		Period      string          `json:"period"`
		Source      Source          `json:"source"`
		GeneratedAt time.Time       `json:"generated_at"`
		Data        json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &cached); err != nil {
		a.opts.Logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("report cache entry unreadable")
		return nil, false
	}
	return &Report{
		Kind:        cached.Kind,
		Period:      cached.Period,
		Source:      cached.Source,
		GeneratedAt: cached.GeneratedAt,
		Data:        cached.Data,
	}, true
}

func (a *Aggregator) toCache(ctx context.Context, p ledger.Period, key string, r *Report) {
	ttl := time.Duration(a.opts.Settings.Int(ctx, ledger.SettingReportCacheTTL, int(a.opts.CacheTTL/time.Second))) * time.Second
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		a.opts.Logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("report not cacheable")
		return
	}
	if err := a.opts.Cache.Set(ctx, p, key, raw, ttl); err != nil {
		a.opts.Logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("report cache write failed")
	}
}

// =============================================================================
// PERIOD FIGURES
// =============================================================================

// figures are the period-scoped numbers, snapshot-first.
type figures struct {
	totals  ledger.Totals
	closing ledger.Money
	hasData bool
	source  Source
	status  ledger.SnapshotStatus
}

func (a *Aggregator) figures(ctx context.Context, p ledger.Period) (figures, error) {
	snap, err := a.store.GetSnapshotByPeriod(ctx, p)
	if err == nil {
		return figures{
			totals: ledger.Totals{
				Deposits:      snap.TotalDeposits,
				Withdrawals:   snap.TotalWithdrawals,
				Disbursements: snap.TotalDisbursements,
				Installments:  snap.TotalInstallments,
			},
			closing: snap.ClosingBalance,
			hasData: true,
			source:  SourceSnapshot,
			status:  snap.Status,
		}, nil
	}
	if !errors.Is(err, ledger.ErrSnapshotNotFound) {
		return figures{}, fmt.Errorf("load snapshot %s: %w", p, err)
	}

	start, end := p.Range(a.opts.Location)
	totals, err := a.store.SumApproved(ctx, start, end)
	if err != nil {
		return figures{}, fmt.Errorf("sum %s: %w", p, err)
	}
	cumulative, err := a.store.SumApproved(ctx, time.Time{}, end)
	if err != nil {
		return figures{}, fmt.Errorf("sum through %s: %w", p, err)
	}
	return figures{
		totals:  totals,
		closing: cumulative.Net(),
		hasData: !totals.IsEmpty(),
		source:  SourceLive,
	}, nil
}

// =============================================================================
// COMPUTE
// =============================================================================

func (a *Aggregator) compute(ctx context.Context, kind Kind, p ledger.Period, after string) (*Report, error) {
	cur, err := a.figures(ctx, p)
	if err != nil {
		return nil, err
	}

	var data any
	switch kind {
	case KindSummary:
		data, err = a.summary(ctx, p, cur)
	case KindTransactions:
		data, err = a.transactions(ctx, p, cur, after)
	case KindInstallments:
		data, err = a.listing(ctx, p, cur, ledger.KindInstallment, after)
	case KindWithdrawals:
		data, err = a.listing(ctx, p, cur, ledger.KindWithdrawal, after)
	case KindLoans:
		data, err = a.loans(ctx, p, cur, after)
	case KindSavings:
		data, err = a.savings(ctx, p, cur)
	case KindCashflow:
		data, err = a.cashflow(ctx, p, cur)
	case KindMembership:
		data, err = a.membership(ctx, p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReport, kind)
	}
	if err != nil {
		return nil, err
	}

	return &Report{
		Kind:        kind,
		Period:      p.String(),
		Source:      cur.source,
		GeneratedAt: a.opts.Now(),
		Data:        data,
	}, nil
}

func (a *Aggregator) summary(ctx context.Context, p ledger.Period, cur figures) (Summary, error) {
	prev, err := a.figures(ctx, p.Previous())
	if err != nil {
		return Summary{}, err
	}
	savings, err := a.totalSavings(ctx)
	if err != nil {
		return Summary{}, err
	}
	outstanding, err := a.totalOutstanding(ctx)
	if err != nil {
		return Summary{}, err
	}
	start, end := p.Range(a.opts.Location)
	members, err := a.store.MemberStats(ctx, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("member stats: %w", err)
	}

	t := cur.totals
	return Summary{
		Deposits:         t.Deposits,
		Withdrawals:      t.Withdrawals,
		Disbursements:    t.Disbursements,
		Installments:     t.Installments,
		NetCashflow:      t.Net(),
		ClosingBalance:   cur.closing,
		TotalSavings:     savings,
		OutstandingLoans: outstanding,
		ActiveMembers:    members.Active,
		DepositGrowth:    Growth(t.Deposits.Decimal(), prev.totals.Deposits.Decimal(), prev.hasData),
		NetGrowth:        Growth(t.Net().Decimal(), prev.totals.Net().Decimal(), prev.hasData),
		SnapshotStatus:   cur.status,
	}, nil
}

func (a *Aggregator) transactions(ctx context.Context, p ledger.Period, cur figures, after string) (Transactions, error) {
	start, end := p.Range(a.opts.Location)
	items, err := a.store.ListTransactions(ctx, ledger.TxFilter{
		From:  start,
		To:    end,
		After: after,
		Limit: ledger.PageSize + 1,
	})
	if err != nil {
		return Transactions{}, fmt.Errorf("list transactions: %w", err)
	}
	return Transactions{
		Totals:       cur.totals,
		Transactions: ledger.NewPage(items, transactionID),
	}, nil
}

func (a *Aggregator) listing(ctx context.Context, p ledger.Period, cur figures, kind ledger.Kind, after string) (KindListing, error) {
	prev, err := a.figures(ctx, p.Previous())
	if err != nil {
		return KindListing{}, err
	}
	start, end := p.Range(a.opts.Location)
	items, err := a.store.ListTransactions(ctx, ledger.TxFilter{
		Kind:   kind,
		Status: ledger.StatusApproved,
		From:   start,
		To:     end,
		After:  after,
		Limit:  ledger.PageSize + 1,
	})
	if err != nil {
		return KindListing{}, fmt.Errorf("list %s: %w", kind, err)
	}

	total, previous := cur.totals.Withdrawals, prev.totals.Withdrawals
	if kind == ledger.KindInstallment {
		total, previous = cur.totals.Installments, prev.totals.Installments
	}
	return KindListing{
		Total:        total,
		Growth:       Growth(total.Decimal(), previous.Decimal(), prev.hasData),
		Transactions: ledger.NewPage(items, transactionID),
	}, nil
}

func (a *Aggregator) loans(ctx context.Context, p ledger.Period, cur figures, after string) (Loans, error) {
	portfolio, err := a.store.LoanPortfolio(ctx)
	if err != nil {
		return Loans{}, fmt.Errorf("loan portfolio: %w", err)
	}
	outstanding := ledger.ZeroMoney
	for _, s := range portfolio {
		outstanding = outstanding.Add(s.Outstanding)
	}

	// Repayment ratio is cumulative: everything repaid over everything
	// disbursed up to the end of the period.
	_, end := p.Range(a.opts.Location)
	cumulative, err := a.store.SumApproved(ctx, time.Time{}, end)
	if err != nil {
		return Loans{}, fmt.Errorf("sum through %s: %w", p, err)
	}

	items, err := a.store.ListLoans(ctx, ledger.LoanFilter{After: after, Limit: ledger.PageSize + 1})
	if err != nil {
		return Loans{}, fmt.Errorf("list loans: %w", err)
	}

	return Loans{
		Portfolio:        portfolio,
		TotalOutstanding: outstanding,
		Disbursed:        cur.totals.Disbursements,
		Repaid:           cur.totals.Installments,
		RepaymentRatio:   Ratio(cumulative.Installments.Decimal(), cumulative.Disbursements.Decimal()),
		Loans:            ledger.NewPage(items, func(l ledger.Loan) string { return l.ID }),
	}, nil
}

func (a *Aggregator) savings(ctx context.Context, p ledger.Period, cur figures) (Savings, error) {
	prev, err := a.figures(ctx, p.Previous())
	if err != nil {
		return Savings{}, err
	}
	composition, err := a.store.SavingsComposition(ctx)
	if err != nil {
		return Savings{}, fmt.Errorf("savings composition: %w", err)
	}
	total := ledger.ZeroMoney
	for _, c := range composition {
		total = total.Add(c.Balance)
	}
	shares := make([]CategoryShare, 0, len(composition))
	for _, c := range composition {
		shares = append(shares, CategoryShare{
			CategoryBalance: c,
			Share:           Ratio(c.Balance.Decimal(), total.Decimal()),
		})
	}

	t := cur.totals
	return Savings{
		Composition:   shares,
		TotalBalance:  total,
		Deposits:      t.Deposits,
		Withdrawals:   t.Withdrawals,
		NetSavings:    t.Deposits.Sub(t.Withdrawals),
		DepositGrowth: Growth(t.Deposits.Decimal(), prev.totals.Deposits.Decimal(), prev.hasData),
	}, nil
}

func (a *Aggregator) cashflow(ctx context.Context, p ledger.Period, cur figures) (Cashflow, error) {
	prev, err := a.figures(ctx, p.Previous())
	if err != nil {
		return Cashflow{}, err
	}
	t := cur.totals
	return Cashflow{
		OpeningBalance: prev.closing,
		Inflow:         Flow{Savings: t.Deposits, Loans: t.Installments, Total: t.Inflow()},
		Outflow:        Flow{Savings: t.Withdrawals, Loans: t.Disbursements, Total: t.Outflow()},
		Net:            t.Net(),
		ClosingBalance: cur.closing,
		NetGrowth:      Growth(t.Net().Decimal(), prev.totals.Net().Decimal(), prev.hasData),
	}, nil
}

func (a *Aggregator) membership(ctx context.Context, p ledger.Period) (Membership, error) {
	start, end := p.Range(a.opts.Location)
	stats, err := a.store.MemberStats(ctx, start, end)
	if err != nil {
		return Membership{}, fmt.Errorf("member stats: %w", err)
	}
	prevStart, prevEnd := p.Previous().Range(a.opts.Location)
	prev, err := a.store.MemberStats(ctx, prevStart, prevEnd)
	if err != nil {
		return Membership{}, fmt.Errorf("member stats: %w", err)
	}
	return Membership{
		MemberStats:    stats,
		JoinedPrevious: prev.Joined,
		JoinGrowth:     Growth(decimal.NewFromInt(int64(stats.Joined)), decimal.NewFromInt(int64(prev.Joined)), prev.Joined > 0),
		ActiveRatio:    Ratio(decimal.NewFromInt(int64(stats.Active)), decimal.NewFromInt(int64(stats.Total))),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (a *Aggregator) totalSavings(ctx context.Context) (ledger.Money, error) {
	composition, err := a.store.SavingsComposition(ctx)
	if err != nil {
		return ledger.Money{}, fmt.Errorf("savings composition: %w", err)
	}
	total := ledger.ZeroMoney
	for _, c := range composition {
		total = total.Add(c.Balance)
	}
	return total, nil
}

func (a *Aggregator) totalOutstanding(ctx context.Context) (ledger.Money, error) {
	portfolio, err := a.store.LoanPortfolio(ctx)
	if err != nil {
		return ledger.Money{}, fmt.Errorf("loan portfolio: %w", err)
	}
	total := ledger.ZeroMoney
	for _, s := range portfolio {
		total = total.Add(s.Outstanding)
	}
	return total, nil
}

func transactionID(t ledger.Transaction) string { return t.ID }

/*
Package report derives period summaries from the transaction ledger.

PURPOSE:
  Read-side counterpart of the ledger package. Computes monthly reports,
  generates and finalizes period snapshots, and exports reports as xlsx.

KEY CONCEPTS:
  - Snapshot-first: when a DRAFT or FINAL snapshot exists for a period its
    stored totals are authoritative. Otherwise totals are summed live over
    APPROVED transactions in [start, end) of the period.
  - Non-period figures (current savings, outstanding loans, member counts)
    are always live.
  - Cache-aside: rendered reports are cached per period with a bounded TTL
    and invalidated whenever that period's snapshot changes. A broken cache
    degrades to live computation.
  - Percentage: growth and ratio metrics are undefined (JSON null) when the
    denominator is zero or the comparison period has no data.

SEE ALSO:
  - aggregator.go: Report
  - snapshot.go: Generate / Finalize
  - export.go: xlsx rendering
*/
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// REPORT KINDS
// =============================================================================

type Kind string

const (
	KindSummary      Kind = "summary"
	KindTransactions Kind = "transactions"
	KindInstallments Kind = "installments"
	KindWithdrawals  Kind = "withdrawals"
	KindLoans        Kind = "loans"
	KindSavings      Kind = "savings"
	KindCashflow     Kind = "cashflow"
	KindMembership   Kind = "membership"
)

var Kinds = []Kind{
	KindSummary, KindTransactions, KindInstallments, KindWithdrawals,
	KindLoans, KindSavings, KindCashflow, KindMembership,
}

// ParseKind accepts any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown report %q", ErrUnknownReport, s)
}

// Paginated kinds carry a cursor-driven item list.
func (k Kind) Paginated() bool {
	switch k {
	case KindTransactions, KindInstallments, KindWithdrawals, KindLoans:
		return true
	}
	return false
}

// CacheKey is report:<kind>:<yyyy-mm>:g<generation>[:cursor].
func CacheKey(k Kind, p ledger.Period, generation int64, cursor string) string {
	key := fmt.Sprintf("report:%s:%s:g%d", k, p, generation)
	if cursor != "" {
		key += ":" + cursor
	}
	return key
}

// Source tells the caller where period totals came from.
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceLive     Source = "live"
)

// =============================================================================
// PERCENTAGE
// =============================================================================

// Percentage is a growth or ratio figure that may be undefined.
// Defined values render as a quoted decimal with two fractional digits;
// undefined values render as null.
type Percentage struct {
	value   decimal.Decimal
	defined bool
}

// Undefined is the zero value.
var Undefined = Percentage{}

var hundred = decimal.NewFromInt(100)

// Ratio returns part/whole*100, undefined when whole is zero.
func Ratio(part, whole decimal.Decimal) Percentage {
	if whole.IsZero() {
		return Undefined
	}
	return Percentage{value: part.Div(whole).Mul(hundred).Round(2), defined: true}
}

// Growth returns (current-previous)/previous*100. It is undefined when the
// previous period has no data or previous is zero.
func Growth(current, previous decimal.Decimal, previousHasData bool) Percentage {
	if !previousHasData {
		return Undefined
	}
	return Ratio(current.Sub(previous), previous.Abs())
}

func (p Percentage) Defined() bool { return p.defined }

func (p Percentage) String() string {
	if !p.defined {
		return "undefined"
	}
	return p.value.StringFixed(2)
}

func (p Percentage) MarshalJSON() ([]byte, error) {
	if !p.defined {
		return []byte("null"), nil
	}
	return []byte(`"` + p.value.StringFixed(2) + `"`), nil
}

func (p *Percentage) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "null" || s == "" {
		*p = Undefined
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("percentage: %w", err)
	}
	*p = Percentage{value: d, defined: true}
	return nil
}

// =============================================================================
// ENVELOPE
// =============================================================================

// Report is the response for every kind. Data holds one of the payload
// types below, or raw JSON when served from cache.
type Report struct {
	Kind        Kind      `json:"kind"`
	Period      string    `json:"period"`
	Source      Source    `json:"source"`
	GeneratedAt time.Time `json:"generated_at"`
	Data        any       `json:"data"`
}

// =============================================================================
// PAYLOADS
// =============================================================================

type Summary struct {
	Deposits         ledger.Money          `json:"deposits"`
	Withdrawals      ledger.Money          `json:"withdrawals"`
	Disbursements    ledger.Money          `json:"disbursements"`
	Installments     ledger.Money          `json:"installments"`
	NetCashflow      ledger.Money          `json:"net_cashflow"`
	ClosingBalance   ledger.Money          `json:"closing_balance"`
	TotalSavings     ledger.Money          `json:"total_savings"`
	OutstandingLoans ledger.Money          `json:"outstanding_loans"`
	ActiveMembers    int                   `json:"active_members"`
	DepositGrowth    Percentage            `json:"deposit_growth"`
	NetGrowth        Percentage            `json:"net_growth"`
	SnapshotStatus   ledger.SnapshotStatus `json:"snapshot_status,omitempty"`
}

type Transactions struct {
	Totals       ledger.Totals                   `json:"totals"`
	Transactions ledger.Page[ledger.Transaction] `json:"transactions"`
}

// KindListing serves both the installments and the withdrawals report.
type KindListing struct {
	Total        ledger.Money                    `json:"total"`
	Growth       Percentage                      `json:"growth"`
	Transactions ledger.Page[ledger.Transaction] `json:"transactions"`
}

type Loans struct {
	Portfolio        []ledger.LoanStatusTotal `json:"portfolio"`
	TotalOutstanding ledger.Money             `json:"total_outstanding"`
	Disbursed        ledger.Money             `json:"disbursed"`
	Repaid           ledger.Money             `json:"repaid"`
	RepaymentRatio   Percentage               `json:"repayment_ratio"`
	Loans            ledger.Page[ledger.Loan] `json:"loans"`
}

type CategoryShare struct {
	ledger.CategoryBalance
	Share Percentage `json:"share"`
}

type Savings struct {
	Composition   []CategoryShare `json:"composition"`
	TotalBalance  ledger.Money    `json:"total_balance"`
	Deposits      ledger.Money    `json:"deposits"`
	Withdrawals   ledger.Money    `json:"withdrawals"`
	NetSavings    ledger.Money    `json:"net_savings"`
	DepositGrowth Percentage      `json:"deposit_growth"`
}

type Flow struct {
	Savings ledger.Money `json:"savings"`
	Loans   ledger.Money `json:"loans"`
	Total   ledger.Money `json:"total"`
}

type Cashflow struct {
	OpeningBalance ledger.Money `json:"opening_balance"`
	Inflow         Flow         `json:"inflow"`
	Outflow        Flow         `json:"outflow"`
	Net            ledger.Money `json:"net"`
	ClosingBalance ledger.Money `json:"closing_balance"`
	NetGrowth      Percentage   `json:"net_growth"`
}

type Membership struct {
	ledger.MemberStats
	JoinedPrevious int        `json:"joined_previous"`
	JoinGrowth     Percentage `json:"join_growth"`
	ActiveRatio    Percentage `json:"active_ratio"`
}

package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// XLSX EXPORT
// =============================================================================

type exportRow struct {
	label string
	value any
}

// Export renders the kind report for p as an xlsx workbook. Figures go on
// the first sheet; paginated kinds get every item on a second sheet.
// Exports bypass the cache.
func (a *Aggregator) Export(ctx context.Context, kind Kind, p ledger.Period) ([]byte, error) {
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r, err := a.compute(ctx, kind, p, "")
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	sheet := sheetTitle(kind)
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	f.SetActiveSheet(index)

	rows := []exportRow{
		{"Report", string(kind)},
		{"Period", r.Period},
		{"Source", string(r.Source)},
		{"Generated At", r.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"", nil},
	}
	rows = append(rows, figureRows(r.Data)...)
	for i, row := range rows {
		if err := setRow(f, sheet, i+1, row.label, row.value); err != nil {
			return nil, err
		}
	}
	f.SetCellStyle(sheet, "A1", fmt.Sprintf("A%d", len(rows)), headerStyle)
	f.SetColWidth(sheet, "A", "A", 24)
	f.SetColWidth(sheet, "B", "B", 20)

	if kind.Paginated() {
		if err := a.exportItems(ctx, f, kind, p, headerStyle); err != nil {
			return nil, err
		}
	}

	f.DeleteSheet("Sheet1")
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *Aggregator) exportItems(ctx context.Context, f *excelize.File, kind Kind, p ledger.Period, headerStyle int) error {
	const sheet = "Items"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	var (
		headers []any
		rows    [][]any
		err     error
	)
	if kind == KindLoans {
		headers = []any{"ID", "Member", "Principal", "Outstanding", "Tenor (months)", "Status", "Disbursed At"}
		rows, err = a.loanRows(ctx)
	} else {
		headers = []any{"ID", "Occurred At", "Kind", "Status", "Amount", "Method", "Member", "Note"}
		rows, err = a.transactionRows(ctx, kind, p)
	}
	if err != nil {
		return err
	}

	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	f.SetCellStyle(sheet, "A1", last, headerStyle)
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	f.SetColWidth(sheet, "A", "A", 38)
	return nil
}

func (a *Aggregator) transactionRows(ctx context.Context, kind Kind, p ledger.Period) ([][]any, error) {
	start, end := p.Range(a.opts.Location)
	filter := ledger.TxFilter{From: start, To: end, Limit: ledger.PageSize}
	switch kind {
	case KindInstallments:
		filter.Kind, filter.Status = ledger.KindInstallment, ledger.StatusApproved
	case KindWithdrawals:
		filter.Kind, filter.Status = ledger.KindWithdrawal, ledger.StatusApproved
	}

	var rows [][]any
	for {
		page, err := a.store.ListTransactions(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		for _, t := range page {
			rows = append(rows, []any{
				t.ID, t.OccurredAt.In(a.opts.Location).Format("2006-01-02 15:04"), string(t.Kind),
				string(t.Status), t.Amount.String(), string(t.Method), t.MemberID, t.Note,
			})
		}
		if len(page) < ledger.PageSize {
			return rows, nil
		}
		filter.After = page[len(page)-1].ID
	}
}

func (a *Aggregator) loanRows(ctx context.Context) ([][]any, error) {
	filter := ledger.LoanFilter{Limit: ledger.PageSize}
	var rows [][]any
	for {
		page, err := a.store.ListLoans(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("list loans: %w", err)
		}
		for _, l := range page {
			disbursed := ""
			if l.DisbursedAt != nil {
				disbursed = l.DisbursedAt.In(a.opts.Location).Format("2006-01-02")
			}
			rows = append(rows, []any{
				l.ID, l.MemberID, l.Principal.String(), l.Outstanding.String(),
				l.TenorMonths, string(l.Status), disbursed,
			})
		}
		if len(page) < ledger.PageSize {
			return rows, nil
		}
		filter.After = page[len(page)-1].ID
	}
}

// figureRows flattens the scalar figures of a payload.
func figureRows(data any) []exportRow {
	switch d := data.(type) {
	case Summary:
		return []exportRow{
			{"Deposits", d.Deposits.String()},
			{"Withdrawals", d.Withdrawals.String()},
			{"Disbursements", d.Disbursements.String()},
			{"Installments", d.Installments.String()},
			{"Net Cashflow", d.NetCashflow.String()},
			{"Closing Balance", d.ClosingBalance.String()},
			{"Total Savings", d.TotalSavings.String()},
			{"Outstanding Loans", d.OutstandingLoans.String()},
			{"Active Members", d.ActiveMembers},
			{"Deposit Growth (%)", d.DepositGrowth.String()},
			{"Net Growth (%)", d.NetGrowth.String()},
		}
	case Transactions:
		return []exportRow{
			{"Deposits", d.Totals.Deposits.String()},
			{"Withdrawals", d.Totals.Withdrawals.String()},
			{"Disbursements", d.Totals.Disbursements.String()},
			{"Installments", d.Totals.Installments.String()},
		}
	case KindListing:
		return []exportRow{
			{"Total", d.Total.String()},
			{"Growth (%)", d.Growth.String()},
		}
	case Loans:
		rows := []exportRow{
			{"Total Outstanding", d.TotalOutstanding.String()},
			{"Disbursed", d.Disbursed.String()},
			{"Repaid", d.Repaid.String()},
			{"Repayment Ratio (%)", d.RepaymentRatio.String()},
		}
		for _, s := range d.Portfolio {
			rows = append(rows, exportRow{"Loans " + string(s.Status), s.Count})
		}
		return rows
	case Savings:
		rows := []exportRow{
			{"Total Balance", d.TotalBalance.String()},
			{"Deposits", d.Deposits.String()},
			{"Withdrawals", d.Withdrawals.String()},
			{"Net Savings", d.NetSavings.String()},
			{"Deposit Growth (%)", d.DepositGrowth.String()},
		}
		for _, c := range d.Composition {
			rows = append(rows, exportRow{"Savings " + string(c.Category), c.Balance.String()})
		}
		return rows
	case Cashflow:
		return []exportRow{
			{"Opening Balance", d.OpeningBalance.String()},
			{"Inflow", d.Inflow.Total.String()},
			{"Outflow", d.Outflow.Total.String()},
			{"Net", d.Net.String()},
			{"Closing Balance", d.ClosingBalance.String()},
			{"Net Growth (%)", d.NetGrowth.String()},
		}
	case Membership:
		return []exportRow{
			{"Total Members", d.Total},
			{"Active", d.Active},
			{"Inactive", d.Inactive},
			{"Pending", d.Pending},
			{"Joined", d.Joined},
			{"Joined Previous Month", d.JoinedPrevious},
			{"Join Growth (%)", d.JoinGrowth.String()},
			{"Active Ratio (%)", d.ActiveRatio.String()},
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, label string, value any) error {
	if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", row), label); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if value == nil {
		return nil
	}
	if err := f.SetCellValue(sheet, fmt.Sprintf("B%d", row), value); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

func sheetTitle(k Kind) string {
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:]
}

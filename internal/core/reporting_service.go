package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ReportingService answers read-only questions over the ledger and stock
// tables. Reports query live rows; nothing here depends on a refresh cycle.
type ReportingService struct {
	pool *pgxpool.Pool
}

func NewReportingService(pool *pgxpool.Pool) *ReportingService {
	return &ReportingService{pool: pool}
}

// TrialBalanceLine is one account's position, both currencies side by side.
type TrialBalanceLine struct {
	AccountID   int    `json:"account_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	AccountType string `json:"account_type"`
	Debit       Dual   `json:"debit"`
	Credit      Dual   `json:"credit"`
	Net         Dual   `json:"net"` // debit minus credit
}

type TrialBalance struct {
	AsOf        time.Time          `json:"as_of"`
	Lines       []TrialBalanceLine `json:"lines"`
	TotalDebit  Dual               `json:"total_debit"`
	TotalCredit Dual               `json:"total_credit"`
	BalancedUSD bool               `json:"balanced_usd"`
	BalancedLBP bool               `json:"balanced_lbp"`
}

// TrialBalance sums every posted entry up to and including asOf. A ledger
// where every journal balanced per currency reports balanced here too.
func (s *ReportingService) TrialBalance(ctx context.Context, sess Session, asOf time.Time) (*TrialBalance, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT a.id, a.code, a.name, a.account_type,
		       COALESCE(SUM(e.debit_usd), 0), COALESCE(SUM(e.debit_lbp), 0),
		       COALESCE(SUM(e.credit_usd), 0), COALESCE(SUM(e.credit_lbp), 0)
		FROM company_coa_accounts a
		LEFT JOIN (
			SELECT ge.account_id, ge.debit_usd, ge.debit_lbp, ge.credit_usd, ge.credit_lbp
			FROM gl_entries ge
			JOIN gl_journals j ON j.id = ge.journal_id
			WHERE j.company_id = $1 AND j.journal_date <= $2
		) e ON e.account_id = a.id
		WHERE a.company_id = $1
		GROUP BY a.id, a.code, a.name, a.account_type
		HAVING COALESCE(SUM(e.debit_usd), 0) <> 0
		    OR COALESCE(SUM(e.credit_usd), 0) <> 0
		    OR COALESCE(SUM(e.debit_lbp), 0) <> 0
		    OR COALESCE(SUM(e.credit_lbp), 0) <> 0
		ORDER BY a.code`,
		sess.CompanyID, asOf.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("query trial balance: %w", err)
	}
	defer rows.Close()

	tb := &TrialBalance{AsOf: asOf, TotalDebit: Dual{}, TotalCredit: Dual{}}
	for rows.Next() {
		var l TrialBalanceLine
		var dUSD, dLBP, cUSD, cLBP decimal.Decimal
		if err := rows.Scan(&l.AccountID, &l.Code, &l.Name, &l.AccountType,
			&dUSD, &dLBP, &cUSD, &cLBP); err != nil {
			return nil, fmt.Errorf("scan trial balance line: %w", err)
		}
		l.Debit = Dual{USD: dUSD, LBP: dLBP}
		l.Credit = Dual{USD: cUSD, LBP: cLBP}
		l.Net = l.Debit.Sub(l.Credit)
		tb.TotalDebit = tb.TotalDebit.Add(l.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(l.Credit)
		tb.Lines = append(tb.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tb.BalancedUSD = tb.TotalDebit.USD.Equal(tb.TotalCredit.USD)
	tb.BalancedLBP = tb.TotalDebit.LBP.Equal(tb.TotalCredit.LBP)
	return tb, nil
}

// StatementLine is one ledger entry on an account statement. Running is the
// cumulative net-debit position after this line.
type StatementLine struct {
	JournalDate time.Time `json:"journal_date"`
	JournalNo   *string   `json:"journal_no,omitempty"`
	SourceType  string    `json:"source_type"`
	Memo        *string   `json:"memo,omitempty"`
	Debit       Dual      `json:"debit"`
	Credit      Dual      `json:"credit"`
	Running     Dual      `json:"running"`
}

// AccountStatement lists an account's entries in posting order. Zero time
// bounds mean unbounded.
func (s *ReportingService) AccountStatement(ctx context.Context, sess Session, accountCode string, from, to time.Time) ([]StatementLine, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	q := `
		SELECT j.journal_date, j.journal_no, j.source_type, e.memo,
		       e.debit_usd, e.debit_lbp, e.credit_usd, e.credit_lbp
		FROM gl_entries e
		JOIN gl_journals j ON j.id = e.journal_id
		JOIN company_coa_accounts a ON a.id = e.account_id
		WHERE j.company_id = $1 AND a.code = $2`
	args := []any{sess.CompanyID, accountCode}
	if !from.IsZero() {
		args = append(args, from.Format("2006-01-02"))
		q += fmt.Sprintf(" AND j.journal_date >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.Format("2006-01-02"))
		q += fmt.Sprintf(" AND j.journal_date <= $%d", len(args))
	}
	q += " ORDER BY j.journal_date, e.id"

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query account statement: %w", err)
	}
	defer rows.Close()

	var lines []StatementLine
	running := Dual{}
	for rows.Next() {
		var l StatementLine
		var dUSD, dLBP, cUSD, cLBP decimal.Decimal
		if err := rows.Scan(&l.JournalDate, &l.JournalNo, &l.SourceType, &l.Memo,
			&dUSD, &dLBP, &cUSD, &cLBP); err != nil {
			return nil, fmt.Errorf("scan statement line: %w", err)
		}
		l.Debit = Dual{USD: dUSD, LBP: dLBP}
		l.Credit = Dual{USD: cUSD, LBP: cLBP}
		running = running.Add(l.Debit).Sub(l.Credit)
		l.Running = running
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// StockValuationLine values one item at one warehouse at moving-average cost.
type StockValuationLine struct {
	ItemID      int             `json:"item_id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	WarehouseID int             `json:"warehouse_id"`
	OnHand      decimal.Decimal `json:"on_hand"`
	AvgCost     Dual            `json:"avg_cost"`
	Value       Dual            `json:"value"`
}

// StockValuation reports on-hand value per item and warehouse. Zero-quantity
// rows are skipped; negative stock values negatively, which is exactly the
// exposure a buyer needs to see.
func (s *ReportingService) StockValuation(ctx context.Context, sess Session, warehouseID *int) ([]StockValuationLine, Dual, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, Dual{}, err
	}
	defer tx.Rollback(ctx)

	q := `
		SELECT c.item_id, i.sku, i.name, c.warehouse_id,
		       c.on_hand_qty, c.avg_cost_usd, c.avg_cost_lbp
		FROM item_warehouse_costs c
		JOIN items i ON i.id = c.item_id
		WHERE c.company_id = $1 AND c.on_hand_qty <> 0`
	args := []any{sess.CompanyID}
	if warehouseID != nil {
		args = append(args, *warehouseID)
		q += fmt.Sprintf(" AND c.warehouse_id = $%d", len(args))
	}
	q += " ORDER BY i.sku, c.warehouse_id"

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, Dual{}, fmt.Errorf("query stock valuation: %w", err)
	}
	defer rows.Close()

	var lines []StockValuationLine
	total := Dual{}
	for rows.Next() {
		var l StockValuationLine
		if err := rows.Scan(&l.ItemID, &l.SKU, &l.Name, &l.WarehouseID,
			&l.OnHand, &l.AvgCost.USD, &l.AvgCost.LBP); err != nil {
			return nil, Dual{}, fmt.Errorf("scan stock valuation line: %w", err)
		}
		l.Value = Dual{
			USD: QUSD(l.OnHand.Mul(l.AvgCost.USD)),
			LBP: QLBP(l.OnHand.Mul(l.AvgCost.LBP)),
		}
		total = total.Add(l.Value)
		lines = append(lines, l)
	}
	return lines, total, rows.Err()
}

// APAgingLine is one supplier's open payable split into age buckets by
// invoice date: current, 31-60, 61-90, and over 90 days.
type APAgingLine struct {
	SupplierID   int    `json:"supplier_id"`
	SupplierName string `json:"supplier_name"`
	Current      Dual   `json:"current"`
	Days31to60   Dual   `json:"days_31_60"`
	Days61to90   Dual   `json:"days_61_90"`
	Over90       Dual   `json:"over_90"`
	Total        Dual   `json:"total"`
}

// APAging reports open supplier balances. Open = posted invoice total minus
// payments and credit applications.
func (s *ReportingService) APAging(ctx context.Context, sess Session, asOf time.Time) ([]APAgingLine, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Invoice totals live on the lines plus the tax ledger; nothing here
	// trusts a denormalized column.
	rows, err := tx.Query(ctx, `
		SELECT sup.id, sup.name, si.invoice_date,
		       COALESCE(ln.usd, 0) + COALESCE(tax.usd, 0) - COALESCE(pay.usd, 0) - COALESCE(app.usd, 0),
		       COALESCE(ln.lbp, 0) + COALESCE(tax.lbp, 0) - COALESCE(pay.lbp, 0) - COALESCE(app.lbp, 0)
		FROM supplier_invoices si
		JOIN suppliers sup ON sup.id = si.supplier_id
		LEFT JOIN (
			SELECT invoice_id, SUM(qty_base * unit_cost_usd) AS usd, SUM(qty_base * unit_cost_lbp) AS lbp
			FROM supplier_invoice_lines GROUP BY invoice_id
		) ln ON ln.invoice_id = si.id
		LEFT JOIN (
			SELECT source_id, SUM(tax_usd) AS usd, SUM(tax_lbp) AS lbp
			FROM tax_lines WHERE source_type = 'supplier_invoice' GROUP BY source_id
		) tax ON tax.source_id = si.id
		LEFT JOIN (
			SELECT invoice_id, SUM(amount_usd) AS usd, SUM(amount_lbp) AS lbp
			FROM supplier_payments GROUP BY invoice_id
		) pay ON pay.invoice_id = si.id
		LEFT JOIN (
			SELECT invoice_id, SUM(amount_usd) AS usd, SUM(amount_lbp) AS lbp
			FROM supplier_credit_note_applications GROUP BY invoice_id
		) app ON app.invoice_id = si.id
		WHERE si.company_id = $1 AND si.status = 'posted' AND si.invoice_date <= $2
		ORDER BY sup.name, si.invoice_date`,
		sess.CompanyID, asOf.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("query ap aging: %w", err)
	}
	defer rows.Close()

	byID := map[int]*APAgingLine{}
	var order []int
	for rows.Next() {
		var supplierID int
		var name string
		var invoiceDate time.Time
		var openUSD, openLBP decimal.Decimal
		if err := rows.Scan(&supplierID, &name, &invoiceDate, &openUSD, &openLBP); err != nil {
			return nil, fmt.Errorf("scan ap aging row: %w", err)
		}
		open := Dual{USD: openUSD, LBP: openLBP}
		if open.USD.IsZero() && open.LBP.IsZero() {
			continue
		}

		line, ok := byID[supplierID]
		if !ok {
			line = &APAgingLine{SupplierID: supplierID, SupplierName: name,
				Current: Dual{}, Days31to60: Dual{}, Days61to90: Dual{},
				Over90: Dual{}, Total: Dual{}}
			byID[supplierID] = line
			order = append(order, supplierID)
		}

		age := int(asOf.Sub(invoiceDate).Hours() / 24)
		switch {
		case age <= 30:
			line.Current = line.Current.Add(open)
		case age <= 60:
			line.Days31to60 = line.Days31to60.Add(open)
		case age <= 90:
			line.Days61to90 = line.Days61to90.Add(open)
		default:
			line.Over90 = line.Over90.Add(open)
		}
		line.Total = line.Total.Add(open)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]APAgingLine, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

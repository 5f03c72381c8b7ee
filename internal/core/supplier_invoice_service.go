package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SupplierInvoiceService drives supplier invoices: drafting from a receipt,
// the 3-way-match gate, posting with tax and optional inline payments, holds,
// and cancellation.
type SupplierInvoiceService struct {
	pool *pgxpool.Pool
}

func NewSupplierInvoiceService(pool *pgxpool.Pool) *SupplierInvoiceService {
	return &SupplierInvoiceService{pool: pool}
}

// DraftFromGR drafts an invoice carrying each receipt line's remaining
// quantity (received minus already invoiced on non-canceled invoices) at the
// receipt's unit costs.
func (s *SupplierInvoiceService) DraftFromGR(ctx context.Context, sess Session, receiptID int, invoiceDate time.Time) (*SupplierInvoice, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	gr, err := lockGoodsReceiptTx(ctx, tx.Tx, sess.CompanyID, receiptID)
	if err != nil {
		return nil, err
	}
	if gr.Status != DocPosted {
		return nil, E(KindPrecondition, "goods receipt %d is %s, expected posted", gr.ID, gr.Status)
	}
	if err := loadGoodsReceiptLinesTx(ctx, tx.Tx, gr); err != nil {
		return nil, err
	}

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, invoiceDate, gr.RateType)
	if err != nil {
		return nil, err
	}

	si := &SupplierInvoice{}
	err = tx.QueryRow(ctx, `
		INSERT INTO supplier_invoices (company_id, supplier_id, goods_receipt_id, status, doc_subtype,
		                               invoice_date, rate_type, exchange_rate, import_status)
		VALUES ($1, $2, $3, 'draft', 'standard', $4, $5, $6, 'none')
		RETURNING id, company_id, supplier_id, goods_receipt_id, invoice_no, supplier_ref, status, doc_subtype,
		          invoice_date, rate_type, exchange_rate, tax_code_id, is_on_hold, hold_reason, import_status,
		          created_at, posted_at`,
		sess.CompanyID, gr.SupplierID, gr.ID, invoiceDate.Format("2006-01-02"), gr.RateType, rate,
	).Scan(&si.ID, &si.CompanyID, &si.SupplierID, &si.GoodsReceiptID, &si.InvoiceNo, &si.SupplierRef,
		&si.Status, &si.DocSubtype, &si.InvoiceDate, &si.RateType, &si.ExchangeRate, &si.TaxCodeID,
		&si.IsOnHold, &si.HoldReason, &si.ImportStatus, &si.CreatedAt, &si.PostedAt)
	if err != nil {
		return nil, fmt.Errorf("create supplier invoice: %w", err)
	}

	lineNo := 0
	for _, gl := range gr.Lines {
		var invoiced decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(sil.qty_base), 0)
			FROM supplier_invoice_lines sil
			JOIN supplier_invoices si ON si.id = sil.invoice_id
			WHERE sil.goods_receipt_line_id = $1 AND si.status <> 'canceled'`,
			gl.ID,
		).Scan(&invoiced)
		if err != nil {
			return nil, fmt.Errorf("sum invoiced qty for receipt line %d: %w", gl.ID, err)
		}
		remaining := gl.QtyBase.Sub(invoiced)
		if remaining.Sign() <= 0 {
			continue
		}

		lineNo++
		var l SupplierInvoiceLine
		err = tx.QueryRow(ctx, `
			INSERT INTO supplier_invoice_lines (invoice_id, line_no, item_id, goods_receipt_line_id,
			                                    qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, invoice_id, line_no, item_id, goods_receipt_line_id,
			          qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp`,
			si.ID, lineNo, gl.ItemID, gl.ID,
			remaining, remaining.DivRound(gl.QtyFactor, 6), gl.UOM, gl.QtyFactor, gl.UnitCostUSD, gl.UnitCostLBP,
		).Scan(&l.ID, &l.InvoiceID, &l.LineNo, &l.ItemID, &l.GoodsReceiptLineID,
			&l.QtyBase, &l.QtyEntered, &l.UOM, &l.QtyFactor, &l.UnitCostUSD, &l.UnitCostLBP)
		if err != nil {
			return nil, fmt.Errorf("insert supplier invoice line %d: %w", lineNo, err)
		}
		si.Lines = append(si.Lines, l)
	}
	if len(si.Lines) == 0 {
		return nil, E(KindPrecondition, "goods receipt %d is fully invoiced", gr.ID)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_invoice.draft", EntityType: "supplier_invoice", EntityID: si.ID,
		Details: map[string]any{"goods_receipt_id": gr.ID, "lines": len(si.Lines)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit supplier invoice draft: %w", err)
	}
	return si, nil
}

type InlinePayment struct {
	PaymentMethodID int
	AmountUSD       decimal.Decimal
	AmountLBP       decimal.Decimal
}

type PostInvoiceRequest struct {
	InvoiceID   int
	PostingDate *time.Time
	Payments    []InlinePayment
}

type PostInvoiceResult struct {
	Invoice *SupplierInvoice
	Journal *GlJournal
}

// Post validates the draft, applies the 3-way match when the invoice is
// linked to a receipt, computes tax, posts the AP journal, and settles any
// inline payments. A variance hold surfaces as a CONFLICT carrying the
// structured hold details.
func (s *SupplierInvoiceService) Post(ctx context.Context, sess Session, req PostInvoiceRequest) (*PostInvoiceResult, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if si.Status == DocPosted {
		journal, err := findJournalTx(ctx, tx.Tx, sess.CompanyID, "supplier_invoice", si.ID)
		if err != nil {
			return nil, err
		}
		if journal == nil {
			return nil, E(KindConflict, "supplier invoice %d is posted but its journal is missing", si.ID)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit idempotent invoice post: %w", err)
		}
		return &PostInvoiceResult{Invoice: si, Journal: journal}, nil
	}
	if si.Status != DocDraft {
		return nil, E(KindPrecondition, "supplier invoice %d is %s, expected draft", si.ID, si.Status)
	}
	if si.IsOnHold {
		return nil, E(KindPrecondition, "supplier invoice %d is on hold: %s", si.ID, deref(si.HoldReason))
	}
	if si.SupplierID == nil {
		return nil, E(KindValidation, "supplier invoice %d has no supplier", si.ID)
	}

	postingDate := si.InvoiceDate
	if req.PostingDate != nil {
		postingDate = *req.PostingDate
	}
	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, postingDate); err != nil {
		return nil, err
	}

	var payments int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM supplier_payments WHERE invoice_id = $1", si.ID,
	).Scan(&payments); err != nil {
		return nil, fmt.Errorf("count prior payments: %w", err)
	}
	if payments > 0 {
		return nil, E(KindPrecondition, "supplier invoice %d already has payments", si.ID)
	}

	if err := loadSupplierInvoiceLinesTx(ctx, tx.Tx, si); err != nil {
		return nil, err
	}
	if len(si.Lines) == 0 {
		return nil, E(KindValidation, "supplier invoice %d has no lines", si.ID)
	}

	if si.DocSubtype == InvoiceOpeningBalance {
		if si.GoodsReceiptID != nil {
			return nil, E(KindValidation, "opening-balance invoice %d cannot reference a goods receipt", si.ID)
		}
		if si.TaxCodeID != nil {
			return nil, E(KindValidation, "opening-balance invoice %d cannot carry tax", si.ID)
		}
	}

	base := Dual{}
	for _, l := range si.Lines {
		base = base.Add(Dual{USD: l.UnitCostUSD, LBP: l.UnitCostLBP}.MulQty(l.QtyBase))
	}

	var taxRate decimal.Decimal
	if si.TaxCodeID != nil {
		if err := tx.QueryRow(ctx,
			"SELECT rate FROM tax_codes WHERE company_id = $1 AND id = $2",
			sess.CompanyID, *si.TaxCodeID,
		).Scan(&taxRate); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, E(KindNotFound, "tax code %d not found", *si.TaxCodeID)
			}
			return nil, fmt.Errorf("load tax code: %w", err)
		}
	}
	tax := Dual{}
	if taxRate.Sign() > 0 {
		tax.LBP = QLBP(base.LBP.Mul(taxRate))
		if si.ExchangeRate.Sign() > 0 {
			tax.USD = QUSD(tax.LBP.Div(si.ExchangeRate))
		}
	}

	// 3-way match against the linked receipt.
	if si.GoodsReceiptID != nil {
		flags, err := s.runThreeWayMatchTx(ctx, tx.Tx, sess, si, taxRate, tax.LBP)
		if err != nil {
			return nil, err
		}
		if len(flags) > 0 {
			details := newHoldDetails(flags)
			if err := setInvoiceHoldTx(ctx, tx.Tx, si.ID, "ap variance", details); err != nil {
				return nil, err
			}
			if err := writeAudit(ctx, tx.Tx, AuditEntry{
				CompanyID: sess.CompanyID, UserID: sess.UserID,
				Action: "supplier_invoice.hold", EntityType: "supplier_invoice", EntityID: si.ID,
				Details: map[string]any{"flags": len(flags)},
			}); err != nil {
				return nil, err
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit variance hold: %w", err)
			}
			raw, _ := json.Marshal(details)
			var asMap map[string]any
			_ = json.Unmarshal(raw, &asMap)
			return nil, EDetails(KindConflict, asMap, "supplier invoice %d held for AP variance (%d flag(s))", si.ID, len(flags))
		}
	}

	total := base.Add(tax)
	apID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleAP)
	if err != nil {
		return nil, err
	}

	invoiceNo := si.InvoiceNo
	if invoiceNo == nil {
		no, err := nextDocumentNoTx(ctx, tx.Tx, sess.CompanyID, "SI")
		if err != nil {
			return nil, err
		}
		invoiceNo = &no
	}
	memo := fmt.Sprintf("supplier invoice %s", *invoiceNo)
	siID := si.ID

	var lines []JournalLineSpec
	if si.DocSubtype == InvoiceOpeningBalance {
		obID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleOpeningBalance)
		if err != nil {
			return nil, err
		}
		lines = []JournalLineSpec{
			{AccountID: obID, Debit: total, Memo: &memo},
			{AccountID: apID, Credit: total, Memo: &memo},
		}
	} else {
		grniID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleGRNI)
		if err != nil {
			return nil, err
		}
		lines = []JournalLineSpec{{AccountID: grniID, Debit: base, Memo: &memo}}
		if !tax.Zero() {
			vatID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleVATRecoverable)
			if err != nil {
				return nil, err
			}
			lines = append(lines, JournalLineSpec{AccountID: vatID, Debit: tax, Memo: &memo})
		}
		lines = append(lines, JournalLineSpec{AccountID: apID, Credit: total, Memo: &memo})
	}

	journal, err := postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
		SourceType: "supplier_invoice", SourceID: &siID,
		JournalDate: postingDate, RateType: si.RateType, ExchangeRate: si.ExchangeRate,
		Memo: &memo, Lines: lines,
	})
	if err != nil {
		return nil, err
	}

	if !tax.Zero() && si.TaxCodeID != nil {
		if err := writeTaxLineTx(ctx, tx.Tx, sess.CompanyID, TaxLine{
			SourceType: "supplier_invoice", SourceID: si.ID, TaxCodeID: *si.TaxCodeID,
			BaseUSD: base.USD, BaseLBP: base.LBP, TaxUSD: tax.USD, TaxLBP: tax.LBP,
			TaxDate: postingDate,
		}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE supplier_invoices SET status = 'posted', invoice_no = $1, posted_at = $2, invoice_date = $3
		WHERE id = $4`,
		invoiceNo, now, postingDate.Format("2006-01-02"), si.ID,
	); err != nil {
		return nil, fmt.Errorf("post supplier invoice %d: %w", si.ID, err)
	}
	si.Status = DocPosted
	si.InvoiceNo = invoiceNo
	si.PostedAt = &now

	for i, p := range req.Payments {
		if err := s.recordPaymentTx(ctx, tx.Tx, sess, si, p, postingDate, apID); err != nil {
			return nil, fmt.Errorf("inline payment %d: %w", i+1, err)
		}
	}

	if err := appendEvent(ctx, tx.Tx, sess.CompanyID, EventPurchaseInvoiced, map[string]any{
		"supplier_invoice_id": si.ID, "invoice_no": *invoiceNo,
	}); err != nil {
		return nil, err
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_invoice.post", EntityType: "supplier_invoice", EntityID: si.ID,
		Details: map[string]any{"invoice_no": *invoiceNo, "journal_id": journal.ID},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit supplier invoice post: %w", err)
	}
	return &PostInvoiceResult{Invoice: si, Journal: journal}, nil
}

// runThreeWayMatchTx joins each invoice line to its receipt line and the
// originating PO line, then evaluates the variance rules.
func (s *SupplierInvoiceService) runThreeWayMatchTx(ctx context.Context, tx pgx.Tx, sess Session, si *SupplierInvoice, taxRate, taxLBP decimal.Decimal) ([]HoldFlag, error) {
	gr, err := lockGoodsReceiptTx(ctx, tx, sess.CompanyID, *si.GoodsReceiptID)
	if err != nil {
		return nil, err
	}
	if gr.Status != DocPosted {
		return nil, E(KindPrecondition, "goods receipt %d is %s, expected posted", gr.ID, gr.Status)
	}
	if si.SupplierID != nil && gr.SupplierID != *si.SupplierID {
		return nil, E(KindValidation, "invoice supplier %d does not match receipt supplier %d", *si.SupplierID, gr.SupplierID)
	}

	cfg, err := matchSettingsFor(ctx, tx, sess.CompanyID)
	if err != nil {
		return nil, err
	}

	var mls []matchLine
	for _, l := range si.Lines {
		ml := matchLine{
			InvoiceLineID: l.ID,
			ReceiptLineID: l.GoodsReceiptLineID,
			QtyBase:       l.QtyBase,
			UnitCostUSD:   l.UnitCostUSD,
			UnitCostLBP:   l.UnitCostLBP,
		}

		if l.GoodsReceiptLineID != nil {
			var poCostUSD, poCostLBP *decimal.Decimal
			err := tx.QueryRow(ctx, `
				SELECT grl.qty_base, grl.unit_cost_usd, grl.unit_cost_lbp, pol.unit_cost_usd, pol.unit_cost_lbp
				FROM goods_receipt_lines grl
				LEFT JOIN purchase_order_lines pol ON pol.id = grl.purchase_order_line_id
				WHERE grl.id = $1`,
				*l.GoodsReceiptLineID,
			).Scan(&ml.ReceivedQty, &ml.ExpectedCostUSD, &ml.ExpectedCostLBP, &poCostUSD, &poCostLBP)
			if err != nil {
				return nil, fmt.Errorf("load receipt line %d for match: %w", *l.GoodsReceiptLineID, err)
			}
			// PO unit cost wins over receipt unit cost when present.
			if poCostUSD != nil && (poCostUSD.Sign() > 0 || (poCostLBP != nil && poCostLBP.Sign() > 0)) {
				ml.ExpectedCostUSD = *poCostUSD
				ml.ExpectedCostLBP = *poCostLBP
			}

			err = tx.QueryRow(ctx, `
				SELECT COALESCE(SUM(sil.qty_base), 0)
				FROM supplier_invoice_lines sil
				JOIN supplier_invoices inv ON inv.id = sil.invoice_id
				WHERE sil.goods_receipt_line_id = $1 AND inv.status = 'posted' AND inv.id <> $2`,
				*l.GoodsReceiptLineID, si.ID,
			).Scan(&ml.PriorInvoiced)
			if err != nil {
				return nil, fmt.Errorf("sum prior invoiced qty: %w", err)
			}
		}

		// Item-level tax rate, when the item carries its own tax code.
		var itemRate *decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT tc.rate
			FROM items i
			JOIN tax_codes tc ON tc.id = i.tax_code_id
			WHERE i.id = $1`,
			l.ItemID,
		).Scan(&itemRate)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load item tax rate: %w", err)
		}
		ml.ItemTaxRate = itemRate

		mls = append(mls, ml)
	}

	return evaluateThreeWayMatch(cfg, mls, taxRate, taxLBP), nil
}

// recordPaymentTx writes a supplier_payment row and its Dr AP / Cr method
// journal.
func (s *SupplierInvoiceService) recordPaymentTx(ctx context.Context, tx pgx.Tx, sess Session, si *SupplierInvoice, p InlinePayment, date time.Time, apID int) error {
	if p.AmountUSD.IsNegative() || p.AmountLBP.IsNegative() {
		return E(KindValidation, "payment amounts cannot be negative")
	}
	amount := NormalizeDual(p.AmountUSD, p.AmountLBP, si.ExchangeRate)
	if amount.Zero() {
		return E(KindValidation, "payment amount is zero")
	}

	var methodAccountID int
	err := tx.QueryRow(ctx,
		"SELECT account_id FROM payment_method_mappings WHERE company_id = $1 AND id = $2",
		sess.CompanyID, p.PaymentMethodID,
	).Scan(&methodAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return E(KindMissingConfig, "payment method %d has no account mapping", p.PaymentMethodID)
		}
		return fmt.Errorf("resolve payment method %d: %w", p.PaymentMethodID, err)
	}

	var paymentID int
	err = tx.QueryRow(ctx, `
		INSERT INTO supplier_payments (company_id, invoice_id, payment_method_id, amount_usd, amount_lbp, payment_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		sess.CompanyID, si.ID, p.PaymentMethodID, amount.USD, amount.LBP, date.Format("2006-01-02"),
	).Scan(&paymentID)
	if err != nil {
		return fmt.Errorf("insert supplier payment: %w", err)
	}

	memo := fmt.Sprintf("payment for %s", deref(si.InvoiceNo))
	journal, err := postJournalTx(ctx, tx, sess.CompanyID, JournalSpec{
		SourceType: "supplier_payment", SourceID: &paymentID,
		JournalDate: date, RateType: si.RateType, ExchangeRate: si.ExchangeRate,
		Memo: &memo,
		Lines: []JournalLineSpec{
			{AccountID: apID, Debit: amount, Memo: &memo},
			{AccountID: methodAccountID, Credit: amount, Memo: &memo},
		},
	})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"UPDATE supplier_payments SET journal_id = $1 WHERE id = $2", journal.ID, paymentID,
	); err != nil {
		return fmt.Errorf("stamp payment journal: %w", err)
	}
	return nil
}

// RecordPayment records a standalone payment against a posted invoice. The
// amount must fit the invoice's open balance (lines + tax - payments -
// credit applications) per currency.
func (s *SupplierInvoiceService) RecordPayment(ctx context.Context, sess Session, invoiceID int, p InlinePayment, paymentDate time.Time) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return err
	}
	if si.Status != DocPosted {
		return E(KindPrecondition, "supplier invoice %d is %s, expected posted", invoiceID, si.Status)
	}
	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, paymentDate); err != nil {
		return err
	}

	_, _, total, err := invoiceTotalsTx(ctx, tx.Tx, sess.CompanyID, si.ID)
	if err != nil {
		return err
	}
	var paidUSD, paidLBP, creditedUSD, creditedLBP decimal.Decimal
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0), COALESCE(SUM(amount_lbp), 0)
		FROM supplier_payments WHERE invoice_id = $1`,
		si.ID,
	).Scan(&paidUSD, &paidLBP); err != nil {
		return fmt.Errorf("sum invoice payments: %w", err)
	}
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0), COALESCE(SUM(amount_lbp), 0)
		FROM supplier_credit_note_applications WHERE invoice_id = $1`,
		si.ID,
	).Scan(&creditedUSD, &creditedLBP); err != nil {
		return fmt.Errorf("sum credit applications: %w", err)
	}
	openUSD := total.USD.Sub(paidUSD).Sub(creditedUSD)
	openLBP := total.LBP.Sub(paidLBP).Sub(creditedLBP)
	amount := NormalizeDual(p.AmountUSD, p.AmountLBP, si.ExchangeRate)
	if amount.USD.GreaterThan(openUSD.Add(creditEpsilonUSD)) ||
		amount.LBP.GreaterThan(openLBP.Add(creditEpsilonLBP)) {
		return EDetails(KindValidation, map[string]any{
			"open_usd": openUSD.String(), "open_lbp": openLBP.String(),
		}, "payment exceeds open balance of invoice %d", si.ID)
	}

	apID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleAP)
	if err != nil {
		return err
	}
	if err := s.recordPaymentTx(ctx, tx.Tx, sess, si, p, paymentDate, apID); err != nil {
		return err
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_invoice.payment", EntityType: "supplier_invoice", EntityID: si.ID,
		Details: map[string]any{"amount_usd": amount.USD.String(), "amount_lbp": amount.LBP.String()},
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit supplier payment: %w", err)
	}
	return nil
}

// Hold puts a draft invoice on manual hold.
func (s *SupplierInvoiceService) Hold(ctx context.Context, sess Session, invoiceID int, reason string) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return err
	}
	if si.Status != DocDraft {
		return E(KindPrecondition, "supplier invoice %d is %s, only drafts can be held", invoiceID, si.Status)
	}
	if err := setInvoiceHoldTx(ctx, tx.Tx, si.ID, reason, nil); err != nil {
		return err
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_invoice.hold", EntityType: "supplier_invoice", EntityID: si.ID,
		Details: map[string]any{"reason": reason},
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit hold: %w", err)
	}
	return nil
}

// Unhold clears a hold so posting can resume.
func (s *SupplierInvoiceService) Unhold(ctx context.Context, sess Session, invoiceID int) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return err
	}
	if !si.IsOnHold {
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE supplier_invoices SET is_on_hold = false, hold_reason = NULL, hold_details = NULL
		WHERE id = $1`,
		si.ID,
	); err != nil {
		return fmt.Errorf("unhold supplier invoice %d: %w", invoiceID, err)
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_invoice.unhold", EntityType: "supplier_invoice", EntityID: si.ID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unhold: %w", err)
	}
	return nil
}

// CancelDraft discards a draft invoice.
func (s *SupplierInvoiceService) CancelDraft(ctx context.Context, sess Session, invoiceID int) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return err
	}
	if si.Status != DocDraft {
		return E(KindPrecondition, "supplier invoice %d is %s, expected draft", invoiceID, si.Status)
	}
	if _, err := tx.Exec(ctx, "UPDATE supplier_invoices SET status = 'canceled' WHERE id = $1", si.ID); err != nil {
		return fmt.Errorf("cancel draft invoice %d: %w", invoiceID, err)
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_invoice.cancel_draft", EntityType: "supplier_invoice", EntityID: si.ID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit draft cancel: %w", err)
	}
	return nil
}

// Cancel reverses a posted invoice: negated tax lines and a compensating
// journal. Blocked while payments exist.
func (s *SupplierInvoiceService) Cancel(ctx context.Context, sess Session, invoiceID int, cancelDate time.Time) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return err
	}
	if si.Status == DocCanceled {
		return tx.Commit(ctx)
	}
	if si.Status != DocPosted {
		return E(KindPrecondition, "supplier invoice %d is %s, expected posted", invoiceID, si.Status)
	}
	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, cancelDate); err != nil {
		return err
	}

	var payments int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM supplier_payments WHERE invoice_id = $1", si.ID,
	).Scan(&payments); err != nil {
		return fmt.Errorf("count payments: %w", err)
	}
	if payments > 0 {
		return E(KindPrecondition, "supplier invoice %d has %d payment(s)", invoiceID, payments)
	}

	if err := negateTaxLinesTx(ctx, tx.Tx, sess.CompanyID, "supplier_invoice", si.ID, cancelDate); err != nil {
		return err
	}
	if _, err := reverseJournalTx(ctx, tx.Tx, sess.CompanyID, "supplier_invoice", si.ID, cancelDate); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE supplier_invoices SET status = 'canceled' WHERE id = $1", si.ID); err != nil {
		return fmt.Errorf("cancel supplier invoice %d: %w", invoiceID, err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_invoice.cancel", EntityType: "supplier_invoice", EntityID: si.ID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit invoice cancel: %w", err)
	}
	return nil
}

func setInvoiceHoldTx(ctx context.Context, tx pgx.Tx, invoiceID int, reason string, details *HoldDetails) error {
	var raw []byte
	if details != nil {
		var err error
		raw, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode hold details: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE supplier_invoices SET is_on_hold = true, hold_reason = $1, hold_details = $2
		WHERE id = $3`,
		reason, raw, invoiceID,
	); err != nil {
		return fmt.Errorf("hold supplier invoice %d: %w", invoiceID, err)
	}
	return nil
}

func lockSupplierInvoiceTx(ctx context.Context, tx pgx.Tx, companyID, invoiceID int) (*SupplierInvoice, error) {
	si := &SupplierInvoice{}
	var holdRaw []byte
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, supplier_id, goods_receipt_id, invoice_no, supplier_ref, status, doc_subtype,
		       invoice_date, rate_type, exchange_rate, tax_code_id, is_on_hold, hold_reason, hold_details,
		       import_status, created_at, posted_at
		FROM supplier_invoices
		WHERE company_id = $1 AND id = $2
		FOR UPDATE`,
		companyID, invoiceID,
	).Scan(&si.ID, &si.CompanyID, &si.SupplierID, &si.GoodsReceiptID, &si.InvoiceNo, &si.SupplierRef,
		&si.Status, &si.DocSubtype, &si.InvoiceDate, &si.RateType, &si.ExchangeRate, &si.TaxCodeID,
		&si.IsOnHold, &si.HoldReason, &holdRaw, &si.ImportStatus, &si.CreatedAt, &si.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "supplier invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("lock supplier invoice %d: %w", invoiceID, err)
	}
	if len(holdRaw) > 0 {
		var hd HoldDetails
		if err := json.Unmarshal(holdRaw, &hd); err != nil {
			return nil, fmt.Errorf("decode hold details: %w", err)
		}
		si.HoldDetails = &hd
	}
	return si, nil
}

func loadSupplierInvoiceLinesTx(ctx context.Context, tx pgx.Tx, si *SupplierInvoice) error {
	rows, err := tx.Query(ctx, `
		SELECT id, invoice_id, line_no, item_id, goods_receipt_line_id,
		       qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp
		FROM supplier_invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_no`,
		si.ID,
	)
	if err != nil {
		return fmt.Errorf("load supplier invoice lines: %w", err)
	}
	defer rows.Close()

	si.Lines = nil
	for rows.Next() {
		var l SupplierInvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.LineNo, &l.ItemID, &l.GoodsReceiptLineID,
			&l.QtyBase, &l.QtyEntered, &l.UOM, &l.QtyFactor, &l.UnitCostUSD, &l.UnitCostLBP); err != nil {
			return fmt.Errorf("scan supplier invoice line: %w", err)
		}
		si.Lines = append(si.Lines, l)
	}
	return rows.Err()
}

// invoiceTotalsTx computes (base, tax, total) for an invoice from its lines
// and tax lines.
func invoiceTotalsTx(ctx context.Context, tx pgx.Tx, companyID, invoiceID int) (base, tax, total Dual, err error) {
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(qty_base * unit_cost_usd), 0), COALESCE(SUM(qty_base * unit_cost_lbp), 0)
		FROM supplier_invoice_lines WHERE invoice_id = $1`,
		invoiceID,
	).Scan(&base.USD, &base.LBP)
	if err != nil {
		err = fmt.Errorf("sum invoice base: %w", err)
		return
	}
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(tax_usd), 0), COALESCE(SUM(tax_lbp), 0)
		FROM tax_lines
		WHERE company_id = $1 AND source_type = 'supplier_invoice' AND source_id = $2`,
		companyID, invoiceID,
	).Scan(&tax.USD, &tax.LBP)
	if err != nil {
		err = fmt.Errorf("sum invoice tax: %w", err)
		return
	}
	total = base.Add(tax)
	return
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

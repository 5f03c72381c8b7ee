package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Application epsilons: amounts within these of the remaining balance are
// accepted as "exact".
var (
	creditEpsilonUSD = decimal.New(1, -4) // 0.0001
	creditEpsilonLBP = decimal.New(1, -2) // 0.01
)

// SupplierCreditService handles supplier credit notes: plain expense credits,
// receipt-linked credits with an inventory/COGS split, applications against
// invoices, and cancellation.
type SupplierCreditService struct {
	pool *pgxpool.Pool
}

func NewSupplierCreditService(pool *pgxpool.Pool) *SupplierCreditService {
	return &SupplierCreditService{pool: pool}
}

type CreditNoteInput struct {
	SupplierID     int
	Kind           CreditKind
	GoodsReceiptID *int
	CreditDate     time.Time
	RateType       RateType
	AmountUSD      decimal.Decimal
	AmountLBP      decimal.Decimal
	Memo           *string
}

// Create drafts a credit note. Receipt-linked credits must reference a posted
// receipt of the same supplier.
func (s *SupplierCreditService) Create(ctx context.Context, sess Session, input CreditNoteInput) (*SupplierCreditNote, error) {
	switch input.Kind {
	case CreditExpense, CreditReceipt:
	default:
		return nil, E(KindValidation, "unknown credit kind %q", input.Kind)
	}
	if input.Kind == CreditReceipt && input.GoodsReceiptID == nil {
		return nil, E(KindValidation, "receipt credit requires goods_receipt_id")
	}
	if input.Kind == CreditExpense && input.GoodsReceiptID != nil {
		return nil, E(KindValidation, "expense credit cannot reference a goods receipt")
	}
	if input.AmountUSD.IsNegative() || input.AmountLBP.IsNegative() {
		return nil, E(KindValidation, "credit amounts cannot be negative")
	}
	if input.RateType == "" {
		input.RateType = RateMarket
	}

	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := loadSupplierTx(ctx, tx.Tx, sess.CompanyID, input.SupplierID); err != nil {
		return nil, err
	}
	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, input.CreditDate, input.RateType)
	if err != nil {
		return nil, err
	}
	amount := NormalizeDual(input.AmountUSD, input.AmountLBP, rate)
	if amount.Zero() {
		return nil, E(KindValidation, "credit amount is zero")
	}

	if input.GoodsReceiptID != nil {
		gr, err := lockGoodsReceiptTx(ctx, tx.Tx, sess.CompanyID, *input.GoodsReceiptID)
		if err != nil {
			return nil, err
		}
		if gr.Status != DocPosted {
			return nil, E(KindPrecondition, "goods receipt %d is %s, expected posted", gr.ID, gr.Status)
		}
		if gr.SupplierID != input.SupplierID {
			return nil, E(KindValidation, "credit supplier %d does not match receipt supplier %d", input.SupplierID, gr.SupplierID)
		}
	}

	cn := &SupplierCreditNote{}
	err = tx.QueryRow(ctx, `
		INSERT INTO supplier_credit_notes (company_id, supplier_id, kind, goods_receipt_id, status,
		                                   credit_date, rate_type, exchange_rate, total_usd, total_lbp, memo)
		VALUES ($1, $2, $3, $4, 'draft', $5, $6, $7, $8, $9, $10)
		RETURNING id, company_id, supplier_id, kind, goods_receipt_id, credit_no, status,
		          credit_date, rate_type, exchange_rate, total_usd, total_lbp, memo, created_at, posted_at`,
		sess.CompanyID, input.SupplierID, input.Kind, input.GoodsReceiptID,
		input.CreditDate.Format("2006-01-02"), input.RateType, rate, amount.USD, amount.LBP, input.Memo,
	).Scan(&cn.ID, &cn.CompanyID, &cn.SupplierID, &cn.Kind, &cn.GoodsReceiptID, &cn.CreditNo, &cn.Status,
		&cn.CreditDate, &cn.RateType, &cn.ExchangeRate, &cn.TotalUSD, &cn.TotalLBP, &cn.Memo, &cn.CreatedAt, &cn.PostedAt)
	if err != nil {
		return nil, fmt.Errorf("create credit note: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit note: %w", err)
	}
	return cn, nil
}

// Post makes a credit note effective. Expense credits post Dr AP against the
// purchase-rebate account (purchases expense when unmapped). Receipt credits
// split the total across receipt lines by value, divide each slice between
// inventory still on hand and COGS, post the matching journal, and push the
// inventory portion into the moving average.
func (s *SupplierCreditService) Post(ctx context.Context, sess Session, creditID int) (*SupplierCreditNote, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cn, err := lockCreditNoteTx(ctx, tx.Tx, sess.CompanyID, creditID)
	if err != nil {
		return nil, err
	}
	if cn.Status == DocPosted {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit idempotent credit post: %w", err)
		}
		return cn, nil
	}
	if cn.Status != DocDraft {
		return nil, E(KindPrecondition, "credit note %d is %s, expected draft", creditID, cn.Status)
	}
	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, cn.CreditDate); err != nil {
		return nil, err
	}

	total := Dual{USD: cn.TotalUSD, LBP: cn.TotalLBP}
	apID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleAP)
	if err != nil {
		return nil, err
	}

	creditNo, err := nextDocumentNoTx(ctx, tx.Tx, sess.CompanyID, "CN")
	if err != nil {
		return nil, err
	}
	memo := fmt.Sprintf("supplier credit %s", creditNo)
	cnID := cn.ID

	var lines []JournalLineSpec
	switch cn.Kind {
	case CreditExpense:
		creditAccID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RolePurchaseRebate)
		if err != nil {
			if KindOf(err) != KindMissingConfig {
				return nil, err
			}
			creditAccID, err = resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RolePurchasesExp)
			if err != nil {
				return nil, err
			}
		}
		lines = []JournalLineSpec{
			{AccountID: apID, Debit: total, Memo: &memo},
			{AccountID: creditAccID, Credit: total, Memo: &memo},
		}

	case CreditReceipt:
		inv, cogs, err := s.allocateReceiptCreditTx(ctx, tx.Tx, sess, cn, total)
		if err != nil {
			return nil, err
		}
		invID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInventory)
		if err != nil {
			return nil, err
		}
		cogsID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleCOGS)
		if err != nil {
			return nil, err
		}
		lines = []JournalLineSpec{{AccountID: apID, Debit: total, Memo: &memo}}
		if !inv.Zero() {
			lines = append(lines, JournalLineSpec{AccountID: invID, Credit: inv, Memo: &memo})
		}
		if !cogs.Zero() {
			lines = append(lines, JournalLineSpec{AccountID: cogsID, Credit: cogs, Memo: &memo})
		}
	}

	if _, err := postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
		SourceType: "supplier_credit_note", SourceID: &cnID,
		JournalDate: cn.CreditDate, RateType: cn.RateType, ExchangeRate: cn.ExchangeRate,
		Memo: &memo, Lines: lines,
	}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE supplier_credit_notes SET status = 'posted', credit_no = $1, posted_at = $2
		WHERE id = $3`,
		creditNo, now, cn.ID,
	); err != nil {
		return nil, fmt.Errorf("post credit note %d: %w", creditID, err)
	}
	cn.Status = DocPosted
	cn.CreditNo = &creditNo
	cn.PostedAt = &now

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_credit.post", EntityType: "supplier_credit_note", EntityID: cn.ID,
		Details: map[string]any{"credit_no": creditNo, "kind": string(cn.Kind)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit note post: %w", err)
	}
	return cn, nil
}

// allocateReceiptCreditTx distributes the credit total across the linked
// receipt's lines weighted by line value (qty when values are zero), splits
// each slice into on-hand and sold portions, persists the allocations, and
// applies the per-unit average-cost reduction for the inventory side. COGS
// absorbs every rounding residue so the split sums to the credit exactly.
func (s *SupplierCreditService) allocateReceiptCreditTx(ctx context.Context, tx pgx.Tx, sess Session, cn *SupplierCreditNote, total Dual) (inv, cogs Dual, err error) {
	gr, err := lockGoodsReceiptTx(ctx, tx, sess.CompanyID, *cn.GoodsReceiptID)
	if err != nil {
		return inv, cogs, err
	}
	if gr.Status != DocPosted {
		return inv, cogs, E(KindPrecondition, "goods receipt %d is %s, expected posted", gr.ID, gr.Status)
	}
	if err := loadGoodsReceiptLinesTx(ctx, tx, gr); err != nil {
		return inv, cogs, err
	}
	if len(gr.Lines) == 0 {
		return inv, cogs, E(KindValidation, "goods receipt %d has no lines", gr.ID)
	}

	// Weights: line value in USD, falling back to LBP, falling back to qty.
	weights := make([]decimal.Decimal, len(gr.Lines))
	var weightSum decimal.Decimal
	for i, l := range gr.Lines {
		w := l.UnitCostUSD.Mul(l.QtyBase)
		if w.Sign() == 0 {
			w = l.UnitCostLBP.Mul(l.QtyBase)
		}
		if w.Sign() == 0 {
			w = l.QtyBase
		}
		weights[i] = w
		weightSum = weightSum.Add(w)
	}
	if weightSum.Sign() <= 0 {
		return inv, cogs, E(KindValidation, "goods receipt %d has no allocatable value", gr.ID)
	}

	var allocatedUSD, allocatedLBP decimal.Decimal
	for i := range gr.Lines {
		l := &gr.Lines[i]

		share := weights[i].Div(weightSum)
		alloc := Dual{USD: QUSD(total.USD.Mul(share)), LBP: QLBP(total.LBP.Mul(share))}
		if i == len(gr.Lines)-1 {
			// Last line takes the remainder so the allocations sum exactly.
			alloc = Dual{USD: total.USD.Sub(allocatedUSD), LBP: total.LBP.Sub(allocatedLBP)}
		}
		allocatedUSD = allocatedUSD.Add(alloc.USD)
		allocatedLBP = allocatedLBP.Add(alloc.LBP)

		// On-hand ratio: batch level when batched, item level otherwise.
		ratio := decimal.Zero
		if l.QtyBase.Sign() > 0 {
			var onHand decimal.Decimal
			if l.BatchID != nil {
				onHand, err = batchOnHandTx(ctx, tx, *l.BatchID, gr.WarehouseID)
			} else {
				var iwc *ItemWarehouseCost
				iwc, err = itemWarehouseCostTx(ctx, tx, sess.CompanyID, l.ItemID, gr.WarehouseID)
				if iwc != nil {
					onHand = iwc.OnHandQty
				}
			}
			if err != nil {
				return inv, cogs, err
			}
			ratio = onHand.Div(l.QtyBase)
			if ratio.GreaterThan(decimal.NewFromInt(1)) {
				ratio = decimal.NewFromInt(1)
			}
			if ratio.IsNegative() {
				ratio = decimal.Zero
			}
		}

		lineInv := Dual{USD: QUSD(alloc.USD.Mul(ratio)), LBP: QLBP(alloc.LBP.Mul(ratio))}
		lineCogs := alloc.Sub(lineInv)

		if _, err = tx.Exec(ctx, `
			INSERT INTO supplier_credit_note_allocations
			       (credit_note_id, goods_receipt_line_id, batch_id, amount_usd, amount_lbp,
			        inventory_usd, inventory_lbp, cogs_usd, cogs_lbp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			cn.ID, l.ID, l.BatchID, alloc.USD, alloc.LBP,
			lineInv.USD, lineInv.LBP, lineCogs.USD, lineCogs.LBP,
		); err != nil {
			return inv, cogs, fmt.Errorf("insert credit allocation: %w", err)
		}

		// Track the rebate on the receipt line and its cost layer.
		if _, err = tx.Exec(ctx, `
			UPDATE goods_receipt_lines
			SET rebate_total_usd = rebate_total_usd + $1, rebate_total_lbp = rebate_total_lbp + $2
			WHERE id = $3`,
			alloc.USD, alloc.LBP, l.ID,
		); err != nil {
			return inv, cogs, fmt.Errorf("stamp line rebate: %w", err)
		}
		if l.BatchID != nil {
			if _, err = tx.Exec(ctx, `
				UPDATE batch_cost_layers
				SET rebate_total_usd = rebate_total_usd + $1, rebate_total_lbp = rebate_total_lbp + $2
				WHERE company_id = $3 AND source_type = 'goods_receipt' AND source_id = $4 AND source_line_id = $5`,
				alloc.USD, alloc.LBP, sess.CompanyID, gr.ID, l.ID,
			); err != nil {
				return inv, cogs, fmt.Errorf("stamp layer rebate: %w", err)
			}
		}

		// Inventory portion reduces the moving average per unit on hand.
		if !lineInv.Zero() {
			iwc, err := itemWarehouseCostTx(ctx, tx, sess.CompanyID, l.ItemID, gr.WarehouseID)
			if err != nil {
				return inv, cogs, err
			}
			if iwc.OnHandQty.Sign() > 0 {
				perUnitUSD := QUSD(lineInv.USD.Div(iwc.OnHandQty))
				perUnitLBP := QLBP(lineInv.LBP.Div(iwc.OnHandQty))
				if err := applyAvgCostAdjustmentTx(ctx, tx, sess.CompanyID, l.ItemID, gr.WarehouseID,
					perUnitUSD, perUnitLBP, "supplier_credit_note", cn.ID); err != nil {
					return inv, cogs, err
				}
			}
		}

		inv = inv.Add(lineInv)
		cogs = cogs.Add(lineCogs)
	}

	return inv, cogs, nil
}

// Apply applies part of a posted credit to a posted invoice of the same
// supplier. The amount must fit both the credit's remaining balance and the
// invoice's open balance, per currency.
func (s *SupplierCreditService) Apply(ctx context.Context, sess Session, creditID, invoiceID int, amountUSD, amountLBP decimal.Decimal) (*CreditApplication, error) {
	if amountUSD.IsNegative() || amountLBP.IsNegative() {
		return nil, E(KindValidation, "application amounts cannot be negative")
	}
	if amountUSD.IsZero() && amountLBP.IsZero() {
		return nil, E(KindValidation, "application amount is zero")
	}

	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	cn, err := lockCreditNoteTx(ctx, tx.Tx, sess.CompanyID, creditID)
	if err != nil {
		return nil, err
	}
	if cn.Status != DocPosted {
		return nil, E(KindPrecondition, "credit note %d is %s, expected posted", creditID, cn.Status)
	}
	si, err := lockSupplierInvoiceTx(ctx, tx.Tx, sess.CompanyID, invoiceID)
	if err != nil {
		return nil, err
	}
	if si.Status != DocPosted {
		return nil, E(KindPrecondition, "supplier invoice %d is %s, expected posted", invoiceID, si.Status)
	}
	if si.SupplierID == nil || *si.SupplierID != cn.SupplierID {
		return nil, E(KindValidation, "credit and invoice belong to different suppliers")
	}

	var appliedUSD, appliedLBP decimal.Decimal
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0), COALESCE(SUM(amount_lbp), 0)
		FROM supplier_credit_note_applications WHERE credit_note_id = $1`,
		cn.ID,
	).Scan(&appliedUSD, &appliedLBP); err != nil {
		return nil, fmt.Errorf("sum credit applications: %w", err)
	}
	remainingUSD := cn.TotalUSD.Sub(appliedUSD)
	remainingLBP := cn.TotalLBP.Sub(appliedLBP)
	if amountUSD.GreaterThan(remainingUSD.Add(creditEpsilonUSD)) ||
		amountLBP.GreaterThan(remainingLBP.Add(creditEpsilonLBP)) {
		return nil, EDetails(KindValidation, map[string]any{
			"remaining_usd": remainingUSD.String(), "remaining_lbp": remainingLBP.String(),
		}, "application exceeds remaining credit")
	}

	_, _, invTotal, err := invoiceTotalsTx(ctx, tx.Tx, sess.CompanyID, si.ID)
	if err != nil {
		return nil, err
	}
	var paidUSD, paidLBP, creditedUSD, creditedLBP decimal.Decimal
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0), COALESCE(SUM(amount_lbp), 0)
		FROM supplier_payments WHERE invoice_id = $1`,
		si.ID,
	).Scan(&paidUSD, &paidLBP); err != nil {
		return nil, fmt.Errorf("sum invoice payments: %w", err)
	}
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_usd), 0), COALESCE(SUM(amount_lbp), 0)
		FROM supplier_credit_note_applications WHERE invoice_id = $1`,
		si.ID,
	).Scan(&creditedUSD, &creditedLBP); err != nil {
		return nil, fmt.Errorf("sum invoice credit applications: %w", err)
	}
	openUSD := invTotal.USD.Sub(paidUSD).Sub(creditedUSD)
	openLBP := invTotal.LBP.Sub(paidLBP).Sub(creditedLBP)
	if amountUSD.GreaterThan(openUSD.Add(creditEpsilonUSD)) ||
		amountLBP.GreaterThan(openLBP.Add(creditEpsilonLBP)) {
		return nil, EDetails(KindValidation, map[string]any{
			"open_usd": openUSD.String(), "open_lbp": openLBP.String(),
		}, "application exceeds invoice open balance")
	}

	app := &CreditApplication{}
	err = tx.QueryRow(ctx, `
		INSERT INTO supplier_credit_note_applications (credit_note_id, invoice_id, amount_usd, amount_lbp)
		VALUES ($1, $2, $3, $4)
		RETURNING id, credit_note_id, invoice_id, amount_usd, amount_lbp, applied_at`,
		cn.ID, si.ID, amountUSD, amountLBP,
	).Scan(&app.ID, &app.CreditNoteID, &app.InvoiceID, &app.AmountUSD, &app.AmountLBP, &app.AppliedAt)
	if err != nil {
		return nil, fmt.Errorf("insert credit application: %w", err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_credit.apply", EntityType: "supplier_credit_note", EntityID: cn.ID,
		Details: map[string]any{"invoice_id": si.ID, "amount_usd": amountUSD.String(), "amount_lbp": amountLBP.String()},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit application: %w", err)
	}
	return app, nil
}

// Cancel reverses a posted credit note: GL reversal, average-cost restore,
// and removal of the rebate stamps. Blocked while applications exist.
func (s *SupplierCreditService) Cancel(ctx context.Context, sess Session, creditID int, cancelDate time.Time) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cn, err := lockCreditNoteTx(ctx, tx.Tx, sess.CompanyID, creditID)
	if err != nil {
		return err
	}
	if cn.Status == DocCanceled {
		return tx.Commit(ctx)
	}
	if cn.Status != DocPosted {
		if _, err := tx.Exec(ctx, "UPDATE supplier_credit_notes SET status = 'canceled' WHERE id = $1", cn.ID); err != nil {
			return fmt.Errorf("cancel draft credit %d: %w", creditID, err)
		}
		return tx.Commit(ctx)
	}
	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, cancelDate); err != nil {
		return err
	}

	var apps int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM supplier_credit_note_applications WHERE credit_note_id = $1", cn.ID,
	).Scan(&apps); err != nil {
		return fmt.Errorf("count applications: %w", err)
	}
	if apps > 0 {
		return E(KindPrecondition, "credit note %d has %d application(s)", creditID, apps)
	}

	if _, err := reverseJournalTx(ctx, tx.Tx, sess.CompanyID, "supplier_credit_note", cn.ID, cancelDate); err != nil {
		return err
	}
	if err := reverseAvgCostAdjustmentsTx(ctx, tx.Tx, sess.CompanyID, "supplier_credit_note", cn.ID); err != nil {
		return err
	}

	// Remove the rebate stamps this credit added.
	rows, err := tx.Query(ctx, `
		SELECT goods_receipt_line_id, batch_id, amount_usd, amount_lbp
		FROM supplier_credit_note_allocations WHERE credit_note_id = $1`,
		cn.ID,
	)
	if err != nil {
		return fmt.Errorf("fetch allocations: %w", err)
	}
	type alloc struct {
		lineID  int
		batchID *int
		usd     decimal.Decimal
		lbp     decimal.Decimal
	}
	var allocs []alloc
	for rows.Next() {
		var a alloc
		if err := rows.Scan(&a.lineID, &a.batchID, &a.usd, &a.lbp); err != nil {
			rows.Close()
			return fmt.Errorf("scan allocation: %w", err)
		}
		allocs = append(allocs, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate allocations: %w", err)
	}
	for _, a := range allocs {
		if _, err := tx.Exec(ctx, `
			UPDATE goods_receipt_lines
			SET rebate_total_usd = rebate_total_usd - $1, rebate_total_lbp = rebate_total_lbp - $2
			WHERE id = $3`,
			a.usd, a.lbp, a.lineID,
		); err != nil {
			return fmt.Errorf("unstamp line rebate: %w", err)
		}
		if a.batchID != nil && cn.GoodsReceiptID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE batch_cost_layers
				SET rebate_total_usd = rebate_total_usd - $1, rebate_total_lbp = rebate_total_lbp - $2
				WHERE company_id = $3 AND source_type = 'goods_receipt' AND source_id = $4 AND source_line_id = $5`,
				a.usd, a.lbp, sess.CompanyID, *cn.GoodsReceiptID, a.lineID,
			); err != nil {
				return fmt.Errorf("unstamp layer rebate: %w", err)
			}
		}
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM supplier_credit_note_allocations WHERE credit_note_id = $1", cn.ID,
	); err != nil {
		return fmt.Errorf("delete allocations: %w", err)
	}

	if _, err := tx.Exec(ctx, "UPDATE supplier_credit_notes SET status = 'canceled' WHERE id = $1", cn.ID); err != nil {
		return fmt.Errorf("cancel credit note %d: %w", creditID, err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "supplier_credit.cancel", EntityType: "supplier_credit_note", EntityID: cn.ID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit credit cancel: %w", err)
	}
	return nil
}

func lockCreditNoteTx(ctx context.Context, tx pgx.Tx, companyID, creditID int) (*SupplierCreditNote, error) {
	cn := &SupplierCreditNote{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, supplier_id, kind, goods_receipt_id, credit_no, status,
		       credit_date, rate_type, exchange_rate, total_usd, total_lbp, memo, created_at, posted_at
		FROM supplier_credit_notes
		WHERE company_id = $1 AND id = $2
		FOR UPDATE`,
		companyID, creditID,
	).Scan(&cn.ID, &cn.CompanyID, &cn.SupplierID, &cn.Kind, &cn.GoodsReceiptID, &cn.CreditNo, &cn.Status,
		&cn.CreditDate, &cn.RateType, &cn.ExchangeRate, &cn.TotalUSD, &cn.TotalLBP, &cn.Memo, &cn.CreatedAt, &cn.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "credit note %d not found", creditID)
		}
		return nil, fmt.Errorf("lock credit note %d: %w", creditID, err)
	}
	return cn, nil
}

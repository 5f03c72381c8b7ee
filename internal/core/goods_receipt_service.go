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

// GoodsReceiptService drives goods receipts: drafting from a purchase order,
// posting (stock moves, batches, cost layers, GL), and cancellation.
type GoodsReceiptService struct {
	pool *pgxpool.Pool
}

func NewGoodsReceiptService(pool *pgxpool.Pool) *GoodsReceiptService {
	return &GoodsReceiptService{pool: pool}
}

type DraftReceiptRequest struct {
	PurchaseOrderID int
	WarehouseID     int
	ReceiptDate     time.Time
}

// DraftFromPO drafts a receipt carrying each PO line's remaining quantity
// (ordered minus already received on posted receipts) at the PO unit costs.
func (s *GoodsReceiptService) DraftFromPO(ctx context.Context, sess Session, req DraftReceiptRequest) (*GoodsReceipt, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	po, err := lockPurchaseOrderTx(ctx, tx.Tx, sess.CompanyID, req.PurchaseOrderID)
	if err != nil {
		return nil, err
	}
	if po.Status != DocPosted {
		return nil, E(KindPrecondition, "purchase order %d is %s, expected posted", po.ID, po.Status)
	}
	if err := loadPurchaseOrderLinesTx(ctx, tx.Tx, po); err != nil {
		return nil, err
	}

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, req.ReceiptDate, po.RateType)
	if err != nil {
		return nil, err
	}

	gr := &GoodsReceipt{}
	err = tx.QueryRow(ctx, `
		INSERT INTO goods_receipts (company_id, supplier_id, purchase_order_id, warehouse_id, status, receipt_date, rate_type, exchange_rate)
		VALUES ($1, $2, $3, $4, 'draft', $5, $6, $7)
		RETURNING id, company_id, supplier_id, purchase_order_id, warehouse_id, receipt_no, status,
		          receipt_date, rate_type, exchange_rate, created_at, posted_at`,
		sess.CompanyID, po.SupplierID, po.ID, req.WarehouseID,
		req.ReceiptDate.Format("2006-01-02"), po.RateType, rate,
	).Scan(&gr.ID, &gr.CompanyID, &gr.SupplierID, &gr.PurchaseOrderID, &gr.WarehouseID, &gr.ReceiptNo,
		&gr.Status, &gr.ReceiptDate, &gr.RateType, &gr.ExchangeRate, &gr.CreatedAt, &gr.PostedAt)
	if err != nil {
		return nil, fmt.Errorf("create goods receipt: %w", err)
	}

	lineNo := 0
	for _, pl := range po.Lines {
		var received decimal.Decimal
		err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(grl.qty_base), 0)
			FROM goods_receipt_lines grl
			JOIN goods_receipts g ON g.id = grl.receipt_id
			WHERE grl.purchase_order_line_id = $1 AND g.status = 'posted'`,
			pl.ID,
		).Scan(&received)
		if err != nil {
			return nil, fmt.Errorf("sum received qty for PO line %d: %w", pl.ID, err)
		}
		remaining := pl.QtyBase.Sub(received)
		if remaining.Sign() <= 0 {
			continue
		}

		cost := NormalizeDual(pl.UnitCostUSD, pl.UnitCostLBP, rate)
		lineNo++
		var l GoodsReceiptLine
		err = tx.QueryRow(ctx, `
			INSERT INTO goods_receipt_lines (receipt_id, line_no, item_id, purchase_order_line_id,
			                                 qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, receipt_id, line_no, item_id, purchase_order_line_id, location_id, batch_id, batch_no, expiry_date,
			          qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp,
			          landed_cost_usd, landed_cost_lbp, rebate_total_usd, rebate_total_lbp`,
			gr.ID, lineNo, pl.ItemID, pl.ID,
			remaining, remaining.DivRound(pl.QtyFactor, 6), pl.UOM, pl.QtyFactor, cost.USD, cost.LBP,
		).Scan(&l.ID, &l.ReceiptID, &l.LineNo, &l.ItemID, &l.PurchaseOrderLineID, &l.LocationID, &l.BatchID,
			&l.BatchNo, &l.ExpiryDate, &l.QtyBase, &l.QtyEntered, &l.UOM, &l.QtyFactor,
			&l.UnitCostUSD, &l.UnitCostLBP, &l.LandedCostUSD, &l.LandedCostLBP, &l.RebateTotalUSD, &l.RebateTotalLBP)
		if err != nil {
			return nil, fmt.Errorf("insert goods receipt line %d: %w", lineNo, err)
		}
		gr.Lines = append(gr.Lines, l)
	}
	if len(gr.Lines) == 0 {
		return nil, E(KindPrecondition, "purchase order %d is fully received", po.ID)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "goods_receipt.draft", EntityType: "goods_receipt", EntityID: gr.ID,
		Details: map[string]any{"purchase_order_id": po.ID, "lines": len(gr.Lines)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit goods receipt draft: %w", err)
	}
	return gr, nil
}

type ReceiptLineCapture struct {
	LineID     int
	LocationID *int
	BatchNo    *string
	ExpiryDate *time.Time
	QtyBase    *decimal.Decimal // override of the drafted quantity
}

type PostReceiptRequest struct {
	ReceiptID   int
	PostingDate *time.Time // defaults to the drafted receipt_date
	Captures    []ReceiptLineCapture
}

type PostReceiptResult struct {
	Receipt *GoodsReceipt
	Journal *GlJournal
}

// Post makes a receipt real: per line it validates the location, resolves the
// batch (stamping write-once receipt metadata), emits one inbound stock move
// and one cost layer, then posts Dr INVENTORY / Cr GRNI. Retrying a posted
// receipt returns the existing artifacts; a posted receipt whose artifacts
// are missing is a conflict.
func (s *GoodsReceiptService) Post(ctx context.Context, sess Session, req PostReceiptRequest) (*PostReceiptResult, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	gr, err := lockGoodsReceiptTx(ctx, tx.Tx, sess.CompanyID, req.ReceiptID)
	if err != nil {
		return nil, err
	}

	if gr.Status == DocPosted {
		journal, err := findJournalTx(ctx, tx.Tx, sess.CompanyID, "goods_receipt", gr.ID)
		if err != nil {
			return nil, err
		}
		var moves int
		if err := tx.QueryRow(ctx,
			"SELECT COUNT(*) FROM stock_moves WHERE source_type = 'goods_receipt' AND source_id = $1",
			gr.ID,
		).Scan(&moves); err != nil {
			return nil, fmt.Errorf("count receipt moves: %w", err)
		}
		if journal == nil || moves == 0 {
			return nil, E(KindConflict, "goods receipt %d is posted but its artifacts are missing", gr.ID)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit idempotent receipt post: %w", err)
		}
		return &PostReceiptResult{Receipt: gr, Journal: journal}, nil
	}
	if gr.Status != DocDraft {
		return nil, E(KindPrecondition, "goods receipt %d is %s, expected draft", gr.ID, gr.Status)
	}

	postingDate := gr.ReceiptDate
	if req.PostingDate != nil {
		postingDate = *req.PostingDate
	}
	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, postingDate); err != nil {
		return nil, err
	}

	if err := loadGoodsReceiptLinesTx(ctx, tx.Tx, gr); err != nil {
		return nil, err
	}
	if len(gr.Lines) == 0 {
		return nil, E(KindValidation, "goods receipt %d has no lines", gr.ID)
	}

	// Apply capture overrides (location, batch identity, quantity) by line id.
	captures := make(map[int]ReceiptLineCapture, len(req.Captures))
	for _, c := range req.Captures {
		captures[c.LineID] = c
	}
	for i := range gr.Lines {
		if c, ok := captures[gr.Lines[i].ID]; ok {
			if c.LocationID != nil {
				gr.Lines[i].LocationID = c.LocationID
			}
			if c.BatchNo != nil {
				gr.Lines[i].BatchNo = c.BatchNo
			}
			if c.ExpiryDate != nil {
				gr.Lines[i].ExpiryDate = c.ExpiryDate
			}
			if c.QtyBase != nil {
				if c.QtyBase.Sign() <= 0 {
					return nil, E(KindValidation, "capture for line %d has non-positive qty", gr.Lines[i].ID)
				}
				gr.Lines[i].QtyBase = *c.QtyBase
			}
		}
	}

	recv := &receivedMeta{At: time.Now().UTC(), SourceType: "goods_receipt", SourceID: gr.ID, SupplierID: &gr.SupplierID}
	var total Dual
	for i := range gr.Lines {
		l := &gr.Lines[i]
		if l.LocationID != nil {
			if err := assertLocationInWarehouseTx(ctx, tx.Tx, *l.LocationID, gr.WarehouseID); err != nil {
				return nil, err
			}
		}
		item, err := loadItemTx(ctx, tx.Tx, sess.CompanyID, l.ItemID)
		if err != nil {
			return nil, err
		}
		batch, err := getOrCreateBatchTx(ctx, tx.Tx, sess.CompanyID, *item, l.BatchNo, l.ExpiryDate, recv)
		if err != nil {
			return nil, err
		}
		var batchID *int
		if batch != nil {
			batchID = &batch.ID
			l.BatchID = batchID
		}
		if _, err := tx.Exec(ctx,
			"UPDATE goods_receipt_lines SET batch_id = $1, location_id = $2, qty_base = $3 WHERE id = $4",
			batchID, l.LocationID, l.QtyBase, l.ID,
		); err != nil {
			return nil, fmt.Errorf("stamp receipt line %d: %w", l.ID, err)
		}

		unit := Dual{USD: l.UnitCostUSD, LBP: l.UnitCostLBP}
		lineValue := unit.MulQty(l.QtyBase).Add(Dual{USD: l.LandedCostUSD, LBP: l.LandedCostLBP})
		grID := gr.ID
		if _, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, StockMoveSpec{
			ItemID: l.ItemID, WarehouseID: gr.WarehouseID, LocationID: l.LocationID,
			BatchID: batchID, QtyIn: l.QtyBase, UnitCost: unit,
			MoveDate: postingDate, SourceType: "goods_receipt", SourceID: &grID,
		}); err != nil {
			return nil, err
		}

		if batchID != nil {
			if err := createCostLayerTx(ctx, tx.Tx, sess.CompanyID, BatchCostLayer{
				BatchID: *batchID, WarehouseID: gr.WarehouseID, LocationID: l.LocationID,
				SourceType: "goods_receipt", SourceID: gr.ID, SourceLineID: l.ID,
				Qty: l.QtyBase, UnitCostUSD: l.UnitCostUSD, UnitCostLBP: l.UnitCostLBP,
				LandedCostTotalUSD: l.LandedCostUSD, LandedCostTotalLBP: l.LandedCostLBP,
			}); err != nil {
				return nil, err
			}
		}
		total = total.Add(lineValue)
	}

	invID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleInventory)
	if err != nil {
		return nil, err
	}
	grniID, err := resolveAccountTx(ctx, tx.Tx, sess.CompanyID, RoleGRNI)
	if err != nil {
		return nil, err
	}

	receiptNo := gr.ReceiptNo
	if receiptNo == nil {
		no, err := nextDocumentNoTx(ctx, tx.Tx, sess.CompanyID, "GR")
		if err != nil {
			return nil, err
		}
		receiptNo = &no
	}
	memo := fmt.Sprintf("goods receipt %s", *receiptNo)
	grID := gr.ID
	journal, err := postJournalTx(ctx, tx.Tx, sess.CompanyID, JournalSpec{
		SourceType: "goods_receipt", SourceID: &grID,
		JournalDate: postingDate, RateType: gr.RateType, ExchangeRate: gr.ExchangeRate,
		Memo: &memo,
		Lines: []JournalLineSpec{
			{AccountID: invID, Debit: total, Memo: &memo, WarehouseID: &gr.WarehouseID},
			{AccountID: grniID, Credit: total, Memo: &memo, WarehouseID: &gr.WarehouseID},
		},
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE goods_receipts SET status = 'posted', receipt_no = $1, posted_at = $2, receipt_date = $3
		WHERE id = $4`,
		receiptNo, now, postingDate.Format("2006-01-02"), gr.ID,
	); err != nil {
		return nil, fmt.Errorf("post goods receipt %d: %w", gr.ID, err)
	}
	gr.Status = DocPosted
	gr.ReceiptNo = receiptNo
	gr.PostedAt = &now
	gr.ReceiptDate = postingDate

	if err := appendEvent(ctx, tx.Tx, sess.CompanyID, EventPurchaseReceived, map[string]any{
		"goods_receipt_id": gr.ID, "receipt_no": *receiptNo,
	}); err != nil {
		return nil, err
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "goods_receipt.post", EntityType: "goods_receipt", EntityID: gr.ID,
		Details: map[string]any{"receipt_no": *receiptNo, "journal_id": journal.ID},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit goods receipt post: %w", err)
	}
	return &PostReceiptResult{Receipt: gr, Journal: journal}, nil
}

// Cancel reverses a posted receipt: opposite stock moves, a compensating
// journal, and deletion of its cost layers. Blocked while a non-canceled
// supplier invoice references the receipt.
func (s *GoodsReceiptService) Cancel(ctx context.Context, sess Session, receiptID int, cancelDate time.Time) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	gr, err := lockGoodsReceiptTx(ctx, tx.Tx, sess.CompanyID, receiptID)
	if err != nil {
		return err
	}
	if gr.Status == DocCanceled {
		return tx.Commit(ctx)
	}
	if gr.Status == DocDraft {
		if _, err := tx.Exec(ctx, "UPDATE goods_receipts SET status = 'canceled' WHERE id = $1", gr.ID); err != nil {
			return fmt.Errorf("cancel draft receipt %d: %w", gr.ID, err)
		}
		return tx.Commit(ctx)
	}

	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, cancelDate); err != nil {
		return err
	}

	var invoices int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM supplier_invoices
		WHERE goods_receipt_id = $1 AND status <> 'canceled'`,
		gr.ID,
	).Scan(&invoices); err != nil {
		return fmt.Errorf("count linked invoices: %w", err)
	}
	if invoices > 0 {
		return E(KindPrecondition, "goods receipt %d has %d live supplier invoice(s)", gr.ID, invoices)
	}

	// Reverse every original move with an equal-but-opposite one.
	rows, err := tx.Query(ctx, `
		SELECT item_id, warehouse_id, location_id, batch_id, qty_in, qty_out, unit_cost_usd, unit_cost_lbp
		FROM stock_moves
		WHERE source_type = 'goods_receipt' AND source_id = $1
		ORDER BY id`,
		gr.ID,
	)
	if err != nil {
		return fmt.Errorf("fetch receipt moves: %w", err)
	}
	var specs []StockMoveSpec
	for rows.Next() {
		var sp StockMoveSpec
		var qtyIn, qtyOut decimal.Decimal
		if err := rows.Scan(&sp.ItemID, &sp.WarehouseID, &sp.LocationID, &sp.BatchID,
			&qtyIn, &qtyOut, &sp.UnitCost.USD, &sp.UnitCost.LBP); err != nil {
			rows.Close()
			return fmt.Errorf("scan receipt move: %w", err)
		}
		sp.QtyIn, sp.QtyOut = qtyOut, qtyIn
		specs = append(specs, sp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate receipt moves: %w", err)
	}

	grID := gr.ID
	for _, sp := range specs {
		sp.MoveDate = cancelDate
		sp.SourceType = "goods_receipt_cancel"
		sp.SourceID = &grID
		if _, err := applyStockMoveTx(ctx, tx.Tx, sess.CompanyID, sp); err != nil {
			return err
		}
	}

	if _, err := reverseJournalTx(ctx, tx.Tx, sess.CompanyID, "goods_receipt", gr.ID, cancelDate); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM batch_cost_layers
		WHERE company_id = $1 AND source_type = 'goods_receipt' AND source_id = $2`,
		sess.CompanyID, gr.ID,
	); err != nil {
		return fmt.Errorf("delete receipt cost layers: %w", err)
	}

	if _, err := tx.Exec(ctx, "UPDATE goods_receipts SET status = 'canceled' WHERE id = $1", gr.ID); err != nil {
		return fmt.Errorf("cancel goods receipt %d: %w", gr.ID, err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "goods_receipt.cancel", EntityType: "goods_receipt", EntityID: gr.ID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit goods receipt cancel: %w", err)
	}
	return nil
}

func lockGoodsReceiptTx(ctx context.Context, tx pgx.Tx, companyID, receiptID int) (*GoodsReceipt, error) {
	gr := &GoodsReceipt{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, supplier_id, purchase_order_id, warehouse_id, receipt_no, status,
		       receipt_date, rate_type, exchange_rate, created_at, posted_at
		FROM goods_receipts
		WHERE company_id = $1 AND id = $2
		FOR UPDATE`,
		companyID, receiptID,
	).Scan(&gr.ID, &gr.CompanyID, &gr.SupplierID, &gr.PurchaseOrderID, &gr.WarehouseID, &gr.ReceiptNo,
		&gr.Status, &gr.ReceiptDate, &gr.RateType, &gr.ExchangeRate, &gr.CreatedAt, &gr.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "goods receipt %d not found", receiptID)
		}
		return nil, fmt.Errorf("lock goods receipt %d: %w", receiptID, err)
	}
	return gr, nil
}

func loadGoodsReceiptLinesTx(ctx context.Context, tx pgx.Tx, gr *GoodsReceipt) error {
	rows, err := tx.Query(ctx, `
		SELECT id, receipt_id, line_no, item_id, purchase_order_line_id, location_id, batch_id, batch_no, expiry_date,
		       qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp,
		       landed_cost_usd, landed_cost_lbp, rebate_total_usd, rebate_total_lbp
		FROM goods_receipt_lines
		WHERE receipt_id = $1
		ORDER BY line_no`,
		gr.ID,
	)
	if err != nil {
		return fmt.Errorf("load goods receipt lines: %w", err)
	}
	defer rows.Close()

	gr.Lines = nil
	for rows.Next() {
		var l GoodsReceiptLine
		if err := rows.Scan(&l.ID, &l.ReceiptID, &l.LineNo, &l.ItemID, &l.PurchaseOrderLineID, &l.LocationID,
			&l.BatchID, &l.BatchNo, &l.ExpiryDate, &l.QtyBase, &l.QtyEntered, &l.UOM, &l.QtyFactor,
			&l.UnitCostUSD, &l.UnitCostLBP, &l.LandedCostUSD, &l.LandedCostLBP,
			&l.RebateTotalUSD, &l.RebateTotalLBP); err != nil {
			return fmt.Errorf("scan goods receipt line: %w", err)
		}
		gr.Lines = append(gr.Lines, l)
	}
	return rows.Err()
}

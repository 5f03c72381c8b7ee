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

// PurchaseOrderService drives the draft → posted → canceled lifecycle of
// purchase orders.
type PurchaseOrderService struct {
	pool *pgxpool.Pool
	uom  *UOMResolver
}

func NewPurchaseOrderService(pool *pgxpool.Pool) *PurchaseOrderService {
	return &PurchaseOrderService{pool: pool, uom: NewUOMResolver()}
}

type PurchaseOrderLineInput struct {
	ItemID      int
	Quantity    LineQuantityInput
	UnitCostUSD decimal.Decimal
	UnitCostLBP decimal.Decimal
}

type PurchaseOrderInput struct {
	SupplierID   int
	OrderDate    time.Time
	RateType     RateType
	ExchangeRate decimal.Decimal // zero means "look up for order_date"
	Notes        *string
	Lines        []PurchaseOrderLineInput
}

// Create drafts a purchase order. Line quantities are canonicalized through
// the UOM resolver and unit costs normalized to dual amounts at the order
// rate.
func (s *PurchaseOrderService) Create(ctx context.Context, sess Session, input PurchaseOrderInput) (*PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return nil, E(KindValidation, "purchase order requires at least one line")
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

	rate := input.ExchangeRate
	if rate.IsZero() {
		rate, err = rateForTx(ctx, tx.Tx, sess.CompanyID, input.OrderDate, input.RateType)
		if err != nil {
			return nil, err
		}
	}

	po := &PurchaseOrder{}
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (company_id, supplier_id, status, order_date, rate_type, exchange_rate, notes)
		VALUES ($1, $2, 'draft', $3, $4, $5, $6)
		RETURNING id, company_id, supplier_id, order_no, status, order_date, rate_type, exchange_rate, notes, created_at, posted_at`,
		sess.CompanyID, input.SupplierID, input.OrderDate.Format("2006-01-02"), input.RateType, rate, input.Notes,
	).Scan(&po.ID, &po.CompanyID, &po.SupplierID, &po.OrderNo, &po.Status, &po.OrderDate,
		&po.RateType, &po.ExchangeRate, &po.Notes, &po.CreatedAt, &po.PostedAt)
	if err != nil {
		return nil, fmt.Errorf("create purchase order: %w", err)
	}

	for i, in := range input.Lines {
		lq, err := s.uom.ResolveTx(ctx, tx.Tx, in.ItemID, in.Quantity)
		if err != nil {
			return nil, err
		}
		cost := NormalizeDual(in.UnitCostUSD, in.UnitCostLBP, rate)

		var line PurchaseOrderLine
		err = tx.QueryRow(ctx, `
			INSERT INTO purchase_order_lines (order_id, line_no, item_id, qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id, order_id, line_no, item_id, qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp`,
			po.ID, i+1, in.ItemID, lq.QtyBase, lq.QtyEntered, lq.UOM, lq.QtyFactor, cost.USD, cost.LBP,
		).Scan(&line.ID, &line.OrderID, &line.LineNo, &line.ItemID, &line.QtyBase, &line.QtyEntered,
			&line.UOM, &line.QtyFactor, &line.UnitCostUSD, &line.UnitCostLBP)
		if err != nil {
			return nil, fmt.Errorf("insert purchase order line %d: %w", i+1, err)
		}
		po.Lines = append(po.Lines, line)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "purchase_order.create", EntityType: "purchase_order", EntityID: po.ID,
		Details: map[string]any{"supplier_id": input.SupplierID, "lines": len(input.Lines)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order: %w", err)
	}
	return po, nil
}

// Post transitions a draft order to posted, assigning a PO- number and
// appending a purchase.ordered event. Posting an already-posted order returns
// its existing number.
func (s *PurchaseOrderService) Post(ctx context.Context, sess Session, orderID int) (*PurchaseOrder, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	po, err := lockPurchaseOrderTx(ctx, tx.Tx, sess.CompanyID, orderID)
	if err != nil {
		return nil, err
	}
	if po.Status == DocPosted {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit idempotent post: %w", err)
		}
		return po, nil
	}
	if po.Status != DocDraft {
		return nil, E(KindPrecondition, "purchase order %d is %s, expected draft", orderID, po.Status)
	}
	if err := AssertPeriodOpen(ctx, tx.Tx, sess.CompanyID, po.OrderDate); err != nil {
		return nil, err
	}
	if err := loadPurchaseOrderLinesTx(ctx, tx.Tx, po); err != nil {
		return nil, err
	}
	if len(po.Lines) == 0 {
		return nil, E(KindValidation, "purchase order %d has no lines", orderID)
	}

	orderNo := po.OrderNo
	if orderNo == nil {
		no, err := nextDocumentNoTx(ctx, tx.Tx, sess.CompanyID, "PO")
		if err != nil {
			return nil, err
		}
		orderNo = &no
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE purchase_orders SET status = 'posted', order_no = $1, posted_at = $2
		WHERE id = $3`,
		orderNo, now, po.ID,
	); err != nil {
		return nil, fmt.Errorf("post purchase order %d: %w", orderID, err)
	}
	po.Status = DocPosted
	po.OrderNo = orderNo
	po.PostedAt = &now

	if err := appendEvent(ctx, tx.Tx, sess.CompanyID, EventPurchaseOrdered, map[string]any{
		"purchase_order_id": po.ID, "order_no": *orderNo,
	}); err != nil {
		return nil, err
	}
	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "purchase_order.post", EntityType: "purchase_order", EntityID: po.ID,
		Details: map[string]any{"order_no": *orderNo},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order post: %w", err)
	}
	return po, nil
}

// Cancel voids an order. Posted orders are blocked while any non-canceled
// goods receipt references them.
func (s *PurchaseOrderService) Cancel(ctx context.Context, sess Session, orderID int) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	po, err := lockPurchaseOrderTx(ctx, tx.Tx, sess.CompanyID, orderID)
	if err != nil {
		return err
	}
	if po.Status == DocCanceled {
		return tx.Commit(ctx)
	}

	if po.Status == DocPosted {
		var n int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM goods_receipts
			WHERE purchase_order_id = $1 AND status <> 'canceled'`,
			po.ID,
		).Scan(&n); err != nil {
			return fmt.Errorf("count linked receipts: %w", err)
		}
		if n > 0 {
			return E(KindPrecondition, "purchase order %d has %d live goods receipt(s)", orderID, n)
		}
	}

	if _, err := tx.Exec(ctx,
		"UPDATE purchase_orders SET status = 'canceled' WHERE id = $1", po.ID,
	); err != nil {
		return fmt.Errorf("cancel purchase order %d: %w", orderID, err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "purchase_order.cancel", EntityType: "purchase_order", EntityID: po.ID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purchase order cancel: %w", err)
	}
	return nil
}

// Get loads an order with its lines.
func (s *PurchaseOrderService) Get(ctx context.Context, sess Session, orderID int) (*PurchaseOrder, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	po := &PurchaseOrder{}
	err = tx.QueryRow(ctx, `
		SELECT id, company_id, supplier_id, order_no, status, order_date, rate_type, exchange_rate, notes, created_at, posted_at
		FROM purchase_orders WHERE company_id = $1 AND id = $2`,
		sess.CompanyID, orderID,
	).Scan(&po.ID, &po.CompanyID, &po.SupplierID, &po.OrderNo, &po.Status, &po.OrderDate,
		&po.RateType, &po.ExchangeRate, &po.Notes, &po.CreatedAt, &po.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "purchase order %d not found", orderID)
		}
		return nil, fmt.Errorf("get purchase order %d: %w", orderID, err)
	}
	if err := loadPurchaseOrderLinesTx(ctx, tx.Tx, po); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order read: %w", err)
	}
	return po, nil
}

// lockPurchaseOrderTx selects the order FOR UPDATE, serializing lifecycle
// transitions on the same document.
func lockPurchaseOrderTx(ctx context.Context, tx pgx.Tx, companyID, orderID int) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, supplier_id, order_no, status, order_date, rate_type, exchange_rate, notes, created_at, posted_at
		FROM purchase_orders
		WHERE company_id = $1 AND id = $2
		FOR UPDATE`,
		companyID, orderID,
	).Scan(&po.ID, &po.CompanyID, &po.SupplierID, &po.OrderNo, &po.Status, &po.OrderDate,
		&po.RateType, &po.ExchangeRate, &po.Notes, &po.CreatedAt, &po.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "purchase order %d not found", orderID)
		}
		return nil, fmt.Errorf("lock purchase order %d: %w", orderID, err)
	}
	return po, nil
}

func loadPurchaseOrderLinesTx(ctx context.Context, tx pgx.Tx, po *PurchaseOrder) error {
	rows, err := tx.Query(ctx, `
		SELECT id, order_id, line_no, item_id, qty_base, qty_entered, uom, qty_factor, unit_cost_usd, unit_cost_lbp
		FROM purchase_order_lines
		WHERE order_id = $1
		ORDER BY line_no`,
		po.ID,
	)
	if err != nil {
		return fmt.Errorf("load purchase order lines: %w", err)
	}
	defer rows.Close()

	po.Lines = nil
	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.LineNo, &l.ItemID, &l.QtyBase, &l.QtyEntered,
			&l.UOM, &l.QtyFactor, &l.UnitCostUSD, &l.UnitCostLBP); err != nil {
			return fmt.Errorf("scan purchase order line: %w", err)
		}
		po.Lines = append(po.Lines, l)
	}
	return rows.Err()
}

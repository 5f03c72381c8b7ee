package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// receivedMeta is stamped on a batch the first time it is received.
// Subsequent receipts never overwrite it.
type receivedMeta struct {
	At         time.Time
	SourceType string
	SourceID   int
	SupplierID *int
}

// getOrCreateBatchTx resolves a batch for (item, batch_no, expiry_date) with
// NULL-equal semantics, creating it on miss. Tracked items must supply a
// batch number and/or an expiry; a missing expiry is derived from the item's
// default shelf life when configured.
func getOrCreateBatchTx(ctx context.Context, tx pgx.Tx, companyID int, item Item, batchNo *string, expiry *time.Time, recv *receivedMeta) (*Batch, error) {
	if item.TrackBatches && (batchNo == nil || *batchNo == "") {
		return nil, E(KindValidation, "item %s tracks batches: batch_no is required", item.SKU)
	}
	if item.TrackExpiry && expiry == nil {
		if item.DefaultShelfLifeDays != nil && *item.DefaultShelfLifeDays > 0 {
			derived := time.Now().UTC().AddDate(0, 0, *item.DefaultShelfLifeDays)
			derived = time.Date(derived.Year(), derived.Month(), derived.Day(), 0, 0, 0, 0, time.UTC)
			expiry = &derived
		} else {
			return nil, E(KindValidation, "item %s tracks expiry: expiry_date is required", item.SKU)
		}
	}
	if !item.TrackBatches && !item.TrackExpiry && batchNo == nil && expiry == nil {
		return nil, nil
	}

	b := &Batch{}
	var expiryArg any
	if expiry != nil {
		expiryArg = expiry.Format("2006-01-02")
	}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, item_id, batch_no, expiry_date, status, hold_reason,
		       received_at, received_source_type, received_source_id, received_supplier_id, created_at
		FROM batches
		WHERE item_id = $1
		  AND batch_no IS NOT DISTINCT FROM $2
		  AND expiry_date IS NOT DISTINCT FROM $3::date`,
		item.ID, batchNo, expiryArg,
	).Scan(&b.ID, &b.CompanyID, &b.ItemID, &b.BatchNo, &b.ExpiryDate, &b.Status, &b.HoldReason,
		&b.ReceivedAt, &b.ReceivedSourceType, &b.ReceivedSourceID, &b.ReceivedSupplierID, &b.CreatedAt)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lookup batch: %w", err)
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO batches (company_id, item_id, batch_no, expiry_date, status)
			VALUES ($1, $2, $3, $4::date, 'available')
			RETURNING id, company_id, item_id, batch_no, expiry_date, status, hold_reason,
			          received_at, received_source_type, received_source_id, received_supplier_id, created_at`,
			companyID, item.ID, batchNo, expiryArg,
		).Scan(&b.ID, &b.CompanyID, &b.ItemID, &b.BatchNo, &b.ExpiryDate, &b.Status, &b.HoldReason,
			&b.ReceivedAt, &b.ReceivedSourceType, &b.ReceivedSourceID, &b.ReceivedSupplierID, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("create batch: %w", err)
		}
	}

	if recv != nil && b.ReceivedAt == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE batches
			SET received_at = $1, received_source_type = $2, received_source_id = $3, received_supplier_id = $4
			WHERE id = $5 AND received_at IS NULL`,
			recv.At, recv.SourceType, recv.SourceID, recv.SupplierID, b.ID,
		); err != nil {
			return nil, fmt.Errorf("stamp batch receipt metadata: %w", err)
		}
		b.ReceivedAt = &recv.At
		b.ReceivedSourceType = &recv.SourceType
		b.ReceivedSourceID = &recv.SourceID
		b.ReceivedSupplierID = recv.SupplierID
	}

	return b, nil
}

// BatchAllocation is one slice of a FEFO allocation. A nil BatchID means an
// unbatched remainder (untracked items only).
type BatchAllocation struct {
	BatchID *int
	Qty     decimal.Decimal
}

// allocateFEFOTx allocates qty from a warehouse's batches, first expiry
// first out: expiry ascending with NULLs last, then created_at. Quarantined
// and expired batches are skipped; when the item enforces a minimum shelf
// life for sale, batches expiring inside that window are excluded. Shortfall
// handling:
//
//   - allow_negative_stock: remainder folds into the last considered batch
//   - untracked item: remainder is allocated unbatched
//   - otherwise: INSUFFICIENT_STOCK
func allocateFEFOTx(ctx context.Context, tx pgx.Tx, item Item, warehouseID int, qty decimal.Decimal) ([]BatchAllocation, error) {
	if qty.Sign() <= 0 {
		return nil, E(KindValidation, "allocation qty must be positive, got %s", qty)
	}

	var minExpiry any
	if item.MinShelfLifeDaysForSale > 0 {
		minExpiry = time.Now().UTC().AddDate(0, 0, item.MinShelfLifeDaysForSale).Format("2006-01-02")
	}

	rows, err := tx.Query(ctx, `
		SELECT b.id, COALESCE(SUM(sm.qty_in - sm.qty_out), 0) AS on_hand
		FROM batches b
		JOIN stock_moves sm ON sm.batch_id = b.id AND sm.warehouse_id = $2
		WHERE b.item_id = $1
		  AND b.status = 'available'
		  AND (b.expiry_date IS NULL OR b.expiry_date >= CURRENT_DATE)
		  AND ($3::date IS NULL OR b.expiry_date IS NULL OR b.expiry_date >= $3::date)
		GROUP BY b.id, b.expiry_date, b.created_at
		HAVING COALESCE(SUM(sm.qty_in - sm.qty_out), 0) > 0
		ORDER BY b.expiry_date ASC NULLS LAST, b.created_at ASC`,
		item.ID, warehouseID, minExpiry,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch FEFO candidates: %w", err)
	}

	type candidate struct {
		batchID int
		onHand  decimal.Decimal
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.batchID, &c.onHand); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan FEFO candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate FEFO candidates: %w", err)
	}

	var allocs []BatchAllocation
	remaining := qty
	for _, c := range candidates {
		if remaining.Sign() <= 0 {
			break
		}
		take := decimal.Min(c.onHand, remaining)
		id := c.batchID
		allocs = append(allocs, BatchAllocation{BatchID: &id, Qty: take})
		remaining = remaining.Sub(take)
	}

	if remaining.Sign() > 0 {
		switch {
		case item.AllowNegativeStock && len(allocs) > 0:
			last := &allocs[len(allocs)-1]
			last.Qty = last.Qty.Add(remaining)
		case item.AllowNegativeStock && !item.TrackBatches && !item.TrackExpiry:
			allocs = append(allocs, BatchAllocation{Qty: remaining})
		case !item.TrackBatches && !item.TrackExpiry:
			allocs = append(allocs, BatchAllocation{Qty: remaining})
		default:
			return nil, EDetails(KindInsufficientStock, map[string]any{
				"item_id": item.ID, "warehouse_id": warehouseID,
				"requested": qty.String(), "short": remaining.String(),
			}, "insufficient stock for item %s: short %s of %s", item.SKU, remaining, qty)
		}
	}

	return allocs, nil
}

// createCostLayerTx writes the per-receipt-line cost layer. Layers are
// conflict-unique on (company, source_type, source_id, source_line_id), so an
// idempotent re-post is a no-op.
func createCostLayerTx(ctx context.Context, tx pgx.Tx, companyID int, layer BatchCostLayer) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO batch_cost_layers
		       (company_id, batch_id, warehouse_id, location_id, source_type, source_id, source_line_id,
		        qty, unit_cost_usd, unit_cost_lbp,
		        landed_cost_total_usd, landed_cost_total_lbp, rebate_total_usd, rebate_total_lbp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (company_id, source_type, source_id, source_line_id) DO NOTHING`,
		companyID, layer.BatchID, layer.WarehouseID, layer.LocationID,
		layer.SourceType, layer.SourceID, layer.SourceLineID,
		layer.Qty, layer.UnitCostUSD, layer.UnitCostLBP,
		layer.LandedCostTotalUSD, layer.LandedCostTotalLBP,
		layer.RebateTotalUSD, layer.RebateTotalLBP,
	); err != nil {
		return fmt.Errorf("insert batch cost layer: %w", err)
	}
	return nil
}

// batchOnHandTx returns a batch's net quantity at a warehouse.
func batchOnHandTx(ctx context.Context, tx pgx.Tx, batchID, warehouseID int) (decimal.Decimal, error) {
	var onHand decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(qty_in - qty_out), 0)
		FROM stock_moves
		WHERE batch_id = $1 AND warehouse_id = $2`,
		batchID, warehouseID,
	).Scan(&onHand)
	if err != nil {
		return decimal.Zero, fmt.Errorf("batch on-hand: %w", err)
	}
	return onHand, nil
}

// loadItemTx fetches the item master row.
func loadItemTx(ctx context.Context, tx pgx.Tx, companyID, itemID int) (*Item, error) {
	it := &Item{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, sku, name, unit_of_measure, track_batches, track_expiry,
		       default_shelf_life_days, allow_negative_stock, min_shelf_life_days_for_sale,
		       reorder_point, reorder_qty, tax_code_id, is_active
		FROM items
		WHERE company_id = $1 AND id = $2`,
		companyID, itemID,
	).Scan(&it.ID, &it.CompanyID, &it.SKU, &it.Name, &it.UnitOfMeasure, &it.TrackBatches, &it.TrackExpiry,
		&it.DefaultShelfLifeDays, &it.AllowNegativeStock, &it.MinShelfLifeDaysForSale,
		&it.ReorderPoint, &it.ReorderQty, &it.TaxCodeID, &it.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "item %d not found", itemID)
		}
		return nil, fmt.Errorf("load item %d: %w", itemID, err)
	}
	return it, nil
}

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// StockMoveSpec describes one stock move to emit. Exactly one of QtyIn and
// QtyOut must be positive.
type StockMoveSpec struct {
	ItemID      int
	WarehouseID int
	LocationID  *int
	BatchID     *int
	QtyIn       decimal.Decimal
	QtyOut      decimal.Decimal
	UnitCost    Dual
	MoveDate    time.Time
	SourceType  string
	SourceID    *int
}

// applyStockMoveTx appends a stock move and folds it into the
// (item, warehouse) moving average. Inbound moves re-average the cost;
// outbound moves only reduce quantity.
func applyStockMoveTx(ctx context.Context, tx pgx.Tx, companyID int, spec StockMoveSpec) (*StockMove, error) {
	inPos := spec.QtyIn.Sign() > 0
	outPos := spec.QtyOut.Sign() > 0
	if spec.QtyIn.Sign() < 0 || spec.QtyOut.Sign() < 0 {
		return nil, E(KindValidation, "stock move quantities cannot be negative")
	}
	if inPos == outPos {
		// Covers both-zero and both-positive.
		return nil, E(KindValidation, "stock move must have exactly one of qty_in/qty_out positive")
	}

	m := &StockMove{}
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_moves (company_id, item_id, warehouse_id, location_id, batch_id,
		                         qty_in, qty_out, unit_cost_usd, unit_cost_lbp, move_date, source_type, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, company_id, item_id, warehouse_id, location_id, batch_id,
		          qty_in, qty_out, unit_cost_usd, unit_cost_lbp, move_date, source_type, source_id, created_at`,
		companyID, spec.ItemID, spec.WarehouseID, spec.LocationID, spec.BatchID,
		spec.QtyIn, spec.QtyOut, spec.UnitCost.USD, spec.UnitCost.LBP,
		spec.MoveDate.Format("2006-01-02"), spec.SourceType, spec.SourceID,
	).Scan(&m.ID, &m.CompanyID, &m.ItemID, &m.WarehouseID, &m.LocationID, &m.BatchID,
		&m.QtyIn, &m.QtyOut, &m.UnitCostUSD, &m.UnitCostLBP, &m.MoveDate, &m.SourceType, &m.SourceID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert stock move: %w", err)
	}

	if err := updateMovingAverageTx(ctx, tx, companyID, spec); err != nil {
		return nil, err
	}
	return m, nil
}

// updateMovingAverageTx locks the (item, warehouse) cost row and applies the
// standard moving-average formula for inbound quantity.
func updateMovingAverageTx(ctx context.Context, tx pgx.Tx, companyID int, spec StockMoveSpec) error {
	var onHand, avgUSD, avgLBP decimal.Decimal
	err := tx.QueryRow(ctx, `
		INSERT INTO item_warehouse_costs (company_id, item_id, warehouse_id, on_hand_qty, avg_cost_usd, avg_cost_lbp)
		VALUES ($1, $2, $3, 0, 0, 0)
		ON CONFLICT (company_id, item_id, warehouse_id) DO UPDATE SET updated_at = NOW()
		RETURNING on_hand_qty, avg_cost_usd, avg_cost_lbp`,
		companyID, spec.ItemID, spec.WarehouseID,
	).Scan(&onHand, &avgUSD, &avgLBP)
	if err != nil {
		return fmt.Errorf("lock item warehouse cost: %w", err)
	}

	newQty := onHand.Add(spec.QtyIn).Sub(spec.QtyOut)
	newAvgUSD, newAvgLBP := avgUSD, avgLBP
	if spec.QtyIn.Sign() > 0 {
		if newQty.Sign() <= 0 {
			newAvgUSD = spec.UnitCost.USD
			newAvgLBP = spec.UnitCost.LBP
		} else {
			newAvgUSD = QUSD(onHand.Mul(avgUSD).Add(spec.QtyIn.Mul(spec.UnitCost.USD)).Div(newQty))
			newAvgLBP = QLBP(onHand.Mul(avgLBP).Add(spec.QtyIn.Mul(spec.UnitCost.LBP)).Div(newQty))
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE item_warehouse_costs
		SET on_hand_qty = $1, avg_cost_usd = $2, avg_cost_lbp = $3, updated_at = NOW()
		WHERE company_id = $4 AND item_id = $5 AND warehouse_id = $6`,
		newQty, newAvgUSD, newAvgLBP, companyID, spec.ItemID, spec.WarehouseID,
	); err != nil {
		return fmt.Errorf("update moving average: %w", err)
	}
	return nil
}

// itemWarehouseCostTx reads the current moving-average state.
func itemWarehouseCostTx(ctx context.Context, tx pgx.Tx, companyID, itemID, warehouseID int) (*ItemWarehouseCost, error) {
	c := &ItemWarehouseCost{ItemID: itemID, WarehouseID: warehouseID}
	err := tx.QueryRow(ctx, `
		SELECT on_hand_qty, avg_cost_usd, avg_cost_lbp
		FROM item_warehouse_costs
		WHERE company_id = $1 AND item_id = $2 AND warehouse_id = $3`,
		companyID, itemID, warehouseID,
	).Scan(&c.OnHandQty, &c.AvgCostUSD, &c.AvgCostLBP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Missing row means no stock has ever moved: zero state.
			c.OnHandQty = decimal.Zero
			c.AvgCostUSD = decimal.Zero
			c.AvgCostLBP = decimal.Zero
			return c, nil
		}
		return nil, fmt.Errorf("load item warehouse cost: %w", err)
	}
	return c, nil
}

// applyAvgCostAdjustmentTx subtracts a monetary delta from the moving average
// (flooring at zero) and records the exact applied delta in the
// inventory_cost_adjustments ledger so a cancel can add it back precisely.
func applyAvgCostAdjustmentTx(ctx context.Context, tx pgx.Tx, companyID, itemID, warehouseID int,
	deltaUSD, deltaLBP decimal.Decimal, sourceType string, sourceID int) error {

	var onHand, avgUSD, avgLBP decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT on_hand_qty, avg_cost_usd, avg_cost_lbp
		FROM item_warehouse_costs
		WHERE company_id = $1 AND item_id = $2 AND warehouse_id = $3
		FOR UPDATE`,
		companyID, itemID, warehouseID,
	).Scan(&onHand, &avgUSD, &avgLBP)
	if err != nil {
		return fmt.Errorf("lock cost row for adjustment: %w", err)
	}

	appliedUSD := decimal.Min(deltaUSD, avgUSD)
	appliedLBP := decimal.Min(deltaLBP, avgLBP)
	if _, err := tx.Exec(ctx, `
		UPDATE item_warehouse_costs
		SET avg_cost_usd = avg_cost_usd - $1, avg_cost_lbp = avg_cost_lbp - $2, updated_at = NOW()
		WHERE company_id = $3 AND item_id = $4 AND warehouse_id = $5`,
		appliedUSD, appliedLBP, companyID, itemID, warehouseID,
	); err != nil {
		return fmt.Errorf("apply avg cost adjustment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO inventory_cost_adjustments (company_id, item_id, warehouse_id, delta_usd, delta_lbp, source_type, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		companyID, itemID, warehouseID, appliedUSD, appliedLBP, sourceType, sourceID,
	); err != nil {
		return fmt.Errorf("record cost adjustment: %w", err)
	}
	return nil
}

// reverseAvgCostAdjustmentsTx adds back every adjustment recorded for
// (source_type, source_id) and deletes the ledger rows.
func reverseAvgCostAdjustmentsTx(ctx context.Context, tx pgx.Tx, companyID int, sourceType string, sourceID int) error {
	rows, err := tx.Query(ctx, `
		SELECT item_id, warehouse_id, delta_usd, delta_lbp
		FROM inventory_cost_adjustments
		WHERE company_id = $1 AND source_type = $2 AND source_id = $3`,
		companyID, sourceType, sourceID,
	)
	if err != nil {
		return fmt.Errorf("fetch cost adjustments: %w", err)
	}
	type adj struct {
		itemID, warehouseID int
		usd, lbp            decimal.Decimal
	}
	var adjs []adj
	for rows.Next() {
		var a adj
		if err := rows.Scan(&a.itemID, &a.warehouseID, &a.usd, &a.lbp); err != nil {
			rows.Close()
			return fmt.Errorf("scan cost adjustment: %w", err)
		}
		adjs = append(adjs, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cost adjustments: %w", err)
	}

	for _, a := range adjs {
		if _, err := tx.Exec(ctx, `
			UPDATE item_warehouse_costs
			SET avg_cost_usd = avg_cost_usd + $1, avg_cost_lbp = avg_cost_lbp + $2, updated_at = NOW()
			WHERE company_id = $3 AND item_id = $4 AND warehouse_id = $5`,
			a.usd, a.lbp, companyID, a.itemID, a.warehouseID,
		); err != nil {
			return fmt.Errorf("restore avg cost: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM inventory_cost_adjustments
		WHERE company_id = $1 AND source_type = $2 AND source_id = $3`,
		companyID, sourceType, sourceID,
	); err != nil {
		return fmt.Errorf("clear cost adjustments: %w", err)
	}
	return nil
}

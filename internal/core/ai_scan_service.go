package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ScanReorderPoints raises one AI_PURCHASE recommendation per item whose
// total on-hand has fallen to or below its reorder point. Items that already
// carry an open reorder recommendation are skipped so the review queue does
// not fill with duplicates.
func (s *AiService) ScanReorderPoints(ctx context.Context, sess Session) (int, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT i.id, i.sku, i.name, i.reorder_point, i.reorder_qty,
		       COALESCE(SUM(c.on_hand_qty), 0) AS on_hand,
		       sup.supplier_id, sup.last_cost_usd, sup.last_cost_lbp
		FROM items i
		LEFT JOIN item_warehouse_costs c
		       ON c.company_id = i.company_id AND c.item_id = i.id
		LEFT JOIN LATERAL (
			SELECT supplier_id, last_cost_usd, last_cost_lbp
			FROM item_suppliers
			WHERE company_id = i.company_id AND item_id = i.id
			ORDER BY last_purchased_at DESC NULLS LAST
			LIMIT 1
		) sup ON TRUE
		WHERE i.company_id = $1
		  AND i.is_active
		  AND i.reorder_point IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM ai_recommendations r
			WHERE r.company_id = i.company_id
			  AND r.agent_code = $2
			  AND r.kind = 'reorder'
			  AND r.status = 'open'
			  AND r.entity_type = 'item'
			  AND r.entity_id = i.id
		  )
		GROUP BY i.id, i.sku, i.name, i.reorder_point, i.reorder_qty,
		         sup.supplier_id, sup.last_cost_usd, sup.last_cost_lbp
		HAVING COALESCE(SUM(c.on_hand_qty), 0) <= i.reorder_point`,
		sess.CompanyID, AgentPurchase,
	)
	if err != nil {
		return 0, fmt.Errorf("scan reorder points: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		itemID       int
		sku, name    string
		reorderPoint decimal.Decimal
		reorderQty   *decimal.Decimal
		onHand       decimal.Decimal
		supplierID   *int
		costUSD      *decimal.Decimal
		costLBP      *decimal.Decimal
	}
	var found []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.itemID, &c.sku, &c.name, &c.reorderPoint, &c.reorderQty,
			&c.onHand, &c.supplierID, &c.costUSD, &c.costLBP); err != nil {
			return 0, fmt.Errorf("scan reorder candidate: %w", err)
		}
		found = append(found, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	created := 0
	for _, c := range found {
		qty := c.reorderPoint.Sub(c.onHand)
		if c.reorderQty != nil && c.reorderQty.GreaterThan(qty) {
			qty = *c.reorderQty
		}
		if !qty.IsPositive() {
			continue
		}

		payload := map[string]any{
			"kind":      "reorder",
			"severity":  "medium",
			"summary":   fmt.Sprintf("On hand %s is at or below reorder point %s", c.onHand, c.reorderPoint),
			"next_step": "Approve to draft a purchase order",
			"item":      map[string]any{"id": c.itemID, "sku": c.sku, "name": c.name},
		}
		var amountUSD decimal.Decimal
		if c.supplierID != nil {
			costUSD, costLBP := decimal.Zero, decimal.Zero
			if c.costUSD != nil {
				costUSD = *c.costUSD
			}
			if c.costLBP != nil {
				costLBP = *c.costLBP
			}
			amountUSD = QUSD(qty.Mul(costUSD))
			payload["supplier_id"] = *c.supplierID
			payload["lines"] = []map[string]any{{
				"item_id":       c.itemID,
				"qty":           qty,
				"unit_cost_usd": costUSD,
				"unit_cost_lbp": costLBP,
			}}
			payload["amount_usd"] = amountUSD
		} else {
			payload["next_step"] = "Assign a supplier to this item, then reorder"
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return created, fmt.Errorf("marshal reorder payload: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ai_recommendations (company_id, agent_code, kind, status, recommendation_json, entity_type, entity_id)
			VALUES ($1, $2, 'reorder', 'open', $3, 'item', $4)`,
			sess.CompanyID, AgentPurchase, body, c.itemID,
		); err != nil {
			return created, fmt.Errorf("insert reorder recommendation: %w", err)
		}
		created++
	}

	if err := tx.Commit(ctx); err != nil {
		return created, fmt.Errorf("commit reorder scan: %w", err)
	}
	return created, nil
}

// RollupItemSales aggregates one day of outbound sale movements into
// ai_item_sales_daily, the series the demand agent reads. Re-running a day
// replaces it, so late-posted documents are picked up on the next run.
func (s *AiService) RollupItemSales(ctx context.Context, sess Session, day time.Time) (int, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	d := day.UTC().Truncate(24 * time.Hour)
	tag, err := tx.Exec(ctx, `
		INSERT INTO ai_item_sales_daily (company_id, item_id, sale_date, qty_sold, cost_usd, cost_lbp)
		SELECT m.company_id, m.item_id, m.move_date,
		       SUM(m.qty_out),
		       SUM(m.qty_out * m.unit_cost_usd),
		       SUM(m.qty_out * m.unit_cost_lbp)
		FROM stock_moves m
		WHERE m.company_id = $1
		  AND m.move_date = $2
		  AND m.qty_out > 0
		  AND m.source_type IN ('sale', 'pos_sale')
		GROUP BY m.company_id, m.item_id, m.move_date
		ON CONFLICT (company_id, item_id, sale_date) DO UPDATE SET
			qty_sold = EXCLUDED.qty_sold,
			cost_usd = EXCLUDED.cost_usd,
			cost_lbp = EXCLUDED.cost_lbp`,
		sess.CompanyID, d,
	)
	if err != nil {
		return 0, fmt.Errorf("rollup item sales for %s: %w", d.Format("2006-01-02"), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit sales rollup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

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
	"go.uber.org/zap"
)

// AiExecutor drains queued actions and performs their agent-specific side
// effect. Guardrails run under the same transaction that claims the action,
// so a daily cap cannot be overrun by concurrent workers.
type AiExecutor struct {
	pool      *pgxpool.Pool
	purchases *PurchaseOrderService
	log       *zap.Logger
}

func NewAiExecutor(pool *pgxpool.Pool, purchases *PurchaseOrderService, log *zap.Logger) *AiExecutor {
	return &AiExecutor{pool: pool, purchases: purchases, log: log}
}

// RunQueued executes up to limit queued actions for a company. Each action
// runs in its own transaction; one failure does not stop the batch.
func (e *AiExecutor) RunQueued(ctx context.Context, sess Session, limit int) (int, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := e.queuedActionIDs(ctx, sess, limit)
	if err != nil {
		return 0, err
	}
	executed := 0
	for _, id := range ids {
		if err := e.ExecuteAction(ctx, sess, id); err != nil {
			e.log.Warn("ai action failed",
				zap.Int("action_id", id),
				zap.Int("company_id", sess.CompanyID),
				zap.Error(err))
			continue
		}
		executed++
	}
	return executed, nil
}

func (e *AiExecutor) queuedActionIDs(ctx context.Context, sess Session, limit int) ([]int, error) {
	tx, err := BeginTenantTx(ctx, e.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM ai_actions
		WHERE company_id = $1 AND status = 'queued'
		ORDER BY created_at
		LIMIT $2`,
		sess.CompanyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list queued actions: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan action id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExecuteAction claims one queued action, applies the guardrails, and runs
// the side effect. Blocked and failed outcomes are committed states, not
// errors to the caller; the returned error covers infrastructure failures
// and the side effect itself.
func (e *AiExecutor) ExecuteAction(ctx context.Context, sess Session, actionID int) error {
	tx, err := BeginTenantTx(ctx, e.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	act, err := lockActionTx(ctx, tx.Tx, sess.CompanyID, actionID)
	if err != nil {
		return err
	}
	if act.Status != ActionQueued {
		return E(KindPrecondition, "action %d is %s, not queued", actionID, act.Status)
	}

	cfg, err := agentSettingsTx(ctx, tx.Tx, sess.CompanyID, act.AgentCode)
	if err != nil {
		return err
	}
	if reason := guardrailBlock(ctx, tx.Tx, sess.CompanyID, act, cfg); reason != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE ai_actions SET status = 'blocked', error_message = $1, updated_at = NOW()
			WHERE id = $2`,
			reason, act.ID,
		); err != nil {
			return fmt.Errorf("block action %d: %w", actionID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit block: %w", err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ai_actions SET status = 'executing', attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $1`,
		act.ID,
	); err != nil {
		return fmt.Errorf("claim action %d: %w", actionID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}

	entityType, entityID, execErr := e.perform(ctx, sess, act)
	if execErr != nil {
		if err := e.markOutcome(ctx, sess, act.ID, ActionFailed, execErr.Error(), nil, nil); err != nil {
			return err
		}
		return execErr
	}
	return e.markOutcome(ctx, sess, act.ID, ActionExecuted, "", entityType, entityID)
}

// guardrailBlock returns a non-empty reason when the action must not run.
// A zero cap means unlimited.
func guardrailBlock(ctx context.Context, tx pgx.Tx, companyID int, act *AiAction, cfg AiAgentSettings) string {
	if cfg.MaxActionsPerDay > 0 {
		var today int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM ai_actions
			WHERE company_id = $1 AND agent_code = $2 AND status = 'executed'
			  AND updated_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')`,
			companyID, act.AgentCode,
		).Scan(&today)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Sprintf("daily cap check failed: %v", err)
		}
		if today >= cfg.MaxActionsPerDay {
			return fmt.Sprintf("daily cap reached: %d action(s) already executed today (max %d)", today, cfg.MaxActionsPerDay)
		}
	}
	if cfg.MaxAmountUSD.IsPositive() && act.AmountUSD.GreaterThan(cfg.MaxAmountUSD) {
		return fmt.Sprintf("amount %s USD exceeds agent limit %s USD", act.AmountUSD, cfg.MaxAmountUSD)
	}
	return ""
}

func (e *AiExecutor) markOutcome(ctx context.Context, sess Session, actionID int, status ActionStatus, errMsg string, entityType *string, entityID *int) error {
	tx, err := BeginTenantTx(ctx, e.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	if _, err := tx.Exec(ctx, `
		UPDATE ai_actions
		SET status = $1, error_message = $2, result_entity_type = $3, result_entity_id = $4, updated_at = NOW()
		WHERE company_id = $5 AND id = $6`,
		status, msg, entityType, entityID, sess.CompanyID, actionID,
	); err != nil {
		return fmt.Errorf("record action outcome: %w", err)
	}
	if status == ActionExecuted {
		if _, err := tx.Exec(ctx, `
			UPDATE ai_recommendations SET status = 'executed'
			WHERE company_id = $1
			  AND id = (SELECT recommendation_id FROM ai_actions WHERE id = $2)`,
			sess.CompanyID, actionID,
		); err != nil {
			return fmt.Errorf("mark recommendation executed: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit action outcome: %w", err)
	}
	return nil
}

// purchasePayload is the shape the purchase agent emits for a reorder.
type purchasePayload struct {
	SupplierID int `json:"supplier_id"`
	Lines      []struct {
		ItemID      int             `json:"item_id"`
		Qty         decimal.Decimal `json:"qty"`
		UnitCostUSD decimal.Decimal `json:"unit_cost_usd"`
		UnitCostLBP decimal.Decimal `json:"unit_cost_lbp"`
	} `json:"lines"`
}

func (e *AiExecutor) perform(ctx context.Context, sess Session, act *AiAction) (*string, *int, error) {
	switch act.AgentCode {
	case AgentPurchase:
		return e.performPurchase(ctx, sess, act)
	case AgentDemand, AgentPricing:
		// Review-assist agents have no side effect beyond the status change.
		return nil, nil, nil
	}
	return nil, nil, E(KindPrecondition, "agent %s has no executor", act.AgentCode)
}

// performPurchase drafts a purchase order from the action payload. The draft
// stays unposted so a buyer still reviews it before it becomes a commitment.
func (e *AiExecutor) performPurchase(ctx context.Context, sess Session, act *AiAction) (*string, *int, error) {
	var p purchasePayload
	if err := json.Unmarshal(act.PayloadJSON, &p); err != nil {
		return nil, nil, E(KindValidation, "purchase payload unreadable: %v", err)
	}
	if p.SupplierID <= 0 || len(p.Lines) == 0 {
		return nil, nil, E(KindValidation, "purchase payload needs a supplier and at least one line")
	}

	input := PurchaseOrderInput{
		SupplierID: p.SupplierID,
		OrderDate:  time.Now().UTC(),
		RateType:   RateMarket,
	}
	for _, l := range p.Lines {
		if !l.Qty.IsPositive() {
			return nil, nil, E(KindValidation, "purchase payload line for item %d has non-positive qty", l.ItemID)
		}
		input.Lines = append(input.Lines, PurchaseOrderLineInput{
			ItemID:      l.ItemID,
			Quantity:    LineQuantityInput{QtyBase: l.Qty},
			UnitCostUSD: l.UnitCostUSD,
			UnitCostLBP: l.UnitCostLBP,
		})
	}

	po, err := e.purchases.Create(ctx, sess, input)
	if err != nil {
		return nil, nil, err
	}
	entityType := "purchase_order"
	return &entityType, &po.ID, nil
}

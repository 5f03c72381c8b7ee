package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"erp-core/internal/core"
)

func seedRecommendation(t *testing.T, pool *pgxpool.Pool, companyID int, agent, payload string) int {
	t.Helper()
	var id int
	err := pool.QueryRow(context.Background(), `
		INSERT INTO ai_recommendations (company_id, agent_code, kind, status, recommendation_json)
		VALUES ($1, $2, 'reorder', 'open', $3)
		RETURNING id`,
		companyID, agent, payload,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed recommendation: %v", err)
	}
	return id
}

func actionFor(t *testing.T, pool *pgxpool.Pool, companyID, recID int) *core.AiAction {
	t.Helper()
	act := &core.AiAction{}
	err := pool.QueryRow(context.Background(), `
		SELECT id, status, amount_usd, attempt_count, error_message, result_entity_type, result_entity_id
		FROM ai_actions WHERE company_id = $1 AND recommendation_id = $2`,
		companyID, recID,
	).Scan(&act.ID, &act.Status, &act.AmountUSD, &act.AttemptCount,
		&act.ErrorMessage, &act.ResultEntityType, &act.ResultEntityID)
	if err != nil {
		t.Fatalf("load action for recommendation %d: %v", recID, err)
	}
	return act
}

func TestDecide_ApproveQueuesExecutableAgent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	ai := core.NewAiService(pool)
	payload := fmt.Sprintf(`{"supplier_id": %d, "amount_usd": 120.50, "lines": [{"item_id": %d, "qty": 30, "unit_cost_usd": 4}]}`,
		f.SupplierID, f.PlainItemID)
	recID := seedRecommendation(t, pool, f.CompanyID, core.AgentPurchase, payload)

	rec, err := ai.Decide(ctx, sess, core.DecideRequest{
		RecommendationID: recID,
		Status:           core.RecommendationApproved,
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if rec.Status != core.RecommendationApproved {
		t.Fatalf("recommendation status = %s, want approved", rec.Status)
	}

	// auto_execute defaults off, so the action waits for an explicit queue.
	act := actionFor(t, pool, f.CompanyID, recID)
	if act.Status != core.ActionApproved {
		t.Fatalf("action status = %s, want approved", act.Status)
	}
	if !act.AmountUSD.Equal(dec("120.5")) {
		t.Errorf("action amount = %s, want 120.5", act.AmountUSD)
	}

	if err := ai.Queue(ctx, sess, act.ID); err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if got := actionFor(t, pool, f.CompanyID, recID); got.Status != core.ActionQueued {
		t.Fatalf("action status = %s, want queued", got.Status)
	}
}

func TestDecide_ReviewOnlyAgentGetsNoAction(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	ai := core.NewAiService(pool)
	recID := seedRecommendation(t, pool, f.CompanyID, "AI_INSIGHT", `{"summary": "slow mover"}`)

	if _, err := ai.Decide(ctx, sess, core.DecideRequest{
		RecommendationID: recID,
		Status:           core.RecommendationApproved,
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	var actions int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM ai_actions WHERE recommendation_id = $1", recID,
	).Scan(&actions); err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if actions != 0 {
		t.Fatalf("review-only agent created %d action(s)", actions)
	}
}

func TestExecutor_AmountGuardrailBlocks(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	ai := core.NewAiService(pool)
	if err := ai.SaveAgentSettings(ctx, sess, core.AiAgentSettings{
		AgentCode: core.AgentPurchase, MaxActionsPerDay: 10, MaxAmountUSD: dec("50"),
	}); err != nil {
		t.Fatalf("SaveAgentSettings: %v", err)
	}

	payload := fmt.Sprintf(`{"supplier_id": %d, "amount_usd": 120.50, "lines": [{"item_id": %d, "qty": 30, "unit_cost_usd": 4}]}`,
		f.SupplierID, f.PlainItemID)
	recID := seedRecommendation(t, pool, f.CompanyID, core.AgentPurchase, payload)
	if _, err := ai.Decide(ctx, sess, core.DecideRequest{
		RecommendationID: recID, Status: core.RecommendationApproved,
	}); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	act := actionFor(t, pool, f.CompanyID, recID)
	if err := ai.Queue(ctx, sess, act.ID); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	exec := core.NewAiExecutor(pool, core.NewPurchaseOrderService(pool), zap.NewNop())
	if err := exec.ExecuteAction(ctx, sess, act.ID); err != nil {
		t.Fatalf("ExecuteAction (blocked is not an error): %v", err)
	}

	blocked := actionFor(t, pool, f.CompanyID, recID)
	if blocked.Status != core.ActionBlocked {
		t.Fatalf("action status = %s, want blocked", blocked.Status)
	}
	if blocked.ErrorMessage == nil {
		t.Fatal("blocked action carries no reason")
	}

	// Raising the cap and requeueing lets the action run for real: it
	// drafts a purchase order and marks both sides executed.
	if err := ai.SaveAgentSettings(ctx, sess, core.AiAgentSettings{
		AgentCode: core.AgentPurchase, MaxActionsPerDay: 10,
	}); err != nil {
		t.Fatalf("lift cap: %v", err)
	}
	if err := ai.Requeue(ctx, sess, act.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if err := exec.ExecuteAction(ctx, sess, act.ID); err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}

	done := actionFor(t, pool, f.CompanyID, recID)
	if done.Status != core.ActionExecuted {
		t.Fatalf("action status = %s, want executed", done.Status)
	}
	if done.ResultEntityType == nil || *done.ResultEntityType != "purchase_order" || done.ResultEntityID == nil {
		t.Fatal("executed action has no purchase order result")
	}
	var poStatus string
	if err := pool.QueryRow(ctx,
		"SELECT status FROM purchase_orders WHERE id = $1", *done.ResultEntityID,
	).Scan(&poStatus); err != nil {
		t.Fatalf("load drafted PO: %v", err)
	}
	if poStatus != "draft" {
		t.Errorf("agent-drafted PO status = %s, want draft (buyer still reviews)", poStatus)
	}

	var recStatus string
	if err := pool.QueryRow(ctx,
		"SELECT status FROM ai_recommendations WHERE id = $1", recID,
	).Scan(&recStatus); err != nil {
		t.Fatalf("load recommendation: %v", err)
	}
	if recStatus != "executed" {
		t.Errorf("recommendation status = %s, want executed", recStatus)
	}
}

func TestScanReorderPoints_EmitsRecommendation(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	// Item below its reorder point with a known supplier cost.
	if _, err := pool.Exec(ctx,
		"UPDATE items SET reorder_point = 20, reorder_qty = 50 WHERE id = $1", f.PlainItemID,
	); err != nil {
		t.Fatalf("set reorder point: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO item_suppliers (company_id, item_id, supplier_id, last_cost_usd, last_cost_lbp, last_purchased_at)
		VALUES ($1, $2, $3, 4, 358000, NOW())`,
		f.CompanyID, f.PlainItemID, f.SupplierID,
	); err != nil {
		t.Fatalf("seed item supplier: %v", err)
	}

	ai := core.NewAiService(pool)
	created, err := ai.ScanReorderPoints(ctx, sess)
	if err != nil {
		t.Fatalf("ScanReorderPoints: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 recommendation, got %d", created)
	}

	// A second scan does not duplicate the open recommendation.
	created, err = ai.ScanReorderPoints(ctx, sess)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected 0 on rescan, got %d", created)
	}
}

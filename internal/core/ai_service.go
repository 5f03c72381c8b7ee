package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AiService records recommendation decisions and drives the action state
// machine up to (but not including) execution, which belongs to the executor.
type AiService struct {
	pool *pgxpool.Pool
}

func NewAiService(pool *pgxpool.Pool) *AiService {
	return &AiService{pool: pool}
}

type DecideRequest struct {
	RecommendationID int
	Status           RecommendationStatus // approved, rejected, or executed
	Reason           *string
	Notes            *string
}

// Decide records a human decision on a recommendation. Approvals on an
// executable agent upsert the matching action; rejections cancel any related
// actions; executed marks both sides done.
func (s *AiService) Decide(ctx context.Context, sess Session, req DecideRequest) (*AiRecommendation, error) {
	switch req.Status {
	case RecommendationApproved, RecommendationRejected, RecommendationExecuted:
	default:
		return nil, E(KindValidation, "unknown decision %q", req.Status)
	}

	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rec, err := lockRecommendationTx(ctx, tx.Tx, sess.CompanyID, req.RecommendationID)
	if err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == nil {
		reason = req.Notes
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE ai_recommendations SET status = $1, decision_reason = $2, decided_at = $3
		WHERE id = $4`,
		req.Status, reason, now, rec.ID,
	); err != nil {
		return nil, fmt.Errorf("record decision: %w", err)
	}
	rec.Status = req.Status
	rec.DecisionReason = reason
	rec.DecidedAt = &now

	switch req.Status {
	case RecommendationApproved:
		if IsExecutableAgent(rec.AgentCode) {
			if err := upsertActionTx(ctx, tx.Tx, sess.CompanyID, rec); err != nil {
				return nil, err
			}
		}
	case RecommendationExecuted:
		if _, err := tx.Exec(ctx, `
			UPDATE ai_actions SET status = 'executed', updated_at = NOW()
			WHERE company_id = $1 AND recommendation_id = $2 AND status NOT IN ('executed', 'canceled')`,
			sess.CompanyID, rec.ID,
		); err != nil {
			return nil, fmt.Errorf("mark actions executed: %w", err)
		}
	case RecommendationRejected:
		msg := ""
		if reason != nil {
			msg = *reason
		}
		if _, err := tx.Exec(ctx, `
			UPDATE ai_actions SET status = 'canceled', error_message = $3, updated_at = NOW()
			WHERE company_id = $1 AND recommendation_id = $2 AND status NOT IN ('executed', 'canceled')`,
			sess.CompanyID, rec.ID, msg,
		); err != nil {
			return nil, fmt.Errorf("cancel actions: %w", err)
		}
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "ai.decide", EntityType: "ai_recommendation", EntityID: rec.ID,
		Details: map[string]any{"status": string(req.Status)},
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}
	return rec, nil
}

// upsertActionTx creates or refreshes the action for a recommendation. The
// unique key on (company, recommendation) collapses concurrent approvals; a
// previously failed/blocked/canceled action gets its transient state cleared.
func upsertActionTx(ctx context.Context, tx pgx.Tx, companyID int, rec *AiRecommendation) error {
	auto, err := agentSettingsTx(ctx, tx, companyID, rec.AgentCode)
	if err != nil {
		return err
	}
	status := ActionApproved
	if auto.AutoExecute {
		status = ActionQueued
	}

	amount := extractAmountUSD(rec.RecommendationJSON)
	if _, err := tx.Exec(ctx, `
		INSERT INTO ai_actions (company_id, recommendation_id, agent_code, status, payload_json, amount_usd)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (company_id, recommendation_id) DO UPDATE SET
			payload_json = EXCLUDED.payload_json,
			amount_usd = EXCLUDED.amount_usd,
			status = CASE WHEN ai_actions.status IN ('failed', 'blocked', 'canceled')
			              THEN EXCLUDED.status ELSE ai_actions.status END,
			error_message = CASE WHEN ai_actions.status IN ('failed', 'blocked', 'canceled')
			                     THEN NULL ELSE ai_actions.error_message END,
			attempt_count = CASE WHEN ai_actions.status IN ('failed', 'blocked', 'canceled')
			                     THEN 0 ELSE ai_actions.attempt_count END,
			updated_at = NOW()`,
		companyID, rec.ID, rec.AgentCode, status, rec.RecommendationJSON, amount,
	); err != nil {
		return fmt.Errorf("upsert ai action: %w", err)
	}
	return nil
}

// Queue moves an approved action to queued.
func (s *AiService) Queue(ctx context.Context, sess Session, actionID int) error {
	return s.transition(ctx, sess, actionID, []ActionStatus{ActionApproved}, ActionQueued)
}

// Cancel stops a queued or approved action.
func (s *AiService) Cancel(ctx context.Context, sess Session, actionID int) error {
	return s.transition(ctx, sess, actionID, []ActionStatus{ActionApproved, ActionQueued}, ActionCanceled)
}

// Requeue retries a failed, canceled, or blocked action.
func (s *AiService) Requeue(ctx context.Context, sess Session, actionID int) error {
	return s.transition(ctx, sess, actionID, []ActionStatus{ActionFailed, ActionCanceled, ActionBlocked}, ActionQueued)
}

func (s *AiService) transition(ctx context.Context, sess Session, actionID int, from []ActionStatus, to ActionStatus) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	act, err := lockActionTx(ctx, tx.Tx, sess.CompanyID, actionID)
	if err != nil {
		return err
	}
	if !IsExecutableAgent(act.AgentCode) {
		return E(KindPrecondition, "agent %s is review-only", act.AgentCode)
	}
	allowed := false
	for _, f := range from {
		if act.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return E(KindPrecondition, "action %d is %s, cannot move to %s", actionID, act.Status, to)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ai_actions SET status = $1, error_message = NULL, updated_at = NOW()
		WHERE id = $2`,
		to, act.ID,
	); err != nil {
		return fmt.Errorf("transition action %d: %w", actionID, err)
	}

	if err := writeAudit(ctx, tx.Tx, AuditEntry{
		CompanyID: sess.CompanyID, UserID: sess.UserID,
		Action: "ai.action_" + string(to), EntityType: "ai_action", EntityID: act.ID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit action transition: %w", err)
	}
	return nil
}

// SaveAgentSettings upserts an agent's execution policy.
func (s *AiService) SaveAgentSettings(ctx context.Context, sess Session, cfg AiAgentSettings) error {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO ai_agent_settings (company_id, agent_code, auto_execute, max_actions_per_day, max_amount_usd)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, agent_code) DO UPDATE SET
			auto_execute = EXCLUDED.auto_execute,
			max_actions_per_day = EXCLUDED.max_actions_per_day,
			max_amount_usd = EXCLUDED.max_amount_usd`,
		sess.CompanyID, cfg.AgentCode, cfg.AutoExecute, cfg.MaxActionsPerDay, cfg.MaxAmountUSD,
	); err != nil {
		return fmt.Errorf("save agent settings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit agent settings: %w", err)
	}
	return nil
}

func agentSettingsTx(ctx context.Context, tx pgx.Tx, companyID int, agentCode string) (AiAgentSettings, error) {
	cfg := AiAgentSettings{AgentCode: agentCode}
	err := tx.QueryRow(ctx, `
		SELECT auto_execute, max_actions_per_day, max_amount_usd
		FROM ai_agent_settings
		WHERE company_id = $1 AND agent_code = $2`,
		companyID, agentCode,
	).Scan(&cfg.AutoExecute, &cfg.MaxActionsPerDay, &cfg.MaxAmountUSD)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return cfg, fmt.Errorf("load agent settings: %w", err)
	}
	return cfg, nil
}

func lockRecommendationTx(ctx context.Context, tx pgx.Tx, companyID, recID int) (*AiRecommendation, error) {
	rec := &AiRecommendation{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, agent_code, kind, status, recommendation_json,
		       entity_type, entity_id, decision_reason, decided_at, created_at
		FROM ai_recommendations
		WHERE company_id = $1 AND id = $2
		FOR UPDATE`,
		companyID, recID,
	).Scan(&rec.ID, &rec.CompanyID, &rec.AgentCode, &rec.Kind, &rec.Status, &rec.RecommendationJSON,
		&rec.EntityType, &rec.EntityID, &rec.DecisionReason, &rec.DecidedAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "recommendation %d not found", recID)
		}
		return nil, fmt.Errorf("lock recommendation %d: %w", recID, err)
	}
	return rec, nil
}

func lockActionTx(ctx context.Context, tx pgx.Tx, companyID, actionID int) (*AiAction, error) {
	act := &AiAction{}
	err := tx.QueryRow(ctx, `
		SELECT id, company_id, recommendation_id, agent_code, status, payload_json, amount_usd,
		       attempt_count, error_message, result_entity_type, result_entity_id, created_at, updated_at
		FROM ai_actions
		WHERE company_id = $1 AND id = $2
		FOR UPDATE`,
		companyID, actionID,
	).Scan(&act.ID, &act.CompanyID, &act.RecommendationID, &act.AgentCode, &act.Status, &act.PayloadJSON,
		&act.AmountUSD, &act.AttemptCount, &act.ErrorMessage, &act.ResultEntityType, &act.ResultEntityID,
		&act.CreatedAt, &act.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, E(KindNotFound, "ai action %d not found", actionID)
		}
		return nil, fmt.Errorf("lock ai action %d: %w", actionID, err)
	}
	return act, nil
}

// extractAmountUSD pulls the dollar value out of a recommendation payload
// when present. Unparseable payloads value at zero.
func extractAmountUSD(raw json.RawMessage) string {
	var probe struct {
		AmountUSD json.Number `json:"amount_usd"`
		TotalUSD  json.Number `json:"total_usd"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "0"
	}
	if probe.AmountUSD != "" {
		return probe.AmountUSD.String()
	}
	if probe.TotalUSD != "" {
		return probe.TotalUSD.String()
	}
	return "0"
}

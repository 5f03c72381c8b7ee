package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Executable agent codes. Recommendations from any other agent are
// review-only: decisions are recorded but no action row is created.
const (
	AgentPurchase = "AI_PURCHASE"
	AgentDemand   = "AI_DEMAND"
	AgentPricing  = "AI_PRICING"
)

func IsExecutableAgent(code string) bool {
	switch code {
	case AgentPurchase, AgentDemand, AgentPricing:
		return true
	}
	return false
}

type RecommendationStatus string

const (
	RecommendationOpen     RecommendationStatus = "open"
	RecommendationApproved RecommendationStatus = "approved"
	RecommendationRejected RecommendationStatus = "rejected"
	RecommendationExecuted RecommendationStatus = "executed"
)

type AiRecommendation struct {
	ID                 int                  `json:"id"`
	CompanyID          int                  `json:"company_id"`
	AgentCode          string               `json:"agent_code"`
	Kind               string               `json:"kind"`
	Status             RecommendationStatus `json:"status"`
	RecommendationJSON json.RawMessage      `json:"recommendation_json"`
	EntityType         *string              `json:"entity_type,omitempty"`
	EntityID           *int                 `json:"entity_id,omitempty"`
	DecisionReason     *string              `json:"decision_reason,omitempty"`
	DecidedAt          *time.Time           `json:"decided_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

type ActionStatus string

const (
	ActionApproved  ActionStatus = "approved"
	ActionQueued    ActionStatus = "queued"
	ActionExecuting ActionStatus = "executing"
	ActionExecuted  ActionStatus = "executed"
	ActionFailed    ActionStatus = "failed"
	ActionBlocked   ActionStatus = "blocked"
	ActionCanceled  ActionStatus = "canceled"
)

type AiAction struct {
	ID               int             `json:"id"`
	CompanyID        int             `json:"company_id"`
	RecommendationID int             `json:"recommendation_id"`
	AgentCode        string          `json:"agent_code"`
	Status           ActionStatus    `json:"status"`
	PayloadJSON      json.RawMessage `json:"payload_json"`
	AmountUSD        decimal.Decimal `json:"amount_usd"`
	AttemptCount     int             `json:"attempt_count"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	ResultEntityType *string         `json:"result_entity_type,omitempty"`
	ResultEntityID   *int            `json:"result_entity_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AiAgentSettings is the per-agent execution policy.
type AiAgentSettings struct {
	AgentCode        string          `json:"agent_code"`
	AutoExecute      bool            `json:"auto_execute"`
	MaxActionsPerDay int             `json:"max_actions_per_day"` // 0 = unlimited
	MaxAmountUSD     decimal.Decimal `json:"max_amount_usd"`      // 0 = unlimited
}

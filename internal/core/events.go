package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// appendEvent writes a domain event to the events table inside the caller's
// transaction. The outbox drain in internal/worker delivers events
// at-least-once after commit.
func appendEvent(ctx context.Context, tx pgx.Tx, companyID int, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO events (event_id, company_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4, 'pending')`,
		uuid.NewString(), companyID, eventType, body,
	); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}

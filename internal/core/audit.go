package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// writeAudit appends a structured audit row inside the caller's transaction.
// Audit is never fire-and-forget: it lands atomically with the state change
// it describes.
func writeAudit(ctx context.Context, tx pgx.Tx, e AuditEntry) error {
	var details []byte
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_logs (company_id, user_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.CompanyID, e.UserID, e.Action, e.EntityType, e.EntityID, details,
	); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

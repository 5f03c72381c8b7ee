package worker

import (
	"context"
	"fmt"
	"time"

	"erp-core/internal/core"
)

// JobFunc runs one scheduled job for one company. The returned detail string
// is stored on the run row; keep it short.
type JobFunc func(ctx context.Context, sess core.Session) (string, error)

// Registry maps schedule job names to their implementations. Schedules with
// an unknown name fail their run rather than silently advancing.
type Registry map[string]JobFunc

// Services is the bundle of core services the built-in jobs need.
type Services struct {
	GL        *core.GlService
	Inventory *core.InventoryService
	Imports   *core.ImportService
	AI        *core.AiService
	Executor  *core.AiExecutor
}

// DefaultRegistry wires the standard job set.
func DefaultRegistry(svc Services) Registry {
	return Registry{
		"recurring_journals": recurringJournalsJob(svc.GL),
		"expiry_writeoff":    expiryWriteOffJob(svc.Inventory),
		"import_extraction":  importExtractionJob(svc.Imports),
		"ai_purchase_scan":   reorderScanJob(svc.AI),
		"ai_sales_rollup":    salesRollupJob(svc.AI),
		"ai_execute_actions": executeActionsJob(svc.Executor),
	}
}

func recurringJournalsJob(gl *core.GlService) JobFunc {
	return func(ctx context.Context, sess core.Session) (string, error) {
		n, err := gl.RunDueRecurringRules(ctx, sess, time.Now().UTC())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("posted %d recurring journal(s)", n), nil
	}
}

// expiryWriteOffJob sweeps every warehouse in the company. A warehouse with
// nothing expired is a no-op for the inventory service.
func expiryWriteOffJob(inv *core.InventoryService) JobFunc {
	return func(ctx context.Context, sess core.Session) (string, error) {
		warehouses, err := inv.WarehouseIDs(ctx, sess)
		if err != nil {
			return "", err
		}
		written := 0
		for _, wh := range warehouses {
			res, err := inv.ExpiryWriteOff(ctx, sess, core.ExpiryWriteOffRequest{
				WarehouseID: wh,
				AsOf:        time.Now().UTC(),
			})
			if err != nil {
				return "", fmt.Errorf("warehouse %d: %w", wh, err)
			}
			written += len(res.Moves)
		}
		return fmt.Sprintf("wrote off %d expired batch move(s)", written), nil
	}
}

func importExtractionJob(imp *core.ImportService) JobFunc {
	return func(ctx context.Context, sess core.Session) (string, error) {
		ids, err := imp.ListPending(ctx, sess, 10)
		if err != nil {
			return "", err
		}
		done, failed := 0, 0
		for _, id := range ids {
			if err := imp.Extract(ctx, sess, id); err != nil {
				// Extraction failures are persisted on the invoice; the
				// job keeps draining the rest of the batch.
				failed++
				continue
			}
			done++
		}
		return fmt.Sprintf("extracted %d invoice(s), %d failed", done, failed), nil
	}
}

func reorderScanJob(ai *core.AiService) JobFunc {
	return func(ctx context.Context, sess core.Session) (string, error) {
		n, err := ai.ScanReorderPoints(ctx, sess)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("raised %d reorder recommendation(s)", n), nil
	}
}

// salesRollupJob aggregates yesterday so a day is only rolled up once it is
// complete.
func salesRollupJob(ai *core.AiService) JobFunc {
	return func(ctx context.Context, sess core.Session) (string, error) {
		day := time.Now().UTC().AddDate(0, 0, -1)
		n, err := ai.RollupItemSales(ctx, sess, day)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("rolled up %d item(s) for %s", n, day.Format("2006-01-02")), nil
	}
}

func executeActionsJob(exec *core.AiExecutor) JobFunc {
	return func(ctx context.Context, sess core.Session) (string, error) {
		n, err := exec.RunQueued(ctx, sess, 20)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("executed %d queued action(s)", n), nil
	}
}

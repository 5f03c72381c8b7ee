package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Publisher receives committed domain events. Delivery is at-least-once:
// implementations must tolerate duplicates.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Event struct {
	EventID   string
	CompanyID int
	EventType string
	Payload   json.RawMessage
}

// LogPublisher is the default sink. It writes every event to the structured
// log, which is enough for development and for tailing in production until a
// real broker is attached.
type LogPublisher struct {
	Log *zap.Logger
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Log.Info("event",
		zap.String("event_id", ev.EventID),
		zap.Int("company_id", ev.CompanyID),
		zap.String("event_type", ev.EventType),
		zap.ByteString("payload", ev.Payload))
	return nil
}

// Outbox drains the events table: pending rows are claimed, handed to the
// publisher, and marked done or failed. A row that keeps failing goes dead
// after MaxAttempts and needs manual attention.
type Outbox struct {
	pool    *pgxpool.Pool
	pub     Publisher
	log     *zap.Logger
	metrics *Metrics

	Poll        time.Duration
	BatchSize   int
	MaxAttempts int
}

func NewOutbox(pool *pgxpool.Pool, pub Publisher, log *zap.Logger, metrics *Metrics) *Outbox {
	return &Outbox{
		pool: pool, pub: pub, log: log, metrics: metrics,
		Poll:        5 * time.Second,
		BatchSize:   50,
		MaxAttempts: 10,
	}
}

func (o *Outbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.Poll)
	defer ticker.Stop()
	for {
		if err := o.DrainOnce(ctx); err != nil {
			o.log.Error("outbox drain failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce claims one batch and delivers it. Failed rows return to pending
// with attempts incremented; retry spacing comes from the poll interval.
func (o *Outbox) DrainOnce(ctx context.Context) error {
	events, err := o.claimBatch(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := o.pub.Publish(ctx, ev); err != nil {
			o.metrics.OutboxFailed.Inc()
			if ferr := o.markFailed(ctx, ev.EventID, err); ferr != nil {
				return ferr
			}
			continue
		}
		o.metrics.OutboxDelivered.Inc()
		if _, err := o.pool.Exec(ctx, `
			UPDATE events SET status = 'done', delivered_at = NOW()
			WHERE event_id = $1`,
			ev.EventID,
		); err != nil {
			return fmt.Errorf("mark event done: %w", err)
		}
	}
	return o.refreshPending(ctx)
}

func (o *Outbox) claimBatch(ctx context.Context) ([]Event, error) {
	rows, err := o.pool.Query(ctx, `
		UPDATE events SET status = 'processing', attempts = attempts + 1
		WHERE event_id IN (
			SELECT event_id FROM events
			WHERE status IN ('pending', 'failed')
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING event_id, company_id, event_type, payload`,
		o.BatchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("claim event batch: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.EventID, &ev.CompanyID, &ev.EventType, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (o *Outbox) markFailed(ctx context.Context, eventID string, cause error) error {
	tag, err := o.pool.Exec(ctx, `
		UPDATE events
		SET status = CASE WHEN attempts >= $2 THEN 'dead' ELSE 'failed' END,
		    last_error = $3
		WHERE event_id = $1`,
		eventID, o.MaxAttempts, cause.Error(),
	)
	if err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		var status string
		if err := o.pool.QueryRow(ctx,
			`SELECT status FROM events WHERE event_id = $1`, eventID,
		).Scan(&status); err == nil && status == "dead" {
			o.metrics.OutboxDead.Inc()
			o.log.Error("event dead after max attempts",
				zap.String("event_id", eventID), zap.Error(cause))
		}
	}
	return nil
}

func (o *Outbox) refreshPending(ctx context.Context) error {
	var pending int
	if err := o.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE status IN ('pending', 'failed')`,
	).Scan(&pending); err != nil {
		return fmt.Errorf("count pending events: %w", err)
	}
	o.metrics.OutboxPending.Set(float64(pending))
	return nil
}

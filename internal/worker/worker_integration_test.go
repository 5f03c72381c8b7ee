package worker_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"erp-core/internal/core"
	"erp-core/internal/worker"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, int) {
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if _, err := pool.Exec(ctx,
		"TRUNCATE TABLE companies, account_roles, worker_heartbeats RESTART IDENTITY CASCADE",
	); err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}

	var companyID int
	err = pool.QueryRow(ctx, `
		INSERT INTO companies (company_code, name, base_currency)
		VALUES ('1000', 'Worker Test Co', 'USD')
		RETURNING id`,
	).Scan(&companyID)
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return pool, companyID
}

// flakyPublisher fails the first failures calls, then succeeds.
type flakyPublisher struct {
	failures int
	calls    int
	seen     []string
}

func (p *flakyPublisher) Publish(_ context.Context, ev worker.Event) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("broker unavailable")
	}
	p.seen = append(p.seen, ev.EventType)
	return nil
}

func seedEvent(t *testing.T, pool *pgxpool.Pool, companyID int, eventType string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO events (event_id, company_id, event_type, payload, status)
		VALUES ($1, $2, $3, '{}', 'pending')`,
		id, companyID, eventType,
	)
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return id
}

func eventStatus(t *testing.T, pool *pgxpool.Pool, eventID string) (status string, attempts int) {
	t.Helper()
	err := pool.QueryRow(context.Background(),
		"SELECT status, attempts FROM events WHERE event_id = $1", eventID,
	).Scan(&status, &attempts)
	if err != nil {
		t.Fatalf("load event %s: %v", eventID, err)
	}
	return status, attempts
}

func TestOutbox_DeliversAndRetries(t *testing.T) {
	pool, companyID := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pub := &flakyPublisher{failures: 1}
	metrics := worker.NewMetrics(prometheus.NewRegistry())
	outbox := worker.NewOutbox(pool, pub, zap.NewNop(), metrics)

	evID := seedEvent(t, pool, companyID, "purchase.received")

	// First drain: publish fails, event goes back to failed with the error.
	if err := outbox.DrainOnce(ctx); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	status, attempts := eventStatus(t, pool, evID)
	if status != "failed" || attempts != 1 {
		t.Fatalf("after first drain: status=%s attempts=%d, want failed/1", status, attempts)
	}

	// Second drain picks the failed event up again and delivers it.
	if err := outbox.DrainOnce(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	status, attempts = eventStatus(t, pool, evID)
	if status != "done" || attempts != 2 {
		t.Fatalf("after second drain: status=%s attempts=%d, want done/2", status, attempts)
	}
	if len(pub.seen) != 1 || pub.seen[0] != "purchase.received" {
		t.Fatalf("publisher saw %v", pub.seen)
	}
}

func TestOutbox_DeadLettersAfterMaxAttempts(t *testing.T) {
	pool, companyID := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	pub := &flakyPublisher{failures: 100}
	metrics := worker.NewMetrics(prometheus.NewRegistry())
	outbox := worker.NewOutbox(pool, pub, zap.NewNop(), metrics)
	outbox.MaxAttempts = 2

	evID := seedEvent(t, pool, companyID, "purchase.invoiced")

	if err := outbox.DrainOnce(ctx); err != nil {
		t.Fatalf("first drain: %v", err)
	}
	if err := outbox.DrainOnce(ctx); err != nil {
		t.Fatalf("second drain: %v", err)
	}

	status, attempts := eventStatus(t, pool, evID)
	if status != "dead" || attempts != 2 {
		t.Fatalf("status=%s attempts=%d, want dead/2", status, attempts)
	}

	// Dead events stay dead: another drain must not touch them.
	if err := outbox.DrainOnce(ctx); err != nil {
		t.Fatalf("third drain: %v", err)
	}
	if status, attempts = eventStatus(t, pool, evID); status != "dead" || attempts != 2 {
		t.Fatalf("dead event was reclaimed: status=%s attempts=%d", status, attempts)
	}
}

func TestScheduler_TickClaimsAndAdvances(t *testing.T) {
	pool, companyID := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	var schedID int
	err := pool.QueryRow(ctx, `
		INSERT INTO background_job_schedules (company_id, job_name, enabled, interval_seconds, next_run_at)
		VALUES ($1, 'noop', true, 3600, NOW() - INTERVAL '1 minute')
		RETURNING id`,
		companyID,
	).Scan(&schedID)
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	ran := 0
	reg := worker.Registry{
		"noop": func(ctx context.Context, sess core.Session) (string, error) {
			ran++
			return "ok", nil
		},
	}
	metrics := worker.NewMetrics(prometheus.NewRegistry())
	sched := worker.NewScheduler(pool, reg, zap.NewNop(), metrics)

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if ran != 1 {
		t.Fatalf("job ran %d times, want 1", ran)
	}

	// The schedule advanced a full interval, so a second tick is a no-op.
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if ran != 1 {
		t.Fatalf("job re-ran before its interval: %d", ran)
	}

	var status, detail string
	err = pool.QueryRow(ctx, `
		SELECT status, COALESCE(detail, '') FROM background_job_runs
		WHERE schedule_id = $1 ORDER BY id DESC LIMIT 1`,
		schedID,
	).Scan(&status, &detail)
	if err != nil {
		t.Fatalf("load job run: %v", err)
	}
	if status != "succeeded" || detail != "ok" {
		t.Fatalf("job run status=%s detail=%q, want succeeded/ok", status, detail)
	}
}

func TestScheduler_FailedJobRecorded(t *testing.T) {
	pool, companyID := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	if _, err := pool.Exec(ctx, `
		INSERT INTO background_job_schedules (company_id, job_name, enabled, interval_seconds, next_run_at)
		VALUES ($1, 'broken', true, 3600, NOW() - INTERVAL '1 minute')`,
		companyID,
	); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	reg := worker.Registry{
		"broken": func(ctx context.Context, sess core.Session) (string, error) {
			return "", errors.New("boom")
		},
	}
	metrics := worker.NewMetrics(prometheus.NewRegistry())
	sched := worker.NewScheduler(pool, reg, zap.NewNop(), metrics)

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var status, detail string
	err := pool.QueryRow(ctx, `
		SELECT status, COALESCE(detail, '') FROM background_job_runs
		WHERE company_id = $1 ORDER BY id DESC LIMIT 1`,
		companyID,
	).Scan(&status, &detail)
	if err != nil {
		t.Fatalf("load job run: %v", err)
	}
	if status != "failed" || detail != "boom" {
		t.Fatalf("job run status=%s detail=%q, want failed/boom", status, detail)
	}
}

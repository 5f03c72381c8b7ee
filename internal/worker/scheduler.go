package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"erp-core/internal/core"
)

const overdueGrace = 5 * time.Minute

// Scheduler drives the background_job_schedules table. Due rows are claimed
// with SKIP LOCKED so several workers can share the table without running the
// same schedule twice.
type Scheduler struct {
	pool    *pgxpool.Pool
	reg     Registry
	log     *zap.Logger
	metrics *Metrics

	// Poll is the wake-up interval. Defaults to 15s.
	Poll time.Duration
}

func NewScheduler(pool *pgxpool.Pool, reg Registry, log *zap.Logger, metrics *Metrics) *Scheduler {
	return &Scheduler{pool: pool, reg: reg, log: log, metrics: metrics, Poll: 15 * time.Second}
}

// Run polls until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Poll)
	defer ticker.Stop()
	for {
		if err := s.Tick(ctx); err != nil {
			s.log.Error("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type dueSchedule struct {
	id              int
	companyID       int
	jobName         string
	intervalSeconds int
}

// Tick claims and runs every due schedule once, then refreshes the overdue
// gauge.
func (s *Scheduler) Tick(ctx context.Context) error {
	for {
		sched, ok, err := s.claimOne(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		s.runSchedule(ctx, sched)
	}
	return s.refreshOverdue(ctx)
}

// claimOne picks a single due schedule and advances its next_run_at in the
// same transaction, so a crash mid-job delays the schedule by one interval
// instead of wedging it.
func (s *Scheduler) claimOne(ctx context.Context) (dueSchedule, bool, error) {
	var sched dueSchedule
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return sched, false, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		SELECT id, company_id, job_name, interval_seconds
		FROM background_job_schedules
		WHERE enabled AND next_run_at <= NOW()
		ORDER BY next_run_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
	).Scan(&sched.id, &sched.companyID, &sched.jobName, &sched.intervalSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sched, false, nil
		}
		return sched, false, fmt.Errorf("claim schedule: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE background_job_schedules
		SET next_run_at = NOW() + make_interval(secs => interval_seconds),
		    last_run_at = NOW()
		WHERE id = $1`,
		sched.id,
	); err != nil {
		return sched, false, fmt.Errorf("advance schedule %d: %w", sched.id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return sched, false, fmt.Errorf("commit claim: %w", err)
	}
	return sched, true, nil
}

func (s *Scheduler) runSchedule(ctx context.Context, sched dueSchedule) {
	runID, err := s.startRun(ctx, sched)
	if err != nil {
		s.log.Error("record job start failed",
			zap.String("job", sched.jobName), zap.Error(err))
		return
	}

	job, ok := s.reg[sched.jobName]
	started := time.Now()
	var detail string
	var jobErr error
	if !ok {
		jobErr = fmt.Errorf("no job registered as %q", sched.jobName)
	} else {
		detail, jobErr = job(ctx, core.Session{CompanyID: sched.companyID})
	}
	elapsed := time.Since(started)
	s.metrics.JobDuration.WithLabelValues(sched.jobName).Observe(elapsed.Seconds())

	status := "succeeded"
	if jobErr != nil {
		status = "failed"
		detail = jobErr.Error()
		s.log.Warn("job failed",
			zap.String("job", sched.jobName),
			zap.Int("company_id", sched.companyID),
			zap.Duration("elapsed", elapsed),
			zap.Error(jobErr))
	} else {
		s.log.Info("job finished",
			zap.String("job", sched.jobName),
			zap.Int("company_id", sched.companyID),
			zap.Duration("elapsed", elapsed),
			zap.String("detail", detail))
	}
	s.metrics.JobRuns.WithLabelValues(sched.jobName, status).Inc()

	if err := s.finishRun(ctx, runID, status, detail); err != nil {
		s.log.Error("record job finish failed",
			zap.String("job", sched.jobName), zap.Error(err))
	}
}

func (s *Scheduler) startRun(ctx context.Context, sched dueSchedule) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO background_job_runs (schedule_id, company_id, job_name, status, started_at)
		VALUES ($1, $2, $3, 'running', NOW())
		RETURNING id`,
		sched.id, sched.companyID, sched.jobName,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job run: %w", err)
	}
	return id, nil
}

func (s *Scheduler) finishRun(ctx context.Context, runID int, status, detail string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE background_job_runs
		SET status = $1, detail = $2, finished_at = NOW()
		WHERE id = $3`,
		status, detail, runID,
	); err != nil {
		return fmt.Errorf("finish job run %d: %w", runID, err)
	}
	return nil
}

func (s *Scheduler) refreshOverdue(ctx context.Context) error {
	var overdue int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM background_job_schedules
		WHERE enabled AND next_run_at < NOW() - $1::interval`,
		overdueGrace.String(),
	).Scan(&overdue)
	if err != nil {
		return fmt.Errorf("count overdue schedules: %w", err)
	}
	s.metrics.JobsOverdue.Set(float64(overdue))
	if overdue > 0 {
		s.log.Warn("schedules overdue", zap.Int("count", overdue))
	}
	return nil
}

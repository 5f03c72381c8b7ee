package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Heartbeat upserts a liveness row so operators can see which workers are
// alive and on what version. A worker whose row stops moving is presumed
// dead; its claimed schedules recover via SKIP LOCKED on the next tick.
type Heartbeat struct {
	pool    *pgxpool.Pool
	log     *zap.Logger
	metrics *Metrics

	WorkerName string
	Version    string
	Interval   time.Duration
}

func NewHeartbeat(pool *pgxpool.Pool, log *zap.Logger, metrics *Metrics, workerName, version string) *Heartbeat {
	if workerName == "" {
		host, _ := os.Hostname()
		workerName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return &Heartbeat{
		pool: pool, log: log, metrics: metrics,
		WorkerName: workerName,
		Version:    version,
		Interval:   30 * time.Second,
	}
}

func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		if err := h.beat(ctx); err != nil {
			h.log.Warn("heartbeat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, `
		INSERT INTO worker_heartbeats (worker_name, version, pid, beat_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (worker_name) DO UPDATE SET
			version = EXCLUDED.version,
			pid = EXCLUDED.pid,
			beat_at = NOW()`,
		h.WorkerName, h.Version, os.Getpid(),
	); err != nil {
		return fmt.Errorf("upsert heartbeat: %w", err)
	}
	h.metrics.HeartbeatAt.SetToCurrentTime()
	return nil
}

package core

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session identifies the authenticated caller. Every core operation runs
// inside a tenant transaction bound to Session.CompanyID; row-level security
// on the storage side keys off the per-transaction company variable.
type Session struct {
	CompanyID int
	UserID    *int
}

// TenantTx is a pgx transaction with the tenant variable already bound.
// The bind is the first statement after BEGIN — no statement may touch
// tenant-scoped tables before it.
type TenantTx struct {
	pgx.Tx
	Session Session
}

// BeginTenantTx opens a transaction and binds the company context to it.
func BeginTenantTx(ctx context.Context, pool *pgxpool.Pool, sess Session) (*TenantTx, error) {
	if sess.CompanyID <= 0 {
		return nil, E(KindValidation, "session has no company id")
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if err := setCompanyContext(ctx, tx, sess.CompanyID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &TenantTx{Tx: tx, Session: sess}, nil
}

// setCompanyContext binds the current company to the transaction. The setting
// is transaction-local (is_local=true), so pooled connections never leak a
// tenant across requests.
func setCompanyContext(ctx context.Context, tx pgx.Tx, companyID int) error {
	if _, err := tx.Exec(ctx,
		"SELECT set_config('app.current_company_id', $1, true)",
		strconv.Itoa(companyID),
	); err != nil {
		return fmt.Errorf("set company context: %w", err)
	}
	return nil
}

// AssertPeriodOpen fails with PRECONDITION when any locked accounting period
// covers date. Every GL-emitting path calls this with its effective posting
// date before writing anything.
func AssertPeriodOpen(ctx context.Context, tx pgx.Tx, companyID int, date time.Time) error {
	var locked bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM accounting_period_locks
			WHERE company_id = $1 AND locked = true
			  AND $2::date BETWEEN start_date AND end_date
		)`, companyID, date.Format("2006-01-02"),
	).Scan(&locked)
	if err != nil {
		return fmt.Errorf("check period lock: %w", err)
	}
	if locked {
		return E(KindPrecondition, "posting date %s falls in a locked accounting period", date.Format("2006-01-02"))
	}
	return nil
}

// PeriodLockService manages accounting period locks.
type PeriodLockService struct {
	pool *pgxpool.Pool
}

func NewPeriodLockService(pool *pgxpool.Pool) *PeriodLockService {
	return &PeriodLockService{pool: pool}
}

// SetLock creates or updates a lock window. Overlapping windows are allowed;
// a date is locked when any locked window covers it.
func (s *PeriodLockService) SetLock(ctx context.Context, sess Session, start, end time.Time, locked bool) (*PeriodLock, error) {
	if end.Before(start) {
		return nil, E(KindValidation, "period lock end %s precedes start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	pl := &PeriodLock{}
	err = tx.QueryRow(ctx, `
		INSERT INTO accounting_period_locks (company_id, start_date, end_date, locked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, start_date, end_date)
		DO UPDATE SET locked = EXCLUDED.locked
		RETURNING id, company_id, start_date, end_date, locked`,
		sess.CompanyID, start.Format("2006-01-02"), end.Format("2006-01-02"), locked,
	).Scan(&pl.ID, &pl.CompanyID, &pl.StartDate, &pl.EndDate, &pl.Locked)
	if err != nil {
		return nil, fmt.Errorf("upsert period lock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit period lock: %w", err)
	}
	return pl, nil
}

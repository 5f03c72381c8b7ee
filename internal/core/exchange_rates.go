package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ExchangeRateService resolves USD→LBP rates. Lookup policy: exact
// (date, type) first, then the latest rate of that type on or before the date.
type ExchangeRateService struct {
	pool *pgxpool.Pool
}

func NewExchangeRateService(pool *pgxpool.Pool) *ExchangeRateService {
	return &ExchangeRateService{pool: pool}
}

// RateFor returns the usd_to_lbp rate effective for date.
func (s *ExchangeRateService) RateFor(ctx context.Context, sess Session, date time.Time, rateType RateType) (decimal.Decimal, error) {
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	rate, err := rateForTx(ctx, tx.Tx, sess.CompanyID, date, rateType)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit rate lookup: %w", err)
	}
	return rate, nil
}

func rateForTx(ctx context.Context, tx pgx.Tx, companyID int, date time.Time, rateType RateType) (decimal.Decimal, error) {
	if rateType == "" {
		rateType = RateMarket
	}
	var rate decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT usd_to_lbp FROM exchange_rates
		WHERE company_id = $1 AND rate_type = $2 AND rate_date = $3::date`,
		companyID, rateType, date.Format("2006-01-02"),
	).Scan(&rate)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("lookup exchange rate: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT usd_to_lbp FROM exchange_rates
		WHERE company_id = $1 AND rate_type = $2 AND rate_date <= $3::date
		ORDER BY rate_date DESC
		LIMIT 1`,
		companyID, rateType, date.Format("2006-01-02"),
	).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, E(KindMissingConfig, "no %s exchange rate on or before %s", rateType, date.Format("2006-01-02"))
		}
		return decimal.Zero, fmt.Errorf("lookup latest exchange rate: %w", err)
	}
	return rate, nil
}

// UpsertRate records a rate for (date, type).
func (s *ExchangeRateService) UpsertRate(ctx context.Context, sess Session, date time.Time, rateType RateType, usdToLbp decimal.Decimal) error {
	if usdToLbp.Sign() <= 0 {
		return E(KindValidation, "usd_to_lbp must be positive, got %s", usdToLbp)
	}
	tx, err := BeginTenantTx(ctx, s.pool, sess)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO exchange_rates (company_id, rate_date, rate_type, usd_to_lbp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, rate_date, rate_type)
		DO UPDATE SET usd_to_lbp = EXCLUDED.usd_to_lbp`,
		sess.CompanyID, date.Format("2006-01-02"), rateType, usdToLbp,
	); err != nil {
		return fmt.Errorf("upsert exchange rate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit exchange rate: %w", err)
	}
	return nil
}

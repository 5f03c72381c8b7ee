package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ThreeWayMatchSettings are the company-configurable AP matching thresholds,
// stored under the "ap_3way_match" settings key.
type ThreeWayMatchSettings struct {
	PctThreshold        decimal.Decimal `json:"pct_threshold"`
	AbsUSDThreshold     decimal.Decimal `json:"abs_usd_threshold"`
	AbsLBPThreshold     decimal.Decimal `json:"abs_lbp_threshold"`
	TaxDiffPctThreshold decimal.Decimal `json:"tax_diff_pct_threshold"`
	TaxDiffLBPThreshold decimal.Decimal `json:"tax_diff_lbp_threshold"`
	QtyEpsilon          decimal.Decimal `json:"qty_epsilon"`
}

// DefaultThreeWayMatchSettings returns the shipped defaults.
func DefaultThreeWayMatchSettings() ThreeWayMatchSettings {
	return ThreeWayMatchSettings{
		PctThreshold:        decimal.NewFromFloat(0.15),
		AbsUSDThreshold:     decimal.NewFromInt(25),
		AbsLBPThreshold:     decimal.NewFromInt(2_500_000),
		TaxDiffPctThreshold: decimal.NewFromFloat(0.02),
		TaxDiffLBPThreshold: decimal.NewFromInt(500_000),
		QtyEpsilon:          decimal.NewFromFloat(1e-6),
	}
}

// loadCompanySetting reads a JSON settings blob into out. Missing keys leave
// out untouched and return false.
func loadCompanySetting(ctx context.Context, tx pgx.Tx, companyID int, key string, out any) (bool, error) {
	var raw []byte
	err := tx.QueryRow(ctx,
		"SELECT value FROM company_settings WHERE company_id = $1 AND key = $2",
		companyID, key,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("load setting %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode setting %q: %w", key, err)
	}
	return true, nil
}

// saveCompanySetting upserts a JSON settings blob.
func saveCompanySetting(ctx context.Context, tx pgx.Tx, companyID int, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO company_settings (company_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		companyID, key, raw,
	); err != nil {
		return fmt.Errorf("save setting %q: %w", key, err)
	}
	return nil
}

// matchSettingsFor loads the company's AP matching thresholds, falling back
// to defaults field-by-field when the blob omits a threshold.
func matchSettingsFor(ctx context.Context, tx pgx.Tx, companyID int) (ThreeWayMatchSettings, error) {
	cfg := DefaultThreeWayMatchSettings()
	var stored map[string]decimal.Decimal
	ok, err := loadCompanySetting(ctx, tx, companyID, "ap_3way_match", &stored)
	if err != nil {
		return cfg, err
	}
	if !ok {
		return cfg, nil
	}
	if v, ok := stored["pct_threshold"]; ok {
		cfg.PctThreshold = v
	}
	if v, ok := stored["abs_usd_threshold"]; ok {
		cfg.AbsUSDThreshold = v
	}
	if v, ok := stored["abs_lbp_threshold"]; ok {
		cfg.AbsLBPThreshold = v
	}
	if v, ok := stored["tax_diff_pct_threshold"]; ok {
		cfg.TaxDiffPctThreshold = v
	}
	if v, ok := stored["tax_diff_lbp_threshold"]; ok {
		cfg.TaxDiffLBPThreshold = v
	}
	if v, ok := stored["qty_epsilon"]; ok {
		cfg.QtyEpsilon = v
	}
	return cfg, nil
}

// restore-seed bootstraps or repairs a development database: demo company,
// chart of accounts, account roles, warehouse, tax code, exchange rate, and
// the standard background job schedules.
//
// Usage: go run ./cmd/restore-seed
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"erp-core/internal/config"
	"erp-core/internal/core"
	"erp-core/internal/db"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Restoring company...")
	var companyID int
	err = tx.QueryRow(ctx, `
		INSERT INTO companies (company_code, name, base_currency)
		VALUES ('1000', 'Dekkene Demo Trading', 'USD')
		ON CONFLICT (company_code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
	).Scan(&companyID)
	if err != nil {
		log.Fatalf("Failed to restore company: %v", err)
	}

	log.Println("Restoring chart of accounts...")
	_, err = tx.Exec(ctx, `
		INSERT INTO company_coa_accounts (company_id, code, name, account_type, is_postable)
		SELECT $1, a.code, a.name, a.type, true
		FROM (VALUES
		    ('1100', 'Cash on Hand',            'asset'),
		    ('1200', 'Accounts Receivable',     'asset'),
		    ('1400', 'Inventory',               'asset'),
		    ('1450', 'VAT Recoverable',         'asset'),
		    ('2100', 'Accounts Payable',        'liability'),
		    ('2150', 'Goods Received Not Invoiced', 'liability'),
		    ('3000', 'Owner Capital',           'equity'),
		    ('1099', 'Opening Balance Equity',  'equity'),
		    ('4000', 'Sales Revenue',           'revenue'),
		    ('5000', 'Cost of Goods Sold',      'expense'),
		    ('5100', 'Purchases Expense',       'expense'),
		    ('5150', 'Purchase Rebates',        'expense'),
		    ('5250', 'Inventory Shrinkage',     'expense'),
		    ('5260', 'Inventory Adjustments',   'expense'),
		    ('7990', 'Rounding Differences',    'expense')
		) AS a(code, name, type)
		ON CONFLICT (company_id, code) DO UPDATE SET name = EXCLUDED.name`,
		companyID,
	)
	if err != nil {
		log.Fatalf("Failed to restore accounts: %v", err)
	}

	log.Println("Restoring account roles...")
	_, err = tx.Exec(ctx, `
		INSERT INTO account_roles (code, fallback_role)
		VALUES
		  ('AR', NULL), ('AP', NULL), ('INVENTORY', NULL), ('GRNI', 'AP'),
		  ('COGS', NULL), ('SHRINKAGE', 'COGS'), ('INV_ADJ', 'COGS'),
		  ('ROUNDING', NULL), ('OPENING_BALANCE', NULL),
		  ('VAT_RECOVERABLE', NULL), ('PURCHASE_REBATES', 'PURCHASES_EXPENSE'),
		  ('PURCHASES_EXPENSE', NULL)
		ON CONFLICT (code) DO NOTHING`,
	)
	if err != nil {
		log.Fatalf("Failed to restore account roles: %v", err)
	}

	log.Println("Restoring warehouse and tax code...")
	_, err = tx.Exec(ctx, `
		INSERT INTO warehouses (company_id, code, name, is_active)
		VALUES ($1, 'MAIN', 'Main Warehouse', true)
		ON CONFLICT (company_id, code) DO NOTHING`,
		companyID,
	)
	if err != nil {
		log.Fatalf("Failed to restore warehouse: %v", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tax_codes (company_id, code, name, rate)
		VALUES ($1, 'VAT11', 'VAT 11%', 0.11)
		ON CONFLICT (company_id, code) DO NOTHING`,
		companyID,
	)
	if err != nil {
		log.Fatalf("Failed to restore tax code: %v", err)
	}

	log.Println("Restoring exchange rate...")
	_, err = tx.Exec(ctx, `
		INSERT INTO exchange_rates (company_id, rate_date, rate_type, usd_to_lbp)
		VALUES ($1, CURRENT_DATE, 'market', 89500)
		ON CONFLICT (company_id, rate_date, rate_type) DO NOTHING`,
		companyID,
	)
	if err != nil {
		log.Fatalf("Failed to restore exchange rate: %v", err)
	}

	log.Println("Restoring agent settings and job schedules...")
	_, err = tx.Exec(ctx, `
		INSERT INTO ai_agent_settings (company_id, agent_code, auto_execute, max_actions_per_day, max_amount_usd)
		VALUES
		  ($1, 'AI_PURCHASE', false, 10, 5000),
		  ($1, 'AI_DEMAND', false, 0, 0),
		  ($1, 'AI_PRICING', false, 0, 0)
		ON CONFLICT (company_id, agent_code) DO NOTHING`,
		companyID,
	)
	if err != nil {
		log.Fatalf("Failed to restore agent settings: %v", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO background_job_schedules (company_id, job_name, enabled, interval_seconds, next_run_at)
		VALUES
		  ($1, 'recurring_journals', true, 3600, NOW()),
		  ($1, 'expiry_writeoff', true, 86400, NOW()),
		  ($1, 'import_extraction', true, 60, NOW()),
		  ($1, 'ai_purchase_scan', true, 21600, NOW()),
		  ($1, 'ai_sales_rollup', true, 86400, NOW()),
		  ($1, 'ai_execute_actions', true, 300, NOW())
		ON CONFLICT (company_id, job_name) DO NOTHING`,
		companyID,
	)
	if err != nil {
		log.Fatalf("Failed to restore job schedules: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}

	log.Println("Filling account role defaults...")
	resolver := core.NewAccountResolver(pool)
	filled, err := resolver.EnsureCompanyAccountDefaults(ctx, core.Session{CompanyID: companyID}, nil)
	if err != nil {
		log.Fatalf("Failed to fill account defaults: %v", err)
	}
	log.Printf("Seed data restored: company %d, %d role(s) mapped.", companyID, len(filled))
}

package core_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"erp-core/internal/core"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE companies, account_roles, worker_heartbeats RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	return pool
}

// fixture holds the ids of the seeded demo company's master data.
type fixture struct {
	CompanyID    int
	WarehouseID  int
	SupplierID   int
	PlainItemID  int // untracked, allow_negative_stock = false
	BatchItemID  int // batch + expiry tracked
	CashMethodID int
	TaxCodeID    int
}

// seedCompany builds the minimal tenant every integration test needs:
// company, chart of accounts, role mappings, warehouse, supplier, items,
// a market exchange rate, and a cash payment method.
func seedCompany(t *testing.T, pool *pgxpool.Pool) (core.Session, fixture) {
	t.Helper()
	ctx := context.Background()

	var f fixture
	err := pool.QueryRow(ctx, `
		INSERT INTO companies (company_code, name, base_currency)
		VALUES ('1000', 'Test Trading', 'USD')
		RETURNING id`,
	).Scan(&f.CompanyID)
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	sess := core.Session{CompanyID: f.CompanyID}

	_, err = pool.Exec(ctx, `
		INSERT INTO company_coa_accounts (company_id, code, name, account_type, is_postable)
		SELECT $1, a.code, a.name, a.type, true
		FROM (VALUES
		    ('1100', 'Cash on Hand',           'asset'),
		    ('1400', 'Inventory',              'asset'),
		    ('1450', 'VAT Recoverable',        'asset'),
		    ('2100', 'Accounts Payable',       'liability'),
		    ('2150', 'GRNI',                   'liability'),
		    ('1099', 'Opening Balance Equity', 'equity'),
		    ('4000', 'Sales Revenue',          'revenue'),
		    ('5000', 'Cost of Goods Sold',     'expense'),
		    ('5100', 'Purchases Expense',      'expense'),
		    ('5150', 'Purchase Rebates',       'expense'),
		    ('5260', 'Inventory Adjustments',  'expense'),
		    ('7990', 'Rounding Differences',   'expense')
		) AS a(code, name, type)`,
		f.CompanyID,
	)
	if err != nil {
		t.Fatalf("seed accounts: %v", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO account_roles (code, fallback_role)
		VALUES
		  ('AP', NULL), ('INVENTORY', NULL), ('GRNI', 'AP'),
		  ('COGS', NULL), ('INV_ADJ', 'COGS'), ('ROUNDING', NULL),
		  ('OPENING_BALANCE', NULL), ('VAT_RECOVERABLE', NULL),
		  ('PURCHASE_REBATES', 'PURCHASES_EXPENSE'), ('PURCHASES_EXPENSE', NULL)
		ON CONFLICT (code) DO NOTHING`,
	)
	if err != nil {
		t.Fatalf("seed account roles: %v", err)
	}
	if _, err := core.NewAccountResolver(pool).EnsureCompanyAccountDefaults(ctx, sess, nil); err != nil {
		t.Fatalf("fill account defaults: %v", err)
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO warehouses (company_id, code, name, is_active)
		VALUES ($1, 'MAIN', 'Main Warehouse', true)
		RETURNING id`,
		f.CompanyID,
	).Scan(&f.WarehouseID)
	if err != nil {
		t.Fatalf("seed warehouse: %v", err)
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO suppliers (company_id, code, name, payment_terms_days)
		VALUES ($1, 'SUP-1', 'Test Supplier', 30)
		RETURNING id`,
		f.CompanyID,
	).Scan(&f.SupplierID)
	if err != nil {
		t.Fatalf("seed supplier: %v", err)
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO tax_codes (company_id, code, name, rate)
		VALUES ($1, 'VAT11', 'VAT 11%', 0.11)
		RETURNING id`,
		f.CompanyID,
	).Scan(&f.TaxCodeID)
	if err != nil {
		t.Fatalf("seed tax code: %v", err)
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO items (company_id, sku, name, unit_of_measure)
		VALUES ($1, 'RICE-1KG', 'Rice 1kg', 'unit')
		RETURNING id`,
		f.CompanyID,
	).Scan(&f.PlainItemID)
	if err != nil {
		t.Fatalf("seed plain item: %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO items (company_id, sku, name, unit_of_measure, track_batches, track_expiry)
		VALUES ($1, 'MILK-1L', 'Milk 1L', 'unit', true, true)
		RETURNING id`,
		f.CompanyID,
	).Scan(&f.BatchItemID)
	if err != nil {
		t.Fatalf("seed batch item: %v", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO exchange_rates (company_id, rate_date, rate_type, usd_to_lbp)
		VALUES ($1, '2026-01-01', 'market', 89500)`,
		f.CompanyID,
	)
	if err != nil {
		t.Fatalf("seed exchange rate: %v", err)
	}

	err = pool.QueryRow(ctx, `
		INSERT INTO payment_method_mappings (company_id, name, account_id)
		SELECT $1, 'Cash', id FROM company_coa_accounts WHERE company_id = $1 AND code = '1100'
		RETURNING id`,
		f.CompanyID,
	).Scan(&f.CashMethodID)
	if err != nil {
		t.Fatalf("seed payment method: %v", err)
	}

	return sess, f
}

func accountID(t *testing.T, pool *pgxpool.Pool, companyID int, code string) int {
	t.Helper()
	var id int
	err := pool.QueryRow(context.Background(),
		"SELECT id FROM company_coa_accounts WHERE company_id = $1 AND code = $2",
		companyID, code,
	).Scan(&id)
	if err != nil {
		t.Fatalf("lookup account %s: %v", code, err)
	}
	return id
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// onHand reads the moving-average state row for an item in a warehouse.
func onHand(t *testing.T, pool *pgxpool.Pool, companyID, itemID, warehouseID int) (qty, avgUSD decimal.Decimal) {
	t.Helper()
	err := pool.QueryRow(context.Background(), `
		SELECT on_hand_qty, avg_cost_usd FROM item_warehouse_costs
		WHERE company_id = $1 AND item_id = $2 AND warehouse_id = $3`,
		companyID, itemID, warehouseID,
	).Scan(&qty, &avgUSD)
	if err != nil {
		t.Fatalf("load item warehouse cost: %v", err)
	}
	return qty, avgUSD
}

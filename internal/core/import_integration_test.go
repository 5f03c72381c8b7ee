package core_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"erp-core/internal/ai"
	"erp-core/internal/core"
)

// seedReviewedImport seeds a draft invoice in pending_review with one
// resolved line, as the extractor plus a reviewer would leave it.
func seedReviewedImport(t *testing.T, pool *pgxpool.Pool, f fixture) int {
	t.Helper()
	ctx := context.Background()
	var invoiceID int
	err := pool.QueryRow(ctx, `
		INSERT INTO supplier_invoices (company_id, invoice_date, rate_type, status, import_status)
		VALUES ($1, '2026-03-05', 'market', 'draft', 'pending_review')
		RETURNING id`,
		f.CompanyID,
	).Scan(&invoiceID)
	if err != nil {
		t.Fatalf("seed import invoice: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO supplier_invoice_import_lines
		       (invoice_id, line_no, supplier_item_code, supplier_item_name, qty, unit_cost_usd, resolved_item_id, status)
		VALUES ($1, 1, 'RCE-SUP', 'Rice 1kg bag', 10, 2.5, $2, 'resolved')`,
		invoiceID, f.PlainItemID,
	); err != nil {
		t.Fatalf("seed import line: %v", err)
	}
	return invoiceID
}

func TestImportApply_RejectsInactiveTaxCode(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	var retiredTax int
	if err := pool.QueryRow(ctx, `
		INSERT INTO tax_codes (company_id, code, name, rate, is_active)
		VALUES ($1, 'VAT10-OLD', 'Retired VAT 10%', 0.10, FALSE)
		RETURNING id`,
		f.CompanyID,
	).Scan(&retiredTax); err != nil {
		t.Fatalf("seed retired tax code: %v", err)
	}

	imports := core.NewImportService(pool, ai.NewMockExtractor(), 0)
	invoiceID := seedReviewedImport(t, pool, f)

	_, err := imports.Apply(ctx, sess, core.ApplyImportRequest{
		InvoiceID:  invoiceID,
		SupplierID: f.SupplierID,
		TaxCodeID:  &retiredTax,
	})
	if core.KindOf(err) != core.KindValidation {
		t.Fatalf("expected VALIDATION for inactive tax code, got %v", err)
	}

	// An active code applies clean.
	si, err := imports.Apply(ctx, sess, core.ApplyImportRequest{
		InvoiceID:  invoiceID,
		SupplierID: f.SupplierID,
		TaxCodeID:  &f.TaxCodeID,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if si.ImportStatus != core.ImportFilled {
		t.Fatalf("import status = %s, want filled", si.ImportStatus)
	}

	var taxCodeID *int
	var lines int
	if err := pool.QueryRow(ctx,
		"SELECT tax_code_id, (SELECT COUNT(*) FROM supplier_invoice_lines WHERE invoice_id = $1) FROM supplier_invoices WHERE id = $1",
		invoiceID,
	).Scan(&taxCodeID, &lines); err != nil {
		t.Fatalf("read applied invoice: %v", err)
	}
	if taxCodeID == nil || *taxCodeID != f.TaxCodeID {
		t.Errorf("applied tax code = %v, want %d", taxCodeID, f.TaxCodeID)
	}
	if lines != 1 {
		t.Errorf("applied invoice has %d line(s), want 1", lines)
	}
}

package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"erp-core/internal/core"
)

// postReceipt runs a PO for qty of the plain item at unitCostUSD through a
// posted goods receipt and returns the receipt id.
func postReceipt(t *testing.T, pool *pgxpool.Pool, sess core.Session, f fixture, qty, unitCostUSD string) int {
	t.Helper()
	ctx := context.Background()
	orders := core.NewPurchaseOrderService(pool)
	receipts := core.NewGoodsReceiptService(pool)

	po, err := orders.Create(ctx, sess, core.PurchaseOrderInput{
		SupplierID: f.SupplierID,
		OrderDate:  testDate(2026, time.March, 2),
		RateType:   core.RateMarket,
		Lines: []core.PurchaseOrderLineInput{
			{ItemID: f.PlainItemID, Quantity: core.LineQuantityInput{QtyBase: dec(qty)}, UnitCostUSD: dec(unitCostUSD)},
		},
	})
	if err != nil {
		t.Fatalf("create PO: %v", err)
	}
	if _, err := orders.Post(ctx, sess, po.ID); err != nil {
		t.Fatalf("post PO: %v", err)
	}
	gr, err := receipts.DraftFromPO(ctx, sess, core.DraftReceiptRequest{
		PurchaseOrderID: po.ID, WarehouseID: f.WarehouseID,
		ReceiptDate: testDate(2026, time.March, 3),
	})
	if err != nil {
		t.Fatalf("draft receipt: %v", err)
	}
	if _, err := receipts.Post(ctx, sess, core.PostReceiptRequest{ReceiptID: gr.ID}); err != nil {
		t.Fatalf("post receipt: %v", err)
	}
	return gr.ID
}

func TestReceiptCredit_ReducesAverageCost(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	grID := postReceipt(t, pool, sess, f, "10", "10")

	credits := core.NewSupplierCreditService(pool)
	cn, err := credits.Create(ctx, sess, core.CreditNoteInput{
		SupplierID:     f.SupplierID,
		Kind:           core.CreditReceipt,
		GoodsReceiptID: &grID,
		CreditDate:     testDate(2026, time.March, 10),
		RateType:       core.RateMarket,
		AmountUSD:      dec("20"),
	})
	if err != nil {
		t.Fatalf("create credit: %v", err)
	}
	if _, err := credits.Post(ctx, sess, cn.ID); err != nil {
		t.Fatalf("post credit: %v", err)
	}

	// Nothing sold yet, so the whole credit lands on inventory and the
	// moving average drops by 20/10.
	qty, avg := onHand(t, pool, f.CompanyID, f.PlainItemID, f.WarehouseID)
	if !qty.Equal(dec("10")) {
		t.Errorf("on hand = %s, want 10", qty)
	}
	if !avg.Equal(dec("8")) {
		t.Errorf("avg cost = %s, want 8", avg)
	}

	var allocs int
	var invUSD, cogsUSD string
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(inventory_usd), 0)::text, COALESCE(SUM(cogs_usd), 0)::text
		FROM supplier_credit_note_allocations WHERE credit_note_id = $1`, cn.ID,
	).Scan(&allocs, &invUSD, &cogsUSD)
	if err != nil {
		t.Fatalf("read allocations: %v", err)
	}
	if allocs != 1 {
		t.Fatalf("expected 1 allocation, got %d", allocs)
	}
	if !dec(invUSD).Equal(dec("20")) || !dec(cogsUSD).Equal(dec("0")) {
		t.Errorf("split inventory/cogs = %s/%s, want 20/0", invUSD, cogsUSD)
	}
}

func TestCreditApply_CapsAtOpenBalance(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	grID := postReceipt(t, pool, sess, f, "10", "10")

	invoices := core.NewSupplierInvoiceService(pool)
	si, err := invoices.DraftFromGR(ctx, sess, grID, testDate(2026, time.March, 5))
	if err != nil {
		t.Fatalf("draft invoice: %v", err)
	}
	if _, err := invoices.Post(ctx, sess, core.PostInvoiceRequest{InvoiceID: si.ID}); err != nil {
		t.Fatalf("post invoice: %v", err)
	}

	credits := core.NewSupplierCreditService(pool)
	cn, err := credits.Create(ctx, sess, core.CreditNoteInput{
		SupplierID: f.SupplierID,
		Kind:       core.CreditExpense,
		CreditDate: testDate(2026, time.March, 10),
		RateType:   core.RateMarket,
		AmountUSD:  dec("120"),
	})
	if err != nil {
		t.Fatalf("create credit: %v", err)
	}
	if _, err := credits.Post(ctx, sess, cn.ID); err != nil {
		t.Fatalf("post credit: %v", err)
	}

	// Invoice open balance is 100: a 30 application fits.
	if _, err := credits.Apply(ctx, sess, cn.ID, si.ID, dec("30"), dec("0")); err != nil {
		t.Fatalf("apply 30: %v", err)
	}

	// 90 more would exceed the remaining 70.
	_, err = credits.Apply(ctx, sess, cn.ID, si.ID, dec("90"), dec("0"))
	if core.KindOf(err) != core.KindValidation {
		t.Fatalf("expected VALIDATION on over-application, got %v", err)
	}
}

package core_test

import (
	"context"
	"testing"
	"time"

	"erp-core/internal/core"
)

func TestPurchaseFlow_POToInvoice(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	orders := core.NewPurchaseOrderService(pool)
	receipts := core.NewGoodsReceiptService(pool)
	invoices := core.NewSupplierInvoiceService(pool)

	po, err := orders.Create(ctx, sess, core.PurchaseOrderInput{
		SupplierID: f.SupplierID,
		OrderDate:  testDate(2026, time.March, 2),
		RateType:   core.RateMarket,
		Lines: []core.PurchaseOrderLineInput{
			{ItemID: f.PlainItemID, Quantity: core.LineQuantityInput{QtyBase: dec("10")}, UnitCostUSD: dec("4.00")},
		},
	})
	if err != nil {
		t.Fatalf("create PO: %v", err)
	}
	if _, err := orders.Post(ctx, sess, po.ID); err != nil {
		t.Fatalf("post PO: %v", err)
	}

	gr, err := receipts.DraftFromPO(ctx, sess, core.DraftReceiptRequest{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.WarehouseID,
		ReceiptDate:     testDate(2026, time.March, 3),
	})
	if err != nil {
		t.Fatalf("draft receipt: %v", err)
	}
	grRes, err := receipts.Post(ctx, sess, core.PostReceiptRequest{ReceiptID: gr.ID})
	if err != nil {
		t.Fatalf("post receipt: %v", err)
	}
	if grRes.Receipt.ReceiptNo == nil {
		t.Fatal("posted receipt has no number")
	}

	// Receipt landed the stock at PO cost.
	qty, avg := onHand(t, pool, f.CompanyID, f.PlainItemID, f.WarehouseID)
	if !qty.Equal(dec("10")) {
		t.Errorf("on hand = %s, want 10", qty)
	}
	if !avg.Equal(dec("4")) {
		t.Errorf("avg cost = %s, want 4", avg)
	}

	si, err := invoices.DraftFromGR(ctx, sess, gr.ID, testDate(2026, time.March, 5))
	if err != nil {
		t.Fatalf("draft invoice: %v", err)
	}
	res, err := invoices.Post(ctx, sess, core.PostInvoiceRequest{InvoiceID: si.ID})
	if err != nil {
		t.Fatalf("post invoice: %v", err)
	}
	if res.Invoice.Status != core.DocPosted {
		t.Fatalf("invoice status = %s, want posted", res.Invoice.Status)
	}

	// Dr GRNI 40 / Cr AP 40, no tax on the header.
	grni := accountID(t, pool, f.CompanyID, "2150")
	ap := accountID(t, pool, f.CompanyID, "2100")
	if len(res.Journal.Entries) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(res.Journal.Entries))
	}
	for _, e := range res.Journal.Entries {
		switch e.AccountID {
		case grni:
			if !e.DebitUSD.Equal(dec("40")) {
				t.Errorf("GRNI debit = %s, want 40", e.DebitUSD)
			}
		case ap:
			if !e.CreditUSD.Equal(dec("40")) {
				t.Errorf("AP credit = %s, want 40", e.CreditUSD)
			}
		default:
			t.Errorf("unexpected account %d in invoice journal", e.AccountID)
		}
	}

	// Posting again is idempotent: same journal, no duplicates.
	again, err := invoices.Post(ctx, sess, core.PostInvoiceRequest{InvoiceID: si.ID})
	if err != nil {
		t.Fatalf("idempotent post: %v", err)
	}
	if again.Journal.ID != res.Journal.ID {
		t.Errorf("idempotent post returned journal %d, want %d", again.Journal.ID, res.Journal.ID)
	}
}

func TestInvoicePost_VarianceHold(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	orders := core.NewPurchaseOrderService(pool)
	receipts := core.NewGoodsReceiptService(pool)
	invoices := core.NewSupplierInvoiceService(pool)

	po, err := orders.Create(ctx, sess, core.PurchaseOrderInput{
		SupplierID: f.SupplierID,
		OrderDate:  testDate(2026, time.March, 2),
		RateType:   core.RateMarket,
		Lines: []core.PurchaseOrderLineInput{
			{ItemID: f.PlainItemID, Quantity: core.LineQuantityInput{QtyBase: dec("10")}, UnitCostUSD: dec("100")},
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
	si, err := invoices.DraftFromGR(ctx, sess, gr.ID, testDate(2026, time.March, 5))
	if err != nil {
		t.Fatalf("draft invoice: %v", err)
	}

	// 130 vs the expected 100: over both the absolute and pct thresholds.
	if _, err := pool.Exec(ctx,
		"UPDATE supplier_invoice_lines SET unit_cost_usd = 130 WHERE invoice_id = $1", si.ID,
	); err != nil {
		t.Fatalf("bump invoice cost: %v", err)
	}

	_, err = invoices.Post(ctx, sess, core.PostInvoiceRequest{InvoiceID: si.ID})
	if core.KindOf(err) != core.KindConflict {
		t.Fatalf("expected CONFLICT hold, got %v", err)
	}

	var held bool
	if err := pool.QueryRow(ctx,
		"SELECT is_on_hold FROM supplier_invoices WHERE id = $1", si.ID,
	).Scan(&held); err != nil {
		t.Fatalf("read hold: %v", err)
	}
	if !held {
		t.Fatal("invoice not flagged on hold")
	}

	// Fix the price, release the hold, and the invoice posts clean.
	if _, err := pool.Exec(ctx,
		"UPDATE supplier_invoice_lines SET unit_cost_usd = 100 WHERE invoice_id = $1", si.ID,
	); err != nil {
		t.Fatalf("restore invoice cost: %v", err)
	}
	if err := invoices.Unhold(ctx, sess, si.ID); err != nil {
		t.Fatalf("unhold: %v", err)
	}
	if _, err := invoices.Post(ctx, sess, core.PostInvoiceRequest{InvoiceID: si.ID}); err != nil {
		t.Fatalf("post after unhold: %v", err)
	}
}

func TestInvoicePost_InlinePayment(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	orders := core.NewPurchaseOrderService(pool)
	receipts := core.NewGoodsReceiptService(pool)
	invoices := core.NewSupplierInvoiceService(pool)

	po, err := orders.Create(ctx, sess, core.PurchaseOrderInput{
		SupplierID: f.SupplierID,
		OrderDate:  testDate(2026, time.March, 2),
		RateType:   core.RateMarket,
		Lines: []core.PurchaseOrderLineInput{
			{ItemID: f.PlainItemID, Quantity: core.LineQuantityInput{QtyBase: dec("5")}, UnitCostUSD: dec("8")},
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
	si, err := invoices.DraftFromGR(ctx, sess, gr.ID, testDate(2026, time.March, 5))
	if err != nil {
		t.Fatalf("draft invoice: %v", err)
	}

	if _, err := invoices.Post(ctx, sess, core.PostInvoiceRequest{
		InvoiceID: si.ID,
		Payments:  []core.InlinePayment{{PaymentMethodID: f.CashMethodID, AmountUSD: dec("25")}},
	}); err != nil {
		t.Fatalf("post with payment: %v", err)
	}

	var paid int
	if err := pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM supplier_payments WHERE invoice_id = $1 AND journal_id IS NOT NULL", si.ID,
	).Scan(&paid); err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paid != 1 {
		t.Fatalf("expected 1 journaled payment, got %d", paid)
	}

	// A later standalone payment settles the remaining 15.
	payDate := testDate(2026, time.March, 20)
	if err := invoices.RecordPayment(ctx, sess, si.ID,
		core.InlinePayment{PaymentMethodID: f.CashMethodID, AmountUSD: dec("15")}, payDate,
	); err != nil {
		t.Fatalf("record payment: %v", err)
	}

	// The invoice is settled; anything more exceeds the open balance.
	err = invoices.RecordPayment(ctx, sess, si.ID,
		core.InlinePayment{PaymentMethodID: f.CashMethodID, AmountUSD: dec("10")}, payDate)
	if core.KindOf(err) != core.KindValidation {
		t.Fatalf("expected VALIDATION on overpayment, got %v", err)
	}
}

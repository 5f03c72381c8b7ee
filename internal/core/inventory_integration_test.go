package core_test

import (
	"context"
	"testing"
	"time"

	"erp-core/internal/core"
)

func TestOpeningStock_Idempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	inv := core.NewInventoryService(pool)
	req := core.OpeningStockRequest{
		ImportID:    "opening-2026",
		WarehouseID: f.WarehouseID,
		PostingDate: testDate(2026, time.January, 15),
		Lines: []core.OpeningStockLine{
			{ItemID: f.PlainItemID, Qty: dec("100"), UnitCostUSD: dec("2.50")},
		},
	}

	res, err := inv.ImportOpeningStock(ctx, sess, req)
	if err != nil {
		t.Fatalf("ImportOpeningStock: %v", err)
	}
	if res.AlreadyApplied {
		t.Fatal("first import reported already applied")
	}
	if len(res.Moves) != 1 {
		t.Fatalf("expected 1 move, got %d", len(res.Moves))
	}
	if res.Journal == nil {
		t.Fatal("no journal posted")
	}

	// Replay with the same import id: no new stock, no new journal.
	res2, err := inv.ImportOpeningStock(ctx, sess, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res2.AlreadyApplied {
		t.Fatal("replay did not report already applied")
	}
	if len(res2.Moves) != 0 {
		t.Fatalf("replay produced %d moves", len(res2.Moves))
	}

	qty, avg := onHand(t, pool, f.CompanyID, f.PlainItemID, f.WarehouseID)
	if !qty.Equal(dec("100")) {
		t.Errorf("on hand = %s, want 100", qty)
	}
	if !avg.Equal(dec("2.5")) {
		t.Errorf("avg cost = %s, want 2.5", avg)
	}
}

func TestAdjust_FEFOConsumesEarliestExpiry(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	inv := core.NewInventoryService(pool)
	near := time.Now().UTC().AddDate(0, 0, 30)
	far := time.Now().UTC().AddDate(0, 0, 90)
	moveDate := time.Now().UTC()

	// Receive the later-expiring batch first so FEFO ordering, not insert
	// order, decides consumption.
	batchFar, batchNear := "B-FAR", "B-NEAR"
	cost := core.Dual{USD: dec("1.20")}
	if _, err := inv.Adjust(ctx, sess, core.AdjustRequest{
		ItemID: f.BatchItemID, WarehouseID: f.WarehouseID,
		Qty: dec("10"), BatchNo: &batchFar, ExpiryDate: &far,
		UnitCost: &cost, MoveDate: moveDate, Reason: "receive far",
	}); err != nil {
		t.Fatalf("inbound far: %v", err)
	}
	if _, err := inv.Adjust(ctx, sess, core.AdjustRequest{
		ItemID: f.BatchItemID, WarehouseID: f.WarehouseID,
		Qty: dec("10"), BatchNo: &batchNear, ExpiryDate: &near,
		UnitCost: &cost, MoveDate: moveDate, Reason: "receive near",
	}); err != nil {
		t.Fatalf("inbound near: %v", err)
	}

	res, err := inv.Adjust(ctx, sess, core.AdjustRequest{
		ItemID: f.BatchItemID, WarehouseID: f.WarehouseID,
		Qty: dec("-15"), MoveDate: moveDate, Reason: "shrinkage count",
	})
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if len(res.Moves) != 2 {
		t.Fatalf("expected 2 outbound moves, got %d", len(res.Moves))
	}

	// First allocation must drain the near-expiry batch completely.
	var nearID int
	if err := pool.QueryRow(ctx,
		"SELECT id FROM batches WHERE item_id = $1 AND batch_no = $2",
		f.BatchItemID, batchNear,
	).Scan(&nearID); err != nil {
		t.Fatalf("lookup near batch: %v", err)
	}
	first := res.Moves[0]
	if first.BatchID == nil || *first.BatchID != nearID {
		t.Errorf("first allocation batch = %v, want near batch %d", first.BatchID, nearID)
	}
	if !first.QtyOut.Equal(dec("10")) {
		t.Errorf("first allocation qty = %s, want 10", first.QtyOut)
	}
	if !res.Moves[1].QtyOut.Equal(dec("5")) {
		t.Errorf("second allocation qty = %s, want 5", res.Moves[1].QtyOut)
	}

	qty, _ := onHand(t, pool, f.CompanyID, f.BatchItemID, f.WarehouseID)
	if !qty.Equal(dec("5")) {
		t.Errorf("on hand = %s, want 5", qty)
	}
}

func TestAdjust_InsufficientStock(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	sess, f := seedCompany(t, pool)
	ctx := context.Background()

	inv := core.NewInventoryService(pool)
	exp := time.Now().UTC().AddDate(0, 0, 60)
	batch := "B-1"
	cost := core.Dual{USD: dec("3")}
	if _, err := inv.Adjust(ctx, sess, core.AdjustRequest{
		ItemID: f.BatchItemID, WarehouseID: f.WarehouseID,
		Qty: dec("4"), BatchNo: &batch, ExpiryDate: &exp,
		UnitCost: &cost, MoveDate: time.Now().UTC(), Reason: "receive",
	}); err != nil {
		t.Fatalf("inbound: %v", err)
	}

	_, err := inv.Adjust(ctx, sess, core.AdjustRequest{
		ItemID: f.BatchItemID, WarehouseID: f.WarehouseID,
		Qty: dec("-6"), MoveDate: time.Now().UTC(), Reason: "count",
	})
	if core.KindOf(err) != core.KindInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}

	// Stock is untouched after the failed adjustment.
	qty, _ := onHand(t, pool, f.CompanyID, f.BatchItemID, f.WarehouseID)
	if !qty.Equal(dec("4")) {
		t.Errorf("on hand = %s, want 4", qty)
	}
}

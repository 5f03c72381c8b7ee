package core

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func TestItemWarehouseCost_ErrorHandling(t *testing.T) {
	_ = godotenv.Load("../../.env")

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	defer pool.Close()

	// A missing row is the legitimate never-moved state and reads as zero.
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	c, err := itemWarehouseCostTx(ctx, tx, 999999, 999999, 999999)
	if err != nil {
		t.Fatalf("missing row must not error: %v", err)
	}
	if !c.OnHandQty.IsZero() || !c.AvgCostUSD.IsZero() || !c.AvgCostLBP.IsZero() {
		t.Errorf("missing row state = %s/%s/%s, want zeros",
			c.OnHandQty, c.AvgCostUSD, c.AvgCostLBP)
	}
	tx.Rollback(ctx)

	// A real query failure must surface, not read as zero stock. An aborted
	// transaction rejects every later statement.
	tx, err = pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, "SELECT 1/0"); err == nil {
		t.Fatal("division did not abort the transaction")
	}
	if _, err := itemWarehouseCostTx(ctx, tx, 999999, 999999, 999999); err == nil {
		t.Fatal("aborted transaction read as zero stock instead of erroring")
	}
}

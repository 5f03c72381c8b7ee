package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func matchDefaults() ThreeWayMatchSettings { return DefaultThreeWayMatchSettings() }

func TestThreeWayMatch_Clean(t *testing.T) {
	rlID := 10
	flags := evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("10"),
		UnitCostUSD:     dec("5"),
		ReceivedQty:     dec("10"),
		ExpectedCostUSD: dec("5"),
	}}, decimal.Zero, decimal.Zero)
	if len(flags) != 0 {
		t.Fatalf("expected no flags, got %+v", flags)
	}
}

func TestThreeWayMatch_QtyExceedsReceived(t *testing.T) {
	rlID := 10
	flags := evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("6"),
		PriorInvoiced:   dec("5"),
		ReceivedQty:     dec("10"),
		ExpectedCostUSD: dec("5"),
		UnitCostUSD:     dec("5"),
	}}, decimal.Zero, decimal.Zero)
	if len(flags) != 1 || flags[0].Kind != FlagQtyExceedsReceived {
		t.Fatalf("expected qty_exceeds_received, got %+v", flags)
	}

	// Within epsilon: not flagged.
	flags = evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("10.0000005"),
		ReceivedQty:     dec("10"),
		ExpectedCostUSD: dec("5"),
		UnitCostUSD:     dec("5"),
	}}, decimal.Zero, decimal.Zero)
	if len(flags) != 0 {
		t.Fatalf("epsilon overshoot must pass, got %+v", flags)
	}
}

func TestThreeWayMatch_UnitCostVariance(t *testing.T) {
	rlID := 10
	// Both thresholds breached: $100 expected, $130 invoiced (30%, $30).
	flags := evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("1"),
		ReceivedQty:     dec("1"),
		ExpectedCostUSD: dec("100"),
		UnitCostUSD:     dec("130"),
	}}, decimal.Zero, decimal.Zero)
	if len(flags) != 1 || flags[0].Kind != FlagUnitCostVariance {
		t.Fatalf("expected unit_cost_variance, got %+v", flags)
	}

	// Large absolute but small relative variance: $1000 vs $1030 is 3%.
	flags = evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("1"),
		ReceivedQty:     dec("1"),
		ExpectedCostUSD: dec("1000"),
		UnitCostUSD:     dec("1030"),
	}}, decimal.Zero, decimal.Zero)
	if len(flags) != 0 {
		t.Fatalf("pct below threshold must pass, got %+v", flags)
	}

	// Zero USD expectation falls back to the LBP threshold.
	flags = evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("1"),
		ReceivedQty:     dec("1"),
		ExpectedCostLBP: dec("10000000"),
		UnitCostLBP:     dec("13000000"),
	}}, decimal.Zero, decimal.Zero)
	if len(flags) != 1 || flags[0].Kind != FlagUnitCostVariance {
		t.Fatalf("expected LBP unit_cost_variance, got %+v", flags)
	}
	if flags[0].ExpectedLBP == nil || !flags[0].ExpectedLBP.Equal(dec("10000000")) {
		t.Errorf("LBP flag must carry expected_lbp, got %+v", flags[0])
	}
}

func TestThreeWayMatch_TaxVariance(t *testing.T) {
	rlID := 10
	itemRate := dec("0.11")
	invoiceRate := decimal.Zero

	// Item taxed at 11% on 100,000,000 LBP while the invoice carries no tax:
	// expected 11,000,000 vs 0 → over both thresholds.
	flags := evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("100"),
		ReceivedQty:     dec("100"),
		UnitCostLBP:     dec("1000000"),
		ExpectedCostLBP: dec("1000000"),
		ItemTaxRate:     &itemRate,
	}}, invoiceRate, decimal.Zero)
	found := false
	for _, f := range flags {
		if f.Kind == FlagTaxVariance {
			found = true
			if f.ExpectedLBP == nil || !f.ExpectedLBP.Equal(dec("11000000")) {
				t.Errorf("expected tax 11000000, got %+v", f.ExpectedLBP)
			}
		}
	}
	if !found {
		t.Fatalf("expected tax_variance flag, got %+v", flags)
	}

	// Same rates everywhere: no mismatch, no flag regardless of the diff.
	flags = evaluateThreeWayMatch(matchDefaults(), []matchLine{{
		InvoiceLineID:   1,
		ReceiptLineID:   &rlID,
		QtyBase:         dec("100"),
		ReceivedQty:     dec("100"),
		UnitCostLBP:     dec("1000000"),
		ExpectedCostLBP: dec("1000000"),
	}}, dec("0.11"), decimal.Zero)
	for _, f := range flags {
		if f.Kind == FlagTaxVariance {
			t.Fatalf("matching rates must not flag: %+v", f)
		}
	}
}

package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestResolveLineQuantity_BaseUnit(t *testing.T) {
	out, err := resolveLineQuantity(LineQuantityInput{
		QtyBase: dec("12"),
	}, "EA", decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.UOM != "EA" {
		t.Errorf("expected base uom EA, got %s", out.UOM)
	}
	if !out.QtyFactor.Equal(dec("1")) {
		t.Errorf("expected factor 1, got %s", out.QtyFactor)
	}
	if !out.QtyEntered.Equal(dec("12")) {
		t.Errorf("expected entered 12, got %s", out.QtyEntered)
	}
}

func TestResolveLineQuantity_RejectsNonPositiveBase(t *testing.T) {
	_, err := resolveLineQuantity(LineQuantityInput{QtyBase: dec("0")}, "EA", dec("1"))
	if err == nil {
		t.Fatal("expected error for zero qty_base")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("expected VALIDATION, got %s", KindOf(err))
	}
}

func TestResolveLineQuantity_EnteredConsistency(t *testing.T) {
	// 2 cartons of 12 = 24 base units
	out, err := resolveLineQuantity(LineQuantityInput{
		QtyBase:    dec("24"),
		QtyEntered: dec("2"),
		UOM:        "CTN",
	}, "EA", dec("12"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.QtyFactor.Equal(dec("12")) {
		t.Errorf("expected canonical factor 12, got %s", out.QtyFactor)
	}

	// 2 × 12 = 24, but base says 25 — inconsistent beyond 1e-6
	_, err = resolveLineQuantity(LineQuantityInput{
		QtyBase:    dec("25"),
		QtyEntered: dec("2"),
		UOM:        "CTN",
	}, "EA", dec("12"))
	if err == nil {
		t.Fatal("expected consistency error")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("expected VALIDATION, got %s", KindOf(err))
	}
}

func TestResolveLineQuantity_LegacyFourDecimalFactor(t *testing.T) {
	// Canonical factor 0.083333 (1/12 at 6dp). Legacy clients send 0.0833.
	canonical := dec("0.083333")

	// Same 4dp bucket: accepted, and the consistency check runs against the
	// submitted factor, not the canonical one.
	out, err := resolveLineQuantity(LineQuantityInput{
		QtyBase:    dec("0.8330"),
		QtyEntered: dec("10"),
		UOM:        "DOZ",
		QtyFactor:  dec("0.0833"),
	}, "EA", canonical)
	if err != nil {
		t.Fatalf("unexpected error for legacy 4dp factor: %v", err)
	}
	if !out.QtyFactor.Equal(canonical) {
		t.Errorf("stored factor must be canonical %s, got %s", canonical, out.QtyFactor)
	}

	// Within the 0.00005 absolute slack.
	if _, err := resolveLineQuantity(LineQuantityInput{
		QtyBase:   dec("1"),
		UOM:       "DOZ",
		QtyFactor: dec("0.083300"),
	}, "EA", canonical); err != nil {
		t.Fatalf("unexpected error for factor within slack: %v", err)
	}

	// Far off: rejected.
	if _, err := resolveLineQuantity(LineQuantityInput{
		QtyBase:   dec("1"),
		UOM:       "DOZ",
		QtyFactor: dec("0.09"),
	}, "EA", canonical); err == nil {
		t.Fatal("expected rejection of drifted factor")
	}
}

func TestResolveLineQuantity_DerivesEntered(t *testing.T) {
	out, err := resolveLineQuantity(LineQuantityInput{
		QtyBase: dec("24"),
		UOM:     "CTN",
	}, "EA", dec("12"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.QtyEntered.Equal(dec("2")) {
		t.Errorf("expected derived entered 2, got %s", out.QtyEntered)
	}
}

func TestNormalizeDual(t *testing.T) {
	rate := dec("89500")

	// LBP derived from USD
	d := NormalizeDual(dec("10"), decimal.Zero, rate)
	if !d.LBP.Equal(dec("895000")) {
		t.Errorf("expected derived LBP 895000, got %s", d.LBP)
	}

	// USD derived from LBP
	d = NormalizeDual(decimal.Zero, dec("895000"), rate)
	if !d.USD.Equal(dec("10")) {
		t.Errorf("expected derived USD 10, got %s", d.USD)
	}

	// Both provided: never recomputed
	d = NormalizeDual(dec("10"), dec("900000"), rate)
	if !d.LBP.Equal(dec("900000")) {
		t.Errorf("expected LBP kept at 900000, got %s", d.LBP)
	}

	// No rate: pair unchanged
	d = NormalizeDual(dec("5"), decimal.Zero, decimal.Zero)
	if !d.LBP.IsZero() {
		t.Errorf("expected LBP zero without a rate, got %s", d.LBP)
	}
}

func TestQuantization(t *testing.T) {
	if got := QUSD(dec("1.00005")); !got.Equal(dec("1.0001")) {
		t.Errorf("QUSD half-up failed: got %s", got)
	}
	if got := QLBP(dec("1500.005")); !got.Equal(dec("1500.01")) {
		t.Errorf("QLBP half-up failed: got %s", got)
	}
	if Sign(dec("-3")) != -1 || Sign(decimal.Zero) != 0 || Sign(dec("2")) != 1 {
		t.Error("Sign helper misbehaved")
	}
}

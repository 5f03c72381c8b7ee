package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// matchLine is everything the matcher needs about one invoice line joined to
// its receipt line: the already-invoiced quantity on other posted invoices,
// the expected unit cost (PO first, receipt as fallback), and the item's own
// tax rate when it differs from the invoice header.
type matchLine struct {
	InvoiceLineID   int
	ReceiptLineID   *int
	QtyBase         decimal.Decimal
	UnitCostUSD     decimal.Decimal
	UnitCostLBP     decimal.Decimal
	ReceivedQty     decimal.Decimal
	PriorInvoiced   decimal.Decimal
	ExpectedCostUSD decimal.Decimal
	ExpectedCostLBP decimal.Decimal
	ItemTaxRate     *decimal.Decimal
}

// evaluateThreeWayMatch runs the AP variance checks and returns the flags to
// persist. invoiceTaxRate is the header tax code's rate (zero when untaxed);
// invoiceTaxLBP is the tax actually computed for the invoice.
func evaluateThreeWayMatch(cfg ThreeWayMatchSettings, lines []matchLine, invoiceTaxRate, invoiceTaxLBP decimal.Decimal) []HoldFlag {
	var flags []HoldFlag

	for i := range lines {
		l := &lines[i]
		if l.ReceiptLineID == nil {
			continue
		}

		// Quantity: total invoiced across posted invoices plus this one must
		// stay within the received quantity.
		totalInvoiced := l.PriorInvoiced.Add(l.QtyBase)
		if totalInvoiced.GreaterThan(l.ReceivedQty.Add(cfg.QtyEpsilon)) {
			exp := l.ReceivedQty
			act := totalInvoiced
			lineID := l.InvoiceLineID
			flags = append(flags, HoldFlag{
				Kind:          FlagQtyExceedsReceived,
				InvoiceLineID: &lineID,
				ReceiptLineID: l.ReceiptLineID,
				Expected:      &exp,
				Actual:        &act,
				Message:       fmt.Sprintf("invoiced qty %s exceeds received %s", act, exp),
			})
		}

		// Unit cost: flag only when both the absolute and percentage variance
		// thresholds are breached. A zero-USD expectation falls back to LBP.
		if l.ExpectedCostUSD.Sign() > 0 {
			varUSD := l.UnitCostUSD.Sub(l.ExpectedCostUSD).Abs()
			pct := varUSD.Div(l.ExpectedCostUSD)
			if varUSD.GreaterThanOrEqual(cfg.AbsUSDThreshold) && pct.GreaterThanOrEqual(cfg.PctThreshold) {
				exp := l.ExpectedCostUSD
				act := l.UnitCostUSD
				p := pct
				lineID := l.InvoiceLineID
				flags = append(flags, HoldFlag{
					Kind:          FlagUnitCostVariance,
					InvoiceLineID: &lineID,
					ReceiptLineID: l.ReceiptLineID,
					Expected:      &exp,
					Actual:        &act,
					Pct:           &p,
					Message:       fmt.Sprintf("unit cost %s deviates from expected %s", act, exp),
				})
			}
		} else if l.ExpectedCostLBP.Sign() > 0 {
			varLBP := l.UnitCostLBP.Sub(l.ExpectedCostLBP).Abs()
			if varLBP.GreaterThanOrEqual(cfg.AbsLBPThreshold) {
				exp := l.ExpectedCostLBP
				act := l.UnitCostLBP
				lineID := l.InvoiceLineID
				flags = append(flags, HoldFlag{
					Kind:          FlagUnitCostVariance,
					InvoiceLineID: &lineID,
					ReceiptLineID: l.ReceiptLineID,
					ExpectedLBP:   &exp,
					ActualLBP:     &act,
					Message:       fmt.Sprintf("unit cost %s LBP deviates from expected %s LBP", act, exp),
				})
			}
		}
	}

	if f := evaluateTaxVariance(cfg, lines, invoiceTaxRate, invoiceTaxLBP); f != nil {
		flags = append(flags, *f)
	}
	return flags
}

// evaluateTaxVariance recomputes the expected tax using each item's own rate
// where it differs from the header rate. Flags only when at least one line
// uses a different rate AND both the absolute and relative differences are
// above threshold.
func evaluateTaxVariance(cfg ThreeWayMatchSettings, lines []matchLine, invoiceTaxRate, invoiceTaxLBP decimal.Decimal) *HoldFlag {
	var expected, base decimal.Decimal
	mismatch := false
	for i := range lines {
		l := &lines[i]
		lineTotal := l.UnitCostLBP.Mul(l.QtyBase)
		base = base.Add(lineTotal)
		rate := invoiceTaxRate
		if l.ItemTaxRate != nil && !l.ItemTaxRate.Equal(invoiceTaxRate) {
			rate = *l.ItemTaxRate
			mismatch = true
		}
		expected = expected.Add(lineTotal.Mul(rate))
	}
	if !mismatch || base.Sign() <= 0 {
		return nil
	}

	expected = QLBP(expected)
	diff := expected.Sub(invoiceTaxLBP).Abs()
	if diff.LessThan(cfg.TaxDiffLBPThreshold) || diff.Div(base).LessThan(cfg.TaxDiffPctThreshold) {
		return nil
	}
	exp := expected
	act := invoiceTaxLBP
	return &HoldFlag{
		Kind:        FlagTaxVariance,
		ExpectedLBP: &exp,
		ActualLBP:   &act,
		Message:     fmt.Sprintf("expected tax %s LBP, invoice carries %s LBP", exp, act),
	}
}

// newHoldDetails wraps flags into the persisted hold payload.
func newHoldDetails(flags []HoldFlag) *HoldDetails {
	return &HoldDetails{Flags: flags, CheckedAt: time.Now().UTC()}
}

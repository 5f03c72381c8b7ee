package core

import (
	"github.com/shopspring/decimal"
)

// Monetary quantization. USD amounts are carried at 4 decimals, LBP at 2.
// All rounding is half-up; no binary floats anywhere in the posting paths.

const (
	usdPlaces = 4
	lbpPlaces = 2
)

// QUSD rounds a USD amount half-up to 4 decimal places.
func QUSD(x decimal.Decimal) decimal.Decimal {
	return x.Round(usdPlaces)
}

// QLBP rounds an LBP amount half-up to 2 decimal places.
func QLBP(x decimal.Decimal) decimal.Decimal {
	return x.Round(lbpPlaces)
}

// Dual is a (USD, LBP) amount pair. Debit/credit direction is never encoded
// in the sign; posting paths keep both sides non-negative.
type Dual struct {
	USD decimal.Decimal
	LBP decimal.Decimal
}

// Zero reports whether both sides are zero.
func (d Dual) Zero() bool { return d.USD.IsZero() && d.LBP.IsZero() }

// Add returns the element-wise sum, quantized.
func (d Dual) Add(o Dual) Dual {
	return Dual{USD: QUSD(d.USD.Add(o.USD)), LBP: QLBP(d.LBP.Add(o.LBP))}
}

// Sub returns the element-wise difference, quantized.
func (d Dual) Sub(o Dual) Dual {
	return Dual{USD: QUSD(d.USD.Sub(o.USD)), LBP: QLBP(d.LBP.Sub(o.LBP))}
}

// MulQty scales both sides by a quantity, quantized.
func (d Dual) MulQty(qty decimal.Decimal) Dual {
	return Dual{USD: QUSD(d.USD.Mul(qty)), LBP: QLBP(d.LBP.Mul(qty))}
}

// Neg negates both sides.
func (d Dual) Neg() Dual { return Dual{USD: d.USD.Neg(), LBP: d.LBP.Neg()} }

// NormalizeDual fills the missing side of a dual amount from the exchange rate.
// If exactly one side is zero and rate > 0, the zero side is derived
// (lbp = usd × rate, usd = lbp ÷ rate). When both sides are provided they are
// kept as entered — the pair is never recomputed.
func NormalizeDual(usd, lbp, usdToLbp decimal.Decimal) Dual {
	usd = QUSD(usd)
	lbp = QLBP(lbp)
	if usdToLbp.Sign() > 0 {
		switch {
		case usd.IsZero() && !lbp.IsZero():
			usd = QUSD(lbp.Div(usdToLbp))
		case lbp.IsZero() && !usd.IsZero():
			lbp = QLBP(usd.Mul(usdToLbp))
		}
	}
	return Dual{USD: usd, LBP: lbp}
}

// Sign returns -1, 0 or 1 for x.
func Sign(x decimal.Decimal) int { return x.Sign() }

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Conversion factors are stored at 6 decimals. Legacy clients send 4dp
// factors; those are accepted when within a half-step of the canonical value.

const factorPlaces = 6

var (
	qtyTolerance      = decimal.New(1, -6) // 1e-6 base-qty consistency band
	legacyFactorSlack = decimal.New(5, -5) // 0.00005 absolute deviation
)

// LineQuantityInput is a document line's quantity as submitted.
type LineQuantityInput struct {
	QtyBase    decimal.Decimal
	QtyEntered decimal.Decimal // zero means "not entered"
	UOM        string          // empty means the item's base unit
	QtyFactor  decimal.Decimal // zero means "use the canonical conversion"
}

// LineQuantity is the canonical resolution of a line's quantity.
type LineQuantity struct {
	UOM        string
	QtyFactor  decimal.Decimal // canonical, 6dp
	QtyEntered decimal.Decimal // 6dp
	QtyBase    decimal.Decimal
}

// resolveLineQuantity canonicalizes a quantity triple against the item's base
// unit and the canonical entered→base factor. The stored factor is always the
// canonical 6dp value; the consistency check runs against the accepted input
// factor so legacy 4dp submissions keep validating.
func resolveLineQuantity(in LineQuantityInput, baseUOM string, canonicalFactor decimal.Decimal) (LineQuantity, error) {
	if in.QtyBase.Sign() <= 0 {
		return LineQuantity{}, E(KindValidation, "qty_base must be positive, got %s", in.QtyBase)
	}

	uom := strings.TrimSpace(in.UOM)
	if uom == "" {
		uom = baseUOM
	}
	if uom == baseUOM {
		canonicalFactor = decimal.NewFromInt(1)
	}
	canonical := canonicalFactor.Round(factorPlaces)
	if canonical.Sign() <= 0 {
		return LineQuantity{}, E(KindValidation, "uom %s has a non-positive conversion factor", uom)
	}

	accepted := canonical
	if !in.QtyFactor.IsZero() && !in.QtyFactor.Equal(canonical) {
		sameBucket := in.QtyFactor.Round(4).Equal(canonical.Round(4))
		withinSlack := in.QtyFactor.Sub(canonical).Abs().LessThanOrEqual(legacyFactorSlack)
		if !sameBucket && !withinSlack {
			return LineQuantity{}, E(KindValidation,
				"qty_factor %s does not match conversion %s for uom %s", in.QtyFactor, canonical, uom)
		}
		accepted = in.QtyFactor
	}

	entered := in.QtyEntered
	if entered.Sign() > 0 {
		diff := in.QtyBase.Sub(entered.Mul(accepted)).Abs()
		if diff.GreaterThan(qtyTolerance) {
			return LineQuantity{}, E(KindValidation,
				"qty_base %s inconsistent with qty_entered %s x factor %s (diff %s)",
				in.QtyBase, entered, accepted, diff)
		}
	} else {
		entered = in.QtyBase.DivRound(accepted, factorPlaces)
	}

	return LineQuantity{
		UOM:        uom,
		QtyFactor:  canonical,
		QtyEntered: entered.Round(factorPlaces),
		QtyBase:    in.QtyBase,
	}, nil
}

// UOMResolver resolves a line quantity against the item master and the
// item_uom_conversions table.
type UOMResolver struct{}

func NewUOMResolver() *UOMResolver { return &UOMResolver{} }

// ResolveTx canonicalizes a line quantity for an item inside the caller's
// transaction. Non-base units require an active conversion row.
func (r *UOMResolver) ResolveTx(ctx context.Context, tx pgx.Tx, itemID int, in LineQuantityInput) (LineQuantity, error) {
	var baseUOM string
	if err := tx.QueryRow(ctx,
		"SELECT unit_of_measure FROM items WHERE id = $1",
		itemID,
	).Scan(&baseUOM); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LineQuantity{}, E(KindNotFound, "item %d not found", itemID)
		}
		return LineQuantity{}, fmt.Errorf("resolve item base uom: %w", err)
	}

	uom := strings.TrimSpace(in.UOM)
	factor := decimal.NewFromInt(1)
	if uom != "" && uom != baseUOM {
		err := tx.QueryRow(ctx, `
			SELECT factor FROM item_uom_conversions
			WHERE item_id = $1 AND uom = $2 AND is_active = true`,
			itemID, uom,
		).Scan(&factor)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return LineQuantity{}, E(KindValidation, "no active conversion from %s to %s for item %d", uom, baseUOM, itemID)
			}
			return LineQuantity{}, fmt.Errorf("resolve uom conversion: %w", err)
		}
	}

	return resolveLineQuantity(in, baseUOM, factor)
}

/*
billing.go - Billing recalculation

PURPOSE:
  Keeps line item pricing consistent with billability and the operation
  period. It runs inside the mutation transaction, after the inventory
  guards and before save.

RULES:
  Billability turns off         → null the four pricing fields, drop extras
  Billability turns on          → seed unit price and tax from the catalog,
                                  discount 0, compute the degressive rate
  Operation period changes      → recompute only the degressive rate; prices
                                  already on the line are kept
  Line price overridden         → price and discount kept unless ResetPrices,
                                  the degressive rate still follows the period

TABLE PRECEDENCE:
  booking table → material table → none (every day charged)

SEE ALSO:
  - degressive.go: tier resolution
  - service.go: when Recalculate runs
*/
package generic

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RecalculateOptions struct {
	// ResetPrices re-seeds every line from the catalog, overrides included.
	ResetPrices bool
}

type BillingRecalculator struct {
	catalog MaterialCatalog
	log     *zap.Logger
}

func NewBillingRecalculator(catalog MaterialCatalog, log *zap.Logger) *BillingRecalculator {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingRecalculator{catalog: catalog, log: log.Named("billing")}
}

// NeedsRecalculation reports whether billability or the operation period
// changed. A nil prev means the booking is being created.
func NeedsRecalculation(prev, cur *Booking) bool {
	if prev == nil {
		return true
	}
	return prev.IsBillable != cur.IsBillable ||
		!prev.OperationPeriod.SameRange(cur.OperationPeriod)
}

// Recalculate applies the pricing rules to cur in place.
func (r *BillingRecalculator) Recalculate(ctx context.Context, prev, cur *Booking, opts RecalculateOptions) error {
	if !opts.ResetPrices && !NeedsRecalculation(prev, cur) {
		return nil
	}

	if !cur.IsBillable {
		for i := range cur.Materials {
			clearPricing(&cur.Materials[i])
		}
		cur.Extras = nil
		return nil
	}

	reseed := opts.ResetPrices || prev == nil || !prev.IsBillable
	days := cur.OperationPeriod.AsDays()

	for i := range cur.Materials {
		line := &cur.Materials[i]
		material, err := r.catalog.GetMaterial(ctx, line.MaterialID)
		if err != nil {
			return fmt.Errorf("pricing line %s: %w", line.MaterialID, err)
		}
		// An overridden line keeps its price and discount, the rate
		// still follows the duration.
		frozen := line.UnitPriceOverridden && !reseed
		if !frozen && (reseed || line.UnitPrice == nil) {
			seedPricing(line, material)
		}
		coef, err := r.coefficient(ctx, cur, material, days)
		if err != nil {
			return err
		}
		line.DegressiveRate = &coef
	}
	return nil
}

// SeedLine prices a line that was just attached to the booking.
func (r *BillingRecalculator) SeedLine(ctx context.Context, b *Booking, line *BookingMaterial) error {
	if !b.IsBillable {
		clearPricing(line)
		return nil
	}
	material, err := r.catalog.GetMaterial(ctx, line.MaterialID)
	if err != nil {
		return fmt.Errorf("pricing line %s: %w", line.MaterialID, err)
	}
	seedPricing(line, material)
	coef, err := r.coefficient(ctx, b, material, b.OperationPeriod.AsDays())
	if err != nil {
		return err
	}
	line.DegressiveRate = &coef
	return nil
}

func (r *BillingRecalculator) coefficient(ctx context.Context, b *Booking, material *Material, days int) (decimal.Decimal, error) {
	table, err := r.tableFor(ctx, b, material)
	if err != nil {
		return decimal.Zero, err
	}
	return table.Resolve(days).Coefficient(days), nil
}

func (r *BillingRecalculator) tableFor(ctx context.Context, b *Booking, material *Material) (*DegressiveRateTable, error) {
	id := b.DegressiveTableID
	if id == nil {
		id = material.DegressiveTableID
	}
	if id == nil {
		return nil, nil
	}
	table, err := r.catalog.GetDegressiveTable(ctx, *id)
	if errors.Is(err, ErrTableNotFound) {
		r.log.Warn("degressive rate table not found, charging every day",
			zap.String("booking_id", string(b.ID)),
			zap.String("table_id", string(*id)))
		return nil, nil
	}
	return table, err
}

func seedPricing(line *BookingMaterial, material *Material) {
	line.UnitPrice = DecimalPtr(material.RentalPrice)
	line.DiscountRate = DecimalPtr(decimal.Zero)
	line.Tax = cloneTax(material.Tax)
	line.UnitPriceOverridden = false
}

func clearPricing(line *BookingMaterial) {
	line.UnitPrice = nil
	line.DiscountRate = nil
	line.Tax = nil
	line.DegressiveRate = nil
	line.UnitPriceOverridden = false
}

// =============================================================================
// TOTALS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// LineTotal = unit price × degressive rate × quantity, minus the discount.
// Zero for non-billable lines.
func LineTotal(line BookingMaterial) decimal.Decimal {
	if line.UnitPrice == nil || line.DegressiveRate == nil {
		return decimal.Zero
	}
	total := line.UnitPrice.Mul(*line.DegressiveRate).Mul(decimal.NewFromInt(int64(line.Quantity)))
	if line.DiscountRate != nil && !line.DiscountRate.IsZero() {
		total = total.Mul(hundred.Sub(*line.DiscountRate)).Div(hundred)
	}
	return total.Round(2)
}

// Totals summarizes a booking's billing.
type Totals struct {
	WithoutTaxes decimal.Decimal
	Taxes        decimal.Decimal
	WithTaxes    decimal.Decimal
}

func BookingTotals(b *Booking) Totals {
	var t Totals
	for _, line := range b.Materials {
		amount := LineTotal(line)
		t.WithoutTaxes = t.WithoutTaxes.Add(amount)
		if line.Tax != nil {
			t.Taxes = t.Taxes.Add(line.Tax.Amount(amount, line.Quantity))
		}
	}
	for _, extra := range b.Extras {
		amount := extra.UnitPrice.Mul(decimal.NewFromInt(int64(extra.Quantity))).Round(2)
		t.WithoutTaxes = t.WithoutTaxes.Add(amount)
		if extra.Tax != nil {
			t.Taxes = t.Taxes.Add(extra.Tax.Amount(amount, extra.Quantity))
		}
	}
	t.WithTaxes = t.WithoutTaxes.Add(t.Taxes)
	return t
}

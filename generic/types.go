/*
Package generic provides the variant-agnostic booking lifecycle engine.

PURPOSE:
  This package contains the types and algorithms shared by every booking
  variant. Whether the booking is an event or a future variant, the same
  engine handles period algebra, degressive pricing, departure/return
  inventories, billing recalculation and cache invalidation of neighbors.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe IDs for bookings, materials, users, rate tables
  - TaxSnapshot: the tax configuration copied onto a line item
  - Material: a catalog entry (stock, rental price, tax, rate table)
  - Pointer helpers for the nullable pricing/inventory fields

DESIGN PRINCIPLES:
  1. Precision: all money uses decimal.Decimal
  2. Null is state: a nil unit price means "not billable", not "unknown"
  3. Type Safety: distinct ID types prevent mixing booking and material IDs

SEE ALSO:
  - booking.go: Booking aggregate and line items
  - period.go: Period algebra
  - service.go: BookingService orchestrating a mutation
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type MaterialID string
type UserID string
type TableID string

// =============================================================================
// TAX SNAPSHOT
// =============================================================================

// TaxSnapshot is the tax configuration captured on a line item when its price
// is seeded. Later catalog changes never alter an existing snapshot.
type TaxSnapshot struct {
	Name   string
	IsRate bool // true: Value is a percentage, false: fixed amount per unit
	Value  decimal.Decimal
}

// Amount returns the tax due for the given base amount and quantity.
func (t TaxSnapshot) Amount(base decimal.Decimal, quantity int) decimal.Decimal {
	if t.IsRate {
		return base.Mul(t.Value).Div(decimal.NewFromInt(100)).Round(2)
	}
	return t.Value.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// =============================================================================
// MATERIAL - Catalog entry, read-only for the engine
// =============================================================================

type Material struct {
	ID                MaterialID
	Name              string
	StockQuantity     int
	RentalPrice       decimal.Decimal
	Tax               *TaxSnapshot
	DegressiveTableID *TableID
}

// =============================================================================
// HELPERS
// =============================================================================

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
func IntPtr(n int) *int                             { return &n }
func StringPtr(s string) *string                    { return &s }
func TimePtr(t time.Time) *time.Time                { return &t }
func UserPtr(u UserID) *UserID                      { return &u }
func TablePtr(t TableID) *TableID                   { return &t }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneDecimal(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTax(p *TaxSnapshot) *TaxSnapshot {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

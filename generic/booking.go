/*
booking.go - The Booking aggregate

PURPOSE:
  A Booking reserves materials over two periods:

    OperationPeriod     when the booking actually takes place (billed)
    MobilizationPeriod  when materials leave and come back (always encloses
                        the operation period; drives stock occupation)

  Line items (BookingMaterial) carry the requested quantity, the pricing
  snapshot and the per-line inventory data for departure and return.

NULLABLE PRICING:
  When IsBillable is false, UnitPrice, DiscountRate, Tax and DegressiveRate
  are nil on every line. When it is true, all four are set. The billing
  recalculator keeps this consistent.

SEE ALSO:
  - inventory.go: departure/return state machine
  - billing.go: pricing recalculation
  - service.go: mutations
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOOKING
// =============================================================================

type Booking struct {
	ID          BookingID
	Kind        Kind
	Title       string
	Reference   string
	Description string
	Location    string
	Notes       string

	OperationPeriod    Period
	MobilizationPeriod Period

	IsConfirmed bool
	IsBillable  bool
	IsArchived  bool

	// DegressiveTableID overrides the per-material tables for every line.
	DegressiveTableID *TableID

	Departure InventoryState
	Return    InventoryState

	Materials []BookingMaterial
	Extras    []BookingExtra

	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookingMaterial is one line item of a booking.
type BookingMaterial struct {
	MaterialID MaterialID
	Quantity   int

	// Pricing snapshot, nil when the booking is not billable.
	UnitPrice      *decimal.Decimal
	DiscountRate   *decimal.Decimal
	Tax            *TaxSnapshot
	DegressiveRate *decimal.Decimal

	// UnitPriceOverridden keeps the unit price and discount across
	// period-driven recalculation.
	UnitPriceOverridden bool

	QuantityDeparted       *int
	DepartureComment       *string
	QuantityReturned       *int
	QuantityReturnedBroken *int
}

// BookingExtra is a free-form billable line (delivery, staff...).
type BookingExtra struct {
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Tax         *TaxSnapshot
}

// MaterialQuantity is a requested line: which material, how many.
type MaterialQuantity struct {
	MaterialID MaterialID
	Quantity   int
}

// BillingDocument is an estimate or invoice issued for a booking.
// Documents are owned by the booking and removed with it on hard delete.
type BillingDocument struct {
	ID        string
	BookingID BookingID
	Type      string // "estimate" | "invoice"
	Number    string
	Total     decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// ACCESSORS
// =============================================================================

func (b *Booking) IsDeleted() bool { return b.DeletedAt != nil }

// HasUnifiedPeriods reports whether operation and mobilization cover
// the same range, in which case clients display a single period.
func (b *Booking) HasUnifiedPeriods() bool {
	return b.OperationPeriod.SameRange(b.MobilizationPeriod)
}

func (b *Booking) materialIndex(id MaterialID) int {
	for i := range b.Materials {
		if b.Materials[i].MaterialID == id {
			return i
		}
	}
	return -1
}

// Material returns the line for the given material.
func (b *Booking) Material(id MaterialID) (*BookingMaterial, bool) {
	i := b.materialIndex(id)
	if i < 0 {
		return nil, false
	}
	return &b.Materials[i], true
}

// Clone returns a deep copy. Mutations work on clones so the previous
// version stays intact for comparison.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	out := *b
	out.OperationPeriod = b.OperationPeriod.clone()
	out.MobilizationPeriod = b.MobilizationPeriod.clone()
	out.DegressiveTableID = cloneTable(b.DegressiveTableID)
	out.Departure = b.Departure.clone()
	out.Return = b.Return.clone()
	out.DeletedAt = cloneTime(b.DeletedAt)

	if b.Materials != nil {
		out.Materials = make([]BookingMaterial, len(b.Materials))
		for i, m := range b.Materials {
			out.Materials[i] = m.clone()
		}
	}
	if b.Extras != nil {
		out.Extras = make([]BookingExtra, len(b.Extras))
		for i, e := range b.Extras {
			e.Tax = cloneTax(e.Tax)
			out.Extras[i] = e
		}
	}
	return &out
}

func (m BookingMaterial) clone() BookingMaterial {
	m.UnitPrice = cloneDecimal(m.UnitPrice)
	m.DiscountRate = cloneDecimal(m.DiscountRate)
	m.Tax = cloneTax(m.Tax)
	m.DegressiveRate = cloneDecimal(m.DegressiveRate)
	m.QuantityDeparted = cloneInt(m.QuantityDeparted)
	m.DepartureComment = cloneString(m.DepartureComment)
	m.QuantityReturned = cloneInt(m.QuantityReturned)
	m.QuantityReturnedBroken = cloneInt(m.QuantityReturnedBroken)
	return m
}

func cloneTable(p *TableID) *TableID {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the structural invariants of the aggregate.
func (b *Booking) Validate() error {
	if _, ok := LookupKind(string(b.Kind)); !ok {
		return &InvalidArgumentError{Field: "kind", Reason: fmt.Sprintf("unknown booking kind %q", b.Kind)}
	}
	if err := b.OperationPeriod.Validate(); err != nil {
		return fmt.Errorf("operation period: %w", err)
	}
	if err := b.MobilizationPeriod.Validate(); err != nil {
		return fmt.Errorf("mobilization period: %w", err)
	}
	if !b.MobilizationPeriod.Encloses(b.OperationPeriod) {
		return fmt.Errorf("%w: mobilization period %s must contain operation period %s",
			ErrInvalidPeriod, b.MobilizationPeriod, b.OperationPeriod)
	}
	if err := b.Departure.Validate(); err != nil {
		return err
	}
	if err := b.Return.Validate(); err != nil {
		return err
	}

	seen := make(map[MaterialID]struct{}, len(b.Materials))
	for _, m := range b.Materials {
		if _, dup := seen[m.MaterialID]; dup {
			return &InvalidArgumentError{Field: "materials", Reason: fmt.Sprintf("duplicate material %s", m.MaterialID)}
		}
		seen[m.MaterialID] = struct{}{}
		if m.Quantity <= 0 {
			return &InvalidArgumentError{Field: "materials." + string(m.MaterialID), Reason: "quantity must be positive"}
		}
	}
	return nil
}

// =============================================================================
// DUPLICATION
// =============================================================================

// DuplicateAs builds a creation input copying the booking's content over new
// periods. Inventories, archival and confirmation are not carried over;
// prices are re-seeded from the catalog on creation.
func (b *Booking) DuplicateAs(operation, mobilization Period) NewBooking {
	materials := make([]MaterialQuantity, len(b.Materials))
	for i, m := range b.Materials {
		materials[i] = MaterialQuantity{MaterialID: m.MaterialID, Quantity: m.Quantity}
	}
	return NewBooking{
		Kind:               b.Kind,
		Title:              b.Title,
		Reference:          "",
		Description:        b.Description,
		Location:           b.Location,
		Notes:              b.Notes,
		OperationPeriod:    operation,
		MobilizationPeriod: mobilization,
		IsBillable:         b.IsBillable,
		DegressiveTableID:  cloneTable(b.DegressiveTableID),
		Materials:          materials,
	}
}

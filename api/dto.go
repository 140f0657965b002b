/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

PERIODS:
  Full-day periods use dates ("2025-03-01"), the end being the last day.
  Hourly periods use RFC 3339 datetimes, the end being exclusive.
  A null end means open-ended.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers;
  conversion only rejects malformed dates.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: CatalogJSON type
*/
package api

import (
	"fmt"
	"time"

	"github.com/loxya/booking-engine/generic"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// =============================================================================
// PERIODS
// =============================================================================

type PeriodDTO struct {
	Start      string  `json:"start"`
	End        *string `json:"end"`
	IsFullDays bool    `json:"is_full_days"`
}

func toPeriodDTO(p generic.Period) PeriodDTO {
	layout := time.RFC3339
	if p.FullDays {
		layout = dateLayout
	}
	dto := PeriodDTO{Start: p.Start.Format(layout), IsFullDays: p.FullDays}
	if p.End != nil {
		end := p.End.Format(layout)
		dto.End = &end
	}
	return dto
}

func (p PeriodDTO) toPeriod() (generic.Period, error) {
	start, err := parseInstant(p.Start, p.IsFullDays)
	if err != nil {
		return generic.Period{}, &generic.InvalidArgumentError{Field: "start", Reason: err.Error()}
	}
	if p.End == nil {
		return generic.NewOpenPeriod(start, p.IsFullDays), nil
	}
	end, err := parseInstant(*p.End, p.IsFullDays)
	if err != nil {
		return generic.Period{}, &generic.InvalidArgumentError{Field: "end", Reason: err.Error()}
	}
	return generic.NewPeriod(start, end, p.IsFullDays)
}

func parseInstant(s string, fullDays bool) (time.Time, error) {
	if fullDays {
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected a date or RFC 3339 datetime, got %q", s)
	}
	return t.UTC(), nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookingDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Reference   string `json:"reference,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Notes       string `json:"notes,omitempty"`

	OperationPeriod    PeriodDTO  `json:"operation_period"`
	MobilizationPeriod PeriodDTO  `json:"mobilization_period"`
	IsPeriodUnified    bool       `json:"is_period_unified"`
	RemainingPeriod    *PeriodDTO `json:"remaining_period,omitempty"`

	IsConfirmed bool `json:"is_confirmed"`
	IsBillable  bool `json:"is_billable"`
	IsArchived  bool `json:"is_archived"`

	DepartureInventory InventoryDTO `json:"departure_inventory"`
	ReturnInventory    InventoryDTO `json:"return_inventory"`

	IsReturnInventoryOverdue bool  `json:"is_return_inventory_overdue"`
	HasNotReturnedMaterials  bool  `json:"has_not_returned_materials"`
	HasMissingMaterials      *bool `json:"has_missing_materials,omitempty"`

	Materials []BookingMaterialDTO `json:"materials"`
	Extras    []BookingExtraDTO    `json:"extras"`
	Totals    *TotalsDTO           `json:"totals,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type InventoryDTO struct {
	Status   string     `json:"status"`
	IsDone   bool       `json:"is_done"`
	Author   *string    `json:"author,omitempty"`
	Datetime *time.Time `json:"datetime,omitempty"`
	CanEdit  bool       `json:"can_edit"`
}

type BookingMaterialDTO struct {
	MaterialID          string           `json:"material_id"`
	Quantity            int              `json:"quantity"`
	UnitPrice           *decimal.Decimal `json:"unit_price"`
	DiscountRate        *decimal.Decimal `json:"discount_rate"`
	Tax                 *TaxDTO          `json:"tax"`
	DegressiveRate      *decimal.Decimal `json:"degressive_rate"`
	UnitPriceOverridden bool             `json:"unit_price_overridden"`
	Total               *decimal.Decimal `json:"total"`

	QuantityDeparted       *int    `json:"quantity_departed"`
	DepartureComment       *string `json:"departure_comment"`
	QuantityReturned       *int    `json:"quantity_returned"`
	QuantityReturnedBroken *int    `json:"quantity_returned_broken"`
}

type TaxDTO struct {
	Name   string          `json:"name"`
	IsRate bool            `json:"is_rate"`
	Value  decimal.Decimal `json:"value"`
}

type BookingExtraDTO struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Tax         *TaxDTO         `json:"tax,omitempty"`
}

type TotalsDTO struct {
	WithoutTaxes decimal.Decimal `json:"total_without_taxes"`
	Taxes        decimal.Decimal `json:"total_taxes"`
	WithTaxes    decimal.Decimal `json:"total_with_taxes"`
}

type MissingMaterialDTO struct {
	MaterialID string `json:"material_id"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
	Missing    int    `json:"missing"`
}

type BillingDocumentDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Number    string          `json:"number"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

type MaterialDTO struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	StockQuantity     int             `json:"stock_quantity"`
	RentalPrice       decimal.Decimal `json:"rental_price"`
	Tax               *TaxDTO         `json:"tax,omitempty"`
	DegressiveTableID *string         `json:"degressive_table_id,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type MaterialQuantityDTO struct {
	MaterialID string `json:"material_id"`
	Quantity   int    `json:"quantity"`
}

type CreateBookingRequest struct {
	Kind               string                `json:"kind"`
	Title              string                `json:"title"`
	Reference          string                `json:"reference"`
	Description        string                `json:"description"`
	Location           string                `json:"location"`
	Notes              string                `json:"notes"`
	OperationPeriod    PeriodDTO             `json:"operation_period"`
	MobilizationPeriod *PeriodDTO            `json:"mobilization_period"` // defaults to the operation period
	IsConfirmed        bool                  `json:"is_confirmed"`
	IsBillable         bool                  `json:"is_billable"`
	DegressiveTableID  *string               `json:"degressive_table_id"`
	Materials          []MaterialQuantityDTO `json:"materials"`
}

type UpdatePeriodsRequest struct {
	OperationPeriod    PeriodDTO  `json:"operation_period"`
	MobilizationPeriod *PeriodDTO `json:"mobilization_period"`
}

type UpdateDetailsRequest struct {
	Title       string `json:"title"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Notes       string `json:"notes"`
	IsConfirmed bool   `json:"is_confirmed"`
}

type SetBillableRequest struct {
	IsBillable bool `json:"is_billable"`
}

type SetMaterialsRequest struct {
	Materials []MaterialQuantityDTO `json:"materials"`
}

type SetLinePriceRequest struct {
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	DiscountRate *decimal.Decimal `json:"discount_rate"`
}

type SetExtrasRequest struct {
	Extras []BookingExtraDTO `json:"extras"`
}

type InventoryLineDTO struct {
	MaterialID             string  `json:"material_id"`
	QuantityDeparted       *int    `json:"quantity_departed"`
	Comment                *string `json:"comment"`
	QuantityReturned       *int    `json:"quantity_returned"`
	QuantityReturnedBroken *int    `json:"quantity_returned_broken"`
}

type UpdateInventoryRequest struct {
	Materials []InventoryLineDTO `json:"materials"`
}

type FinishInventoryRequest struct {
	Author   string     `json:"author"`
	Datetime *time.Time `json:"datetime"` // return only, defaults to now
}

type DuplicateRequest struct {
	OperationPeriod    PeriodDTO  `json:"operation_period"`
	MobilizationPeriod *PeriodDTO `json:"mobilization_period"`
}

type IssueDocumentRequest struct {
	Type string `json:"type"` // estimate | invoice
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTaxDTO(t *generic.TaxSnapshot) *TaxDTO {
	if t == nil {
		return nil
	}
	return &TaxDTO{Name: t.Name, IsRate: t.IsRate, Value: t.Value}
}

func (t *TaxDTO) toTax() *generic.TaxSnapshot {
	if t == nil {
		return nil
	}
	return &generic.TaxSnapshot{Name: t.Name, IsRate: t.IsRate, Value: t.Value}
}

func toInventoryDTO(b *generic.Booking, phase generic.InventoryPhase, m *generic.InventoryMachine) InventoryDTO {
	state := b.Departure
	if phase == generic.PhaseReturn {
		state = b.Return
	}
	dto := InventoryDTO{
		Status:   string(generic.Status(b, phase)),
		IsDone:   state.IsDone,
		Datetime: state.Datetime,
		CanEdit:  !b.IsDeleted() && m.CanEditPhase(b, phase),
	}
	if state.AuthorRef != nil {
		author := string(*state.AuthorRef)
		dto.Author = &author
	}
	return dto
}

func toBookingDTO(b *generic.Booking, m *generic.InventoryMachine) BookingDTO {
	dto := BookingDTO{
		ID:                       string(b.ID),
		Kind:                     string(b.Kind),
		Title:                    b.Title,
		Reference:                b.Reference,
		Description:              b.Description,
		Location:                 b.Location,
		Notes:                    b.Notes,
		OperationPeriod:          toPeriodDTO(b.OperationPeriod),
		MobilizationPeriod:       toPeriodDTO(b.MobilizationPeriod),
		IsPeriodUnified:          b.HasUnifiedPeriods(),
		IsConfirmed:              b.IsConfirmed,
		IsBillable:               b.IsBillable,
		IsArchived:               b.IsArchived,
		DepartureInventory:       toInventoryDTO(b, generic.PhaseDeparture, m),
		ReturnInventory:          toInventoryDTO(b, generic.PhaseReturn, m),
		IsReturnInventoryOverdue: m.IsReturnOverdue(b),
		HasNotReturnedMaterials:  m.HasNotReturnedMaterials(b),
		Materials:                make([]BookingMaterialDTO, len(b.Materials)),
		Extras:                   make([]BookingExtraDTO, len(b.Extras)),
		DeletedAt:                b.DeletedAt,
		CreatedAt:                b.CreatedAt,
		UpdatedAt:                b.UpdatedAt,
	}
	if remaining, ok := m.RemainingPeriod(b); ok {
		r := toPeriodDTO(remaining)
		dto.RemainingPeriod = &r
	}
	for i, line := range b.Materials {
		md := BookingMaterialDTO{
			MaterialID:             string(line.MaterialID),
			Quantity:               line.Quantity,
			UnitPrice:              line.UnitPrice,
			DiscountRate:           line.DiscountRate,
			Tax:                    toTaxDTO(line.Tax),
			DegressiveRate:         line.DegressiveRate,
			UnitPriceOverridden:    line.UnitPriceOverridden,
			QuantityDeparted:       line.QuantityDeparted,
			DepartureComment:       line.DepartureComment,
			QuantityReturned:       line.QuantityReturned,
			QuantityReturnedBroken: line.QuantityReturnedBroken,
		}
		if line.UnitPrice != nil {
			total := generic.LineTotal(line)
			md.Total = &total
		}
		dto.Materials[i] = md
	}
	for i, e := range b.Extras {
		dto.Extras[i] = BookingExtraDTO{Description: e.Description, Quantity: e.Quantity, UnitPrice: e.UnitPrice, Tax: toTaxDTO(e.Tax)}
	}
	if b.IsBillable {
		t := generic.BookingTotals(b)
		dto.Totals = &TotalsDTO{WithoutTaxes: t.WithoutTaxes, Taxes: t.Taxes, WithTaxes: t.WithTaxes}
	}
	return dto
}

func toMaterialQuantities(lines []MaterialQuantityDTO) []generic.MaterialQuantity {
	out := make([]generic.MaterialQuantity, len(lines))
	for i, l := range lines {
		out[i] = generic.MaterialQuantity{MaterialID: generic.MaterialID(l.MaterialID), Quantity: l.Quantity}
	}
	return out
}

func toMaterialDTO(m *generic.Material) MaterialDTO {
	dto := MaterialDTO{
		ID:            string(m.ID),
		Name:          m.Name,
		StockQuantity: m.StockQuantity,
		RentalPrice:   m.RentalPrice,
		Tax:           toTaxDTO(m.Tax),
	}
	if m.DegressiveTableID != nil {
		id := string(*m.DegressiveTableID)
		dto.DegressiveTableID = &id
	}
	return dto
}

// periodsFromRequest defaults the mobilization period to the operation period.
func periodsFromRequest(operation PeriodDTO, mobilization *PeriodDTO) (generic.Period, generic.Period, error) {
	op, err := operation.toPeriod()
	if err != nil {
		return generic.Period{}, generic.Period{}, fmt.Errorf("operation period: %w", err)
	}
	if mobilization == nil {
		return op, op, nil
	}
	mob, err := mobilization.toPeriod()
	if err != nil {
		return generic.Period{}, generic.Period{}, fmt.Errorf("mobilization period: %w", err)
	}
	return op, mob, nil
}

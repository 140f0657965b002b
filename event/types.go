// Package event implements the event booking variant.
// Events are the only kind of booking today; they use the generic engine
// unchanged and add builders and presets on top of it.
package event

import "github.com/loxya/booking-engine/generic"

// =============================================================================
// EVENT KIND
// =============================================================================

const Kind generic.Kind = "event"

func init() {
	generic.RegisterKind(Kind)
}

// =============================================================================
// BUILDERS
// =============================================================================

type Option func(*generic.NewBooking)

func Billable() Option {
	return func(b *generic.NewBooking) { b.IsBillable = true }
}

func Confirmed() Option {
	return func(b *generic.NewBooking) { b.IsConfirmed = true }
}

func At(location string) Option {
	return func(b *generic.NewBooking) { b.Location = location }
}

func WithReference(ref string) Option {
	return func(b *generic.NewBooking) { b.Reference = ref }
}

func WithDegressiveTable(id generic.TableID) Option {
	return func(b *generic.NewBooking) { b.DegressiveTableID = generic.TablePtr(id) }
}

func WithMaterials(lines ...generic.MaterialQuantity) Option {
	return func(b *generic.NewBooking) { b.Materials = append(b.Materials, lines...) }
}

// New builds the creation input of an event.
func New(title string, operation, mobilization generic.Period, opts ...Option) generic.NewBooking {
	b := generic.NewBooking{
		Kind:               Kind,
		Title:              title,
		OperationPeriod:    operation,
		MobilizationPeriod: mobilization,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Unified builds an event whose materials leave and come back within the
// operation period itself.
func Unified(title string, period generic.Period, opts ...Option) generic.NewBooking {
	return New(title, period, period, opts...)
}

// Line is shorthand for a requested material line.
func Line(id generic.MaterialID, quantity int) generic.MaterialQuantity {
	return generic.MaterialQuantity{MaterialID: id, Quantity: quantity}
}

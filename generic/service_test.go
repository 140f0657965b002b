package generic_test

import (
	"testing"

	"github.com/loxya/booking-engine/event"
	"github.com/loxya/booking-engine/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CREATE / READ
// =============================================================================

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		in   generic.NewBooking
		want error
	}{
		{"missing title", event.Unified("  ", generic.Days(day(11), day(12))), generic.ErrInvalidArgument},
		{"unknown kind", generic.NewBooking{Kind: "wedding", Title: "X", OperationPeriod: generic.Days(day(11), day(12)), MobilizationPeriod: generic.Days(day(11), day(12))}, generic.ErrInvalidArgument},
		{"mobilization must enclose operation", event.New("X", generic.Days(day(11), day(14)), generic.Days(day(12), day(14))), generic.ErrInvalidPeriod},
		{"unknown material", event.Unified("X", generic.Days(day(11), day(12)), event.WithMaterials(event.Line("ghost", 1))), generic.ErrMaterialNotFound},
		{"duplicate material", event.Unified("X", generic.Days(day(11), day(12)), event.WithMaterials(event.Line("cable", 1), event.Line("cable", 2))), generic.ErrInvalidArgument},
		{"zero quantity", event.Unified("X", generic.Days(day(11), day(12)), event.WithMaterials(event.Line("cable", 0))), generic.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_BillableBookingIsPriced(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("Festival", generic.Days(day(11), day(20)),
		event.Billable(), event.WithMaterials(event.Line("speaker", 4))))

	stored := f.mustGet(t, b.ID)
	assertDecimal(t, "50", stored.Materials[0].UnitPrice)
	assertDecimal(t, "8", stored.Materials[0].DegressiveRate)
	assert.Equal(t, at(10, 9), stored.CreatedAt)
}

func TestGet_AutoFinishesEndedReturn(t *testing.T) {
	// GIVEN: auto return mode and a booking whose mobilization has ended
	f := newFixture(t, withPolicy(event.AutoReturnPolicy("system")))
	f.clock.Set(day(5))
	b := f.create(t, event.Unified("Past", generic.Days(day(6), day(8)), event.WithMaterials(event.Line("speaker", 2))))
	f.clock.Set(at(10, 9))

	// WHEN: reading it
	got, err := f.svc.Get(f.ctx, b.ID)

	// THEN: the return is done and persisted
	require.NoError(t, err)
	assert.True(t, got.Return.IsDone)
	assert.Equal(t, generic.UserID("system"), *got.Return.AuthorRef)
	assert.True(t, f.mustGet(t, b.ID).Return.IsDone)
	assert.Equal(t, ids(b), f.settle())
}

func TestGet_ManualModeLeavesReturnOpen(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(day(5))
	b := f.create(t, event.Unified("Past", generic.Days(day(6), day(8)), event.WithMaterials(event.Line("speaker", 2))))
	f.clock.Set(at(10, 9))

	got, err := f.svc.Get(f.ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.Return.IsDone)
	assert.True(t, f.svc.Inventory().IsReturnOverdue(got))
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, event.Unified("A", generic.Days(day(11), day(12))))
	b := f.create(t, event.Unified("B", generic.Days(day(20), day(21))))
	require.NoError(t, f.svc.SoftDelete(f.ctx, b.ID))

	all, err := f.svc.List(f.ctx, generic.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, ids(a), ids(all...))

	withDeleted, err := f.svc.List(f.ctx, generic.ListFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, withDeleted, 2)

	window := generic.Days(day(19), day(25))
	inWindow, err := f.svc.List(f.ctx, generic.ListFilter{Period: &window, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, ids(b), ids(inWindow...))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestArchive_MovingToFutureUnarchives(t *testing.T) {
	// GIVEN: an ended, returned and archived booking
	f := newFixture(t)
	f.clock.Set(day(5))
	b := f.create(t, event.Unified("Past", generic.Days(day(6), day(8)), event.WithMaterials(event.Line("speaker", 2))))
	f.clock.Set(at(10, 9))
	_, err := f.svc.UpdateReturn(f.ctx, b.ID, []generic.ReturnLine{returned("speaker", 2, 0)})
	require.NoError(t, err)
	_, err = f.svc.FinishReturn(f.ctx, b.ID, "bob", nil)
	require.NoError(t, err)
	archived, err := f.svc.Archive(f.ctx, b.ID)
	require.NoError(t, err)
	require.True(t, archived.IsArchived)

	// WHEN: its periods move to the future
	moved, err := f.svc.UpdatePeriods(f.ctx, b.ID, generic.Days(day(20), day(21)), generic.Days(day(20), day(21)))

	// THEN: it is no longer archived
	require.NoError(t, err)
	assert.False(t, moved.IsArchived)
}

func TestCancelReturn_UnarchivesThroughService(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(day(5))
	b := f.create(t, event.Unified("Past", generic.Days(day(6), day(8)), event.WithMaterials(event.Line("cable", 2))))
	f.clock.Set(at(10, 9))
	_, err := f.svc.UpdateReturn(f.ctx, b.ID, []generic.ReturnLine{returned("cable", 2, 0)})
	require.NoError(t, err)
	_, err = f.svc.FinishReturn(f.ctx, b.ID, "bob", nil)
	require.NoError(t, err)
	_, err = f.svc.Archive(f.ctx, b.ID)
	require.NoError(t, err)

	// Archived bookings reject inventory edits but accept a cancel
	_, err = f.svc.UpdateReturn(f.ctx, b.ID, nil)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	got, err := f.svc.CancelReturn(f.ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.IsArchived)
	assert.False(t, got.Return.IsDone)
}

func TestSoftDelete_BlocksMutationsUntilRestored(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(12))))
	require.NoError(t, f.svc.SoftDelete(f.ctx, b.ID))

	_, err := f.svc.UpdateDetails(f.ctx, b.ID, generic.BookingDetails{Title: "B"})
	assert.ErrorIs(t, err, generic.ErrBookingDeleted)
	assert.True(t, generic.IsClientError(err))
	assert.ErrorIs(t, f.svc.SoftDelete(f.ctx, b.ID), generic.ErrBookingDeleted)

	restored, err := f.svc.Restore(f.ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted())

	_, err = f.svc.Restore(f.ctx, b.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestHardDelete_RemovesBillingDocuments(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(12)), event.Billable(), event.WithMaterials(event.Line("speaker", 1))))
	_, err := f.svc.IssueBillingDocument(f.ctx, b.ID, "estimate")
	require.NoError(t, err)

	require.NoError(t, f.svc.HardDelete(f.ctx, b.ID))

	_, err = f.svc.Get(f.ctx, b.ID)
	assert.True(t, generic.IsNotFound(err))
	docs, err := f.store.ListBillingDocuments(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.True(t, generic.IsNotFound(f.svc.HardDelete(f.ctx, b.ID)))
}

func TestDuplicate_CopiesContentOntoNewPeriods(t *testing.T) {
	f := newFixture(t)
	src := f.create(t, event.Unified("Gala", generic.Days(day(11), day(12)),
		event.Billable(), event.At("Opera"), event.WithReference("G-1"),
		event.WithMaterials(event.Line("speaker", 2))))
	_, err := f.svc.UpdateDeparture(f.ctx, src.ID, []generic.DepartureLine{departed("speaker", 2)})
	require.NoError(t, err)

	dup, err := f.svc.Duplicate(f.ctx, src.ID, generic.Days(day(20), day(21)), generic.Days(day(19), day(22)))
	require.NoError(t, err)

	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Gala", dup.Title)
	assert.Equal(t, "Opera", dup.Location)
	assert.Empty(t, dup.Reference)
	assert.Equal(t, day(19), dup.MobilizationPeriod.Start)
	require.Len(t, dup.Materials, 1)
	assert.Nil(t, dup.Materials[0].QuantityDeparted)
	assertDecimal(t, "50", dup.Materials[0].UnitPrice)
}

// =============================================================================
// MATERIALS AND PRICES
// =============================================================================

func TestSetMaterials_KeepsExistingLinesAndPricesNewOnes(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(14)), event.Billable(), event.WithMaterials(event.Line("speaker", 2))))
	_, err := f.svc.SetLinePrice(f.ctx, b.ID, "speaker", dec("45"), generic.DecimalPtr(dec("5")))
	require.NoError(t, err)

	got, err := f.svc.SetMaterials(f.ctx, b.ID, []generic.MaterialQuantity{event.Line("speaker", 3), event.Line("cable", 6)})
	require.NoError(t, err)

	require.Len(t, got.Materials, 2)
	assertDecimal(t, "45", got.Materials[0].UnitPrice)
	assert.True(t, got.Materials[0].UnitPriceOverridden)
	assert.Equal(t, 3, got.Materials[0].Quantity)
	assertDecimal(t, "1.5", got.Materials[1].UnitPrice)
	assertDecimal(t, "4", got.Materials[1].DegressiveRate)
}

func TestSetMaterials_BlockedOnceInventoryDone(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(10), day(11)), event.WithMaterials(event.Line("speaker", 2))))
	_, err := f.svc.UpdateDeparture(f.ctx, b.ID, []generic.DepartureLine{departed("speaker", 2)})
	require.NoError(t, err)
	_, err = f.svc.FinishDeparture(f.ctx, b.ID, "alice")
	require.NoError(t, err)

	_, err = f.svc.SetMaterials(f.ctx, b.ID, []generic.MaterialQuantity{event.Line("speaker", 1)})
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, err = f.svc.RemoveMaterial(f.ctx, b.ID, "speaker")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestSetMaterials_CapsInventoryQuantities(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(10), day(11)), event.WithMaterials(event.Line("cable", 10))))
	_, err := f.svc.UpdateDeparture(f.ctx, b.ID, []generic.DepartureLine{departed("cable", 8)})
	require.NoError(t, err)

	got, err := f.svc.SetMaterials(f.ctx, b.ID, []generic.MaterialQuantity{event.Line("cable", 5)})
	require.NoError(t, err)
	assert.Equal(t, 5, *got.Materials[0].QuantityDeparted)
}

func TestRemoveMaterial(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(12)), event.WithMaterials(event.Line("speaker", 1), event.Line("cable", 2))))

	got, err := f.svc.RemoveMaterial(f.ctx, b.ID, "speaker")
	require.NoError(t, err)
	require.Len(t, got.Materials, 1)
	assert.Equal(t, generic.MaterialID("cable"), got.Materials[0].MaterialID)

	_, err = f.svc.RemoveMaterial(f.ctx, b.ID, "speaker")
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)
}

func TestUpdatePeriods_PricedByHandLineFollowsNewDuration(t *testing.T) {
	// GIVEN: a billable 4-day booking whose speaker was priced by hand
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(14)), event.Billable(), event.WithMaterials(event.Line("speaker", 1))))
	_, err := f.svc.SetLinePrice(f.ctx, b.ID, "speaker", dec("42"), nil)
	require.NoError(t, err)

	// WHEN: the booking grows to 10 days
	got, err := f.svc.UpdatePeriods(f.ctx, b.ID, generic.Days(day(11), day(20)), generic.Days(day(11), day(20)))
	require.NoError(t, err)

	// THEN: the manual price stays, the 10-day rate is billed
	line := got.Materials[0]
	assertDecimal(t, "42", line.UnitPrice)
	assertDecimal(t, "8", line.DegressiveRate)
	assert.True(t, dec("336").Equal(generic.LineTotal(line)), "42 x 8 days")
}

func TestSetLinePrice_Guards(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(12)), event.WithMaterials(event.Line("speaker", 1))))

	_, err := f.svc.SetLinePrice(f.ctx, b.ID, "speaker", dec("10"), nil)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition, "not billable")

	_, err = f.svc.SetBillable(f.ctx, b.ID, true)
	require.NoError(t, err)
	_, err = f.svc.SetLinePrice(f.ctx, b.ID, "speaker", dec("-1"), nil)
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)
	_, err = f.svc.SetLinePrice(f.ctx, b.ID, "speaker", dec("10"), generic.DecimalPtr(dec("101")))
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)
}

func TestRecalculatePrices_DropsOverrides(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(12)), event.Billable(), event.WithMaterials(event.Line("speaker", 1))))
	_, err := f.svc.SetLinePrice(f.ctx, b.ID, "speaker", dec("10"), nil)
	require.NoError(t, err)

	got, err := f.svc.RecalculatePrices(f.ctx, b.ID)
	require.NoError(t, err)
	assertDecimal(t, "50", got.Materials[0].UnitPrice)
	assert.False(t, got.Materials[0].UnitPriceOverridden)
}

func TestSetExtras(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(12)), event.Billable()))

	got, err := f.svc.SetExtras(f.ctx, b.ID, []generic.BookingExtra{{Description: "Delivery", Quantity: 1, UnitPrice: dec("80")}})
	require.NoError(t, err)
	assert.Len(t, got.Extras, 1)

	_, err = f.svc.SetExtras(f.ctx, b.ID, []generic.BookingExtra{{Description: "Staff", Quantity: 0}})
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)

	off, err := f.svc.SetBillable(f.ctx, b.ID, false)
	require.NoError(t, err)
	assert.Empty(t, off.Extras)
}

// =============================================================================
// BILLING DOCUMENTS
// =============================================================================

func TestIssueBillingDocument(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(11)), event.Billable(), event.WithMaterials(event.Line("speaker", 2))))

	first, err := f.svc.IssueBillingDocument(f.ctx, b.ID, "estimate")
	require.NoError(t, err)
	second, err := f.svc.IssueBillingDocument(f.ctx, b.ID, "estimate")
	require.NoError(t, err)

	assert.Equal(t, "EST-001", first.Number)
	assert.Equal(t, "EST-002", second.Number)
	// 50 × 1 day × 2 + 20% VAT
	assert.True(t, dec("120").Equal(first.Total), "total = %s", first.Total)

	docs, err := f.svc.ListBillingDocuments(f.ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = f.svc.IssueBillingDocument(f.ctx, b.ID, "receipt")
	assert.ErrorIs(t, err, generic.ErrInvalidArgument)
}

func TestIssueBillingDocument_RequiresBillable(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, event.Unified("A", generic.Days(day(11), day(11))))
	_, err := f.svc.IssueBillingDocument(f.ctx, b.ID, "invoice")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

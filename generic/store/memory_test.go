package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loxya/booking-engine/generic"
	"github.com/loxya/booking-engine/generic/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time { return generic.Date(2025, time.April, d) }

func booking(id string, first, last int) *generic.Booking {
	p := generic.Days(day(first), day(last))
	return &generic.Booking{
		ID:                 generic.BookingID(id),
		Kind:               "event",
		Title:              id,
		OperationPeriod:    p,
		MobilizationPeriod: p,
		Materials:          []generic.BookingMaterial{{MaterialID: "speaker", Quantity: 1}},
	}
}

func TestMemory_SaveKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	_, err := m.Save(ctx, booking("a", 1, 2))
	require.NoError(t, err)
	prev, err := m.PreviousVersion(ctx, booking("a", 1, 2))
	require.NoError(t, err)
	assert.Nil(t, prev, "no previous version on insert")

	_, err = m.Save(ctx, booking("a", 5, 6))
	require.NoError(t, err)
	prev, err = m.PreviousVersion(ctx, booking("a", 5, 6))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, day(1), prev.MobilizationPeriod.Start)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Save(ctx, booking("a", 1, 2))
	require.NoError(t, err)

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	got.Materials[0].Quantity = 99

	again, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Materials[0].Quantity)
}

func TestMemory_FindOverlappingSkipsSelfAndDeleted(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	for _, b := range []*generic.Booking{booking("a", 1, 5), booking("b", 4, 8), booking("c", 5, 6), booking("d", 10, 12)} {
		_, err := m.Save(ctx, b)
		require.NoError(t, err)
	}
	require.NoError(t, m.SoftDelete(ctx, "c", day(1)))

	got, err := m.FindOverlapping(ctx, generic.Days(day(1), day(5)), "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, generic.BookingID("b"), got[0].ID)

	require.NoError(t, m.Restore(ctx, "c"))
	got, err = m.FindOverlapping(ctx, generic.Days(day(1), day(5)), "a")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemory_NotFound(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Get(ctx, "nope")
	assert.ErrorIs(t, err, generic.ErrBookingNotFound)
	assert.ErrorIs(t, m.SoftDelete(ctx, "nope", day(1)), generic.ErrBookingNotFound)
	assert.ErrorIs(t, m.HardDelete(ctx, "nope"), generic.ErrBookingNotFound)
	assert.ErrorIs(t, m.SaveBillingDocument(ctx, generic.BillingDocument{BookingID: "nope"}), generic.ErrBookingNotFound)
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	_, err := tm.Save(ctx, booking("a", 1, 2))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = tm.WithTx(ctx, func(repo generic.BookingRepository) error {
		if _, err := repo.Save(ctx, booking("a", 8, 9)); err != nil {
			return err
		}
		if _, err := repo.Save(ctx, booking("b", 1, 1)); err != nil {
			return err
		}
		if err := repo.SaveBillingDocument(ctx, generic.BillingDocument{ID: "d1", BookingID: "a"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	a, err := tm.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, day(1), a.MobilizationPeriod.Start)
	_, err = tm.Get(ctx, "b")
	assert.ErrorIs(t, err, generic.ErrBookingNotFound)
	docs, err := tm.ListBillingDocuments(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestTxMemory_CommitsAndSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()

	err := tm.WithTx(ctx, func(repo generic.BookingRepository) error {
		if _, err := repo.Save(ctx, booking("a", 1, 2)); err != nil {
			return err
		}
		got, err := repo.FindOverlapping(ctx, generic.Days(day(2), day(3)), "")
		if err != nil {
			return err
		}
		assert.Len(t, got, 1)
		return nil
	})
	require.NoError(t, err)

	list, err := tm.List(ctx, generic.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestHardDelete_DropsDocuments(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Save(ctx, booking("a", 1, 2))
	require.NoError(t, err)
	require.NoError(t, m.SaveBillingDocument(ctx, generic.BillingDocument{ID: "d1", BookingID: "a"}))

	require.NoError(t, m.HardDelete(ctx, "a"))
	docs, err := m.ListBillingDocuments(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := store.NewMemoryCache(0)

	_, found, err := c.Get(ctx, "a", generic.CacheKeyHasMissingMaterials)
	require.NoError(t, err)
	assert.False(t, found)

	gen, err := c.Generation(ctx, "a", generic.CacheKeyHasMissingMaterials)
	require.NoError(t, err)
	stored, err := c.SetIfGeneration(ctx, "a", generic.CacheKeyHasMissingMaterials, true, gen)
	require.NoError(t, err)
	assert.True(t, stored)
	value, found, err := c.Get(ctx, "a", generic.CacheKeyHasMissingMaterials)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, value)

	require.NoError(t, c.Invalidate(ctx, "a", generic.CacheKeyHasMissingMaterials))
	assert.False(t, c.Has("a", generic.CacheKeyHasMissingMaterials))
}

func TestMemoryCache_InvalidationRejectsOlderWrite(t *testing.T) {
	ctx := context.Background()
	c := store.NewMemoryCache(0)

	// GIVEN: a reader captured the generation before recomputing
	gen, err := c.Generation(ctx, "a", generic.CacheKeyHasMissingMaterials)
	require.NoError(t, err)

	// WHEN: an invalidation lands before it writes
	require.NoError(t, c.Invalidate(ctx, "a", generic.CacheKeyHasMissingMaterials))
	stored, err := c.SetIfGeneration(ctx, "a", generic.CacheKeyHasMissingMaterials, false, gen)

	// THEN: the write is dropped, a fresh generation is accepted
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, c.Has("a", generic.CacheKeyHasMissingMaterials))

	next, err := c.Generation(ctx, "a", generic.CacheKeyHasMissingMaterials)
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
	stored, err = c.SetIfGeneration(ctx, "a", generic.CacheKeyHasMissingMaterials, false, next)
	require.NoError(t, err)
	assert.True(t, stored)

	// AND: other bookings keep their own generation
	other, err := c.Generation(ctx, "b", generic.CacheKeyHasMissingMaterials)
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestMemoryCache_Expires(t *testing.T) {
	ctx := context.Background()
	c := store.NewMemoryCache(time.Millisecond)
	stored, err := c.SetIfGeneration(ctx, "a", generic.CacheKeyHasMissingMaterials, false, 0)
	require.NoError(t, err)
	require.True(t, stored)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, c.Has("a", generic.CacheKeyHasMissingMaterials))
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	c := store.NewCatalog()
	require.NoError(t, c.SaveMaterial(ctx, generic.Material{ID: "b", StockQuantity: 1}))
	require.NoError(t, c.SaveMaterial(ctx, generic.Material{ID: "a", StockQuantity: 2}))

	list, err := c.ListMaterials(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, generic.MaterialID("a"), list[0].ID)

	_, err = c.GetMaterial(ctx, "z")
	assert.ErrorIs(t, err, generic.ErrMaterialNotFound)
	_, err = c.GetDegressiveTable(ctx, "z")
	assert.ErrorIs(t, err, generic.ErrTableNotFound)
}

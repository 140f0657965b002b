package generic_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/loxya/booking-engine/event"
	"github.com/loxya/booking-engine/generic"
	"github.com/loxya/booking-engine/generic/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingCache records every invalidated booking and can be told to fail.
type recordingCache struct {
	*store.MemoryCache

	mu          sync.Mutex
	invalidated []generic.BookingID
	failWith    error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{MemoryCache: store.NewMemoryCache(0)}
}

func (c *recordingCache) Invalidate(ctx context.Context, id generic.BookingID, key generic.CacheKey) error {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, id)
	err := c.failWith
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.MemoryCache.Invalidate(ctx, id, key)
}

// take returns the sorted invalidated IDs and resets the record.
func (c *recordingCache) take() []generic.BookingID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.invalidated
	c.invalidated = nil
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fixture struct {
	ctx     context.Context
	clock   *generic.FixedClock
	store   *store.TxMemory
	catalog *store.Catalog
	cache   *recordingCache
	svc     *generic.BookingService
	nextID  int
}

type fixtureOption func(*generic.ServiceOptions)

func withPolicy(p generic.InventoryPolicy) fixtureOption {
	return func(o *generic.ServiceOptions) { o.Policy = p }
}

func withLogger(l *zap.Logger) fixtureOption {
	return func(o *generic.ServiceOptions) { o.Logger = l }
}

// newFixture builds a service over memory stores with a clock fixed at
// 2025-03-10 09:00 UTC and a small catalog:
//
//	speaker  stock 4   50.00  VAT 20%  table "standard"
//	console  stock 1  120.00  VAT 20%
//	cable    stock 40   1.50  no tax
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		clock:   generic.NewFixedClock(at(10, 9)),
		store:   store.NewTxMemory(),
		catalog: store.NewCatalog(),
		cache:   newRecordingCache(),
	}
	vat := &generic.TaxSnapshot{Name: "VAT", IsRate: true, Value: generic.MustParseDecimal("20")}
	require.NoError(t, f.catalog.SaveDegressiveTable(f.ctx, event.StandardDegressiveTable("standard")))
	require.NoError(t, f.catalog.SaveMaterial(f.ctx, generic.Material{
		ID: "speaker", Name: "Speaker", StockQuantity: 4,
		RentalPrice: generic.MustParseDecimal("50"), Tax: vat,
		DegressiveTableID: generic.TablePtr("standard"),
	}))
	require.NoError(t, f.catalog.SaveMaterial(f.ctx, generic.Material{
		ID: "console", Name: "Mixing console", StockQuantity: 1,
		RentalPrice: generic.MustParseDecimal("120"), Tax: vat,
	}))
	require.NoError(t, f.catalog.SaveMaterial(f.ctx, generic.Material{
		ID: "cable", Name: "XLR cable", StockQuantity: 40,
		RentalPrice: generic.MustParseDecimal("1.5"),
	}))

	so := generic.ServiceOptions{
		Clock: f.clock,
		NewID: func() generic.BookingID {
			f.nextID++
			return generic.BookingID(fmt.Sprintf("b%02d", f.nextID))
		},
	}
	for _, opt := range opts {
		opt(&so)
	}
	f.svc = generic.NewBookingService(f.store, f.catalog, f.cache, so)
	return f
}

// create stores a booking and drains the invalidations it caused.
func (f *fixture) create(t *testing.T, in generic.NewBooking) *generic.Booking {
	t.Helper()
	b, err := f.svc.Create(f.ctx, in)
	require.NoError(t, err)
	f.settle()
	return b
}

// settle waits for dispatched invalidations and clears the record.
func (f *fixture) settle() []generic.BookingID {
	f.svc.Availability().Wait()
	return f.cache.take()
}

func (f *fixture) mustGet(t *testing.T, id generic.BookingID) *generic.Booking {
	t.Helper()
	b, err := f.store.Get(f.ctx, id)
	require.NoError(t, err)
	return b
}

func ids(bs ...*generic.Booking) []generic.BookingID {
	out := make([]generic.BookingID, len(bs))
	for i, b := range bs {
		out[i] = b.ID
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// failingSaveStore fails every Save inside a transaction.
type failingSaveStore struct {
	*store.TxMemory
}

var errSaveFailed = errors.New("disk full")

func (s failingSaveStore) WithTx(ctx context.Context, fn func(generic.BookingRepository) error) error {
	return s.TxMemory.WithTx(ctx, func(repo generic.BookingRepository) error {
		return fn(failingSaveRepo{repo})
	})
}

type failingSaveRepo struct {
	generic.BookingRepository
}

func (failingSaveRepo) Save(context.Context, *generic.Booking) (*generic.Booking, error) {
	return nil, errSaveFailed
}

func hours(n int) time.Duration { return time.Duration(n) * time.Hour }

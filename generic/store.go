package generic

import (
	"context"
	"time"
)

// =============================================================================
// BOOKING REPOSITORY
// =============================================================================

// ListFilter narrows BookingRepository.List.
type ListFilter struct {
	Period         *Period // only bookings whose mobilization overlaps it
	IncludeDeleted bool
	Archived       *bool
}

// BookingRepository is the persistence boundary of the engine.
type BookingRepository interface {
	// Get returns the booking, including soft-deleted ones.
	Get(ctx context.Context, id BookingID) (*Booking, error)

	List(ctx context.Context, filter ListFilter) ([]*Booking, error)

	// FindOverlapping returns live bookings whose mobilization period
	// overlaps p, excluding the given booking.
	FindOverlapping(ctx context.Context, p Period, exclude BookingID) ([]*Booking, error)

	// Save inserts or updates the booking and records the replaced
	// version for PreviousVersion.
	Save(ctx context.Context, b *Booking) (*Booking, error)

	// PreviousVersion returns the booking as it was before its last Save,
	// or nil when it was just created.
	PreviousVersion(ctx context.Context, b *Booking) (*Booking, error)

	SoftDelete(ctx context.Context, id BookingID, at time.Time) error
	Restore(ctx context.Context, id BookingID) error

	// HardDelete removes the booking and its billing documents.
	HardDelete(ctx context.Context, id BookingID) error

	SaveBillingDocument(ctx context.Context, doc BillingDocument) error
	ListBillingDocuments(ctx context.Context, id BookingID) ([]BillingDocument, error)
}

// TxStore runs a function inside a transaction. If fn returns an error,
// every write made through the given repository is rolled back.
type TxStore interface {
	BookingRepository
	WithTx(ctx context.Context, fn func(repo BookingRepository) error) error
}

// =============================================================================
// MATERIAL CATALOG
// =============================================================================

// MaterialCatalog supplies read-only material and rate table data.
type MaterialCatalog interface {
	GetMaterial(ctx context.Context, id MaterialID) (*Material, error)
	GetDegressiveTable(ctx context.Context, id TableID) (*DegressiveRateTable, error)
	ListMaterials(ctx context.Context) ([]*Material, error)
}

// CatalogWriter loads catalog data. Implemented by the stores that
// also implement MaterialCatalog.
type CatalogWriter interface {
	SaveMaterial(ctx context.Context, m Material) error
	SaveDegressiveTable(ctx context.Context, t DegressiveRateTable) error
}

// =============================================================================
// AVAILABILITY CACHE
// =============================================================================

// CacheKey names a derived, per-booking cached value.
type CacheKey string

const CacheKeyHasMissingMaterials CacheKey = "has_missing_materials"

// CacheStore holds derived availability values. It is never the source of
// truth: a miss or failure only costs a recomputation.
//
// Every Invalidate bumps the key's generation. A reader captures the
// generation before recomputing and writes with SetIfGeneration, so a value
// computed from data older than the last invalidation is never stored.
type CacheStore interface {
	Get(ctx context.Context, id BookingID, key CacheKey) (value bool, found bool, err error)
	Generation(ctx context.Context, id BookingID, key CacheKey) (uint64, error)
	// SetIfGeneration stores value only while the key is still at gen and
	// reports whether it did.
	SetIfGeneration(ctx context.Context, id BookingID, key CacheKey, value bool, gen uint64) (bool, error)
	Invalidate(ctx context.Context, id BookingID, key CacheKey) error
}

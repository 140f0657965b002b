/*
availability.go - Availability cache coordination

PURPOSE:
  Each booking caches whether it lacks materials (has_missing_materials).
  That value depends on every booking whose mobilization overlaps it, so a
  change to one booking can make its neighbors' cached values stale.

TWO PHASES:
  1. Plan      inside the mutation transaction. Decides whether the change
               is relevant and collects the bookings to invalidate: self
               plus every live booking overlapping the old or new
               mobilization period.
  2. Dispatch  after commit only. Invalidates the collected keys
               asynchronously. Failures are logged and swallowed; a failed
               transaction never reaches this phase.

RELEVANT CHANGES:
  mobilization start/end, departure done, return done, return datetime,
  archived flag, material lines. Everything else is cosmetic.

EXAMPLE:
  A [day 1, day 5] and B [day 4, day 8]. A's end moves to day 3:
  A no longer overlaps B, but B's cached value still counted A's demand,
  so the plan uses old ∪ new and invalidates B.

SEE ALSO:
  - store.go: CacheStore, BookingRepository.FindOverlapping
  - service.go: where Plan and Dispatch are called
*/
package generic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Change classifies the mutation being planned.
type Change string

const (
	ChangeCreated     Change = "created"
	ChangeUpdated     Change = "updated"
	ChangeSoftDeleted Change = "soft_deleted"
	ChangeHardDeleted Change = "hard_deleted"
	ChangeRestored    Change = "restored"
)

// InvalidationObserver receives one call per invalidated key.
// result is "ok" or "error".
type InvalidationObserver interface {
	ObserveInvalidation(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveInvalidation(string) {}

// =============================================================================
// TRIGGERS
// =============================================================================

// RequiresInvalidation compares the fields that feed availability.
func RequiresInvalidation(prev, cur *Booking) bool {
	if prev == nil || cur == nil {
		return true
	}
	if !prev.MobilizationPeriod.SameRange(cur.MobilizationPeriod) {
		return true
	}
	if prev.Departure.IsDone != cur.Departure.IsDone ||
		prev.Return.IsDone != cur.Return.IsDone ||
		prev.IsArchived != cur.IsArchived {
		return true
	}
	if !sameInstant(prev.Return.Datetime, cur.Return.Datetime) {
		return true
	}
	return !sameLines(prev.Materials, cur.Materials)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameLines(a, b []BookingMaterial) bool {
	if len(a) != len(b) {
		return false
	}
	quantities := make(map[MaterialID]int, len(a))
	for _, m := range a {
		quantities[m.MaterialID] = m.Quantity
	}
	for _, m := range b {
		if q, ok := quantities[m.MaterialID]; !ok || q != m.Quantity {
			return false
		}
	}
	return true
}

// OccupationPeriod is the range during which the booking holds stock: its
// mobilization, cut short at the return datetime when the return was done
// early.
func OccupationPeriod(b *Booking) Period {
	mob := b.MobilizationPeriod
	if !b.Return.IsDone || b.Return.Datetime == nil {
		return mob
	}
	at := *b.Return.Datetime
	if !mob.Contains(at) || !at.After(mob.Lower()) {
		return mob
	}
	return Period{Start: mob.Lower(), End: &at}
}

// =============================================================================
// COORDINATOR
// =============================================================================

type AvailabilityCoordinator struct {
	cache       CacheStore
	log         *zap.Logger
	observer    InvalidationObserver
	concurrency int
	timeout     time.Duration
	wg          sync.WaitGroup
}

type CoordinatorOption func(*AvailabilityCoordinator)

func WithObserver(o InvalidationObserver) CoordinatorOption {
	return func(c *AvailabilityCoordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithConcurrency bounds the parallel invalidations of one dispatch.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *AvailabilityCoordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithInvalidationTimeout(d time.Duration) CoordinatorOption {
	return func(c *AvailabilityCoordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewAvailabilityCoordinator(cache CacheStore, log *zap.Logger, opts ...CoordinatorOption) *AvailabilityCoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &AvailabilityCoordinator{
		cache:       cache,
		log:         log.Named("availability"),
		observer:    nopObserver{},
		concurrency: 8,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Plan returns the bookings whose cached availability must be invalidated
// once the transaction commits: the booking itself first, then each
// overlapping booking once, in discovery order. It must run with the
// transactional repository so that it sees the uncommitted change.
func (c *AvailabilityCoordinator) Plan(ctx context.Context, repo BookingRepository, change Change, cur *Booking) ([]BookingID, error) {
	periods := []Period{cur.MobilizationPeriod}

	if change == ChangeUpdated {
		prev, err := repo.PreviousVersion(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("loading previous version of %s: %w", cur.ID, err)
		}
		if prev != nil {
			if !RequiresInvalidation(prev, cur) {
				return nil, nil
			}
			if !prev.MobilizationPeriod.SameRange(cur.MobilizationPeriod) {
				periods = append(periods, prev.MobilizationPeriod)
			}
		}
	}

	seen := map[BookingID]struct{}{cur.ID: {}}
	targets := []BookingID{cur.ID}
	for _, p := range periods {
		neighbors, err := repo.FindOverlapping(ctx, p, cur.ID)
		if err != nil {
			return nil, fmt.Errorf("finding bookings overlapping %s: %w", p, err)
		}
		for _, n := range neighbors {
			if _, dup := seen[n.ID]; dup || !n.MobilizationPeriod.Overlaps(p) {
				continue
			}
			seen[n.ID] = struct{}{}
			targets = append(targets, n.ID)
		}
	}
	return targets, nil
}

// Dispatch invalidates the planned keys in the background. Call only after
// the transaction committed.
func (c *AvailabilityCoordinator) Dispatch(ids []BookingID) {
	if len(ids) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.Invalidate(ctx, ids)
	}()
}

// Invalidate removes the cached values synchronously. Errors are logged,
// counted and never returned.
func (c *AvailabilityCoordinator) Invalidate(ctx context.Context, ids []BookingID) {
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.cache.Invalidate(ctx, id, CacheKeyHasMissingMaterials); err != nil {
				c.log.Warn("cache invalidation failed",
					zap.String("booking_id", string(id)),
					zap.String("key", string(CacheKeyHasMissingMaterials)),
					zap.Error(err))
				c.observer.ObserveInvalidation("error")
				return nil
			}
			c.observer.ObserveInvalidation("ok")
			return nil
		})
	}
	_ = g.Wait()
}

// Wait blocks until every dispatched invalidation has finished.
func (c *AvailabilityCoordinator) Wait() {
	c.wg.Wait()
}

// =============================================================================
// READ SIDE
// =============================================================================

// MissingMaterial describes a line that cannot be fully served.
type MissingMaterial struct {
	MaterialID MaterialID
	Requested  int
	Available  int
	Missing    int
}

// AvailabilityReader answers has_missing_materials, through the cache.
type AvailabilityReader struct {
	repo    BookingRepository
	catalog MaterialCatalog
	cache   CacheStore
	log     *zap.Logger
}

func NewAvailabilityReader(repo BookingRepository, catalog MaterialCatalog, cache CacheStore, log *zap.Logger) *AvailabilityReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &AvailabilityReader{repo: repo, catalog: catalog, cache: cache, log: log.Named("availability")}
}

// HasMissingMaterials reads the cached value, recomputing on a miss.
// Cache errors degrade to a recomputation. The recomputed value is only
// stored if no invalidation landed while it was being computed.
func (r *AvailabilityReader) HasMissingMaterials(ctx context.Context, b *Booking) (bool, error) {
	gen, genErr := r.cache.Generation(ctx, b.ID, CacheKeyHasMissingMaterials)
	if genErr != nil {
		r.log.Warn("cache generation read failed", zap.String("booking_id", string(b.ID)), zap.Error(genErr))
	} else {
		value, found, err := r.cache.Get(ctx, b.ID, CacheKeyHasMissingMaterials)
		if err != nil {
			r.log.Warn("cache read failed", zap.String("booking_id", string(b.ID)), zap.Error(err))
		} else if found {
			return value, nil
		}
	}

	missing, err := r.MissingMaterials(ctx, b)
	if err != nil {
		return false, err
	}
	has := len(missing) > 0
	if genErr != nil {
		return has, nil
	}
	stored, err := r.cache.SetIfGeneration(ctx, b.ID, CacheKeyHasMissingMaterials, has, gen)
	switch {
	case err != nil:
		r.log.Warn("cache write failed", zap.String("booking_id", string(b.ID)), zap.Error(err))
	case !stored:
		r.log.Debug("cache write skipped after concurrent invalidation", zap.String("booking_id", string(b.ID)))
	}
	return has, nil
}

// MissingMaterials computes, for each line, the stock left once the peak
// concurrent demand of the overlapping bookings is served.
func (r *AvailabilityReader) MissingMaterials(ctx context.Context, b *Booking) ([]MissingMaterial, error) {
	if len(b.Materials) == 0 || b.IsDeleted() || b.IsArchived || b.Return.IsDone {
		return nil, nil
	}
	window := OccupationPeriod(b)

	neighbors, err := r.repo.FindOverlapping(ctx, b.MobilizationPeriod, b.ID)
	if err != nil {
		return nil, err
	}
	occupations := make([]occupation, 0, len(neighbors))
	for _, n := range neighbors {
		occ := OccupationPeriod(n)
		if !occ.Overlaps(window) {
			continue
		}
		occupations = append(occupations, occupation{period: occ, booking: n})
	}

	var missing []MissingMaterial
	for _, line := range b.Materials {
		material, err := r.catalog.GetMaterial(ctx, line.MaterialID)
		if err != nil {
			return nil, err
		}
		available := material.StockQuantity - peakDemand(window, line.MaterialID, occupations)
		if available < 0 {
			available = 0
		}
		if line.Quantity > available {
			missing = append(missing, MissingMaterial{
				MaterialID: line.MaterialID,
				Requested:  line.Quantity,
				Available:  available,
				Missing:    line.Quantity - available,
			})
		}
	}
	return missing, nil
}

type occupation struct {
	period  Period
	booking *Booking
}

// peakDemand sweeps the start instants inside the window: the maximum
// concurrent demand is always reached at one of them.
func peakDemand(window Period, id MaterialID, occupations []occupation) int {
	instants := []time.Time{window.Lower()}
	for _, o := range occupations {
		if start := o.period.Lower(); window.Contains(start) {
			instants = append(instants, start)
		}
	}

	peak := 0
	for _, t := range instants {
		demand := 0
		for _, o := range occupations {
			if !o.period.Contains(t) {
				continue
			}
			if line, ok := o.booking.Material(id); ok {
				demand += line.Quantity
			}
		}
		if demand > peak {
			peak = demand
		}
	}
	return peak
}

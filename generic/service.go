/*
service.go - BookingService, the mutation orchestrator

PURPOSE:
  Every change to a booking goes through the same pipeline, inside one
  transaction:

    load → snapshot prev → apply change → inventory reconciliation
         → validate → billing recalculation → save → plan invalidation
    commit → dispatch invalidation (async, failures swallowed)

  If any step fails the transaction rolls back and no cache key is touched.

USAGE:
  svc := generic.NewBookingService(store, catalog, cache, generic.ServiceOptions{
      Clock:  generic.SystemClock{},
      Policy: generic.DefaultInventoryPolicy(),
      Logger: log,
  })
  b, err := svc.Create(ctx, event.New("Concert", op, mob, lines...))
  b, err = svc.UpdatePeriods(ctx, b.ID, newOp, newMob)

SEE ALSO:
  - inventory.go, billing.go, availability.go: the pipeline steps
  - store.go: TxStore contract
*/
package generic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// INPUTS
// =============================================================================

// NewBooking is the creation input.
type NewBooking struct {
	Kind               Kind
	Title              string
	Reference          string
	Description        string
	Location           string
	Notes              string
	OperationPeriod    Period
	MobilizationPeriod Period
	IsConfirmed        bool
	IsBillable         bool
	DegressiveTableID  *TableID
	Materials          []MaterialQuantity
}

// BookingDetails holds the cosmetic fields. Changing them never affects
// inventories, billing or availability.
type BookingDetails struct {
	Title       string
	Reference   string
	Description string
	Location    string
	Notes       string
	IsConfirmed bool
}

// =============================================================================
// SERVICE
// =============================================================================

type ServiceOptions struct {
	Clock                   Clock
	Policy                  InventoryPolicy
	Logger                  *zap.Logger
	Observer                InvalidationObserver
	InvalidationConcurrency int
	InvalidationTimeout     time.Duration
	NewID                   func() BookingID
}

type BookingService struct {
	store        TxStore
	catalog      MaterialCatalog
	clock        Clock
	inventory    *InventoryMachine
	billing      *BillingRecalculator
	availability *AvailabilityCoordinator
	reader       *AvailabilityReader
	newID        func() BookingID
	log          *zap.Logger
}

func NewBookingService(store TxStore, catalog MaterialCatalog, cache CacheStore, opts ServiceOptions) *BookingService {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Policy == (InventoryPolicy{}) {
		opts.Policy = DefaultInventoryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewID == nil {
		opts.NewID = func() BookingID { return BookingID(uuid.NewString()) }
	}
	return &BookingService{
		store:     store,
		catalog:   catalog,
		clock:     opts.Clock,
		inventory: NewInventoryMachine(opts.Clock, opts.Policy),
		billing:   NewBillingRecalculator(catalog, opts.Logger),
		availability: NewAvailabilityCoordinator(cache, opts.Logger,
			WithObserver(opts.Observer),
			WithConcurrency(opts.InvalidationConcurrency),
			WithInvalidationTimeout(opts.InvalidationTimeout)),
		reader: NewAvailabilityReader(store, catalog, cache, opts.Logger),
		newID:  opts.NewID,
		log:    opts.Logger.Named("bookings"),
	}
}

func (s *BookingService) Inventory() *InventoryMachine           { return s.inventory }
func (s *BookingService) Availability() *AvailabilityCoordinator { return s.availability }
func (s *BookingService) Clock() Clock                           { return s.clock }

// =============================================================================
// PIPELINE
// =============================================================================

// mutate runs fn on a fresh copy of the booking inside a transaction.
func (s *BookingService) mutate(ctx context.Context, id BookingID, opts RecalculateOptions, fn func(b *Booking) error) (*Booking, error) {
	var saved *Booking
	var targets []BookingID

	err := s.store.WithTx(ctx, func(repo BookingRepository) error {
		cur, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.IsDeleted() {
			return fmt.Errorf("%w: %s", ErrBookingDeleted, id)
		}
		prev := cur.Clone()

		if _, err := s.inventory.AutoFinishReturn(cur); err != nil {
			s.log.Warn("automatic return inventory skipped", zap.String("booking_id", string(id)), zap.Error(err))
		}
		if err := fn(cur); err != nil {
			return err
		}

		s.inventory.ReactToPeriodChange(prev, cur)
		s.inventory.ReconcileArchival(cur)
		if err := cur.Validate(); err != nil {
			return err
		}
		if err := s.billing.Recalculate(ctx, prev, cur, opts); err != nil {
			return err
		}

		cur.UpdatedAt = s.clock.Now()
		saved, err = repo.Save(ctx, cur)
		if err != nil {
			return err
		}
		targets, err = s.availability.Plan(ctx, repo, ChangeUpdated, saved)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.availability.Dispatch(targets)
	return saved, nil
}

// =============================================================================
// CREATE / READ
// =============================================================================

func (s *BookingService) Create(ctx context.Context, in NewBooking) (*Booking, error) {
	b, err := s.build(ctx, in)
	if err != nil {
		return nil, err
	}

	var saved *Booking
	var targets []BookingID
	err = s.store.WithTx(ctx, func(repo BookingRepository) error {
		if err := s.billing.Recalculate(ctx, nil, b, RecalculateOptions{}); err != nil {
			return err
		}
		saved, err = repo.Save(ctx, b)
		if err != nil {
			return err
		}
		targets, err = s.availability.Plan(ctx, repo, ChangeCreated, saved)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.availability.Dispatch(targets)
	s.log.Info("booking created", zap.String("booking_id", string(saved.ID)), zap.String("kind", string(saved.Kind)))
	return saved, nil
}

func (s *BookingService) build(ctx context.Context, in NewBooking) (*Booking, error) {
	if _, ok := LookupKind(string(in.Kind)); !ok {
		return nil, &InvalidArgumentError{Field: "kind", Reason: fmt.Sprintf("unknown booking kind %q", in.Kind)}
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, &InvalidArgumentError{Field: "title", Reason: "required"}
	}
	now := s.clock.Now()
	b := &Booking{
		ID:                 s.newID(),
		Kind:               in.Kind,
		Title:              in.Title,
		Reference:          in.Reference,
		Description:        in.Description,
		Location:           in.Location,
		Notes:              in.Notes,
		OperationPeriod:    in.OperationPeriod.SetFullDays(in.OperationPeriod.FullDays),
		MobilizationPeriod: in.MobilizationPeriod.SetFullDays(in.MobilizationPeriod.FullDays),
		IsConfirmed:        in.IsConfirmed,
		IsBillable:         in.IsBillable,
		DegressiveTableID:  cloneTable(in.DegressiveTableID),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, line := range in.Materials {
		if _, err := s.catalog.GetMaterial(ctx, line.MaterialID); err != nil {
			return nil, err
		}
		b.Materials = append(b.Materials, BookingMaterial{MaterialID: line.MaterialID, Quantity: line.Quantity})
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Get loads a booking. In auto return mode, a booking whose mobilization
// has ended gets its return inventory completed on read.
func (s *BookingService) Get(ctx context.Context, id BookingID) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.inventory.CanAutoFinishReturn(b) {
		return s.mutate(ctx, id, RecalculateOptions{}, func(*Booking) error { return nil })
	}
	return b, nil
}

func (s *BookingService) List(ctx context.Context, filter ListFilter) ([]*Booking, error) {
	return s.store.List(ctx, filter)
}

// =============================================================================
// EDITS
// =============================================================================

// UpdatePeriods changes both periods. Archived bookings may be moved; they
// are un-archived when no longer eligible.
func (s *BookingService) UpdatePeriods(ctx context.Context, id BookingID, operation, mobilization Period) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		if err := operation.Validate(); err != nil {
			return fmt.Errorf("operation period: %w", err)
		}
		if err := mobilization.Validate(); err != nil {
			return fmt.Errorf("mobilization period: %w", err)
		}
		b.OperationPeriod = operation.SetFullDays(operation.FullDays)
		b.MobilizationPeriod = mobilization.SetFullDays(mobilization.FullDays)
		return nil
	})
}

func (s *BookingService) UpdateDetails(ctx context.Context, id BookingID, d BookingDetails) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		if strings.TrimSpace(d.Title) == "" {
			return &InvalidArgumentError{Field: "title", Reason: "required"}
		}
		b.Title = d.Title
		b.Reference = d.Reference
		b.Description = d.Description
		b.Location = d.Location
		b.Notes = d.Notes
		b.IsConfirmed = d.IsConfirmed
		return nil
	})
}

func (s *BookingService) SetBillable(ctx context.Context, id BookingID, billable bool) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		b.IsBillable = billable
		return nil
	})
}

// SetMaterials replaces the line set. Existing lines keep their pricing and
// inventory data; new lines are priced from the catalog.
func (s *BookingService) SetMaterials(ctx context.Context, id BookingID, lines []MaterialQuantity) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		if err := guardMaterialEdit(b); err != nil {
			return err
		}
		next := make([]BookingMaterial, 0, len(lines))
		for _, line := range lines {
			if existing, ok := b.Material(line.MaterialID); ok {
				kept := existing.clone()
				kept.Quantity = line.Quantity
				kept.QuantityDeparted = capQuantity(kept.QuantityDeparted, line.Quantity)
				kept.QuantityReturned = capQuantity(kept.QuantityReturned, line.Quantity)
				kept.QuantityReturnedBroken = capQuantity(kept.QuantityReturnedBroken, line.Quantity)
				next = append(next, kept)
				continue
			}
			added := BookingMaterial{MaterialID: line.MaterialID, Quantity: line.Quantity}
			if err := s.billing.SeedLine(ctx, b, &added); err != nil {
				return err
			}
			next = append(next, added)
		}
		b.Materials = next
		return nil
	})
}

func (s *BookingService) RemoveMaterial(ctx context.Context, id BookingID, material MaterialID) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		if err := guardMaterialEdit(b); err != nil {
			return err
		}
		idx := b.materialIndex(material)
		if idx < 0 {
			return unknownLine(material)
		}
		b.Materials = append(b.Materials[:idx], b.Materials[idx+1:]...)
		return nil
	})
}

func guardMaterialEdit(b *Booking) error {
	if b.IsArchived {
		return &InvalidTransitionError{Action: "edit materials of", Reason: "booking is archived"}
	}
	if b.Departure.IsDone || b.Return.IsDone {
		return &InvalidTransitionError{Action: "edit materials of", Reason: "an inventory is already done"}
	}
	return nil
}

func capQuantity(p *int, max int) *int {
	if p != nil && *p > max {
		return IntPtr(max)
	}
	return p
}

// SetLinePrice overrides the unit price (and optionally the discount) of a
// line. Overridden lines are not re-priced when the period changes.
func (s *BookingService) SetLinePrice(ctx context.Context, id BookingID, material MaterialID, unitPrice decimal.Decimal, discount *decimal.Decimal) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		if !b.IsBillable {
			return &InvalidTransitionError{Action: "price", Reason: "booking is not billable"}
		}
		line, ok := b.Material(material)
		if !ok {
			return unknownLine(material)
		}
		if unitPrice.IsNegative() {
			return &InvalidArgumentError{Field: "unit_price", Reason: "must not be negative"}
		}
		if discount != nil && (discount.IsNegative() || discount.GreaterThan(hundred)) {
			return &InvalidArgumentError{Field: "discount_rate", Reason: "must be between 0 and 100"}
		}
		line.UnitPrice = DecimalPtr(unitPrice)
		if discount != nil {
			line.DiscountRate = DecimalPtr(*discount)
		}
		line.UnitPriceOverridden = true
		return nil
	})
}

// SetExtras replaces the free-form billable lines.
func (s *BookingService) SetExtras(ctx context.Context, id BookingID, extras []BookingExtra) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		if !b.IsBillable {
			return &InvalidTransitionError{Action: "add extras to", Reason: "booking is not billable"}
		}
		for i, e := range extras {
			if e.Quantity <= 0 {
				return &InvalidArgumentError{Field: fmt.Sprintf("extras[%d].quantity", i), Reason: "must be positive"}
			}
		}
		b.Extras = append([]BookingExtra(nil), extras...)
		return nil
	})
}

// RecalculatePrices re-seeds every line from the catalog, dropping overrides.
func (s *BookingService) RecalculatePrices(ctx context.Context, id BookingID) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{ResetPrices: true}, func(*Booking) error { return nil })
}

// =============================================================================
// INVENTORIES
// =============================================================================

func (s *BookingService) UpdateDeparture(ctx context.Context, id BookingID, lines []DepartureLine) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.UpdateDeparture(b, lines)
	})
}

func (s *BookingService) FinishDeparture(ctx context.Context, id BookingID, author UserID) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.FinishDeparture(b, author)
	})
}

func (s *BookingService) CancelDeparture(ctx context.Context, id BookingID) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.CancelDeparture(b)
	})
}

func (s *BookingService) UpdateReturn(ctx context.Context, id BookingID, lines []ReturnLine) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.UpdateReturn(b, lines)
	})
}

func (s *BookingService) FinishReturn(ctx context.Context, id BookingID, author UserID, at *time.Time) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.FinishReturn(b, author, at)
	})
}

func (s *BookingService) CancelReturn(ctx context.Context, id BookingID) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.CancelReturn(b)
	})
}

func (s *BookingService) Archive(ctx context.Context, id BookingID) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.Archive(b)
	})
}

func (s *BookingService) Unarchive(ctx context.Context, id BookingID) (*Booking, error) {
	return s.mutate(ctx, id, RecalculateOptions{}, func(b *Booking) error {
		return s.inventory.Unarchive(b)
	})
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func (s *BookingService) SoftDelete(ctx context.Context, id BookingID) error {
	var targets []BookingID
	err := s.store.WithTx(ctx, func(repo BookingRepository) error {
		cur, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if cur.IsDeleted() {
			return fmt.Errorf("%w: %s", ErrBookingDeleted, id)
		}
		if err := repo.SoftDelete(ctx, id, s.clock.Now()); err != nil {
			return err
		}
		targets, err = s.availability.Plan(ctx, repo, ChangeSoftDeleted, cur)
		return err
	})
	if err != nil {
		return err
	}
	s.availability.Dispatch(targets)
	return nil
}

func (s *BookingService) Restore(ctx context.Context, id BookingID) (*Booking, error) {
	var restored *Booking
	var targets []BookingID
	err := s.store.WithTx(ctx, func(repo BookingRepository) error {
		cur, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !cur.IsDeleted() {
			return &InvalidTransitionError{Action: "restore", Reason: "booking is not deleted"}
		}
		if err := repo.Restore(ctx, id); err != nil {
			return err
		}
		if restored, err = repo.Get(ctx, id); err != nil {
			return err
		}
		targets, err = s.availability.Plan(ctx, repo, ChangeRestored, restored)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.availability.Dispatch(targets)
	return restored, nil
}

// HardDelete removes the booking and its billing documents for good.
func (s *BookingService) HardDelete(ctx context.Context, id BookingID) error {
	var targets []BookingID
	err := s.store.WithTx(ctx, func(repo BookingRepository) error {
		cur, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := repo.HardDelete(ctx, id); err != nil {
			return err
		}
		targets, err = s.availability.Plan(ctx, repo, ChangeHardDeleted, cur)
		return err
	})
	if err != nil {
		return err
	}
	s.availability.Dispatch(targets)
	s.log.Info("booking deleted permanently", zap.String("booking_id", string(id)))
	return nil
}

// Duplicate creates a new booking with the same content over new periods.
func (s *BookingService) Duplicate(ctx context.Context, id BookingID, operation, mobilization Period) (*Booking, error) {
	src, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, src.DuplicateAs(operation, mobilization))
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func (s *BookingService) HasMissingMaterials(ctx context.Context, id BookingID) (bool, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s.reader.HasMissingMaterials(ctx, b)
}

func (s *BookingService) MissingMaterials(ctx context.Context, id BookingID) ([]MissingMaterial, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.reader.MissingMaterials(ctx, b)
}

// =============================================================================
// BILLING DOCUMENTS
// =============================================================================

// IssueBillingDocument records an estimate or invoice for the current totals.
func (s *BookingService) IssueBillingDocument(ctx context.Context, id BookingID, docType string) (*BillingDocument, error) {
	if docType != "estimate" && docType != "invoice" {
		return nil, &InvalidArgumentError{Field: "type", Reason: "must be estimate or invoice"}
	}
	var doc BillingDocument
	err := s.store.WithTx(ctx, func(repo BookingRepository) error {
		b, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if b.IsDeleted() {
			return fmt.Errorf("%w: %s", ErrBookingDeleted, id)
		}
		if !b.IsBillable {
			return &InvalidTransitionError{Action: "bill", Reason: "booking is not billable"}
		}
		existing, err := repo.ListBillingDocuments(ctx, id)
		if err != nil {
			return err
		}
		doc = BillingDocument{
			ID:        uuid.NewString(),
			BookingID: id,
			Type:      docType,
			Number:    fmt.Sprintf("%s-%03d", strings.ToUpper(docType[:3]), len(existing)+1),
			Total:     BookingTotals(b).WithTaxes,
			CreatedAt: s.clock.Now(),
		}
		return repo.SaveBillingDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *BookingService) ListBillingDocuments(ctx context.Context, id BookingID) ([]BillingDocument, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListBillingDocuments(ctx, id)
}

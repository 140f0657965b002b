// Package store provides in-memory implementations of the engine's stores.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/loxya/booking-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory booking repository (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	bookings  map[generic.BookingID]*generic.Booking
	previous  map[generic.BookingID]*generic.Booking
	documents map[generic.BookingID][]generic.BillingDocument
}

func NewMemory() *Memory {
	return &Memory{
		bookings:  make(map[generic.BookingID]*generic.Booking),
		previous:  make(map[generic.BookingID]*generic.Booking),
		documents: make(map[generic.BookingID][]generic.BillingDocument),
	}
}

func (m *Memory) Get(_ context.Context, id generic.BookingID) (*generic.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) List(_ context.Context, filter generic.ListFilter) ([]*generic.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) FindOverlapping(_ context.Context, p generic.Period, exclude generic.BookingID) ([]*generic.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overlappingLocked(p, exclude), nil
}

// Save stores a copy of b. The replaced version is kept for PreviousVersion.
func (m *Memory) Save(_ context.Context, b *generic.Booking) (*generic.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(b), nil
}

func (m *Memory) PreviousVersion(_ context.Context, b *generic.Booking) (*generic.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previous[b.ID].Clone(), nil
}

func (m *Memory) SoftDelete(_ context.Context, id generic.BookingID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.softDeleteLocked(id, at)
}

func (m *Memory) Restore(_ context.Context, id generic.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoreLocked(id)
}

func (m *Memory) HardDelete(_ context.Context, id generic.BookingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hardDeleteLocked(id)
}

func (m *Memory) SaveBillingDocument(_ context.Context, doc generic.BillingDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDocumentLocked(doc)
}

func (m *Memory) ListBillingDocuments(_ context.Context, id generic.BookingID) ([]generic.BillingDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.BillingDocument(nil), m.documents[id]...), nil
}

// =============================================================================
// LOCK-FREE HELPERS (caller holds mu)
// =============================================================================

func (m *Memory) getLocked(id generic.BookingID) (*generic.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	return b.Clone(), nil
}

func (m *Memory) listLocked(filter generic.ListFilter) []*generic.Booking {
	var result []*generic.Booking
	for _, b := range m.bookings {
		if b.IsDeleted() && !filter.IncludeDeleted {
			continue
		}
		if filter.Archived != nil && b.IsArchived != *filter.Archived {
			continue
		}
		if filter.Period != nil && !b.MobilizationPeriod.Overlaps(*filter.Period) {
			continue
		}
		result = append(result, b.Clone())
	}
	sortBookings(result)
	return result
}

func (m *Memory) overlappingLocked(p generic.Period, exclude generic.BookingID) []*generic.Booking {
	var result []*generic.Booking
	for id, b := range m.bookings {
		if id == exclude || b.IsDeleted() || !b.MobilizationPeriod.Overlaps(p) {
			continue
		}
		result = append(result, b.Clone())
	}
	sortBookings(result)
	return result
}

func (m *Memory) saveLocked(b *generic.Booking) *generic.Booking {
	if old, ok := m.bookings[b.ID]; ok {
		m.previous[b.ID] = old
	} else {
		delete(m.previous, b.ID)
	}
	m.bookings[b.ID] = b.Clone()
	return b.Clone()
}

func (m *Memory) softDeleteLocked(id generic.BookingID, at time.Time) error {
	b, ok := m.bookings[id]
	if !ok {
		return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	next := b.Clone()
	next.DeletedAt = &at
	m.bookings[id] = next
	return nil
}

func (m *Memory) restoreLocked(id generic.BookingID) error {
	b, ok := m.bookings[id]
	if !ok {
		return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	next := b.Clone()
	next.DeletedAt = nil
	m.bookings[id] = next
	return nil
}

func (m *Memory) hardDeleteLocked(id generic.BookingID) error {
	if _, ok := m.bookings[id]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	delete(m.bookings, id)
	delete(m.previous, id)
	delete(m.documents, id)
	return nil
}

func (m *Memory) saveDocumentLocked(doc generic.BillingDocument) error {
	if _, ok := m.bookings[doc.BookingID]; !ok {
		return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, doc.BookingID)
	}
	m.documents[doc.BookingID] = append(m.documents[doc.BookingID], doc)
	return nil
}

func sortBookings(bs []*generic.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		a, b := bs[i].MobilizationPeriod.Lower(), bs[j].MobilizationPeriod.Lower()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return bs[i].ID < bs[j].ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.BookingRepository) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	bookings  map[generic.BookingID]*generic.Booking
	previous  map[generic.BookingID]*generic.Booking
	documents map[generic.BookingID][]generic.BillingDocument
}

// Stored bookings are never mutated in place, so copying the maps is enough.
func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		bookings:  make(map[generic.BookingID]*generic.Booking, len(tm.bookings)),
		previous:  make(map[generic.BookingID]*generic.Booking, len(tm.previous)),
		documents: make(map[generic.BookingID][]generic.BillingDocument, len(tm.documents)),
	}
	for k, v := range tm.bookings {
		s.bookings[k] = v
	}
	for k, v := range tm.previous {
		s.previous[k] = v
	}
	for k, v := range tm.documents {
		s.documents[k] = append([]generic.BillingDocument(nil), v...)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.bookings = s.bookings
	tm.previous = s.previous
	tm.documents = s.documents
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Get(_ context.Context, id generic.BookingID) (*generic.Booking, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) List(_ context.Context, filter generic.ListFilter) ([]*generic.Booking, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txMemoryView) FindOverlapping(_ context.Context, p generic.Period, exclude generic.BookingID) ([]*generic.Booking, error) {
	return tv.parent.overlappingLocked(p, exclude), nil
}

func (tv *txMemoryView) Save(_ context.Context, b *generic.Booking) (*generic.Booking, error) {
	return tv.parent.saveLocked(b), nil
}

func (tv *txMemoryView) PreviousVersion(_ context.Context, b *generic.Booking) (*generic.Booking, error) {
	return tv.parent.previous[b.ID].Clone(), nil
}

func (tv *txMemoryView) SoftDelete(_ context.Context, id generic.BookingID, at time.Time) error {
	return tv.parent.softDeleteLocked(id, at)
}

func (tv *txMemoryView) Restore(_ context.Context, id generic.BookingID) error {
	return tv.parent.restoreLocked(id)
}

func (tv *txMemoryView) HardDelete(_ context.Context, id generic.BookingID) error {
	return tv.parent.hardDeleteLocked(id)
}

func (tv *txMemoryView) SaveBillingDocument(_ context.Context, doc generic.BillingDocument) error {
	return tv.parent.saveDocumentLocked(doc)
}

func (tv *txMemoryView) ListBillingDocuments(_ context.Context, id generic.BookingID) ([]generic.BillingDocument, error) {
	return append([]generic.BillingDocument(nil), tv.parent.documents[id]...), nil
}

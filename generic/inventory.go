/*
inventory.go - Departure/return inventory state machine

PURPOSE:
  Each booking has two inventory phases. Each phase moves through
  not_started → in_progress → done, gated by date windows computed from
  the booking periods and an injectable clock.

STATE TRANSITIONS:

  Phase      Window open when                                 Cancel allowed when
  ─────────  ───────────────────────────────────────────────  ─────────────────────
  departure  return not done AND                              departure done AND
             now ∈ [mob.start - OpensBefore,                  return not done
                    min(mob.start + Grace, mob.end)]
  return     now >= operation.start                           return done

  Update and finish require the window to be open and the phase not done.
  Cancelling clears the phase's booking-level and per-line fields.

ARCHIVAL:
  A booking is archivable once its mobilization has ended and its return
  inventory is done. An edit that breaks eligibility un-archives it.

REACTIVE RULE:
  When periods change, an in-progress phase whose window was open and is
  now closed loses its partial data. A done phase is never reverted.

SEE ALSO:
  - booking.go: per-line inventory fields
  - service.go: where guards run inside the mutation transaction
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PHASES & STATE
// =============================================================================

type InventoryPhase string

const (
	PhaseDeparture InventoryPhase = "departure"
	PhaseReturn    InventoryPhase = "return"
)

type InventoryStatus string

const (
	InventoryNotStarted InventoryStatus = "not_started"
	InventoryInProgress InventoryStatus = "in_progress"
	InventoryDone       InventoryStatus = "done"
)

// InventoryState holds the booking-level fields of a phase.
// AuthorRef and Datetime are set together; IsDone implies both are set.
type InventoryState struct {
	IsDone    bool
	AuthorRef *UserID
	Datetime  *time.Time
}

// NewInventoryState validates the field combination.
func NewInventoryState(isDone bool, author *UserID, at *time.Time) (InventoryState, error) {
	s := InventoryState{IsDone: isDone, AuthorRef: author, Datetime: at}
	if err := s.Validate(); err != nil {
		return InventoryState{}, err
	}
	return s, nil
}

// DoneInventory is the state of a finished phase.
func DoneInventory(author UserID, at time.Time) InventoryState {
	return InventoryState{IsDone: true, AuthorRef: &author, Datetime: &at}
}

func (s InventoryState) Validate() error {
	if (s.AuthorRef == nil) != (s.Datetime == nil) {
		return &InvalidArgumentError{Field: "inventory", Reason: "author and datetime must be set together"}
	}
	if s.IsDone && s.AuthorRef == nil {
		return &InvalidArgumentError{Field: "inventory", Reason: "a finished inventory requires an author and a datetime"}
	}
	return nil
}

func (s InventoryState) clone() InventoryState {
	out := InventoryState{IsDone: s.IsDone, Datetime: cloneTime(s.Datetime)}
	if s.AuthorRef != nil {
		a := *s.AuthorRef
		out.AuthorRef = &a
	}
	return out
}

// Status derives the phase status from the booking fields.
func Status(b *Booking, phase InventoryPhase) InventoryStatus {
	state := b.Departure
	if phase == PhaseReturn {
		state = b.Return
	}
	if state.IsDone {
		return InventoryDone
	}
	for _, m := range b.Materials {
		if phase == PhaseDeparture && (m.QuantityDeparted != nil || m.DepartureComment != nil) {
			return InventoryInProgress
		}
		if phase == PhaseReturn && (m.QuantityReturned != nil || m.QuantityReturnedBroken != nil) {
			return InventoryInProgress
		}
	}
	return InventoryNotStarted
}

// =============================================================================
// POLICY
// =============================================================================

type ReturnMode string

const (
	ReturnModeManual ReturnMode = "manual"
	ReturnModeAuto   ReturnMode = "auto"
)

// InventoryPolicy configures the date windows.
type InventoryPolicy struct {
	DepartureOpensBefore time.Duration // how early before mobilization start departure opens
	DepartureGracePeriod time.Duration // how long after mobilization start departure stays open
	ReturnMode           ReturnMode
	SystemUserID         UserID // author of automatic return inventories
}

func DefaultInventoryPolicy() InventoryPolicy {
	return InventoryPolicy{
		DepartureOpensBefore: 24 * time.Hour,
		DepartureGracePeriod: 24 * time.Hour,
		ReturnMode:           ReturnModeManual,
	}
}

func (p InventoryPolicy) Validate() error {
	if p.DepartureOpensBefore < 0 || p.DepartureGracePeriod < 0 {
		return &InvalidArgumentError{Field: "inventory_policy", Reason: "windows must not be negative"}
	}
	switch p.ReturnMode {
	case ReturnModeManual:
	case ReturnModeAuto:
		if p.SystemUserID == "" {
			return &InvalidArgumentError{Field: "inventory_policy.system_user_id", Reason: "required when return mode is auto"}
		}
	default:
		return &InvalidArgumentError{Field: "inventory_policy.return_mode", Reason: fmt.Sprintf("unknown mode %q", p.ReturnMode)}
	}
	return nil
}

// =============================================================================
// LINE INPUTS
// =============================================================================

// DepartureLine replaces the departure data of one line.
type DepartureLine struct {
	MaterialID       MaterialID
	QuantityDeparted *int
	Comment          *string
}

// ReturnLine replaces the return data of one line.
type ReturnLine struct {
	MaterialID     MaterialID
	Returned       *int
	ReturnedBroken *int
}

// =============================================================================
// MACHINE
// =============================================================================

type InventoryMachine struct {
	clock  Clock
	policy InventoryPolicy
}

func NewInventoryMachine(clock Clock, policy InventoryPolicy) *InventoryMachine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &InventoryMachine{clock: clock, policy: policy}
}

func (m *InventoryMachine) Policy() InventoryPolicy { return m.policy }

// =============================================================================
// WINDOWS
// =============================================================================

func (m *InventoryMachine) departureOpenAt(b *Booking, now time.Time) bool {
	if b.Return.IsDone {
		return false
	}
	start := b.MobilizationPeriod.Lower()
	if now.Before(start.Add(-m.policy.DepartureOpensBefore)) {
		return false
	}
	closes := start.Add(m.policy.DepartureGracePeriod)
	if end, ok := b.MobilizationPeriod.EndBound(); ok && end.Before(closes) {
		closes = end
	}
	return !now.After(closes)
}

func (m *InventoryMachine) returnOpenAt(b *Booking, now time.Time) bool {
	return b.OperationPeriod.IsBeforeOrDuring(now)
}

// IsDepartureWindowOpen reports whether departure data may be entered now.
func (m *InventoryMachine) IsDepartureWindowOpen(b *Booking) bool {
	return m.departureOpenAt(b, m.clock.Now())
}

// IsReturnWindowOpen reports whether return data may be entered now.
func (m *InventoryMachine) IsReturnWindowOpen(b *Booking) bool {
	return m.returnOpenAt(b, m.clock.Now())
}

// CanEditPhase combines the window with the phase and archival guards.
func (m *InventoryMachine) CanEditPhase(b *Booking, phase InventoryPhase) bool {
	return m.guardEdit(b, phase, "update") == nil
}

func (m *InventoryMachine) guardEdit(b *Booking, phase InventoryPhase, action string) error {
	if b.IsArchived {
		return &InvalidTransitionError{Phase: phase, Action: action, Reason: "booking is archived"}
	}
	state, open := b.Departure, m.IsDepartureWindowOpen(b)
	if phase == PhaseReturn {
		state, open = b.Return, m.IsReturnWindowOpen(b)
	}
	if state.IsDone {
		return &InvalidTransitionError{Phase: phase, Action: action, Reason: "inventory is already done"}
	}
	if !open {
		return &InvalidTransitionError{Phase: phase, Action: action, Reason: "inventory window is closed"}
	}
	return nil
}

// =============================================================================
// DEPARTURE
// =============================================================================

// UpdateDeparture stores partial departure data. Either every line is
// applied or none is.
func (m *InventoryMachine) UpdateDeparture(b *Booking, lines []DepartureLine) error {
	if err := m.guardEdit(b, PhaseDeparture, "update"); err != nil {
		return err
	}
	indexes := make([]int, len(lines))
	for i, line := range lines {
		idx := b.materialIndex(line.MaterialID)
		if idx < 0 {
			return unknownLine(line.MaterialID)
		}
		if err := checkQuantity(line.MaterialID, "quantity_departed", line.QuantityDeparted, b.Materials[idx].Quantity); err != nil {
			return err
		}
		indexes[i] = idx
	}
	for i, line := range lines {
		target := &b.Materials[indexes[i]]
		target.QuantityDeparted = cloneInt(line.QuantityDeparted)
		target.DepartureComment = cloneString(line.Comment)
	}
	return nil
}

// FinishDeparture marks the departure done. Every line needs a departed quantity.
func (m *InventoryMachine) FinishDeparture(b *Booking, author UserID) error {
	if err := m.guardEdit(b, PhaseDeparture, "finish"); err != nil {
		return err
	}
	if len(b.Materials) == 0 {
		return &InvalidTransitionError{Phase: PhaseDeparture, Action: "finish", Reason: "booking has no materials"}
	}
	var missing []MaterialID
	for _, line := range b.Materials {
		if line.QuantityDeparted == nil {
			missing = append(missing, line.MaterialID)
		}
	}
	if len(missing) > 0 {
		return &IncompleteInventoryError{Phase: PhaseDeparture, Lines: missing}
	}
	b.Departure = DoneInventory(author, m.clock.Now())
	return nil
}

// CancelDeparture reverts a finished departure.
func (m *InventoryMachine) CancelDeparture(b *Booking) error {
	if !b.Departure.IsDone {
		return &InvalidTransitionError{Phase: PhaseDeparture, Action: "cancel", Reason: "inventory is not done"}
	}
	if b.Return.IsDone {
		return &InvalidTransitionError{Phase: PhaseDeparture, Action: "cancel", Reason: "return inventory is done"}
	}
	clearDeparture(b)
	return nil
}

func clearDeparture(b *Booking) {
	b.Departure = InventoryState{}
	for i := range b.Materials {
		b.Materials[i].QuantityDeparted = nil
		b.Materials[i].DepartureComment = nil
	}
}

// =============================================================================
// RETURN
// =============================================================================

// UpdateReturn stores partial return data. Broken quantities never exceed
// returned ones.
func (m *InventoryMachine) UpdateReturn(b *Booking, lines []ReturnLine) error {
	if err := m.guardEdit(b, PhaseReturn, "update"); err != nil {
		return err
	}
	indexes := make([]int, len(lines))
	for i, line := range lines {
		idx := b.materialIndex(line.MaterialID)
		if idx < 0 {
			return unknownLine(line.MaterialID)
		}
		qty := b.Materials[idx].Quantity
		if err := checkQuantity(line.MaterialID, "quantity_returned", line.Returned, qty); err != nil {
			return err
		}
		if err := checkQuantity(line.MaterialID, "quantity_returned_broken", line.ReturnedBroken, qty); err != nil {
			return err
		}
		if line.Returned != nil && line.ReturnedBroken != nil && *line.ReturnedBroken > *line.Returned {
			return &InvalidArgumentError{
				Field:  "materials." + string(line.MaterialID) + ".quantity_returned_broken",
				Reason: "cannot exceed the returned quantity",
			}
		}
		indexes[i] = idx
	}
	for i, line := range lines {
		target := &b.Materials[indexes[i]]
		target.QuantityReturned = cloneInt(line.Returned)
		target.QuantityReturnedBroken = cloneInt(line.ReturnedBroken)
	}
	return nil
}

// FinishReturn marks the return done. `at` backdates the inventory; it
// defaults to now and may not be in the future nor before the operation start.
func (m *InventoryMachine) FinishReturn(b *Booking, author UserID, at *time.Time) error {
	if err := m.guardEdit(b, PhaseReturn, "finish"); err != nil {
		return err
	}
	now := m.clock.Now()
	when := now
	if at != nil {
		if at.After(now) {
			return &InvalidArgumentError{Field: "datetime", Reason: "cannot be in the future"}
		}
		if !b.OperationPeriod.IsBeforeOrDuring(*at) {
			return &InvalidArgumentError{Field: "datetime", Reason: "cannot be before the start of the operation period"}
		}
		when = *at
	}
	if len(b.Materials) == 0 {
		return &InvalidTransitionError{Phase: PhaseReturn, Action: "finish", Reason: "booking has no materials"}
	}
	var missing []MaterialID
	for _, line := range b.Materials {
		if line.QuantityReturned == nil || line.QuantityReturnedBroken == nil {
			missing = append(missing, line.MaterialID)
		}
	}
	if len(missing) > 0 {
		return &IncompleteInventoryError{Phase: PhaseReturn, Lines: missing}
	}
	b.Return = DoneInventory(author, when)
	return nil
}

// CancelReturn reverts a finished return and un-archives the booking.
func (m *InventoryMachine) CancelReturn(b *Booking) error {
	if !b.Return.IsDone {
		return &InvalidTransitionError{Phase: PhaseReturn, Action: "cancel", Reason: "inventory is not done"}
	}
	clearReturn(b)
	m.ReconcileArchival(b)
	return nil
}

func clearReturn(b *Booking) {
	b.Return = InventoryState{}
	for i := range b.Materials {
		b.Materials[i].QuantityReturned = nil
		b.Materials[i].QuantityReturnedBroken = nil
	}
}

// CanAutoFinishReturn reports whether AutoFinishReturn would act on b.
func (m *InventoryMachine) CanAutoFinishReturn(b *Booking) bool {
	return m.policy.ReturnMode == ReturnModeAuto &&
		!b.Return.IsDone &&
		!b.IsArchived &&
		!b.IsDeleted() &&
		len(b.Materials) > 0 &&
		b.MobilizationPeriod.IsBefore(m.clock.Now())
}

// AutoFinishReturn completes the return of a booking whose mobilization has
// ended when the policy is in auto mode. Missing quantities default to the
// departed quantity (or the booked one) and zero broken.
func (m *InventoryMachine) AutoFinishReturn(b *Booking) (bool, error) {
	if !m.CanAutoFinishReturn(b) {
		return false, nil
	}
	author := m.policy.SystemUserID
	if b.Departure.AuthorRef != nil {
		author = *b.Departure.AuthorRef
	}
	if author == "" {
		return false, &InvalidArgumentError{Field: "system_user_id", Reason: "required for automatic return inventories"}
	}
	at, _ := b.MobilizationPeriod.EndBound()

	for i := range b.Materials {
		line := &b.Materials[i]
		if line.QuantityReturned == nil {
			expected := line.Quantity
			if line.QuantityDeparted != nil {
				expected = *line.QuantityDeparted
			}
			line.QuantityReturned = IntPtr(expected)
		}
		if line.QuantityReturnedBroken == nil {
			line.QuantityReturnedBroken = IntPtr(0)
		}
	}
	b.Return = DoneInventory(author, at)
	return true, nil
}

// =============================================================================
// PERIOD CHANGES
// =============================================================================

// ReactToPeriodChange clears in-progress data of a phase whose window was
// open under the previous periods and is closed under the current ones.
func (m *InventoryMachine) ReactToPeriodChange(prev, cur *Booking) {
	if prev == nil {
		return
	}
	if prev.OperationPeriod.SameRange(cur.OperationPeriod) && prev.MobilizationPeriod.SameRange(cur.MobilizationPeriod) {
		return
	}
	now := m.clock.Now()
	if !cur.Departure.IsDone && m.departureOpenAt(prev, now) && !m.departureOpenAt(cur, now) {
		clearDeparture(cur)
	}
	if !cur.Return.IsDone && m.returnOpenAt(prev, now) && !m.returnOpenAt(cur, now) {
		clearReturn(cur)
	}
}

// =============================================================================
// ARCHIVAL
// =============================================================================

// IsArchivable: mobilization over and return done.
func (m *InventoryMachine) IsArchivable(b *Booking) bool {
	return !b.IsDeleted() && b.Return.IsDone && b.MobilizationPeriod.IsBefore(m.clock.Now())
}

func (m *InventoryMachine) Archive(b *Booking) error {
	if b.IsArchived {
		return &InvalidTransitionError{Action: "archive", Reason: "booking is already archived"}
	}
	if !b.Return.IsDone {
		return &InvalidTransitionError{Action: "archive", Reason: "return inventory is not done"}
	}
	if !m.IsArchivable(b) {
		return &InvalidTransitionError{Action: "archive", Reason: "mobilization period has not ended"}
	}
	b.IsArchived = true
	return nil
}

func (m *InventoryMachine) Unarchive(b *Booking) error {
	if !b.IsArchived {
		return &InvalidTransitionError{Action: "unarchive", Reason: "booking is not archived"}
	}
	b.IsArchived = false
	return nil
}

// ReconcileArchival un-archives a booking that no longer qualifies.
// It returns true when the flag changed.
func (m *InventoryMachine) ReconcileArchival(b *Booking) bool {
	if b.IsArchived && !m.IsArchivable(b) {
		b.IsArchived = false
		return true
	}
	return false
}

// =============================================================================
// OVERDUE HELPERS
// =============================================================================

// IsReturnOverdue: the mobilization has ended but nothing was returned.
func (m *InventoryMachine) IsReturnOverdue(b *Booking) bool {
	return !b.Return.IsDone && b.MobilizationPeriod.IsBefore(m.clock.Now())
}

// HasNotReturnedMaterials: the return is done but some lines came back short.
func (m *InventoryMachine) HasNotReturnedMaterials(b *Booking) bool {
	if !b.Return.IsDone {
		return false
	}
	for _, line := range b.Materials {
		expected := line.Quantity
		if line.QuantityDeparted != nil {
			expected = *line.QuantityDeparted
		}
		if line.QuantityReturned != nil && *line.QuantityReturned < expected {
			return true
		}
	}
	return false
}

// RemainingPeriod returns what is left of the mobilization from now on.
func (m *InventoryMachine) RemainingPeriod(b *Booking) (Period, bool) {
	tail, err := b.MobilizationPeriod.Tail(m.clock.Now())
	if err != nil {
		return Period{}, false
	}
	return tail, true
}

// =============================================================================
// HELPERS
// =============================================================================

func unknownLine(id MaterialID) error {
	return &InvalidArgumentError{Field: "materials." + string(id), Reason: "material is not part of the booking"}
}

func checkQuantity(id MaterialID, field string, qty *int, max int) error {
	if qty == nil {
		return nil
	}
	if *qty < 0 || *qty > max {
		return &InvalidArgumentError{
			Field:  "materials." + string(id) + "." + field,
			Reason: fmt.Sprintf("must be between 0 and %d", max),
		}
	}
	return nil
}

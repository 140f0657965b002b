package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrInvalidPeriod       = errors.New("invalid period")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrIncompleteInventory = errors.New("incomplete inventory")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrMaterialNotFound    = errors.New("material not found")
	ErrTableNotFound       = errors.New("degressive rate table not found")
	ErrBookingDeleted      = errors.New("booking is deleted")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidTransitionError is returned when a lifecycle guard rejects an action.
type InvalidTransitionError struct {
	Phase  InventoryPhase // empty for booking-level actions (archive, restore)
	Action string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("cannot %s booking: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("cannot %s %s inventory: %s", e.Action, e.Phase, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// IncompleteInventoryError names every line still missing data on finish.
type IncompleteInventoryError struct {
	Phase InventoryPhase
	Lines []MaterialID
}

func (e *IncompleteInventoryError) Error() string {
	ids := make([]string, len(e.Lines))
	for i, id := range e.Lines {
		ids[i] = string(id)
	}
	return fmt.Sprintf("%s inventory is incomplete for materials: %s", e.Phase, strings.Join(ids, ", "))
}

func (e *IncompleteInventoryError) Unwrap() error { return ErrIncompleteInventory }

// InvalidArgumentError reports a malformed input field.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IsClientError returns true if the error is caused by invalid client input
// or a forbidden transition rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrIncompleteInventory) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrBookingDeleted)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrMaterialNotFound) ||
		errors.Is(err, ErrTableNotFound)
}

/*
kind.go - Booking variant registration and lookup

PURPOSE:
  Bookings carry a flat variant tag (Kind). Variant packages register their
  kind on init() so storage and the API can turn a stored string back into
  a known variant and reject unknown ones.

USAGE:
  // In event/types.go
  func init() {
      generic.RegisterKind(Kind)
  }

  kind, ok := generic.LookupKind("event")

SEE ALSO:
  - event/types.go: the Event variant
  - booking.go: Booking.Kind
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

// Kind identifies the booking variant. Only "event" exists today.
type Kind string

var (
	kindRegistry = make(map[Kind]struct{})
	registryMu   sync.RWMutex
)

// RegisterKind adds a booking variant to the global registry.
func RegisterKind(k Kind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	kindRegistry[k] = struct{}{}
}

// LookupKind returns the registered kind for the given name.
func LookupKind(name string) (Kind, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := kindRegistry[Kind(name)]
	return Kind(name), ok
}

// MustLookupKind finds a registered kind or panics.
func MustLookupKind(name string) Kind {
	k, ok := LookupKind(name)
	if !ok {
		panic(fmt.Sprintf("booking kind not registered: %s", name))
	}
	return k
}

// ListKinds returns all registered kinds, sorted by name.
func ListKinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Kind, 0, len(kindRegistry))
	for k := range kindRegistry {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

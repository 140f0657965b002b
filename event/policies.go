/*
policies.go - Pre-built inventory policies and degressive rate tables

PURPOSE:
  Ready-to-use configurations for common rental setups. They are starting
  points: deployments usually load their own tables through the factory.

AVAILABLE PRESETS:
  StandardInventoryPolicy:  departure opens the day before, manual return
  AutoReturnPolicy:         returns complete themselves when mobilization ends
  StandardDegressiveTable:  weekly rental charged as 5 days, 20% off beyond
  StandardDegressiveJSON:   the same table as factory JSON

EXAMPLE:
  table := event.StandardDegressiveTable("standard")
  rate := table.Resolve(10)           // {IsRate: true, Value: 20}
  rate.Coefficient(10)                // 8 days charged

SEE ALSO:
  - factory/catalog.go: JSON-based table creation
  - generic/degressive.go: resolution rules
*/
package event

import (
	"fmt"
	"time"

	"github.com/loxya/booking-engine/generic"
)

// =============================================================================
// INVENTORY POLICIES
// =============================================================================

// StandardInventoryPolicy opens departures the day before mobilization and
// keeps them open for a day.
func StandardInventoryPolicy() generic.InventoryPolicy {
	return generic.DefaultInventoryPolicy()
}

// AutoReturnPolicy completes overdue returns automatically, authored by the
// departure author or the given system user.
func AutoReturnPolicy(systemUser generic.UserID) generic.InventoryPolicy {
	p := generic.DefaultInventoryPolicy()
	p.ReturnMode = generic.ReturnModeAuto
	p.SystemUserID = systemUser
	return p
}

// EarlyDeparturePolicy lets departures be prepared several days ahead.
func EarlyDeparturePolicy(days int) generic.InventoryPolicy {
	p := generic.DefaultInventoryPolicy()
	p.DepartureOpensBefore = time.Duration(days) * 24 * time.Hour
	return p
}

// =============================================================================
// DEGRESSIVE RATE TABLES
// =============================================================================

var standardTiers = []struct {
	fromDay int
	isRate  bool
	value   string
}{
	{1, false, "1"},
	{2, false, "1.75"},
	{3, false, "2.5"},
	{4, false, "3.25"},
	{5, false, "4"},
	{6, false, "4.5"},
	{7, false, "5"},
	{8, true, "20"},
}

// StandardDegressiveTable charges a week as five days and gives 20% off
// longer rentals.
func StandardDegressiveTable(id generic.TableID) generic.DegressiveRateTable {
	tiers := make([]generic.DegressiveRateTier, len(standardTiers))
	for i, t := range standardTiers {
		tiers[i] = generic.DegressiveRateTier{
			FromDay: t.fromDay,
			IsRate:  t.isRate,
			Value:   generic.MustParseDecimal(t.value),
		}
	}
	return generic.DegressiveRateTable{ID: id, Name: "Standard", Tiers: tiers}
}

// StandardDegressiveJSON returns the standard table in the factory format.
func StandardDegressiveJSON(id, name string) string {
	tiers := ""
	for i, t := range standardTiers {
		if i > 0 {
			tiers += ",\n"
		}
		tiers += fmt.Sprintf(`    {"from_day": %d, "is_rate": %t, "value": "%s"}`, t.fromDay, t.isRate, t.value)
	}
	return fmt.Sprintf(`{
  "id": %q,
  "name": %q,
  "tiers": [
%s
  ]
}`, id, name, tiers)
}

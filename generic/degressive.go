/*
degressive.go - Degressive rate resolution

PURPOSE:
  A degressive rate table maps a rental duration (in days) to the number of
  days actually charged. Long rentals are cheaper per day.

  Each tier applies from a given day count onwards:

    FromDay  IsRate  Value   Meaning
    1        false   1       1 day or more → 1 day charged
    3        false   2.5     3 days or more → 2.5 days charged
    8        true    20      8 days or more → days × 80%

RESOLUTION:
  The selected tier is the one with the greatest FromDay <= duration.
  Without a matching tier the rate is {IsRate: false, Value: duration}.
  Tiers are sorted before resolution so input order is irrelevant.

SEE ALSO:
  - billing.go: where the resolved coefficient lands on line items
  - factory/catalog.go: parsing and validating tables from JSON
*/
package generic

import (
	"sort"

	"github.com/shopspring/decimal"
)

type DegressiveRateTier struct {
	FromDay int
	IsRate  bool
	Value   decimal.Decimal
}

type DegressiveRateTable struct {
	ID    TableID
	Name  string
	Tiers []DegressiveRateTier
}

// DegressiveRate is the tier selected for a duration.
type DegressiveRate struct {
	IsRate bool
	Value  decimal.Decimal
}

// NoDegressivity charges every day.
func NoDegressivity(days int) DegressiveRate {
	return DegressiveRate{IsRate: false, Value: decimal.NewFromInt(int64(days))}
}

// ResolveDegressiveRate picks the tier for the given duration. It never fails:
// durations below one day and tiers with FromDay < 1 fall back to the default.
func ResolveDegressiveRate(tiers []DegressiveRateTier, days int) DegressiveRate {
	if days < 1 || len(tiers) == 0 {
		return NoDegressivity(days)
	}

	sorted := make([]DegressiveRateTier, 0, len(tiers))
	for _, t := range tiers {
		if t.FromDay >= 1 {
			sorted = append(sorted, t)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FromDay < sorted[j].FromDay })

	var found *DegressiveRateTier
	for i := range sorted {
		if sorted[i].FromDay > days {
			break
		}
		found = &sorted[i]
	}
	if found == nil {
		return NoDegressivity(days)
	}
	return DegressiveRate{IsRate: found.IsRate, Value: found.Value}
}

// Resolve is nil-safe: a missing table means no degressivity.
func (t *DegressiveRateTable) Resolve(days int) DegressiveRate {
	if t == nil {
		return NoDegressivity(days)
	}
	return ResolveDegressiveRate(t.Tiers, days)
}

// Coefficient converts the rate into the number of days charged.
// A percentage tier discounts the full duration: days × (100 - value) / 100.
func (r DegressiveRate) Coefficient(days int) decimal.Decimal {
	if !r.IsRate {
		return r.Value
	}
	hundred := decimal.NewFromInt(100)
	return decimal.NewFromInt(int64(days)).
		Mul(hundred.Sub(r.Value)).
		Div(hundred).
		Round(2)
}

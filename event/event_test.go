package event_test

import (
	"testing"
	"time"

	"github.com/loxya/booking-engine/event"
	"github.com/loxya/booking-engine/factory"
	"github.com/loxya/booking-engine/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindIsRegistered(t *testing.T) {
	k, ok := generic.LookupKind("event")
	assert.True(t, ok)
	assert.Equal(t, event.Kind, k)
}

func TestNew_AppliesOptions(t *testing.T) {
	op := generic.Days(generic.Date(2025, time.June, 10), generic.Date(2025, time.June, 12))
	mob := generic.Days(generic.Date(2025, time.June, 9), generic.Date(2025, time.June, 13))

	b := event.New("Festival", op, mob,
		event.Billable(),
		event.Confirmed(),
		event.At("Lyon"),
		event.WithReference("FEST-25"),
		event.WithDegressiveTable("weekly"),
		event.WithMaterials(event.Line("speaker", 4)),
		event.WithMaterials(event.Line("cable", 20)),
	)

	assert.Equal(t, event.Kind, b.Kind)
	assert.True(t, b.IsBillable)
	assert.True(t, b.IsConfirmed)
	assert.Equal(t, "Lyon", b.Location)
	assert.Equal(t, "FEST-25", b.Reference)
	require.NotNil(t, b.DegressiveTableID)
	assert.Equal(t, generic.TableID("weekly"), *b.DegressiveTableID)
	assert.Len(t, b.Materials, 2)
	assert.True(t, b.MobilizationPeriod.SameRange(mob))
}

func TestUnified(t *testing.T) {
	p := generic.Days(generic.Date(2025, time.June, 1), generic.Date(2025, time.June, 2))
	b := event.Unified("Wedding", p)
	assert.True(t, b.OperationPeriod.SameRange(b.MobilizationPeriod))
	assert.False(t, b.IsBillable)
}

func TestPolicies(t *testing.T) {
	assert.NoError(t, event.StandardInventoryPolicy().Validate())

	auto := event.AutoReturnPolicy("robot")
	assert.Equal(t, generic.ReturnModeAuto, auto.ReturnMode)
	assert.NoError(t, auto.Validate())
	assert.Error(t, event.AutoReturnPolicy("").Validate())

	assert.Equal(t, 72*time.Hour, event.EarlyDeparturePolicy(3).DepartureOpensBefore)
}

func TestStandardDegressiveTable(t *testing.T) {
	table := event.StandardDegressiveTable("standard")

	tests := []struct {
		days int
		want string
	}{
		{1, "1"},
		{3, "2.5"},
		{7, "5"},
		{10, "8"}, // 20% off 10 days
	}
	for _, tt := range tests {
		rate := table.Resolve(tt.days)
		assert.Equal(t, tt.want, rate.Coefficient(tt.days).String(), "%d days", tt.days)
	}
}

func TestStandardDegressiveJSON_ParsesToSameTable(t *testing.T) {
	parsed, err := factory.NewCatalogFactory().ParseDegressiveTable(event.StandardDegressiveJSON("standard", "Standard"))
	require.NoError(t, err)

	want := event.StandardDegressiveTable("standard")
	require.Len(t, parsed.Tiers, len(want.Tiers))
	for i := range want.Tiers {
		assert.Equal(t, want.Tiers[i].FromDay, parsed.Tiers[i].FromDay)
		assert.Equal(t, want.Tiers[i].IsRate, parsed.Tiers[i].IsRate)
		assert.True(t, want.Tiers[i].Value.Equal(parsed.Tiers[i].Value))
	}
}

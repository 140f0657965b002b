package factory_test

import (
	"context"
	"testing"

	"github.com/loxya/booking-engine/factory"
	"github.com/loxya/booking-engine/generic"
	"github.com/loxya/booking-engine/generic/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogJSON = `{
  "degressive_tables": [
    {"id": "standard", "name": "Standard", "tiers": [
      {"from_day": 1, "value": "1"},
      {"from_day": 3, "value": "2.5"},
      {"from_day": 8, "is_rate": true, "value": "20"}
    ]}
  ],
  "materials": [
    {"id": "speaker", "name": "Speaker", "stock_quantity": 4, "rental_price": "50.00",
     "tax": {"name": "VAT", "is_rate": true, "value": "20"}, "degressive_table_id": "standard"},
    {"id": "cable", "name": "Cable", "stock_quantity": 40, "rental_price": 1.5}
  ]
}`

func TestParseCatalog(t *testing.T) {
	f := factory.NewCatalogFactory()
	c, err := f.ParseCatalog(catalogJSON)
	require.NoError(t, err)

	require.Len(t, c.Tables, 1)
	assert.Len(t, c.Tables[0].Tiers, 3)
	assert.True(t, c.Tables[0].Tiers[2].IsRate)

	require.Len(t, c.Materials, 2)
	speaker := c.Materials[0]
	assert.Equal(t, 4, speaker.StockQuantity)
	assert.Equal(t, "50", speaker.RentalPrice.String())
	require.NotNil(t, speaker.Tax)
	assert.True(t, speaker.Tax.IsRate)
	require.NotNil(t, speaker.DegressiveTableID)
	assert.Equal(t, generic.TableID("standard"), *speaker.DegressiveTableID)
	assert.Nil(t, c.Materials[1].DegressiveTableID)
	assert.Equal(t, "1.5", c.Materials[1].RentalPrice.String())
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"malformed", `{"materials": [`, "failed to parse catalog JSON"},
		{"tier from day zero", `{"degressive_tables": [{"id": "t", "tiers": [{"from_day": 0, "value": "1"}]}]}`, "at least 1"},
		{"tiers not increasing", `{"degressive_tables": [{"id": "t", "tiers": [{"from_day": 3, "value": "1"}, {"from_day": 3, "value": "2"}]}]}`, "strictly increasing"},
		{"rate above 100", `{"degressive_tables": [{"id": "t", "tiers": [{"from_day": 1, "is_rate": true, "value": "120"}]}]}`, "cannot exceed 100"},
		{"negative tier", `{"degressive_tables": [{"id": "t", "tiers": [{"from_day": 1, "value": "-1"}]}]}`, "must not be negative"},
		{"table without id", `{"degressive_tables": [{"name": "t"}]}`, "id is required"},
		{"duplicate table", `{"degressive_tables": [{"id": "t"}, {"id": "t"}]}`, "duplicate id"},
		{"material without id", `{"materials": [{"name": "x"}]}`, "id is required"},
		{"negative stock", `{"materials": [{"id": "x", "stock_quantity": -1}]}`, "stock_quantity"},
		{"negative price", `{"materials": [{"id": "x", "rental_price": "-3"}]}`, "rental_price"},
		{"duplicate material", `{"materials": [{"id": "x"}, {"id": "x"}]}`, "duplicate id"},
		{"unknown table", `{"materials": [{"id": "x", "degressive_table_id": "ghost"}]}`, "unknown degressive table ghost"},
	}

	f := factory.NewCatalogFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseCatalog(tt.json)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDegressiveTable_RoundTrip(t *testing.T) {
	f := factory.NewCatalogFactory()
	table, err := f.ParseDegressiveTable(`{"id": "weekly", "name": "Weekly", "tiers": [{"from_day": 1, "value": "1"}, {"from_day": 7, "value": "5"}]}`)
	require.NoError(t, err)

	back := f.TableToJSON(*table)
	assert.Equal(t, "weekly", back.ID)
	require.Len(t, back.Tiers, 2)
	assert.Equal(t, 7, back.Tiers[1].FromDay)
	assert.Equal(t, "5", back.Tiers[1].Value.String())
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	f := factory.NewCatalogFactory()
	c, err := f.ParseCatalog(catalogJSON)
	require.NoError(t, err)

	// GIVEN: an empty catalog store
	cat := store.NewCatalog()

	// WHEN: the parsed catalog is loaded
	require.NoError(t, f.Load(ctx, cat, c))

	// THEN: materials and their table resolve
	m, err := cat.GetMaterial(ctx, "speaker")
	require.NoError(t, err)
	table, err := cat.GetDegressiveTable(ctx, *m.DegressiveTableID)
	require.NoError(t, err)
	assert.Equal(t, "Standard", table.Name)

	list, err := cat.ListMaterials(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

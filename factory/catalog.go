/*
Package factory provides JSON to Go catalog conversion.

PURPOSE:
  Converts JSON catalog definitions (materials and degressive rate tables)
  into generic types. Catalogs can be maintained as files or posted through
  the API without code changes.

JSON SCHEMA:
  {
    "degressive_tables": [
      {
        "id": "standard",
        "name": "Standard",
        "tiers": [
          {"from_day": 1, "is_rate": false, "value": "1"},
          {"from_day": 3, "is_rate": false, "value": "2.5"},
          {"from_day": 8, "is_rate": true,  "value": "20"}
        ]
      }
    ],
    "materials": [
      {
        "id": "console-32",
        "name": "Console 32 voies",
        "stock_quantity": 2,
        "rental_price": "150.00",
        "tax": {"name": "VAT 20%", "is_rate": true, "value": "20"},
        "degressive_table_id": "standard"
      }
    ]
  }

VALIDATION:
  - Tier from_day values start at 1 and are strictly increasing
  - Percentage tiers are between 0 and 100
  - Stock quantities and prices are not negative
  - Material table references resolve within the document

USAGE:
  f := factory.NewCatalogFactory()
  catalog, err := f.ParseCatalog(jsonString)
  err = f.Load(ctx, store, catalog)

SEE ALSO:
  - generic/degressive.go: DegressiveRateTable
  - event/policies.go: preset tables
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loxya/booking-engine/generic"
	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CatalogJSON struct {
	DegressiveTables []DegressiveTableJSON `json:"degressive_tables,omitempty"`
	Materials        []MaterialJSON        `json:"materials,omitempty"`
}

type DegressiveTableJSON struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Tiers []TierJSON `json:"tiers"`
}

type TierJSON struct {
	FromDay int             `json:"from_day"`
	IsRate  bool            `json:"is_rate"`
	Value   decimal.Decimal `json:"value"`
}

type MaterialJSON struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	StockQuantity     int             `json:"stock_quantity"`
	RentalPrice       decimal.Decimal `json:"rental_price"`
	Tax               *TaxJSON        `json:"tax,omitempty"`
	DegressiveTableID string          `json:"degressive_table_id,omitempty"`
}

type TaxJSON struct {
	Name   string          `json:"name"`
	IsRate bool            `json:"is_rate"`
	Value  decimal.Decimal `json:"value"`
}

// Catalog is the parsed form of CatalogJSON.
type Catalog struct {
	Tables    []generic.DegressiveRateTable
	Materials []generic.Material
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

type CatalogFactory struct{}

func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// ParseCatalog parses and validates a catalog document.
func (f *CatalogFactory) ParseCatalog(jsonStr string) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// ParseDegressiveTable parses a single table document.
func (f *CatalogFactory) ParseDegressiveTable(jsonStr string) (*generic.DegressiveRateTable, error) {
	var tj DegressiveTableJSON
	if err := json.Unmarshal([]byte(jsonStr), &tj); err != nil {
		return nil, fmt.Errorf("failed to parse degressive table JSON: %w", err)
	}
	return f.TableFromJSON(tj)
}

func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*Catalog, error) {
	out := &Catalog{}
	tables := make(map[string]struct{}, len(cj.DegressiveTables))
	for _, tj := range cj.DegressiveTables {
		t, err := f.TableFromJSON(tj)
		if err != nil {
			return nil, err
		}
		if _, dup := tables[tj.ID]; dup {
			return nil, fmt.Errorf("degressive table %s: duplicate id", tj.ID)
		}
		tables[tj.ID] = struct{}{}
		out.Tables = append(out.Tables, *t)
	}

	materials := make(map[string]struct{}, len(cj.Materials))
	for _, mj := range cj.Materials {
		m, err := materialFromJSON(mj)
		if err != nil {
			return nil, err
		}
		if _, dup := materials[mj.ID]; dup {
			return nil, fmt.Errorf("material %s: duplicate id", mj.ID)
		}
		materials[mj.ID] = struct{}{}
		if mj.DegressiveTableID != "" {
			if _, ok := tables[mj.DegressiveTableID]; !ok {
				return nil, fmt.Errorf("material %s: unknown degressive table %s", mj.ID, mj.DegressiveTableID)
			}
		}
		out.Materials = append(out.Materials, m)
	}
	return out, nil
}

// TableFromJSON validates tier ordering and values.
func (f *CatalogFactory) TableFromJSON(tj DegressiveTableJSON) (*generic.DegressiveRateTable, error) {
	if tj.ID == "" {
		return nil, fmt.Errorf("degressive table: id is required")
	}
	table := &generic.DegressiveRateTable{ID: generic.TableID(tj.ID), Name: tj.Name}
	last := 0
	for i, t := range tj.Tiers {
		if t.FromDay < 1 {
			return nil, fmt.Errorf("degressive table %s: tier %d: from_day must be at least 1", tj.ID, i)
		}
		if t.FromDay <= last {
			return nil, fmt.Errorf("degressive table %s: tier %d: from_day %d is not strictly increasing", tj.ID, i, t.FromDay)
		}
		if t.Value.IsNegative() {
			return nil, fmt.Errorf("degressive table %s: tier %d: value must not be negative", tj.ID, i)
		}
		if t.IsRate && t.Value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("degressive table %s: tier %d: rate cannot exceed 100", tj.ID, i)
		}
		last = t.FromDay
		table.Tiers = append(table.Tiers, generic.DegressiveRateTier{FromDay: t.FromDay, IsRate: t.IsRate, Value: t.Value})
	}
	return table, nil
}

func materialFromJSON(mj MaterialJSON) (generic.Material, error) {
	if mj.ID == "" {
		return generic.Material{}, fmt.Errorf("material: id is required")
	}
	if mj.StockQuantity < 0 {
		return generic.Material{}, fmt.Errorf("material %s: stock_quantity must not be negative", mj.ID)
	}
	if mj.RentalPrice.IsNegative() {
		return generic.Material{}, fmt.Errorf("material %s: rental_price must not be negative", mj.ID)
	}
	m := generic.Material{
		ID:            generic.MaterialID(mj.ID),
		Name:          mj.Name,
		StockQuantity: mj.StockQuantity,
		RentalPrice:   mj.RentalPrice,
	}
	if mj.Tax != nil {
		m.Tax = &generic.TaxSnapshot{Name: mj.Tax.Name, IsRate: mj.Tax.IsRate, Value: mj.Tax.Value}
	}
	if mj.DegressiveTableID != "" {
		m.DegressiveTableID = generic.TablePtr(generic.TableID(mj.DegressiveTableID))
	}
	return m, nil
}

// TableToJSON converts a table back to its JSON form.
func (f *CatalogFactory) TableToJSON(t generic.DegressiveRateTable) DegressiveTableJSON {
	tj := DegressiveTableJSON{ID: string(t.ID), Name: t.Name, Tiers: make([]TierJSON, len(t.Tiers))}
	for i, tier := range t.Tiers {
		tj.Tiers[i] = TierJSON{FromDay: tier.FromDay, IsRate: tier.IsRate, Value: tier.Value}
	}
	return tj
}

// Load writes the catalog, tables first so material references resolve.
func (f *CatalogFactory) Load(ctx context.Context, w generic.CatalogWriter, c *Catalog) error {
	for _, t := range c.Tables {
		if err := w.SaveDegressiveTable(ctx, t); err != nil {
			return fmt.Errorf("saving degressive table %s: %w", t.ID, err)
		}
	}
	for _, m := range c.Materials {
		if err := w.SaveMaterial(ctx, m); err != nil {
			return fmt.Errorf("saving material %s: %w", m.ID, err)
		}
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/loxya/booking-engine/generic"
)

// =============================================================================
// MEMORY CATALOG - Materials and degressive rate tables
// =============================================================================

type Catalog struct {
	mu        sync.RWMutex
	materials map[generic.MaterialID]generic.Material
	tables    map[generic.TableID]generic.DegressiveRateTable
}

func NewCatalog() *Catalog {
	return &Catalog{
		materials: make(map[generic.MaterialID]generic.Material),
		tables:    make(map[generic.TableID]generic.DegressiveRateTable),
	}
}

func (c *Catalog) SaveMaterial(_ context.Context, m generic.Material) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materials[m.ID] = m
	return nil
}

func (c *Catalog) SaveDegressiveTable(_ context.Context, t generic.DegressiveRateTable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Tiers = append([]generic.DegressiveRateTier(nil), t.Tiers...)
	c.tables[t.ID] = t
	return nil
}

func (c *Catalog) GetMaterial(_ context.Context, id generic.MaterialID) (*generic.Material, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.materials[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrMaterialNotFound, id)
	}
	return &m, nil
}

func (c *Catalog) GetDegressiveTable(_ context.Context, id generic.TableID) (*generic.DegressiveRateTable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrTableNotFound, id)
	}
	t.Tiers = append([]generic.DegressiveRateTier(nil), t.Tiers...)
	return &t, nil
}

func (c *Catalog) ListMaterials(_ context.Context) ([]*generic.Material, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*generic.Material, 0, len(c.materials))
	for _, m := range c.materials {
		result = append(result, &m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario loads a catalog and creates bookings that
	demonstrate specific features.

AVAILABLE SCENARIOS:

	shortage:     Two overlapping events competing for the same stock
	pending-return: An event that ended and waits for its return inventory
	degressive:   A long billable event priced with the standard table

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Load the demo catalog via factory
 3. Create bookings relative to the service clock

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "shortage"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/catalog.go: Catalog JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loxya/booking-engine/event"
	"github.com/loxya/booking-engine/generic"
)

// Scenario describes a demo data set.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []Scenario{
	{ID: "shortage", Name: "Stock shortage", Description: "Two overlapping events book more speakers than the stock holds"},
	{ID: "pending-return", Name: "Pending return", Description: "An event ended yesterday and its return inventory is overdue"},
	{ID: "degressive", Name: "Degressive pricing", Description: "A ten-day billable event priced with the standard degressive table"},
}

const demoCatalog = `{
  "degressive_tables": [
    {"id": "standard", "name": "Standard", "tiers": [
      {"from_day": 1, "is_rate": false, "value": "1"},
      {"from_day": 2, "is_rate": false, "value": "1.75"},
      {"from_day": 3, "is_rate": false, "value": "2.5"},
      {"from_day": 8, "is_rate": true, "value": "20"}
    ]}
  ],
  "materials": [
    {"id": "speaker", "name": "Speaker", "stock_quantity": 4, "rental_price": "50",
     "tax": {"name": "VAT", "is_rate": true, "value": "20"}, "degressive_table_id": "standard"},
    {"id": "console", "name": "Mixing console", "stock_quantity": 1, "rental_price": "120",
     "tax": {"name": "VAT", "is_rate": true, "value": "20"}},
    {"id": "cable", "name": "XLR cable", "stock_quantity": 40, "rental_price": "1.5"}
  ]
}`

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Reset == nil {
		notImplemented(w, "Scenario loading")
		return
	}
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	var load func(context.Context) ([]*generic.Booking, error)
	switch req.ScenarioID {
	case "shortage":
		load = h.loadShortageScenario
	case "pending-return":
		load = h.loadPendingReturnScenario
	case "degressive":
		load = h.loadDegressiveScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q not found", req.ScenarioID))
		return
	}
	if err := h.resetWithCatalog(ctx); err != nil {
		h.writeDomainError(w, err)
		return
	}
	bookings, err := load(ctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.currentScenario = req.ScenarioID
	m := h.Service.Inventory()
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b, m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Reset == nil {
		notImplemented(w, "Reset")
		return
	}
	if err := h.Reset(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.currentScenario = ""
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetWithCatalog(ctx context.Context) error {
	if err := h.Reset(ctx); err != nil {
		return err
	}
	catalog, err := h.CatalogFactory.ParseCatalog(demoCatalog)
	if err != nil {
		return err
	}
	return h.CatalogFactory.Load(ctx, h.Catalog, catalog)
}

func (h *Handler) today() time.Time {
	return generic.StartOfDay(h.Service.Clock().Now())
}

func (h *Handler) loadShortageScenario(ctx context.Context) ([]*generic.Booking, error) {
	today := h.today()
	concert, err := h.Service.Create(ctx, event.New("Open air concert",
		generic.Days(today.AddDate(0, 0, 3), today.AddDate(0, 0, 4)),
		generic.Days(today.AddDate(0, 0, 2), today.AddDate(0, 0, 5)),
		event.Confirmed(), event.At("City park"),
		event.WithMaterials(event.Line("speaker", 3), event.Line("console", 1), event.Line("cable", 12))))
	if err != nil {
		return nil, err
	}
	conference, err := h.Service.Create(ctx, event.Unified("Tech conference",
		generic.Days(today.AddDate(0, 0, 5), today.AddDate(0, 0, 6)),
		event.WithMaterials(event.Line("speaker", 2), event.Line("cable", 6))))
	if err != nil {
		return nil, err
	}
	return []*generic.Booking{concert, conference}, nil
}

func (h *Handler) loadPendingReturnScenario(ctx context.Context) ([]*generic.Booking, error) {
	today := h.today()
	wedding, err := h.Service.Create(ctx, event.Unified("Wedding",
		generic.Days(today.AddDate(0, 0, -3), today.AddDate(0, 0, -1)),
		event.Confirmed(), event.WithReference("WED-2"),
		event.WithMaterials(event.Line("speaker", 2), event.Line("cable", 8))))
	if err != nil {
		return nil, err
	}
	return []*generic.Booking{wedding}, nil
}

func (h *Handler) loadDegressiveScenario(ctx context.Context) ([]*generic.Booking, error) {
	today := h.today()
	festival, err := h.Service.Create(ctx, event.Unified("Summer festival",
		generic.Days(today.AddDate(0, 0, 7), today.AddDate(0, 0, 16)),
		event.Billable(), event.Confirmed(), event.WithDegressiveTable("standard"),
		event.WithMaterials(event.Line("speaker", 4), event.Line("console", 1))))
	if err != nil {
		return nil, err
	}
	return []*generic.Booking{festival}, nil
}

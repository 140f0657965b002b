/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the BookingService.

ENDPOINTS:
  Bookings:
    GET    /api/bookings                        List bookings
    POST   /api/bookings                        Create booking
    GET    /api/bookings/{id}                   Get booking details
    PUT    /api/bookings/{id}/periods           Move operation/mobilization periods
    PUT    /api/bookings/{id}/details           Edit cosmetic fields
    PUT    /api/bookings/{id}/billable          Toggle billability
    POST   /api/bookings/{id}/duplicate         Copy onto new periods

  Materials and prices:
    PUT    /api/bookings/{id}/materials                      Replace material lines
    DELETE /api/bookings/{id}/materials/{materialID}         Remove a line
    PUT    /api/bookings/{id}/materials/{materialID}/price   Override a line price
    PUT    /api/bookings/{id}/extras                         Replace extras
    POST   /api/bookings/{id}/prices/recalculate             Reset prices from catalog

  Inventories ({phase} is departure or return):
    PUT    /api/bookings/{id}/inventories/{phase}   Save quantities
    POST   /api/bookings/{id}/inventories/{phase}   Finish
    DELETE /api/bookings/{id}/inventories/{phase}   Cancel

  Lifecycle:
    POST   /api/bookings/{id}/archive    Archive
    DELETE /api/bookings/{id}/archive    Unarchive
    DELETE /api/bookings/{id}            Soft delete
    POST   /api/bookings/{id}/restore    Restore
    DELETE /api/bookings/{id}/hard       Hard delete

  Availability and billing:
    GET    /api/bookings/{id}/missing-materials
    GET    /api/bookings/{id}/documents
    POST   /api/bookings/{id}/documents

  Catalog:
    GET    /api/materials     List materials
    POST   /api/catalog       Load a catalog from JSON

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid period or argument
  - 404: Booking, material or table not found
  - 409: Invalid transition, deleted booking
  - 422: Incomplete inventory (details list the missing lines)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. Inventory authors are
  taken from the request body.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/loxya/booking-engine/factory"
	"github.com/loxya/booking-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// CatalogStore reads and writes materials and degressive tables.
type CatalogStore interface {
	generic.MaterialCatalog
	generic.CatalogWriter
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Service        *generic.BookingService
	Catalog        CatalogStore
	CatalogFactory *factory.CatalogFactory
	Log            *zap.Logger

	// Reset clears all data before a scenario loads. Nil disables scenarios.
	Reset func(ctx context.Context) error
	// Health reports backing store health.
	Health func(ctx context.Context) error
	// Metrics serves /metrics when set.
	Metrics http.Handler

	currentScenario string
}

func NewHandler(svc *generic.BookingService, catalog CatalogStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Service:        svc,
		Catalog:        catalog,
		CatalogFactory: factory.NewCatalogFactory(),
		Log:            log.Named("api"),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	bookings, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	m := h.Service.Inventory()
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b, m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// parseListFilter reads ?from=&to=&include_deleted=&archived=.
func parseListFilter(r *http.Request) (generic.ListFilter, error) {
	q := r.URL.Query()
	var filter generic.ListFilter
	if from := q.Get("from"); from != "" {
		p := PeriodDTO{Start: from, IsFullDays: true}
		if to := q.Get("to"); to != "" {
			p.End = &to
		}
		period, err := p.toPeriod()
		if err != nil {
			return filter, err
		}
		filter.Period = &period
	}
	if v := q.Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, &generic.InvalidArgumentError{Field: "include_deleted", Reason: "must be a boolean"}
		}
		filter.IncludeDeleted = b
	}
	if v := q.Get("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, &generic.InvalidArgumentError{Field: "archived", Reason: "must be a boolean"}
		}
		filter.Archived = &b
	}
	return filter, nil
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, mob, err := periodsFromRequest(req.OperationPeriod, req.MobilizationPeriod)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	kind := generic.Kind(req.Kind)
	if kind == "" {
		kind = "event"
	}
	in := generic.NewBooking{
		Kind:               kind,
		Title:              req.Title,
		Reference:          req.Reference,
		Description:        req.Description,
		Location:           req.Location,
		Notes:              req.Notes,
		OperationPeriod:    op,
		MobilizationPeriod: mob,
		IsConfirmed:        req.IsConfirmed,
		IsBillable:         req.IsBillable,
		Materials:          toMaterialQuantities(req.Materials),
	}
	if req.DegressiveTableID != nil {
		in.DegressiveTableID = generic.TablePtr(generic.TableID(*req.DegressiveTableID))
	}
	b, err := h.Service.Create(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b, h.Service.Inventory()))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, err := h.Service.Get(ctx, bookingID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dto := toBookingDTO(b, h.Service.Inventory())
	missing, err := h.Service.HasMissingMaterials(ctx, b.ID)
	if err != nil {
		h.Log.Warn("missing materials lookup failed", zap.String("booking_id", string(b.ID)), zap.Error(err))
	} else {
		dto.HasMissingMaterials = &missing
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) UpdatePeriods(w http.ResponseWriter, r *http.Request) {
	var req UpdatePeriodsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, mob, err := periodsFromRequest(req.OperationPeriod, req.MobilizationPeriod)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		return h.Service.UpdatePeriods(ctx, id, op, mob)
	}, r)
}

func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	var req UpdateDetailsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		return h.Service.UpdateDetails(ctx, id, generic.BookingDetails{
			Title:       req.Title,
			Reference:   req.Reference,
			Description: req.Description,
			Location:    req.Location,
			Notes:       req.Notes,
			IsConfirmed: req.IsConfirmed,
		})
	}, r)
}

func (h *Handler) SetBillable(w http.ResponseWriter, r *http.Request) {
	var req SetBillableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		return h.Service.SetBillable(ctx, id, req.IsBillable)
	}, r)
}

func (h *Handler) DuplicateBooking(w http.ResponseWriter, r *http.Request) {
	var req DuplicateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, mob, err := periodsFromRequest(req.OperationPeriod, req.MobilizationPeriod)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	b, err := h.Service.Duplicate(r.Context(), bookingID(r), op, mob)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b, h.Service.Inventory()))
}

// =============================================================================
// MATERIALS AND PRICES
// =============================================================================

func (h *Handler) SetMaterials(w http.ResponseWriter, r *http.Request) {
	var req SetMaterialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		return h.Service.SetMaterials(ctx, id, toMaterialQuantities(req.Materials))
	}, r)
}

func (h *Handler) RemoveMaterial(w http.ResponseWriter, r *http.Request) {
	material := generic.MaterialID(chi.URLParam(r, "materialID"))
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		return h.Service.RemoveMaterial(ctx, id, material)
	}, r)
}

func (h *Handler) SetLinePrice(w http.ResponseWriter, r *http.Request) {
	var req SetLinePriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	material := generic.MaterialID(chi.URLParam(r, "materialID"))
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		return h.Service.SetLinePrice(ctx, id, material, req.UnitPrice, req.DiscountRate)
	}, r)
}

func (h *Handler) SetExtras(w http.ResponseWriter, r *http.Request) {
	var req SetExtrasRequest
	if !decodeBody(w, r, &req) {
		return
	}
	extras := make([]generic.BookingExtra, len(req.Extras))
	for i, e := range req.Extras {
		extras[i] = generic.BookingExtra{Description: e.Description, Quantity: e.Quantity, UnitPrice: e.UnitPrice, Tax: e.Tax.toTax()}
	}
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		return h.Service.SetExtras(ctx, id, extras)
	}, r)
}

func (h *Handler) RecalculatePrices(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.Service.RecalculatePrices, r)
}

// =============================================================================
// INVENTORIES
// =============================================================================

func parsePhase(r *http.Request) (generic.InventoryPhase, error) {
	switch p := generic.InventoryPhase(chi.URLParam(r, "phase")); p {
	case generic.PhaseDeparture, generic.PhaseReturn:
		return p, nil
	default:
		return "", &generic.InvalidArgumentError{Field: "phase", Reason: "must be departure or return"}
	}
}

func (h *Handler) UpdateInventory(w http.ResponseWriter, r *http.Request) {
	phase, err := parsePhase(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var req UpdateInventoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		if phase == generic.PhaseDeparture {
			lines := make([]generic.DepartureLine, len(req.Materials))
			for i, l := range req.Materials {
				lines[i] = generic.DepartureLine{MaterialID: generic.MaterialID(l.MaterialID), QuantityDeparted: l.QuantityDeparted, Comment: l.Comment}
			}
			return h.Service.UpdateDeparture(ctx, id, lines)
		}
		lines := make([]generic.ReturnLine, len(req.Materials))
		for i, l := range req.Materials {
			lines[i] = generic.ReturnLine{MaterialID: generic.MaterialID(l.MaterialID), Returned: l.QuantityReturned, ReturnedBroken: l.QuantityReturnedBroken}
		}
		return h.Service.UpdateReturn(ctx, id, lines)
	}, r)
}

func (h *Handler) FinishInventory(w http.ResponseWriter, r *http.Request) {
	phase, err := parsePhase(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	var req FinishInventoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Author == "" {
		h.writeDomainError(w, &generic.InvalidArgumentError{Field: "author", Reason: "required"})
		return
	}
	author := generic.UserID(req.Author)
	h.respond(w, func(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
		if phase == generic.PhaseDeparture {
			return h.Service.FinishDeparture(ctx, id, author)
		}
		return h.Service.FinishReturn(ctx, id, author, req.Datetime)
	}, r)
}

func (h *Handler) CancelInventory(w http.ResponseWriter, r *http.Request) {
	phase, err := parsePhase(r)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if phase == generic.PhaseDeparture {
		h.respond(w, h.Service.CancelDeparture, r)
		return
	}
	h.respond(w, h.Service.CancelReturn, r)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func (h *Handler) ArchiveBooking(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.Service.Archive, r)
}

func (h *Handler) UnarchiveBooking(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.Service.Unarchive, r)
}

func (h *Handler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.SoftDelete(r.Context(), bookingID(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreBooking(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.Service.Restore, r)
}

func (h *Handler) HardDeleteBooking(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.HardDelete(r.Context(), bookingID(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AVAILABILITY AND BILLING
// =============================================================================

func (h *Handler) GetMissingMaterials(w http.ResponseWriter, r *http.Request) {
	missing, err := h.Service.MissingMaterials(r.Context(), bookingID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]MissingMaterialDTO, len(missing))
	for i, m := range missing {
		dtos[i] = MissingMaterialDTO{MaterialID: string(m.MaterialID), Requested: m.Requested, Available: m.Available, Missing: m.Missing}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Service.ListBillingDocuments(r.Context(), bookingID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]BillingDocumentDTO, len(docs))
	for i, d := range docs {
		dtos[i] = toDocumentDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) IssueDocument(w http.ResponseWriter, r *http.Request) {
	var req IssueDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := h.Service.IssueBillingDocument(r.Context(), bookingID(r), req.Type)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDTO(*doc))
}

func toDocumentDTO(d generic.BillingDocument) BillingDocumentDTO {
	return BillingDocumentDTO{ID: d.ID, Type: d.Type, Number: d.Number, Total: d.Total, CreatedAt: d.CreatedAt}
}

// =============================================================================
// CATALOG
// =============================================================================

func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.Catalog.ListMaterials(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]MaterialDTO, len(materials))
	for i, m := range materials {
		dtos[i] = toMaterialDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) LoadCatalog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	catalog, err := h.CatalogFactory.ParseCatalog(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid catalog", err)
		return
	}
	if err := h.CatalogFactory.Load(r.Context(), h.Catalog, catalog); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"degressive_tables": len(catalog.Tables),
		"materials":         len(catalog.Materials),
	})
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Unhealthy", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func bookingID(r *http.Request) generic.BookingID {
	return generic.BookingID(chi.URLParam(r, "id"))
}

// respond runs a booking operation on the {id} route and writes the result.
func (h *Handler) respond(w http.ResponseWriter, op func(context.Context, generic.BookingID) (*generic.Booking, error), r *http.Request) {
	b, err := op(r.Context(), bookingID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b, h.Service.Inventory()))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return true
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var incomplete *generic.IncompleteInventoryError
	switch {
	case errors.As(err, &incomplete):
		ids := make([]string, len(incomplete.Lines))
		for i, id := range incomplete.Lines {
			ids[i] = string(id)
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   err.Error(),
			Code:    "incomplete_inventory",
			Details: map[string]any{"phase": incomplete.Phase, "materials": ids},
		})
	case generic.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, generic.ErrInvalidTransition), errors.Is(err, generic.ErrBookingDeleted):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case generic.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid"})
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func notImplemented(w http.ResponseWriter, what string) {
	writeError(w, http.StatusNotImplemented, fmt.Sprintf("%s is not enabled", what), nil)
}

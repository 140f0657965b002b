/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the booking repository, billing documents and the material
  catalog using SQLite. The same patterns apply to PostgreSQL with minor
  SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.TxStore:         Bookings, versions, soft delete, billing documents
  generic.MaterialCatalog: Materials and degressive rate tables
  generic.CatalogWriter:   Catalog loading

KEY TABLES:
  bookings:          One row per booking. The aggregate lives in data_json;
                     mobilization bounds are copied into columns for
                     overlap queries. previous_json keeps the version
                     replaced by the last save.
  billing_documents: Estimates and invoices, ON DELETE CASCADE
  materials:         Catalog entries
  degressive_tables: Rate tables, tiers in tiers_json

TIME ENCODING:
  Times are stored in UTC with a fixed-width layout so that text comparison
  orders them chronologically. mobilization_end holds the exclusive bound.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In-memory databases are pinned to a
  single connection, since each connection would get its own database.

USAGE:
  store, err := sqlite.New("./data/bookings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := generic.NewBookingService(store, store, cache, opts)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loxya/booking-engine/generic"
	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an existing connection without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Bookings (aggregate as JSON, indexed mobilization bounds)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		mobilization_start TEXT NOT NULL,
		mobilization_end TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT,
		data_json TEXT NOT NULL,
		previous_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_mobilization
		ON bookings(mobilization_start, mobilization_end)
		WHERE deleted_at IS NULL;

	-- Billing documents, removed with their booking
	CREATE TABLE IF NOT EXISTS billing_documents (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		number TEXT NOT NULL,
		total TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_billing_documents_booking
		ON billing_documents(booking_id);

	-- Catalog
	CREATE TABLE IF NOT EXISTS degressive_tables (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tiers_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS materials (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL,
		rental_price TEXT NOT NULL,
		tax_json TEXT,
		degressive_table_id TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BOOKING REPOSITORY (generic.BookingRepository interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getQ(ctx, s.db, id)
}

func (s *Store) List(ctx context.Context, filter generic.ListFilter) ([]*generic.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listQ(ctx, s.db, filter)
}

func (s *Store) FindOverlapping(ctx context.Context, p generic.Period, exclude generic.BookingID) ([]*generic.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overlappingQ(ctx, s.db, p, exclude)
}

func (s *Store) Save(ctx context.Context, b *generic.Booking) (*generic.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveQ(ctx, s.db, b)
}

func (s *Store) PreviousVersion(ctx context.Context, b *generic.Booking) (*generic.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previousQ(ctx, s.db, b.ID)
}

func (s *Store) SoftDelete(ctx context.Context, id generic.BookingID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDeletedQ(ctx, s.db, id, &at)
}

func (s *Store) Restore(ctx context.Context, id generic.BookingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setDeletedQ(ctx, s.db, id, nil)
}

func (s *Store) HardDelete(ctx context.Context, id generic.BookingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardDeleteQ(ctx, s.db, id)
}

func (s *Store) SaveBillingDocument(ctx context.Context, doc generic.BillingDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveDocumentQ(ctx, s.db, doc)
}

func (s *Store) ListBillingDocuments(ctx context.Context, id generic.BookingID) ([]generic.BillingDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listDocumentsQ(ctx, s.db, id)
}

// =============================================================================
// QUERIES (shared by Store and txStore)
// =============================================================================

func (s *Store) getQ(ctx context.Context, q querier, id generic.BookingID) (*generic.Booking, error) {
	var data string
	err := q.QueryRowContext(ctx, "SELECT data_json FROM bookings WHERE id = ?", string(id)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", id, err)
	}
	return decodeBooking(data)
}

func (s *Store) listQ(ctx context.Context, q querier, filter generic.ListFilter) ([]*generic.Booking, error) {
	var where []string
	var args []any
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.Archived != nil {
		where = append(where, "is_archived = ?")
		args = append(args, *filter.Archived)
	}
	if filter.Period != nil {
		lower, upper := bounds(*filter.Period)
		where = append(where, "(? IS NULL OR mobilization_start <= ?)", "(mobilization_end IS NULL OR mobilization_end >= ?)")
		args = append(args, upper, upper, lower)
	}

	query := "SELECT data_json FROM bookings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY mobilization_start, id"

	bookings, err := queryBookings(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	if filter.Period == nil {
		return bookings, nil
	}
	return keepOverlapping(bookings, *filter.Period), nil
}

// overlappingQ narrows candidates in SQL, then applies the exact period
// semantics (full days, instants) in Go.
func (s *Store) overlappingQ(ctx context.Context, q querier, p generic.Period, exclude generic.BookingID) ([]*generic.Booking, error) {
	lower, upper := bounds(p)
	query := `
		SELECT data_json FROM bookings
		WHERE deleted_at IS NULL
		  AND id != ?
		  AND (? IS NULL OR mobilization_start <= ?)
		  AND (mobilization_end IS NULL OR mobilization_end >= ?)
		ORDER BY mobilization_start, id
	`
	bookings, err := queryBookings(ctx, q, query, string(exclude), upper, upper, lower)
	if err != nil {
		return nil, err
	}
	return keepOverlapping(bookings, p), nil
}

func (s *Store) saveQ(ctx context.Context, q querier, b *generic.Booking) (*generic.Booking, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode booking %s: %w", b.ID, err)
	}
	lower, upper := bounds(b.MobilizationPeriod)

	query := `
		INSERT INTO bookings
		(id, kind, mobilization_start, mobilization_end, is_archived, deleted_at,
		 data_json, previous_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			mobilization_start = excluded.mobilization_start,
			mobilization_end = excluded.mobilization_end,
			is_archived = excluded.is_archived,
			deleted_at = excluded.deleted_at,
			previous_json = bookings.data_json,
			data_json = excluded.data_json,
			updated_at = excluded.updated_at
	`
	_, err = q.ExecContext(ctx, query,
		string(b.ID),
		string(b.Kind),
		lower,
		upper,
		b.IsArchived,
		formatTimePtr(b.DeletedAt),
		string(data),
		formatTime(b.CreatedAt),
		formatTime(b.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save booking %s: %w", b.ID, err)
	}
	return b.Clone(), nil
}

func (s *Store) previousQ(ctx context.Context, q querier, id generic.BookingID) (*generic.Booking, error) {
	var data sql.NullString
	err := q.QueryRowContext(ctx, "SELECT previous_json FROM bookings WHERE id = ?", string(id)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load previous version of %s: %w", id, err)
	}
	if !data.Valid {
		return nil, nil
	}
	return decodeBooking(data.String)
}

// setDeletedQ rewrites the aggregate without touching previous_json.
func (s *Store) setDeletedQ(ctx context.Context, q querier, id generic.BookingID, at *time.Time) error {
	b, err := s.getQ(ctx, q, id)
	if err != nil {
		return err
	}
	b.DeletedAt = at
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode booking %s: %w", id, err)
	}
	_, err = q.ExecContext(ctx,
		"UPDATE bookings SET deleted_at = ?, data_json = ? WHERE id = ?",
		formatTimePtr(at), string(data), string(id),
	)
	return err
}

func (s *Store) hardDeleteQ(ctx context.Context, q querier, id generic.BookingID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM bookings WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete booking %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, id)
	}
	return nil
}

func (s *Store) saveDocumentQ(ctx context.Context, q querier, doc generic.BillingDocument) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO billing_documents (id, booking_id, type, number, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, string(doc.BookingID), doc.Type, doc.Number, doc.Total.String(), formatTime(doc.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("%w: %s", generic.ErrBookingNotFound, doc.BookingID)
		}
		return fmt.Errorf("failed to save billing document: %w", err)
	}
	return nil
}

func (s *Store) listDocumentsQ(ctx context.Context, q querier, id generic.BookingID) ([]generic.BillingDocument, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, booking_id, type, number, total, created_at
		FROM billing_documents WHERE booking_id = ? ORDER BY created_at, number
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []generic.BillingDocument
	for rows.Next() {
		var doc generic.BillingDocument
		var bookingID, total, createdAt string
		if err := rows.Scan(&doc.ID, &bookingID, &doc.Type, &doc.Number, &total, &createdAt); err != nil {
			return nil, err
		}
		doc.BookingID = generic.BookingID(bookingID)
		doc.Total = generic.MustParseDecimal(total)
		doc.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(repo generic.BookingRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Get(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	return ts.parent.getQ(ctx, ts.tx, id)
}

func (ts *txStore) List(ctx context.Context, filter generic.ListFilter) ([]*generic.Booking, error) {
	return ts.parent.listQ(ctx, ts.tx, filter)
}

func (ts *txStore) FindOverlapping(ctx context.Context, p generic.Period, exclude generic.BookingID) ([]*generic.Booking, error) {
	return ts.parent.overlappingQ(ctx, ts.tx, p, exclude)
}

func (ts *txStore) Save(ctx context.Context, b *generic.Booking) (*generic.Booking, error) {
	return ts.parent.saveQ(ctx, ts.tx, b)
}

func (ts *txStore) PreviousVersion(ctx context.Context, b *generic.Booking) (*generic.Booking, error) {
	return ts.parent.previousQ(ctx, ts.tx, b.ID)
}

func (ts *txStore) SoftDelete(ctx context.Context, id generic.BookingID, at time.Time) error {
	return ts.parent.setDeletedQ(ctx, ts.tx, id, &at)
}

func (ts *txStore) Restore(ctx context.Context, id generic.BookingID) error {
	return ts.parent.setDeletedQ(ctx, ts.tx, id, nil)
}

func (ts *txStore) HardDelete(ctx context.Context, id generic.BookingID) error {
	return ts.parent.hardDeleteQ(ctx, ts.tx, id)
}

func (ts *txStore) SaveBillingDocument(ctx context.Context, doc generic.BillingDocument) error {
	return ts.parent.saveDocumentQ(ctx, ts.tx, doc)
}

func (ts *txStore) ListBillingDocuments(ctx context.Context, id generic.BookingID) ([]generic.BillingDocument, error) {
	return ts.parent.listDocumentsQ(ctx, ts.tx, id)
}

// =============================================================================
// MATERIAL CATALOG (generic.MaterialCatalog interface)
// =============================================================================

func (s *Store) SaveMaterial(ctx context.Context, m generic.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var taxJSON sql.NullString
	if m.Tax != nil {
		data, err := json.Marshal(m.Tax)
		if err != nil {
			return err
		}
		taxJSON = sql.NullString{String: string(data), Valid: true}
	}
	var tableID sql.NullString
	if m.DegressiveTableID != nil {
		tableID = nullString(string(*m.DegressiveTableID))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO materials (id, name, stock_quantity, rental_price, tax_json, degressive_table_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			stock_quantity = excluded.stock_quantity,
			rental_price = excluded.rental_price,
			tax_json = excluded.tax_json,
			degressive_table_id = excluded.degressive_table_id
	`, string(m.ID), m.Name, m.StockQuantity, m.RentalPrice.String(), taxJSON, tableID)
	return err
}

func (s *Store) GetMaterial(ctx context.Context, id generic.MaterialID) (*generic.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, stock_quantity, rental_price, tax_json, degressive_table_id
		FROM materials WHERE id = ?
	`, string(id))
	if err != nil {
		return nil, err
	}
	materials, err := scanMaterials(rows)
	if err != nil {
		return nil, err
	}
	if len(materials) == 0 {
		return nil, fmt.Errorf("%w: %s", generic.ErrMaterialNotFound, id)
	}
	return materials[0], nil
}

func (s *Store) ListMaterials(ctx context.Context) ([]*generic.Material, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, stock_quantity, rental_price, tax_json, degressive_table_id
		FROM materials ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return scanMaterials(rows)
}

func scanMaterials(rows *sql.Rows) ([]*generic.Material, error) {
	defer rows.Close()

	var result []*generic.Material
	for rows.Next() {
		var (
			id, name, price   string
			stock             int
			taxJSON, tableRef sql.NullString
		)
		if err := rows.Scan(&id, &name, &stock, &price, &taxJSON, &tableRef); err != nil {
			return nil, err
		}
		m := &generic.Material{
			ID:            generic.MaterialID(id),
			Name:          name,
			StockQuantity: stock,
			RentalPrice:   generic.MustParseDecimal(price),
		}
		if taxJSON.Valid {
			var tax generic.TaxSnapshot
			if err := json.Unmarshal([]byte(taxJSON.String), &tax); err != nil {
				return nil, fmt.Errorf("material %s: invalid tax: %w", id, err)
			}
			m.Tax = &tax
		}
		if tableRef.Valid {
			m.DegressiveTableID = generic.TablePtr(generic.TableID(tableRef.String))
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) SaveDegressiveTable(ctx context.Context, t generic.DegressiveRateTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tiers, err := json.Marshal(t.Tiers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO degressive_tables (id, name, tiers_json) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, tiers_json = excluded.tiers_json
	`, string(t.ID), t.Name, string(tiers))
	return err
}

func (s *Store) GetDegressiveTable(ctx context.Context, id generic.TableID) (*generic.DegressiveRateTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name, tiers string
	err := s.db.QueryRowContext(ctx,
		"SELECT name, tiers_json FROM degressive_tables WHERE id = ?", string(id),
	).Scan(&name, &tiers)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", generic.ErrTableNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	t := &generic.DegressiveRateTable{ID: id, Name: name}
	if err := json.Unmarshal([]byte(tiers), &t.Tiers); err != nil {
		return nil, fmt.Errorf("degressive table %s: invalid tiers: %w", id, err)
	}
	return t, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"billing_documents", "bookings", "materials", "degressive_tables"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]*generic.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var result []*generic.Booking
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		b, err := decodeBooking(data)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func keepOverlapping(bookings []*generic.Booking, p generic.Period) []*generic.Booking {
	kept := bookings[:0]
	for _, b := range bookings {
		if b.MobilizationPeriod.Overlaps(p) {
			kept = append(kept, b)
		}
	}
	return kept
}

func decodeBooking(data string) (*generic.Booking, error) {
	var b generic.Booking
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("failed to decode booking: %w", err)
	}
	return &b, nil
}

// bounds returns the inclusive lower and exclusive upper bound columns.
func bounds(p generic.Period) (string, sql.NullString) {
	lower := formatTime(p.Lower())
	upper, ok := p.EndBound()
	if !ok {
		return lower, sql.NullString{}
	}
	return lower, sql.NullString{String: formatTime(upper), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

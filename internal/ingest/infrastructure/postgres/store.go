package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fipe-pipeline/internal/ingest"
	"fipe-pipeline/internal/observability/metrics"
)

const (
	defaultManufacturerTable = "fipe_vehicle_manufacturer"
	defaultModelTable        = "fipe_vehicle_model"
	defaultValueTable        = "fipe_vehicle_model_value"
)

// Store is the Postgres implementation of ingest.Store. Each row is written
// on a dedicated connection inside its own transaction.
type Store struct {
	db                *sql.DB
	manufacturerTable string
	modelTable        string
	valueTable        string
}

// Option configures the store.
type Option func(*Store)

// WithManufacturerTable overrides the manufacturer dimension table.
func WithManufacturerTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.manufacturerTable = table
		}
	}
}

// WithModelTable overrides the model dimension table.
func WithModelTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.modelTable = table
		}
	}
}

// WithValueTable overrides the price fact table.
func WithValueTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.valueTable = table
		}
	}
}

// NewStore constructs a store with default table names.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("ingest store: nil db")
	}
	s := &Store{
		db:                db,
		manufacturerTable: defaultManufacturerTable,
		modelTable:        defaultModelTable,
		valueTable:        defaultValueTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IngestRow resolves the manufacturer and model dimensions and upserts the
// price fact, all inside one transaction on one connection.
func (s *Store) IngestRow(ctx context.Context, row ingest.Row) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("ingest store: acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ingest store: begin: %w", err)
	}

	manufacturerID, err := s.ensureManufacturer(ctx, tx, row)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	modelID, err := s.ensureModel(ctx, tx, row, manufacturerID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.upsertValue(ctx, tx, row, manufacturerID, modelID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ensureManufacturer gets or creates the manufacturer row for the natural
// key (name, code, vehicle_type). The insert races safely with concurrent
// workers: ON CONFLICT DO NOTHING followed by a select.
func (s *Store) ensureManufacturer(ctx context.Context, tx *sql.Tx, row ingest.Row) (int64, error) {
	insert := fmt.Sprintf(`
INSERT INTO %s (name, code, vehicle_type, create_date)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (name, code, vehicle_type) DO NOTHING
RETURNING id`, s.manufacturerTable)

	var id int64
	err := tx.QueryRowContext(ctx, insert, row.Manufacturer, row.ManufacturerCode, row.VehicleTypeCode).Scan(&id)
	if err == nil {
		metrics.IncDimensionRow("manufacturer", "created")
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ingest store: insert manufacturer %s: %w", row.ManufacturerCode, err)
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE name = $1 AND code = $2 AND vehicle_type = $3`, s.manufacturerTable)
	if err := tx.QueryRowContext(ctx, query, row.Manufacturer, row.ManufacturerCode, row.VehicleTypeCode).Scan(&id); err != nil {
		return 0, fmt.Errorf("ingest store: select manufacturer %s: %w", row.ManufacturerCode, err)
	}
	metrics.IncDimensionRow("manufacturer", "found")
	return id, nil
}

// ensureModel gets or creates the model row for the natural key
// (name, code, manufacturer_id).
func (s *Store) ensureModel(ctx context.Context, tx *sql.Tx, row ingest.Row, manufacturerID int64) (int64, error) {
	insert := fmt.Sprintf(`
INSERT INTO %s (name, code, manufacturer_id, create_date)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (name, code, manufacturer_id) DO NOTHING
RETURNING id`, s.modelTable)

	var id int64
	err := tx.QueryRowContext(ctx, insert, row.Model, row.ModelCode, manufacturerID).Scan(&id)
	if err == nil {
		metrics.IncDimensionRow("model", "created")
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("ingest store: insert model %s: %w", row.ModelCode, err)
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE name = $1 AND code = $2 AND manufacturer_id = $3`, s.modelTable)
	if err := tx.QueryRowContext(ctx, query, row.Model, row.ModelCode, manufacturerID).Scan(&id); err != nil {
		return 0, fmt.Errorf("ingest store: select model %s: %w", row.ModelCode, err)
	}
	metrics.IncDimensionRow("model", "found")
	return id, nil
}

// upsertValue updates the fact row for (model_id, fipe_code,
// manufacture_year, reference_month_code) when it exists, otherwise
// inserts a fresh active row.
func (s *Store) upsertValue(ctx context.Context, tx *sql.Tx, row ingest.Row, manufacturerID, modelID int64) error {
	query := fmt.Sprintf(`
SELECT id FROM %s
WHERE model_id = $1 AND fipe_code = $2 AND manufacture_year = $3 AND reference_month_code = $4`, s.valueTable)

	var id int64
	err := tx.QueryRowContext(ctx, query, modelID, row.FipeCode, row.ManufactureYear, row.ReferenceTableCode).Scan(&id)
	switch {
	case err == nil:
		update := fmt.Sprintf(`UPDATE %s SET fipe_value = $1, write_date = NOW() WHERE id = $2`, s.valueTable)
		if _, err := tx.ExecContext(ctx, update, row.FipeValue, id); err != nil {
			return fmt.Errorf("ingest store: update value %s: %w", row.FipeCode, err)
		}
		metrics.IncPriceUpsert("update")
		return nil
	case errors.Is(err, sql.ErrNoRows):
		insert := fmt.Sprintf(`
INSERT INTO %s (
	name,
	code,
	model_id,
	fipe_code,
	manufacturer_id,
	manufacture_year,
	reference_month,
	reference_month_code,
	fipe_value,
	fuel_type,
	vehicle_type,
	active,
	create_date,
	write_date
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, NOW(), NOW()
)`, s.valueTable)
		if _, err := tx.ExecContext(
			ctx,
			insert,
			row.FactName,
			row.ModelCode,
			modelID,
			row.FipeCode,
			manufacturerID,
			row.ManufactureYear,
			row.ReferenceMonthLabel,
			row.ReferenceTableCode,
			row.FipeValue,
			row.FuelTypeCode,
			row.VehicleTypeCode,
		); err != nil {
			return fmt.Errorf("ingest store: insert value %s: %w", row.FipeCode, err)
		}
		metrics.IncPriceUpsert("insert")
		return nil
	default:
		return fmt.Errorf("ingest store: select value %s: %w", row.FipeCode, err)
	}
}

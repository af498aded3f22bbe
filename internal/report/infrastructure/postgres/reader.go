package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fipe-pipeline/internal/catalog"
	"fipe-pipeline/internal/report"
)

const (
	defaultValueTable        = "fipe_vehicle_model_value"
	defaultManufacturerTable = "fipe_vehicle_manufacturer"
	defaultModelTable        = "fipe_vehicle_model"
)

// Reader loads price facts for export.
type Reader struct {
	db                *sql.DB
	valueTable        string
	manufacturerTable string
	modelTable        string
}

// ReaderOption configures the reader.
type ReaderOption func(*Reader)

// WithValueTable overrides the price fact table.
func WithValueTable(table string) ReaderOption {
	return func(r *Reader) {
		if table != "" {
			r.valueTable = table
		}
	}
}

// WithManufacturerTable overrides the manufacturer dimension table.
func WithManufacturerTable(table string) ReaderOption {
	return func(r *Reader) {
		if table != "" {
			r.manufacturerTable = table
		}
	}
}

// WithModelTable overrides the model dimension table.
func WithModelTable(table string) ReaderOption {
	return func(r *Reader) {
		if table != "" {
			r.modelTable = table
		}
	}
}

// NewReader constructs a reader with default table names.
func NewReader(db *sql.DB, opts ...ReaderOption) (*Reader, error) {
	if db == nil {
		return nil, errors.New("report reader: nil db")
	}
	r := &Reader{
		db:                db,
		valueTable:        defaultValueTable,
		manufacturerTable: defaultManufacturerTable,
		modelTable:        defaultModelTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ListPrices returns active price facts for one reference table, newest
// manufacturers first. limit <= 0 means no limit.
func (r *Reader) ListPrices(ctx context.Context, referenceTableCode, limit int) ([]report.Row, error) {
	query := fmt.Sprintf(`
SELECT
	mf.name,
	v.name,
	v.manufacture_year,
	v.fuel_type,
	v.fipe_code,
	v.vehicle_type,
	v.fipe_value
FROM %s v
JOIN %s mf ON mf.id = v.manufacturer_id
JOIN %s md ON md.id = v.model_id
WHERE v.reference_month_code = $1 AND v.active
ORDER BY mf.name, md.name, v.manufacture_year`, r.valueTable, r.manufacturerTable, r.modelTable)
	args := []any{referenceTableCode}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report reader: list prices: %w", err)
	}
	defer rows.Close()

	var out []report.Row
	for rows.Next() {
		var row report.Row
		var vehicleType int
		if err := rows.Scan(
			&row.Manufacturer,
			&row.Model,
			&row.ManufactureYear,
			&row.FuelType,
			&row.FipeCode,
			&vehicleType,
			&row.Value,
		); err != nil {
			return nil, fmt.Errorf("report reader: scan price: %w", err)
		}
		row.VehicleType = catalog.VehicleType(vehicleType).Name()
		out = append(out, row)
	}
	return out, rows.Err()
}

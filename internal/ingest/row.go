package ingest

import "context"

// Row is one normalized price observation ready for persistence. FactName
// carries the human-readable label stored on the fact row.
type Row struct {
	Manufacturer        string
	ManufacturerCode    string
	Model               string
	ModelCode           string
	FactName            string
	ManufactureYear     string
	FipeCode            string
	FipeValue           float64
	FuelTypeCode        string
	VehicleTypeCode     int
	ReferenceMonthLabel string
	ReferenceTableCode  int
}

// Store persists one price observation with its dimensions.
type Store interface {
	IngestRow(ctx context.Context, row Row) error
}

package lister

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"fipe-pipeline/internal/catalog"
	"fipe-pipeline/internal/pipeline"
	"fipe-pipeline/internal/queue"
)

// CatalogAPI is the slice of the catalog client the lister needs.
type CatalogAPI interface {
	ListBrands(ctx context.Context, table catalog.ReferenceTable, vehicleType catalog.VehicleType) ([]catalog.Brand, error)
}

// Lister walks the vehicle-type enumeration and emits one ManufacturerTask
// per brand with usable code and label. A failure in one vehicle type never
// aborts the others.
type Lister struct {
	api      CatalogAPI
	sender   *queue.BatchSender
	table    catalog.ReferenceTable
	brandCap int
	logger   *log.Logger
}

// Result summarizes one lister run.
type Result struct {
	StatusCode int
	Emitted    int
}

// New constructs a lister pinned to one reference table. brandCap > 0
// truncates the brand list per vehicle type (development sizing knob).
func New(api CatalogAPI, sender *queue.BatchSender, table catalog.ReferenceTable, brandCap int, logger *log.Logger) (*Lister, error) {
	if api == nil {
		return nil, errors.New("lister: nil catalog api")
	}
	if sender == nil {
		return nil, errors.New("lister: nil sender")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Lister{api: api, sender: sender, table: table, brandCap: brandCap, logger: logger}, nil
}

// Run enumerates all vehicle types and returns the emitted task count.
func (l *Lister) Run(ctx context.Context) (Result, error) {
	emitted := 0
	for _, vehicleType := range catalog.ProcessingOrder {
		count, err := l.runVehicleType(ctx, vehicleType)
		if err != nil {
			l.logger.Printf("lister: vehicle type %s failed: %v", vehicleType.Name(), err)
			continue
		}
		emitted += count
	}
	l.logger.Printf("lister: run completed emitted=%d reference_table=%d", emitted, l.table.Code)
	return Result{StatusCode: http.StatusOK, Emitted: emitted}, nil
}

func (l *Lister) runVehicleType(ctx context.Context, vehicleType catalog.VehicleType) (int, error) {
	brands, err := l.api.ListBrands(ctx, l.table, vehicleType)
	if err != nil {
		return 0, err
	}
	if len(brands) == 0 {
		l.logger.Printf("lister: no brands for vehicle type %s, skipping", vehicleType.Name())
		return 0, nil
	}
	l.logger.Printf("lister: found %d brands for vehicle type %s", len(brands), vehicleType.Name())

	var bodies [][]byte
	for i, brand := range brands {
		if l.brandCap > 0 && i >= l.brandCap {
			l.logger.Printf("lister: brand cap %d reached for vehicle type %s", l.brandCap, vehicleType.Name())
			break
		}
		if brand.Code == "" || brand.Label == "" {
			l.logger.Printf("lister: skipping brand with missing code or label: %+v", brand)
			continue
		}
		task := pipeline.ManufacturerTask{
			ReferenceTableCode:  l.table.Code,
			ReferenceMonthLabel: l.table.MonthLabel,
			ManufacturerCode:    brand.Code,
			ManufacturerName:    brand.Label,
			VehicleTypeCode:     int(vehicleType),
		}
		body, err := json.Marshal(task)
		if err != nil {
			l.logger.Printf("lister: marshal brand %s failed: %v", brand.Code, err)
			continue
		}
		bodies = append(bodies, body)
	}

	failures := l.sender.SendBatch(ctx, bodies)
	return len(bodies) - len(failures), nil
}

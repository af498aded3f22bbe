package collector

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"fipe-pipeline/internal/catalog"
	"fipe-pipeline/internal/observability/metrics"
	"fipe-pipeline/internal/pipeline"
	"fipe-pipeline/internal/queue"
)

const stage = "collector"

// CatalogAPI is the slice of the catalog client the collector needs.
type CatalogAPI interface {
	ListYearsAndFuels(ctx context.Context, table catalog.ReferenceTable, manufacturerCode, modelCode string, vehicleType catalog.VehicleType) ([]catalog.ModelYear, []string, error)
	GetPrice(ctx context.Context, table catalog.ReferenceTable, manufacturerCode, modelCode, yearModel string, vehicleType catalog.VehicleType, fuelType string) (catalog.Price, error)
}

// Handler consumes ModelTask batches and emits one PricedRowTask per priced
// (year × fuel) combination. This is the pipeline's highest-fanout stage: a
// single model expands into years × fuels upstream calls.
type Handler struct {
	api      CatalogAPI
	buffer   *queue.Buffer
	retry    pipeline.RetryPolicy
	validate *validator.Validate
	logger   *log.Logger
}

// NewHandler constructs a collector handler.
func NewHandler(api CatalogAPI, sender *queue.BatchSender, retry pipeline.RetryPolicy, logger *log.Logger) (*Handler, error) {
	if api == nil {
		return nil, errors.New("collector: nil catalog api")
	}
	if sender == nil {
		return nil, errors.New("collector: nil sender")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		api:      api,
		buffer:   queue.NewBuffer(sender),
		retry:    retry,
		validate: validator.New(),
		logger:   logger,
	}, nil
}

// Handle processes one batch delivery.
func (h *Handler) Handle(ctx context.Context, batch pipeline.Batch) pipeline.Response {
	failed := make(map[string]struct{})
	fail := func(id, reason string) {
		metrics.IncItemFailure(stage, reason)
		failed[id] = struct{}{}
	}

	for _, msg := range batch.Messages {
		var task pipeline.ModelTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			h.logger.Printf("collector: message %s: decode error: %v", msg.MessageID, err)
			fail(msg.MessageID, "decode")
			continue
		}
		if err := h.validate.Struct(task); err != nil {
			h.logger.Printf("collector: message %s: missing required fields: %v", msg.MessageID, err)
			fail(msg.MessageID, "validation")
			continue
		}

		rows, err := h.collectRows(ctx, task)
		if err != nil {
			reason := "upstream"
			if catalog.IsTooManyRequests(err) {
				reason = "throttled"
			}
			h.logger.Printf("collector: message %s: collect prices for %s %s failed: %v",
				msg.MessageID, task.Manufacturer, task.Model, err)
			fail(msg.MessageID, reason)
			continue
		}

		for _, row := range rows {
			for _, source := range h.buffer.Append(ctx, msg.MessageID, row) {
				fail(source, "send")
			}
		}
	}

	for _, source := range h.buffer.Flush(ctx) {
		fail(source, "send")
	}

	return pipeline.Response{
		StatusCode:        http.StatusOK,
		Body:              "price collection completed",
		BatchItemFailures: pipeline.FailureList(batch, failed),
	}
}

// collectRows runs the year/fuel listing and the nested price loop under
// one retry scope, matching the upstream throttle behavior: a 429 anywhere
// restarts the whole fetch for this model. The row slice is rebuilt on each
// attempt so a retried run cannot duplicate rows.
func (h *Handler) collectRows(ctx context.Context, task pipeline.ModelTask) ([]pipeline.PricedRowTask, error) {
	table := catalog.ReferenceTable{Code: task.ReferenceTableCode, MonthLabel: task.ReferenceMonthLabel}
	vehicleType := catalog.VehicleType(task.VehicleTypeCode)

	var rows []pipeline.PricedRowTask
	err := h.retry.Do(ctx, catalog.IsTooManyRequests, func() error {
		rows = rows[:0]
		years, fuels, err := h.api.ListYearsAndFuels(ctx, table, task.ManufacturerCode, task.ModelCode, vehicleType)
		if err != nil {
			return err
		}

		for _, year := range years {
			for _, fuelType := range fuels {
				price, err := h.api.GetPrice(ctx, table, task.ManufacturerCode, task.ModelCode, year.YearModel, vehicleType, fuelType)
				if err != nil {
					return err
				}
				if price.Value == "" && price.FipeCode == "" {
					continue
				}
				rows = append(rows, pipeline.PricedRowTask{
					Manufacturer:        task.Manufacturer,
					ManufacturerCode:    task.ManufacturerCode,
					Model:               task.Model,
					ModelCode:           task.ModelCode,
					ModelYearLabel:      year.Label,
					ModelYearCode:       year.YearModel,
					FipeValue:           price.Value,
					FipeCode:            price.FipeCode,
					FuelTypeCode:        fuelType,
					VehicleTypeCode:     task.VehicleTypeCode,
					ReferenceMonthLabel: task.ReferenceMonthLabel,
					ReferenceTableCode:  task.ReferenceTableCode,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"

	"fipe-pipeline/internal/observability/metrics"
	"fipe-pipeline/internal/pipeline"
)

const stage = "ingestor"

// Handler consumes PricedRowTask batches and writes each row to the
// warehouse. Every message commits or rolls back on its own, so one bad
// row never blocks the rest of the batch.
type Handler struct {
	store    Store
	validate *validator.Validate
	logger   *log.Logger
}

// NewHandler constructs an ingest handler.
func NewHandler(store Store, logger *log.Logger) (*Handler, error) {
	if store == nil {
		return nil, errors.New("ingest: nil store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{store: store, validate: validator.New(), logger: logger}, nil
}

// Handle processes one batch delivery.
func (h *Handler) Handle(ctx context.Context, batch pipeline.Batch) pipeline.Response {
	failed := make(map[string]struct{})
	fail := func(id, reason string) {
		metrics.IncItemFailure(stage, reason)
		failed[id] = struct{}{}
	}

	for _, msg := range batch.Messages {
		var task pipeline.PricedRowTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			h.logger.Printf("ingest: message %s: decode error: %v", msg.MessageID, err)
			fail(msg.MessageID, "decode")
			continue
		}
		if err := h.validate.Struct(task); err != nil {
			h.logger.Printf("ingest: message %s: missing required fields: %v", msg.MessageID, err)
			fail(msg.MessageID, "validation")
			continue
		}

		value, err := ParseCurrency(task.FipeValue)
		if err != nil {
			h.logger.Printf("ingest: message %s: %v", msg.MessageID, err)
			fail(msg.MessageID, "value")
			continue
		}

		row := Row{
			Manufacturer:        task.Manufacturer,
			ManufacturerCode:    task.ManufacturerCode,
			Model:               task.Model,
			ModelCode:           task.ModelCode,
			FactName:            task.Model + " " + task.ModelYearCode,
			ManufactureYear:     task.ModelYearCode,
			FipeCode:            task.FipeCode,
			FipeValue:           value,
			FuelTypeCode:        task.FuelTypeCode,
			VehicleTypeCode:     task.VehicleTypeCode,
			ReferenceMonthLabel: task.ReferenceMonthLabel,
			ReferenceTableCode:  task.ReferenceTableCode,
		}
		if err := h.store.IngestRow(ctx, row); err != nil {
			h.logger.Printf("ingest: message %s: persist %s %s failed: %v",
				msg.MessageID, task.FipeCode, task.ModelYearCode, err)
			fail(msg.MessageID, "db")
			continue
		}
	}

	h.logger.Printf("ingest: batch completed processed=%d failed=%d", len(batch.Messages)-len(failed), len(failed))
	return pipeline.Response{
		StatusCode:        http.StatusOK,
		Body:              "ingestion completed",
		BatchItemFailures: pipeline.FailureList(batch, failed),
	}
}

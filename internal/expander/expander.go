package expander

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

const stage = "expander"

// CatalogAPI is the slice of the catalog client the expander needs.
type CatalogAPI interface {
	ListModels(ctx context.Context, table catalog.ReferenceTable, brandCode string, vehicleType catalog.VehicleType) ([]catalog.Model, error)
}

// Handler consumes ManufacturerTask batches and emits one ModelTask per
// model the catalog returns for the brand.
type Handler struct {
	api      CatalogAPI
	buffer   *queue.Buffer
	retry    pipeline.RetryPolicy
	validate *validator.Validate
	logger   *log.Logger
}

// NewHandler constructs an expander handler.
func NewHandler(api CatalogAPI, sender *queue.BatchSender, retry pipeline.RetryPolicy, logger *log.Logger) (*Handler, error) {
	if api == nil {
		return nil, errors.New("expander: nil catalog api")
	}
	if sender == nil {
		return nil, errors.New("expander: nil sender")
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

// Handle processes one batch delivery. The returned failure list names
// exactly the messages that must be redelivered.
func (h *Handler) Handle(ctx context.Context, batch pipeline.Batch) pipeline.Response {
	failed := make(map[string]struct{})
	fail := func(id, reason string) {
		metrics.IncItemFailure(stage, reason)
		failed[id] = struct{}{}
	}

	for _, msg := range batch.Messages {
		var task pipeline.ManufacturerTask
		if err := json.Unmarshal(msg.Body, &task); err != nil {
			h.logger.Printf("expander: message %s: decode error: %v", msg.MessageID, err)
			fail(msg.MessageID, "decode")
			continue
		}
		if err := h.validate.Struct(task); err != nil {
			h.logger.Printf("expander: message %s: missing required fields: %v", msg.MessageID, err)
			fail(msg.MessageID, "validation")
			continue
		}

		table := catalog.ReferenceTable{Code: task.ReferenceTableCode, MonthLabel: task.ReferenceMonthLabel}
		vehicleType := catalog.VehicleType(task.VehicleTypeCode)

		var models []catalog.Model
		err := h.retry.Do(ctx, catalog.IsTooManyRequests, func() error {
			var listErr error
			models, listErr = h.api.ListModels(ctx, table, task.ManufacturerCode, vehicleType)
			return listErr
		})
		if err != nil {
			reason := "upstream"
			if catalog.IsTooManyRequests(err) {
				reason = "throttled"
			}
			h.logger.Printf("expander: message %s: list models for %s (%s) failed: %v",
				msg.MessageID, task.ManufacturerName, vehicleType.Name(), err)
			fail(msg.MessageID, reason)
			continue
		}

		h.logger.Printf("expander: found %d models for %s (%s)", len(models), task.ManufacturerName, vehicleType.Name())
		for _, model := range models {
			modelTask := pipeline.ModelTask{
				Manufacturer:        task.ManufacturerName,
				ManufacturerCode:    task.ManufacturerCode,
				Model:               model.Label,
				ModelCode:           model.Code,
				VehicleTypeCode:     task.VehicleTypeCode,
				ReferenceMonthLabel: task.ReferenceMonthLabel,
				ReferenceTableCode:  task.ReferenceTableCode,
			}
			for _, source := range h.buffer.Append(ctx, msg.MessageID, modelTask) {
				fail(source, "send")
			}
		}
	}

	for _, source := range h.buffer.Flush(ctx) {
		fail(source, "send")
	}

	return pipeline.Response{
		StatusCode:        http.StatusOK,
		Body:              "model expansion completed",
		BatchItemFailures: pipeline.FailureList(batch, failed),
	}
}

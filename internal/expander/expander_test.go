package expander

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"

	"fipe-pipeline/internal/catalog"
	"fipe-pipeline/internal/pipeline"
	"fipe-pipeline/internal/queue"
)

type stubCatalog struct {
	models  map[string][]catalog.Model
	errs    map[string]error
	throttl map[string]int
	calls   map[string]int
}

func (s *stubCatalog) ListModels(_ context.Context, _ catalog.ReferenceTable, brandCode string, _ catalog.VehicleType) ([]catalog.Model, error) {
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[brandCode]++
	if n := s.throttl[brandCode]; n > 0 && s.calls[brandCode] <= n {
		return nil, &catalog.StatusError{Code: http.StatusTooManyRequests}
	}
	if err := s.errs[brandCode]; err != nil {
		return nil, err
	}
	return s.models[brandCode], nil
}

type captureTransport struct {
	sent [][]byte
}

func (c *captureTransport) Send(_ context.Context, _ string, bodies [][]byte) ([]int, error) {
	c.sent = append(c.sent, bodies...)
	return nil, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestHandler(t *testing.T, api CatalogAPI, transport queue.Transport) *Handler {
	t.Helper()
	sender := queue.NewBatchSender(transport, "model_tasks",
		queue.WithSendPause(0), queue.WithSenderLogger(quietLogger()))
	h, err := NewHandler(api, sender, pipeline.RetryPolicy{Attempts: 2}, quietLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func manufacturerBody(t *testing.T, code, name string) []byte {
	t.Helper()
	body, err := json.Marshal(pipeline.ManufacturerTask{
		ReferenceTableCode:  320,
		ReferenceMonthLabel: "março/2026",
		ManufacturerCode:    code,
		ManufacturerName:    name,
		VehicleTypeCode:     1,
	})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return body
}

func TestHandleEmitsOneTaskPerModel(t *testing.T) {
	api := &stubCatalog{models: map[string][]catalog.Model{
		"21": {
			{Code: "4351", Label: "Uno Mille 1.0"},
			{Code: "4382", Label: "Palio 1.0"},
		},
	}}
	transport := &captureTransport{}
	h := newTestHandler(t, api, transport)

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: manufacturerBody(t, "21", "Fiat")},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.BatchItemFailures)
	}
	if len(transport.sent) != 2 {
		t.Fatalf("expected 2 model tasks, got %d", len(transport.sent))
	}
	var task pipeline.ModelTask
	if err := json.Unmarshal(transport.sent[0], &task); err != nil {
		t.Fatalf("unmarshal model task: %v", err)
	}
	if task.Manufacturer != "Fiat" || task.ModelCode != "4351" {
		t.Fatalf("unexpected model task: %+v", task)
	}
	if task.ReferenceTableCode != 320 {
		t.Fatalf("reference table not carried: %+v", task)
	}
}

func TestHandleValidationFailure(t *testing.T) {
	transport := &captureTransport{}
	h := newTestHandler(t, &stubCatalog{}, transport)

	// Missing the manufacturer code.
	body, _ := json.Marshal(pipeline.ManufacturerTask{ReferenceTableCode: 320, VehicleTypeCode: 1})
	batch := pipeline.Batch{Messages: []pipeline.Message{{MessageID: "m1", Body: body}}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m1" {
		t.Fatalf("expected m1 failed validation, got %+v", resp.BatchItemFailures)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("invalid message must not emit tasks")
	}
}

func TestHandleRetriesThrottledListing(t *testing.T) {
	api := &stubCatalog{
		models:  map[string][]catalog.Model{"21": {{Code: "4351", Label: "Uno Mille 1.0"}}},
		throttl: map[string]int{"21": 1},
	}
	transport := &captureTransport{}
	h := newTestHandler(t, api, transport)

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: manufacturerBody(t, "21", "Fiat")},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected success after retry, got %+v", resp.BatchItemFailures)
	}
	if api.calls["21"] != 2 {
		t.Fatalf("expected 2 listing attempts, got %d", api.calls["21"])
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected 1 model task, got %d", len(transport.sent))
	}
}

func TestHandleUpstreamFailureIsolatesMessage(t *testing.T) {
	api := &stubCatalog{
		models: map[string][]catalog.Model{"21": {{Code: "4351", Label: "Uno Mille 1.0"}}},
		errs:   map[string]error{"59": errors.New("upstream down")},
	}
	transport := &captureTransport{}
	h := newTestHandler(t, api, transport)

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: manufacturerBody(t, "21", "Fiat")},
		{MessageID: "m2", Body: manufacturerBody(t, "59", "Volkswagen")},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected only m2 failed, got %+v", resp.BatchItemFailures)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected healthy message's task sent, got %d", len(transport.sent))
	}
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"

	"fipe-pipeline/internal/pipeline"
)

type stubStore struct {
	rows    []Row
	failFor map[string]error
}

func (s *stubStore) IngestRow(_ context.Context, row Row) error {
	if err := s.failFor[row.FipeCode]; err != nil {
		return err
	}
	s.rows = append(s.rows, row)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func taskBody(t *testing.T, task pipeline.PricedRowTask) []byte {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return body
}

func validTask() pipeline.PricedRowTask {
	return pipeline.PricedRowTask{
		Manufacturer:        "Fiat",
		ManufacturerCode:    "21",
		Model:               "Uno Mille 1.0",
		ModelCode:           "4351",
		ModelYearLabel:      "2020 Gasolina",
		ModelYearCode:       "2020-1",
		FipeValue:           "R$ 25.757,00",
		FipeCode:            "001004-9",
		FuelTypeCode:        "1",
		VehicleTypeCode:     1,
		ReferenceMonthLabel: "março/2026",
		ReferenceTableCode:  320,
	}
}

func TestHandlePersistsRow(t *testing.T) {
	store := &stubStore{}
	h, err := NewHandler(store, quietLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: taskBody(t, validTask())},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.BatchItemFailures)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(store.rows))
	}
	row := store.rows[0]
	if row.FipeValue != 25757.00 {
		t.Fatalf("expected parsed value 25757, got %v", row.FipeValue)
	}
	if row.FactName != "Uno Mille 1.0 2020-1" {
		t.Fatalf("unexpected fact name %q", row.FactName)
	}
	if row.ManufactureYear != "2020-1" {
		t.Fatalf("unexpected manufacture year %q", row.ManufactureYear)
	}
}

func TestHandleMissingFipeCodeNeverReachesStore(t *testing.T) {
	store := &stubStore{}
	h, err := NewHandler(store, quietLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	task := validTask()
	task.FipeCode = ""
	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: taskBody(t, task)},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(store.rows) != 0 {
		t.Fatalf("invalid row reached the store: %+v", store.rows)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m1" {
		t.Fatalf("expected m1 failed, got %+v", resp.BatchItemFailures)
	}
}

func TestHandleInvalidCurrencyFails(t *testing.T) {
	store := &stubStore{}
	h, _ := NewHandler(store, quietLogger())

	task := validTask()
	task.FipeValue = "R$ abc"
	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: taskBody(t, task)},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(store.rows) != 0 {
		t.Fatalf("row with invalid value reached the store")
	}
	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected failure, got %+v", resp.BatchItemFailures)
	}
}

func TestHandleIsolatesStoreErrors(t *testing.T) {
	bad := validTask()
	bad.FipeCode = "009999-9"
	store := &stubStore{failFor: map[string]error{"009999-9": errors.New("db down")}}
	h, _ := NewHandler(store, quietLogger())

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: taskBody(t, validTask())},
		{MessageID: "m2", Body: taskBody(t, bad)},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(store.rows) != 1 {
		t.Fatalf("expected healthy row persisted, got %d", len(store.rows))
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("expected only m2 failed, got %+v", resp.BatchItemFailures)
	}
}

func TestHandleMalformedBody(t *testing.T) {
	store := &stubStore{}
	h, _ := NewHandler(store, quietLogger())

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: []byte("{not json")},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected decode failure, got %+v", resp.BatchItemFailures)
	}
}

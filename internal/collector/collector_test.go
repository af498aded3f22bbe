package collector

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"

	"fipe-pipeline/internal/catalog"
	"fipe-pipeline/internal/pipeline"
	"fipe-pipeline/internal/queue"
)

type stubCatalog struct {
	years []catalog.ModelYear
	fuels []string
	// prices keyed by "<year>-<fuel>"
	prices map[string]catalog.Price

	listCalls      int
	priceCalls     int
	throttlePrices int
}

func (s *stubCatalog) ListYearsAndFuels(context.Context, catalog.ReferenceTable, string, string, catalog.VehicleType) ([]catalog.ModelYear, []string, error) {
	s.listCalls++
	return s.years, s.fuels, nil
}

func (s *stubCatalog) GetPrice(_ context.Context, _ catalog.ReferenceTable, _, _ string, yearModel string, _ catalog.VehicleType, fuelType string) (catalog.Price, error) {
	s.priceCalls++
	if s.throttlePrices > 0 {
		s.throttlePrices--
		return catalog.Price{}, &catalog.StatusError{Code: http.StatusTooManyRequests}
	}
	return s.prices[yearModel+"-"+fuelType], nil
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
	sender := queue.NewBatchSender(transport, "priced_row_tasks",
		queue.WithSendPause(0), queue.WithSenderLogger(quietLogger()))
	h, err := NewHandler(api, sender, pipeline.RetryPolicy{Attempts: 2}, quietLogger())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func modelBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(pipeline.ModelTask{
		Manufacturer:        "Fiat",
		ManufacturerCode:    "21",
		Model:               "Uno Mille 1.0",
		ModelCode:           "4351",
		VehicleTypeCode:     1,
		ReferenceMonthLabel: "março/2026",
		ReferenceTableCode:  320,
	})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return body
}

func TestHandleEmitsYearFuelCrossProduct(t *testing.T) {
	api := &stubCatalog{
		years: []catalog.ModelYear{
			{YearModel: "2020", Label: "2020 Gasolina"},
			{YearModel: "2021", Label: "2021 Gasolina"},
		},
		fuels: []string{"1", "3"},
		prices: map[string]catalog.Price{
			"2020-1": {Value: "R$ 25.757,00", FipeCode: "001004-9"},
			"2021-1": {Value: "R$ 28.100,00", FipeCode: "001004-9"},
			"2021-3": {Value: "R$ 30.000,00", FipeCode: "001004-9"},
			// 2020-3 answers empty: no diesel variant that year.
		},
	}
	transport := &captureTransport{}
	h := newTestHandler(t, api, transport)

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: modelBody(t)},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.BatchItemFailures)
	}
	if api.priceCalls != 4 {
		t.Fatalf("expected 4 price lookups, got %d", api.priceCalls)
	}
	if len(transport.sent) != 3 {
		t.Fatalf("expected 3 priced rows (empty result skipped), got %d", len(transport.sent))
	}

	var row pipeline.PricedRowTask
	if err := json.Unmarshal(transport.sent[0], &row); err != nil {
		t.Fatalf("unmarshal row: %v", err)
	}
	if row.ModelYearLabel != "2020 Gasolina" || row.ModelYearCode != "2020" {
		t.Fatalf("unexpected year fields: %+v", row)
	}
	if row.FipeValue != "R$ 25.757,00" || row.FipeCode != "001004-9" {
		t.Fatalf("unexpected price fields: %+v", row)
	}
	if row.FuelTypeCode != "1" || row.ReferenceTableCode != 320 {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestHandleThrottleRetryDoesNotDuplicateRows(t *testing.T) {
	api := &stubCatalog{
		years: []catalog.ModelYear{{YearModel: "2020", Label: "2020 Gasolina"}},
		fuels: []string{"1"},
		prices: map[string]catalog.Price{
			"2020-1": {Value: "R$ 25.757,00", FipeCode: "001004-9"},
		},
		throttlePrices: 1,
	}
	transport := &captureTransport{}
	h := newTestHandler(t, api, transport)

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: modelBody(t)},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected success after retry, got %+v", resp.BatchItemFailures)
	}
	if api.listCalls != 2 {
		t.Fatalf("expected the whole fetch restarted, got %d list calls", api.listCalls)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected exactly 1 row after retry, got %d", len(transport.sent))
	}
}

func TestHandleExhaustedThrottleFailsMessage(t *testing.T) {
	api := &stubCatalog{
		years:          []catalog.ModelYear{{YearModel: "2020", Label: "2020 Gasolina"}},
		fuels:          []string{"1"},
		throttlePrices: 10,
	}
	transport := &captureTransport{}
	h := newTestHandler(t, api, transport)

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: modelBody(t)},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m1" {
		t.Fatalf("expected m1 failed, got %+v", resp.BatchItemFailures)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("no rows may be emitted for a failed message")
	}
}

func TestHandleDecodeFailure(t *testing.T) {
	transport := &captureTransport{}
	h := newTestHandler(t, &stubCatalog{}, transport)

	batch := pipeline.Batch{Messages: []pipeline.Message{
		{MessageID: "m1", Body: []byte("not json")},
	}}
	resp := h.Handle(context.Background(), batch)

	if len(resp.BatchItemFailures) != 1 {
		t.Fatalf("expected decode failure, got %+v", resp.BatchItemFailures)
	}
}

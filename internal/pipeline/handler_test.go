package pipeline

import (
	"net/http"
	"testing"
)

func TestFailureListPreservesDeliveryOrder(t *testing.T) {
	batch := Batch{Messages: []Message{
		{MessageID: "a"},
		{MessageID: "b"},
		{MessageID: "c"},
	}}
	failed := map[string]struct{}{"c": {}, "a": {}}

	failures := FailureList(batch, failed)
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}
	if failures[0].ItemIdentifier != "a" || failures[1].ItemIdentifier != "c" {
		t.Fatalf("expected delivery order [a c], got %+v", failures)
	}
}

func TestFailureListEmpty(t *testing.T) {
	batch := Batch{Messages: []Message{{MessageID: "a"}}}
	if failures := FailureList(batch, nil); failures != nil {
		t.Fatalf("expected nil failures, got %+v", failures)
	}
}

func TestFailAll(t *testing.T) {
	batch := Batch{Messages: []Message{{MessageID: "a"}, {MessageID: "b"}}}

	resp := FailAll(batch, "config error")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("expected all messages failed, got %+v", resp.BatchItemFailures)
	}
}

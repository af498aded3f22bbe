package queue

import (
	"context"
	"fmt"
	"testing"
)

func TestBufferFlushesWhenFull(t *testing.T) {
	transport := &stubTransport{}
	sender := NewBatchSender(transport, "q", WithSendPause(0), WithSenderLogger(quietLogger()))
	buffer := NewBuffer(sender)

	for i := 0; i < 10; i++ {
		if failed := buffer.Append(context.Background(), fmt.Sprintf("m%d", i), map[string]int{"i": i}); failed != nil {
			t.Fatalf("unexpected failures: %v", failed)
		}
	}
	if len(transport.chunks) != 1 {
		t.Fatalf("expected auto-flush at %d items, got %d sends", MaxBatch, len(transport.chunks))
	}
	if buffer.Pending() != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", buffer.Pending())
	}
}

func TestBufferReportsFailedSources(t *testing.T) {
	transport := &stubTransport{failIdx: map[int][]int{0: {1, 2}}}
	sender := NewBatchSender(transport, "q", WithSendPause(0), WithSenderLogger(quietLogger()))
	buffer := NewBuffer(sender)

	// Two bodies derived from the same source message.
	buffer.Append(context.Background(), "m1", map[string]int{"i": 0})
	buffer.Append(context.Background(), "m2", map[string]int{"i": 1})
	buffer.Append(context.Background(), "m2", map[string]int{"i": 2})

	failed := buffer.Flush(context.Background())
	if len(failed) != 1 || failed[0] != "m2" {
		t.Fatalf("expected deduped source [m2], got %v", failed)
	}
}

func TestBufferMarshalFailure(t *testing.T) {
	transport := &stubTransport{}
	sender := NewBatchSender(transport, "q", WithSendPause(0), WithSenderLogger(quietLogger()))
	buffer := NewBuffer(sender)

	failed := buffer.Append(context.Background(), "m1", func() {})
	if len(failed) != 1 || failed[0] != "m1" {
		t.Fatalf("expected marshal failure reported against source, got %v", failed)
	}
	if buffer.Pending() != 0 {
		t.Fatalf("unmarshalable task must not be buffered")
	}
}

func TestBufferFlushEmpty(t *testing.T) {
	sender := NewBatchSender(&stubTransport{}, "q", WithSendPause(0), WithSenderLogger(quietLogger()))
	buffer := NewBuffer(sender)
	if failed := buffer.Flush(context.Background()); failed != nil {
		t.Fatalf("expected nil for empty flush, got %v", failed)
	}
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"
)

type stubTransport struct {
	chunks     [][][]byte
	failIdx    map[int][]int
	failChunks map[int]error
}

func (s *stubTransport) Send(_ context.Context, _ string, bodies [][]byte) ([]int, error) {
	call := len(s.chunks)
	s.chunks = append(s.chunks, bodies)
	if err := s.failChunks[call]; err != nil {
		return nil, err
	}
	return s.failIdx[call], nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func bodies(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("body-%d", i))
	}
	return out
}

func TestSendBatchChunks(t *testing.T) {
	transport := &stubTransport{}
	sender := NewBatchSender(transport, "q", WithSendPause(0), WithSenderLogger(quietLogger()))

	failures := sender.SendBatch(context.Background(), bodies(25))
	if len(failures) != 0 {
		t.Fatalf("expected no failures, got %+v", failures)
	}
	if len(transport.chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(transport.chunks))
	}
	sizes := []int{len(transport.chunks[0]), len(transport.chunks[1]), len(transport.chunks[2])}
	if sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 5 {
		t.Fatalf("expected chunk sizes [10 10 5], got %v", sizes)
	}
	if string(transport.chunks[1][0]) != "body-10" {
		t.Fatalf("chunk content out of order: %s", transport.chunks[1][0])
	}
	if string(transport.chunks[2][4]) != "body-24" {
		t.Fatalf("last chunk content wrong: %s", transport.chunks[2][4])
	}
}

func TestSendBatchMapsFailureIndices(t *testing.T) {
	transport := &stubTransport{failIdx: map[int][]int{1: {2}}}
	sender := NewBatchSender(transport, "q", WithSendPause(0), WithSenderLogger(quietLogger()))

	failures := sender.SendBatch(context.Background(), bodies(25))
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %+v", failures)
	}
	if failures[0].ItemIdentifier != "12" {
		t.Fatalf("expected global index 12, got %s", failures[0].ItemIdentifier)
	}
}

func TestSendBatchWholeChunkError(t *testing.T) {
	transport := &stubTransport{failChunks: map[int]error{0: errors.New("queue down")}}
	sender := NewBatchSender(transport, "q", WithSendPause(0), WithSenderLogger(quietLogger()))

	failures := sender.SendBatch(context.Background(), bodies(15))
	if len(failures) != 10 {
		t.Fatalf("expected the whole first chunk failed, got %d", len(failures))
	}
	if failures[0].ItemIdentifier != "0" || failures[9].ItemIdentifier != "9" {
		t.Fatalf("unexpected failure identifiers: %+v", failures)
	}
	// The second chunk still went out.
	if len(transport.chunks) != 2 {
		t.Fatalf("expected remaining chunk sent, got %d calls", len(transport.chunks))
	}
}

func TestSendBatchPausesBetweenChunks(t *testing.T) {
	transport := &stubTransport{}
	var slept []time.Duration
	sender := NewBatchSender(transport, "q",
		WithSendPause(500*time.Millisecond),
		WithSenderLogger(quietLogger()),
		WithSenderSleep(func(_ context.Context, d time.Duration) { slept = append(slept, d) }),
	)

	sender.SendBatch(context.Background(), bodies(21))
	if len(slept) != 2 {
		t.Fatalf("expected 2 pauses for 3 chunks, got %d", len(slept))
	}
	if slept[0] != 500*time.Millisecond {
		t.Fatalf("unexpected pause %v", slept[0])
	}
}

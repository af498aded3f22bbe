package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"fipe-pipeline/internal/pipeline"
)

type runnerReceiver struct {
	mu      sync.Mutex
	batches [][]pipeline.Message
	deleted [][]string
	cancel  context.CancelFunc
}

func (r *runnerReceiver) Receive(ctx context.Context, queue string, limit int) ([]pipeline.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		r.cancel()
		return nil, nil
	}
	batch := r.batches[0]
	r.batches = r.batches[1:]
	return batch, nil
}

func (r *runnerReceiver) Delete(ctx context.Context, queue string, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, ids)
	return nil
}

type trackingHandler struct {
	id     int
	failID string
	mu     *sync.Mutex
	served *[]int
}

func (h *trackingHandler) Handle(ctx context.Context, batch pipeline.Batch) pipeline.Response {
	h.mu.Lock()
	*h.served = append(*h.served, h.id)
	h.mu.Unlock()
	var failures []pipeline.BatchItemFailure
	for _, msg := range batch.Messages {
		if msg.MessageID == h.failID {
			failures = append(failures, pipeline.BatchItemFailure{ItemIdentifier: msg.MessageID})
		}
	}
	return pipeline.Response{StatusCode: 200, BatchItemFailures: failures}
}

func TestRunnerBuildsFreshHandlerPerBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recv := &runnerReceiver{
		batches: [][]pipeline.Message{
			{{MessageID: "a", Body: []byte("{}")}, {MessageID: "bad", Body: []byte("{}")}},
			{{MessageID: "b", Body: []byte("{}")}},
		},
		cancel: cancel,
	}

	var mu sync.Mutex
	var served []int
	built := 0
	factory := func() (pipeline.Handler, error) {
		mu.Lock()
		defer mu.Unlock()
		built++
		return &trackingHandler{id: built, failID: "bad", mu: &mu, served: &served}, nil
	}

	runner, err := NewRunner(RunnerConfig{
		Stage:     "expander",
		Queue:     "q",
		Receiver:  recv,
		Factory:   factory,
		BatchSize: 10,
		Window:    10 * time.Millisecond,
		Workers:   1,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if err := runner.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if built != 2 {
		t.Fatalf("expected one handler per batch, built %d", built)
	}
	if len(served) != 2 || served[0] == served[1] {
		t.Fatalf("expected two distinct handler instances to serve, got %v", served)
	}

	recv.mu.Lock()
	deleted := recv.deleted
	recv.mu.Unlock()
	if len(deleted) != 2 {
		t.Fatalf("expected deletes for both batches, got %v", deleted)
	}
	for _, ids := range deleted {
		for _, id := range ids {
			if id == "bad" {
				t.Fatalf("failed message must stay for redelivery, got deletes %v", deleted)
			}
		}
	}
}

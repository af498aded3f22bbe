package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"fipe-pipeline/internal/observability/metrics"
	"fipe-pipeline/internal/pipeline"
)

// Receiver claims batch deliveries from one queue. Claimed messages become
// invisible until the visibility timeout elapses; deleted messages are gone
// for good.
type Receiver interface {
	Receive(ctx context.Context, queue string, limit int) ([]pipeline.Message, error)
	Delete(ctx context.Context, queue string, ids []string) error
}

// HandlerFactory builds a fresh handler per batch. Handlers share no
// in-process state across batches.
type HandlerFactory func() (pipeline.Handler, error)

// Runner polls one queue and dispatches batches to handlers on a bounded
// worker pool. Messages the handler reports as failed are left to the
// queue's own redelivery; everything else is deleted.
type Runner struct {
	stage     string
	queue     string
	receiver  Receiver
	factory   HandlerFactory
	batchSize int
	window    time.Duration
	pool      *ants.Pool
	logger    *log.Logger
}

// RunnerConfig bundles runner construction parameters.
type RunnerConfig struct {
	Stage     string
	Queue     string
	Receiver  Receiver
	Factory   HandlerFactory
	BatchSize int
	Window    time.Duration
	Workers   int
	Logger    *log.Logger
}

// NewRunner constructs a runner with its own worker pool.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Receiver == nil {
		return nil, errors.New("queue runner: nil receiver")
	}
	if cfg.Factory == nil {
		return nil, errors.New("queue runner: nil handler factory")
	}
	if cfg.Queue == "" {
		return nil, errors.New("queue runner: empty queue name")
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > MaxBatch {
		cfg.BatchSize = MaxBatch
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Second
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}
	return &Runner{
		stage:     cfg.Stage,
		queue:     cfg.Queue,
		receiver:  cfg.Receiver,
		factory:   cfg.Factory,
		batchSize: cfg.BatchSize,
		window:    cfg.Window,
		pool:      pool,
		logger:    cfg.Logger,
	}, nil
}

// Run polls until ctx is cancelled, then waits for in-flight batches.
func (r *Runner) Run(ctx context.Context) error {
	defer r.pool.Release()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		messages, err := r.receiver.Receive(ctx, r.queue, r.batchSize)
		if err != nil {
			r.logger.Printf("%s runner: receive error: %v", r.stage, err)
			r.wait(ctx)
			continue
		}
		if len(messages) == 0 {
			r.wait(ctx)
			continue
		}
		batch := pipeline.Batch{Messages: messages}
		wg.Add(1)
		submitErr := r.pool.Submit(func() {
			defer wg.Done()
			r.handleBatch(ctx, batch)
		})
		if submitErr != nil {
			wg.Done()
			r.logger.Printf("%s runner: submit error: %v", r.stage, submitErr)
			r.handleBatch(ctx, batch)
		}
	}
}

func (r *Runner) handleBatch(ctx context.Context, batch pipeline.Batch) {
	start := time.Now()
	handler, err := r.factory()
	if err != nil {
		// Construction failure is configuration-level: leave the whole
		// batch for redelivery.
		r.logger.Printf("%s runner: handler construction error: %v", r.stage, err)
		metrics.ObserveStageBatch(r.stage, metrics.ResultError, time.Since(start), 0, len(batch.Messages))
		return
	}

	resp := handler.Handle(ctx, batch)

	failed := make(map[string]struct{}, len(resp.BatchItemFailures))
	for _, failure := range resp.BatchItemFailures {
		failed[failure.ItemIdentifier] = struct{}{}
	}
	var acked []string
	for _, msg := range batch.Messages {
		if _, ok := failed[msg.MessageID]; !ok {
			acked = append(acked, msg.MessageID)
		}
	}
	if len(acked) > 0 {
		if err := r.receiver.Delete(ctx, r.queue, acked); err != nil {
			r.logger.Printf("%s runner: delete error: %v", r.stage, err)
		}
	}

	result := metrics.ResultSuccess
	if len(failed) > 0 || resp.StatusCode >= 500 {
		result = metrics.ResultError
	}
	metrics.ObserveStageBatch(r.stage, result, time.Since(start), len(acked), len(failed))
	if len(failed) > 0 {
		r.logger.Printf("%s runner: batch done processed=%d failed=%d", r.stage, len(acked), len(failed))
	}
}

func (r *Runner) wait(ctx context.Context) {
	timer := time.NewTimer(r.window)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

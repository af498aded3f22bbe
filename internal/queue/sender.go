package queue

import (
	"context"
	"log"
	"strconv"
	"time"

	"fipe-pipeline/internal/observability/metrics"
	"fipe-pipeline/internal/pipeline"
)

// MaxBatch is the queue's maximum messages per send call.
const MaxBatch = 10

// Transport sends one chunk of at most MaxBatch bodies to a queue and
// returns the chunk-relative indices that failed. A non-nil error means the
// whole chunk failed.
type Transport interface {
	Send(ctx context.Context, queue string, bodies [][]byte) ([]int, error)
}

// BatchSender splits outgoing messages into MaxBatch-sized chunks with a
// pacing delay between chunks. Partial failures are reported per item and
// never abort the remaining chunks.
type BatchSender struct {
	transport Transport
	queue     string
	pause     time.Duration
	sleep     func(ctx context.Context, d time.Duration)
	logger    *log.Logger
}

// SenderOption configures a BatchSender.
type SenderOption func(*BatchSender)

// WithSendPause sets the pacing delay between chunks.
func WithSendPause(d time.Duration) SenderOption {
	return func(s *BatchSender) {
		if d >= 0 {
			s.pause = d
		}
	}
}

// WithSenderLogger overrides the logger.
func WithSenderLogger(logger *log.Logger) SenderOption {
	return func(s *BatchSender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSenderSleep overrides the sleep function (tests).
func WithSenderSleep(sleep func(ctx context.Context, d time.Duration)) SenderOption {
	return func(s *BatchSender) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewBatchSender constructs a sender bound to one queue.
func NewBatchSender(transport Transport, queue string, opts ...SenderOption) *BatchSender {
	s := &BatchSender{
		transport: transport,
		queue:     queue,
		pause:     500 * time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) {
			if d <= 0 {
				return
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendBatch sends all bodies in order and returns the failed items keyed by
// their position in the input, as the queue runtime identifies them.
func (s *BatchSender) SendBatch(ctx context.Context, bodies [][]byte) []pipeline.BatchItemFailure {
	var failures []pipeline.BatchItemFailure
	for offset := 0; offset < len(bodies); offset += MaxBatch {
		end := offset + MaxBatch
		if end > len(bodies) {
			end = len(bodies)
		}
		if offset > 0 {
			s.sleep(ctx, s.pause)
		}
		chunk := bodies[offset:end]
		failed, err := s.transport.Send(ctx, s.queue, chunk)
		if err != nil {
			s.logger.Printf("queue send: chunk failed queue=%s size=%d: %v", s.queue, len(chunk), err)
			for i := range chunk {
				failures = append(failures, pipeline.BatchItemFailure{ItemIdentifier: strconv.Itoa(offset + i)})
			}
			continue
		}
		for _, idx := range failed {
			s.logger.Printf("queue send: item failed queue=%s index=%d", s.queue, offset+idx)
			failures = append(failures, pipeline.BatchItemFailure{ItemIdentifier: strconv.Itoa(offset + idx)})
		}
	}
	metrics.AddQueueSendFailures(s.queue, len(failures))
	return failures
}

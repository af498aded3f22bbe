package pipeline

import (
	"context"
	"net/http"
)

// Message is one queue delivery with the identifier used for
// partial-batch failure reporting.
type Message struct {
	MessageID string
	Body      []byte
}

// Batch is one batch delivery from the queue runtime.
type Batch struct {
	Messages []Message
}

// BatchItemFailure marks a single message for redelivery.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// Response is the stage handler outcome consumed by the queue runtime.
type Response struct {
	StatusCode        int                `json:"statusCode"`
	Body              string             `json:"body"`
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// Handler processes one batch delivery to completion.
type Handler interface {
	Handle(ctx context.Context, batch Batch) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, batch Batch) Response

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, batch Batch) Response {
	return f(ctx, batch)
}

// FailureList builds the batch item failure list for the failed message
// IDs, preserving batch delivery order.
func FailureList(batch Batch, failed map[string]struct{}) []BatchItemFailure {
	if len(failed) == 0 {
		return nil
	}
	failures := make([]BatchItemFailure, 0, len(failed))
	for _, msg := range batch.Messages {
		if _, ok := failed[msg.MessageID]; ok {
			failures = append(failures, BatchItemFailure{ItemIdentifier: msg.MessageID})
		}
	}
	return failures
}

// FailAll marks every message in the batch as failed. Used for
// configuration-level errors where no partial progress is possible.
func FailAll(batch Batch, body string) Response {
	failures := make([]BatchItemFailure, 0, len(batch.Messages))
	for _, msg := range batch.Messages {
		failures = append(failures, BatchItemFailure{ItemIdentifier: msg.MessageID})
	}
	return Response{
		StatusCode:        http.StatusInternalServerError,
		Body:              body,
		BatchItemFailures: failures,
	}
}

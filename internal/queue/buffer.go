package queue

import (
	"context"
	"encoding/json"
	"strconv"
)

// Buffer accumulates outgoing task bodies and flushes them through a
// BatchSender whenever MaxBatch are pending. Each body remembers the queue
// message it was derived from so send failures can be reported against the
// originating delivery.
type Buffer struct {
	sender  *BatchSender
	bodies  [][]byte
	sources []string
}

// NewBuffer constructs an empty buffer on top of sender.
func NewBuffer(sender *BatchSender) *Buffer {
	return &Buffer{sender: sender}
}

// Append marshals task and buffers it, flushing early when the buffer is
// full. It returns the source message IDs of any items that failed to send.
func (b *Buffer) Append(ctx context.Context, sourceID string, task any) []string {
	body, err := json.Marshal(task)
	if err != nil {
		return []string{sourceID}
	}
	b.bodies = append(b.bodies, body)
	b.sources = append(b.sources, sourceID)
	if len(b.bodies) >= MaxBatch {
		return b.Flush(ctx)
	}
	return nil
}

// Flush sends everything buffered and clears the buffer.
func (b *Buffer) Flush(ctx context.Context) []string {
	if len(b.bodies) == 0 {
		return nil
	}
	failures := b.sender.SendBatch(ctx, b.bodies)
	var failedSources []string
	seen := make(map[string]struct{})
	for _, failure := range failures {
		idx, err := strconv.Atoi(failure.ItemIdentifier)
		if err != nil || idx < 0 || idx >= len(b.sources) {
			continue
		}
		source := b.sources[idx]
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		failedSources = append(failedSources, source)
	}
	b.bodies = nil
	b.sources = nil
	return failedSources
}

// Pending returns the number of buffered bodies.
func (b *Buffer) Pending() int {
	return len(b.bodies)
}

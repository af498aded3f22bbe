package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DeadLetter is one dead-lettered message.
type DeadLetter struct {
	MessageID   string
	Queue       string
	Body        []byte
	Attempts    int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// ListDeadLetters returns up to limit dead-lettered messages for a queue.
func (s *Store) ListDeadLetters(ctx context.Context, queueName string, limit int) ([]DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("queue store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT message_id, queue, body, attempts, first_seen_at, last_seen_at
FROM %s
WHERE queue = $1
ORDER BY last_seen_at ASC
LIMIT $2`, s.dlqTable)

	rows, err := s.db.QueryContext(ctx, query, queueName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.MessageID, &dl.Queue, &dl.Body, &dl.Attempts, &dl.FirstSeenAt, &dl.LastSeenAt); err != nil {
			return nil, err
		}
		result = append(result, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RequeueDeadLetters moves up to limit dead-lettered messages back onto
// their queue with a fresh attempt budget. Returns how many moved.
func (s *Store) RequeueDeadLetters(ctx context.Context, queueName string, limit int) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("queue store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
WITH moved AS (
	DELETE FROM %s
	WHERE message_id IN (
		SELECT message_id FROM %s
		WHERE queue = $1
		ORDER BY last_seen_at ASC
		LIMIT $2
	)
	RETURNING message_id, queue, body
)
INSERT INTO %s (id, queue, body, attempts, visible_at, enqueued_at)
SELECT message_id, queue, body, 0, $3, $3 FROM moved
ON CONFLICT (id)
DO NOTHING`, s.dlqTable, s.dlqTable, s.table)

	result, err := s.db.ExecContext(ctx, query, queueName, limit, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(moved), nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fipe-pipeline/internal/pipeline"
	"fipe-pipeline/internal/queue"
)

const (
	defaultQueueTable = "queue_messages"
	defaultDLQTable   = "dead_letter_messages"

	defaultVisibility = 5 * time.Minute
	defaultMaxReceive = 5
)

// Store is a Postgres-backed queue with at-least-once delivery. Claimed
// messages become invisible for the visibility timeout; messages claimed
// more than maxReceive times move to the dead-letter table.
type Store struct {
	db         *sql.DB
	table      string
	dlqTable   string
	visibility time.Duration
	maxReceive int
}

// NewStore constructs a queue store.
func NewStore(db *sql.DB, opts ...Option) *Store {
	store := &Store{
		db:         db,
		table:      defaultQueueTable,
		dlqTable:   defaultDLQTable,
		visibility: defaultVisibility,
		maxReceive: defaultMaxReceive,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Option configures the queue store.
type Option func(*Store)

// WithQueueTable overrides the queue table name.
func WithQueueTable(table string) Option {
	return func(store *Store) {
		if table != "" {
			store.table = table
		}
	}
}

// WithDLQTable overrides the dead-letter table name.
func WithDLQTable(table string) Option {
	return func(store *Store) {
		if table != "" {
			store.dlqTable = table
		}
	}
}

// WithVisibilityTimeout overrides the redelivery delay for claimed messages.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(store *Store) {
		if d > 0 {
			store.visibility = d
		}
	}
}

// WithMaxReceive overrides the receive count after which a message is
// dead-lettered.
func WithMaxReceive(n int) Option {
	return func(store *Store) {
		if n > 0 {
			store.maxReceive = n
		}
	}
}

// Send enqueues one chunk of bodies and returns chunk-relative indices that
// failed to enqueue.
func (s *Store) Send(ctx context.Context, queueName string, bodies [][]byte) ([]int, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("queue store: nil db")
	}
	if queueName == "" {
		return nil, errors.New("queue store: empty queue name")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, queue, body, attempts, visible_at, enqueued_at)
VALUES ($1, $2, $3, 0, $4, $4)
ON CONFLICT (id)
DO NOTHING`, s.table)

	now := time.Now().UTC()
	var failed []int
	for i, body := range bodies {
		if _, err := s.db.ExecContext(ctx, query, queue.NewMessageID(), queueName, body, now); err != nil {
			failed = append(failed, i)
		}
	}
	return failed, nil
}

// Receive claims up to limit visible messages, dead-lettering any that have
// exhausted their receive budget first.
func (s *Store) Receive(ctx context.Context, queueName string, limit int) ([]pipeline.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("queue store: nil db")
	}
	if limit <= 0 {
		limit = queue.MaxBatch
	}
	if err := s.deadLetterExhausted(ctx, queueName); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`
UPDATE %s
SET visible_at = $1, attempts = attempts + 1
WHERE id IN (
	SELECT id FROM %s
	WHERE queue = $2 AND visible_at <= $3
	ORDER BY enqueued_at ASC
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING id, body`, s.table, s.table)

	rows, err := s.db.QueryContext(ctx, query, now.Add(s.visibility), queueName, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []pipeline.Message
	for rows.Next() {
		var msg pipeline.Message
		if err := rows.Scan(&msg.MessageID, &msg.Body); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// Delete acknowledges processed messages.
func (s *Store) Delete(ctx context.Context, queueName string, ids []string) error {
	if s == nil || s.db == nil {
		return errors.New("queue store: nil db")
	}
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE queue = $1 AND id = $2`, s.table)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, queueName, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) deadLetterExhausted(ctx context.Context, queueName string) error {
	query := fmt.Sprintf(`
WITH exhausted AS (
	DELETE FROM %s
	WHERE queue = $1 AND visible_at <= $2 AND attempts >= $3
	RETURNING id, queue, body, attempts
)
INSERT INTO %s (message_id, queue, body, attempts, first_seen_at, last_seen_at)
SELECT id, queue, body, attempts, $2, $2 FROM exhausted
ON CONFLICT (message_id)
DO UPDATE SET
	body = EXCLUDED.body,
	attempts = EXCLUDED.attempts,
	last_seen_at = EXCLUDED.last_seen_at`, s.table, s.dlqTable)

	_, err := s.db.ExecContext(ctx, query, queueName, time.Now().UTC(), s.maxReceive)
	return err
}

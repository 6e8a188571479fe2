package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/garnizeh/cvpipe/internal/db"
)

// SQLiteOptions tunes the polling behaviour of SQLiteTransport.
type SQLiteOptions struct {
	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration
	// Visibility is how long a claimed message stays invisible before another
	// worker may claim it again (e.g. after a crash mid-handler).
	Visibility time.Duration
}

// SQLiteTransport is a relational outbox: messages live in `queue_messages`
// until handled, and move to `dead_letter_messages` once they fail for good.
type SQLiteTransport struct {
	db   *db.DB
	opts SQLiteOptions

	mu     sync.Mutex
	closed bool
}

var _ Transport = (*SQLiteTransport)(nil)

func NewSQLiteTransport(d *db.DB, opts SQLiteOptions) *SQLiteTransport {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Visibility <= 0 {
		opts.Visibility = 5 * time.Minute
	}
	return &SQLiteTransport{db: d, opts: opts}
}

func (t *SQLiteTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close marks the transport closed. The DB is owned by the caller.
func (t *SQLiteTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Enqueue inserts the message. A message id that already exists is ignored, so
// a retried enqueue for the same job does not produce a second delivery.
func (t *SQLiteTransport) Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) error {
	if t.isClosed() {
		return ErrClosed
	}
	if opts.MessageID == "" {
		return fmt.Errorf("enqueue: message id is required")
	}
	opts = opts.withDefaults()

	now := time.Now().UTC().UnixMilli()
	q := `INSERT INTO queue_messages (id, queue, payload, status, attempts, max_attempts, backoff_ms, next_try_at, created, updated)
		VALUES (?, ?, ?, 'queued', 0, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`
	if _, err := t.db.Exec(ctx, q, opts.MessageID, queue, string(payload), opts.Attempts, opts.Backoff.Milliseconds(), now, now, now); err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	return nil
}

type claimed struct {
	Delivery
	backoff time.Duration
}

// claim atomically takes the next ready message and bumps its attempt count.
func (t *SQLiteTransport) claim(ctx context.Context, queue string) (*claimed, error) {
	now := time.Now().UTC()
	nowMs := now.UnixMilli()
	staleMs := now.Add(-t.opts.Visibility).UnixMilli()

	q := `UPDATE queue_messages SET status = 'processing', attempts = attempts + 1, locked_at = ?, updated = ?
		WHERE id = (
			SELECT id FROM queue_messages
			WHERE queue = ? AND (
				(status IN ('queued', 'retry') AND next_try_at <= ?)
				OR (status = 'processing' AND locked_at <= ?)
			)
			ORDER BY next_try_at ASC, created ASC LIMIT 1
		)
		RETURNING id, queue, payload, attempts, max_attempts, backoff_ms`
	row := t.db.QueryRow(ctx, q, nowMs, nowMs, queue, nowMs, staleMs)

	var (
		c         claimed
		payload   string
		backoffMs int64
	)
	if err := row.Scan(&c.ID, &c.Queue, &payload, &c.Attempt, &c.MaxAttempts, &backoffMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim message: %w", err)
	}
	c.Payload = []byte(payload)
	c.backoff = time.Duration(backoffMs) * time.Millisecond
	return &c, nil
}

func (t *SQLiteTransport) complete(ctx context.Context, id string) error {
	_, err := t.db.Exec(ctx, `DELETE FROM queue_messages WHERE id = ?`, id)
	return err
}

func (t *SQLiteTransport) scheduleRetry(ctx context.Context, c *claimed, cause error) error {
	next := time.Now().Add(BackoffDuration(c.backoff, c.Attempt)).UTC().UnixMilli()
	_, err := t.db.Exec(ctx, `UPDATE queue_messages SET status = 'retry', next_try_at = ?, locked_at = NULL, last_error = ?, updated = ? WHERE id = ?`,
		next, cause.Error(), time.Now().UTC().UnixMilli(), c.ID)
	return err
}

// moveToDeadLetter moves a message to dead_letter_messages and deletes the original
func (t *SQLiteTransport) moveToDeadLetter(ctx context.Context, c *claimed, cause error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	insert := `INSERT INTO dead_letter_messages (message_id, queue, payload, attempts, last_error, failed_at) VALUES (?,?,?,?,?,?)`
	if _, err := tx.ExecContext(ctx, insert, c.ID, c.Queue, string(c.Payload), c.Attempt, cause.Error(), time.Now().UTC().UnixMilli()); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, c.ID); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Consume launches the worker goroutines and blocks until ctx is done and every
// worker has returned.
func (t *SQLiteTransport) Consume(ctx context.Context, queue string, concurrency int, h Handler) error {
	if t.isClosed() {
		return ErrClosed
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			t.worker(ctx, queue, id, h)
		}(i)
	}
	wg.Wait()
	return nil
}

func (t *SQLiteTransport) worker(ctx context.Context, queue string, id int, h Handler) {
	for {
		if ctx.Err() != nil || t.isClosed() {
			logger.Info("queue worker stopping", slog.String("queue", queue), slog.Int("worker", id))
			return
		}

		c, err := t.claim(ctx, queue)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("claim message", slog.String("queue", queue), slog.Any("err", err))
			}
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}
		if c == nil {
			if !sleepCtx(ctx, t.opts.PollInterval) {
				return
			}
			continue
		}

		t.process(ctx, c, h)
	}
}

func (t *SQLiteTransport) process(ctx context.Context, c *claimed, h Handler) {
	// state writes must land even if ctx is cancelled while the handler runs
	wctx := context.WithoutCancel(ctx)

	herr := runHandler(ctx, h, &c.Delivery)
	if herr == nil {
		if err := t.complete(wctx, c.ID); err != nil {
			logger.Error("complete message", slog.String("id", c.ID), slog.Any("err", err))
		}
		return
	}

	if errors.Is(herr, ErrPermanent) || c.LastAttempt() {
		logger.Warn("message dead-lettered",
			slog.String("id", c.ID), slog.String("queue", c.Queue), slog.Int("attempt", c.Attempt), slog.Any("err", herr))
		if err := t.moveToDeadLetter(wctx, c, herr); err != nil {
			logger.Error("move to dead letter", slog.String("id", c.ID), slog.Any("err", err))
		}
		return
	}

	if err := t.scheduleRetry(wctx, c, herr); err != nil {
		logger.Error("schedule retry", slog.String("id", c.ID), slog.Any("err", err))
	}
}

// Pending returns the number of messages still held for queue, including
// messages waiting for a retry.
func (t *SQLiteTransport) Pending(ctx context.Context, queue string) (int, error) {
	var n int
	err := t.db.QueryRow(ctx, `SELECT COUNT(1) FROM queue_messages WHERE queue = ?`, queue).Scan(&n)
	return n, err
}

// DeadLetters returns the number of dead-lettered messages for queue.
func (t *SQLiteTransport) DeadLetters(ctx context.Context, queue string) (int, error) {
	var n int
	err := t.db.QueryRow(ctx, `SELECT COUNT(1) FROM dead_letter_messages WHERE queue = ?`, queue).Scan(&n)
	return n, err
}

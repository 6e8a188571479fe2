package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Default delivery policy: three attempts with exponential backoff from one second.
const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
	maxBackoff      = 5 * time.Minute
)

// ErrPermanent marks a handler error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("transport closed")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{e.err, ErrPermanent}
}

// Permanent wraps err so that errors.Is(err, ErrPermanent) holds while the
// original error chain stays intact.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// EnqueueOptions controls per-message delivery. MessageID is the transport-level
// id; enqueueing an id that is still pending is a no-op where the broker allows it.
type EnqueueOptions struct {
	MessageID string
	Attempts  int
	Backoff   time.Duration
}

func (o EnqueueOptions) withDefaults() EnqueueOptions {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	return o
}

// Delivery is one delivery attempt of a message. Attempt starts at 1.
type Delivery struct {
	ID          string
	Queue       string
	Payload     []byte
	Attempt     int
	MaxAttempts int
}

// LastAttempt reports whether a failure of this delivery exhausts the message.
func (d *Delivery) LastAttempt() bool {
	return d.Attempt >= d.MaxAttempts
}

// Handler processes a delivery. A nil return acknowledges the message; an error
// schedules a retry unless it wraps ErrPermanent or attempts are exhausted.
type Handler func(ctx context.Context, d *Delivery) error

// Transport is a durable at-least-once queue. Producers and consumers only share
// the queue name.
type Transport interface {
	Enqueue(ctx context.Context, queue string, payload []byte, opts EnqueueOptions) error
	// Consume runs concurrency handlers against the queue until ctx is done.
	Consume(ctx context.Context, queue string, concurrency int, h Handler) error
	Close() error
}

// BackoffDuration returns the delay before retrying after the given failed
// attempt: base, 2*base, 4*base, ... capped at five minutes.
func BackoffDuration(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBackoff
	}
	if attempt <= 1 {
		return base
	}
	if attempt > 20 {
		return maxBackoff
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// package-level logger for the queue transports; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger installs a logger for the queue package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

func runHandler(ctx context.Context, h Handler, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

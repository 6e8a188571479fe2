// Package pipeline dispatches analysis runs, processes them off the queue and
// answers status queries. The dispatcher and the worker share no memory; they
// coordinate through the repositories and the queue transport only.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/garnizeh/cvpipe/internal/models"
)

// DefaultQueue is the queue analysis runs are published to.
const DefaultQueue = "analysis"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized")
	ErrTransport    = errors.New("queue transport failure")
	ErrProcessing   = errors.New("processing failure")
	ErrValidation   = errors.New("validation failure")
)

// Job error kinds recorded on failed jobs.
const (
	KindNotFound          = "NotFound"
	KindAuthorization     = "Authorization"
	KindTransportFailure  = "TransportFailure"
	KindProcessingFailure = "ProcessingFailure"
	KindValidationFailure = "ValidationFailure"
)

// ErrorKind classifies err into a job error kind.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, ErrTransport):
		return KindTransportFailure
	case errors.Is(err, ErrValidation):
		return KindValidationFailure
	default:
		return KindProcessingFailure
	}
}

// package-level logger for the pipeline; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by the pipeline. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// jobEvent logs a job lifecycle event. Empty identifiers are omitted.
func jobEvent(ctx context.Context, level slog.Level, event, queueName string, job *models.Job, req models.Requester, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("event", event),
		slog.String("queue", queueName),
		slog.String("jobId", job.ID),
	}
	if job.DraftID != nil {
		attrs = append(attrs, slog.String("draftId", *job.DraftID))
	}
	if req.UserID != "" {
		attrs = append(attrs, slog.String("userId", req.UserID))
	}
	if req.SessionID != "" {
		attrs = append(attrs, slog.String("sessionId", req.SessionID))
	}
	if key := job.MetaString(models.MetaIdempotencyKey); key != "" {
		attrs = append(attrs, slog.String("idempotencyKey", key))
	}
	attrs = append(attrs, extra...)
	logger.LogAttrs(ctx, level, event, attrs...)
}

func now() time.Time {
	return time.Now().UTC()
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/internal/queue"
	"github.com/garnizeh/cvpipe/pkg/repository"
)

// DefaultIdempotencyWindow is how many recent jobs are scanned for a matching key.
const DefaultIdempotencyWindow = 10

type DispatcherConfig struct {
	Queue             string
	IdempotencyWindow int
	Attempts          int
	Backoff           time.Duration
}

// Dispatcher accepts run requests, records the job and hands it to the queue.
type Dispatcher struct {
	repo      *repository.Repository
	transport queue.Transport
	cfg       DispatcherConfig
}

func NewDispatcher(repo *repository.Repository, t queue.Transport, cfg DispatcherConfig) *Dispatcher {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.IdempotencyWindow <= 0 {
		cfg.IdempotencyWindow = DefaultIdempotencyWindow
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = queue.DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = queue.DefaultBackoff
	}
	return &Dispatcher{repo: repo, transport: t, cfg: cfg}
}

// RunReceipt identifies the job serving a run request.
type RunReceipt struct {
	JobID  string
	Reused bool
}

// EnqueueRun starts an analysis run for draftID. With a non-empty
// idempotencyKey, a recent job carrying the same key is returned instead of
// creating a new one. The key lookup is not locked: two concurrent requests
// with the same key may both create jobs.
func (d *Dispatcher) EnqueueRun(ctx context.Context, draftID string, req models.Requester, in models.AnalysisInputs, idempotencyKey string) (RunReceipt, error) {
	draft, err := d.repo.Drafts.FindDraftByID(ctx, draftID)
	if err != nil {
		return RunReceipt{}, fmt.Errorf("find draft: %w", err)
	}
	if draft == nil || draft.Deleted() {
		return RunReceipt{}, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err := Authorize(draft, req); err != nil {
		return RunReceipt{}, err
	}

	if idempotencyKey != "" {
		recent, err := d.repo.Jobs.FindRecentJobs(ctx, draftID, models.JobTypeAnalysisRun, d.cfg.IdempotencyWindow)
		if err != nil {
			return RunReceipt{}, fmt.Errorf("find recent jobs: %w", err)
		}
		for i := range recent {
			if recent[i].MetaString(models.MetaIdempotencyKey) == idempotencyKey {
				jobEvent(ctx, slog.LevelInfo, "job_idempotent_hit", d.cfg.Queue, &recent[i], req)
				return RunReceipt{JobID: recent[i].ID, Reused: true}, nil
			}
		}
	}

	if in.ResumeText != nil {
		draft.ResumeText = *in.ResumeText
	}
	if in.JobDescription != nil {
		draft.JobDescription = *in.JobDescription
	}
	draft.Status = models.DraftStatusInReview
	if err := d.repo.Drafts.SaveDraft(ctx, draft); err != nil {
		return RunReceipt{}, fmt.Errorf("save draft: %w", err)
	}

	job := &models.Job{
		ID:      uuid.NewString(),
		DraftID: &draft.ID,
		UserID:  strPtr(req.UserID),
		Type:    models.JobTypeAnalysisRun,
		Status:  models.JobStatusQueued,
		Meta:    map[string]any{models.MetaQueue: d.cfg.Queue},
	}
	if idempotencyKey != "" {
		job.SetMeta(models.MetaIdempotencyKey, idempotencyKey)
	}
	if err := d.repo.Jobs.SaveJob(ctx, job); err != nil {
		return RunReceipt{}, fmt.Errorf("save job: %w", err)
	}

	payload, err := json.Marshal(models.AnalysisMessage{
		JobID:          job.ID,
		DraftID:        draft.ID,
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		ResumeText:     draft.ResumeText,
		JobDescription: draft.JobDescription,
	})
	if err != nil {
		return RunReceipt{}, fmt.Errorf("encode message: %w", err)
	}

	opts := queue.EnqueueOptions{MessageID: job.ID, Attempts: d.cfg.Attempts, Backoff: d.cfg.Backoff}
	if err := d.transport.Enqueue(ctx, d.cfg.Queue, payload, opts); err != nil {
		d.failEnqueue(ctx, job, req, err)
		return RunReceipt{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	jobEvent(ctx, slog.LevelInfo, "job_queued", d.cfg.Queue, job, req)
	return RunReceipt{JobID: job.ID}, nil
}

func (d *Dispatcher) failEnqueue(ctx context.Context, job *models.Job, req models.Requester, cause error) {
	finished := now()
	job.Status = models.JobStatusFailed
	job.FinishedAt = &finished
	job.Error = &models.JobError{Kind: KindTransportFailure, Message: cause.Error()}

	if err := d.repo.Jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("record enqueue failure", slog.String("jobId", job.ID), slog.Any("err", err))
	}
	jobEvent(ctx, slog.LevelError, "job_failed", d.cfg.Queue, job, req,
		slog.String("kind", KindTransportFailure), slog.String("error", cause.Error()))
}

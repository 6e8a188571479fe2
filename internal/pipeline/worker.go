package pipeline

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/qri-io/jsonschema"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/internal/queue"
	"github.com/garnizeh/cvpipe/internal/scoring"
	"github.com/garnizeh/cvpipe/pkg/repository"
)

//go:embed schema/analysis_message.json
var messageSchemaJSON []byte

// DefaultConcurrency is the number of handlers a Worker runs by default.
const DefaultConcurrency = 2

type WorkerConfig struct {
	Queue       string
	Concurrency int
}

// Worker consumes analysis messages, scores them and reconciles the job record.
type Worker struct {
	repo      *repository.Repository
	transport queue.Transport
	scorer    scoring.Scorer
	cfg       WorkerConfig
	schema    *jsonschema.Schema
}

func NewWorker(repo *repository.Repository, t queue.Transport, s scoring.Scorer, cfg WorkerConfig) (*Worker, error) {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal(messageSchemaJSON, rs); err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}
	return &Worker{repo: repo, transport: t, scorer: s, cfg: cfg, schema: rs}, nil
}

// Run consumes the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("worker started", slog.String("queue", w.cfg.Queue), slog.Int("concurrency", w.cfg.Concurrency))
	return w.transport.Consume(ctx, w.cfg.Queue, w.cfg.Concurrency, w.Handle)
}

// Handle processes one delivery to a terminal job state. A returned error
// leaves redelivery to the transport unless it wraps queue.ErrPermanent.
func (w *Worker) Handle(ctx context.Context, d *queue.Delivery) error {
	msg, err := w.decode(ctx, d.Payload)
	if err != nil {
		logger.Error("invalid queue message", slog.String("event", "job_failed"), slog.String("queue", d.Queue),
			slog.String("messageId", d.ID), slog.String("kind", KindValidationFailure), slog.Any("err", err))
		return queue.Permanent(err)
	}
	req := models.Requester{UserID: msg.UserID, SessionID: msg.SessionID}

	job, err := w.repo.Jobs.FindJobByID(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("find job: %w", err)
	}
	if job == nil {
		logger.Error("job record missing", slog.String("event", "job_failed"), slog.String("queue", d.Queue),
			slog.String("jobId", msg.JobID), slog.String("kind", KindNotFound))
		return queue.Permanent(fmt.Errorf("job %s: %w", msg.JobID, ErrNotFound))
	}
	if job.Status == models.JobStatusCompleted {
		jobEvent(ctx, slog.LevelInfo, "job_already_completed", d.Queue, job, req, slog.Int("attempt", d.Attempt))
		return nil
	}

	started := now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	job.FinishedAt = nil
	job.Error = nil
	job.SetMeta(models.MetaAttempt, d.Attempt)
	if err := w.repo.Jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	jobEvent(ctx, slog.LevelInfo, "job_started", d.Queue, job, req, slog.Int("attempt", d.Attempt))

	resultID, err := w.process(ctx, job, msg, req)
	if err == nil {
		err = w.complete(ctx, job, resultID)
	}
	if err != nil {
		w.fail(ctx, d, job, req, err)
		return err
	}

	jobEvent(ctx, slog.LevelInfo, "job_completed", d.Queue, job, req, slog.String("resultId", resultID))
	return nil
}

func (w *Worker) decode(ctx context.Context, payload []byte) (*models.AnalysisMessage, error) {
	verrs, err := w.schema.ValidateBytes(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode message: %v", ErrValidation, err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, ve := range verrs {
			msgs = append(msgs, ve.Error())
		}
		return nil, fmt.Errorf("%w: message does not match schema: %s", ErrValidation, strings.Join(msgs, "; "))
	}

	var msg models.AnalysisMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode message: %v", ErrValidation, err)
	}
	return &msg, nil
}

// process scores the message and persists the result, returning its id.
func (w *Worker) process(ctx context.Context, job *models.Job, msg *models.AnalysisMessage, req models.Requester) (string, error) {
	if job.DraftID != nil && *job.DraftID != msg.DraftID {
		return "", queue.Permanent(fmt.Errorf("%w: message draft %s does not match job draft %s", ErrValidation, msg.DraftID, *job.DraftID))
	}

	draft, err := w.repo.Drafts.FindDraftByID(ctx, msg.DraftID)
	if err != nil {
		return "", fmt.Errorf("find draft: %w", err)
	}
	if draft == nil || draft.Deleted() {
		return "", queue.Permanent(fmt.Errorf("draft %s: %w", msg.DraftID, ErrNotFound))
	}
	if err := Authorize(draft, req); err != nil {
		return "", queue.Permanent(err)
	}

	res, err := w.scorer.Score(ctx, scoring.Input{
		DraftID:        draft.ID,
		ResumeText:     msg.ResumeText,
		JobDescription: msg.JobDescription,
		UserID:         msg.UserID,
		SessionID:      msg.SessionID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: score: %w", ErrProcessing, err)
	}

	analysis := &models.Analysis{
		ID:            uuid.NewString(),
		DraftID:       draft.ID,
		JobID:         job.ID,
		ATSScore:      res.ATSScore,
		MatchScore:    res.MatchScore,
		MissingSkills: res.MissingSkills,
		PanelsAllowed: res.PanelsAllowed,
		ParsingMeta:   res.ParsingMeta,
		KeywordHits:   res.KeywordHits,
	}
	if err := w.repo.Analyses.SaveAnalysis(ctx, analysis); err != nil {
		return "", fmt.Errorf("%w: save analysis: %w", ErrProcessing, err)
	}

	draft.Status = models.DraftStatusReady
	draft.LatestResultID = &analysis.ID
	if err := w.repo.Drafts.SaveDraft(ctx, draft); err != nil {
		return "", fmt.Errorf("%w: save draft: %w", ErrProcessing, err)
	}
	return analysis.ID, nil
}

func (w *Worker) complete(ctx context.Context, job *models.Job, resultID string) error {
	finished := now()
	job.Status = models.JobStatusCompleted
	job.FinishedAt = &finished
	job.Error = nil
	job.SetMeta(models.MetaResultID, resultID)
	if err := w.repo.Jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("%w: mark job completed: %w", ErrProcessing, err)
	}
	return nil
}

// fail records the failure on the job. The write ignores ctx cancellation so a
// shutdown does not leave the job running.
func (w *Worker) fail(ctx context.Context, d *queue.Delivery, job *models.Job, req models.Requester, cause error) {
	finished := now()
	kind := ErrorKind(cause)
	job.Status = models.JobStatusFailed
	job.FinishedAt = &finished
	job.Error = &models.JobError{Kind: kind, Message: cause.Error()}

	if err := w.repo.Jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("record job failure", slog.String("jobId", job.ID), slog.Any("err", err))
	}

	final := errors.Is(cause, queue.ErrPermanent) || d.LastAttempt()
	jobEvent(ctx, slog.LevelError, "job_failed", d.Queue, job, req,
		slog.String("kind", kind), slog.String("error", cause.Error()),
		slog.Int("attempt", d.Attempt), slog.Bool("final", final))
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/pkg/repository"
)

// JobView is a job and, when one can be found, its analysis.
type JobView struct {
	Job      *models.Job
	Analysis *models.Analysis
}

// StatusQuery is the read path over jobs and their results.
type StatusQuery struct {
	repo *repository.Repository
}

func NewStatusQuery(repo *repository.Repository) *StatusQuery {
	return &StatusQuery{repo: repo}
}

// GetJobWithResult returns the job with its analysis. A job whose result
// cannot be resolved is returned alone rather than as an error.
func (q *StatusQuery) GetJobWithResult(ctx context.Context, jobID string, viewer models.Requester) (*JobView, error) {
	job, err := q.repo.Jobs.FindJobByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	if job == nil || job.DraftID == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	draft, err := q.repo.Drafts.FindDraftByID(ctx, *job.DraftID)
	if err != nil {
		return nil, fmt.Errorf("find draft: %w", err)
	}
	if draft == nil || draft.Deleted() {
		return nil, fmt.Errorf("draft %s: %w", *job.DraftID, ErrNotFound)
	}
	if err := Authorize(draft, viewer); err != nil {
		return nil, err
	}

	view := &JobView{Job: job}
	if job.Type != models.JobTypeAnalysisRun {
		return view, nil
	}

	resultID := job.MetaString(models.MetaResultID)
	if resultID == "" && draft.LatestResultID != nil {
		resultID = *draft.LatestResultID
	}
	if resultID == "" {
		return view, nil
	}

	analysis, err := q.repo.Analyses.FindAnalysisByID(ctx, resultID)
	if err != nil {
		logger.Warn("resolve job result", slog.String("jobId", jobID), slog.String("resultId", resultID), slog.Any("err", err))
		return view, nil
	}
	view.Analysis = analysis
	return view, nil
}

package repository

import (
	"context"

	"github.com/garnizeh/cvpipe/internal/models"
)

// Repository interfaces for pipeline entities. Lookups return (nil, nil) when the
// row does not exist; Save is an upsert keyed by primary id.

type DraftRepo interface {
	FindDraftByID(ctx context.Context, id string) (*models.Draft, error)
	SaveDraft(ctx context.Context, d *models.Draft) error
}

type JobRepo interface {
	FindJobByID(ctx context.Context, id string) (*models.Job, error)
	// SaveJob upserts the job. A stored job that is already completed is left
	// untouched unless the incoming job is completed too.
	SaveJob(ctx context.Context, j *models.Job) error
	// FindRecentJobs returns up to limit jobs for the draft and type, newest first.
	FindRecentJobs(ctx context.Context, draftID string, typ models.JobType, limit int) ([]models.Job, error)
}

type AnalysisRepo interface {
	FindAnalysisByID(ctx context.Context, id string) (*models.Analysis, error)
	SaveAnalysis(ctx context.Context, a *models.Analysis) error
}

// Repository groups the repos the pipeline depends on.
type Repository struct {
	Drafts   DraftRepo
	Jobs     JobRepo
	Analyses AnalysisRepo
}

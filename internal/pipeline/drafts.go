package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/pkg/repository"
)

// DefaultDraftTTL is how long a new draft lives before it expires.
const DefaultDraftTTL = 7 * 24 * time.Hour

// Drafts creates and reads drafts on behalf of a requester.
type Drafts struct {
	repo *repository.Repository
	ttl  time.Duration
}

func NewDrafts(repo *repository.Repository, ttl time.Duration) *Drafts {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &Drafts{repo: repo, ttl: ttl}
}

// CreateDraft stores a new draft owned by the requester's user id when set,
// otherwise by its session id.
func (s *Drafts) CreateDraft(ctx context.Context, req models.Requester, in models.AnalysisInputs) (*models.Draft, error) {
	if req.Anonymous() {
		return nil, fmt.Errorf("create draft without identity: %w", ErrUnauthorized)
	}

	expires := now().Add(s.ttl)
	d := &models.Draft{
		ID:        uuid.NewString(),
		Status:    models.DraftStatusDraft,
		ExpiresAt: &expires,
	}
	if req.UserID != "" {
		d.OwnerUserID = &req.UserID
	} else {
		d.OwnerSessionID = &req.SessionID
	}
	if in.ResumeText != nil {
		d.ResumeText = *in.ResumeText
	}
	if in.JobDescription != nil {
		d.JobDescription = *in.JobDescription
	}

	if err := s.repo.Drafts.SaveDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

// GetDraft returns the draft if the requester may see it.
func (s *Drafts) GetDraft(ctx context.Context, draftID string, req models.Requester) (*models.Draft, error) {
	d, err := s.repo.Drafts.FindDraftByID(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("find draft: %w", err)
	}
	if d == nil || d.Deleted() {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err := Authorize(d, req); err != nil {
		return nil, err
	}
	return d, nil
}

package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/pkg/repository"
)

// Store is an in-memory implementation of the pipeline repositories for tests.
// Each Err field, when set, is returned by the matching operation.
type Store struct {
	mu       sync.Mutex
	drafts   map[string]models.Draft
	jobs     map[string]storedJob
	analyses map[string]models.Analysis
	seq      int64

	SaveDraftErr    error
	SaveJobErr      error
	SaveAnalysisErr error
	FindDraftErr    error
}

var _ repository.DraftRepo = (*Store)(nil)
var _ repository.JobRepo = (*Store)(nil)
var _ repository.AnalysisRepo = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		drafts:   map[string]models.Draft{},
		jobs:     map[string]storedJob{},
		analyses: map[string]models.Analysis{},
	}
}

// Repository returns the repo bundle backed by s.
func (s *Store) Repository() *repository.Repository {
	return &repository.Repository{Drafts: s, Jobs: s, Analyses: s}
}

func (s *Store) FindDraftByID(ctx context.Context, id string) (*models.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FindDraftErr != nil {
		return nil, s.FindDraftErr
	}
	d, ok := s.drafts[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) SaveDraft(ctx context.Context, d *models.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveDraftErr != nil {
		return s.SaveDraftErr
	}
	ts := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = ts
	}
	d.UpdatedAt = ts
	if d.Status == "" {
		d.Status = models.DraftStatusDraft
	}
	s.drafts[d.ID] = *d
	return nil
}

// DeleteDraft removes a draft outright, simulating a row vanishing between
// enqueue and processing.
func (s *Store) DeleteDraft(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
}

type storedJob struct {
	models.Job
	seq int64
}

func (s *Store) FindJobByID(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := copyJob(j.Job)
	return &cp, nil
}

func (s *Store) SaveJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveJobErr != nil {
		return s.SaveJobErr
	}
	if cur, ok := s.jobs[j.ID]; ok && cur.Status == models.JobStatusCompleted && j.Status != models.JobStatusCompleted {
		return nil
	}
	ts := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = ts
	}
	j.UpdatedAt = ts
	var seq int64
	if cur, ok := s.jobs[j.ID]; ok {
		seq = cur.seq
	} else {
		s.seq++
		seq = s.seq
	}
	s.jobs[j.ID] = storedJob{Job: copyJob(*j), seq: seq}
	return nil
}

func (s *Store) FindRecentJobs(ctx context.Context, draftID string, typ models.JobType, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []storedJob
	for _, j := range s.jobs {
		if j.DraftID != nil && *j.DraftID == draftID && j.Type == typ {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].CreatedAt.After(matched[b].CreatedAt)
		}
		return matched[a].seq > matched[b].seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]models.Job, 0, len(matched))
	for _, j := range matched {
		out = append(out, copyJob(j.Job))
	}
	return out, nil
}

// Jobs returns a snapshot of every stored job.
func (s *Store) Jobs() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, copyJob(j.Job))
	}
	return out
}

func (s *Store) FindAnalysisByID(ctx context.Context, id string) (*models.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) SaveAnalysis(ctx context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveAnalysisErr != nil {
		return s.SaveAnalysisErr
	}
	if _, ok := s.analyses[a.ID]; ok {
		return nil
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.analyses[a.ID] = *a
	return nil
}

func copyJob(j models.Job) models.Job {
	if j.Meta != nil {
		m := make(map[string]any, len(j.Meta))
		for k, v := range j.Meta {
			m[k] = v
		}
		j.Meta = m
	}
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	return j
}

package models

import (
	"time"
)

type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusInReview  DraftStatus = "in_review"
	DraftStatusReady     DraftStatus = "ready"
	DraftStatusFinalized DraftStatus = "finalized"
)

type JobType string

const (
	JobTypeAnalysisRun JobType = "analysis_run"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job meta keys.
const (
	MetaIdempotencyKey = "idempotencyKey"
	MetaQueue          = "queue"
	MetaResultID       = "resultId"
	MetaAttempt        = "attempt"
)

// Draft is the subject of an analysis: the resume and job description a requester
// works on. Access is decided by OwnerUserID when set, otherwise OwnerSessionID.
type Draft struct {
	ID             string      `json:"id"`
	OwnerUserID    *string     `json:"ownerUserId,omitempty"`
	OwnerSessionID *string     `json:"ownerSessionId,omitempty"`
	Status         DraftStatus `json:"status"`
	ResumeText     string      `json:"resumeText"`
	JobDescription string      `json:"jobDescription"`
	LatestResultID *string     `json:"latestResultId,omitempty"`
	ExpiresAt      *time.Time  `json:"expiresAt,omitempty"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Deleted reports whether the draft was soft-deleted.
func (d *Draft) Deleted() bool {
	return d.DeletedAt != nil
}

// JobError is the failure payload stored on a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is the durable record of one unit of dispatched work. It lives apart from
// the queue transport: the transport only carries the job id.
type Job struct {
	ID         string         `json:"id"`
	DraftID    *string        `json:"draftId,omitempty"`
	UserID     *string        `json:"userId,omitempty"`
	Type       JobType        `json:"type"`
	Status     JobStatus      `json:"status"`
	Meta       map[string]any `json:"meta"`
	Error      *JobError      `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// MetaString returns a string meta value, or "" when absent or not a string.
func (j *Job) MetaString(key string) string {
	if j.Meta == nil {
		return ""
	}
	s, _ := j.Meta[key].(string)
	return s
}

// SetMeta sets a meta value, allocating the map if needed.
func (j *Job) SetMeta(key string, v any) {
	if j.Meta == nil {
		j.Meta = map[string]any{}
	}
	j.Meta[key] = v
}

// Analysis is the immutable result of a completed analysis_run job.
type Analysis struct {
	ID            string         `json:"id"`
	DraftID       string         `json:"draftId"`
	JobID         string         `json:"jobId"`
	ATSScore      int            `json:"atsScore"`
	MatchScore    int            `json:"matchScore"`
	MissingSkills []string       `json:"missingSkills"`
	PanelsAllowed []string       `json:"panelsAllowed"`
	ParsingMeta   map[string]any `json:"parsingMeta"`
	KeywordHits   map[string]any `json:"keywordHits"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// AnalysisMessage is the queue payload for an analysis_run job. It carries the
// inputs so the worker does not re-read them, but the worker still authorizes
// against the stored draft.
type AnalysisMessage struct {
	JobID          string `json:"jobId"`
	DraftID        string `json:"draftId"`
	UserID         string `json:"userId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
	ResumeText     string `json:"resumeText"`
	JobDescription string `json:"jobDescription"`
}

// Requester identifies who is acting. Empty fields mean absent.
type Requester struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Anonymous reports whether neither identifier is set.
func (r Requester) Anonymous() bool {
	return r.UserID == "" && r.SessionID == ""
}

// AnalysisInputs are the optional free-text inputs of a run request.
type AnalysisInputs struct {
	ResumeText     *string `json:"resumeText,omitempty"`
	JobDescription *string `json:"jobDescription,omitempty"`
}

package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/internal/pipeline"
)

// JobStatus answers job status queries.
type JobStatus interface {
	GetJobWithResult(ctx context.Context, jobID string, viewer models.Requester) (*pipeline.JobView, error)
}

type JobsHandler struct {
	status JobStatus
}

func NewJobsHandler(s JobStatus) *JobsHandler {
	return &JobsHandler{status: s}
}

type jobResult struct {
	Analysis *models.Analysis `json:"analysis"`
}

type jobResponse struct {
	Data struct {
		Job    *models.Job `json:"job"`
		Result *jobResult  `json:"result,omitempty"`
	} `json:"data"`
}

func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.status.GetJobWithResult(r.Context(), mux.Vars(r)["jobId"], RequesterFromContext(r.Context()))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	var resp jobResponse
	resp.Data.Job = view.Job
	if view.Analysis != nil {
		resp.Data.Result = &jobResult{Analysis: view.Analysis}
	}
	writeJSON(w, resp, http.StatusOK)
}

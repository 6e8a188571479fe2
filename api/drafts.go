package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/internal/pipeline"
)

// maxInputBytes bounds request bodies carrying resume and job texts.
const maxInputBytes = 1 << 20

// DraftService creates and reads drafts.
type DraftService interface {
	CreateDraft(ctx context.Context, req models.Requester, in models.AnalysisInputs) (*models.Draft, error)
	GetDraft(ctx context.Context, draftID string, req models.Requester) (*models.Draft, error)
}

// RunDispatcher starts analysis runs.
type RunDispatcher interface {
	EnqueueRun(ctx context.Context, draftID string, req models.Requester, in models.AnalysisInputs, idempotencyKey string) (pipeline.RunReceipt, error)
}

type DraftsHandler struct {
	drafts     DraftService
	dispatcher RunDispatcher
}

func NewDraftsHandler(ds DraftService, rd RunDispatcher) *DraftsHandler {
	return &DraftsHandler{drafts: ds, dispatcher: rd}
}

type draftResponse struct {
	Data struct {
		Draft *models.Draft `json:"draft"`
	} `json:"data"`
}

type runResponse struct {
	Data struct {
		JobID string `json:"jobId"`
	} `json:"data"`
	Meta struct {
		IdempotentReused bool `json:"idempotentReused"`
	} `json:"meta"`
}

func (h *DraftsHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInputs(r)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	d, err := h.drafts.CreateDraft(r.Context(), RequesterFromContext(r.Context()), in)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	var resp draftResponse
	resp.Data.Draft = d
	writeJSON(w, resp, http.StatusCreated)
}

func (h *DraftsHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.drafts.GetDraft(r.Context(), mux.Vars(r)["draftId"], RequesterFromContext(r.Context()))
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	var resp draftResponse
	resp.Data.Draft = d
	writeJSON(w, resp, http.StatusOK)
}

// RunAnalysis queues an analysis run for the draft and answers 202 with the
// job id; clients poll the job for the result.
func (h *DraftsHandler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInputs(r)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	rec, err := h.dispatcher.EnqueueRun(r.Context(), mux.Vars(r)["draftId"], RequesterFromContext(r.Context()), in, key)
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	var resp runResponse
	resp.Data.JobID = rec.JobID
	resp.Meta.IdempotentReused = rec.Reused
	writeJSON(w, resp, http.StatusAccepted)
}

// decodeInputs reads the optional text inputs. An empty body means no inputs.
func decodeInputs(r *http.Request) (models.AnalysisInputs, error) {
	var in models.AnalysisInputs
	if r.Body == nil {
		return in, nil
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxInputBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return models.AnalysisInputs{}, nil
		}
		return models.AnalysisInputs{}, fmt.Errorf("%w: invalid request body: %w", pipeline.ErrValidation, err)
	}
	return in, nil
}

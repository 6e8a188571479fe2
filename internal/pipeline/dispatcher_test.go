package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/internal/pipeline"
	"github.com/garnizeh/cvpipe/internal/queue"
	"github.com/garnizeh/cvpipe/pkg/repository/mock"
)

func newDispatcher(store *mock.Store, tr queue.Transport) *pipeline.Dispatcher {
	return pipeline.NewDispatcher(store.Repository(), tr, pipeline.DispatcherConfig{})
}

func TestEnqueueRun_CreatesQueuedJobAndMessage(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{}
	draft := sessionDraft(t, store, "s1")

	rec, err := newDispatcher(store, tr).EnqueueRun(ctx, draft.ID, models.Requester{SessionID: "s1"},
		models.AnalysisInputs{JobDescription: ptr("go and kafka")}, "")
	require.NoError(t, err)
	assert.False(t, rec.Reused)

	job, err := store.FindJobByID(ctx, rec.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.JobTypeAnalysisRun, job.Type)
	assert.Equal(t, draft.ID, *job.DraftID)
	assert.Nil(t, job.UserID)
	assert.Equal(t, pipeline.DefaultQueue, job.MetaString(models.MetaQueue))
	assert.Empty(t, job.MetaString(models.MetaIdempotencyKey))

	got, _ := store.FindDraftByID(ctx, draft.ID)
	assert.Equal(t, models.DraftStatusInReview, got.Status)
	assert.Equal(t, "go and kafka", got.JobDescription)

	sent := tr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, pipeline.DefaultQueue, sent[0].queue)
	assert.Equal(t, rec.JobID, sent[0].opts.MessageID)
	assert.Equal(t, 3, sent[0].opts.Attempts)
	assert.Equal(t, time.Second, sent[0].opts.Backoff)

	var msg models.AnalysisMessage
	require.NoError(t, json.Unmarshal(sent[0].payload, &msg))
	assert.Equal(t, models.AnalysisMessage{
		JobID:          rec.JobID,
		DraftID:        draft.ID,
		SessionID:      "s1",
		ResumeText:     "go developer with sql",
		JobDescription: "go and kafka",
	}, msg)
}

func TestEnqueueRun_IdempotentReuse(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{}
	draft := sessionDraft(t, store, "s1")
	d := newDispatcher(store, tr)
	req := models.Requester{SessionID: "s1"}

	first, err := d.EnqueueRun(ctx, draft.ID, req, models.AnalysisInputs{}, "k1")
	require.NoError(t, err)
	second, err := d.EnqueueRun(ctx, draft.ID, req, models.AnalysisInputs{}, "k1")
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Len(t, tr.sent(), 1)
	assert.Len(t, store.Jobs(), 1)

	third, err := d.EnqueueRun(ctx, draft.ID, req, models.AnalysisInputs{}, "k2")
	require.NoError(t, err)
	assert.False(t, third.Reused)
	assert.NotEqual(t, first.JobID, third.JobID)
}

func TestEnqueueRun_WithoutKeyCreatesDistinctJobs(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{}
	draft := sessionDraft(t, store, "s1")
	d := newDispatcher(store, tr)

	a, err := d.EnqueueRun(ctx, draft.ID, models.Requester{SessionID: "s1"}, models.AnalysisInputs{}, "")
	require.NoError(t, err)
	b, err := d.EnqueueRun(ctx, draft.ID, models.Requester{SessionID: "s1"}, models.AnalysisInputs{}, "")
	require.NoError(t, err)

	assert.NotEqual(t, a.JobID, b.JobID)
	assert.Len(t, tr.sent(), 2)
}

func TestEnqueueRun_KeyOutsideWindowIsNotReused(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{}
	draft := sessionDraft(t, store, "s1")
	d := pipeline.NewDispatcher(store.Repository(), tr, pipeline.DispatcherConfig{IdempotencyWindow: 3})
	req := models.Requester{SessionID: "s1"}

	first, err := d.EnqueueRun(ctx, draft.ID, req, models.AnalysisInputs{}, "old")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := d.EnqueueRun(ctx, draft.ID, req, models.AnalysisInputs{}, "")
		require.NoError(t, err)
	}

	again, err := d.EnqueueRun(ctx, draft.ID, req, models.AnalysisInputs{}, "old")
	require.NoError(t, err)
	assert.False(t, again.Reused)
	assert.NotEqual(t, first.JobID, again.JobID)
}

func TestEnqueueRun_NotFound(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{}
	d := newDispatcher(store, tr)

	_, err := d.EnqueueRun(ctx, "missing", models.Requester{SessionID: "s1"}, models.AnalysisInputs{}, "")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)

	draft := sessionDraft(t, store, "s1")
	deleted := time.Now()
	draft.DeletedAt = &deleted
	require.NoError(t, store.SaveDraft(ctx, draft))

	_, err = d.EnqueueRun(ctx, draft.ID, models.Requester{SessionID: "s1"}, models.AnalysisInputs{}, "")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
	assert.Empty(t, store.Jobs())
	assert.Empty(t, tr.sent())
}

func TestEnqueueRun_Unauthorized(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{}
	d := newDispatcher(store, tr)

	sd := sessionDraft(t, store, "s1")
	_, err := d.EnqueueRun(ctx, sd.ID, models.Requester{SessionID: "s2"}, models.AnalysisInputs{}, "")
	assert.ErrorIs(t, err, pipeline.ErrUnauthorized)

	ud := userDraft(t, store, "u1")
	_, err = d.EnqueueRun(ctx, ud.ID, models.Requester{UserID: "u2", SessionID: "s1"}, models.AnalysisInputs{}, "")
	assert.ErrorIs(t, err, pipeline.ErrUnauthorized)

	// the owning user wins over a session that also owns the draft
	ud.OwnerSessionID = ptr("s1")
	require.NoError(t, store.SaveDraft(ctx, ud))
	_, err = d.EnqueueRun(ctx, ud.ID, models.Requester{SessionID: "s1"}, models.AnalysisInputs{}, "")
	assert.ErrorIs(t, err, pipeline.ErrUnauthorized)

	rec, err := d.EnqueueRun(ctx, ud.ID, models.Requester{UserID: "u1"}, models.AnalysisInputs{}, "")
	require.NoError(t, err)
	job, _ := store.FindJobByID(ctx, rec.JobID)
	require.NotNil(t, job.UserID)
	assert.Equal(t, "u1", *job.UserID)

	assert.Len(t, tr.sent(), 1)
}

func TestEnqueueRun_TransportFailure(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{err: errors.New("broker unreachable")}
	draft := sessionDraft(t, store, "s1")

	_, err := newDispatcher(store, tr).EnqueueRun(ctx, draft.ID, models.Requester{SessionID: "s1"}, models.AnalysisInputs{}, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrTransport)
	assert.Contains(t, err.Error(), "broker unreachable")

	jobs := store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobStatusFailed, jobs[0].Status)
	assert.NotNil(t, jobs[0].FinishedAt)
	require.NotNil(t, jobs[0].Error)
	assert.Equal(t, pipeline.KindTransportFailure, jobs[0].Error.Kind)
	assert.Contains(t, jobs[0].Error.Message, "broker unreachable")

	got, _ := store.FindDraftByID(ctx, draft.ID)
	assert.Equal(t, models.DraftStatusInReview, got.Status)
}

func TestEnqueueRun_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := mock.NewStore()
	tr := &fakeTransport{}
	draft := sessionDraft(t, store, "s1")
	store.SaveJobErr = errors.New("disk full")

	_, err := newDispatcher(store, tr).EnqueueRun(ctx, draft.ID, models.Requester{SessionID: "s1"}, models.AnalysisInputs{}, "")
	require.Error(t, err)
	assert.Empty(t, tr.sent())
}

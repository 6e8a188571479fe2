package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/garnizeh/cvpipe/internal/models"
	"github.com/garnizeh/cvpipe/internal/queue"
	"github.com/garnizeh/cvpipe/internal/scoring"
	"github.com/garnizeh/cvpipe/pkg/repository/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type enqueued struct {
	queue   string
	payload []byte
	opts    queue.EnqueueOptions
}

// fakeTransport records enqueues; Consume is not supported.
type fakeTransport struct {
	mu  sync.Mutex
	err error
	out []enqueued
}

func (f *fakeTransport) Enqueue(ctx context.Context, q string, payload []byte, opts queue.EnqueueOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, enqueued{queue: q, payload: payload, opts: opts})
	return nil
}

func (f *fakeTransport) Consume(ctx context.Context, q string, concurrency int, h queue.Handler) error {
	return errors.New("not supported")
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sent() []enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]enqueued(nil), f.out...)
}

// delivery turns the n-th recorded enqueue into a delivery for attempt.
func (f *fakeTransport) delivery(t *testing.T, n, attempt int) *queue.Delivery {
	t.Helper()
	sent := f.sent()
	require.Greater(t, len(sent), n)
	e := sent[n]
	return &queue.Delivery{ID: e.opts.MessageID, Queue: e.queue, Payload: e.payload, Attempt: attempt, MaxAttempts: e.opts.Attempts}
}

type failingScorer struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (s *failingScorer) Score(ctx context.Context, in scoring.Input) (scoring.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fails {
		return scoring.Result{}, errors.New("scorer unavailable")
	}
	return scoring.Heuristic(in.ResumeText, in.JobDescription), nil
}

func sessionDraft(t *testing.T, store *mock.Store, session string) *models.Draft {
	t.Helper()
	d := &models.Draft{
		ID:             "draft-" + session,
		OwnerSessionID: &session,
		Status:         models.DraftStatusDraft,
		ResumeText:     "go developer with sql",
		JobDescription: "senior go developer",
	}
	require.NoError(t, store.SaveDraft(context.Background(), d))
	return d
}

func userDraft(t *testing.T, store *mock.Store, user string) *models.Draft {
	t.Helper()
	d := &models.Draft{
		ID:          "draft-" + user,
		OwnerUserID: &user,
		Status:      models.DraftStatusDraft,
	}
	require.NoError(t, store.SaveDraft(context.Background(), d))
	return d
}

func ptr(s string) *string { return &s }

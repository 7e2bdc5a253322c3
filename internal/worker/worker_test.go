package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/livepulse/backend/pkg/queue"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Insert(ctx context.Context, jobID string, p queue.AuditPayload) error {
	return m.Called(ctx, jobID, p).Error(0)
}

// scriptedSource hands out the scripted jobs once each, then reports an empty queue.
type scriptedSource struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
}

func (s *scriptedSource) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(time.Millisecond):
		}
		return nil, "", nil
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, queue.QueueAudit, nil
}

func (s *scriptedSource) Retry(ctx context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Attempt++
	s.retried = append(s.retried, job)
	return nil
}

func (s *scriptedSource) retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retried)
}

func auditJob(t *testing.T, action string) (*queue.Job, queue.AuditPayload) {
	t.Helper()
	actor := uuid.New()
	p := queue.AuditPayload{
		QuestionID: uuid.New(),
		SessionID:  uuid.New(),
		Action:     action,
		ActorID:    &actor,
		Status:     "approved",
		At:         time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}
	job, err := queue.NewJob(queue.JobTypeModerationAudit, p)
	require.NoError(t, err)
	return job, p
}

func TestProcessStoresPayload(t *testing.T) {
	job, payload := auditJob(t, "approve")
	writer := &mockWriter{}
	writer.On("Insert", mock.Anything, job.ID, payload).Return(nil)

	p := NewAuditProcessor(writer, &scriptedSource{}, time.Millisecond, nil)
	require.NoError(t, p.Process(context.Background(), job))
	writer.AssertExpectations(t)
}

func TestProcessRejectsBadJobs(t *testing.T) {
	writer := &mockWriter{}
	p := NewAuditProcessor(writer, &scriptedSource{}, time.Millisecond, nil)

	err := p.Process(context.Background(), &queue.Job{ID: "1", Type: "send_email"})
	assert.ErrorContains(t, err, "unknown job type")

	err = p.Process(context.Background(), &queue.Job{ID: "2", Type: queue.JobTypeModerationAudit, Payload: json.RawMessage(`"nope"`)})
	assert.ErrorContains(t, err, "unmarshal payload")

	writer.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunRetriesFailedJobs(t *testing.T) {
	failing, _ := auditJob(t, "hide")
	ok, okPayload := auditJob(t, "pin")
	writer := &mockWriter{}
	writer.On("Insert", mock.Anything, failing.ID, mock.Anything).Return(errors.New("db down"))
	stored := make(chan struct{})
	writer.On("Insert", mock.Anything, ok.ID, okPayload).Return(nil).Run(func(mock.Arguments) { close(stored) })

	source := &scriptedSource{jobs: []*queue.Job{failing, ok}}
	p := NewAuditProcessor(writer, source, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-stored:
	case <-time.After(time.Second):
		t.Fatal("second job was not processed")
	}
	cancel()
	<-done

	require.Equal(t, 1, source.retries())
	assert.Equal(t, 1, source.retried[0].Attempt)
	writer.AssertExpectations(t)
}

package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/queue"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	err     error
	batches [][]models.Reading
}

func (p *fakeProcessor) ProcessBatch(ctx context.Context, batch []models.Reading) error {
	p.batches = append(p.batches, batch)
	return p.err
}

type fakeJobQueue struct {
	completed []queue.Message
	retried   []queue.Message
	failed    []queue.Message

	markCompletedErr error
}

func (q *fakeJobQueue) EnsureGroup(ctx context.Context) error { return nil }

func (q *fakeJobQueue) ReadBatch(ctx context.Context) ([]queue.Message, error) { return nil, nil }

func (q *fakeJobQueue) ReclaimStale(ctx context.Context) ([]queue.Message, error) {
	return nil, nil
}

func (q *fakeJobQueue) MarkCompleted(ctx context.Context, msg queue.Message) error {
	q.completed = append(q.completed, msg)
	return q.markCompletedErr
}

func (q *fakeJobQueue) ScheduleRetry(ctx context.Context, msg queue.Message, cause error) error {
	q.retried = append(q.retried, msg)
	return nil
}

func (q *fakeJobQueue) MarkFailed(ctx context.Context, msg queue.Message, cause error) (queue.FailedJob, error) {
	q.failed = append(q.failed, msg)
	return queue.FailedJob{
		Job:      msg.Job,
		Error:    cause.Error(),
		Attempts: msg.Job.Attempt + 1,
		FailedAt: time.Now().UTC(),
	}, nil
}

func (q *fakeJobQueue) PumpRetries(ctx context.Context) (int, error) { return 0, nil }

type fakeNotifier struct {
	notified []queue.FailedJob
}

func (n *fakeNotifier) NotifyJobFailed(ctx context.Context, fj queue.FailedJob) error {
	n.notified = append(n.notified, fj)
	return nil
}

func message(attempt int) queue.Message {
	return queue.Message{
		StreamID: "1-0",
		Job: queue.Job{
			ID: "job-1",
			Readings: []models.Reading{
				{PatientID: 1, BPM: 72, RecordedAt: time.Now().UTC()},
			},
			Attempt:    attempt,
			EnqueuedAt: time.Now().UTC(),
		},
	}
}

func TestHandle_SuccessMarksCompleted(t *testing.T) {
	q := &fakeJobQueue{}
	p := &fakeProcessor{}
	c := NewBatchConsumer(q, p, nil, 3, time.Minute, zap.NewNop())

	c.handle(context.Background(), message(0))

	require.Len(t, p.batches, 1)
	require.Len(t, q.completed, 1)
	require.Empty(t, q.retried)
	require.Empty(t, q.failed)
}

func TestHandle_FailureSchedulesRetry(t *testing.T) {
	q := &fakeJobQueue{}
	p := &fakeProcessor{err: errors.New("db down")}
	c := NewBatchConsumer(q, p, nil, 3, time.Minute, zap.NewNop())

	c.handle(context.Background(), message(0))

	require.Len(t, q.retried, 1)
	require.Empty(t, q.completed)
	require.Empty(t, q.failed)
}

func TestHandle_SecondFailureStillRetries(t *testing.T) {
	q := &fakeJobQueue{}
	p := &fakeProcessor{err: errors.New("db down")}
	c := NewBatchConsumer(q, p, nil, 3, time.Minute, zap.NewNop())

	// attempt=1：第二次尝试失败，还剩最后一次
	c.handle(context.Background(), message(1))

	require.Len(t, q.retried, 1)
	require.Empty(t, q.failed)
}

func TestHandle_ExhaustedAttemptsMarksFailedAndNotifies(t *testing.T) {
	q := &fakeJobQueue{}
	p := &fakeProcessor{err: errors.New("db down")}
	n := &fakeNotifier{}
	c := NewBatchConsumer(q, p, n, 3, time.Minute, zap.NewNop())

	// attempt=2：第三次（最后一次）尝试失败
	c.handle(context.Background(), message(2))

	require.Empty(t, q.retried)
	require.Len(t, q.failed, 1)
	require.Len(t, n.notified, 1)
	require.Equal(t, "job-1", n.notified[0].Job.ID)
	require.Equal(t, 3, n.notified[0].Attempts)
}

func TestHandle_NilNotifierIsSafe(t *testing.T) {
	q := &fakeJobQueue{}
	p := &fakeProcessor{err: errors.New("db down")}
	c := NewBatchConsumer(q, p, nil, 1, time.Minute, zap.NewNop())

	c.handle(context.Background(), message(0))

	require.Len(t, q.failed, 1)
}

func TestHandle_AckFailureDoesNotRetry(t *testing.T) {
	q := &fakeJobQueue{markCompletedErr: errors.New("redis down")}
	p := &fakeProcessor{}
	c := NewBatchConsumer(q, p, nil, 3, time.Minute, zap.NewNop())

	// 确认失败只记录日志：任务会在可见性超时后回收重放
	c.handle(context.Background(), message(0))

	require.Len(t, q.completed, 1)
	require.Empty(t, q.retried)
	require.Empty(t, q.failed)
}

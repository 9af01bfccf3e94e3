package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

type statusCall struct {
	status   string
	metadata map[string]interface{}
}

type fakeProcessor struct {
	mu       sync.Mutex
	statuses []statusCall
	result   *processor.JobResult
	err      error
	block    bool
}

func (f *fakeProcessor) ProcessJob(ctx context.Context, req *processor.JobRequest) (*processor.JobResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.JobID = req.JobID
	r.Mode = req.Mode
	return &r, nil
}

func (f *fakeProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusCall{status: status, metadata: metadata})
	return nil
}

type recordingPublisher struct {
	events []string
}

func (r *recordingPublisher) Publish(ctx context.Context, jobID string, status string, data map[string]interface{}) {
	r.events = append(r.events, status)
}

func newTestConsumer(p processor.RecognitionProcessorInterface, events StatusPublisher, timeout time.Duration) *Consumer {
	return &Consumer{
		processor: p,
		events:    events,
		config:    &ConsumerConfig{QueueName: "ocr", ProcessingTimeout: timeout},
		logger:    logging.NewLogger("Consumer"),
	}
}

func newTask(t *testing.T, job *JobData) *asynq.Task {
	t.Helper()
	task, err := NewRecognizeTask(job)
	require.NoError(t, err)
	return task
}

func TestParseJobDataDecodesBase64Images(t *testing.T) {
	job, err := ParseJobData([]byte(`{"jobId":"j","mode":"batch","images":["aGVsbG8=","d29ybGQ="],"backend":"tesseract","voting":true}`))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hello"), []byte("world")}, job.Images)
	assert.Equal(t, "batch", job.Mode)
	assert.True(t, job.Voting)

	_, err = ParseJobData([]byte(`{"images":"not-a-list"}`))
	assert.Error(t, err)
}

func TestHandleCompletesJob(t *testing.T) {
	proc := &fakeProcessor{result: &processor.JobResult{
		Backend:     "vision-accurate",
		Confidence:  0.95,
		EnginesUsed: []string{"vision-fast", "vision-accurate"},
		Results:     []*recognition.Result{{Text: "hi", Confidence: 0.95, Backend: "vision-accurate"}},
	}}
	events := &recordingPublisher{}
	c := newTestConsumer(proc, events, time.Second)

	jobID := uuid.NewString()
	err := c.handleRecognizeImages(context.Background(), newTask(t, &JobData{
		JobID:    jobID,
		Images:   [][]byte{[]byte("img")},
		Metadata: map[string]interface{}{"userId": "u-7"},
	}))
	require.NoError(t, err)

	require.Len(t, proc.statuses, 2)
	assert.Equal(t, storage.StatusProcessing, proc.statuses[0].status)
	assert.Equal(t, processor.ModeVoting, proc.statuses[0].metadata["mode"])
	assert.Equal(t, "u-7", proc.statuses[0].metadata["userId"])
	assert.Equal(t, storage.StatusCompleted, proc.statuses[1].status)
	assert.Equal(t, "vision-accurate", proc.statuses[1].metadata["backend"])
	assert.Equal(t, []string{storage.StatusProcessing, storage.StatusCompleted}, events.events)
}

func TestHandleRejectsBadPayloadWithoutRetry(t *testing.T) {
	c := newTestConsumer(&fakeProcessor{}, nil, time.Second)

	err := c.handleRecognizeImages(context.Background(), asynq.NewTask(TaskRecognizeImages, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	proc := &fakeProcessor{}
	c = newTestConsumer(proc, nil, time.Second)
	err = c.handleRecognizeImages(context.Background(), newTask(t, &JobData{JobID: uuid.NewString()}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	require.Len(t, proc.statuses, 1)
	assert.Equal(t, storage.StatusFailed, proc.statuses[0].status)
	assert.Equal(t, string(apperrors.ErrorInvalidJob), proc.statuses[0].metadata["errorCode"])
}

func TestHandlePermanentAndTransientFailures(t *testing.T) {
	proc := &fakeProcessor{err: apperrors.NewBackendNotFoundError("paddle", []string{"tesseract"})}
	c := newTestConsumer(proc, nil, time.Second)

	job := &JobData{JobID: uuid.NewString(), Mode: processor.ModeSingle, Backend: "paddle", Images: [][]byte{[]byte("img")}}
	err := c.handleRecognizeImages(context.Background(), newTask(t, job))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, string(apperrors.ErrorBackendNotFound), proc.statuses[1].metadata["errorCode"])

	proc = &fakeProcessor{err: apperrors.NewAllBackendsFailedError(map[string]string{"a": "x", "b": "y"})}
	c = newTestConsumer(proc, nil, time.Second)
	job.JobID = uuid.NewString()
	job.Mode = processor.ModeVoting
	err = c.handleRecognizeImages(context.Background(), newTask(t, job))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrorAllBackendsFailed))
}

func TestHandleTimeout(t *testing.T) {
	proc := &fakeProcessor{block: true}
	events := &recordingPublisher{}
	c := newTestConsumer(proc, events, 30*time.Millisecond)

	err := c.handleRecognizeImages(context.Background(), newTask(t, &JobData{
		JobID:  uuid.NewString(),
		Images: [][]byte{[]byte("img")},
	}))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrorProcessingTimeout))
	assert.Equal(t, string(apperrors.ErrorProcessingTimeout), proc.statuses[1].metadata["errorCode"])
	assert.Equal(t, []string{storage.StatusProcessing, storage.StatusFailed}, events.events)
}

func TestNewRecognizeTaskUsesJobIDAsTaskID(t *testing.T) {
	task, err := NewRecognizeTask(&JobData{JobID: "abc", Images: [][]byte{[]byte("x")}})
	require.NoError(t, err)
	assert.Equal(t, TaskRecognizeImages, task.Type())

	var decoded JobData
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, "abc", decoded.JobID)
}

func TestNewJobEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	ev := newJobEvent("job-1", storage.StatusCompleted, map[string]interface{}{"confidence": 0.9}, at)

	assert.Equal(t, "job:completed", ev.Event)
	assert.Equal(t, "2026-03-01T11:00:00Z", ev.Timestamp)
	assert.Equal(t, 0.9, ev.Data["confidence"])
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	_, err := NewConsumer(&ConsumerConfig{QueueName: "ocr", Processor: &fakeProcessor{}})
	assert.Error(t, err)
	_, err = NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", Processor: &fakeProcessor{}})
	assert.Error(t, err)
	_, err = NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "ocr"})
	assert.Error(t, err)
}

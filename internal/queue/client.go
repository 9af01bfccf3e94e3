package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry  = 3
	defaultRetention = 24 * time.Hour
)

// TaskClient submits recognition jobs and reads back their results
type TaskClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

// NewTaskClient creates a client for the given queue
func NewTaskClient(redisURL, queueName string) (*TaskClient, error) {
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &TaskClient{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queueName,
	}, nil
}

// Enqueue submits job, assigning a job ID when it has none. Completed results are retained for a day.
func (c *TaskClient) Enqueue(ctx context.Context, job *JobData, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	defaults := []asynq.Option{
		asynq.Queue(c.queue),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Retention(defaultRetention),
	}

	task, err := NewRecognizeTask(job, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", job.JobID, err)
	}
	return info, nil
}

// Wait polls until the task completes or is archived after exhausting retries
func (c *TaskClient) Wait(ctx context.Context, taskID string, interval time.Duration) (*TaskResult, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := c.inspector.GetTaskInfo(c.queue, taskID)
		if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("failed to inspect task %s: %w", taskID, err)
		}

		if info != nil {
			switch info.State {
			case asynq.TaskStateCompleted:
				var result TaskResult
				if err := json.Unmarshal(info.Result, &result); err != nil {
					return nil, fmt.Errorf("failed to decode result of task %s: %w", taskID, err)
				}
				return &result, nil
			case asynq.TaskStateArchived:
				return nil, fmt.Errorf("task %s failed: %s", taskID, info.LastErr)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the Redis connections
func (c *TaskClient) Close() error {
	if err := c.inspector.Close(); err != nil {
		return err
	}
	return c.client.Close()
}

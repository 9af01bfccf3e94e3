package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// EventPublisher publishes job status events on <queue>:events and tracks
// in-flight and finished job IDs in Redis sets for GetStats
type EventPublisher struct {
	client    *redis.Client
	queueName string
	logger    *logging.Logger
}

// JobEvent is the message published for each status transition
type JobEvent struct {
	Event     string                 `json:"event"`
	JobID     string                 `json:"jobId"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEventPublisher connects to Redis
func NewEventPublisher(redisURL, queueName string) (*EventPublisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &EventPublisher{
		client:    client,
		queueName: queueName,
		logger:    logging.NewLogger("Events"),
	}, nil
}

func (e *EventPublisher) key(suffix string) string {
	return fmt.Sprintf("%s:%s", e.queueName, suffix)
}

// Publish implements StatusPublisher. Failures are logged; events are best effort.
func (e *EventPublisher) Publish(ctx context.Context, jobID string, status string, data map[string]interface{}) {
	pipe := e.client.TxPipeline()
	switch status {
	case storage.StatusProcessing:
		pipe.SAdd(ctx, e.key("processing"), jobID)
	case storage.StatusCompleted, storage.StatusFailed:
		pipe.SRem(ctx, e.key("processing"), jobID)
		pipe.SAdd(ctx, e.key(status), jobID)
	}

	payload, err := json.Marshal(newJobEvent(jobID, status, data, time.Now()))
	if err != nil {
		e.logger.Warn("Failed to encode job event", "jobId", jobID, "error", err)
		return
	}
	pipe.Publish(ctx, e.key("events"), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		e.logger.Warn("Failed to publish job event", "jobId", jobID, "status", status, "error", err)
	}
}

func newJobEvent(jobID, status string, data map[string]interface{}, at time.Time) JobEvent {
	return JobEvent{
		Event:     "job:" + status,
		JobID:     jobID,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      data,
	}
}

// GetStats returns job counts per state
func (e *EventPublisher) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, state := range []string{storage.StatusProcessing, storage.StatusCompleted, storage.StatusFailed} {
		n, err := e.client.SCard(ctx, e.key(state)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s count: %w", state, err)
		}
		stats[state] = n
	}
	return stats, nil
}

// Close closes the Redis connection
func (e *EventPublisher) Close() error {
	return e.client.Close()
}

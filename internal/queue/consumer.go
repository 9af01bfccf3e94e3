/**
 * Queue Consumer for the OCR Worker
 *
 * Consumes recognize-images tasks from Redis via Asynq and runs them through
 * the recognition processor. Job state is persisted on every transition and
 * published as an event for listeners.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// DefaultProcessingTimeout bounds one job when the config leaves it unset
const DefaultProcessingTimeout = 5 * time.Minute

// StatusPublisher announces job status transitions
type StatusPublisher interface {
	Publish(ctx context.Context, jobID string, status string, data map[string]interface{})
}

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.RecognitionProcessorInterface
	events    StatusPublisher
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.RecognitionProcessorInterface
	Events            StatusPublisher
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("Consumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Warn("Task processing error",
					"type", task.Type(),
					"retry", retried,
					"maxRetry", maxRetry,
					"error", err)
			}),
			Logger: logging.NewLogger("asynq").Entry(),
		},
	)

	consumer := &Consumer{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		events:    cfg.Events,
		config:    cfg,
		logger:    logger,
	}

	consumer.mux.HandleFunc(TaskRecognizeImages, consumer.handleRecognizeImages)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleRecognizeImages processes a recognition job
func (c *Consumer) handleRecognizeImages(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	job, err := ParseJobData(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	req := job.toRequest()
	if err := req.Normalize(); err != nil {
		c.fail(ctx, req.JobID, err, 0)
		return fmt.Errorf("invalid job: %v: %w", err, asynq.SkipRetry)
	}

	log := c.logger.With("jobId", req.JobID, "mode", req.Mode)
	log.Info("Processing recognition task", "images", len(req.Images))

	statusMeta := map[string]interface{}{
		"mode":       req.Mode,
		"imageCount": len(req.Images),
	}
	for k, v := range req.Metadata {
		statusMeta[k] = v
	}
	if err := c.processor.UpdateJobStatus(ctx, req.JobID, storage.StatusProcessing, 0, statusMeta); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}
	c.publish(ctx, req.JobID, storage.StatusProcessing, nil)

	timeout := c.config.ProcessingTimeout
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.processor.ProcessJob(processCtx, req)
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) {
			log.Warn("Processing timed out", "duration", duration, "timeout", timeout)
			timeoutErr := apperrors.NewProcessingTimeoutError(req.JobID, timeout, err)
			c.fail(ctx, req.JobID, timeoutErr, duration)
			return fmt.Errorf("processing timeout: %w", timeoutErr)
		}

		log.Warn("Processing failed", "duration", duration, "error", err)
		c.fail(ctx, req.JobID, err, duration)

		if permanent(err) {
			return fmt.Errorf("recognition failed: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("recognition failed: %w", err)
	}

	if err := c.processor.UpdateJobStatus(ctx, req.JobID, storage.StatusCompleted, 100, map[string]interface{}{
		"mode":           result.Mode,
		"backend":        result.Backend,
		"confidence":     result.Confidence,
		"enginesUsed":    result.EnginesUsed,
		"imageCount":     len(result.Results),
		"processingTime": duration.Milliseconds(),
		"results":        result.Results,
		"cacheHits":      result.CacheHits,
	}); err != nil {
		log.Warn("Failed to update status to completed", "error", err)
	}

	if w := task.ResultWriter(); w != nil {
		data, err := json.Marshal(newTaskResult(result))
		if err != nil {
			log.Warn("Failed to encode task result", "error", err)
		} else if _, err := w.Write(data); err != nil {
			log.Warn("Failed to write task result", "error", err)
		}
	}

	c.publish(ctx, req.JobID, storage.StatusCompleted, map[string]interface{}{
		"backend":    result.Backend,
		"confidence": result.Confidence,
	})

	log.Info("Recognition task completed",
		"duration", duration,
		"backend", result.Backend,
		"confidence", result.Confidence)

	return nil
}

// fail records a failed job; it is a no-op for jobs without a usable ID
func (c *Consumer) fail(ctx context.Context, jobID string, err error, duration time.Duration) {
	if _, parseErr := uuid.Parse(jobID); parseErr != nil {
		return
	}

	code := string(apperrors.CodeOf(err))
	meta := map[string]interface{}{
		"error":          err.Error(),
		"processingTime": duration.Milliseconds(),
	}
	if code != "" {
		meta["errorCode"] = code
	}

	if updateErr := c.processor.UpdateJobStatus(ctx, jobID, storage.StatusFailed, 100, meta); updateErr != nil {
		c.logger.Warn("Failed to update status to failed", "jobId", jobID, "error", updateErr)
	}
	c.publish(ctx, jobID, storage.StatusFailed, map[string]interface{}{"error": err.Error(), "errorCode": code})
}

func (c *Consumer) publish(ctx context.Context, jobID, status string, data map[string]interface{}) {
	if c.events != nil {
		c.events.Publish(ctx, jobID, status, data)
	}
}

// permanent reports errors a retry cannot fix
func permanent(err error) bool {
	for _, code := range []apperrors.ErrorCode{
		apperrors.ErrorInvalidJob,
		apperrors.ErrorInvalidImage,
		apperrors.ErrorBackendNotFound,
		apperrors.ErrorBackendUnavailable,
	} {
		if apperrors.IsCode(err, code) {
			return true
		}
	}
	return false
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"timeout":     c.config.ProcessingTimeout.String(),
	}
}

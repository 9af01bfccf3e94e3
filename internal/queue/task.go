package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

// TaskRecognizeImages is the asynq task type handled by the worker
const TaskRecognizeImages = "recognize-images"

// JobData is the task payload. Images travel base64 encoded in JSON.
type JobData struct {
	JobID    string                 `json:"jobId"`
	Mode     string                 `json:"mode,omitempty"`
	Images   [][]byte               `json:"images"`
	Backend  string                 `json:"backend,omitempty"`
	Backends []string               `json:"backends,omitempty"`
	Language string                 `json:"language,omitempty"`
	Enhanced bool                   `json:"enhanced,omitempty"`
	Voting   bool                   `json:"voting,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TaskResult is written to the task's result slot when a job completes
type TaskResult struct {
	JobID            string                `json:"jobId"`
	Mode             string                `json:"mode"`
	Backend          string                `json:"backend,omitempty"`
	Confidence       float64               `json:"confidence"`
	EnginesUsed      []string              `json:"enginesUsed,omitempty"`
	CacheHits        int                   `json:"cacheHits"`
	ProcessingTimeMs int64                 `json:"processingTimeMs"`
	Results          []*recognition.Result `json:"results"`
}

// ParseJobData decodes a task payload
func ParseJobData(payload []byte) (*JobData, error) {
	var job JobData
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	return &job, nil
}

// NewRecognizeTask builds a task for job; the job ID doubles as the task ID so duplicates are rejected
func NewRecognizeTask(job *JobData, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job data: %w", err)
	}
	if job.JobID != "" {
		opts = append([]asynq.Option{asynq.TaskID(job.JobID)}, opts...)
	}
	return asynq.NewTask(TaskRecognizeImages, payload, opts...), nil
}

func (j *JobData) toRequest() *processor.JobRequest {
	return &processor.JobRequest{
		JobID:    j.JobID,
		Mode:     j.Mode,
		Images:   j.Images,
		Backend:  j.Backend,
		Backends: j.Backends,
		Language: j.Language,
		Enhanced: j.Enhanced,
		Voting:   j.Voting,
		Metadata: j.Metadata,
	}
}

func newTaskResult(r *processor.JobResult) *TaskResult {
	return &TaskResult{
		JobID:            r.JobID,
		Mode:             r.Mode,
		Backend:          r.Backend,
		Confidence:       r.Confidence,
		EnginesUsed:      r.EnginesUsed,
		CacheHits:        r.CacheHits,
		ProcessingTimeMs: r.ProcessingTimeMs,
		Results:          r.Results,
	}
}

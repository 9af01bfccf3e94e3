/**
 * Recognition Processor for the OCR Worker
 *
 * Turns a queued job into recognition results:
 * - single: one image, one named backend
 * - voting: one image, all (or the requested) backends, consensus selection
 * - batch:  many images, per-item isolation, either path per item
 *
 * Results are looked up in and written to the result cache per image, and
 * job state is persisted through the job store.
 */

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocr-worker/internal/cache"
	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

// Job modes
const (
	ModeSingle = "single"
	ModeVoting = "voting"
	ModeBatch  = "batch"
)

// RecognitionProcessorInterface defines the interface for job processing
type RecognitionProcessorInterface interface {
	ProcessJob(ctx context.Context, req *JobRequest) (*JobResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// ResultCache is the cache the processor reads through
type ResultCache interface {
	Get(ctx context.Context, key string) (*recognition.Result, bool, error)
	Set(ctx context.Context, key string, result *recognition.Result) error
}

// JobStore persists job state
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Orchestrator *recognition.Orchestrator
	Batch        *recognition.BatchDriver
	Preprocessor recognition.Preprocessor
	Cache        ResultCache
	Store        JobStore
}

// JobRequest represents a recognition job
type JobRequest struct {
	JobID    string
	Mode     string
	Images   [][]byte
	Backend  string
	Backends []string
	Language string
	Enhanced bool
	// Voting selects the voting path for each item of a batch job
	Voting   bool
	Metadata map[string]interface{}
}

// JobResult represents the outcome of a job
type JobResult struct {
	JobID            string
	Mode             string
	Results          []*recognition.Result
	Backend          string
	Confidence       float64
	EnginesUsed      []string
	CacheHits        int
	ProcessingTimeMs int64
}

// RecognitionProcessor handles recognition jobs
type RecognitionProcessor struct {
	orchestrator *recognition.Orchestrator
	batch        *recognition.BatchDriver
	preprocessor recognition.Preprocessor
	cache        ResultCache
	store        JobStore
	logger       *logging.Logger
}

// NewRecognitionProcessor creates a new processor
func NewRecognitionProcessor(cfg *ProcessorConfig) (*RecognitionProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	batch := cfg.Batch
	if batch == nil {
		batch = recognition.NewBatchDriver(cfg.Orchestrator, &recognition.BatchConfig{Preprocessor: cfg.Preprocessor})
	}

	return &RecognitionProcessor{
		orchestrator: cfg.Orchestrator,
		batch:        batch,
		preprocessor: cfg.Preprocessor,
		cache:        cfg.Cache,
		store:        cfg.Store,
		logger:       logging.NewLogger("Processor"),
	}, nil
}

// Normalize fills in defaults and rejects jobs that cannot run
func (req *JobRequest) Normalize() error {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	} else if _, err := uuid.Parse(req.JobID); err != nil {
		return apperrors.NewInvalidJobError(req.JobID, "job ID must be a UUID")
	}

	if len(req.Images) == 0 {
		return apperrors.NewInvalidJobError(req.JobID, "no images supplied")
	}

	if req.Mode == "" {
		switch {
		case len(req.Images) > 1:
			req.Mode = ModeBatch
		case req.Backend == "":
			req.Mode = ModeVoting
		default:
			req.Mode = ModeSingle
		}
	}

	switch req.Mode {
	case ModeSingle:
		if req.Backend == "" {
			return apperrors.NewInvalidJobError(req.JobID, "single mode requires a backend")
		}
		fallthrough
	case ModeVoting:
		if len(req.Images) != 1 {
			return apperrors.NewInvalidJobError(req.JobID,
				fmt.Sprintf("%s mode takes exactly one image, got %d", req.Mode, len(req.Images)))
		}
	case ModeBatch:
		if !req.Voting && req.Backend == "" {
			return apperrors.NewInvalidJobError(req.JobID, "batch mode requires a backend or voting")
		}
	default:
		return apperrors.NewInvalidJobError(req.JobID, fmt.Sprintf("unknown mode %q", req.Mode))
	}

	return nil
}

// ProcessJob runs a job through the recognition pipeline
func (p *RecognitionProcessor) ProcessJob(ctx context.Context, req *JobRequest) (*JobResult, error) {
	startTime := time.Now()

	if err := req.Normalize(); err != nil {
		return nil, err
	}

	log := p.logger.With("jobId", req.JobID, "mode", req.Mode)
	log.Info("Processing recognition job", "images", len(req.Images), "backend", req.Backend, "language", req.Language)

	var (
		result *JobResult
		err    error
	)
	if req.Mode == ModeBatch {
		result = p.processBatch(ctx, req)
	} else {
		result, err = p.processOne(ctx, req)
	}
	if err != nil {
		log.Warn("Recognition job failed", "error", err, "errorCode", apperrors.CodeOf(err))
		return nil, err
	}

	result.JobID = req.JobID
	result.Mode = req.Mode
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	log.Info("Recognition job complete",
		"backend", result.Backend,
		"confidence", result.Confidence,
		"cacheHits", result.CacheHits,
		"durationMs", result.ProcessingTimeMs)

	return result, nil
}

// processOne handles single and voting jobs; selection errors are returned typed
func (p *RecognitionProcessor) processOne(ctx context.Context, req *JobRequest) (*JobResult, error) {
	image := req.Images[0]
	key := cache.Key(image, p.settings(req))

	if cached, ok := p.cacheGet(ctx, key); ok {
		return summarize([]*recognition.Result{cached}, 1), nil
	}

	request := recognition.Request{Image: image, Language: req.Language, Enhanced: req.Enhanced}
	if req.Enhanced && p.preprocessor != nil {
		prepared, info, err := p.preprocessor.Preprocess(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		request.Image = prepared
		request.Preprocessing = info
	}

	var (
		res *recognition.Result
		err error
	)
	if req.Mode == ModeVoting {
		res, err = p.orchestrator.RecognizeWithVoting(ctx, request, req.Backends)
	} else {
		res, err = p.orchestrator.RecognizeSingle(ctx, request, req.Backend)
	}
	if err != nil {
		return nil, err
	}

	p.cacheSet(ctx, key, res)
	return summarize([]*recognition.Result{res}, 0), nil
}

// processBatch serves cached items directly and sends the rest through the batch driver
func (p *RecognitionProcessor) processBatch(ctx context.Context, req *JobRequest) *JobResult {
	settings := p.settings(req)
	results := make([]*recognition.Result, len(req.Images))
	keys := make([]string, len(req.Images))

	var (
		missing   [][]byte
		positions []int
		hits      int
	)
	for i, image := range req.Images {
		keys[i] = cache.Key(image, settings)
		if cached, ok := p.cacheGet(ctx, keys[i]); ok {
			cached.Index = i
			results[i] = cached
			hits++
			continue
		}
		missing = append(missing, image)
		positions = append(positions, i)
	}

	if len(missing) > 0 {
		fresh := p.batch.Recognize(ctx, recognition.BatchRequest{
			Images:   missing,
			Backend:  req.Backend,
			Language: req.Language,
			Enhanced: req.Enhanced,
			Voting:   req.Voting,
			Backends: req.Backends,
		})
		for j, res := range fresh {
			i := positions[j]
			res.Index = i
			results[i] = res
			p.cacheSet(ctx, keys[i], res)
		}
	}

	return summarize(results, hits)
}

func (p *RecognitionProcessor) settings(req *JobRequest) cache.Settings {
	s := cache.Settings{Mode: req.Mode, Language: req.Language, Enhanced: req.Enhanced}
	switch {
	case req.Mode == ModeVoting || (req.Mode == ModeBatch && req.Voting):
		s.Mode = ModeVoting
		s.Backends = req.Backends
	default:
		s.Mode = ModeSingle
		s.Backends = []string{req.Backend}
	}
	return s
}

func (p *RecognitionProcessor) cacheGet(ctx context.Context, key string) (*recognition.Result, bool) {
	if p.cache == nil {
		return nil, false
	}
	res, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn("Result cache lookup failed", "key", key, "error", err)
		return nil, false
	}
	return res, ok
}

func (p *RecognitionProcessor) cacheSet(ctx context.Context, key string, res *recognition.Result) {
	if p.cache == nil || res.Failed() {
		return
	}
	if err := p.cache.Set(ctx, key, res); err != nil {
		p.logger.Warn("Result cache write failed", "key", key, "error", err)
	}
}

// summarize derives the job-level backend, confidence and engines from per-image results
func summarize(results []*recognition.Result, hits int) *JobResult {
	out := &JobResult{Results: results, CacheHits: hits}

	seen := make(map[string]bool)
	succeeded := 0
	total := 0.0
	for _, r := range results {
		if r.Failed() {
			continue
		}
		succeeded++
		total += r.Confidence

		engines := []string{r.Backend}
		if r.Voting != nil {
			engines = r.Voting.EnginesUsed
		}
		for _, e := range engines {
			if !seen[e] {
				seen[e] = true
				out.EnginesUsed = append(out.EnginesUsed, e)
			}
		}
	}

	if succeeded > 0 {
		out.Confidence = total / float64(succeeded)
	}
	if len(results) == 1 {
		out.Backend = results[0].Backend
	} else if len(out.EnginesUsed) == 1 {
		out.Backend = out.EnginesUsed[0]
	}
	return out
}

// UpdateJobStatus updates job status in the job store
func (p *RecognitionProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: map[string]interface{}{"progress": progress},
	}

	if status == storage.StatusProcessing {
		update.Metadata["backends"] = p.orchestrator.DescribeBackends()
	}

	for k, v := range metadata {
		switch k {
		case "mode":
			update.Mode, _ = v.(string)
		case "backend":
			update.Backend, _ = v.(string)
		case "confidence":
			update.Confidence, _ = v.(float64)
		case "enginesUsed":
			update.EnginesUsed, _ = v.([]string)
		case "imageCount":
			update.ImageCount, _ = v.(int)
		case "processingTime":
			update.ProcessingTimeMs, _ = v.(int64)
		case "results":
			update.Results, _ = v.([]*recognition.Result)
		case "errorCode":
			update.ErrorCode, _ = v.(string)
		case "error":
			update.ErrorMessage, _ = v.(string)
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
		default:
			update.Metadata[k] = v
		}
	}

	if err := p.store.UpdateJobStatus(ctx, update); err != nil {
		return apperrors.NewStorageFailedError(jobID, err)
	}
	return nil
}

package recognition

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// BatchRequest describes a batch of images recognized with the same settings
type BatchRequest struct {
	Images   [][]byte
	Backend  string
	Language string
	Enhanced bool
	// Voting switches every item to the ensemble path over Backends
	Voting   bool
	Backends []string
}

// BatchDriver applies the orchestrator to a sequence of images, isolating failures per item
type BatchDriver struct {
	orchestrator *Orchestrator
	preprocessor Preprocessor
	concurrency  int
	logger       *logging.Logger
}

// BatchConfig holds batch driver configuration
type BatchConfig struct {
	// Preprocessor runs on each item when the request is Enhanced; nil skips it
	Preprocessor Preprocessor
	// Concurrency bounds parallel items; values below 1 mean sequential
	Concurrency int
}

// NewBatchDriver creates a new batch driver
func NewBatchDriver(orchestrator *Orchestrator, cfg *BatchConfig) *BatchDriver {
	d := &BatchDriver{
		orchestrator: orchestrator,
		concurrency:  1,
		logger:       logging.NewLogger("BatchDriver"),
	}
	if cfg != nil {
		d.preprocessor = cfg.Preprocessor
		if cfg.Concurrency > 1 {
			d.concurrency = cfg.Concurrency
		}
	}
	return d
}

// Recognize returns exactly one result per input image, in input order.
// A failing item yields an error-tagged result at its index and never aborts the batch.
func (d *BatchDriver) Recognize(ctx context.Context, req BatchRequest) []*Result {
	results := make([]*Result, len(req.Images))
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range req.Images {
		i := i
		g.Go(func() error {
			results[i] = d.recognizeItem(ctx, req, i)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	d.logger.Info("Batch complete",
		"items", len(results),
		"failed", failed,
		"backend", batchLabel(req),
		"duration", time.Since(start))

	return results
}

func (d *BatchDriver) recognizeItem(ctx context.Context, req BatchRequest, index int) (res *Result) {
	label := batchLabel(req)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			res = ErrorResult(label, fmt.Sprintf("panic: %v", rec), time.Since(start).Seconds())
		}
		res.Index = index
	}()

	if err := ctx.Err(); err != nil {
		return ErrorResult(label, err.Error(), 0)
	}

	itemReq := Request{
		Image:    req.Images[index],
		Language: req.Language,
		Enhanced: req.Enhanced,
	}

	if req.Enhanced && d.preprocessor != nil {
		prepared, info, err := d.preprocessor.Preprocess(ctx, req.Images[index])
		if err != nil {
			d.logger.Warn("Preprocessing failed", "index", index, "error", err)
			return ErrorResult(label, fmt.Sprintf("preprocessing failed: %v", err), time.Since(start).Seconds())
		}
		itemReq.Image = prepared
		itemReq.Preprocessing = info
	}

	var err error
	if req.Voting {
		res, err = d.orchestrator.RecognizeWithVoting(ctx, itemReq, req.Backends)
	} else {
		res, err = d.orchestrator.RecognizeSingle(ctx, itemReq, req.Backend)
	}
	if err != nil {
		d.logger.Warn("Batch item failed", "index", index, "error", err)
		return ErrorResult(label, err.Error(), time.Since(start).Seconds())
	}
	return res
}

func batchLabel(req BatchRequest) string {
	if req.Voting {
		return "voting"
	}
	return req.Backend
}

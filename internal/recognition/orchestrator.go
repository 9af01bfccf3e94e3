/**
 * Recognition Orchestrator
 *
 * Two entry points:
 * - RecognizeSingle: one named backend, typed errors for unknown/unavailable names
 * - RecognizeWithVoting: concurrent fan-out to several backends, each with its own
 *   timeout, then consensus over the results that succeeded
 *
 * The orchestrator holds no per-call state; concurrent calls are independent.
 */

package recognition

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// DefaultBackendTimeout bounds one backend invocation during voting
const DefaultBackendTimeout = 60 * time.Second

// OrchestratorConfig holds orchestrator configuration
type OrchestratorConfig struct {
	// BackendTimeout applies to each backend independently in voting mode
	BackendTimeout time.Duration
}

// Orchestrator dispatches recognition requests to registry backends
type Orchestrator struct {
	registry       *Registry
	backendTimeout time.Duration
	logger         *logging.Logger
}

// NewOrchestrator creates a new orchestrator over registry
func NewOrchestrator(registry *Registry, cfg *OrchestratorConfig) *Orchestrator {
	timeout := DefaultBackendTimeout
	if cfg != nil && cfg.BackendTimeout > 0 {
		timeout = cfg.BackendTimeout
	}
	return &Orchestrator{
		registry:       registry,
		backendTimeout: timeout,
		logger:         logging.NewLogger("Orchestrator"),
	}
}

// Registry exposes the backing registry for capability discovery
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// DescribeBackends reports metadata for every registered backend
func (o *Orchestrator) DescribeBackends() map[string]EngineInfo {
	return o.registry.Describe()
}

// RecognizeSingle runs one named backend. Backend-level failures come back as a
// Result with Error set; only selection problems and misuse return an error.
func (o *Orchestrator) RecognizeSingle(ctx context.Context, req Request, backendName string) (*Result, error) {
	backend, ok := o.registry.Get(backendName)
	if !ok {
		return nil, apperrors.NewBackendNotFoundError(backendName, o.registry.Names())
	}
	if !backend.Available() {
		return nil, apperrors.NewBackendUnavailableError(backendName)
	}

	o.logger.Debug("Single-backend recognition", "backend", backendName, "language", req.Language, "enhanced", req.Enhanced)

	res, err := backend.Recognize(ctx, req.Image, req.Language)
	if err != nil {
		return nil, apperrors.NewRecognitionFailedError("", backendName, err)
	}
	if res == nil {
		res = ErrorResult(backendName, "backend returned no result", 0)
	}

	final := res.clone()
	if final.Backend == "" {
		final.Backend = backendName
	}
	final.Preprocessing = req.Preprocessing

	if final.Failed() {
		o.logger.Warn("Backend reported failure", "backend", backendName, "error", final.Error)
	}
	return final, nil
}

// outcome is the result of one voting invocation; reason is set when it is excluded
type outcome struct {
	result *Result
	reason string
}

// RecognizeWithVoting runs every candidate backend concurrently and returns the
// consensus winner. requested narrows the candidates; unknown or unavailable
// names are skipped, and when none remain all available backends are used.
func (o *Orchestrator) RecognizeWithVoting(ctx context.Context, req Request, requested []string) (*Result, error) {
	candidates := o.candidates(requested)

	if len(candidates) == 1 {
		o.logger.Debug("Single candidate, skipping vote", "backend", candidates[0].Name())
		return o.RecognizeSingle(ctx, req, candidates[0].Name())
	}

	start := time.Now()
	outcomes := o.fanOut(ctx, req, candidates)

	// iterate in candidate order so completion order never affects tie-breaks
	pool := make([]Candidate, 0, len(candidates))
	failures := make(map[string]string)
	for i, b := range candidates {
		oc := outcomes[i]
		if oc.reason != "" {
			failures[b.Name()] = oc.reason
			o.logger.Warn("Backend excluded from vote", "backend", b.Name(), "reason", oc.reason)
			continue
		}
		pool = append(pool, Candidate{Backend: b.Name(), Result: oc.result})
	}

	if len(pool) == 0 {
		return nil, apperrors.NewAllBackendsFailedError(failures)
	}

	var winner Candidate
	var score float64
	if len(pool) == 1 {
		winner = pool[0]
		score = roundTo(Score(winner.Result), 3)
	} else {
		var err error
		winner, score, err = SelectBest(pool)
		if err != nil {
			return nil, err
		}
	}

	info := &VotingInfo{
		EnginesUsed:           make([]string, 0, len(pool)),
		TotalEnginesRequested: len(candidates),
		PerEngineSummary:      make(map[string]EngineSummary, len(pool)),
		SelectedEngine:        winner.Backend,
		SelectedScore:         score,
	}
	for _, c := range pool {
		info.EnginesUsed = append(info.EnginesUsed, c.Backend)
		info.PerEngineSummary[c.Backend] = EngineSummary{
			Confidence:     c.Result.Confidence,
			TextLength:     len([]rune(c.Result.Text)),
			ProcessingTime: c.Result.ProcessingTime,
		}
	}

	final := winner.Result.clone()
	if final.Backend == "" {
		final.Backend = winner.Backend
	}
	final.Preprocessing = req.Preprocessing
	info.VotingTime = time.Since(start).Seconds()
	final.Voting = info

	o.logger.Info("Voting complete",
		"selected", winner.Backend,
		"score", score,
		"pool", len(pool),
		"candidates", len(candidates),
		"votingTime", info.VotingTime)

	return final, nil
}

func (o *Orchestrator) candidates(requested []string) []Backend {
	if len(requested) > 0 {
		selected := make([]Backend, 0, len(requested))
		seen := make(map[string]bool, len(requested))
		for _, name := range requested {
			if seen[name] {
				continue
			}
			seen[name] = true

			b, ok := o.registry.Get(name)
			if !ok || !b.Available() {
				o.logger.Warn("Requested backend skipped", "backend", name, "registered", ok)
				continue
			}
			selected = append(selected, b)
		}
		if len(selected) > 0 {
			return selected
		}
		o.logger.Warn("No requested backend is usable, voting across all available backends", "requested", requested)
	}
	return o.registry.AvailableBackends()
}

// fanOut invokes every candidate concurrently; outcomes[i] belongs to candidates[i]
func (o *Orchestrator) fanOut(ctx context.Context, req Request, candidates []Backend) []outcome {
	outcomes := make([]outcome, len(candidates))

	var g errgroup.Group
	g.SetLimit(len(candidates))
	for i, b := range candidates {
		i, b := i, b
		g.Go(func() error {
			outcomes[i] = o.invoke(ctx, b, req)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// invoke runs one backend under its own timeout. A backend that ignores its
// context is abandoned when the deadline passes; its late result is discarded.
func (o *Orchestrator) invoke(ctx context.Context, b Backend, req Request) outcome {
	callCtx, cancel := context.WithTimeout(ctx, o.backendTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{reason: fmt.Sprintf("panic: %v", rec)}
			}
		}()

		res, err := b.Recognize(callCtx, req.Image, req.Language)
		switch {
		case err != nil:
			done <- outcome{reason: err.Error()}
		case res == nil:
			done <- outcome{reason: "backend returned no result"}
		case res.Failed():
			done <- outcome{reason: res.Error}
		default:
			done <- outcome{result: res}
		}
	}()

	select {
	case oc := <-done:
		return oc
	case <-callCtx.Done():
		select {
		case oc := <-done:
			return oc
		default:
		}
		if ctx.Err() != nil {
			return outcome{reason: fmt.Sprintf("cancelled: %v", ctx.Err())}
		}
		return outcome{reason: fmt.Sprintf("timeout after %v", o.backendTimeout)}
	}
}

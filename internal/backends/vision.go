/**
 * Vision Backends - remote model recognition through MageAgent
 *
 * Two tiers share one client: vision-fast asks for the balanced tier and
 * vision-accurate for the highest-accuracy tier. Availability is settled by a
 * health check when the backend is built.
 */

package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/clients"
	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

const (
	VisionFastBackendName     = "vision-fast"
	VisionAccurateBackendName = "vision-accurate"

	visionHealthTimeout = 5 * time.Second
)

// visionLanguages are the hints forwarded to MageAgent; "multi" lets the model detect the script
var visionLanguages = []string{"en", "de", "fr", "es", "it", "pt", "ru", "ja", "ko", "zh", "ar", "multi"}

// VisionExtractor is the slice of the MageAgent client the vision backends need
type VisionExtractor interface {
	ExtractTextFromBytes(ctx context.Context, imageData []byte, preferAccuracy bool, language string) (*clients.VisionOCRResponse, error)
	HealthCheck(ctx context.Context) error
}

// Vision recognizes text through a MageAgent vision tier
type Vision struct {
	name           string
	preferAccuracy bool
	client         VisionExtractor
	logger         *logging.Logger
}

// NewVisionFast builds the balanced vision backend
func NewVisionFast(ctx context.Context, client VisionExtractor) (*Vision, error) {
	return newVision(ctx, VisionFastBackendName, false, client)
}

// NewVisionAccurate builds the highest-accuracy vision backend
func NewVisionAccurate(ctx context.Context, client VisionExtractor) (*Vision, error) {
	return newVision(ctx, VisionAccurateBackendName, true, client)
}

func newVision(ctx context.Context, name string, preferAccuracy bool, client VisionExtractor) (*Vision, error) {
	if client == nil {
		return nil, fmt.Errorf("%s: no MageAgent client configured", name)
	}

	healthCtx, cancel := context.WithTimeout(ctx, visionHealthTimeout)
	defer cancel()
	if err := client.HealthCheck(healthCtx); err != nil {
		return nil, fmt.Errorf("%s: MageAgent unreachable: %w", name, err)
	}

	return &Vision{
		name:           name,
		preferAccuracy: preferAccuracy,
		client:         client,
		logger:         logging.NewLogger("Vision").With("backend", name),
	}, nil
}

// Name implements recognition.Backend
func (v *Vision) Name() string { return v.name }

// Available implements recognition.Backend
func (v *Vision) Available() bool { return v != nil && v.client != nil }

// SupportedLanguages implements recognition.Backend
func (v *Vision) SupportedLanguages() []string {
	return append([]string(nil), visionLanguages...)
}

// Recognize implements recognition.Backend
func (v *Vision) Recognize(ctx context.Context, image []byte, language string) (*recognition.Result, error) {
	if !v.Available() {
		return nil, apperrors.NewBackendUnavailableError(v.name)
	}

	startTime := time.Now()
	resp, err := v.client.ExtractTextFromBytes(ctx, image, v.preferAccuracy, language)
	elapsed := time.Since(startTime).Seconds()
	if err != nil {
		v.logger.Warn("Vision extraction failed", "error", err, "duration", elapsed)
		return recognition.ErrorResult(v.name, err.Error(), elapsed), nil
	}

	result := buildVisionResult(v.name, resp.Data.Text, resp.Data.Confidence)
	result.ProcessingTime = elapsed

	v.logger.Debug("Vision recognition complete",
		"modelUsed", resp.Data.ModelUsed,
		"confidence", result.Confidence,
		"lines", len(result.Blocks))

	return result, nil
}

// buildVisionResult emits one block per non-empty line; the remote side reports no geometry
func buildVisionResult(name, text string, confidence float64) *recognition.Result {
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	blocks := make([]recognition.TextBlock, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		blocks = append(blocks, recognition.TextBlock{
			Text:       line,
			Confidence: confidence,
			LineIndex:  len(blocks),
		})
	}

	if len(blocks) == 0 {
		confidence = 0
	}

	return &recognition.Result{
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
		Blocks:     blocks,
		Backend:    name,
	}
}

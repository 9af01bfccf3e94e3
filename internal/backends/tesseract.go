/**
 * Tesseract Backend - local, offline recognition
 *
 * Wraps gosseract with a fresh client per call, so one backend instance can
 * serve concurrent requests. Lines come from the text-line iterator and keep
 * Tesseract's reading order.
 */

package backends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

// TesseractBackendName is the registry name of the Tesseract backend
const TesseractBackendName = "tesseract"

// isoToTesseract maps ISO 639-1 hints to traineddata names
var isoToTesseract = map[string]string{
	"en": "eng",
	"de": "deu",
	"fr": "fra",
	"es": "spa",
	"it": "ita",
	"pt": "por",
	"ru": "rus",
	"uk": "ukr",
	"pl": "pol",
	"nl": "nld",
	"ja": "jpn",
	"ko": "kor",
	"zh": "chi_sim",
	"ar": "ara",
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// Languages are the traineddata names to use (e.g. "eng", "deu"); the first is the default
	Languages []string
	// PageSegMode is passed as tessedit_pageseg_mode when non-empty
	PageSegMode string
}

// Tesseract handles recognition using the Tesseract engine
type Tesseract struct {
	languages   []string
	pageSegMode string
	logger      *logging.Logger
}

// NewTesseract creates a Tesseract backend. It fails when none of the configured
// languages has traineddata installed.
func NewTesseract(cfg *TesseractConfig) (*Tesseract, error) {
	wanted := []string{"eng"}
	pageSegMode := ""
	if cfg != nil {
		if len(cfg.Languages) > 0 {
			wanted = cfg.Languages
		}
		pageSegMode = cfg.PageSegMode
	}

	installed, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fmt.Errorf("failed to list tesseract languages: %w", err)
	}

	have := make(map[string]bool, len(installed))
	for _, l := range installed {
		have[l] = true
	}

	languages := make([]string, 0, len(wanted))
	for _, l := range wanted {
		if have[l] {
			languages = append(languages, l)
		}
	}
	if len(languages) == 0 {
		return nil, fmt.Errorf("none of the configured languages %v is installed (found %v)", wanted, installed)
	}

	t := &Tesseract{
		languages:   languages,
		pageSegMode: pageSegMode,
		logger:      logging.NewLogger("Tesseract"),
	}
	t.logger.Info("Tesseract ready", "version", gosseract.Version(), "languages", strings.Join(languages, ","))
	return t, nil
}

// Name implements recognition.Backend
func (t *Tesseract) Name() string { return TesseractBackendName }

// Available implements recognition.Backend; construction already verified the engine
func (t *Tesseract) Available() bool { return t != nil && len(t.languages) > 0 }

// SupportedLanguages implements recognition.Backend
func (t *Tesseract) SupportedLanguages() []string {
	if !t.Available() {
		return nil
	}
	return append([]string(nil), t.languages...)
}

// Recognize implements recognition.Backend
func (t *Tesseract) Recognize(ctx context.Context, image []byte, language string) (*recognition.Result, error) {
	if !t.Available() {
		return nil, apperrors.NewBackendUnavailableError(TesseractBackendName)
	}

	startTime := time.Now()
	elapsed := func() float64 { return time.Since(startTime).Seconds() }

	if err := ctx.Err(); err != nil {
		return recognition.ErrorResult(TesseractBackendName, err.Error(), 0), nil
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.resolveLanguage(language)); err != nil {
		return recognition.ErrorResult(TesseractBackendName, fmt.Sprintf("failed to set language: %v", err), elapsed()), nil
	}
	if t.pageSegMode != "" {
		if err := client.SetVariable("tessedit_pageseg_mode", t.pageSegMode); err != nil {
			return recognition.ErrorResult(TesseractBackendName, fmt.Sprintf("failed to set page segmentation mode: %v", err), elapsed()), nil
		}
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return recognition.ErrorResult(TesseractBackendName, fmt.Sprintf("failed to set image: %v", err), elapsed()), nil
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return recognition.ErrorResult(TesseractBackendName, fmt.Sprintf("tesseract OCR failed: %v", err), elapsed()), nil
	}

	result := buildTesseractResult(boxes)
	result.ProcessingTime = elapsed()

	t.logger.Debug("Tesseract recognition complete",
		"lines", len(result.Blocks),
		"confidence", result.Confidence,
		"duration", result.ProcessingTime)

	return result, nil
}

// resolveLanguage accepts an ISO 639-1 code or a traineddata name and falls back to the default language
func (t *Tesseract) resolveLanguage(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if mapped, ok := isoToTesseract[hint]; ok {
		hint = mapped
	}
	for _, l := range t.languages {
		if l == hint {
			return l
		}
	}
	return t.languages[0]
}

// buildTesseractResult turns line boxes into blocks; confidence is the mean line confidence scaled to [0,1]
func buildTesseractResult(boxes []gosseract.BoundingBox) *recognition.Result {
	blocks := make([]recognition.TextBlock, 0, len(boxes))
	lines := make([]string, 0, len(boxes))
	total := 0.0

	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		conf := box.Confidence / 100
		blocks = append(blocks, recognition.TextBlock{
			Text:       text,
			Confidence: conf,
			BoundingBox: recognition.BoundingBox{
				X1: box.Box.Min.X,
				Y1: box.Box.Min.Y,
				X2: box.Box.Max.X,
				Y2: box.Box.Max.Y,
			},
			LineIndex: len(blocks),
		})
		lines = append(lines, text)
		total += conf
	}

	confidence := 0.0
	if len(blocks) > 0 {
		confidence = total / float64(len(blocks))
	}

	return &recognition.Result{
		Text:       strings.Join(lines, "\n"),
		Confidence: confidence,
		Blocks:     blocks,
		Backend:    TesseractBackendName,
	}
}

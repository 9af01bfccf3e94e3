/**
 * Image Preprocessing Pipeline
 *
 * Runs before recognition when a request asks for enhanced processing:
 * - Validates the upload (byte size, decodable header, pixel count)
 * - Applies the configured operations in order (grayscale, binarize, upscale)
 * - Reports what was applied together with simple quality metrics
 */

package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/recognition"
)

// Supported operation names
const (
	OpGrayscale = "grayscale"
	OpBinarize  = "binarize"
	OpUpscale   = "upscale"
)

const (
	// DefaultMaxPixels guards against decompression bombs
	DefaultMaxPixels = 100_000_000
	// upscaleBelow is the short-side length under which upscale doubles the image
	upscaleBelow = 1000
)

// Config holds pipeline configuration
type Config struct {
	Operations   []string
	MaxImageSize int64
	MaxPixels    int
}

// Pipeline implements recognition.Preprocessor
type Pipeline struct {
	operations   []string
	maxImageSize int64
	maxPixels    int
	logger       *logging.Logger
}

var _ recognition.Preprocessor = (*Pipeline)(nil)

// NewPipeline creates a pipeline; unknown operation names are skipped with a warning
func NewPipeline(cfg *Config) *Pipeline {
	p := &Pipeline{
		maxPixels: DefaultMaxPixels,
		logger:    logging.NewLogger("Preprocess"),
	}
	if cfg == nil {
		return p
	}

	p.maxImageSize = cfg.MaxImageSize
	if cfg.MaxPixels > 0 {
		p.maxPixels = cfg.MaxPixels
	}
	for _, op := range cfg.Operations {
		switch op {
		case OpGrayscale, OpBinarize, OpUpscale:
			p.operations = append(p.operations, op)
		default:
			p.logger.Warn("Ignoring unknown preprocessing operation", "operation", op)
		}
	}
	return p
}

// Operations returns the operations the pipeline will apply, in order
func (p *Pipeline) Operations() []string {
	return append([]string(nil), p.operations...)
}

// Preprocess validates and transforms an image. With no operations configured the
// original bytes are returned untouched; otherwise the result is PNG encoded.
func (p *Pipeline) Preprocess(ctx context.Context, data []byte) ([]byte, *recognition.PreprocessingInfo, error) {
	if len(data) == 0 {
		return nil, nil, apperrors.NewInvalidImageError("image is empty", nil)
	}
	if p.maxImageSize > 0 && int64(len(data)) > p.maxImageSize {
		return nil, nil, apperrors.NewInvalidImageError(
			fmt.Sprintf("image is %d bytes, limit is %d", len(data), p.maxImageSize), nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, nil, apperrors.NewInvalidImageError("unrecognized image format", err)
	}
	if cfg.Width*cfg.Height > p.maxPixels {
		return nil, nil, apperrors.NewInvalidImageError(
			fmt.Sprintf("image is %dx%d, more than %d pixels", cfg.Width, cfg.Height, p.maxPixels), nil)
	}

	info := &recognition.PreprocessingInfo{
		AppliedOperations: []string{},
		OriginalSize:      recognition.ImageSize{Width: cfg.Width, Height: cfg.Height},
		QualityMetrics: map[string]float64{
			"bytes":      float64(len(data)),
			"megapixels": math.Round(float64(cfg.Width*cfg.Height)/1e4) / 100,
		},
	}

	if len(p.operations) == 0 {
		return data, info, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, apperrors.NewInvalidImageError(fmt.Sprintf("failed to decode %s image", format), err)
	}

	for _, op := range p.operations {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		var applied bool
		img, applied = apply(op, img)
		if applied {
			info.AppliedOperations = append(info.AppliedOperations, op)
		}
	}

	mean, contrast := luminanceStats(img)
	info.QualityMetrics["mean_luminance"] = mean
	info.QualityMetrics["contrast"] = contrast

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, nil, fmt.Errorf("failed to encode preprocessed image: %w", err)
	}

	p.logger.Debug("Image preprocessed",
		"format", format,
		"width", cfg.Width,
		"height", cfg.Height,
		"applied", info.AppliedOperations)

	return buf.Bytes(), info, nil
}

// apply runs one operation; it reports false when the operation was a no-op for this image
func apply(op string, img image.Image) (image.Image, bool) {
	switch op {
	case OpGrayscale:
		if _, ok := img.(*image.Gray); ok {
			return img, false
		}
		return toGray(img), true
	case OpBinarize:
		return binarize(toGray(img)), true
	case OpUpscale:
		b := img.Bounds()
		if b.Dx() >= upscaleBelow || b.Dy() >= upscaleBelow {
			return img, false
		}
		dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*2, b.Dy()*2))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst, true
	}
	return img, false
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// binarize thresholds at the mean luminance
func binarize(gray *image.Gray) *image.Gray {
	mean, _ := luminanceStats(gray)
	threshold := uint8(mean * 255)
	out := image.NewGray(gray.Bounds())
	for i, v := range gray.Pix {
		if v > threshold {
			out.Pix[i] = 255
		}
	}
	return out
}

// luminanceStats returns mean luminance and its standard deviation, both scaled to [0,1]
func luminanceStats(img image.Image) (float64, float64) {
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return 0, 0
	}

	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			l := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y) / 255
			sum += l
			sumSq += l * l
		}
	}

	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return round3(mean), round3(math.Sqrt(variance))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

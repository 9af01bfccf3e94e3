/**
 * MageAgent Client - Remote vision OCR
 *
 * MageAgent selects the vision model itself; the worker only chooses between
 * the balanced tier (preferAccuracy=false) and the highest-accuracy tier
 * (preferAccuracy=true). Each tier is exposed as its own recognition backend.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// DefaultMageAgentTimeout bounds a single HTTP exchange with MageAgent
const DefaultMageAgentTimeout = 120 * time.Second

// MageAgentClient handles communication with MageAgent service
type MageAgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// VisionOCRRequest represents a request to extract text from an image
type VisionOCRRequest struct {
	Image          string                 `json:"image"`           // Base64 encoded image
	Format         string                 `json:"format"`          // "base64", "url", or "buffer"
	PreferAccuracy bool                   `json:"preferAccuracy"`  // true = highest accuracy tier
	Language       string                 `json:"language"`        // Optional: "en", "multi", etc.
	Metadata       map[string]interface{} `json:"metadata"`        // Optional metadata
	JobID          string                 `json:"jobId,omitempty"` // Optional: job ID for tracking
}

// VisionOCRResponse represents a synchronous response from MageAgent vision endpoint
type VisionOCRResponse struct {
	Success bool                   `json:"success"`
	Data    VisionOCRData          `json:"data"`
	Message string                 `json:"message"`
	Meta    map[string]interface{} `json:"meta"`
}

// VisionOCRData contains the extracted text and metadata
type VisionOCRData struct {
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ModelUsed      string  `json:"modelUsed"`
	ProcessingTime int64   `json:"processingTime"` // milliseconds
	JobID          string  `json:"jobId,omitempty"`
	Metadata       struct {
		Language       string `json:"language"`
		PreferAccuracy bool   `json:"preferAccuracy"`
		Format         string `json:"format"`
	} `json:"metadata"`
}

// NewMageAgentClient creates a new MageAgent client. A zero timeout uses DefaultMageAgentTimeout.
func NewMageAgentClient(baseURL string, timeout time.Duration) *MageAgentClient {
	if timeout <= 0 {
		timeout = DefaultMageAgentTimeout
	}
	return &MageAgentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout, // Vision tasks can take time
		},
		logger: logging.NewLogger("MageAgentClient"),
	}
}

// ExtractText extracts text from an image using MageAgent's vision model selection
func (c *MageAgentClient) ExtractText(ctx context.Context, req *VisionOCRRequest) (*VisionOCRResponse, error) {
	c.logger.Debug("Requesting text extraction from MageAgent",
		"preferAccuracy", req.PreferAccuracy,
		"language", req.Language,
		"imageSize", len(req.Image))

	// Internal endpoint is rate-limit exempt
	endpoint := fmt.Sprintf("%s/api/internal/vision/extract-text", c.baseURL)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "ocr-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("ocr-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to MageAgent failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MageAgent returned error status %d: %s", resp.StatusCode, string(body))
	}

	var ocrResp VisionOCRResponse
	if err := json.Unmarshal(body, &ocrResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !ocrResp.Success {
		return nil, fmt.Errorf("MageAgent operation failed: %s", ocrResp.Message)
	}

	c.logger.Debug("Text extraction complete",
		"modelUsed", ocrResp.Data.ModelUsed,
		"confidence", ocrResp.Data.Confidence,
		"processingTime", ocrResp.Data.ProcessingTime,
		"textLength", len(ocrResp.Data.Text))

	return &ocrResp, nil
}

// ExtractTextFromBytes is a convenience method that handles base64 encoding
func (c *MageAgentClient) ExtractTextFromBytes(ctx context.Context, imageData []byte, preferAccuracy bool, language string) (*VisionOCRResponse, error) {
	req := &VisionOCRRequest{
		Image:          base64.StdEncoding.EncodeToString(imageData),
		Format:         "base64",
		PreferAccuracy: preferAccuracy,
		Language:       language,
		Metadata: map[string]interface{}{
			"source":    "ocr-worker",
			"timestamp": time.Now().Unix(),
		},
	}

	return c.ExtractText(ctx, req)
}

// HealthCheck verifies MageAgent service is available
func (c *MageAgentClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

/**
 * Recognition Types - Shared data structures for recognition backends
 *
 * Results are produced by backends and treated as read-only afterwards.
 * Orchestration copies a result before attaching annotations.
 */

package recognition

// Result is the output of one recognition call
type Result struct {
	Text           string      `json:"text"`
	Confidence     float64     `json:"confidence"`
	Blocks         []TextBlock `json:"blocks"`
	ProcessingTime float64     `json:"processing_time"` // seconds
	Backend        string      `json:"backend_name"`
	Error          string      `json:"error,omitempty"`

	// Annotations, set on the final result only
	Index         int                `json:"index"`
	Preprocessing *PreprocessingInfo `json:"preprocessing,omitempty"`
	Voting        *VotingInfo        `json:"voting_info,omitempty"`
}

// Failed reports whether the backend reported an error for this result
func (r *Result) Failed() bool {
	return r == nil || r.Error != ""
}

// clone returns a shallow copy safe for annotation; Blocks share the backing array
// because nothing downstream mutates them.
func (r *Result) clone() *Result {
	c := *r
	return &c
}

// TextBlock is one recognized line or region, in reading order
type TextBlock struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
	LineIndex   int         `json:"line_index"`
}

// BoundingBox holds corner coordinates (x1,y1) top-left, (x2,y2) bottom-right
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// EngineInfo is registry metadata for one backend
type EngineInfo struct {
	Name               string   `json:"name"`
	Available          bool     `json:"available"`
	SupportedLanguages []string `json:"supported_languages"`
}

// VotingInfo describes an ensemble run; attached only when voting actually ran
type VotingInfo struct {
	EnginesUsed           []string                 `json:"engines_used"`
	TotalEnginesRequested int                      `json:"total_engines_requested"`
	VotingTime            float64                  `json:"voting_time"`
	PerEngineSummary      map[string]EngineSummary `json:"per_engine_summary"`
	SelectedEngine        string                   `json:"selected_engine"`
	SelectedScore         float64                  `json:"selected_score"`
}

// EngineSummary condenses one backend's contribution to a vote
type EngineSummary struct {
	Confidence     float64 `json:"confidence"`
	TextLength     int     `json:"text_length"`
	ProcessingTime float64 `json:"processing_time"`
}

// PreprocessingInfo is produced by the preprocessing collaborator and passed through untouched
type PreprocessingInfo struct {
	AppliedOperations []string           `json:"applied_operations"`
	OriginalSize      ImageSize          `json:"original_size"`
	QualityMetrics    map[string]float64 `json:"quality_metrics,omitempty"`
}

// ImageSize in pixels
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Request carries one prepared image through the orchestrator
type Request struct {
	Image         []byte
	Language      string
	Enhanced      bool
	Preprocessing *PreprocessingInfo
}

// ErrorResult builds the canonical failed result: no text, zero confidence, no blocks
func ErrorResult(backend string, message string, elapsed float64) *Result {
	return &Result{
		Backend:        backend,
		Error:          message,
		Blocks:         []TextBlock{},
		ProcessingTime: elapsed,
	}
}

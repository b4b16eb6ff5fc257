package analyzer

import (
	"context"
	"errors"
)

// Decision is the outcome of a repair verification attempt.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Confidence qualifies how strongly the analysis supports its decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ErrMissingRepairImage is returned when a verification is requested without
// a repair photo. It is always raised before any analysis work starts.
var ErrMissingRepairImage = errors.New("missing repair image")

// ErrMissingOriginalImage is returned only when the engine is configured to
// require a before photo.
var ErrMissingOriginalImage = errors.New("missing original image")

// Request identifies the images to compare. Both references are opaque
// handles; the analyzer never reads image bytes.
type Request struct {
	RepairImageRef   string
	OriginalImageRef string
}

// FactorScores holds the per-technique difference scores that fed a result.
// Each value is in [0, 1]; higher means more change detected by that factor.
type FactorScores struct {
	TextureChange     float64 `json:"texture_change"`
	SurfacePattern    float64 `json:"surface_pattern"`
	ColorDistribution float64 `json:"color_distribution"`
	EdgeDetection     float64 `json:"edge_detection"`
}

// Result is the immutable outcome of a single analysis.
// SimilarityScore is in [0.30, 0.95] with two decimal places; a lower score
// means more difference between the images, i.e. stronger evidence of repair.
type Result struct {
	Decision        Decision     `json:"decision"`
	Confidence      Confidence   `json:"confidence"`
	SimilarityScore float64      `json:"similarity_score"`
	Message         string       `json:"message"`
	Factors         FactorScores `json:"factors"`
}

// Analyzer exposes the subset of functionality used by the verification flow.
type Analyzer interface {
	// Validate reports whether a request satisfies the analyzer's
	// preconditions. Callers invoke it before any queueing or delay so that
	// input errors never surface mid-analysis.
	Validate(req Request) error
	// Analyze produces a result for a valid request. It performs no I/O.
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// Severity maps a similarity score to the display colour band used by
// clients: green for clear repair evidence, yellow for the borderline range,
// red for insufficient change.
func Severity(score float64) string {
	switch {
	case score < borderlineLow:
		return "green"
	case score < borderlineHigh:
		return "yellow"
	default:
		return "red"
	}
}

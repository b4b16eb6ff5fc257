package analyzer

import (
	"context"
	"math"
	"math/rand"
)

// Source supplies uniform values in [0, 1). Production uses math/rand;
// tests inject scripted sequences to pin every draw.
type Source interface {
	Float64() float64
}

type randSource struct{}

func (randSource) Float64() float64 { return rand.Float64() }

// Factor draw ranges and weights. Each factor simulates one analysis
// technique; the weighted sum expresses how much change was "detected".
const (
	textureMin, textureMax = 0.30, 0.80
	surfaceMin, surfaceMax = 0.20, 0.80
	colorMin, colorMax     = 0.20, 0.90
	edgeMin, edgeMax       = 0.30, 0.90

	textureWeight = 0.30
	surfaceWeight = 0.25
	colorWeight   = 0.25
	edgeWeight    = 0.20

	jitterSpread = 0.05

	scoreFloor   = 0.30
	scoreCeiling = 0.95
)

// Score band thresholds. Below approveHigh the repair is clearly visible;
// between borderlineLow and borderlineHigh the decision is randomized with
// borderlineApproveP odds to simulate ambiguous photos.
const (
	approveHigh        = 0.60
	borderlineLow      = 0.68
	borderlineHigh     = 0.75
	rejectHigh         = 0.85
	borderlineApproveP = 0.60
)

// Config controls engine behavior.
type Config struct {
	// Source overrides the randomness source. Nil selects math/rand.
	Source Source
	// RequireOriginalImage makes a missing before photo a validation error
	// instead of being ignored.
	RequireOriginalImage bool
}

// Engine is the simulated visual-difference analyzer. It draws four factor
// scores, combines them into a similarity score, and maps the score to a
// decision, confidence, and explanation message.
type Engine struct {
	src             Source
	requireOriginal bool
}

// NewEngine constructs an engine from cfg.
func NewEngine(cfg Config) *Engine {
	src := cfg.Source
	if src == nil {
		src = randSource{}
	}
	return &Engine{src: src, requireOriginal: cfg.RequireOriginalImage}
}

// Validate implements Analyzer.
func (e *Engine) Validate(req Request) error {
	if req.RepairImageRef == "" {
		return ErrMissingRepairImage
	}
	if e.requireOriginal && req.OriginalImageRef == "" {
		return ErrMissingOriginalImage
	}
	return nil
}

// Analyze implements Analyzer. Draw order is fixed: texture, surface, color,
// edge, jitter, then the borderline coin when the score lands in that band.
func (e *Engine) Analyze(_ context.Context, req Request) (*Result, error) {
	if err := e.Validate(req); err != nil {
		return nil, err
	}

	factors := FactorScores{
		TextureChange:     e.uniform(textureMin, textureMax),
		SurfacePattern:    e.uniform(surfaceMin, surfaceMax),
		ColorDistribution: e.uniform(colorMin, colorMax),
		EdgeDetection:     e.uniform(edgeMin, edgeMax),
	}

	weighted := textureWeight*factors.TextureChange +
		surfaceWeight*factors.SurfacePattern +
		colorWeight*factors.ColorDistribution +
		edgeWeight*factors.EdgeDetection

	base := 1 - weighted
	jitter := -jitterSpread + e.src.Float64()*2*jitterSpread
	score := round2(clamp(base+jitter, scoreFloor, scoreCeiling))

	decision, confidence, band := e.mapScore(score)

	return &Result{
		Decision:        decision,
		Confidence:      confidence,
		SimilarityScore: score,
		Message:         messageFor(band, decision),
		Factors:         factors,
	}, nil
}

// mapScore assigns the decision and confidence for a score. Only the
// borderline band consumes a random draw.
func (e *Engine) mapScore(score float64) (Decision, Confidence, scoreBand) {
	switch {
	case score < approveHigh:
		return DecisionApproved, ConfidenceHigh, bandStrongChange
	case score < borderlineLow:
		return DecisionApproved, ConfidenceMedium, bandModerateChange
	case score < borderlineHigh:
		if e.src.Float64() < borderlineApproveP {
			return DecisionApproved, ConfidenceMedium, bandBorderline
		}
		return DecisionRejected, ConfidenceMedium, bandBorderline
	case score < rejectHigh:
		return DecisionRejected, ConfidenceMedium, bandInsufficientChange
	default:
		return DecisionRejected, ConfidenceHigh, bandNoChange
	}
}

func (e *Engine) uniform(lo, hi float64) float64 {
	return lo + e.src.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

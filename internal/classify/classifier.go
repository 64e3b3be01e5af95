package classify

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/audio"
	"github.com/normanking/lipsync/internal/template"
	"github.com/normanking/lipsync/internal/viseme"
)

const (
	// confidenceEpsilon prevents division blow-up at distance zero.
	confidenceEpsilon = 0.1
	// thresholdK scales the sensitivity-derived base acceptance
	// threshold. Calibration constant, not load-bearing.
	thresholdK = 60.0
	// suppressionDelta is the minimum intensity change that justifies a
	// new dispatch for an unchanged category.
	suppressionDelta = 0.1
)

// Classifier matches live feature frames against the template bank.
// One classifier serves one session; it carries the previous accepted
// classification for update suppression and is not safe for concurrent
// use.
type Classifier struct {
	bank   *template.Bank
	params Params
	logger zerolog.Logger

	lastCategory  viseme.Viseme
	lastIntensity float64
	hasLast       bool
}

// NewClassifier builds a classifier over an immutable bank.
func NewClassifier(bank *template.Bank, params Params, logger zerolog.Logger) *Classifier {
	return &Classifier{
		bank:   bank,
		params: params.Normalize(),
		logger: logger.With().Str("component", "classifier").Logger(),
	}
}

// SetBank swaps in a new (already immutable) bank, e.g. after a
// calibration reload. Suppression state is reset.
func (c *Classifier) SetBank(bank *template.Bank) {
	c.bank = bank
	c.Reset()
}

// ClassifyFrame classifies a single live feature frame.
func (c *Classifier) ClassifyFrame(frame audio.FeatureFrame) Result {
	return c.Classify([][]float64{frame.Coefficients}, frame.Timestamp)
}

// Classify computes the DTW distance from the live sequence to every
// template of every category and derives a confidence from the gap
// between the global best and global second-best distances. Tracking
// the second-best across all templates, not just the runner-up
// category, captures ambiguity with the closest rival regardless of
// category boundaries.
//
// An empty bank yields a Silence result with zero distance: silence is
// always a safe default, so readiness failures never surface per
// frame.
func (c *Classifier) Classify(frames [][]float64, ts time.Time) Result {
	if c.bank == nil || c.bank.Empty() {
		return Result{Category: viseme.Silence, Timestamp: ts}
	}

	best := viseme.Silence
	lowest := math.Inf(1)
	secondLowest := math.Inf(1)

	for _, cat := range c.bank.Categories() {
		for _, tmpl := range c.bank.Templates(cat) {
			d := DTWDistance(frames, tmpl.Frames)
			if d < lowest {
				secondLowest = lowest
				lowest = d
				best = cat
			} else if d < secondLowest {
				secondLowest = d
			}
		}
	}

	confidence := 1.0
	if !math.IsInf(secondLowest, 1) {
		confidence = math.Min(1.0, secondLowest/math.Max(lowest, confidenceEpsilon))
	}

	return Result{
		Category:   best,
		Distance:   lowest,
		SecondBest: secondLowest,
		Confidence: confidence,
		Timestamp:  ts,
	}
}

// Accept applies the confidence-weighted dynamic threshold: the base
// sensitivity threshold scaled by (2 - confidence), so the gap between
// best and second-best match modulates how far a distance may stray.
func (c *Classifier) Accept(r Result) bool {
	if r.Category == viseme.Silence {
		return true
	}
	base := (1 - c.params.Sensitivity) * thresholdK
	dynamic := base * (2.0 - r.Confidence)
	return r.Distance < dynamic
}

// ShouldForward reports whether an accepted classification differs
// enough from the last forwarded one to justify a dispatch, and
// records it if so. Near-identical repeats are suppressed to keep
// jitter from flooding the consumer.
func (c *Classifier) ShouldForward(r Result, intensity float64) bool {
	if c.hasLast && r.Category == c.lastCategory &&
		math.Abs(intensity-c.lastIntensity) <= suppressionDelta {
		return false
	}
	c.lastCategory = r.Category
	c.lastIntensity = intensity
	c.hasLast = true
	return true
}

// Reset clears suppression state, e.g. on source change.
func (c *Classifier) Reset() {
	c.lastCategory = ""
	c.lastIntensity = 0
	c.hasLast = false
}

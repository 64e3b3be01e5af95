// Package classify implements the phoneme classification core: DTW
// template matching, confidence-weighted acceptance, intensity
// shaping, and the formant-peak fallback classifier.
package classify

import (
	"time"

	"github.com/normanking/lipsync/internal/viseme"
)

// Result is the per-frame classification output. Derived value, not
// stored beyond the current frame.
type Result struct {
	Category   viseme.Viseme
	Distance   float64
	SecondBest float64
	Confidence float64
	Timestamp  time.Time
}

// Params carries the user-facing tuning knobs shared by the matcher,
// the shaper, and the fallback classifier.
type Params struct {
	Sensitivity         float64 // [0,1], higher accepts more
	IntensityMultiplier float64 // [1,8]
	MinIntensity        float64 // [0,1] floor below which output resets
	Smoothing           float64 // [0,1] temporal smoothing factor
}

// DefaultParams returns the tuning used when the caller does not
// override anything.
func DefaultParams() Params {
	return Params{
		Sensitivity:         0.5,
		IntensityMultiplier: 1.5,
		MinIntensity:        0.05,
		Smoothing:           0.3,
	}
}

// Normalize clamps params to their documented ranges.
func (p Params) Normalize() Params {
	p.Sensitivity = viseme.Clamp01(p.Sensitivity)
	if p.IntensityMultiplier < 1 {
		p.IntensityMultiplier = 1
	}
	if p.IntensityMultiplier > 8 {
		p.IntensityMultiplier = 8
	}
	p.MinIntensity = viseme.Clamp01(p.MinIntensity)
	p.Smoothing = viseme.Clamp01(p.Smoothing)
	return p
}

package classify

import (
	"math"

	"github.com/normanking/lipsync/internal/viseme"
)

// Perceptual tuning: vowels needing larger mouth opening get higher
// boost; floors keep a detected phoneme from being visually
// imperceptible; each vowel bleeds a little into one adjacent shape so
// transitions don't look mechanically discrete.
var (
	categoryBoost = map[viseme.Viseme]float64{
		viseme.VisemeA: 1.25,
		viseme.VisemeO: 1.15,
		viseme.VisemeE: 1.0,
		viseme.VisemeU: 0.95,
		viseme.VisemeI: 0.9,
	}
	categoryFloor = map[viseme.Viseme]float64{
		viseme.VisemeA: 0.25,
		viseme.VisemeO: 0.22,
		viseme.VisemeE: 0.18,
		viseme.VisemeU: 0.16,
		viseme.VisemeI: 0.15,
	}
	blendNeighbor = map[viseme.Viseme]viseme.Viseme{
		viseme.VisemeA: viseme.VisemeO,
		viseme.VisemeO: viseme.VisemeU,
		viseme.VisemeU: viseme.VisemeO,
		viseme.VisemeE: viseme.VisemeI,
		viseme.VisemeI: viseme.VisemeE,
	}
)

const (
	// maxDistance normalizes DTW distance into a base intensity.
	maxDistance = 120.0
	// compressionExp flattens the top of the range while keeping low
	// values responsive.
	compressionExp = 0.7
	// blendFraction is the share of intensity bled into the adjacent
	// category.
	blendFraction = 0.15
)

// Shaper maps accepted classification results to bounded viseme
// intensities. Deterministic: no hidden state beyond what the caller
// keeps for suppression.
type Shaper struct {
	params Params
}

// NewShaper builds a shaper with the given tuning.
func NewShaper(params Params) *Shaper {
	return &Shaper{params: params.Normalize()}
}

// Intensity computes the shaped scalar intensity for a result, before
// cross-blending. Exposed separately because the suppression check
// compares intensities, not states.
func (s *Shaper) Intensity(r Result) float64 {
	if r.Category == viseme.Silence {
		return 0
	}

	base := viseme.Clamp01(1 - r.Distance/maxDistance)
	x := base * r.Confidence * s.params.Sensitivity * s.params.IntensityMultiplier
	x *= categoryBoost[r.Category]
	x = viseme.Clamp01(x)
	x = math.Pow(x, compressionExp)

	if floor := categoryFloor[r.Category]; x > 0 && x < floor {
		x = floor
	}
	return viseme.Clamp01(x)
}

// Shape produces the viseme state for an accepted result. Silence, or
// an intensity below the configured floor, resets every entry to zero.
func (s *Shaper) Shape(r Result) viseme.State {
	return s.Compose(r.Category, s.Intensity(r))
}

// Compose builds the blended state for a category at a precomputed
// intensity. The fallback classifier derives intensity from spectral
// energy instead of DTW distance and shares everything from here on.
func (s *Shaper) Compose(cat viseme.Viseme, intensity float64) viseme.State {
	state := viseme.NewState()
	if cat == viseme.Silence || intensity < s.params.MinIntensity {
		return state
	}

	state[cat] = intensity
	if neighbor, ok := blendNeighbor[cat]; ok {
		state[neighbor] = intensity * blendFraction
	}
	state.Clamp()
	return state
}

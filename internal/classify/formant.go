package classify

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/viseme"
)

// Formant-space speech band and peak-picking limits.
const (
	speechBandLow  = 80.0   // Hz
	speechBandHigh = 4000.0 // Hz
	maxPeaks       = 6
	peakFloorDB    = -50.0
	// minFormantConfidence is the winner-takes-it cutoff; below it the
	// frame is treated as silence.
	minFormantConfidence = 0.3
)

// vowelBox is the hand-tuned valid (F1, F2) region for one vowel, with
// its ideal center. Confidence falls off with distance from the center
// and is zero outside the box.
type vowelBox struct {
	f1Lo, f1Hi, f1Center float64
	f2Lo, f2Hi, f2Center float64
}

var vowelBoxes = map[viseme.Viseme]vowelBox{
	viseme.VisemeA: {f1Lo: 600, f1Hi: 1000, f1Center: 800, f2Lo: 1000, f2Hi: 1600, f2Center: 1300},
	viseme.VisemeI: {f1Lo: 200, f1Hi: 450, f1Center: 320, f2Lo: 2000, f2Hi: 3000, f2Center: 2500},
	viseme.VisemeU: {f1Lo: 250, f1Hi: 480, f1Center: 350, f2Lo: 900, f2Hi: 1500, f2Center: 1250},
	viseme.VisemeE: {f1Lo: 400, f1Hi: 650, f1Center: 520, f2Lo: 1700, f2Hi: 2400, f2Center: 2050},
	viseme.VisemeO: {f1Lo: 400, f1Hi: 700, f1Center: 540, f2Lo: 650, f2Hi: 1100, f2Center: 880},
}

// FormantClassifier is the fallback strategy used when the cepstral
// extractor cannot be initialized. It classifies vowels from the two
// lowest strong spectral peaks (F1, F2) over a raw power spectrum.
type FormantClassifier struct {
	params Params
	logger zerolog.Logger
}

// NewFormantClassifier builds the fallback classifier.
func NewFormantClassifier(params Params, logger zerolog.Logger) *FormantClassifier {
	return &FormantClassifier{
		params: params.Normalize(),
		logger: logger.With().Str("component", "formant").Logger(),
	}
}

type peak struct {
	freq float64
	mag  float64
}

// Classify picks formants from the spectrum and scores each vowel box.
// binWidth is the frequency resolution in Hz per spectrum bin.
func (f *FormantClassifier) Classify(spectrum []float64, binWidth float64, ts time.Time) Result {
	f1, f2, ok := findFormants(spectrum, binWidth)
	if !ok {
		return Result{Category: viseme.Silence, Timestamp: ts}
	}

	best := viseme.Silence
	var bestConf float64
	for vowel, box := range vowelBoxes {
		conf := box.score(f1, f2)
		if conf > bestConf {
			best = vowel
			bestConf = conf
		}
	}
	if bestConf < minFormantConfidence {
		return Result{Category: viseme.Silence, Timestamp: ts}
	}

	return Result{
		Category:   best,
		Confidence: bestConf,
		Timestamp:  ts,
	}
}

// Intensity derives a shaped intensity from overall band energy,
// through the same sensitivity/multiplier/minimum parameters as the
// primary path, scaled by the winning confidence.
func (f *FormantClassifier) Intensity(spectrum []float64, binWidth float64, r Result) float64 {
	if r.Category == viseme.Silence {
		return 0
	}

	var energy float64
	for i, mag := range spectrum {
		freq := float64(i) * binWidth
		if freq < speechBandLow || freq > speechBandHigh {
			continue
		}
		energy += mag * mag
	}
	// perceptual-ish mapping of band energy into [0,1]
	level := viseme.Clamp01(math.Sqrt(energy) * 20)

	x := level * r.Confidence * f.params.Sensitivity * f.params.IntensityMultiplier
	x = viseme.Clamp01(x)
	if x < f.params.MinIntensity {
		return 0
	}
	if floor := categoryFloor[r.Category]; x < floor {
		x = floor
	}
	return x
}

// score returns an inverse-distance-to-center confidence in [0,1].
func (b vowelBox) score(f1, f2 float64) float64 {
	if f1 < b.f1Lo || f1 > b.f1Hi || f2 < b.f2Lo || f2 > b.f2Hi {
		return 0
	}
	d1 := math.Abs(f1-b.f1Center) / ((b.f1Hi - b.f1Lo) / 2)
	d2 := math.Abs(f2-b.f2Center) / ((b.f2Hi - b.f2Lo) / 2)
	return viseme.Clamp01(1 - (d1+d2)/2)
}

// findFormants locates up to six local magnitude peaks above the dB
// floor within the speech band, sorts by magnitude then frequency, and
// takes the two lowest-frequency strong peaks as F1 and F2.
func findFormants(spectrum []float64, binWidth float64) (f1, f2 float64, ok bool) {
	var peaks []peak
	for i := 1; i < len(spectrum)-1; i++ {
		freq := float64(i) * binWidth
		if freq < speechBandLow || freq > speechBandHigh {
			continue
		}
		mag := spectrum[i]
		if mag <= spectrum[i-1] || mag < spectrum[i+1] {
			continue
		}
		if magToDB(mag) < peakFloorDB {
			continue
		}
		peaks = append(peaks, peak{freq: freq, mag: mag})
	}
	if len(peaks) < 2 {
		return 0, 0, false
	}

	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].mag != peaks[j].mag {
			return peaks[i].mag > peaks[j].mag
		}
		return peaks[i].freq < peaks[j].freq
	})
	if len(peaks) > maxPeaks {
		peaks = peaks[:maxPeaks]
	}

	// two lowest-frequency of the strong peaks
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].freq < peaks[j].freq })
	return peaks[0].freq, peaks[1].freq, true
}

func magToDB(mag float64) float64 {
	if mag <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}

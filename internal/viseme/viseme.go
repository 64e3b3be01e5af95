// Package viseme defines the mouth-shape categories and the intensity
// state pushed to the avatar renderer.
package viseme

// Viseme identifies a mouth-shape category. The pipeline classifies
// speech into five vowel-like shapes plus silence.
type Viseme string

const (
	VisemeA Viseme = "A" // wide open
	VisemeI Viseme = "I" // spread lips
	VisemeU Viseme = "U" // tight round
	VisemeE Viseme = "E" // half open, spread
	VisemeO Viseme = "O" // round open
	Silence Viseme = "SILENCE"
)

// Vowels returns the five vowel categories in canonical order.
func Vowels() []Viseme {
	return []Viseme{VisemeA, VisemeI, VisemeU, VisemeE, VisemeO}
}

// All returns every category including Silence.
func All() []Viseme {
	return []Viseme{VisemeA, VisemeI, VisemeU, VisemeE, VisemeO, Silence}
}

// Valid reports whether v is a known category.
func Valid(v Viseme) bool {
	switch v {
	case VisemeA, VisemeI, VisemeU, VisemeE, VisemeO, Silence:
		return true
	}
	return false
}

// State maps each vowel viseme to an intensity in [0,1]. It is the only
// data crossing the boundary to the renderer; every value is kept
// clamped by the producers.
type State map[Viseme]float64

// NewState returns a state with every vowel at zero intensity.
func NewState() State {
	s := make(State, 5)
	for _, v := range Vowels() {
		s[v] = 0
	}
	return s
}

// Clone returns an independent copy of s.
func (s State) Clone() State {
	c := make(State, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Reset zeroes every entry in place.
func (s State) Reset() {
	for k := range s {
		s[k] = 0
	}
}

// Clamp forces every value into [0,1] in place.
func (s State) Clamp() {
	for k, v := range s {
		s[k] = Clamp01(v)
	}
}

// IsZero reports whether every intensity is zero.
func (s State) IsZero() bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

// MaxDelta returns the largest absolute per-viseme difference between
// s and other. Used for dispatch suppression.
func (s State) MaxDelta(other State) float64 {
	var max float64
	for _, v := range Vowels() {
		d := s[v] - other[v]
		if d < 0 {
			d = -d
		}
		if d > max {
			max = d
		}
	}
	return max
}

// Dominant returns the viseme with the highest intensity and that
// intensity. Returns Silence when the state is all zero.
func (s State) Dominant() (Viseme, float64) {
	best := Silence
	var bestVal float64
	for _, v := range Vowels() {
		if s[v] > bestVal {
			best = v
			bestVal = s[v]
		}
	}
	return best, bestVal
}

// Clamp01 constrains x to [0,1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Package template holds the reference phoneme templates the classifier
// matches live feature frames against.
package template

import (
	"errors"
	"fmt"

	"github.com/normanking/lipsync/internal/viseme"
)

// Common errors
var (
	ErrInvalidTemplate = errors.New("template sequence must contain at least one frame")
	ErrUnknownCategory = errors.New("unknown viseme category")
)

// Template is one reference feature-frame sequence for a viseme
// category. A category may carry multiple variants to capture natural
// pronunciation variance. Coefficient counts may differ across
// categories.
type Template struct {
	Frames [][]float64
}

// Bank is an immutable mapping from viseme category to its template
// variants. Safe to share read-only across concurrent sessions.
type Bank struct {
	templates map[viseme.Viseme][]Template
}

// Load validates and freezes a set of templates into a Bank. It fails
// with ErrInvalidTemplate if any template has an empty frame sequence,
// and ErrUnknownCategory for categories outside the supported set.
func Load(templates map[viseme.Viseme][]Template) (*Bank, error) {
	frozen := make(map[viseme.Viseme][]Template, len(templates))
	for cat, variants := range templates {
		if !viseme.Valid(cat) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
		}
		copied := make([]Template, len(variants))
		for i, t := range variants {
			if len(t.Frames) == 0 {
				return nil, fmt.Errorf("%w: category %q variant %d", ErrInvalidTemplate, cat, i)
			}
			frames := make([][]float64, len(t.Frames))
			for j, f := range t.Frames {
				frames[j] = append([]float64(nil), f...)
			}
			copied[i] = Template{Frames: frames}
		}
		frozen[cat] = copied
	}
	return &Bank{templates: frozen}, nil
}

// Templates returns the variants for a category. The returned slice
// must not be modified.
func (b *Bank) Templates(cat viseme.Viseme) []Template {
	return b.templates[cat]
}

// Categories returns every category present in the bank, in canonical
// order.
func (b *Bank) Categories() []viseme.Viseme {
	out := make([]viseme.Viseme, 0, len(b.templates))
	for _, v := range viseme.All() {
		if _, ok := b.templates[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Empty reports whether the bank holds no templates at all.
func (b *Bank) Empty() bool {
	return len(b.templates) == 0
}

// Size returns the total number of template variants.
func (b *Bank) Size() int {
	n := 0
	for _, ts := range b.templates {
		n += len(ts)
	}
	return n
}

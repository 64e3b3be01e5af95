// Package audio provides the audio-source abstraction and the frame
// types flowing into the classification pipeline.
package audio

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrSourceUnavailable = errors.New("audio source unavailable")
	ErrSourceClosed      = errors.New("audio source closed")
	ErrMalformedFrame    = errors.New("malformed feature frame")
	ErrInvalidFormat     = errors.New("invalid audio format")
)

// Chunk is one window of mono PCM samples from a Source.
type Chunk struct {
	Samples   []int16
	Timestamp time.Time
}

// Source abstracts the origin of a PCM signal: local capture, a
// remotely supplied stream, or file playback. Sources are replaced,
// never mutated, when the provider swaps streams mid-session.
type Source interface {
	// SampleRate returns the sample rate in Hz.
	SampleRate() int
	// Channels returns the channel count (the pipeline consumes mono).
	Channels() int
	// Live reports whether the source streams in real time.
	Live() bool
	// Available reports whether the source can still deliver audio.
	Available() bool
	// Chunks returns the stream of PCM windows. The channel closes when
	// the source ends or fails; Available() distinguishes the two.
	Chunks() <-chan Chunk
	// Close releases the source. Idempotent.
	Close() error
}

// FeatureFrame is a fixed-length cepstral coefficient vector with a
// monotonic timestamp. Frames are ephemeral: consumed immediately by
// the classifier, never persisted.
type FeatureFrame struct {
	Coefficients []float64
	Timestamp    time.Time
}

// Valid reports whether the frame has a usable shape. Malformed frames
// are skipped upstream without failing the session.
func (f FeatureFrame) Valid() bool {
	if len(f.Coefficients) == 0 {
		return false
	}
	for _, c := range f.Coefficients {
		if c != c { // NaN
			return false
		}
	}
	return true
}

// FeatureExtractor is the external cepstral extractor. It may be
// unavailable, in which case the session silently falls back to
// formant classification over raw spectra.
type FeatureExtractor interface {
	// Extract starts delivering feature frames derived from the source.
	// The channel closes when the source ends or ctx is cancelled.
	Extract(ctx context.Context, src Source) (<-chan FeatureFrame, error)
}

// Provider supplies audio sources to a session: the initial source, a
// replacement after loss, or a hot-swap mid-session.
type Provider interface {
	// Acquire blocks until a source is available or ctx is done. This is
	// the only legitimately blocking call in the pipeline.
	Acquire(ctx context.Context) (Source, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Source, error)

func (f ProviderFunc) Acquire(ctx context.Context) (Source, error) { return f(ctx) }

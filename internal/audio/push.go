package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// PushSource is a live source fed by an external provider (WebRTC
// track, capture loop, test harness). The internal buffer is bounded:
// when the consumer lags, the oldest chunk is discarded rather than
// letting latency grow.
type PushSource struct {
	sampleRate int
	channels   int

	chunks    chan Chunk
	mu        sync.Mutex
	closed    bool
	available atomic.Bool
}

// NewPushSource creates a push source for mono PCM at the given rate.
func NewPushSource(sampleRate int) *PushSource {
	s := &PushSource{
		sampleRate: sampleRate,
		channels:   1,
		chunks:     make(chan Chunk, 8),
	}
	s.available.Store(true)
	return s
}

func (s *PushSource) SampleRate() int      { return s.sampleRate }
func (s *PushSource) Channels() int        { return s.channels }
func (s *PushSource) Live() bool           { return true }
func (s *PushSource) Available() bool      { return s.available.Load() }
func (s *PushSource) Chunks() <-chan Chunk { return s.chunks }

// Push delivers one PCM window. Returns ErrSourceClosed after Close.
func (s *PushSource) Push(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSourceClosed
	}

	chunk := Chunk{Samples: samples, Timestamp: time.Now()}
	for {
		select {
		case s.chunks <- chunk:
			return nil
		default:
			// full: drop oldest to keep latency bounded
			select {
			case <-s.chunks:
			default:
			}
		}
	}
}

// Close marks the source ended and closes the chunk stream. Idempotent.
func (s *PushSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.available.Store(false)
	close(s.chunks)
	return nil
}

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// FileSource plays back a 16-bit PCM WAV file as a stream of fixed
// windows. When Realtime is set it paces delivery at the file's actual
// rate so the downstream throttling behaves as it would live.
type FileSource struct {
	sampleRate int
	channels   int
	samples    []int16

	windowSize time.Duration
	realtime   bool

	chunks    chan Chunk
	closeOnce sync.Once
	done      chan struct{}
	available atomic.Bool
}

// FileSourceOptions tunes playback behavior.
type FileSourceOptions struct {
	WindowSize time.Duration // PCM window per chunk, default 25ms
	Realtime   bool          // pace chunks at real speed
}

// NewFileSource opens a WAV file and starts streaming its windows.
func NewFileSource(path string, opts FileSourceOptions) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sampleRate, channels, samples, err := decodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if channels == 2 {
		samples = DownmixStereo(samples)
		channels = 1
	}

	if opts.WindowSize <= 0 {
		opts.WindowSize = 25 * time.Millisecond
	}

	s := &FileSource{
		sampleRate: sampleRate,
		channels:   channels,
		samples:    samples,
		windowSize: opts.WindowSize,
		realtime:   opts.Realtime,
		chunks:     make(chan Chunk, 4),
		done:       make(chan struct{}),
	}
	s.available.Store(true)
	go s.stream()
	return s, nil
}

func (s *FileSource) SampleRate() int      { return s.sampleRate }
func (s *FileSource) Channels() int        { return s.channels }
func (s *FileSource) Live() bool           { return false }
func (s *FileSource) Available() bool      { return s.available.Load() }
func (s *FileSource) Chunks() <-chan Chunk { return s.chunks }

// Close stops playback. Idempotent.
func (s *FileSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *FileSource) stream() {
	defer close(s.chunks)
	defer s.available.Store(false)

	window := int(float64(s.sampleRate) * s.windowSize.Seconds())
	if window <= 0 {
		window = 400
	}

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.windowSize)
		defer ticker.Stop()
	}

	for off := 0; off < len(s.samples); off += window {
		end := off + window
		if end > len(s.samples) {
			end = len(s.samples)
		}
		chunk := Chunk{Samples: s.samples[off:end], Timestamp: time.Now()}

		if ticker != nil {
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
		select {
		case <-s.done:
			return
		case s.chunks <- chunk:
		}
	}
}

// decodeWAV reads a canonical RIFF/WAVE file with 16-bit PCM data.
func decodeWAV(r io.Reader) (sampleRate, channels int, samples []int16, err error) {
	var riff [12]byte
	if _, err = io.ReadFull(r, riff[:]); err != nil {
		return 0, 0, nil, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return 0, 0, nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrInvalidFormat)
	}

	var (
		bitsPerSample int
		data          []byte
	)
	for {
		var hdr [8]byte
		if _, err = io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return 0, 0, nil, err
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			fmtChunk := make([]byte, size)
			if _, err = io.ReadFull(r, fmtChunk); err != nil {
				return 0, 0, nil, err
			}
			format := binary.LittleEndian.Uint16(fmtChunk[0:2])
			if format != 1 { // PCM only
				return 0, 0, nil, fmt.Errorf("%w: compression format %d", ErrInvalidFormat, format)
			}
			channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(fmtChunk[14:16]))
		case "data":
			data = make([]byte, size)
			if _, err = io.ReadFull(r, data); err != nil {
				return 0, 0, nil, err
			}
		default:
			// skip unknown chunks (LIST, fact, ...)
			if _, err = io.CopyN(io.Discard, r, int64(size)); err != nil {
				return 0, 0, nil, err
			}
		}
		if size%2 == 1 {
			io.CopyN(io.Discard, r, 1) // chunk padding
		}
		if sampleRate != 0 && data != nil {
			break
		}
	}

	if sampleRate == 0 || data == nil {
		return 0, 0, nil, fmt.Errorf("%w: missing fmt or data chunk", ErrInvalidFormat)
	}
	if bitsPerSample != 16 {
		return 0, 0, nil, fmt.Errorf("%w: %d-bit samples (want 16)", ErrInvalidFormat, bitsPerSample)
	}
	if channels < 1 || channels > 2 {
		return 0, 0, nil, fmt.Errorf("%w: %d channels", ErrInvalidFormat, channels)
	}

	return sampleRate, channels, BytesToSamples(data), nil
}

package audio

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// RTPSource receives uncompressed L16 PCM over RTP (RFC 3551) on a UDP
// socket. This is the transport shape remote speech providers hand us
// when the session is not driving local capture. Out-of-order packets
// are dropped, not reordered.
type RTPSource struct {
	sampleRate int
	conn       *net.UDPConn
	logger     zerolog.Logger

	chunks    chan Chunk
	closeOnce sync.Once
	available atomic.Bool
}

// NewRTPSource binds addr (e.g. ":5004") and starts reading packets.
func NewRTPSource(addr string, sampleRate int, logger zerolog.Logger) (*RTPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := &RTPSource{
		sampleRate: sampleRate,
		conn:       conn,
		logger:     logger.With().Str("component", "rtp_source").Logger(),
		chunks:     make(chan Chunk, 8),
	}
	s.available.Store(true)
	go s.readLoop()
	return s, nil
}

func (s *RTPSource) SampleRate() int      { return s.sampleRate }
func (s *RTPSource) Channels() int        { return 1 }
func (s *RTPSource) Live() bool           { return true }
func (s *RTPSource) Available() bool      { return s.available.Load() }
func (s *RTPSource) Chunks() <-chan Chunk { return s.chunks }

// Close releases the socket. Idempotent.
func (s *RTPSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.available.Store(false)
		err = s.conn.Close()
	})
	return err
}

func (s *RTPSource) readLoop() {
	defer close(s.chunks)
	defer s.available.Store(false)

	buf := make([]byte, 1500)
	var lastSeq uint16
	haveSeq := false

	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Msg("rtp read failed")
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debug().Err(err).Msg("dropping malformed rtp packet")
			continue
		}

		if haveSeq && seqOlder(pkt.SequenceNumber, lastSeq) {
			s.logger.Debug().
				Uint16("seq", pkt.SequenceNumber).
				Uint16("last", lastSeq).
				Msg("dropping out-of-order rtp packet")
			continue
		}
		lastSeq = pkt.SequenceNumber
		haveSeq = true

		samples := decodeL16(pkt.Payload)
		if len(samples) == 0 {
			continue
		}
		select {
		case s.chunks <- Chunk{Samples: samples, Timestamp: time.Now()}:
		default:
			// consumer lagging: drop this packet
		}
	}
}

// decodeL16 converts big-endian L16 payload bytes to samples.
func decodeL16(payload []byte) []int16 {
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(payload[i*2])<<8 | int16(payload[i*2+1])
	}
	return samples
}

// seqOlder reports whether a precedes b in RTP sequence order,
// accounting for wraparound.
func seqOlder(a, b uint16) bool {
	return a != b && b-a < 0x8000
}

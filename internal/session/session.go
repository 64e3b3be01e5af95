// Package session owns the audio-source lifecycle and drives the
// classification pipeline: acquisition, reconnection, per-frame
// processing, and throttled dispatch of viseme state to the consumer.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/audio"
	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/classify"
	"github.com/normanking/lipsync/internal/template"
	"github.com/normanking/lipsync/internal/viseme"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// Common errors
var (
	ErrAlreadyStarted     = errors.New("session already started")
	ErrNoSource           = errors.New("no audio source and no provider configured")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// strategy selects the classification path, decided once at start
// based on extractor availability.
type strategy int

const (
	strategyCepstral strategy = iota
	strategyFormant
)

// Config holds the per-session tuning.
type Config struct {
	Sensitivity         float64
	IntensityMultiplier float64
	MinIntensity        float64
	Smoothing           float64

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// SettleDelay throttles the per-frame callback rate independent of
	// the underlying frame rate.
	SettleDelay time.Duration
	// ClassifyBudget bounds per-frame classification time; results
	// arriving over budget are dropped and logged, never surfaced.
	ClassifyBudget time.Duration
	// SpectrumSize is the FFT size for fallback-mode analysis.
	SpectrumSize int
}

// DefaultConfig returns the standard session tuning.
func DefaultConfig() Config {
	return Config{
		Sensitivity:          0.5,
		IntensityMultiplier:  1.5,
		MinIntensity:         0.05,
		Smoothing:            0.3,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       500 * time.Millisecond,
		SettleDelay:          30 * time.Millisecond,
		ClassifyBudget:       50 * time.Millisecond,
		SpectrumSize:         512,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.ClassifyBudget <= 0 {
		c.ClassifyBudget = d.ClassifyBudget
	}
	if c.SpectrumSize <= 0 {
		c.SpectrumSize = d.SpectrumSize
	}
	// IntensityMultiplier 0 sits below its [1,8] range and means "use
	// the default"; Sensitivity 0 is in range (strictest) and is kept.
	if c.IntensityMultiplier == 0 {
		c.IntensityMultiplier = d.IntensityMultiplier
	}
	return c
}

// Session runs one classification pipeline over one audio source. All
// frame processing happens on a single worker; independent sessions
// share only the immutable template bank.
type Session struct {
	id     string
	cfg    Config
	params classify.Params

	bank      *template.Bank
	extractor audio.FeatureExtractor
	provider  audio.Provider
	eventBus  *bus.EventBus
	logger    zerolog.Logger

	classifier *classify.Classifier
	shaper     *classify.Shaper
	formant    *classify.FormantClassifier

	mu       sync.Mutex
	state    State
	source   audio.Source
	cancel   context.CancelFunc
	swapCh   chan audio.Source
	strategy strategy

	// per-frame reentrancy guard: overlapping frames are dropped, not
	// queued, keeping latency bounded
	processing  atomic.Bool
	settleUntil atomic.Int64 // unixnano

	// pendingBank hands a calibration reload to the worker, which applies
	// it between frames since the classifier is single-threaded
	pendingBank atomic.Pointer[template.Bank]

	cbMu     sync.RWMutex
	onViseme func(viseme.State)
	onError  func(error)

	dispatchMu    sync.Mutex
	lastState     viseme.State
	lastDispatch  time.Time
	terminal      bool
	zeroOnce      sync.Once
	errorReported bool

	// deliverMu serializes consumer callbacks so the forced zero state
	// can never interleave with an in-flight frame delivery
	deliverMu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithBank injects an alternate template bank (per-speaker
// calibration). Defaults to the seeded bank.
func WithBank(b *template.Bank) Option {
	return func(s *Session) { s.bank = b }
}

// WithExtractor wires the external cepstral feature extractor. When
// absent the session silently runs the formant fallback.
func WithExtractor(e audio.FeatureExtractor) Option {
	return func(s *Session) { s.extractor = e }
}

// WithProvider wires the source provider used for initial acquisition
// (when Start gets no source) and for reconnection.
func WithProvider(p audio.Provider) Option {
	return func(s *Session) { s.provider = p }
}

// WithEventBus publishes lifecycle and viseme events to a bus in
// addition to the direct callbacks.
func WithEventBus(b *bus.EventBus) Option {
	return func(s *Session) { s.eventBus = b }
}

// New creates an idle session.
func New(cfg Config, logger zerolog.Logger, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	params := classify.Params{
		Sensitivity:         cfg.Sensitivity,
		IntensityMultiplier: cfg.IntensityMultiplier,
		MinIntensity:        cfg.MinIntensity,
		Smoothing:           cfg.Smoothing,
	}.Normalize()

	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		params:    params,
		state:     StateIdle,
		swapCh:    make(chan audio.Source, 1),
		lastState: viseme.NewState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bank == nil {
		s.bank = template.Default()
	}

	s.logger = logger.With().Str("component", "session").Str("session_id", s.id).Logger()
	s.classifier = classify.NewClassifier(s.bank, params, s.logger)
	s.shaper = classify.NewShaper(params)
	s.formant = classify.NewFormantClassifier(params, s.logger)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnVisemeUpdate registers the consumer callback. Each delivered state
// is the authoritative target for that instant.
func (s *Session) OnVisemeUpdate(fn func(viseme.State)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onViseme = fn
}

// OnError registers the fatal-error callback. It fires at most once
// per session.
func (s *Session) OnError(fn func(error)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onError = fn
}

// Start acquires a source and begins processing. A nil src defers to
// the configured provider (local capture fallback). ctx bounds
// acquisition only; processing runs until Stop.
func (s *Session) Start(ctx context.Context, src audio.Source) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.setStateLocked(StateStarting)
	s.mu.Unlock()

	if src == nil {
		if s.provider == nil {
			s.fail(ErrNoSource)
			return ErrNoSource
		}
		acquired, err := s.provider.Acquire(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("initial source acquisition failed")
			s.fail(audio.ErrSourceUnavailable)
			return audio.ErrSourceUnavailable
		}
		src = acquired
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.source = src
	s.cancel = cancel
	s.strategy = s.selectStrategy()
	s.setStateLocked(StateRunning)
	s.mu.Unlock()

	s.publish(bus.EventTypeSourceAcquired, map[string]any{
		"live":        src.Live(),
		"sample_rate": src.SampleRate(),
	})

	go s.run(runCtx)
	return nil
}

// UpdateSource hot-swaps the audio source without a full restart. The
// previous source is released by the worker once the swap lands.
func (s *Session) UpdateSource(src audio.Source) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StateRunning && st != StateReconnecting {
		return
	}

	// single-slot mailbox: a newer swap replaces an unconsumed one
	for {
		select {
		case s.swapCh <- src:
			s.publish(bus.EventTypeSourceChanged, map[string]any{"live": src.Live()})
			return
		default:
			select {
			case stale := <-s.swapCh:
				stale.Close()
			default:
			}
		}
	}
}

// SetBank queues a replacement template bank (calibration reload). The
// worker picks it up before the next frame; suppression state resets.
func (s *Session) SetBank(bank *template.Bank) {
	if bank == nil {
		return
	}
	s.pendingBank.Store(bank)
	s.publish(bus.EventTypeBankReloaded, map[string]any{"templates": bank.Size()})
}

// Stop tears the session down: cancels reconnection timers, releases
// the source, and dispatches one all-zero state. Idempotent, and safe
// to call from within a classification callback.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateStopped)
	cancel := s.cancel
	src := s.source
	s.source = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		src.Close()
	}
	s.dispatchZero()
}

// selectStrategy picks the classification path once, at start.
func (s *Session) selectStrategy() strategy {
	if s.extractor != nil {
		return strategyCepstral
	}
	s.logger.Info().Msg("feature extractor unavailable, using formant fallback")
	s.publish(bus.EventTypeFallbackEngaged, nil)
	return strategyFormant
}

func (s *Session) setStateLocked(next State) {
	prev := s.state
	s.state = next
	if prev != next {
		s.logger.Info().Str("old", string(prev)).Str("new", string(next)).Msg("session state changed")
		s.publish(bus.EventTypeSessionStateChanged, map[string]any{
			"old_state": string(prev),
			"new_state": string(next),
		})
	}
}

// fail moves the session to Failed, tears down, reports the fatal
// error exactly once, and forces a single all-zero dispatch.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateFailed)
	cancel := s.cancel
	src := s.source
	s.source = nil
	s.cancel = nil
	report := !s.errorReported
	s.errorReported = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		src.Close()
	}

	if report {
		s.logger.Error().Err(err).Msg("session failed")
		s.publish(bus.EventTypeSessionFailed, map[string]any{"error": err.Error()})
		s.cbMu.RLock()
		cb := s.onError
		s.cbMu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
	s.dispatchZero()
}

func (s *Session) publish(t bus.EventType, data map[string]any) {
	if s.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = s.id
	s.eventBus.Publish(bus.Event{Type: t, Data: data})
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/lipsync/internal/audio"
	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/template"
	"github.com/normanking/lipsync/internal/viseme"
)

// stubExtractor hands the session a pre-made frame channel.
type stubExtractor struct {
	frames chan audio.FeatureFrame
	err    error
}

func (e *stubExtractor) Extract(ctx context.Context, src audio.Source) (<-chan audio.FeatureFrame, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.frames, nil
}

// testBank builds a tiny bank where coefficient distance is obvious:
// frame [10] is an exact A, frame [0] is silence.
func testBank(t *testing.T) *template.Bank {
	t.Helper()
	bank, err := template.Load(map[viseme.Viseme][]template.Template{
		viseme.VisemeA: {{Frames: [][]float64{{10}}}},
		viseme.VisemeU: {{Frames: [][]float64{{60}}}},
		viseme.Silence: {{Frames: [][]float64{{0}}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return bank
}

func testConfig() Config {
	return Config{
		Sensitivity:          0.5,
		IntensityMultiplier:  1.5,
		MinIntensity:         0.05,
		Smoothing:            0,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       5 * time.Millisecond,
		SettleDelay:          time.Nanosecond,
		ClassifyBudget:       time.Second,
		SpectrumSize:         512,
	}
}

// collector records dispatched states thread-safely.
type collector struct {
	mu     sync.Mutex
	states []viseme.State
}

func (c *collector) add(st viseme.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, st.Clone())
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

func (c *collector) last() viseme.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		return nil
	}
	return c.states[len(c.states)-1].Clone()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	d := DefaultConfig()
	if cfg.MaxReconnectAttempts != d.MaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want %d", cfg.MaxReconnectAttempts, d.MaxReconnectAttempts)
	}
	if cfg.IntensityMultiplier != d.IntensityMultiplier {
		t.Errorf("IntensityMultiplier = %v, want %v", cfg.IntensityMultiplier, d.IntensityMultiplier)
	}
	// zero sensitivity is the documented low end, not "unset"
	if cfg.Sensitivity != 0 {
		t.Errorf("Sensitivity = %v, want 0 kept as-is", cfg.Sensitivity)
	}

	explicit := Config{Sensitivity: 0.9, IntensityMultiplier: 3}.withDefaults()
	if explicit.Sensitivity != 0.9 || explicit.IntensityMultiplier != 3 {
		t.Errorf("explicit tuning overwritten: %+v", explicit)
	}
}

func TestSession_StartTwice(t *testing.T) {
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)))
	src := audio.NewPushSource(16000)
	defer s.Stop()

	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background(), src); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: got %v, want ErrAlreadyStarted", err)
	}
}

func TestSession_StartWithoutSourceOrProvider(t *testing.T) {
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)))

	var reported atomic.Int32
	s.OnError(func(err error) {
		if errors.Is(err, ErrNoSource) {
			reported.Add(1)
		}
	})

	if err := s.Start(context.Background(), nil); !errors.Is(err, ErrNoSource) {
		t.Fatalf("got %v, want ErrNoSource", err)
	}
	if st := s.State(); st != StateFailed {
		t.Errorf("state = %s, want failed", st)
	}
	if n := reported.Load(); n != 1 {
		t.Errorf("onError fired %d times, want 1", n)
	}
}

func TestSession_DispatchesClassifiedFrames(t *testing.T) {
	ext := &stubExtractor{frames: make(chan audio.FeatureFrame, 8)}
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)), WithExtractor(ext))

	var c collector
	s.OnVisemeUpdate(c.add)

	src := audio.NewPushSource(16000)
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	ext.frames <- audio.FeatureFrame{Coefficients: []float64{10}, Timestamp: time.Now()}

	waitFor(t, func() bool { return c.len() >= 1 }, "no viseme dispatched")
	if dom, intensity := c.last().Dominant(); dom != viseme.VisemeA || intensity <= 0 {
		t.Errorf("dominant = %s @ %f, want A with positive intensity", dom, intensity)
	}
}

func TestSession_UpdateSuppression(t *testing.T) {
	ext := &stubExtractor{frames: make(chan audio.FeatureFrame, 16)}
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)), WithExtractor(ext))

	var c collector
	s.OnVisemeUpdate(c.add)

	if err := s.Start(context.Background(), audio.NewPushSource(16000)); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// identical frames: same category, identical intensity
	base := time.Now()
	for i := 0; i < 10; i++ {
		ext.frames <- audio.FeatureFrame{
			Coefficients: []float64{10},
			Timestamp:    base.Add(time.Duration(i) * 10 * time.Millisecond),
		}
		time.Sleep(time.Millisecond)
	}

	waitFor(t, func() bool { return c.len() >= 1 }, "no viseme dispatched")
	time.Sleep(50 * time.Millisecond)
	if n := c.len(); n != 1 {
		t.Errorf("identical frames produced %d dispatches, want 1", n)
	}
}

func TestSession_MalformedFramesSkipped(t *testing.T) {
	ext := &stubExtractor{frames: make(chan audio.FeatureFrame, 8)}
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)), WithExtractor(ext))

	var c collector
	s.OnVisemeUpdate(c.add)

	if err := s.Start(context.Background(), audio.NewPushSource(16000)); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	ext.frames <- audio.FeatureFrame{Coefficients: nil, Timestamp: time.Now()}
	ext.frames <- audio.FeatureFrame{Coefficients: []float64{10}, Timestamp: time.Now()}

	waitFor(t, func() bool { return c.len() >= 1 }, "valid frame never dispatched")
	if dom, _ := c.last().Dominant(); dom != viseme.VisemeA {
		t.Errorf("dominant = %s, want A", dom)
	}
}

func TestSession_StopIdempotentAndZeroState(t *testing.T) {
	ext := &stubExtractor{frames: make(chan audio.FeatureFrame, 8)}
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)), WithExtractor(ext))

	var c collector
	s.OnVisemeUpdate(c.add)

	if err := s.Start(context.Background(), audio.NewPushSource(16000)); err != nil {
		t.Fatal(err)
	}

	ext.frames <- audio.FeatureFrame{Coefficients: []float64{10}, Timestamp: time.Now()}
	waitFor(t, func() bool { return c.len() >= 1 }, "no viseme dispatched before stop")
	before := c.len()

	s.Stop()
	s.Stop()
	s.Stop()

	if st := s.State(); st != StateStopped {
		t.Errorf("state = %s, want stopped", st)
	}
	// exactly one zero dispatch regardless of repeated stops
	waitFor(t, func() bool { return c.len() == before+1 }, "zero state never dispatched")
	time.Sleep(20 * time.Millisecond)
	if n := c.len(); n != before+1 {
		t.Errorf("stop produced %d extra dispatches, want 1", n-before)
	}
	if !c.last().IsZero() {
		t.Errorf("final state not zero: %v", c.last())
	}
}

func TestSession_NoDispatchAfterStop(t *testing.T) {
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)))

	var c collector
	s.OnVisemeUpdate(c.add)

	if err := s.Start(context.Background(), audio.NewPushSource(16000)); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	waitFor(t, func() bool { return c.len() == 1 }, "zero state never dispatched")

	// a frame that was in flight when Stop landed must be refused, not
	// delivered after the zero state
	late := viseme.NewState()
	late[viseme.VisemeA] = 0.9
	s.dispatch(late, time.Now())

	time.Sleep(20 * time.Millisecond)
	if n := c.len(); n != 1 {
		t.Fatalf("late frame delivered after stop (%d dispatches)", n)
	}
	if !c.last().IsZero() {
		t.Errorf("final state after stop is non-zero: %v", c.last())
	}
	if !s.LastState().IsZero() {
		t.Errorf("LastState after stop is non-zero: %v", s.LastState())
	}
}

func TestSession_ReconnectExhaustion(t *testing.T) {
	var attempts atomic.Int32
	provider := audio.ProviderFunc(func(ctx context.Context) (audio.Source, error) {
		attempts.Add(1)
		return nil, audio.ErrSourceUnavailable
	})

	cfg := testConfig()
	s := New(cfg, zerolog.Nop(), WithBank(testBank(t)), WithProvider(provider))

	var errCount atomic.Int32
	errCh := make(chan error, 1)
	s.OnError(func(err error) {
		errCount.Add(1)
		select {
		case errCh <- err:
		default:
		}
	})

	src := audio.NewPushSource(16000)
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	// losing the source triggers the bounded reconnect policy
	src.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("got %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onError never fired")
	}

	waitFor(t, func() bool { return s.State() == StateFailed }, "session never reached failed")
	if n := attempts.Load(); n != int32(cfg.MaxReconnectAttempts) {
		t.Errorf("provider called %d times, want %d", n, cfg.MaxReconnectAttempts)
	}
	time.Sleep(20 * time.Millisecond)
	if n := errCount.Load(); n != 1 {
		t.Errorf("onError fired %d times, want 1", n)
	}
}

func TestSession_ReconnectRecovers(t *testing.T) {
	replacement := audio.NewPushSource(16000)
	var attempts atomic.Int32
	provider := audio.ProviderFunc(func(ctx context.Context) (audio.Source, error) {
		if attempts.Add(1) < 2 {
			return nil, audio.ErrSourceUnavailable
		}
		return replacement, nil
	})

	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)), WithProvider(provider))
	defer s.Stop()

	src := audio.NewPushSource(16000)
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	src.Close() // stream ends: source lost

	waitFor(t, func() bool { return s.State() == StateRunning && attempts.Load() >= 2 },
		"session never recovered")
}

func TestSession_UpdateSourceSwaps(t *testing.T) {
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)))

	old := audio.NewPushSource(16000)
	if err := s.Start(context.Background(), old); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	next := audio.NewPushSource(16000)
	s.UpdateSource(next)
	// the swap lands once the worker observes the mailbox; nudge it
	old.Push(make([]int16, 400))

	waitFor(t, func() bool { return !old.Available() }, "old source never released")
	if !next.Available() {
		t.Error("replacement source closed unexpectedly")
	}
}

func TestSession_UpdateSourceIgnoredWhenIdle(t *testing.T) {
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)))
	src := audio.NewPushSource(16000)
	s.UpdateSource(src)
	if !src.Available() {
		t.Error("source closed by idle session")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestDispatch_DiscardsOutOfOrder(t *testing.T) {
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)))

	var c collector
	s.OnVisemeUpdate(c.add)

	now := time.Now()
	current := viseme.NewState()
	current[viseme.VisemeA] = 0.8
	s.dispatch(current, now)

	stale := viseme.NewState()
	stale[viseme.VisemeO] = 0.5
	s.dispatch(stale, now.Add(-time.Second))

	if n := c.len(); n != 1 {
		t.Fatalf("got %d dispatches, want 1", n)
	}
	if dom, _ := s.LastState().Dominant(); dom != viseme.VisemeA {
		t.Errorf("stale frame overwrote state: dominant = %s", dom)
	}
}

func TestDispatch_Smoothing(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = 0.5
	s := New(cfg, zerolog.Nop(), WithBank(testBank(t)))

	target := viseme.NewState()
	target[viseme.VisemeA] = 1.0

	now := time.Now()
	s.dispatch(target.Clone(), now)
	if got := s.LastState()[viseme.VisemeA]; got != 0.5 {
		t.Errorf("first dispatch: A = %f, want 0.5", got)
	}
	s.dispatch(target.Clone(), now.Add(time.Millisecond))
	if got := s.LastState()[viseme.VisemeA]; got != 0.75 {
		t.Errorf("second dispatch: A = %f, want 0.75", got)
	}

	// silence bypasses smoothing and resets hard
	s.dispatch(viseme.NewState(), now.Add(2*time.Millisecond))
	if !s.LastState().IsZero() {
		t.Errorf("silence did not reset state: %v", s.LastState())
	}
}

func TestSession_PublishesLifecycleEvents(t *testing.T) {
	b := bus.NewEventBus()

	var mu sync.Mutex
	transitions := make(map[string]bool)
	b.Subscribe(bus.EventTypeSessionStateChanged, func(e bus.Event) {
		mu.Lock()
		transitions[e.Data["new_state"].(string)] = true
		mu.Unlock()
	})
	var acquired atomic.Int32
	b.Subscribe(bus.EventTypeSourceAcquired, func(bus.Event) { acquired.Add(1) })

	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)), WithEventBus(b))
	if err := s.Start(context.Background(), audio.NewPushSource(16000)); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	saw := func(state string) bool {
		mu.Lock()
		defer mu.Unlock()
		return transitions[state]
	}
	waitFor(t, func() bool { return saw("starting") && saw("running") && saw("stopped") },
		"lifecycle transitions never published")
	waitFor(t, func() bool { return acquired.Load() == 1 }, "source acquisition never published")
}

func TestSession_SetBankAppliedBetweenFrames(t *testing.T) {
	ext := &stubExtractor{frames: make(chan audio.FeatureFrame, 8)}
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)), WithExtractor(ext))

	var c collector
	s.OnVisemeUpdate(c.add)

	if err := s.Start(context.Background(), audio.NewPushSource(16000)); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	// in the replacement bank the same frame is an exact O
	recalibrated, err := template.Load(map[viseme.Viseme][]template.Template{
		viseme.VisemeO: {{Frames: [][]float64{{10}}}},
		viseme.Silence: {{Frames: [][]float64{{0}}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.SetBank(recalibrated)

	ext.frames <- audio.FeatureFrame{Coefficients: []float64{10}, Timestamp: time.Now()}
	waitFor(t, func() bool { return c.len() >= 1 }, "no viseme dispatched")
	if dom, _ := c.last().Dominant(); dom != viseme.VisemeO {
		t.Errorf("dominant = %s, want O after calibration reload", dom)
	}
}

func TestSession_FormantFallbackWithoutExtractor(t *testing.T) {
	s := New(testConfig(), zerolog.Nop(), WithBank(testBank(t)))
	src := audio.NewPushSource(16000)
	if err := s.Start(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	var c collector
	s.OnVisemeUpdate(c.add)

	// silent PCM must never produce a nonzero viseme
	for i := 0; i < 5; i++ {
		src.Push(make([]int16, 512))
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	for _, st := range c.states {
		if !st.IsZero() {
			t.Errorf("silence produced nonzero state: %v", st)
		}
	}
	c.mu.Unlock()
}

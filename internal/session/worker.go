package session

import (
	"context"
	"time"

	"github.com/normanking/lipsync/internal/audio"
	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/viseme"
)

// feedEnd tells the outer loop why an inner feed loop returned.
type feedEnd int

const (
	endCancelled feedEnd = iota
	endSwapped
	endSourceLost
)

// run is the single logical worker for the session. All ingestion,
// classification, and shaping execute sequentially here.
func (s *Session) run(ctx context.Context) {
	for {
		s.mu.Lock()
		src := s.source
		strat := s.strategy
		s.mu.Unlock()
		if src == nil {
			return // stopped or failed underneath us
		}

		var end feedEnd
		switch strat {
		case strategyCepstral:
			end = s.runCepstral(ctx, src)
		case strategyFormant:
			end = s.runFormant(ctx, src)
		}

		switch end {
		case endCancelled:
			return
		case endSwapped:
			continue
		case endSourceLost:
			s.publish(bus.EventTypeSourceLost, nil)
			if !s.reconnect(ctx) {
				return
			}
		}
	}
}

// runCepstral consumes feature frames from the external extractor. If
// the extractor cannot start it is not an error: the session drops to
// the formant strategy silently.
func (s *Session) runCepstral(ctx context.Context, src audio.Source) feedEnd {
	frames, err := s.extractor.Extract(ctx, src)
	if err != nil {
		s.logger.Info().Err(err).Msg("extractor failed to start, switching to formant fallback")
		s.mu.Lock()
		s.strategy = strategyFormant
		s.mu.Unlock()
		s.publish(bus.EventTypeFallbackEngaged, nil)
		return endSwapped // re-enter the outer loop with the new strategy
	}

	for {
		select {
		case <-ctx.Done():
			return endCancelled
		case next := <-s.swapCh:
			s.swapSource(src, next)
			return endSwapped
		case frame, ok := <-frames:
			if !ok {
				return endSourceLost
			}
			s.processFrame(frame)
		}
	}
}

// runFormant consumes raw PCM windows and classifies via spectral
// formant peaks.
func (s *Session) runFormant(ctx context.Context, src audio.Source) feedEnd {
	analyzer := audio.NewSpectrumAnalyzer(s.cfg.SpectrumSize, src.SampleRate())

	for {
		select {
		case <-ctx.Done():
			return endCancelled
		case next := <-s.swapCh:
			s.swapSource(src, next)
			return endSwapped
		case chunk, ok := <-src.Chunks():
			if !ok {
				return endSourceLost
			}
			s.processChunk(analyzer, chunk)
		}
	}
}

func (s *Session) swapSource(old, next audio.Source) {
	old.Close()
	s.mu.Lock()
	s.source = next
	s.mu.Unlock()
	s.classifier.Reset()
	s.logger.Info().Bool("live", next.Live()).Msg("audio source swapped")
}

// reconnect runs the bounded reacquisition policy. Returns false when
// the session is finished (failed or cancelled).
func (s *Session) reconnect(ctx context.Context) bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.ReconnectDelay)
	defer timer.Stop()

	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
		}

		s.logger.Info().Int("attempt", attempt).Int("max", s.cfg.MaxReconnectAttempts).Msg("reacquiring audio source")
		s.publish(bus.EventTypeSourceReconnecting, map[string]any{"attempt": attempt})

		if s.provider != nil {
			src, err := s.provider.Acquire(ctx)
			if err == nil && src != nil && src.Available() {
				s.mu.Lock()
				if s.state != StateReconnecting {
					s.mu.Unlock()
					src.Close()
					return false
				}
				s.source = src
				s.setStateLocked(StateRunning)
				s.mu.Unlock()
				s.classifier.Reset()
				s.publish(bus.EventTypeSourceAcquired, map[string]any{"live": src.Live()})
				return true
			}
			if err != nil {
				s.logger.Warn().Err(err).Int("attempt", attempt).Msg("reacquisition failed")
			}
		}

		timer.Reset(s.cfg.ReconnectDelay)
	}

	s.fail(ErrReconnectExhausted)
	return false
}

// processFrame runs one feature frame through classify → accept →
// shape → suppress → dispatch. Overlapping invocations are dropped,
// not queued.
func (s *Session) processFrame(frame audio.FeatureFrame) {
	if !frame.Valid() {
		s.logger.Debug().Msg("skipping malformed feature frame")
		return
	}
	if !s.beginProcessing() {
		return
	}
	defer s.processing.Store(false)

	started := time.Now()
	result := s.classifier.ClassifyFrame(frame)
	if elapsed := time.Since(started); elapsed > s.cfg.ClassifyBudget {
		s.logger.Warn().Dur("elapsed", elapsed).Msg("classification over budget, dropping frame")
		s.publish(bus.EventTypeFrameDropped, map[string]any{"elapsed_ms": elapsed.Milliseconds()})
		return
	}

	if !s.classifier.Accept(result) {
		return
	}
	intensity := s.shaper.Intensity(result)
	if !s.classifier.ShouldForward(result, intensity) {
		return
	}

	s.dispatch(s.shaper.Compose(result.Category, intensity), result.Timestamp)
	s.settleUntil.Store(time.Now().Add(s.cfg.SettleDelay).UnixNano())
}

// processChunk is the fallback-mode equivalent over a raw PCM window.
func (s *Session) processChunk(analyzer *audio.SpectrumAnalyzer, chunk audio.Chunk) {
	if len(chunk.Samples) == 0 {
		return
	}
	if !s.beginProcessing() {
		return
	}
	defer s.processing.Store(false)

	started := time.Now()
	spectrum := analyzer.PowerSpectrum(chunk.Samples)
	result := s.formant.Classify(spectrum, analyzer.BinWidth(), chunk.Timestamp)
	intensity := s.formant.Intensity(spectrum, analyzer.BinWidth(), result)
	if elapsed := time.Since(started); elapsed > s.cfg.ClassifyBudget {
		s.logger.Warn().Dur("elapsed", elapsed).Msg("fallback classification over budget, dropping frame")
		s.publish(bus.EventTypeFrameDropped, map[string]any{"elapsed_ms": elapsed.Milliseconds()})
		return
	}

	if !s.classifier.ShouldForward(result, intensity) {
		return
	}

	s.dispatch(s.shaper.Compose(result.Category, intensity), result.Timestamp)
	s.settleUntil.Store(time.Now().Add(s.cfg.SettleDelay).UnixNano())
}

// beginProcessing implements drop-if-busy plus the settle delay:
// frames arriving while the previous one is in flight, or inside the
// settle window after a dispatch, are discarded.
func (s *Session) beginProcessing() bool {
	if time.Now().UnixNano() < s.settleUntil.Load() {
		return false
	}
	if !s.processing.CompareAndSwap(false, true) {
		return false
	}
	if bank := s.pendingBank.Swap(nil); bank != nil {
		s.classifier.SetBank(bank)
		s.logger.Info().Int("templates", bank.Size()).Msg("template bank reloaded")
	}
	return true
}

// dispatch delivers a state to the consumer in non-decreasing
// timestamp order, with temporal smoothing toward the previous state.
// Out-of-order frames (a reconnection racing in-flight processing) are
// discarded rather than reordered, and nothing is delivered once the
// session has gone terminal.
func (s *Session) dispatch(next viseme.State, ts time.Time) {
	s.dispatchMu.Lock()
	if s.terminal {
		s.dispatchMu.Unlock()
		return
	}
	if !s.lastDispatch.IsZero() && ts.Before(s.lastDispatch) {
		s.dispatchMu.Unlock()
		return
	}

	if !next.IsZero() && s.params.Smoothing > 0 {
		// silence resets hard; everything else eases in
		for _, v := range viseme.Vowels() {
			next[v] = s.lastState[v]*s.params.Smoothing + next[v]*(1-s.params.Smoothing)
		}
		next.Clamp()
	}

	s.lastDispatch = ts
	s.lastState = next.Clone()
	s.dispatchMu.Unlock()

	s.deliver(next)
}

// dispatchZero forces a single all-zero dispatch on entering Stopped
// or Failed. The terminal flag is raised first so a frame still in
// flight cannot land after it; delivery runs on its own goroutine,
// queued behind any callback already executing, which keeps zero the
// last state the consumer sees and keeps Stop safe to call from
// within a classification callback.
func (s *Session) dispatchZero() {
	s.zeroOnce.Do(func() {
		zero := viseme.NewState()
		s.dispatchMu.Lock()
		s.terminal = true
		s.lastState = zero.Clone()
		s.dispatchMu.Unlock()
		go s.deliver(zero)
	})
}

func (s *Session) deliver(st viseme.State) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.cbMu.RLock()
	cb := s.onViseme
	s.cbMu.RUnlock()
	if cb != nil {
		cb(st)
	}

	if s.eventBus != nil {
		dominant, intensity := st.Dominant()
		s.publish(bus.EventTypeVisemeUpdated, map[string]any{
			"dominant":  string(dominant),
			"intensity": intensity,
		})
	}
}

// LastState returns a copy of the most recently dispatched state.
func (s *Session) LastState() viseme.State {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	return s.lastState.Clone()
}

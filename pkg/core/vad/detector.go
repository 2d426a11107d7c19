package vad

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// engine owns the lifecycle shared by both detector strategies: state
// tracking, source wiring, segmentation, and callback dispatch. The strategy
// provides load and per-frame classification.
type engine struct {
	source Source
	cb     Callbacks
	logger *slog.Logger

	load     func(ctx context.Context) error
	classify func(frame []float32, active bool) (bool, error)
	unload   func()

	mu      sync.Mutex
	state   State
	loadErr error
	seg     *capture
}

func newEngine(source Source, cb Callbacks, logger *slog.Logger, seg *capture) *engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &engine{
		source: source,
		cb:     cb,
		logger: logger,
		seg:    seg,
		state:  StateUninitialized,
	}
}

func (e *engine) Load(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case StateReady, StateListening, StateSpeaking:
		e.mu.Unlock()
		return nil
	case StateLoading:
		e.mu.Unlock()
		return fmt.Errorf("vad: load already in progress")
	}
	e.state = StateLoading
	e.mu.Unlock()

	err := ctx.Err()
	if err == nil && e.load != nil {
		err = e.load(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.state = StateFailed
		e.loadErr = err
		e.logger.Error("vad: load failed", "error", err)
		return err
	}
	e.state = StateReady
	return nil
}

func (e *engine) Start() error {
	e.mu.Lock()
	switch e.state {
	case StateListening, StateSpeaking:
		e.mu.Unlock()
		return nil
	case StateFailed:
		loadErr := e.loadErr
		e.mu.Unlock()
		return fmt.Errorf("vad: detector failed: %w", loadErr)
	case StateReady:
	default:
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.seg.reset()
	e.state = StateListening
	e.mu.Unlock()

	if err := e.source.Start(e.handleFrame); err != nil {
		e.mu.Lock()
		e.state = StateFailed
		e.loadErr = fmt.Errorf("microphone unavailable: %w", err)
		e.mu.Unlock()
		return e.loadErr
	}
	return nil
}

func (e *engine) Stop() error {
	e.mu.Lock()
	if e.state != StateListening && e.state != StateSpeaking {
		e.mu.Unlock()
		return nil
	}
	e.state = StateReady
	e.seg.reset()
	e.mu.Unlock()
	return e.source.Stop()
}

func (e *engine) Close() error {
	_ = e.Stop()
	e.mu.Lock()
	if e.unload != nil {
		e.unload()
		e.unload = nil
	}
	e.state = StateUninitialized
	e.mu.Unlock()
	return e.source.Close()
}

func (e *engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// handleFrame runs on the source goroutine. Callbacks fire outside the lock
// so a callback may call Stop without deadlocking.
func (e *engine) handleFrame(frame []float32) {
	e.mu.Lock()
	if e.state != StateListening && e.state != StateSpeaking {
		e.mu.Unlock()
		return
	}
	isSpeech, err := e.classify(frame, e.seg.isActive())
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("vad: frame classification failed", "error", err)
		return
	}
	ev := e.seg.processFrame(isSpeech, frame)
	if ev.Started {
		e.state = StateSpeaking
	}
	if ev.Ended || ev.Misfire {
		e.state = StateListening
	}
	cb := e.cb
	e.mu.Unlock()

	switch {
	case ev.Started:
		if cb.OnSpeechStart != nil {
			cb.OnSpeechStart()
		}
	case ev.Ended:
		if cb.OnSpeechEnd != nil {
			cb.OnSpeechEnd(ev.Samples)
		}
	case ev.Misfire:
		if cb.OnMisfire != nil {
			cb.OnMisfire()
		}
	}
}

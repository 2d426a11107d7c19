package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parley-go/parley-lite/pkg/core/vad"
)

// VoiceModeState describes the voice-mode coordinator.
type VoiceModeState int

const (
	VoiceOff VoiceModeState = iota
	VoiceArmedListening
	VoicePausedForProcessing
)

func (s VoiceModeState) String() string {
	switch s {
	case VoiceOff:
		return "off"
	case VoiceArmedListening:
		return "armed"
	case VoicePausedForProcessing:
		return "paused"
	default:
		return "unknown"
	}
}

// VoiceMode arms and pauses the detector around the request pipeline so that
// at most one utterance is ever in flight. The user's armed intent is tracked
// separately from the transient detector lifecycle: a pause for a network
// round-trip never cancels it.
type VoiceMode struct {
	detector vad.Detector
	orch     *Orchestrator
	client   *Client
	logger   *slog.Logger

	mu    sync.Mutex
	state VoiceModeState
	armed bool
}

// NewVoiceMode creates the coordinator. Wire HandleOrchestratorState as the
// orchestrator's OnStateChange callback and HandleUtterance as the detector's
// speech-end callback.
func NewVoiceMode(detector vad.Detector, orch *Orchestrator, client *Client, logger *slog.Logger) *VoiceMode {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceMode{detector: detector, orch: orch, client: client, logger: logger}
}

// State returns the coordinator state.
func (v *VoiceMode) State() VoiceModeState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Enable arms voice mode: it refuses while a request is in flight or the
// backend is unreachable, starts the detector, and records the armed intent.
// Enabling while already armed is a no-op.
func (v *VoiceMode) Enable(ctx context.Context) error {
	v.mu.Lock()
	if v.state != VoiceOff {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	if v.orch.State() != StateIdle {
		return ErrBusy
	}
	if err := v.client.Health(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	if err := v.detector.Start(); err != nil {
		return fmt.Errorf("parley: start detector: %w", err)
	}
	v.mu.Lock()
	v.armed = true
	v.state = VoiceArmedListening
	v.mu.Unlock()
	return nil
}

// Disable turns voice mode off from any state and clears the armed intent.
func (v *VoiceMode) Disable() {
	v.mu.Lock()
	v.armed = false
	v.state = VoiceOff
	v.mu.Unlock()
	if err := v.detector.Stop(); err != nil {
		v.logger.Warn("detector stop failed", "error", err)
	}
}

// HandleOrchestratorState pauses capture while a request is in flight and
// resumes it afterwards, as long as the armed intent still stands.
func (v *VoiceMode) HandleOrchestratorState(from, to OrchestratorState) {
	v.mu.Lock()
	armed := v.armed
	state := v.state
	v.mu.Unlock()
	if !armed {
		return
	}

	switch {
	case to != StateIdle && state == VoiceArmedListening:
		if err := v.detector.Stop(); err != nil {
			v.logger.Warn("detector pause failed", "error", err)
		}
		v.mu.Lock()
		v.state = VoicePausedForProcessing
		v.mu.Unlock()
	case to == StateIdle && state == VoicePausedForProcessing:
		if err := v.detector.Start(); err != nil {
			v.logger.Warn("listening not resumed", "error", err)
			return
		}
		v.mu.Lock()
		v.state = VoiceArmedListening
		v.mu.Unlock()
	}
}

// HandleUtterance forwards a captured utterance to the orchestrator. A busy
// pipeline drops the utterance rather than queueing it.
func (v *VoiceMode) HandleUtterance(samples []float32) {
	err := v.orch.SubmitUtterance(context.Background(), samples, vad.SampleRate)
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy):
		v.logger.Debug("utterance dropped while busy")
	default:
		v.logger.Warn("utterance failed", "error", err)
	}
}

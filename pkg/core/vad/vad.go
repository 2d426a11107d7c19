// Package vad turns a continuous stream of microphone frames into discrete
// utterances. Two interchangeable detector strategies satisfy the same
// contract: a Silero ONNX model classifier and an energy/frequency threshold
// fallback for environments where the model runtime is unavailable.
package vad

import (
	"context"
	"errors"
)

const (
	// SampleRate is the only sample rate the detectors operate at.
	SampleRate = 16000
	// FrameSize is the number of samples per analysis frame (32 ms at 16 kHz,
	// the Silero model's required chunk size).
	FrameSize = 512
)

// State describes the detector lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateListening
	StateSpeaking
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotLoaded is returned by Start before a successful Load.
	ErrNotLoaded = errors.New("vad: detector not loaded")
	// ErrFrameSize is returned for frames that are not FrameSize samples.
	ErrFrameSize = errors.New("vad: frame must be exactly 512 samples")
)

// Callbacks are invoked synchronously from the goroutine that delivers
// frames. All fields are optional.
type Callbacks struct {
	// OnSpeechStart fires once at the beginning of a detected utterance.
	OnSpeechStart func()
	// OnSpeechEnd fires once per utterance with the captured samples,
	// including a short pre-speech lead-in. The slice is owned by the
	// receiver.
	OnSpeechEnd func(samples []float32)
	// OnMisfire fires when a candidate utterance is rejected as too short or
	// not confidently speech. No audio is delivered.
	OnMisfire func()
}

// Detector is the capability contract shared by both strategies.
//
// Load is asynchronous-friendly: it resolves when the detector is ready to
// run and moves the state to Ready, or to Failed with a human-readable error.
// Start and Stop are idempotent; calling Start while listening or Stop while
// stopped succeeds without effect. A failed detector does not retry on its
// own.
type Detector interface {
	Load(ctx context.Context) error
	Start() error
	Stop() error
	Close() error
	State() State
}

// Source delivers fixed-size mono float32 frames at SampleRate. Start may be
// called again after Stop, and Stop must be safe to call from within the
// frame callback: detector consumers pause capture in response to frames.
// The callback runs on the source's goroutine and must not retain the frame
// slice.
type Source interface {
	Start(fn func(frame []float32)) error
	Stop() error
	Close() error
}

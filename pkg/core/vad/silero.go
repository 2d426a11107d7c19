package vad

import (
	"fmt"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	sileroContext   = 64
	sileroInput     = sileroContext + FrameSize // 576
	sileroStateSize = 2 * 1 * 128
	sileroResetAge  = 5 * time.Second
)

// sileroModel wraps a Silero VAD ONNX session. Stateful and not safe for
// concurrent use; the detector serializes calls on the frame goroutine.
type sileroModel struct {
	session  *ort.AdvancedSession
	input    *ort.Tensor[float32] // (1, 576)
	state    *ort.Tensor[float32] // (2, 1, 128)
	sr       *ort.Tensor[int64]   // (1,)
	output   *ort.Tensor[float32] // (1, 1)
	stateOut *ort.Tensor[float32] // (2, 1, 128)

	context   [sileroContext]float32
	lastReset time.Time
}

func newSileroModel(modelPath string) (*sileroModel, error) {
	input, err := ort.NewTensor(ort.NewShape(1, sileroInput), make([]float32, sileroInput))
	if err != nil {
		return nil, fmt.Errorf("vad: input tensor: %w", err)
	}
	state, err := ort.NewTensor(ort.NewShape(2, 1, 128), make([]float32, sileroStateSize))
	if err != nil {
		_ = input.Destroy()
		return nil, fmt.Errorf("vad: state tensor: %w", err)
	}
	sr, err := ort.NewTensor(ort.NewShape(1), []int64{SampleRate})
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		return nil, fmt.Errorf("vad: sr tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		_ = sr.Destroy()
		return nil, fmt.Errorf("vad: output tensor: %w", err)
	}
	stateOut, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		_ = sr.Destroy()
		_ = output.Destroy()
		return nil, fmt.Errorf("vad: state output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{input, state, sr},
		[]ort.Value{output, stateOut},
		nil)
	if err != nil {
		_ = input.Destroy()
		_ = state.Destroy()
		_ = sr.Destroy()
		_ = output.Destroy()
		_ = stateOut.Destroy()
		return nil, fmt.Errorf("vad: load silero model: %w", err)
	}

	return &sileroModel{
		session:   session,
		input:     input,
		state:     state,
		sr:        sr,
		output:    output,
		stateOut:  stateOut,
		lastReset: time.Now(),
	}, nil
}

// speechProb runs one 512-sample frame through the model and returns the
// speech probability. The recurrent state decays: it is zeroed when older
// than sileroResetAge so stale context cannot bias a fresh utterance.
func (m *sileroModel) speechProb(frame []float32) (float32, error) {
	if len(frame) != FrameSize {
		return 0, ErrFrameSize
	}
	if time.Since(m.lastReset) >= sileroResetAge {
		m.reset()
	}

	data := m.input.GetData()
	copy(data[:sileroContext], m.context[:])
	copy(data[sileroContext:], frame)
	copy(m.context[:], data[sileroInput-sileroContext:])

	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("vad: silero inference: %w", err)
	}
	copy(m.state.GetData(), m.stateOut.GetData())
	return m.output.GetData()[0], nil
}

func (m *sileroModel) reset() {
	for i := range m.context {
		m.context[i] = 0
	}
	m.state.ZeroContents()
	m.lastReset = time.Now()
}

func (m *sileroModel) destroy() error {
	return m.session.Destroy()
}

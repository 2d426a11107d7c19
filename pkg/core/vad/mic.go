package vad

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// micQueueDepth bounds the frame queue between the device callback and the
// consumer goroutine (~1 s of audio at 32 ms frames).
const micQueueDepth = 32

// framePump decouples the realtime device callback from frame consumers. The
// callback only regroups samples and enqueues complete frames without
// blocking; a dedicated goroutine delivers them. This keeps the audio thread
// out of the delivery path, so a consumer may stop the device from inside its
// own frame callback without waiting on itself.
type framePump struct {
	mu      sync.Mutex
	pending []float32
	frames  chan []float32
	done    chan struct{}
	wg      sync.WaitGroup
}

// start launches the consumer goroutine delivering frames to fn.
func (p *framePump) start(fn func(frame []float32)) {
	p.mu.Lock()
	p.pending = nil
	p.frames = make(chan []float32, micQueueDepth)
	p.done = make(chan struct{})
	frames, done := p.frames, p.done
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-done:
				return
			case frame := <-frames:
				fn(frame)
			}
		}
	}()
}

// push regroups raw samples into FrameSize frames and enqueues them. It never
// blocks: when the consumer falls behind, the newest frames are dropped.
func (p *framePump) push(samples []float32) {
	p.mu.Lock()
	if p.frames == nil {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, samples...)
	var out [][]float32
	for len(p.pending) >= FrameSize {
		frame := make([]float32, FrameSize)
		copy(frame, p.pending[:FrameSize])
		p.pending = p.pending[FrameSize:]
		out = append(out, frame)
	}
	frames := p.frames
	p.mu.Unlock()

	for _, f := range out {
		select {
		case frames <- f:
		default:
		}
	}
}

// stop signals the consumer to exit and discards queued frames. It does not
// wait for the consumer, so it is safe to call from inside the delivery
// callback itself.
func (p *framePump) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return
	}
	close(p.done)
	p.done = nil
	p.frames = nil
	p.pending = nil
}

// wait blocks until the consumer goroutine has exited. Must not be called
// from the delivery callback.
func (p *framePump) wait() { p.wg.Wait() }

// MicSource captures the default microphone through malgo and delivers
// FrameSize float32 frames at SampleRate. The malgo data callback runs on the
// backend's realtime audio thread and must never block and never stop the
// device; frames therefore flow through a framePump, and the Source callback
// runs on the pump's consumer goroutine instead.
type MicSource struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	pump   framePump
}

// NewMicSource initializes the audio backend. The capture device itself is
// opened on Start so that repeated Start/Stop cycles reuse one context.
func NewMicSource() (*MicSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("vad: init audio context: %w", err)
	}
	return &MicSource{ctx: ctx}, nil
}

// Start opens the capture device and begins delivering frames to fn.
func (m *MicSource) Start(fn func(frame []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device != nil {
		return nil
	}
	m.pump.start(fn)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = SampleRate
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			m.pump.push(decodeSamples(input, frameCount))
		},
	}
	device, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		m.pump.stop()
		return fmt.Errorf("vad: open capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		m.pump.stop()
		return fmt.Errorf("vad: start capture device: %w", err)
	}
	m.device = device
	return nil
}

// Stop closes the capture device. Queued frames are dropped. Safe to call
// from the frame callback: device teardown waits only on the audio thread,
// never on the pump's consumer goroutine.
func (m *MicSource) Stop() error {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.mu.Unlock()

	m.pump.stop()
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	return nil
}

// Close releases the audio backend. Unlike Stop it joins the consumer
// goroutine, so it must not be called from the frame callback.
func (m *MicSource) Close() error {
	_ = m.Stop()
	m.pump.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

// decodeSamples converts little-endian float32 sample bytes from the device
// callback into a sample slice.
func decodeSamples(input []byte, frameCount uint32) []float32 {
	samples := make([]float32, 0, frameCount)
	for i := 0; i+4 <= len(input) && uint32(i/4) < frameCount; i += 4 {
		bits := binary.LittleEndian.Uint32(input[i:])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

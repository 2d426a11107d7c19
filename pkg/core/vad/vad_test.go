package vad

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// scriptSource feeds frames synchronously from the test goroutine.
type scriptSource struct {
	fn      func(frame []float32)
	stopped int
}

func (s *scriptSource) Start(fn func(frame []float32)) error { s.fn = fn; return nil }
func (s *scriptSource) Stop() error                          { s.fn = nil; s.stopped++; return nil }
func (s *scriptSource) Close() error                         { return nil }

func (s *scriptSource) push(frame []float32) {
	if s.fn != nil {
		s.fn(frame)
	}
}

func sineFrame(freq float64, amp float32) []float32 {
	frame := make([]float32, FrameSize)
	for i := range frame {
		frame[i] = amp * float32(math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
	}
	return frame
}

func silentFrame() []float32 { return make([]float32, FrameSize) }

type recorder struct {
	starts   int
	ends     int
	misfires int
	samples  []float32
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnSpeechStart: func() { r.starts++ },
		OnSpeechEnd:   func(s []float32) { r.ends++; r.samples = s },
		OnMisfire:     func() { r.misfires++ },
	}
}

func newTestEnergyDetector(t *testing.T, rec *recorder) (*EnergyDetector, *scriptSource) {
	t.Helper()
	src := &scriptSource{}
	d := NewEnergyDetector(EnergyConfig{}, src, rec.callbacks(), nil)
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, src
}

func TestEnergyDetectorUtterance(t *testing.T) {
	rec := &recorder{}
	d, src := newTestEnergyDetector(t, rec)

	loud := sineFrame(200, 0.5)

	// Lead-in silence fills the pre-speech ring.
	for i := 0; i < 5; i++ {
		src.push(silentFrame())
	}
	if rec.starts != 0 {
		t.Fatal("speech started during silence")
	}

	// Three consecutive qualifying frames confirm the trigger.
	src.push(loud)
	src.push(loud)
	if rec.starts != 0 {
		t.Fatal("speech started before the confirm debounce")
	}
	src.push(loud)
	if rec.starts != 1 {
		t.Fatalf("starts = %d, want 1", rec.starts)
	}
	if got := d.State(); got != StateSpeaking {
		t.Fatalf("state = %v, want speaking", got)
	}

	// Enough speech content to clear the misfire floor.
	for i := 0; i < 20; i++ {
		src.push(loud)
	}

	// A brief pause shorter than SilenceFrames does not end the utterance.
	for i := 0; i < 10; i++ {
		src.push(silentFrame())
	}
	if rec.ends != 0 {
		t.Fatal("utterance ended during a short pause")
	}
	src.push(loud)

	// Sustained silence finishes it.
	for i := 0; i < 25; i++ {
		src.push(silentFrame())
	}
	if rec.ends != 1 {
		t.Fatalf("ends = %d, want 1", rec.ends)
	}
	if rec.misfires != 0 {
		t.Fatalf("misfires = %d, want 0", rec.misfires)
	}
	if len(rec.samples) == 0 || len(rec.samples)%FrameSize != 0 {
		t.Fatalf("samples = %d, want non-empty multiple of %d", len(rec.samples), FrameSize)
	}
	if got := d.State(); got != StateListening {
		t.Fatalf("state after utterance = %v, want listening", got)
	}
}

func TestEnergyDetectorMisfire(t *testing.T) {
	rec := &recorder{}
	_, src := newTestEnergyDetector(t, rec)

	loud := sineFrame(200, 0.5)
	// Confirmed but too short: 5 speech frames < MinUtteranceFrames (16).
	for i := 0; i < 5; i++ {
		src.push(loud)
	}
	if rec.starts != 1 {
		t.Fatalf("starts = %d, want 1", rec.starts)
	}
	for i := 0; i < 25; i++ {
		src.push(silentFrame())
	}
	if rec.misfires != 1 {
		t.Fatalf("misfires = %d, want 1", rec.misfires)
	}
	if rec.ends != 0 {
		t.Fatalf("ends = %d, want 0 (no audio on misfire)", rec.ends)
	}
	if rec.samples != nil {
		t.Fatal("misfire delivered audio")
	}
}

func TestDetectorLifecycleIdempotence(t *testing.T) {
	src := &scriptSource{}
	d := NewEnergyDetector(EnergyConfig{}, src, Callbacks{}, nil)

	if err := d.Start(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Start before Load = %v, want ErrNotLoaded", err)
	}
	if err := d.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := d.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}

	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got %v", err)
	}
	if src.stopped != 1 {
		t.Fatalf("source stopped %d times, want 1", src.stopped)
	}
	if got := d.State(); got != StateReady {
		t.Fatalf("state after stop = %v, want ready", got)
	}
}

func TestStoppedDetectorIgnoresFrames(t *testing.T) {
	rec := &recorder{}
	d, src := newTestEnergyDetector(t, rec)

	fn := src.fn
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
	// Simulate a frame that was already in flight when Stop ran.
	loud := sineFrame(200, 0.5)
	for i := 0; i < 10; i++ {
		fn(loud)
	}
	if rec.starts != 0 {
		t.Fatal("stopped detector still reported speech")
	}
}

func TestBandAmplitude(t *testing.T) {
	voice := sineFrame(400, 0.3)
	if got := bandAmplitude(voice); got < 0.02 {
		t.Errorf("bandAmplitude(400 Hz) = %v, want > 0.02", got)
	}
	hiss := sineFrame(6000, 0.25)
	if got := bandAmplitude(hiss); got > 0.02 {
		t.Errorf("bandAmplitude(6 kHz) = %v, want <= 0.02", got)
	}
	if got := bandAmplitude(silentFrame()); got != 0 {
		t.Errorf("bandAmplitude(silence) = %v, want 0", got)
	}
}

func TestProbeSelection(t *testing.T) {
	src := &scriptSource{}

	d := New(Capabilities{ModelPresent: false, RuntimePresent: true}, src, Callbacks{}, nil)
	if _, ok := d.(*EnergyDetector); !ok {
		t.Fatalf("selected %T without a model, want *EnergyDetector", d)
	}

	d = New(Capabilities{ModelPath: "silero_vad.onnx", ModelPresent: true, RuntimePresent: true}, src, Callbacks{}, nil)
	if _, ok := d.(*ModelDetector); !ok {
		t.Fatalf("selected %T with model present, want *ModelDetector", d)
	}

	d = New(Capabilities{ModelPath: "silero_vad.onnx", ModelPresent: true, RuntimePresent: false}, src, Callbacks{}, nil)
	if _, ok := d.(*EnergyDetector); !ok {
		t.Fatalf("selected %T without the runtime, want *EnergyDetector", d)
	}
}

func TestModelConfigDefaults(t *testing.T) {
	cfg := ModelConfig{ModelPath: "m.onnx"}.withDefaults()
	if cfg.PositiveThreshold != 0.8 || cfg.NegativeThreshold != 0.2 {
		t.Errorf("thresholds = %v/%v, want 0.8/0.2", cfg.PositiveThreshold, cfg.NegativeThreshold)
	}
	if cfg.MinSpeechFrames != 3 || cfg.RedemptionFrames != 10 {
		t.Errorf("frames = %d/%d, want 3/10", cfg.MinSpeechFrames, cfg.RedemptionFrames)
	}
	if cfg.MinUtteranceFrames != 8 {
		t.Errorf("MinUtteranceFrames = %d, want 8", cfg.MinUtteranceFrames)
	}
	if cfg.MinUtteranceFrames <= cfg.MinSpeechFrames {
		t.Error("minimum utterance must exceed the start debounce or misfires can never fire")
	}
}

// An utterance that clears the start debounce but not the minimum-utterance
// floor must be reported as a misfire, not delivered.
func TestCaptureMisfireBelowUtteranceFloor(t *testing.T) {
	seg := newCapture(3, 10, 8, 8)
	frame := sineFrame(200, 0.5)

	started := false
	for i := 0; i < 5; i++ {
		ev := seg.processFrame(true, frame)
		if ev.Started {
			started = true
		}
	}
	if !started {
		t.Fatal("capture never started")
	}
	for i := 0; i < 10; i++ {
		ev := seg.processFrame(false, silentFrame())
		if ev.Ended {
			t.Fatal("5 speech frames delivered below the 8-frame floor")
		}
		if ev.Misfire {
			return
		}
	}
	t.Fatal("no misfire reported")
}

func TestProbeRuntimeCheck(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "silero_vad.onnx")
	if err := os.WriteFile(model, []byte("onnx"), 0o644); err != nil {
		t.Fatal(err)
	}

	orig := ortReady
	defer func() { ortReady = orig }()

	ortReady = func() error { return errors.New("libonnxruntime.so: cannot open shared object file") }
	caps := Probe(model, "")
	if !caps.ModelPresent {
		t.Fatal("model not detected")
	}
	if caps.RuntimePresent {
		t.Fatal("runtime reported present although initialization failed")
	}
	if d := New(caps, &scriptSource{}, Callbacks{}, nil); d != nil {
		if _, ok := d.(*EnergyDetector); !ok {
			t.Fatalf("selected %T with a broken runtime, want *EnergyDetector", d)
		}
	}

	ortReady = func() error { return nil }
	caps = Probe(model, "")
	if !caps.RuntimePresent {
		t.Fatal("runtime reported absent although initialization succeeded")
	}
	if d := New(caps, &scriptSource{}, Callbacks{}, nil); d != nil {
		if _, ok := d.(*ModelDetector); !ok {
			t.Fatalf("selected %T with a working runtime, want *ModelDetector", d)
		}
	}
}

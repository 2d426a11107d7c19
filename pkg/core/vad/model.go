package vad

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// ModelConfig tunes the Silero-based detector.
type ModelConfig struct {
	// ModelPath points at silero_vad.onnx.
	ModelPath string
	// PositiveThreshold is the speech probability above which a frame counts
	// as speech while idle. Default 0.8.
	PositiveThreshold float32
	// NegativeThreshold is the probability below which a frame counts as
	// silence while an utterance is active. The gap between the two
	// thresholds is the hysteresis band that prevents flapping at the
	// decision boundary. Default 0.2.
	NegativeThreshold float32
	// MinSpeechFrames is the consecutive-speech debounce before speech-start
	// fires. Default 3.
	MinSpeechFrames int
	// RedemptionFrames is how many consecutive low-probability frames end an
	// utterance, tolerating brief mid-sentence pauses. Default 10.
	RedemptionFrames int
	// MinUtteranceFrames is the total speech content below which a finished
	// utterance is reported as a misfire instead of delivered. Must exceed
	// MinSpeechFrames to have any effect. Default 8 (~256 ms).
	MinUtteranceFrames int
	// PreSpeechFrames is the lead-in audio kept before the trigger.
	// Default 8 (~256 ms).
	PreSpeechFrames int
}

func (c ModelConfig) withDefaults() ModelConfig {
	if c.PositiveThreshold == 0 {
		c.PositiveThreshold = 0.8
	}
	if c.NegativeThreshold == 0 {
		c.NegativeThreshold = 0.2
	}
	if c.MinSpeechFrames == 0 {
		c.MinSpeechFrames = 3
	}
	if c.RedemptionFrames == 0 {
		c.RedemptionFrames = 10
	}
	if c.MinUtteranceFrames == 0 {
		c.MinUtteranceFrames = 8
	}
	if c.PreSpeechFrames == 0 {
		c.PreSpeechFrames = 8
	}
	return c
}

// ModelDetector classifies frames with the Silero VAD ONNX model.
type ModelDetector struct {
	*engine
	cfg   ModelConfig
	model *sileroModel
}

// NewModelDetector builds (but does not load) a model-based detector reading
// from source.
func NewModelDetector(cfg ModelConfig, source Source, cb Callbacks, logger *slog.Logger) *ModelDetector {
	cfg = cfg.withDefaults()
	d := &ModelDetector{cfg: cfg}
	seg := newCapture(cfg.MinSpeechFrames, cfg.RedemptionFrames, cfg.MinUtteranceFrames, cfg.PreSpeechFrames)
	d.engine = newEngine(source, cb, logger, seg)
	d.engine.load = d.loadModel
	d.engine.classify = d.classify
	d.engine.unload = d.unloadModel
	return d
}

func (d *ModelDetector) loadModel(ctx context.Context) error {
	if _, err := os.Stat(d.cfg.ModelPath); err != nil {
		return fmt.Errorf("silero model not found at %s: %w", d.cfg.ModelPath, err)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnxruntime unavailable: %w", err)
		}
	}
	model, err := newSileroModel(d.cfg.ModelPath)
	if err != nil {
		return err
	}
	d.model = model
	return nil
}

func (d *ModelDetector) classify(frame []float32, active bool) (bool, error) {
	prob, err := d.model.speechProb(frame)
	if err != nil {
		return false, err
	}
	if active {
		return prob > d.cfg.NegativeThreshold, nil
	}
	return prob >= d.cfg.PositiveThreshold, nil
}

func (d *ModelDetector) unloadModel() {
	if d.model != nil {
		_ = d.model.destroy()
		d.model = nil
	}
}

package vad

import (
	"context"
	"log/slog"
	"math"
)

// voiceBandHz are the probe frequencies for the Goertzel band-energy
// estimate, spread across the human-voice fundamental range.
var voiceBandHz = []float64{80, 120, 180, 260, 400, 600, 850, 1000}

// EnergyConfig tunes the threshold-based fallback detector.
type EnergyConfig struct {
	// RMSThreshold is the short-time RMS level above which a frame qualifies
	// as speech. Default 0.01.
	RMSThreshold float64
	// BandThreshold is the normalized 80–1000 Hz band amplitude above which a
	// frame qualifies. A frame counts as speech when either threshold is
	// exceeded. Default 0.02.
	BandThreshold float64
	// ConfirmFrames is how many consecutive qualifying frames declare
	// speech-start. Default 3.
	ConfirmFrames int
	// SilenceFrames is how many consecutive non-qualifying frames end an
	// utterance. Default 25 (~800 ms of 32 ms frames).
	SilenceFrames int
	// MinUtteranceFrames is the minimum speech content for a real utterance;
	// shorter candidates are misfires. Default 16 (~500 ms).
	MinUtteranceFrames int
	// PreSpeechFrames is the lead-in audio kept before the trigger.
	// Default 8.
	PreSpeechFrames int
}

func (c EnergyConfig) withDefaults() EnergyConfig {
	if c.RMSThreshold == 0 {
		c.RMSThreshold = 0.01
	}
	if c.BandThreshold == 0 {
		c.BandThreshold = 0.02
	}
	if c.ConfirmFrames == 0 {
		c.ConfirmFrames = 3
	}
	if c.SilenceFrames == 0 {
		c.SilenceFrames = 25
	}
	if c.MinUtteranceFrames == 0 {
		c.MinUtteranceFrames = 16
	}
	if c.PreSpeechFrames == 0 {
		c.PreSpeechFrames = 8
	}
	return c
}

// EnergyDetector is the capability fallback: no model runtime required, just
// short-time RMS energy plus energy concentrated in the voice band.
type EnergyDetector struct {
	*engine
	cfg EnergyConfig
}

// NewEnergyDetector builds a threshold-based detector reading from source.
func NewEnergyDetector(cfg EnergyConfig, source Source, cb Callbacks, logger *slog.Logger) *EnergyDetector {
	cfg = cfg.withDefaults()
	d := &EnergyDetector{cfg: cfg}
	seg := newCapture(cfg.ConfirmFrames, cfg.SilenceFrames, cfg.MinUtteranceFrames, cfg.PreSpeechFrames)
	d.engine = newEngine(source, cb, logger, seg)
	d.engine.load = func(context.Context) error { return nil }
	d.engine.classify = d.classify
	return d
}

func (d *EnergyDetector) classify(frame []float32, _ bool) (bool, error) {
	if len(frame) != FrameSize {
		return false, ErrFrameSize
	}
	if rms(frame) > d.cfg.RMSThreshold {
		return true, nil
	}
	return bandAmplitude(frame) > d.cfg.BandThreshold, nil
}

// rms returns the root-mean-square level of the frame.
func rms(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// bandAmplitude estimates the mean normalized amplitude at the voice-band
// probe frequencies using the Goertzel algorithm.
func bandAmplitude(frame []float32) float64 {
	var total float64
	for _, hz := range voiceBandHz {
		total += goertzel(frame, hz)
	}
	return total / float64(len(voiceBandHz))
}

// goertzel returns the normalized amplitude of the frame at freq. The raw
// magnitude of a full-scale sinusoid is N/2, so the result is scaled back
// into [0, 1].
func goertzel(frame []float32, freq float64) float64 {
	n := float64(len(frame))
	k := math.Round(freq * n / SampleRate)
	w := 2 * math.Pi * k / n
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, x := range frame {
		s0 = float64(x) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) / (n / 2)
}

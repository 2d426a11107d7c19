package vad

import (
	"log/slog"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// Capabilities is the result of the one-shot environment probe that decides
// which detector strategy runs. It is captured once at startup; selection is
// never re-evaluated per utterance.
type Capabilities struct {
	ModelPath      string
	ModelPresent   bool
	RuntimePresent bool
}

// ortReady initializes the onnxruntime environment, proving the shared
// library is actually loadable. Swapped out in tests.
var ortReady = func() error {
	if ort.IsInitialized() {
		return nil
	}
	return ort.InitializeEnvironment()
}

// Probe inspects the environment for the Silero model file and the
// onnxruntime shared library. runtimeLib may be empty to rely on the default
// library search path. RuntimePresent is only reported when the runtime
// environment actually initializes, so a missing shared library routes
// selection to the energy fallback instead of a terminal model-load failure.
func Probe(modelPath, runtimeLib string) Capabilities {
	caps := Capabilities{ModelPath: modelPath}
	if modelPath != "" {
		if _, err := os.Stat(modelPath); err == nil {
			caps.ModelPresent = true
		}
	}
	if !caps.ModelPresent {
		return caps
	}
	if runtimeLib != "" {
		if _, err := os.Stat(runtimeLib); err != nil {
			return caps
		}
		ort.SetSharedLibraryPath(runtimeLib)
	}
	caps.RuntimePresent = ortReady() == nil
	return caps
}

// New selects a concrete detector from the probed capabilities: the Silero
// model strategy when both the model and runtime are available, the
// energy/frequency fallback otherwise. Pure selection; no IO.
func New(caps Capabilities, source Source, cb Callbacks, logger *slog.Logger) Detector {
	if caps.ModelPresent && caps.RuntimePresent {
		return NewModelDetector(ModelConfig{ModelPath: caps.ModelPath}, source, cb, logger)
	}
	return NewEnergyDetector(EnergyConfig{}, source, cb, logger)
}

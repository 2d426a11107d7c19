// Package config resolves the assistant's runtime settings from the process
// environment, optionally seeded from a dotenv-style file.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is everything the assistant needs to start.
type Config struct {
	// BackendURL is the base URL of the inference backend.
	BackendURL string
	// LiveURL is the optional websocket query endpoint.
	LiveURL string
	// ModelPath points at the Silero VAD ONNX model. Empty or missing falls
	// back to the energy detector.
	ModelPath string
	// RuntimeLib is the ONNX runtime shared library path.
	RuntimeLib string
	// DBPath is the SQLite file holding session, identity, and turn state.
	DBPath string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
}

// FromEnv builds a Config from the environment, applying defaults for unset
// values.
func FromEnv() Config {
	return Config{
		BackendURL: getenv("PARLEY_BACKEND_URL", "http://localhost:8000"),
		LiveURL:    os.Getenv("PARLEY_LIVE_URL"),
		ModelPath:  os.Getenv("PARLEY_VAD_MODEL"),
		RuntimeLib: os.Getenv("PARLEY_ONNXRUNTIME_LIB"),
		DBPath:     getenv("PARLEY_DB_PATH", defaultDBPath()),
		LogLevel:   getenv("PARLEY_LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.db"
	}
	return filepath.Join(home, ".parley", "parley.db")
}

// LoadEnvFile merges KEY=VALUE pairs from a dotenv-style file into the
// process environment. Values already set in the environment win. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, unquote(strings.TrimSpace(val))); err != nil {
			return fmt.Errorf("config: set %q: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	return nil
}

func unquote(v string) string {
	if len(v) < 2 {
		return v
	}
	if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}

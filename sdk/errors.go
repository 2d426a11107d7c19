package parley

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrBusy is returned when a request is submitted while another is in
	// flight. Requests are never interleaved or queued by the orchestrator.
	ErrBusy = errors.New("parley: a request is already in flight")
	// ErrBackendUnreachable is returned when arming voice mode while the
	// backend health check fails.
	ErrBackendUnreachable = errors.New("parley: backend unreachable")
	// ErrEnhancementGone is returned by Client.Enhancement when the backend
	// answers 404 or 410: the task expired or was never known.
	ErrEnhancementGone = errors.New("parley: enhancement task gone")
	// ErrEmptyTranscription is returned when the backend transcribed the
	// utterance to nothing usable.
	ErrEmptyTranscription = errors.New("parley: empty transcription")
)

// APIError is a failure reported by the backend itself (non-2xx status with
// an optional message body).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("parley: backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("parley: backend returned %d", e.StatusCode)
}

// TransportError represents HTTP transport-level failures (DNS, timeouts,
// connection reset, TLS handshake) while talking to the backend.
//
// Use errors.As to distinguish transport failures from *APIError.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("parley: transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("parley: transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("parley: transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

package parley

import (
	"log/slog"
	"net/http"
	"time"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithShortTimeout bounds session and metadata calls. Default 10 s.
func WithShortTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.shortTimeout = d
	}
}

// WithLongTimeout bounds transcription, query, and synthesis calls, which
// must survive backend cold starts. Default 30 s.
func WithLongTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.longTimeout = d
	}
}

// Package parley is the client SDK for a conversational voice assistant
// backend: it captures utterances through the vad package, ships them through
// the backend's transcribe → query → synthesize exchange, maintains the
// persisted conversation, and reconciles slow asynchronous enhancements with
// the fast replies already shown.
package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultShortTimeout = 10 * time.Second
	defaultLongTimeout  = 30 * time.Second
)

// Client speaks the backend's HTTP contract. It is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger
	shortTimeout time.Duration
	longTimeout  time.Duration
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		logger:       slog.Default(),
		shortTimeout: defaultShortTimeout,
		longTimeout:  defaultLongTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	return c
}

// newDefaultHTTPClient configures transport-level timeouts while leaving the
// overall request lifetime to per-request context deadlines.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// Health checks backend reachability with a short GET against the root.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.shortTimeout)
	defer cancel()
	return c.doGET(ctx, "/", nil)
}

// CreateSession asks the backend for a fresh opaque session id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.shortTimeout)
	defer cancel()
	var resp sessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/session/create", nil, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("parley: backend returned an empty session id")
	}
	return resp.SessionID, nil
}

// Transcribe uploads an encoded WAV utterance scoped to the session and
// returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, wavData []byte, sessionID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.longTimeout)
	defer cancel()
	var resp transcriptionResponse
	err := c.doMultipart(ctx, "/transcribe", "audio_file", "utterance.wav", wavData,
		map[string]string{"session_id": sessionID}, &resp)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Transcription) == "" {
		return "", ErrEmptyTranscription
	}
	return resp.Transcription, nil
}

// Query sends the user's text together with session, trailing history, and
// the stable user id.
func (c *Client) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.longTimeout)
	defer cancel()
	var resp QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enhancement polls one enhancement task. A backend 404 or 410 is reported
// as ErrEnhancementGone.
func (c *Client) Enhancement(ctx context.Context, taskID string) (*EnhancementResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.shortTimeout)
	defer cancel()
	var resp EnhancementResult
	if err := c.doGET(ctx, "/enhancement/"+taskID, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone) {
			return nil, ErrEnhancementGone
		}
		return nil, err
	}
	return &resp, nil
}

// Synthesize asks the backend to speak text and returns the raw audio bytes.
func (c *Client) Synthesize(ctx context.Context, text, sessionID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.longTimeout)
	defer cancel()
	body := map[string]string{"text": text, "session_id": sessionID}
	return c.doBinary(ctx, http.MethodPost, "/synthesize", body)
}

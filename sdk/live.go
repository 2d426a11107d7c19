package parley

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// LiveSocket is the experimental websocket transport for query exchanges. It
// is explicitly constructed and owned by its caller; there is no shared
// module-level connection.
type LiveSocket struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// DialLive connects to the backend's websocket query endpoint.
func DialLive(ctx context.Context, rawURL string, logger *slog.Logger) (*LiveSocket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", URL: rawURL, Err: err}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &LiveSocket{conn: conn, logger: logger}, nil
}

// Query sends one query frame and waits for the matching response frame. The
// context deadline, if any, bounds both directions.
func (s *LiveSocket) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		s.conn.SetReadDeadline(deadline)
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}
	var resp QueryResponse
	if err := s.conn.ReadJSON(&resp); err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}
	return &resp, nil
}

// Close sends a close frame best-effort and tears down the connection.
func (s *LiveSocket) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		s.logger.Debug("close frame not sent", "error", err)
	}
	return s.conn.Close()
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vburojevic/bsync/internal/protocol"
)

// Conn is an open duplex stream
type Conn interface {
	// Read blocks until the next inbound message. It returns a *CloseError
	// once the stream is closed.
	Read() (*protocol.Inbound, error)
	Write(msg protocol.Outbound) error
	Close() error
}

// Dialer opens duplex streams
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketDialer dials the backend stream endpoint over websocket
type WebsocketDialer struct {
	URL          string
	Header       http.Header
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// NewWebsocketDialer derives the stream endpoint from the backend base URL
func NewWebsocketDialer(baseURL string) (*WebsocketDialer, error) {
	u, err := StreamURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &WebsocketDialer{URL: u, WriteTimeout: 10 * time.Second}, nil
}

// StreamURL maps http(s)://host/prefix to ws(s)://host/prefix/api/stream
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/stream"
	return u.String(), nil
}

// Dial implements Dialer
func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsConn{ws: ws, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) Read() (*protocol.Inbound, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, asCloseError(err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			// A malformed frame is skipped, the stream stays usable
			continue
		}
		return &msg, nil
	}
}

func (c *wsConn) Write(msg protocol.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// asCloseError converts a websocket read error into a *CloseError. Errors
// without a close frame count as an abnormal closure.
func asCloseError(err error) error {
	var wsErr *websocket.CloseError
	if errors.As(err, &wsErr) {
		return &CloseError{Code: wsErr.Code, Reason: wsErr.Text}
	}
	return &CloseError{Code: protocol.CloseAbnormal, Reason: err.Error()}
}

// closeCode extracts the close code from err, defaulting to 1006
func closeCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return protocol.CloseAbnormal
}

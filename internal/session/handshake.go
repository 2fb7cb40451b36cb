package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vburojevic/bsync/internal/protocol"
)

// Handshaker performs the one-shot init request
type Handshaker interface {
	Handshake(ctx context.Context, req protocol.HandshakeRequest) (*protocol.HandshakeResponse, error)
}

// HTTPHandshaker posts the handshake to {BaseURL}/api/init
type HTTPHandshaker struct {
	BaseURL string
	Client  *http.Client
}

// Handshake implements Handshaker. A non-2xx status yields a
// *HandshakeError matching ErrHandshakeRejected.
func (h *HTTPHandshaker) Handshake(ctx context.Context, req protocol.HandshakeRequest) (*protocol.HandshakeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode handshake: %w", err)
	}

	endpoint := strings.TrimSuffix(h.BaseURL, "/") + "/api/init"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build handshake request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HandshakeError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out protocol.HandshakeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode handshake response: %w", err)
	}
	return &out, nil
}

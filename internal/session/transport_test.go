package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestStreamURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://localhost:4005", "ws://localhost:4005/api/stream"},
		{"https://apps.example.com/app/", "wss://apps.example.com/app/api/stream"},
		{"ws://host", "ws://host/api/stream"},
	}
	for _, tc := range cases {
		got, err := StreamURL(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := StreamURL("ftp://host")
	assert.Error(t, err)
}

func TestWebsocketConnCloseCode(t *testing.T) {
	received := make(chan protocol.Outbound, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var msg protocol.Outbound
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		received <- msg

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = ws.WriteJSON(map[string]any{"messageType": "stateEnquiryResponse", "trackingId": msg.TrackingID})
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session gone"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	dialer, err := NewWebsocketDialer(srv.URL)
	require.NoError(t, err)
	conn, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Write(protocol.Outbound{Type: protocol.TypeStateEnquiry, TrackingID: 7}))
	select {
	case msg := <-received:
		assert.Equal(t, protocol.TypeStateEnquiry, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("server never received the message")
	}

	// The malformed frame is skipped
	msg, err := conn.Read()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeStateEnquiryResponse, msg.MessageType)
	assert.Equal(t, 7, msg.TrackingID)

	_, err = conn.Read()
	require.Error(t, err)
	assert.Equal(t, protocol.ClosePolicyViolation, closeCode(err))
}

func TestCloseCodeDefaultsToAbnormal(t *testing.T) {
	assert.Equal(t, protocol.CloseAbnormal, closeCode(assert.AnError))
	assert.Equal(t, 1001, closeCode(&CloseError{Code: 1001}))
}

// TestClientOverWebsocket runs the real handshake and stream transports
// against an in-process backend.
func TestClientOverWebsocket(t *testing.T) {
	streamInit := make(chan protocol.StreamInitPayload, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/init", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(protocol.HandshakeResponse{
			SessionID:  "ws-session",
			Mode:       domain.ModeRun,
			Components: domain.ComponentMap{"root": {ID: "root", Type: "root", Content: map[string]string{}}},
			UserState:  map[string]any{"greeting": "hello"},
		})
	})
	mux.HandleFunc("/api/stream", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var msg struct {
				Type       string          `json:"type"`
				TrackingID int             `json:"trackingId"`
				Payload    json.RawMessage `json:"payload"`
			}
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case protocol.TypeStreamInit:
				var p protocol.StreamInitPayload
				_ = json.Unmarshal(msg.Payload, &p)
				streamInit <- p
			case protocol.TypeEvent:
				_ = ws.WriteJSON(map[string]any{
					"messageType": protocol.TypeEventResponse,
					"trackingId":  msg.TrackingID,
					"payload": map[string]any{
						"mutations": map[string]any{"+greeting": "clicked"},
						"result":    "ok",
					},
				})
			}
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dialer, err := NewWebsocketDialer(srv.URL)
	require.NoError(t, err)
	client := New(Options{
		Handshaker: &HTTPHandshaker{BaseURL: srv.URL},
		Dialer:     dialer,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Init(ctx))

	select {
	case p := <-streamInit:
		assert.Equal(t, "ws-session", p.SessionID)
	case <-ctx.Done():
		t.Fatal("stream never initialised")
	}

	result, err := client.SendEvent(ctx, protocol.EventPayload{Type: "click", TargetID: "root"})
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(result))
	assert.Equal(t, "clicked", client.State()["greeting"])
	assert.Equal(t, domain.HealthConnected, client.Health())
}

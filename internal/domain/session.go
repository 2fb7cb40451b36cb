package domain

import (
	"encoding/json"
	"time"
)

// Health is the connection health of a session, as shown by UI indicators
type Health string

const (
	HealthIdle      Health = "idle"
	HealthConnected Health = "connected"
	HealthOffline   Health = "offline"
	HealthSuspended Health = "suspended"
)

// Mode is the run mode reported by the backend on handshake
type Mode string

const (
	ModeEdit Mode = "edit"
	ModeRun  Mode = "run"
)

// Session identifies the backend session this client is attached to
type Session struct {
	ID            string    `json:"id,omitempty"`
	EstablishedAt time.Time `json:"established_at,omitempty"`
	Health        Health    `json:"health"`
}

// MailItem is a one-shot notification from the backend
type MailItem struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionEstablished is emitted after every successful handshake
type SessionEstablished struct {
	Type          string `json:"type"`                  // "session_established"
	SchemaVersion int    `json:"schemaVersion"`         // 1
	Alert         string `json:"alert,omitempty"`       // "SESSION_REPLACED" when the id changed
	SessionID     string `json:"session_id"`            // Session id granted by the backend
	PreviousID    string `json:"previous_id,omitempty"` // Id proposed but not resumed
	Mode          Mode   `json:"mode"`                  // edit or run
	Handshake     int    `json:"handshake"`             // Handshake number (1, 2, 3...)
	Components    int    `json:"components"`            // Size of the initial tree
	Timestamp     string `json:"timestamp"`             // ISO8601 timestamp
}

// HealthChange is emitted whenever session health transitions
type HealthChange struct {
	Type          string `json:"type"` // "health"
	SchemaVersion int    `json:"schemaVersion"`
	From          Health `json:"from"`
	To            Health `json:"to"`
	Timestamp     string `json:"timestamp"`
}

// NewSessionEstablished creates a new SessionEstablished event
func NewSessionEstablished(handshake int, sessionID, previousID string, mode Mode, components int) *SessionEstablished {
	e := &SessionEstablished{
		Type:          "session_established",
		SchemaVersion: 1,
		SessionID:     sessionID,
		Mode:          mode,
		Handshake:     handshake,
		Components:    components,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if previousID != "" && previousID != sessionID {
		e.Alert = "SESSION_REPLACED"
		e.PreviousID = previousID
	}
	return e
}

// NewHealthChange creates a new HealthChange event
func NewHealthChange(from, to Health) *HealthChange {
	return &HealthChange{
		Type:          "health",
		SchemaVersion: 1,
		From:          from,
		To:            to,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

package domain

// SessionDebug is an optional verbose event describing stream transitions.
type SessionDebug struct {
	Type          string `json:"type"` // session_debug
	SchemaVersion int    `json:"schemaVersion"`
	RunID         string `json:"run_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	Generation    int    `json:"generation"`
	CloseCode     int    `json:"close_code,omitempty"`
	Reason        string `json:"reason"` // e.g., reconnect, rehandshake, code_update
}

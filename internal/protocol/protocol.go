// Package protocol defines the handshake and duplex stream wire formats.
package protocol

import (
	"encoding/json"

	"github.com/vburojevic/bsync/internal/domain"
)

// Outbound message types
const (
	TypeStreamInit       = "streamInit"
	TypeKeepAlive        = "keepAlive"
	TypeEvent            = "event"
	TypeComponentUpdate  = "componentUpdate"
	TypeStateEnquiry     = "stateEnquiry"
	TypeCodeSaveRequest  = "codeSaveRequest"
	TypeCreateSourceFile = "createSourceFile"
	TypeRenameSourceFile = "renameSourceFile"
	TypeDeleteSourceFile = "deleteSourceFile"
	TypeLoadSourceFile   = "loadSourceFile"
	TypeHashRequest      = "hashRequest"
)

// Inbound message types
const (
	TypeAnnouncement         = "announcement"
	TypeEventResponse        = "eventResponse"
	TypeStateEnquiryResponse = "stateEnquiryResponse"
)

// AnnounceCodeUpdate is the announcement telling clients to re-handshake
const AnnounceCodeUpdate = "codeUpdate"

// Close codes with special meaning on the duplex stream
const (
	ClosePolicyViolation = 1008
	CloseAbnormal        = 1006
)

// Outbound is the envelope for client-to-backend stream messages
type Outbound struct {
	Type       string `json:"type"`
	TrackingID int    `json:"trackingId,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// Inbound is the envelope for backend-to-client stream messages
type Inbound struct {
	MessageType string          `json:"messageType"`
	TrackingID  int             `json:"trackingId,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Announcement is the payload of an announcement message
type Announcement struct {
	Announce string `json:"announce"`
}

// SyncPayload is shared by eventResponse and stateEnquiryResponse
type SyncPayload struct {
	Mutations  Mutations           `json:"mutations,omitempty"`
	Mail       []domain.MailItem   `json:"mail,omitempty"`
	Components domain.ComponentMap `json:"components,omitempty"`
	Result     json.RawMessage     `json:"result,omitempty"`
}

// StreamInitPayload opens the duplex stream for a session
type StreamInitPayload struct {
	SessionID string `json:"sessionId"`
}

// ComponentUpdatePayload carries the builder-managed components
type ComponentUpdatePayload struct {
	Components domain.ComponentMap `json:"components"`
}

// EventPayload reports a frontend event to a handler
type EventPayload struct {
	Type         string          `json:"type"`
	InstancePath string          `json:"instancePath,omitempty"`
	TargetID     string          `json:"targetId,omitempty"`
	Handler      string          `json:"handler,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// CodeSavePayload saves the main application source
type CodeSavePayload struct {
	Code string `json:"code"`
}

// SourceFilePayload addresses one source file
type SourceFilePayload struct {
	Path    []string `json:"path"`
	Content string   `json:"content,omitempty"`
}

// RenameSourceFilePayload moves a source file
type RenameSourceFilePayload struct {
	From []string `json:"from"`
	To   []string `json:"to"`
}

// HandshakeRequest is the body of the init request
type HandshakeRequest struct {
	ProposedSessionID string `json:"proposedSessionId,omitempty"`
}

// UserFunction is a backend handler signature available in edit mode
type UserFunction struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// HandshakeResponse is the initial snapshot returned by the backend
type HandshakeResponse struct {
	SessionID     string                     `json:"sessionId"`
	Mode          domain.Mode                `json:"mode"`
	Components    domain.ComponentMap        `json:"components"`
	UserState     map[string]any             `json:"userState"`
	Mail          []domain.MailItem          `json:"mail"`
	FeatureFlags  []string                   `json:"featureFlags"`
	UserFunctions []UserFunction             `json:"userFunctions,omitempty"`
	RunCode       string                     `json:"runCode,omitempty"`
	SourceFiles   map[string]json.RawMessage `json:"sourceFiles,omitempty"`
}

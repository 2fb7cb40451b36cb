package session

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionStore remembers the last session id granted by a backend so it
// can be proposed again on the next handshake
type SessionStore interface {
	Load() (string, error)
	Save(sessionID string) error
}

// MemorySessionStore keeps the id in memory only
type MemorySessionStore struct {
	ID string
}

func (m *MemorySessionStore) Load() (string, error) { return m.ID, nil }

func (m *MemorySessionStore) Save(sessionID string) error {
	m.ID = sessionID
	return nil
}

// resumeState is the on-disk record written by FileSessionStore
type resumeState struct {
	Type          string `json:"type"` // "resume_state"
	SchemaVersion int    `json:"schemaVersion"`
	Server        string `json:"server"`
	SessionID     string `json:"session_id,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// FileSessionStore persists the session id as JSON at Path
type FileSessionStore struct {
	Path   string
	Server string
}

// DefaultStatePath returns <dir>/<host>.json for server, creating dir.
// An empty dir means ~/.bsync/sessions.
func DefaultStatePath(dir, server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", errors.New("server url is required for session state path")
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".bsync", "sessions")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, stateFileName(server)), nil
}

func stateFileName(server string) string {
	name := server
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		name = u.Host + u.Path
	}
	name = strings.Trim(name, "/")
	name = strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(name)
	return name + ".json"
}

// Load returns the stored id, or "" when nothing was saved yet
func (f *FileSessionStore) Load() (string, error) {
	if strings.TrimSpace(f.Path) == "" {
		return "", errors.New("session state path is required")
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var st resumeState
	if err := json.Unmarshal(b, &st); err != nil {
		return "", err
	}
	if f.Server != "" && st.Server != "" && st.Server != f.Server {
		return "", nil
	}
	return st.SessionID, nil
}

// Save writes the id through a temp file and rename
func (f *FileSessionStore) Save(sessionID string) error {
	if strings.TrimSpace(f.Path) == "" {
		return errors.New("session state path is required")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	st := resumeState{
		Type:          "resume_state",
		SchemaVersion: 1,
		Server:        f.Server,
		SessionID:     sessionID,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

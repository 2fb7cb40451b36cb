package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// rotation opens a fresh output file per handshake so a replaced
// session never shares a file with its predecessor
type rotation struct {
	mu      sync.Mutex
	dir     string
	runID   string
	file    *os.File
	buf     *bufio.Writer
	current string
}

func newRotation(dir, runID string) *rotation {
	return &rotation{dir: dir, runID: runID}
}

// pathFor returns the file used for the given handshake number
func (r *rotation) pathFor(handshake int) string {
	return filepath.Join(r.dir, fmt.Sprintf("bsync-%s-%03d.ndjson", r.runID, handshake))
}

// Open closes the current file and starts the one for handshake
func (r *rotation) Open(handshake int) (*bufio.Writer, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := r.pathFor(handshake)
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create output file: %w", err)
	}
	r.file = f
	r.buf = bufio.NewWriter(f)
	r.current = path
	return r.buf, path, nil
}

// Flush pushes buffered events to disk
func (r *rotation) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf == nil {
		return nil
	}
	return r.buf.Flush()
}

// Current returns the path of the open file, or ""
func (r *rotation) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *rotation) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *rotation) closeLocked() {
	if r.buf != nil {
		r.buf.Flush()
	}
	if r.file != nil {
		r.file.Close()
	}
	r.buf, r.file, r.current = nil, nil, ""
}

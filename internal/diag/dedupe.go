// Package diag keeps the bounded, deduplicated list of diagnostic log
// entries shown to the builder user.
package diag

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultCapacity is the number of entries kept when no capacity is set
const DefaultCapacity = 100

// LogEntry is a diagnostic message received from the backend or raised
// locally
type LogEntry struct {
	Type              string    `json:"type"`
	Title             string    `json:"title"`
	Message           string    `json:"message"`
	Code              string    `json:"code,omitempty"`
	TimestampReceived time.Time `json:"timestampReceived"`
	Fingerprint       string    `json:"fingerprint"`
	Repeated          int       `json:"repeated"`
	ID                string    `json:"id,omitempty"`
}

// fingerprintFields is the canonical, ordered subset of an entry that
// identifies a repeat
type fingerprintFields struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Fingerprint returns a stable lowercase hex digest of the identifying
// fields of entry. Used for deduplication only.
func Fingerprint(entry *LogEntry) string {
	b, _ := json.Marshal(fingerprintFields{
		Type:    entry.Type,
		Title:   entry.Title,
		Message: entry.Message,
		Code:    entry.Code,
	})
	return hashString(string(b))
}

// hashString folds s through djb2: hash = hash*33 + c
func hashString(s string) string {
	var hash uint32 = 5381
	for _, c := range s {
		hash = (hash << 5) + hash + uint32(c)
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// Book holds the most recent entries, newest first, collapsing repeats
type Book struct {
	mu       sync.Mutex
	capacity int
	clock    clock.Clock
	entries  []*LogEntry
}

// NewBook creates a book holding at most capacity entries.
// capacity<=0 means DefaultCapacity; a nil clock means the wall clock.
func NewBook(capacity int, clk clock.Clock) *Book {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Book{
		capacity: capacity,
		clock:    clk,
	}
}

// Add records entry and returns the stored entry (a copy). Entries with an
// ID replace any earlier entry with the same ID; otherwise an entry with
// the same fingerprint is bumped instead of duplicated.
func (b *Book) Add(entry LogEntry) LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	entry.Fingerprint = Fingerprint(&entry)
	entry.TimestampReceived = now

	if entry.ID != "" {
		b.remove(func(e *LogEntry) bool { return e.ID == entry.ID })
		entry.Repeated = 0
		return b.prepend(&entry)
	}

	if idx := b.index(func(e *LogEntry) bool { return e.ID == "" && e.Fingerprint == entry.Fingerprint }); idx >= 0 {
		existing := b.entries[idx]
		existing.Repeated++
		existing.TimestampReceived = now
		b.entries = append(b.entries[:idx], b.entries[idx+1:]...)
		return b.prepend(existing)
	}

	entry.Repeated = 0
	return b.prepend(&entry)
}

// Entries returns a copy of the current entries, newest first
func (b *Book) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]LogEntry, len(b.entries))
	for i, e := range b.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of stored entries
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear removes every entry
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

func (b *Book) prepend(e *LogEntry) LogEntry {
	b.entries = append([]*LogEntry{e}, b.entries...)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[:b.capacity]
	}
	return *e
}

func (b *Book) index(match func(*LogEntry) bool) int {
	for i, e := range b.entries {
		if match(e) {
			return i
		}
	}
	return -1
}

func (b *Book) remove(match func(*LogEntry) bool) {
	kept := b.entries[:0]
	for _, e := range b.entries {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

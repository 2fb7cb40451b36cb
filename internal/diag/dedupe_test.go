package diag

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	a := &LogEntry{Type: "error", Title: "Exception", Message: "division by zero"}
	b := &LogEntry{Type: "error", Title: "Exception", Message: "division by zero", Repeated: 7}
	c := &LogEntry{Type: "error", Title: "Exception", Message: "division by zero!"}

	t.Run("is deterministic and ignores bookkeeping fields", func(t *testing.T) {
		assert.Equal(t, Fingerprint(a), Fingerprint(b))
	})

	t.Run("differs for near-duplicate text", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	})

	t.Run("is lowercase hex", func(t *testing.T) {
		assert.Regexp(t, "^[0-9a-f]+$", Fingerprint(a))
	})
}

func TestHashStringDJB2(t *testing.T) {
	// djb2("") is the seed, djb2("a") = 5381*33 + 97
	assert.Equal(t, "1505", hashString(""))
	assert.Equal(t, fmt.Sprintf("%x", 5381*33+97), hashString("a"))
}

func TestBookAdd(t *testing.T) {
	t.Run("collapses repeats and refreshes timestamp", func(t *testing.T) {
		mock := clock.NewMock()
		book := NewBook(10, mock)

		first := book.Add(LogEntry{Type: "error", Title: "Boom", Message: "x"})
		mock.Add(5 * time.Second)
		second := book.Add(LogEntry{Type: "error", Title: "Boom", Message: "x"})

		require.Equal(t, 1, book.Len())
		assert.Equal(t, 0, first.Repeated)
		assert.Equal(t, 1, second.Repeated)
		assert.Equal(t, mock.Now(), book.Entries()[0].TimestampReceived)
	})

	t.Run("moves a repeated entry to the front", func(t *testing.T) {
		book := NewBook(10, clock.NewMock())
		book.Add(LogEntry{Type: "info", Message: "a"})
		book.Add(LogEntry{Type: "info", Message: "b"})
		book.Add(LogEntry{Type: "info", Message: "a"})

		entries := book.Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].Message)
		assert.Equal(t, 1, entries[0].Repeated)
	})

	t.Run("explicit id replaces instead of incrementing", func(t *testing.T) {
		book := NewBook(10, clock.NewMock())
		book.Add(LogEntry{Type: "info", Message: "Saving...", ID: "save"})
		book.Add(LogEntry{Type: "info", Message: "Saved", ID: "save"})
		book.Add(LogEntry{Type: "info", Message: "Saved", ID: "save"})

		entries := book.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, "Saved", entries[0].Message)
		assert.Equal(t, 0, entries[0].Repeated)
	})

	t.Run("discards entries past capacity", func(t *testing.T) {
		book := NewBook(3, clock.NewMock())
		for i := 0; i < 5; i++ {
			book.Add(LogEntry{Type: "info", Message: fmt.Sprintf("m%d", i)})
		}

		entries := book.Entries()
		require.Len(t, entries, 3)
		assert.Equal(t, "m4", entries[0].Message)
		assert.Equal(t, "m2", entries[2].Message)
	})

	t.Run("clear empties the book", func(t *testing.T) {
		book := NewBook(0, nil)
		book.Add(LogEntry{Message: "x"})
		book.Clear()
		assert.Zero(t, book.Len())
	})
}

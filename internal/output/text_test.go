package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/bsync/internal/diag"
	"github.com/vburojevic/bsync/internal/domain"
	"github.com/vburojevic/bsync/internal/store"
)

func TestResolveFormat(t *testing.T) {
	assert.Equal(t, "text", ResolveFormat("text", &bytes.Buffer{}))
	assert.Equal(t, "ndjson", ResolveFormat("ndjson", &bytes.Buffer{}))
	assert.Equal(t, "ndjson", ResolveFormat("auto", &bytes.Buffer{}))
}

func TestTreeRowsDepthFirst(t *testing.T) {
	components := domain.ComponentMap{
		"root":  {ID: "root", Type: "root"},
		"page":  {ID: "page", ParentID: "root", Type: "page", Position: 0},
		"b":     {ID: "b", ParentID: "page", Type: "text", Position: 1},
		"a":     {ID: "a", ParentID: "page", Type: "text", Position: 0},
		"modal": {ID: "modal", ParentID: "root", Type: "modal", Position: domain.Positionless},
		"stray": {ID: "stray", ParentID: "gone", Type: "text", IsCodeManaged: true},
	}

	rows := TreeRows(components)
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = strings.TrimSpace(r[0])
	}
	require.Equal(t, []string{"root", "modal", "page", "a", "b", "stray"}, ids)
	assert.Equal(t, "    a", rows[3][0])
	assert.Equal(t, "-", rows[1][3])
	assert.Equal(t, "code", rows[5][4])
}

func TestTextWriterComponents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)

	components := domain.ComponentMap{
		"root": {ID: "root", Type: "root"},
		"a":    {ID: "a", ParentID: "root", Type: "button"},
	}
	require.NoError(t, w.WriteComponents(components, store.Report{Orphans: []string{"x"}}))

	out := buf.String()
	assert.Contains(t, out, "button")
	assert.Contains(t, out, "1 orphaned components: x")
}

func TestTextWriterLogAndError(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)

	require.NoError(t, w.WriteLog(diag.LogEntry{Type: "info", Title: "Saved", Message: "ok", Repeated: 1}))
	require.NoError(t, w.WriteError("BAD", "nope", "try again"))

	out := buf.String()
	assert.Contains(t, out, "Saved: ok (x2)")
	assert.Contains(t, out, "Error [BAD]: nope (hint: try again)")
}

func TestTextWriterHealth(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)

	require.NoError(t, w.WriteHealth(domain.NewHealthChange(domain.HealthIdle, domain.HealthConnected)))
	assert.Contains(t, buf.String(), "connected")
	assert.Contains(t, buf.String(), "Health:")
}

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/bsync/internal/diag"
)

func TestParseWhereClause(t *testing.T) {
	tests := []struct {
		clause string
		field  string
		op     string
		value  string
	}{
		{"type=error", "type", "=", "error"},
		{"Title!=Boom", "title", "!=", "Boom"},
		{"message~time(out)?", "message", "~", "time(out)?"},
		{"message!~noise", "message", "!~", "noise"},
		{"type>=warning", "type", ">=", "warning"},
		{"repeated<=3", "repeated", "<=", "3"},
		{"code^E1", "code", "^", "E1"},
		{"title$failed", "title", "$", "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			wc, err := ParseWhereClause(tt.clause)
			require.NoError(t, err)
			assert.Equal(t, tt.field, wc.Field)
			assert.Equal(t, tt.op, wc.Operator)
			assert.Equal(t, tt.value, wc.Value)
		})
	}
}

func TestParseWhereClauseErrors(t *testing.T) {
	for _, clause := range []string{"nooperator", "=value", "field=", "message~("} {
		_, err := ParseWhereClause(clause)
		assert.Error(t, err, clause)
	}
}

func TestWhereSeverity(t *testing.T) {
	wc, err := ParseWhereClause("type>=warning")
	require.NoError(t, err)

	assert.True(t, wc.Match(&diag.LogEntry{Type: "error"}))
	assert.True(t, wc.Match(&diag.LogEntry{Type: "warning"}))
	assert.False(t, wc.Match(&diag.LogEntry{Type: "info"}))
	assert.False(t, wc.Match(&diag.LogEntry{Type: "custom"}))
}

func TestWhereRepeated(t *testing.T) {
	f, err := NewWhereFilter([]string{"repeated>=2", "type=error"})
	require.NoError(t, err)

	assert.True(t, f.Match(&diag.LogEntry{Type: "error", Repeated: 2}))
	assert.False(t, f.Match(&diag.LogEntry{Type: "error", Repeated: 1}))
	assert.False(t, f.Match(&diag.LogEntry{Type: "info", Repeated: 5}))
}

func TestNilWhereFilter(t *testing.T) {
	f, err := NewWhereFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(&diag.LogEntry{}))
}

// Package filter selects diagnostic log entries for display.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vburojevic/bsync/internal/diag"
)

// severity orders log entry types for >= and <= comparisons
var severity = map[string]int{
	"debug":    0,
	"info":     1,
	"warning":  2,
	"error":    3,
	"critical": 4,
}

// WhereClause represents a parsed --where condition
type WhereClause struct {
	Field    string
	Operator string
	Value    string
	regex    *regexp.Regexp // Compiled regex for ~ and !~ operators
}

// ParseWhereClause parses a where clause like "type=error" or "message~timeout"
// Supported operators: =, !=, ~, !~, >=, <=, ^, $
func ParseWhereClause(clause string) (*WhereClause, error) {
	// Longest operators first to avoid partial matches
	operators := []string{"!~", ">=", "<=", "!=", "~", "=", "^", "$"}

	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx > 0 {
			field := strings.TrimSpace(clause[:idx])
			value := strings.TrimSpace(clause[idx+len(op):])

			if field == "" || value == "" {
				return nil, fmt.Errorf("invalid where clause: %s", clause)
			}

			wc := &WhereClause{
				Field:    strings.ToLower(field),
				Operator: op,
				Value:    value,
			}

			if op == "~" || op == "!~" {
				re, err := regexp.Compile(value)
				if err != nil {
					return nil, fmt.Errorf("invalid regex in where clause '%s': %w", clause, err)
				}
				wc.regex = re
			}

			return wc, nil
		}
	}

	return nil, fmt.Errorf("no valid operator found in where clause: %s (use =, !=, ~, !~, >=, <=, ^, $)", clause)
}

// Match checks if a log entry matches this where clause
func (wc *WhereClause) Match(entry *diag.LogEntry) bool {
	fieldValue := wc.getFieldValue(entry)

	switch wc.Operator {
	case "=":
		return fieldValue == wc.Value
	case "!=":
		return fieldValue != wc.Value
	case "~":
		return wc.regex.MatchString(fieldValue)
	case "!~":
		return !wc.regex.MatchString(fieldValue)
	case "^":
		return strings.HasPrefix(fieldValue, wc.Value)
	case "$":
		return strings.HasSuffix(fieldValue, wc.Value)
	case ">=":
		return wc.compare(entry, true)
	case "<=":
		return wc.compare(entry, false)
	}

	return false
}

func (wc *WhereClause) getFieldValue(entry *diag.LogEntry) string {
	switch wc.Field {
	case "type":
		return entry.Type
	case "title":
		return entry.Title
	case "message":
		return entry.Message
	case "code":
		return entry.Code
	case "id":
		return entry.ID
	case "fingerprint":
		return entry.Fingerprint
	case "repeated":
		return strconv.Itoa(entry.Repeated)
	default:
		return ""
	}
}

// compare handles >= and <= for type severity and repeat counts
func (wc *WhereClause) compare(entry *diag.LogEntry, greaterOrEqual bool) bool {
	var have, want int
	switch wc.Field {
	case "type":
		h, ok1 := severity[strings.ToLower(entry.Type)]
		w, ok2 := severity[strings.ToLower(wc.Value)]
		if !ok1 || !ok2 {
			return false
		}
		have, want = h, w
	case "repeated":
		w, err := strconv.Atoi(wc.Value)
		if err != nil {
			return false
		}
		have, want = entry.Repeated, w
	default:
		return false
	}

	if greaterOrEqual {
		return have >= want
	}
	return have <= want
}

// WhereFilter is a filter that applies multiple where clauses (AND logic)
type WhereFilter struct {
	clauses []*WhereClause
}

// NewWhereFilter creates a filter from multiple where clause strings
func NewWhereFilter(whereClauses []string) (*WhereFilter, error) {
	if len(whereClauses) == 0 {
		return nil, nil
	}

	filter := &WhereFilter{}
	for _, clause := range whereClauses {
		wc, err := ParseWhereClause(clause)
		if err != nil {
			return nil, err
		}
		filter.clauses = append(filter.clauses, wc)
	}

	return filter, nil
}

// Match returns true if the entry matches ALL where clauses (AND logic)
func (f *WhereFilter) Match(entry *diag.LogEntry) bool {
	if f == nil {
		return true
	}
	for _, clause := range f.clauses {
		if !clause.Match(entry) {
			return false
		}
	}
	return true
}

// Package accessor parses dot-separated state paths such as
// "files.myfile\.sh" into their segments.
package accessor

import "strings"

// Parse splits path on unescaped dots. A backslash escapes the character
// that follows it: "\." becomes a literal dot inside the segment, while
// "\\" is an escaped backslash and is kept verbatim, so "a\\.b" splits into
// "a\\" and "b". Empty input yields a single empty segment.
func Parse(path string) []string {
	var (
		segments []string
		current  strings.Builder
		escaped  bool
	)

	for _, r := range path {
		switch {
		case escaped:
			escaped = false
			if r != '.' {
				current.WriteRune('\\')
			}
			current.WriteRune(r)
		case r == '\\':
			escaped = true
		case r == '.':
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	// Trailing lone backslash
	if escaped {
		current.WriteRune('\\')
	}
	return append(segments, current.String())
}

// Join is the inverse of Parse for segments that contain no backslashes:
// literal dots are escaped and the segments are joined with ".".
func Join(segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = strings.ReplaceAll(s, ".", `\.`)
	}
	return strings.Join(escaped, ".")
}

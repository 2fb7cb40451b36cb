package filter

import (
	"regexp"

	"github.com/vburojevic/bsync/internal/diag"
)

// Pipeline combines a message pattern, exclusions and where clauses.
// A nil Pipeline matches everything.
type Pipeline struct {
	pattern  *regexp.Regexp
	excludes []*regexp.Regexp
	where    *WhereFilter
}

// NewPipeline returns nil when no filter is configured
func NewPipeline(pattern *regexp.Regexp, excludes []*regexp.Regexp, where *WhereFilter) *Pipeline {
	if pattern == nil && len(excludes) == 0 && where == nil {
		return nil
	}
	return &Pipeline{pattern: pattern, excludes: excludes, where: where}
}

// Match checks pattern, then exclusions, then where clauses. Pattern and
// exclusions look at the title and the message.
func (p *Pipeline) Match(entry *diag.LogEntry) bool {
	if p == nil {
		return true
	}
	text := entry.Title + "\n" + entry.Message
	if p.pattern != nil && !p.pattern.MatchString(text) {
		return false
	}
	for _, ex := range p.excludes {
		if ex.MatchString(text) {
			return false
		}
	}
	return p.where.Match(entry)
}

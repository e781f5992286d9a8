// Package topics compiles subscription patterns into topic predicates.
//
// Topics are dot-segmented strings such as "session.message". A pattern is
// one of:
//
//	*          matches every topic
//	prefix.*   matches "prefix" itself and any topic starting with "prefix."
//	anything   matches only the identical topic
//
// A set of patterns matches a topic if any one of them does.
package topics

import "strings"

const (
	// Wildcard matches every topic.
	Wildcard = "*"

	prefixSuffix = ".*"
)

type rule struct {
	pattern string
	prefix  string
	kind    ruleKind
}

type ruleKind int

const (
	ruleExact ruleKind = iota
	rulePrefix
	ruleAll
)

// Matcher is an immutable compiled pattern set. The nil Matcher matches
// nothing.
type Matcher struct {
	rules []rule
	all   bool
}

// Compile builds a Matcher from patterns. Patterns are trimmed and empty ones
// are dropped. The input slice is not retained.
func Compile(patterns []string) *Matcher {
	m := &Matcher{rules: make([]rule, 0, len(patterns))}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
			continue
		case p == Wildcard:
			m.all = true
			m.rules = append(m.rules, rule{pattern: p, kind: ruleAll})
		case strings.HasSuffix(p, prefixSuffix):
			m.rules = append(m.rules, rule{
				pattern: p,
				prefix:  strings.TrimSuffix(p, prefixSuffix),
				kind:    rulePrefix,
			})
		default:
			m.rules = append(m.rules, rule{pattern: p, prefix: p, kind: ruleExact})
		}
	}

	return m
}

// Match reports whether topic satisfies any compiled pattern.
func (m *Matcher) Match(topic string) bool {
	if m == nil {
		return false
	}
	if m.all {
		return true
	}

	for _, r := range m.rules {
		switch r.kind {
		case rulePrefix:
			if topic == r.prefix || strings.HasPrefix(topic, r.prefix+".") {
				return true
			}
		case ruleExact:
			if topic == r.prefix {
				return true
			}
		}
	}

	return false
}

// Patterns returns the effective (trimmed, non-empty) patterns in order.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.pattern
	}
	return out
}

// Empty reports whether the matcher can never match.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.rules) == 0
}

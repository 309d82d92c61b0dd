package domain

import (
	"path/filepath"
	"strings"
)

// MatcherKind is the tag of a Matcher.
type MatcherKind string

const (
	MatchExactName    MatcherKind = "exact_name"
	MatchPathContains MatcherKind = "path_contains"
	MatchAnyOf        MatcherKind = "any_of"
)

// Matcher is a pure predicate over ProcessInfo.
type Matcher struct {
	Kind  MatcherKind
	Value string    // ExactName, PathContains
	AnyOf []Matcher // AnyOf
}

// ExactName matches the short process name or the base name of argv[0].
func ExactName(name string) Matcher {
	return Matcher{Kind: MatchExactName, Value: name}
}

// PathContains matches a substring of the full command line.
func PathContains(s string) Matcher {
	return Matcher{Kind: MatchPathContains, Value: s}
}

// AnyOf matches when at least one inner matcher does.
func AnyOf(ms ...Matcher) Matcher {
	return Matcher{Kind: MatchAnyOf, AnyOf: ms}
}

// Matches evaluates the matcher.
func (m Matcher) Matches(p ProcessInfo) bool {
	switch m.Kind {
	case MatchExactName:
		if m.Value == "" {
			return false
		}
		if p.Name == m.Value {
			return true
		}
		return argv0Base(p.Command) == m.Value
	case MatchPathContains:
		if m.Value == "" {
			return false
		}
		if p.Command == "" {
			return strings.Contains(p.Name, m.Value)
		}
		return strings.Contains(p.Command, m.Value)
	case MatchAnyOf:
		for _, inner := range m.AnyOf {
			if inner.Matches(p) {
				return true
			}
		}
	}
	return false
}

func (m Matcher) String() string {
	switch m.Kind {
	case MatchAnyOf:
		parts := make([]string, len(m.AnyOf))
		for i, inner := range m.AnyOf {
			parts[i] = inner.String()
		}
		return "any_of(" + strings.Join(parts, ", ") + ")"
	default:
		return string(m.Kind) + "(" + m.Value + ")"
	}
}

func argv0Base(cmdline string) string {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

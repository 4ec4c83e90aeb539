// Package visibility implements the schema/table/column rule engine. It is
// a pure function over configuration: it never touches the database.
package visibility

import (
	"fmt"
	"regexp"
	"strings"
)

type patternKind int

const (
	patternExact patternKind = iota
	patternRegex
	patternAll
)

// Pattern matches a schema or table name. It is one of: exact string,
// compiled regex, or the universal matcher.
type Pattern struct {
	kind  patternKind
	exact string
	re    *regexp.Regexp
}

// Exact returns a pattern matching name literally.
func Exact(name string) Pattern {
	return Pattern{kind: patternExact, exact: name}
}

// Regex compiles expr into a pattern. Invalid expressions are rejected at
// config load, not at match time.
func Regex(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Pattern{kind: patternRegex, re: re}, nil
}

// MustRegex is Regex for compile-time-known expressions.
func MustRegex(expr string) Pattern {
	p, err := Regex(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// All returns the universal matcher (":all" in rule configuration).
func All() Pattern {
	return Pattern{kind: patternAll}
}

// Matches reports whether the pattern matches name.
func (p Pattern) Matches(name string) bool {
	switch p.kind {
	case patternExact:
		return p.exact == name
	case patternRegex:
		return p.re.MatchString(name)
	case patternAll:
		return true
	}
	return false
}

// IsAll reports whether p is the universal matcher.
func (p Pattern) IsAll() bool { return p.kind == patternAll }

// String renders the pattern in its configuration syntax.
func (p Pattern) String() string {
	switch p.kind {
	case patternExact:
		return p.exact
	case patternRegex:
		return "/" + p.re.String() + "/"
	case patternAll:
		return ":all"
	}
	return ""
}

// ParsePattern reads the configuration syntax: ":all" or "*" for the
// universal matcher, "/expr/" for a regex, anything else is exact.
func ParsePattern(s string) (Pattern, error) {
	switch {
	case s == ":all" || s == "*":
		return All(), nil
	case len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/"):
		return Regex(s[1 : len(s)-1])
	default:
		return Exact(s), nil
	}
}

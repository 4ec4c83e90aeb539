// Package sqlcheck is the syntactic gate in front of execution: it rejects
// multi-statement submissions and statements carrying write keywords. It is
// deliberately not a SQL parser; relation-level authorization happens in
// preflight, against the engine's own plan.
package sqlcheck

import (
	"regexp"
	"strings"

	"github.com/wayli-app/lotus/qerror"
)

// Write keywords that disqualify a statement. The scan is conservative: a
// match anywhere, even inside a string literal, rejects the statement. No
// legitimate read-only query needs these words as data.
var denyKeyword = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|VACUUM|REINDEX|ATTACH|DETACH|COPY)\b`)

var allowedShape = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"VALUES":  true,
	"EXPLAIN": true,
	"SHOW":    true,
}

var dollarTagRe = regexp.MustCompile(`^\$[A-Za-z_][A-Za-z0-9_]*\$|^\$\$`)

// Validate checks that sql is a single read-only statement. It returns
// MultipleStatements for an interior semicolon and ReadOnlyViolation for a
// write keyword or a non-query statement shape.
func Validate(sql string) error {
	if err := checkSingleStatement(sql); err != nil {
		return err
	}
	if denyKeyword.MatchString(sql) {
		return qerror.ReadOnlyViolation()
	}
	if !allowedShape[leadingWord(sql)] {
		return qerror.ReadOnlyViolation()
	}
	return nil
}

// checkSingleStatement walks the statement tracking quoted, commented, and
// dollar-quoted spans; a semicolon outside every span followed by anything
// but whitespace means a second statement.
func checkSingleStatement(sql string) error {
	i, n := 0, len(sql)
	for i < n {
		switch c := sql[i]; c {
		case '\'':
			i = skipQuoted(sql, i, '\'')
		case '"':
			i = skipQuoted(sql, i, '"')
		case '`':
			i = skipQuoted(sql, i, '`')
		case '-':
			if i+1 < n && sql[i+1] == '-' {
				i = skipLineComment(sql, i)
			} else {
				i++
			}
		case '/':
			if i+1 < n && sql[i+1] == '*' {
				i = skipBlockComment(sql, i)
			} else {
				i++
			}
		case '$':
			if tag := dollarTagRe.FindString(sql[i:]); tag != "" {
				i = skipDollarQuoted(sql, i, tag)
			} else {
				i++
			}
		case ';':
			if strings.TrimSpace(sql[i+1:]) != "" {
				return qerror.MultipleStatements()
			}
			return nil
		default:
			i++
		}
	}
	return nil
}

// skipQuoted consumes a span delimited by q, honoring doubled-delimiter
// escapes. An unterminated span runs to the end.
func skipQuoted(sql string, start int, q byte) int {
	i, n := start+1, len(sql)
	for i < n {
		if sql[i] == q {
			if i+1 < n && sql[i+1] == q {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return n
}

func skipLineComment(sql string, start int) int {
	if nl := strings.IndexByte(sql[start:], '\n'); nl >= 0 {
		return start + nl + 1
	}
	return len(sql)
}

// skipBlockComment consumes /* */ with nesting, as PostgreSQL allows.
func skipBlockComment(sql string, start int) int {
	i, n, depth := start+2, len(sql), 1
	for i < n {
		switch {
		case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
			depth++
			i += 2
		case i+1 < n && sql[i] == '*' && sql[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return n
}

func skipDollarQuoted(sql string, start int, tag string) int {
	if end := strings.Index(sql[start+len(tag):], tag); end >= 0 {
		return start + len(tag) + end + len(tag)
	}
	return len(sql)
}

// leadingWord returns the first keyword after leading whitespace and
// comments, uppercased.
func leadingWord(sql string) string {
	i, n := 0, len(sql)
	for i < n {
		switch {
		case sql[i] == ' ' || sql[i] == '\t' || sql[i] == '\n' || sql[i] == '\r':
			i++
		case sql[i] == '-' && i+1 < n && sql[i+1] == '-':
			i = skipLineComment(sql, i)
		case sql[i] == '/' && i+1 < n && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
		default:
			j := i
			for j < n && isWordByte(sql[j]) {
				j++
			}
			return strings.ToUpper(sql[i:j])
		}
	}
	return ""
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

package bind

import (
	"fmt"
	"regexp"
	"strings"
)

// The transformer rewrites a {{var}} statement into dialect-ready SQL in a
// fixed stage order: wildcard literals (A), PostgreSQL intervals (B), safe
// quote stripping (C). Placeholder substitution (D) happens in Bind once
// the surviving {{var}} tokens are known.

var (
	varToken = `\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`

	wildcardBoth   = regexp.MustCompile(`^%` + varToken + `%$`)
	wildcardLead   = regexp.MustCompile(`^%` + varToken + `$`)
	wildcardTrail  = regexp.MustCompile(`^` + varToken + `%$`)
	bareVarLiteral = regexp.MustCompile(`^` + varToken + `$`)

	intervalVarUnit  = regexp.MustCompile(`^` + varToken + `\s+([A-Za-z]+)$`)
	intervalTwoVars  = regexp.MustCompile(`^` + varToken + `\s+` + varToken + `$`)
	intervalNumUnit  = regexp.MustCompile(`^(\d+)\s+` + varToken + `$`)
	intervalKeyword  = regexp.MustCompile(`(?i)\bINTERVAL\s*$`)
	intervalUnquoted = regexp.MustCompile(`(?i)\bINTERVAL\s+` + varToken)

	// VarPattern matches one {{name}} placeholder token.
	VarPattern = regexp.MustCompile(varToken)
)

// make_interval argument names for the units the rewrite recognizes.
var intervalUnits = map[string]string{
	"day": "days", "days": "days",
	"hour": "hours", "hours": "hours",
	"minute": "mins", "minutes": "mins",
	"second": "secs", "seconds": "secs",
	"month": "months", "months": "months",
	"year": "years", "years": "years",
	"week": "weeks", "weeks": "weeks",
}

// Transform applies stages A–C for the given dialect name and returns SQL
// that still carries bare {{var}} tokens for stage D. Applying Transform
// to its own output is a no-op.
func Transform(stmt, dialectName string) string {
	segs := scanSegments(stmt)
	segs = rewriteWildcards(segs, dialectName)
	if dialectName == "postgres" {
		segs = rewriteIntervals(segs)
	}
	segs = stripQuotedVars(segs)
	out := joinSegments(segs)
	if dialectName == "postgres" {
		out = rewriteUnquotedInterval(out)
	}
	return out
}

// Stage A. A literal that is exactly a wildcard-wrapped variable becomes a
// dialect concatenation; placeholders inside other literals are untouched.
func rewriteWildcards(segs []segment, dialectName string) []segment {
	out := make([]segment, 0, len(segs))
	for _, s := range segs {
		if !s.literal {
			out = append(out, s)
			continue
		}
		content := s.inner()
		var rewritten string
		switch {
		case wildcardBoth.MatchString(content):
			name := wildcardBoth.FindStringSubmatch(content)[1]
			rewritten = concatExpr(dialectName, "'%'", varRef(name), "'%'")
		case wildcardLead.MatchString(content):
			name := wildcardLead.FindStringSubmatch(content)[1]
			rewritten = concatExpr(dialectName, "'%'", varRef(name))
		case wildcardTrail.MatchString(content):
			name := wildcardTrail.FindStringSubmatch(content)[1]
			rewritten = concatExpr(dialectName, varRef(name), "'%'")
		default:
			out = append(out, s)
			continue
		}
		out = append(out, segment{text: rewritten})
	}
	return out
}

func varRef(name string) string { return "{{" + name + "}}" }

func concatExpr(dialectName string, parts ...string) string {
	if dialectName == "mysql" {
		return "CONCAT(" + strings.Join(parts, ", ") + ")"
	}
	return strings.Join(parts, " || ")
}

// Stage B. INTERVAL '…' constructs containing variables become parameter-
// friendly expressions. The INTERVAL keyword is consumed from the
// preceding text span.
func rewriteIntervals(segs []segment) []segment {
	out := make([]segment, 0, len(segs))
	for _, s := range segs {
		if !s.literal || len(out) == 0 {
			out = append(out, s)
			continue
		}
		prev := &out[len(out)-1]
		if prev.literal || !intervalKeyword.MatchString(prev.text) {
			out = append(out, s)
			continue
		}
		content := s.inner()
		var rewritten string
		switch {
		case intervalVarUnit.MatchString(content):
			m := intervalVarUnit.FindStringSubmatch(content)
			unit, ok := intervalUnits[strings.ToLower(m[2])]
			if !ok {
				out = append(out, s)
				continue
			}
			rewritten = fmt.Sprintf("make_interval(%s => (%s)::integer)", unit, varRef(m[1]))
		case intervalTwoVars.MatchString(content):
			m := intervalTwoVars.FindStringSubmatch(content)
			rewritten = fmt.Sprintf("((CAST(%s AS text) || ' ' || %s)::interval)", varRef(m[1]), varRef(m[2]))
		case intervalNumUnit.MatchString(content):
			m := intervalNumUnit.FindStringSubmatch(content)
			rewritten = fmt.Sprintf("(('%s ' || %s)::interval)", m[1], varRef(m[2]))
		default:
			out = append(out, s)
			continue
		}
		prev.text = intervalKeyword.ReplaceAllString(prev.text, "")
		out = append(out, segment{text: rewritten})
	}
	return out
}

// INTERVAL {{v}} without quotes: the variable carries the whole interval
// text.
func rewriteUnquotedInterval(sql string) string {
	return intervalUnquoted.ReplaceAllString(sql, "({{$1}}::text)::interval")
}

// Stage C. A literal that is exactly '{{v}}' loses its quotes so the
// variable binds as a real parameter. Any trailing ::type annotation sits
// in the following text span and is preserved as-is.
func stripQuotedVars(segs []segment) []segment {
	out := make([]segment, 0, len(segs))
	for _, s := range segs {
		if s.literal && bareVarLiteral.MatchString(s.inner()) {
			out = append(out, segment{text: s.inner()})
			continue
		}
		out = append(out, s)
	}
	return out
}

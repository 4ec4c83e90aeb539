package bind

import "strings"

// segment is one span of the statement: either a single-quoted literal
// (quotes included, '' escapes handled) or plain text between literals.
// The transform stages operate on segments so rewrites stay bounded to the
// exact quoted token they target.
type segment struct {
	text    string
	literal bool
}

// scanSegments splits the statement into literal and non-literal spans.
// An unterminated literal runs to the end of the input.
func scanSegments(stmt string) []segment {
	var segs []segment
	var buf strings.Builder
	i, n := 0, len(stmt)

	flush := func(literal bool) {
		if buf.Len() > 0 {
			segs = append(segs, segment{text: buf.String(), literal: literal})
			buf.Reset()
		}
	}

	for i < n {
		if stmt[i] != '\'' {
			buf.WriteByte(stmt[i])
			i++
			continue
		}
		flush(false)
		buf.WriteByte('\'')
		i++
		for i < n {
			if stmt[i] == '\'' {
				if i+1 < n && stmt[i+1] == '\'' {
					buf.WriteString("''")
					i += 2
					continue
				}
				buf.WriteByte('\'')
				i++
				break
			}
			buf.WriteByte(stmt[i])
			i++
		}
		flush(true)
	}
	flush(false)
	return segs
}

// inner returns the literal's content without the surrounding quotes.
func (s segment) inner() string {
	if !s.literal {
		return s.text
	}
	t := strings.TrimPrefix(s.text, "'")
	return strings.TrimSuffix(t, "'")
}

func joinSegments(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.text)
	}
	return b.String()
}

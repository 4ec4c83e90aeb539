package visibility

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Action is the effective decision for a column.
type Action int

const (
	// ActionAllow passes the column through untouched.
	ActionAllow Action = iota
	// ActionOmit drops the column from the result.
	ActionOmit
	// ActionMask rewrites each value using the policy's mask strategy.
	ActionMask
	// ActionError aborts the query before returning any row.
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionOmit:
		return "omit"
	case ActionMask:
		return "mask"
	case ActionError:
		return "error"
	}
	return "unknown"
}

// MaskKind selects a masking strategy.
type MaskKind int

const (
	MaskNull MaskKind = iota
	MaskSHA256
	MaskFixed
	MaskPartial
)

// Mask describes how a masked column's values are rewritten.
type Mask struct {
	Kind MaskKind
	// Fixed is the substitute value for MaskFixed.
	Fixed any
	// KeepFirst and KeepLast bound the preserved prefix/suffix for
	// MaskPartial.
	KeepFirst int
	KeepLast  int
	// Replacement is the fill rune for MaskPartial; defaults to "*".
	Replacement string
}

// ColumnPolicy is the tagged action attached to a column rule.
type ColumnPolicy struct {
	Action Action
	Mask   *Mask
	// ShowInSchema controls whether omitted/error columns still appear in
	// introspection output. Nil means the default for the action: omit and
	// error columns are hidden.
	ShowInSchema *bool
}

// Allowed is the implicit policy for unmatched columns.
func Allowed() ColumnPolicy { return ColumnPolicy{Action: ActionAllow} }

// VisibleInSchema reports whether introspection should list the column.
func (p ColumnPolicy) VisibleInSchema() bool {
	if p.ShowInSchema != nil {
		return *p.ShowInSchema
	}
	return p.Action != ActionOmit && p.Action != ActionError
}

// Annotation returns the introspection visibility marker for the policy,
// or "" for plain allowed columns.
func (p ColumnPolicy) Annotation() string {
	if p.Action == ActionMask {
		return "masked"
	}
	return ""
}

// ApplyMask rewrites value according to the mask strategy. A nil input
// stays nil for every strategy except MaskFixed.
func (p ColumnPolicy) ApplyMask(value any) any {
	if p.Action != ActionMask || p.Mask == nil {
		return value
	}
	m := p.Mask
	switch m.Kind {
	case MaskNull:
		return nil
	case MaskFixed:
		return m.Fixed
	case MaskSHA256:
		if value == nil {
			return nil
		}
		sum := sha256.Sum256([]byte(stringify(value)))
		return hex.EncodeToString(sum[:])
	case MaskPartial:
		if value == nil {
			return nil
		}
		return maskPartial(stringify(value), m.KeepFirst, m.KeepLast, m.Replacement)
	}
	return value
}

func maskPartial(s string, keepFirst, keepLast int, replacement string) string {
	if replacement == "" {
		replacement = "*"
	}
	runes := []rune(s)
	n := len(runes)
	if keepFirst < 0 {
		keepFirst = 0
	}
	if keepLast < 0 {
		keepLast = 0
	}
	if keepFirst+keepLast >= n {
		return s
	}
	middle := n - keepFirst - keepLast
	return string(runes[:keepFirst]) + strings.Repeat(replacement, middle) + string(runes[n-keepLast:])
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}

// ColumnRule scopes a policy to a column. Schema and Table narrow the
// scope; empty strings widen it. More specific scopes win.
type ColumnRule struct {
	Schema string
	Table  string
	Column string
	Policy ColumnPolicy
}

// specificity orders column rules: (schema,table,column)=3,
// (table,column)=2, (column)=1.
func (r ColumnRule) specificity() int {
	switch {
	case r.Schema != "" && r.Table != "":
		return 3
	case r.Table != "":
		return 2
	default:
		return 1
	}
}

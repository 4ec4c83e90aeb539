// Package bind turns a statement with {{var}} placeholders plus a variable
// map into a dialect-specific parameterized query: wildcard and interval
// rewriting, quote stripping, placeholder numbering, and value casting.
package bind

import (
	"context"
	"strings"

	"github.com/wayli-app/lotus/dialect"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/query"
)

// TypeResolver infers a column's variable type from the schema cache.
// Lookups are best-effort: a miss falls back to the declared type.
type TypeResolver interface {
	ColumnType(ctx context.Context, table, column string) (query.VarType, bool)
}

// Binding is the outcome of Bind: executable SQL with positional
// parameters.
type Binding struct {
	SQL string
	// Params are the bound values in placeholder order. Dialects without
	// numbered placeholders repeat values for repeated variables.
	Params []any
	// Types records the effective type per distinct variable, in first-
	// occurrence order.
	Types map[string]query.VarType
	// Order lists distinct variables in first-occurrence order.
	Order []string
}

// Bind rewrites and parameterizes spec.Statement. Every {{var}} must
// resolve to a runtime value or a declared default; values are cast to the
// declared or inferred type before binding.
func Bind(ctx context.Context, d dialect.Dialect, spec query.Spec, resolver TypeResolver) (*Binding, error) {
	transformed := Transform(spec.Statement, d.Name())

	types := inferTypes(ctx, transformed, spec, resolver)

	b := &Binding{Types: types}
	ordinal := d.Supports(dialect.FeatureOrdinalParams)
	slots := make(map[string]int) // variable -> 1-based slot (ordinal dialects)

	var out strings.Builder
	last := 0
	for _, m := range VarPattern.FindAllStringSubmatchIndex(transformed, -1) {
		start, end := m[0], m[1]
		name := transformed[m[2]:m[3]]
		out.WriteString(transformed[last:start])
		last = end

		typ := types[name]
		// A cast already wrapping the placeholder (from an interval rewrite
		// or a user ::type annotation) carries the type; emit it bare.
		if hasTrailingCast(transformed[end:]) {
			typ = ""
		}

		if idx, seen := slots[name]; seen && ordinal {
			out.WriteString(d.Placeholder(idx, typ))
			continue
		}

		value, err := resolveValue(spec, name)
		if err != nil {
			return nil, err
		}
		cast, err := castValue(name, types[name], value, d.Name())
		if err != nil {
			return nil, err
		}

		if _, seen := slots[name]; !seen {
			slots[name] = len(slots) + 1
			b.Order = append(b.Order, name)
		}
		b.Params = append(b.Params, cast)
		out.WriteString(d.Placeholder(slots[name], typ))
	}
	out.WriteString(transformed[last:])

	b.SQL = out.String()
	return b, nil
}

// hasTrailingCast reports whether the text right after a placeholder token
// is an explicit cast, either directly ({{v}}::t) or through a wrapping
// paren (({{v}})::t).
func hasTrailingCast(rest string) bool {
	if strings.HasPrefix(rest, "::") {
		return true
	}
	return strings.HasPrefix(rest, ")::")
}

// resolveValue picks the runtime value, falling back to the declared
// default.
func resolveValue(spec query.Spec, name string) (any, error) {
	if v, ok := spec.Values[name]; ok && v != nil {
		return v, nil
	}
	if decl, ok := spec.VariableNamed(name); ok && decl.Default != nil {
		return decl.Default, nil
	}
	return nil, qerror.MissingVariable(name)
}

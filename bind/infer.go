package bind

import (
	"context"
	"regexp"
	"strings"

	"github.com/wayli-app/lotus/query"
)

// Column-comparison shapes the inference scan recognizes: col = {{v}},
// col IN ({{v}}), col > {{v}}, and friends. The column reference may be
// schema- or table-qualified.
var comparisonRe = regexp.MustCompile(
	`([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*){0,2})\s*(?:=|!=|<>|>=|<=|>|<|(?i:IN)\s*\()\s*` + varToken)

// FROM/JOIN targets, used only to widen the inference lookup to the
// statement's tables when the comparison column is unqualified.
var fromTargetRe = regexp.MustCompile(
	`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?)`)

// inferTypes computes the effective type for every variable in the
// statement: declared type first, then schema-cache inference, then text.
func inferTypes(ctx context.Context, transformed string, spec query.Spec, resolver TypeResolver) map[string]query.VarType {
	types := make(map[string]query.VarType)

	for _, m := range VarPattern.FindAllStringSubmatch(transformed, -1) {
		name := m[1]
		if _, done := types[name]; done {
			continue
		}
		if decl, ok := spec.VariableNamed(name); ok && decl.Type != "" {
			types[name] = decl.Type
			continue
		}
		types[name] = query.TypeText
	}

	if resolver == nil {
		return types
	}

	tables := fromTargets(transformed)
	for _, m := range comparisonRe.FindAllStringSubmatch(transformed, -1) {
		colRef, name := m[1], m[2]
		if types[name] != query.TypeText {
			continue // declared type wins
		}
		if decl, ok := spec.VariableNamed(name); ok && decl.Type != "" {
			continue
		}
		if t, ok := lookupColumn(ctx, resolver, colRef, tables); ok {
			types[name] = t
		}
	}
	return types
}

func fromTargets(sql string) []string {
	var out []string
	for _, m := range fromTargetRe.FindAllStringSubmatch(sql, -1) {
		out = append(out, m[1])
	}
	return out
}

func lookupColumn(ctx context.Context, resolver TypeResolver, colRef string, tables []string) (query.VarType, bool) {
	parts := strings.Split(colRef, ".")
	switch len(parts) {
	case 3: // schema.table.column
		return resolver.ColumnType(ctx, parts[0]+"."+parts[1], parts[2])
	case 2: // table.column (or alias.column; the resolver misses on aliases)
		return resolver.ColumnType(ctx, parts[0], parts[1])
	default:
		for _, table := range tables {
			if t, ok := resolver.ColumnType(ctx, table, colRef); ok {
				return t, true
			}
		}
	}
	return "", false
}

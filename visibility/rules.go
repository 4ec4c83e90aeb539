package visibility

import (
	"fmt"
	"strings"
)

// TableRule matches a table, optionally qualified by a schema pattern. A
// bare rule (Schema == All) matches the table in any schema.
type TableRule struct {
	Schema Pattern
	Table  Pattern
}

// BareTable builds a rule matching name in any schema.
func BareTable(name string) TableRule {
	return TableRule{Schema: All(), Table: Exact(name)}
}

// QualifiedTable builds an exact {schema, table} rule.
func QualifiedTable(schema, table string) TableRule {
	return TableRule{Schema: Exact(schema), Table: Exact(table)}
}

// Matches reports whether the rule matches the (schema, table) pair.
func (r TableRule) Matches(schema, table string) bool {
	return r.Schema.Matches(schema) && r.Table.Matches(table)
}

func (r TableRule) String() string {
	if r.Schema.IsAll() {
		return r.Table.String()
	}
	return fmt.Sprintf("{%s, %s}", r.Schema, r.Table)
}

// RuleSet is the raw, per-backend rule configuration before compilation.
type RuleSet struct {
	SchemaAllow []Pattern
	SchemaDeny  []Pattern
	TableAllow  []TableRule
	TableDeny   []TableRule
	Columns     []ColumnRule
}

// Rules is the compiled, immutable policy for one backend. Column rules
// are normalized into specificity-keyed lookups at compile time.
type Rules struct {
	dialect string

	schemaAllow []Pattern
	schemaDeny  []Pattern
	// schemaGated is false when the allow list is empty or contains :all,
	// meaning there is no schema gate.
	schemaGated bool

	tableAllow []TableRule
	tableDeny  []TableRule

	builtinSchemaDeny []Pattern
	builtinTableDeny  []TableRule

	col3 map[string]ColumnPolicy // schema.table.column
	col2 map[string]ColumnPolicy // table.column
	col1 map[string]ColumnPolicy // column
}

// Compile normalizes a rule set for the given dialect. Built-in denies for
// system catalogs and framework metadata are always attached and cannot be
// re-enabled by allow rules.
func Compile(dialect string, rs RuleSet) *Rules {
	r := &Rules{
		dialect:           dialect,
		schemaAllow:       rs.SchemaAllow,
		schemaDeny:        rs.SchemaDeny,
		tableAllow:        rs.TableAllow,
		tableDeny:         rs.TableDeny,
		builtinSchemaDeny: builtinSchemaDeny(dialect),
		builtinTableDeny:  builtinTableDeny(dialect),
		col3:              make(map[string]ColumnPolicy),
		col2:              make(map[string]ColumnPolicy),
		col1:              make(map[string]ColumnPolicy),
	}

	r.schemaGated = len(rs.SchemaAllow) > 0
	for _, p := range rs.SchemaAllow {
		if p.IsAll() {
			r.schemaGated = false
		}
	}

	// First matching rule wins within a specificity tier, so earlier rules
	// take precedence over later duplicates.
	for _, cr := range rs.Columns {
		switch cr.specificity() {
		case 3:
			key := cr.Schema + "." + cr.Table + "." + cr.Column
			if _, ok := r.col3[key]; !ok {
				r.col3[key] = cr.Policy
			}
		case 2:
			key := cr.Table + "." + cr.Column
			if _, ok := r.col2[key]; !ok {
				r.col2[key] = cr.Policy
			}
		default:
			if _, ok := r.col1[cr.Column]; !ok {
				r.col1[cr.Column] = cr.Policy
			}
		}
	}
	return r
}

// Dialect returns the dialect the rules were compiled for.
func (r *Rules) Dialect() string { return r.dialect }

// SchemaAllowed evaluates the schema gate for schema. Built-in denies
// always apply; an explicit deny beats any allow; with a non-:all allow
// list only listed schemas pass.
func (r *Rules) SchemaAllowed(schema string) bool {
	for _, p := range r.builtinSchemaDeny {
		if p.Matches(schema) {
			return false
		}
	}
	for _, p := range r.schemaDeny {
		if p.Matches(schema) {
			return false
		}
	}
	if !r.schemaGated {
		return true
	}
	for _, p := range r.schemaAllow {
		if p.Matches(schema) {
			return true
		}
	}
	return false
}

// TableAllowed is the total visibility decision for (schema, table):
// schema gate, then deny-wins, then the schema's allow posture.
func (r *Rules) TableAllowed(schema, table string) bool {
	if !r.SchemaAllowed(schema) {
		return false
	}
	for _, rule := range r.builtinTableDeny {
		if rule.Matches(schema, table) {
			return false
		}
	}
	for _, rule := range r.tableDeny {
		if rule.Matches(schema, table) {
			return false
		}
	}
	// Default-deny posture: if any allow rule could target this schema,
	// only explicitly allowed tables are visible.
	gated := false
	for _, rule := range r.tableAllow {
		if rule.Schema.Matches(schema) {
			gated = true
			if rule.Table.Matches(table) {
				return true
			}
		}
	}
	return !gated
}

// ColumnPolicy resolves the effective policy for a column, walking scopes
// from most to least specific. Unmatched columns are allowed.
func (r *Rules) ColumnPolicy(schema, table, column string) ColumnPolicy {
	if p, ok := r.col3[schema+"."+table+"."+column]; ok {
		return p
	}
	if p, ok := r.col2[table+"."+column]; ok {
		return p
	}
	if p, ok := r.col1[column]; ok {
		return p
	}
	return Allowed()
}

// ColumnPolicyWithSpecificity is ColumnPolicy plus the matched tier
// (3, 2, 1, or 0 for the implicit allow). The post-processor uses the tier
// to arbitrate between multiple touched relations.
func (r *Rules) ColumnPolicyWithSpecificity(schema, table, column string) (ColumnPolicy, int) {
	if p, ok := r.col3[schema+"."+table+"."+column]; ok {
		return p, 3
	}
	if p, ok := r.col2[table+"."+column]; ok {
		return p, 2
	}
	if p, ok := r.col1[column]; ok {
		return p, 1
	}
	return Allowed(), 0
}

// Built-in denies per spec: system catalogs plus framework metadata. These
// are compiled once per dialect and always evaluated first.

func builtinSchemaDeny(dialect string) []Pattern {
	switch dialect {
	case "postgres":
		return []Pattern{
			Exact("pg_catalog"),
			Exact("information_schema"),
			Exact("pg_toast"),
			MustRegex("^pg_temp"),
			MustRegex("^pg_toast"),
		}
	case "mysql":
		return []Pattern{
			Exact("mysql"),
			Exact("information_schema"),
			Exact("performance_schema"),
			Exact("sys"),
		}
	default:
		return nil
	}
}

func builtinTableDeny(dialect string) []TableRule {
	rules := []TableRule{
		BareTable("schema_migrations"),
		{Schema: All(), Table: MustRegex("_schema_migrations$")},
		BareTable("lotus_queries"),
		{Schema: All(), Table: MustRegex("^lotus_dashboards")},
	}
	if dialect == "sqlite" {
		rules = append(rules,
			BareTable("sqlite_master"),
			BareTable("sqlite_sequence"),
			TableRule{Schema: All(), Table: MustRegex("^sqlite_")},
		)
	}
	return rules
}

// FormatRelation renders a (schema, table) pair for error messages.
func FormatRelation(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "." + table
}

// ParseTableRule reads the configuration syntax for table rules: a bare
// name ("api_keys"), a qualified "schema.table" pair where either side may
// be a pattern, or pattern syntax in either position.
func ParseTableRule(s string) (TableRule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TableRule{}, fmt.Errorf("empty table rule")
	}
	// Regex rules may contain dots; only split when both sides are plain.
	if idx := strings.Index(s, "."); idx > 0 && !strings.HasPrefix(s, "/") {
		schemaPart, tablePart := s[:idx], s[idx+1:]
		sp, err := ParsePattern(schemaPart)
		if err != nil {
			return TableRule{}, err
		}
		tp, err := ParsePattern(tablePart)
		if err != nil {
			return TableRule{}, err
		}
		return TableRule{Schema: sp, Table: tp}, nil
	}
	tp, err := ParsePattern(s)
	if err != nil {
		return TableRule{}, err
	}
	return TableRule{Schema: All(), Table: tp}, nil
}

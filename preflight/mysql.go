package preflight

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/wayli-app/lotus/dialect"
)

// discoverMySQL plans the statement with EXPLAIN FORMAT=JSON and collects
// every "table_name" in the plan tree. The plan emits bare table names, so
// each one resolves against the connection's current database unless the
// statement qualifies it with an explicit db.table reference.
func discoverMySQL(ctx context.Context, tx *sql.Tx, d dialect.Dialect, sqlText string, params []any) ([]Relation, error) {
	var current sql.NullString
	if err := tx.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&current); err != nil {
		return nil, err
	}

	var plan string
	row := tx.QueryRowContext(ctx, "EXPLAIN FORMAT=JSON "+sqlText, params...)
	if err := row.Scan(&plan); err != nil {
		return nil, explainError(d, err)
	}

	var doc any
	if err := json.Unmarshal([]byte(plan), &doc); err != nil {
		return nil, explainError(d, err)
	}

	var names []string
	walkMySQLPlan(doc, &names)

	qualified := qualifiedTargets(sqlText)
	relations := make([]Relation, 0, len(names))
	for _, name := range names {
		schema := current.String
		if q, ok := qualified[strings.ToLower(name)]; ok {
			schema = q
		}
		relations = append(relations, Relation{Schema: schema, Table: name})
	}
	return dedupe(relations), nil
}

// qualifiedTargets maps table names the statement references with an
// explicit schema to that schema, so cross-database reads are attributed
// to the database they actually touch.
func qualifiedTargets(sqlText string) map[string]string {
	out := make(map[string]string)
	for _, rel := range scanFromTargets(sqlText, "") {
		if rel.Schema != "" {
			out[strings.ToLower(rel.Table)] = rel.Schema
		}
	}
	return out
}

func walkMySQLPlan(node any, out *[]string) {
	switch n := node.(type) {
	case map[string]any:
		if name, ok := n["table_name"].(string); ok && name != "" {
			*out = append(*out, name)
		}
		for _, v := range n {
			walkMySQLPlan(v, out)
		}
	case []any:
		for _, v := range n {
			walkMySQLPlan(v, out)
		}
	}
}

package preflight

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/wayli-app/lotus/dialect"
)

// discoverPostgres plans the statement with EXPLAIN (VERBOSE, FORMAT JSON)
// and walks the plan tree for scanned relations. VERBOSE makes the planner
// emit "Schema" next to every "Relation Name", so views and CTEs resolve
// to the base tables they actually read.
func discoverPostgres(ctx context.Context, tx *sql.Tx, d dialect.Dialect, sqlText string, params []any) ([]Relation, error) {
	var plan string
	row := tx.QueryRowContext(ctx, "EXPLAIN (VERBOSE, FORMAT JSON) "+sqlText, params...)
	if err := row.Scan(&plan); err != nil {
		return nil, explainError(d, err)
	}

	var doc any
	if err := json.Unmarshal([]byte(plan), &doc); err != nil {
		return nil, explainError(d, err)
	}

	var relations []Relation
	walkPostgresPlan(doc, &relations)
	return dedupe(relations), nil
}

func walkPostgresPlan(node any, out *[]Relation) {
	switch n := node.(type) {
	case map[string]any:
		if name, ok := n["Relation Name"].(string); ok && name != "" {
			schema, _ := n["Schema"].(string)
			*out = append(*out, Relation{Schema: schema, Table: name})
		}
		for _, v := range n {
			walkPostgresPlan(v, out)
		}
	case []any:
		for _, v := range n {
			walkPostgresPlan(v, out)
		}
	}
}

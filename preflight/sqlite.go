package preflight

import (
	"context"
	"database/sql"

	"github.com/wayli-app/lotus/dialect"
)

// discoverSQLite runs EXPLAIN over the statement, collects the root pages
// of every OpenRead opcode in the bytecode, and maps them back to table
// names through sqlite_master.
func discoverSQLite(ctx context.Context, tx *sql.Tx, d dialect.Dialect, sqlText string, params []any) ([]Relation, error) {
	rows, err := tx.QueryContext(ctx, "EXPLAIN "+sqlText, params...)
	if err != nil {
		return nil, explainError(d, err)
	}
	defer rows.Close()

	pages := make(map[int64]struct{})
	var order []int64
	for rows.Next() {
		var (
			addr, p1, p2, p3 int64
			opcode           string
			p4, p5, comment  sql.NullString
		)
		if err := rows.Scan(&addr, &opcode, &p1, &p2, &p3, &p4, &p5, &comment); err != nil {
			return nil, err
		}
		if opcode == "OpenRead" {
			if _, dup := pages[p2]; !dup {
				pages[p2] = struct{}{}
				order = append(order, p2)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(order) == 0 {
		return nil, nil
	}

	byPage, err := sqliteRootPages(ctx, tx)
	if err != nil {
		return nil, err
	}

	var relations []Relation
	for _, page := range order {
		if name, ok := byPage[page]; ok {
			relations = append(relations, Relation{Schema: "main", Table: name})
		}
	}
	return dedupe(relations), nil
}

// sqliteRootPages maps rootpage -> table name. Indexes are skipped: an
// OpenRead on an index still comes with an OpenRead on its table or
// resolves to nothing, and only tables are policy subjects.
func sqliteRootPages(ctx context.Context, tx *sql.Tx) (map[int64]string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT name, rootpage FROM sqlite_master WHERE type = 'table' AND rootpage > 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var name string
		var page int64
		if err := rows.Scan(&name, &page); err != nil {
			return nil, err
		}
		out[page] = name
	}
	return out, rows.Err()
}

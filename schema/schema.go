// Package schema introspects backend schemas, tables, and columns, filters
// the results through the visibility rules, and keeps a TTL cache of column
// metadata used for variable type inference.
package schema

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wayli-app/lotus/dialect"
	"github.com/wayli-app/lotus/query"
	"github.com/wayli-app/lotus/visibility"
)

// Column is one column of a table, in the uniform introspection shape.
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primary_key"`
	// Visibility is the policy annotation attached to masked columns.
	Visibility string `json:"visibility,omitempty"`
}

// Table identifies one table, schema-qualified where the engine has
// schemas.
type Table struct {
	Schema string `json:"schema,omitempty"`
	Name   string `json:"name"`
}

// ListOptions scope a table listing.
type ListOptions struct {
	Schema       string
	Schemas      []string
	SearchPath   string
	IncludeViews bool
}

// Inspector runs introspection queries against one backend and applies its
// visibility rules.
type Inspector struct {
	backend string
	db      *sql.DB
	dialect dialect.Dialect
	rules   *visibility.Rules
	cache   *Cache
}

// NewInspector builds an inspector for one configured backend. cache may be
// shared across inspectors; keys carry the backend name.
func NewInspector(backend string, db *sql.DB, d dialect.Dialect, rules *visibility.Rules, cache *Cache) *Inspector {
	return &Inspector{backend: backend, db: db, dialect: d, rules: rules, cache: cache}
}

// ListSchemas enumerates schemas visible under the backend's rules.
func (in *Inspector) ListSchemas(ctx context.Context) ([]string, error) {
	q, args := in.dialect.ListSchemasQuery()
	rows, err := in.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if in.rules.SchemaAllowed(name) {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

// ListTables enumerates visible tables. Scoping precedence: Schema, then
// Schemas, then SearchPath; empty means every visible schema.
func (in *Inspector) ListTables(ctx context.Context, opts ListOptions) ([]Table, error) {
	schemas := opts.Schemas
	if opts.Schema != "" {
		schemas = []string{opts.Schema}
	} else if len(schemas) == 0 && opts.SearchPath != "" {
		for _, s := range strings.Split(opts.SearchPath, ",") {
			if s = strings.TrimSpace(s); s != "" {
				schemas = append(schemas, s)
			}
		}
	}

	q, args := in.dialect.ListTablesQuery(schemas, opts.IncludeViews)
	rows, err := in.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, err
		}
		if in.rules.TableAllowed(t.Schema, t.Name) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// TableSchema fetches column metadata for table (optionally
// schema-qualified), applying column policies: omit and error columns
// marked hidden are dropped, masked columns carry the annotation.
func (in *Inspector) TableSchema(ctx context.Context, table string) ([]Column, error) {
	schema, name := in.splitTable(table)
	cols, err := in.columns(ctx, schema, name)
	if err != nil {
		return nil, err
	}

	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		policy := in.rules.ColumnPolicy(schema, name, c.Name)
		if !policy.VisibleInSchema() {
			continue
		}
		c.Visibility = policy.Annotation()
		out = append(out, c)
	}
	return out, nil
}

// TableStats returns the row count for table.
func (in *Inspector) TableStats(ctx context.Context, table string) (int64, error) {
	schema, name := in.splitTable(table)
	q, args := in.dialect.StatsQuery(schema, name)
	var count int64
	err := in.db.QueryRowContext(ctx, q, args...).Scan(&count)
	return count, err
}

// ColumnType resolves a column's variable type for binder inference.
// Failures are non-fatal: the binder falls back to declared types.
func (in *Inspector) ColumnType(ctx context.Context, table, column string) (query.VarType, bool) {
	schema, name := in.splitTable(table)
	cols, err := in.columns(ctx, schema, name)
	if err != nil {
		log.Debug().Err(err).Str("table", table).Msg("type inference lookup failed")
		return "", false
	}
	for _, c := range cols {
		if strings.EqualFold(c.Name, column) {
			return VarTypeOf(c.Type), true
		}
	}
	return "", false
}

// columns fetches the raw (unfiltered) column list, through the cache.
func (in *Inspector) columns(ctx context.Context, schema, table string) ([]Column, error) {
	if in.cache != nil {
		if cols, ok := in.cache.Get(in.backend, schema, table); ok {
			return cols, nil
		}
	}

	q, args := in.dialect.ColumnsQuery(schema, table)
	rows, err := in.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var def sql.NullString
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &def, &c.PrimaryKey); err != nil {
			return nil, err
		}
		if def.Valid {
			c.Default = &def.String
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if in.cache != nil {
		in.cache.Put(in.backend, schema, table, cols)
	}
	return cols, nil
}

// splitTable resolves "schema.table" or a bare name against the dialect's
// default schema.
func (in *Inspector) splitTable(table string) (string, string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return DefaultSchema(in.dialect.Name()), table
}

// DefaultSchema is the schema unqualified tables resolve to.
func DefaultSchema(dialectName string) string {
	switch dialectName {
	case "postgres":
		return "public"
	case "sqlite":
		return "main"
	default:
		return ""
	}
}

// VarTypeOf maps an engine data type onto the variable type vocabulary.
func VarTypeOf(dataType string) query.VarType {
	t := strings.ToLower(dataType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimSpace(t)

	switch {
	case strings.HasSuffix(t, "[]"):
		return query.TypeArray
	case t == "uuid":
		return query.TypeUUID
	case t == "json" || t == "jsonb":
		return query.TypeJSON
	case t == "boolean" || t == "bool" || t == "tinyint":
		return query.TypeBoolean
	case t == "date":
		return query.TypeDate
	case strings.HasPrefix(t, "timestamp") || t == "datetime":
		return query.TypeDateTime
	case strings.HasPrefix(t, "time"):
		return query.TypeTime
	case t == "smallint" || t == "integer" || t == "int" || t == "int2" ||
		t == "int4" || t == "int8" || t == "bigint" || t == "serial" ||
		t == "bigserial" || t == "mediumint":
		return query.TypeInteger
	case t == "numeric" || t == "decimal" || t == "real" || t == "float" ||
		t == "double" || t == "double precision" || t == "float4" || t == "float8":
		return query.TypeNumber
	default:
		return query.TypeText
	}
}

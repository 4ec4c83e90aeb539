package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/wayli-app/lotus/query"
)

// Postgres adapts PostgreSQL via the pgx stdlib driver.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

// Placeholder renders $N with an explicit cast for typed variables, so the
// planner sees concrete parameter types during preflight.
func (Postgres) Placeholder(i int, t query.VarType) string {
	base := fmt.Sprintf("$%d", i)
	switch t {
	case query.TypeInteger:
		return base + "::integer"
	case query.TypeNumber:
		return base + "::numeric"
	case query.TypeDate:
		return base + "::date"
	case query.TypeDateTime:
		return base + "::timestamp"
	case query.TypeTime:
		return base + "::time"
	case query.TypeBoolean:
		return base + "::boolean"
	case query.TypeJSON:
		return base + "::jsonb"
	case query.TypeUUID:
		return base + "::uuid"
	default:
		return base
	}
}

func (Postgres) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SessionSetup is a no-op: all PostgreSQL session state is applied with
// SET LOCAL inside the transaction and reverts on commit/rollback.
func (Postgres) SessionSetup(ctx context.Context, conn *sql.Conn, opts SessionOptions) (*Snapshot, error) {
	return nil, nil
}

func (Postgres) TxSetup(ctx context.Context, tx *sql.Tx, opts SessionOptions) error {
	if opts.ReadOnly {
		if _, err := tx.ExecContext(ctx, "SET LOCAL transaction_read_only = on"); err != nil {
			return fmt.Errorf("failed to set read-only: %w", err)
		}
	}
	if opts.Timeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.Timeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set statement_timeout: %w", err)
		}
	}
	if len(opts.SearchPath) > 0 {
		quoted := make([]string, len(opts.SearchPath))
		for i, s := range opts.SearchPath {
			quoted[i] = Postgres{}.QuoteIdent(s)
		}
		stmt := "SET LOCAL search_path = " + strings.Join(quoted, ", ")
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set search_path: %w", err)
		}
	}
	return nil
}

func (Postgres) SessionRestore(ctx context.Context, conn *sql.Conn, snap *Snapshot) error {
	return nil
}

func (Postgres) FormatError(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "42") {
			return "SQL syntax error: " + pgErr.Message
		}
		return "SQL error: " + pgErr.Message
	}
	return "SQL error: " + err.Error()
}

// IsTimeout matches query_canceled (57014), raised when statement_timeout
// fires.
func (Postgres) IsTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "57014"
}

func (Postgres) Supports(f Feature) bool {
	switch f {
	case FeatureSearchPath, FeatureMakeInterval, FeatureArrays, FeatureJSON, FeatureOrdinalParams:
		return true
	}
	return false
}

func (Postgres) ListSchemasQuery() (string, []any) {
	return `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`, nil
}

func (d Postgres) ListTablesQuery(schemas []string, includeViews bool) (string, []any) {
	types := "('BASE TABLE')"
	if includeViews {
		types = "('BASE TABLE', 'VIEW')"
	}
	where := ""
	args := make([]any, 0, len(schemas))
	if len(schemas) > 0 {
		marks := make([]string, len(schemas))
		for i, s := range schemas {
			marks[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, s)
		}
		where = " AND table_schema IN (" + strings.Join(marks, ", ") + ")"
	}
	q := `SELECT table_schema, table_name FROM information_schema.tables
		WHERE table_type IN ` + types + where + `
		ORDER BY table_schema, table_name`
	return q, args
}

func (Postgres) ColumnsQuery(schema, table string) (string, []any) {
	q := `
		SELECT
			c.column_name,
			CASE WHEN c.data_type = 'USER-DEFINED' THEN c.udt_name ELSE c.data_type END AS data_type,
			(c.is_nullable = 'YES') AS is_nullable,
			c.column_default,
			EXISTS (
				SELECT 1
				FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON kcu.constraint_name = tc.constraint_name
					AND kcu.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = c.table_schema
					AND tc.table_name = c.table_name
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`
	return q, []any{schema, table}
}

func (d Postgres) StatsQuery(schema, table string) (string, []any) {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", d.QuoteIdent(schema), d.QuoteIdent(table)), nil
}

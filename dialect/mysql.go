package dialect

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/wayli-app/lotus/query"
)

// MySQL adapts MySQL/MariaDB via go-sql-driver.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

// Placeholder wraps ? in CAST(...) for typed variables. MySQL has no
// parameter type annotations, so the cast carries the type.
func (MySQL) Placeholder(i int, t query.VarType) string {
	switch t {
	case query.TypeInteger:
		return "CAST(? AS SIGNED)"
	case query.TypeNumber:
		return "CAST(? AS DECIMAL)"
	case query.TypeDate:
		return "CAST(? AS DATE)"
	case query.TypeDateTime:
		return "CAST(? AS DATETIME)"
	case query.TypeTime:
		return "CAST(? AS TIME)"
	case query.TypeBoolean:
		return "CAST(? AS UNSIGNED)"
	case query.TypeJSON:
		return "CAST(? AS JSON)"
	default:
		return "?"
	}
}

func (MySQL) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// SessionSetup snapshots the session read-only, isolation, and timeout
// flags, then applies read-only mode and the statement timeout. The
// snapshot is restored on every exit path before the connection returns to
// the pool.
func (MySQL) SessionSetup(ctx context.Context, conn *sql.Conn, opts SessionOptions) (*Snapshot, error) {
	row := conn.QueryRowContext(ctx,
		"SELECT @@session.transaction_read_only, @@session.transaction_isolation, @@session.max_execution_time")
	var readOnly, maxExec string
	var isolation string
	if err := row.Scan(&readOnly, &isolation, &maxExec); err != nil {
		return nil, fmt.Errorf("failed to snapshot session state: %w", err)
	}
	snap := snapshotOf(map[string]string{
		"transaction_read_only": readOnly,
		"transaction_isolation": isolation,
		"max_execution_time":    maxExec,
	})

	if opts.ReadOnly {
		if _, err := conn.ExecContext(ctx, "SET SESSION transaction_read_only = 1"); err != nil {
			return nil, fmt.Errorf("failed to set read-only: %w", err)
		}
	}
	if opts.Timeout > 0 {
		stmt := fmt.Sprintf("SET SESSION max_execution_time = %d", opts.Timeout.Milliseconds())
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to set max_execution_time: %w", err)
		}
	}
	return snap, nil
}

func (MySQL) TxSetup(ctx context.Context, tx *sql.Tx, opts SessionOptions) error {
	return nil
}

func (MySQL) SessionRestore(ctx context.Context, conn *sql.Conn, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	var firstErr error
	restore := func(stmt string) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if v, ok := snap.values["transaction_read_only"]; ok {
		restore(fmt.Sprintf("SET SESSION transaction_read_only = %s", v))
	}
	if v, ok := snap.values["transaction_isolation"]; ok {
		restore(fmt.Sprintf("SET SESSION transaction_isolation = '%s'", strings.ReplaceAll(v, "'", "")))
	}
	if v, ok := snap.values["max_execution_time"]; ok {
		restore(fmt.Sprintf("SET SESSION max_execution_time = %s", v))
	}
	return firstErr
}

func (MySQL) FormatError(err error) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// 1064 is ER_PARSE_ERROR.
		if myErr.Number == 1064 {
			return "SQL syntax error: " + myErr.Message
		}
		return "SQL error: " + myErr.Message
	}
	return "SQL error: " + err.Error()
}

// IsTimeout matches ER_QUERY_TIMEOUT (3024) and ER_QUERY_INTERRUPTED (1317),
// raised when max_execution_time fires or the statement is killed.
func (MySQL) IsTimeout(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 3024 || myErr.Number == 1317
	}
	return false
}

func (MySQL) Supports(f Feature) bool {
	return f == FeatureJSON
}

func (MySQL) ListSchemasQuery() (string, []any) {
	return `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`, nil
}

func (MySQL) ListTablesQuery(schemas []string, includeViews bool) (string, []any) {
	types := "('BASE TABLE')"
	if includeViews {
		types = "('BASE TABLE', 'VIEW')"
	}
	where := ""
	args := make([]any, 0, len(schemas))
	if len(schemas) > 0 {
		marks := make([]string, len(schemas))
		for i, s := range schemas {
			marks[i] = "?"
			args = append(args, s)
		}
		where = " AND table_schema IN (" + strings.Join(marks, ", ") + ")"
	}
	q := `SELECT table_schema, table_name FROM information_schema.tables
		WHERE table_type IN ` + types + where + `
		ORDER BY table_schema, table_name`
	return q, args
}

func (MySQL) ColumnsQuery(schema, table string) (string, []any) {
	q := `
		SELECT
			column_name,
			data_type,
			(is_nullable = 'YES') AS is_nullable,
			column_default,
			(column_key = 'PRI') AS is_primary_key
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`
	return q, []any{schema, table}
}

func (d MySQL) StatsQuery(schema, table string) (string, []any) {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", d.QuoteIdent(schema), d.QuoteIdent(table)), nil
}

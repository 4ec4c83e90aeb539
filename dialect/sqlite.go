package dialect

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/wayli-app/lotus/query"
)

// SQLite adapts SQLite via the pure-Go modernc driver.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite" }

// Placeholder is always ?; SQLite infers types from the bound values.
func (SQLite) Placeholder(i int, t query.VarType) string { return "?" }

func (SQLite) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SessionSetup snapshots PRAGMA query_only and turns it on. query_only
// needs SQLite >= 3.8.0; older engines are skipped silently.
func (SQLite) SessionSetup(ctx context.Context, conn *sql.Conn, opts SessionOptions) (*Snapshot, error) {
	if !opts.ReadOnly {
		return nil, nil
	}
	var version string
	if err := conn.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err == nil {
		if !sqliteAtLeast(version, 3, 8, 0) {
			return nil, nil
		}
	}
	var prev string
	if err := conn.QueryRowContext(ctx, "PRAGMA query_only").Scan(&prev); err != nil {
		return nil, err
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, err
	}
	return snapshotOf(map[string]string{"query_only": prev}), nil
}

func (SQLite) TxSetup(ctx context.Context, tx *sql.Tx, opts SessionOptions) error {
	return nil
}

func (SQLite) SessionRestore(ctx context.Context, conn *sql.Conn, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	prev, ok := snap.values["query_only"]
	if !ok {
		return nil
	}
	setting := "OFF"
	if prev == "1" || strings.EqualFold(prev, "on") || strings.EqualFold(prev, "true") {
		setting = "ON"
	}
	_, err := conn.ExecContext(ctx, "PRAGMA query_only = "+setting)
	return err
}

func (SQLite) FormatError(err error) string {
	return "SQLite Error: " + err.Error()
}

// IsTimeout: SQLite has no server-side statement timeout; cancellation
// arrives as the driver's interrupt error, which the runner maps from the
// context instead.
func (SQLite) IsTimeout(err error) bool {
	return strings.Contains(err.Error(), "interrupted")
}

func (SQLite) Supports(f Feature) bool {
	return f == FeatureJSON
}

func (SQLite) ListSchemasQuery() (string, []any) {
	return `SELECT name FROM pragma_database_list ORDER BY seq`, nil
}

func (SQLite) ListTablesQuery(schemas []string, includeViews bool) (string, []any) {
	types := "('table')"
	if includeViews {
		types = "('table', 'view')"
	}
	q := `SELECT 'main', name FROM sqlite_master
		WHERE type IN ` + types + ` AND name NOT LIKE 'sqlite_%'
		ORDER BY name`
	return q, nil
}

func (SQLite) ColumnsQuery(schema, table string) (string, []any) {
	q := `
		SELECT
			name,
			type,
			("notnull" = 0) AS is_nullable,
			dflt_value,
			(pk > 0) AS is_primary_key
		FROM pragma_table_info(?)
		ORDER BY cid`
	return q, []any{table}
}

func (d SQLite) StatsQuery(schema, table string) (string, []any) {
	return "SELECT COUNT(*) FROM " + d.QuoteIdent(table), nil
}

// sqliteAtLeast compares a dotted version string against (major, minor,
// patch).
func sqliteAtLeast(version string, major, minor, patch int) bool {
	parts := strings.Split(version, ".")
	nums := [3]int{}
	for i := 0; i < 3 && i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return false
		}
		nums[i] = n
	}
	want := [3]int{major, minor, patch}
	for i := 0; i < 3; i++ {
		if nums[i] != want[i] {
			return nums[i] > want[i]
		}
	}
	return true
}

// Package dialect holds the per-backend adapters: placeholder syntax,
// read-only session management, error formatting, feature probes, and the
// introspection queries each engine needs.
package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wayli-app/lotus/query"
)

// Feature is a per-dialect capability probe.
type Feature int

const (
	// FeatureSearchPath marks support for per-transaction search_path.
	FeatureSearchPath Feature = iota
	// FeatureMakeInterval marks support for make_interval().
	FeatureMakeInterval
	// FeatureArrays marks native array parameter support.
	FeatureArrays
	// FeatureJSON marks a native JSON column type.
	FeatureJSON
	// FeatureOrdinalParams marks numbered placeholders ($N). Dialects
	// without it repeat the bound value for every occurrence of a variable.
	FeatureOrdinalParams
)

// SessionOptions configures the read-only session wrapped around a query.
type SessionOptions struct {
	// Timeout is the engine-side statement timeout.
	Timeout time.Duration
	// SearchPath is the validated schema list (PostgreSQL only).
	SearchPath []string
	// ReadOnly applies the engine's read-only flag. Disabled only when the
	// gateway is explicitly configured for write mode.
	ReadOnly bool
}

// Snapshot captures session state to restore after a run. Contents are
// dialect-private.
type Snapshot struct {
	values map[string]string
}

// Dialect is the per-backend capability used by the runner.
type Dialect interface {
	// Name is the stable dialect identifier: postgres, mysql, sqlite.
	Name() string
	// DriverName is the database/sql driver to open connections with.
	DriverName() string

	// Placeholder renders the i-th (1-based) parameter slot, typed
	// according to t where the engine benefits from an explicit cast.
	Placeholder(i int, t query.VarType) string
	// QuoteIdent quotes a single identifier.
	QuoteIdent(name string) string

	// SessionSetup snapshots and applies session-scoped state on the
	// dedicated connection, before the transaction opens. Returns the
	// snapshot for SessionRestore.
	SessionSetup(ctx context.Context, conn *sql.Conn, opts SessionOptions) (*Snapshot, error)
	// TxSetup applies transaction-scoped state (SET LOCAL and friends)
	// after the transaction opens.
	TxSetup(ctx context.Context, tx *sql.Tx, opts SessionOptions) error
	// SessionRestore reverts SessionSetup. It runs on every exit path;
	// failures are logged by the runner but never override the primary
	// result.
	SessionRestore(ctx context.Context, conn *sql.Conn, snap *Snapshot) error

	// FormatError maps a driver error onto the uniform message prefixes.
	FormatError(err error) string
	// IsTimeout reports whether the driver error is the engine-side
	// statement-timeout cancellation.
	IsTimeout(err error) bool
	// Supports probes a feature flag.
	Supports(f Feature) bool

	// ListSchemasQuery returns the schema enumeration query.
	ListSchemasQuery() (string, []any)
	// ListTablesQuery enumerates tables (and optionally views) in the
	// given schemas.
	ListTablesQuery(schemas []string, includeViews bool) (string, []any)
	// ColumnsQuery returns column metadata for one table, in the uniform
	// shape (name, data_type, is_nullable, column_default, is_primary_key).
	ColumnsQuery(schema, table string) (string, []any)
	// StatsQuery returns the row-count query for one table.
	StatsQuery(schema, table string) (string, []any)
}

// ByName returns the dialect adapter for name.
func ByName(name string) (Dialect, error) {
	switch name {
	case "postgres":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %q", name)
	}
}

func snapshotOf(values map[string]string) *Snapshot {
	return &Snapshot{values: values}
}

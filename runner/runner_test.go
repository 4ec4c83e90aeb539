package runner

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayli-app/lotus/dialect"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/query"
	"github.com/wayli-app/lotus/visibility"
)

func newRunner(t *testing.T, rs visibility.RuleSet) (*Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := New(Config{
		Backend:  "main",
		DB:       db,
		Dialect:  dialect.Postgres{},
		Rules:    visibility.Compile("postgres", rs),
		ReadOnly: true,
	})
	return r, mock
}

func expectSession(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL transaction_read_only").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectPreflight(mock sqlmock.Sqlmock, plan string) {
	mock.ExpectExec("SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`EXPLAIN \(VERBOSE, FORMAT JSON\)`).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(plan))
	mock.ExpectExec("RELEASE SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))
}

const usersPlan = `[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "users", "Schema": "public"}}]`

func TestRunHappyPath(t *testing.T) {
	r, mock := newRunner(t, visibility.RuleSet{})
	expectSession(mock)
	expectPreflight(mock, usersPlan)
	mock.ExpectQuery("SELECT name, email FROM users").
		WithArgs("ann").
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).
			AddRow("Ann", "ann@example.com").
			AddRow("Annette", "annette@example.com"))
	mock.ExpectCommit()

	result, err := r.Run(context.Background(), query.Spec{
		Statement: `SELECT name, email FROM users WHERE name LIKE '%{{q}}%'`,
		Values:    map[string]any{"q": "ann"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email"}, result.Columns)
	assert.Equal(t, int64(2), result.NumRows)
	assert.Equal(t, []any{"Ann", "ann@example.com"}, result.Rows[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunColumnMasking(t *testing.T) {
	r, mock := newRunner(t, visibility.RuleSet{
		Columns: []visibility.ColumnRule{{
			Schema: "public", Table: "users", Column: "email",
			Policy: visibility.ColumnPolicy{
				Action: visibility.ActionMask,
				Mask:   &visibility.Mask{Kind: visibility.MaskPartial, KeepLast: 4},
			},
		}},
	})
	expectSession(mock)
	expectPreflight(mock, usersPlan)
	mock.ExpectQuery("SELECT name, email FROM public.users").
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).
			AddRow("Ann", "ann@example.com"))
	mock.ExpectCommit()

	result, err := r.Run(context.Background(), query.Spec{
		Statement: `SELECT name, email FROM public.users`,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"Ann", "***********.com"}, result.Rows[0])
}

func TestRunColumnOmitAndError(t *testing.T) {
	t.Run("omit drops the column", func(t *testing.T) {
		r, mock := newRunner(t, visibility.RuleSet{
			Columns: []visibility.ColumnRule{{
				Column: "ssn",
				Policy: visibility.ColumnPolicy{Action: visibility.ActionOmit},
			}},
		})
		expectSession(mock)
		expectPreflight(mock, usersPlan)
		mock.ExpectQuery("SELECT name, ssn FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"name", "ssn"}).
				AddRow("Ann", "123-45-6789"))
		mock.ExpectCommit()

		result, err := r.Run(context.Background(), query.Spec{Statement: `SELECT name, ssn FROM users`})
		require.NoError(t, err)
		assert.Equal(t, []string{"name"}, result.Columns)
		assert.Equal(t, [][]any{{"Ann"}}, result.Rows)
	})

	t.Run("error aborts", func(t *testing.T) {
		r, mock := newRunner(t, visibility.RuleSet{
			Columns: []visibility.ColumnRule{{
				Column: "ssn",
				Policy: visibility.ColumnPolicy{Action: visibility.ActionError},
			}},
		})
		expectSession(mock)
		expectPreflight(mock, usersPlan)
		mock.ExpectQuery("SELECT name, ssn FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"name", "ssn"}).
				AddRow("Ann", "123-45-6789"))
		mock.ExpectCommit()

		_, err := r.Run(context.Background(), query.Spec{Statement: `SELECT name, ssn FROM users`})
		require.Error(t, err)
		assert.Equal(t, qerror.KindBlockedColumn, qerror.KindOf(err))
		assert.Equal(t, "Column 'ssn' is not selectable", err.Error())
	})
}

func TestRunDenyListShortCircuits(t *testing.T) {
	// No session expectations: the validator must fire before any
	// connection work.
	r, mock := newRunner(t, visibility.RuleSet{})

	_, err := r.Run(context.Background(), query.Spec{Statement: "SELECT 1; SELECT 2"})
	require.Error(t, err)
	assert.Equal(t, qerror.KindMultipleStatements, qerror.KindOf(err))

	_, err = r.Run(context.Background(), query.Spec{Statement: "DELETE FROM users"})
	require.Error(t, err)
	assert.Equal(t, qerror.KindReadOnlyViolation, qerror.KindOf(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunPreflightDenyRollsBack(t *testing.T) {
	r, mock := newRunner(t, visibility.RuleSet{})
	expectSession(mock)
	expectPreflight(mock, `[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "schema_migrations", "Schema": "public"}}]`)
	mock.ExpectRollback()

	_, err := r.Run(context.Background(), query.Spec{Statement: "SELECT * FROM public.schema_migrations"})
	require.Error(t, err)
	assert.Equal(t, qerror.KindBlockedTable, qerror.KindOf(err))
	assert.Equal(t, "Query touches blocked table(s): public.schema_migrations", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWindow(t *testing.T) {
	r, mock := newRunner(t, visibility.RuleSet{})
	expectSession(mock)
	expectPreflight(mock, usersPlan)
	rows := sqlmock.NewRows([]string{"n"})
	for i := 1; i <= 5; i++ {
		rows.AddRow(i)
	}
	mock.ExpectQuery("SELECT n FROM users").WillReturnRows(rows)
	mock.ExpectCommit()

	result, err := r.RunWith(context.Background(), query.Spec{Statement: "SELECT n FROM users"},
		RunOptions{Window: &query.Window{Offset: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.NumRows)
	require.NotNil(t, result.Window)
	require.NotNil(t, result.Window.TotalEstimate)
	assert.Equal(t, int64(5), *result.Window.TotalEstimate)
}

func TestRunUnknownVariable(t *testing.T) {
	r, _ := newRunner(t, visibility.RuleSet{})
	_, err := r.Run(context.Background(), query.Spec{Statement: "SELECT * FROM t WHERE id = {{id}}"})
	require.Error(t, err)
	assert.Equal(t, "Missing required variable: id", err.Error())
}

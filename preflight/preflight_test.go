package preflight

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayli-app/lotus/dialect"
	"github.com/wayli-app/lotus/qerror"
	"github.com/wayli-app/lotus/visibility"
)

const pgPlan = `[
  {
    "Plan": {
      "Node Type": "Hash Join",
      "Plans": [
        {"Node Type": "Seq Scan", "Relation Name": "users", "Schema": "public"},
        {"Node Type": "Seq Scan", "Relation Name": "orders", "Schema": "public"}
      ]
    }
  }
]`

const mysqlPlan = `{
  "query_block": {
    "nested_loop": [
      {"table": {"table_name": "users"}},
      {"table": {"table_name": "orders"}}
    ]
  }
}`

func newTx(t *testing.T) (sqlmock.Sqlmock, *sql.Tx) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectBegin()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	return mock, tx
}

func TestAuthorizePostgresAllows(t *testing.T) {
	mock, tx := newTx(t)
	mock.ExpectExec("SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`EXPLAIN \(VERBOSE, FORMAT JSON\)`).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(pgPlan))
	mock.ExpectExec("RELEASE SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))

	rules := visibility.Compile("postgres", visibility.RuleSet{})
	relations, err := Authorize(context.Background(), tx, dialect.Postgres{}, rules,
		"SELECT * FROM users JOIN orders ON orders.user_id = users.id", nil)
	require.NoError(t, err)
	assert.Equal(t, []Relation{
		{Schema: "public", Table: "users"},
		{Schema: "public", Table: "orders"},
	}, relations)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizePostgresBlocks(t *testing.T) {
	mock, tx := newTx(t)
	mock.ExpectExec("SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`EXPLAIN \(VERBOSE, FORMAT JSON\)`).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow(pgPlan))
	mock.ExpectExec("RELEASE SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))

	rules := visibility.Compile("postgres", visibility.RuleSet{
		TableDeny: []visibility.TableRule{visibility.BareTable("orders")},
	})
	_, err := Authorize(context.Background(), tx, dialect.Postgres{}, rules,
		"SELECT * FROM users JOIN orders ON orders.user_id = users.id", nil)
	require.Error(t, err)
	assert.Equal(t, qerror.KindBlockedTable, qerror.KindOf(err))
	assert.Equal(t, "Query touches blocked table(s): public.orders", err.Error())
}

func TestAuthorizeMySQL(t *testing.T) {
	mock, tx := newTx(t)
	mock.ExpectExec("SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT DATABASE\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"database"}).AddRow("shop"))
	mock.ExpectQuery("EXPLAIN FORMAT=JSON").
		WillReturnRows(sqlmock.NewRows([]string{"EXPLAIN"}).AddRow(mysqlPlan))
	mock.ExpectExec("RELEASE SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))

	rules := visibility.Compile("mysql", visibility.RuleSet{})
	relations, err := Authorize(context.Background(), tx, dialect.MySQL{}, rules,
		"SELECT * FROM users JOIN orders ON orders.user_id = users.id", nil)
	require.NoError(t, err)
	assert.Equal(t, []Relation{
		{Schema: "shop", Table: "users"},
		{Schema: "shop", Table: "orders"},
	}, relations)
}

func TestAuthorizeMySQLCrossDatabase(t *testing.T) {
	mock, tx := newTx(t)
	mock.ExpectExec("SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT DATABASE\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"database"}).AddRow("shop"))
	mock.ExpectQuery("EXPLAIN FORMAT=JSON").
		WillReturnRows(sqlmock.NewRows([]string{"EXPLAIN"}).AddRow(
			`{"query_block": {"table": {"table_name": "user"}}}`))
	mock.ExpectExec("RELEASE SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))

	// The plan names the table bare; the explicit mysql.user reference in
	// the statement must win over the current database.
	rules := visibility.Compile("mysql", visibility.RuleSet{})
	_, err := Authorize(context.Background(), tx, dialect.MySQL{}, rules,
		"SELECT * FROM mysql.user", nil)
	require.Error(t, err)
	assert.Equal(t, qerror.KindBlockedTable, qerror.KindOf(err))
	assert.Equal(t, "Query touches blocked table(s): mysql.user", err.Error())
}

func TestAuthorizeSQLite(t *testing.T) {
	mock, tx := newTx(t)
	mock.ExpectExec("SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))
	bytecode := sqlmock.NewRows([]string{"addr", "opcode", "p1", "p2", "p3", "p4", "p5", "comment"}).
		AddRow(0, "Init", 0, 1, 0, nil, "0", nil).
		AddRow(1, "OpenRead", 0, 3, 0, "2", "0", nil).
		AddRow(2, "Rewind", 0, 5, 0, nil, "0", nil)
	mock.ExpectQuery("EXPLAIN SELECT").WillReturnRows(bytecode)
	mock.ExpectQuery("FROM sqlite_master").
		WillReturnRows(sqlmock.NewRows([]string{"name", "rootpage"}).
			AddRow("users", 3).
			AddRow("orders", 4))
	mock.ExpectExec("RELEASE SAVEPOINT lotus_preflight").WillReturnResult(sqlmock.NewResult(0, 0))

	rules := visibility.Compile("sqlite", visibility.RuleSet{})
	relations, err := Authorize(context.Background(), tx, dialect.SQLite{}, rules,
		"SELECT * FROM users", nil)
	require.NoError(t, err)
	assert.Equal(t, []Relation{{Schema: "main", Table: "users"}}, relations)
}

func TestScanFromTargets(t *testing.T) {
	relations := scanFromTargets(
		"SELECT * FROM a JOIN reporting.b ON b.id = a.id JOIN a ON true", "public")
	assert.Equal(t, []Relation{
		{Schema: "public", Table: "a"},
		{Schema: "reporting", Table: "b"},
	}, relations)
}

package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		matches []string
		misses  []string
		isAll   bool
	}{
		{name: "exact", input: "users", matches: []string{"users"}, misses: []string{"Users", "users2"}},
		{name: "regex", input: "/^tmp_/", matches: []string{"tmp_a", "tmp_"}, misses: []string{"a_tmp_"}},
		{name: "all colon", input: ":all", matches: []string{"anything"}, isAll: true},
		{name: "all star", input: "*", matches: []string{"anything"}, isAll: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePattern(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.isAll, p.IsAll())
			for _, m := range tt.matches {
				assert.True(t, p.Matches(m), m)
			}
			for _, m := range tt.misses {
				assert.False(t, p.Matches(m), m)
			}
		})
	}

	_, err := ParsePattern("/[bad/")
	assert.Error(t, err)
}

func TestSchemaGating(t *testing.T) {
	t.Run("no rules means no gate", func(t *testing.T) {
		r := Compile("postgres", RuleSet{})
		assert.True(t, r.SchemaAllowed("public"))
		assert.True(t, r.SchemaAllowed("analytics"))
	})

	t.Run("allow list gates", func(t *testing.T) {
		r := Compile("postgres", RuleSet{SchemaAllow: []Pattern{Exact("public")}})
		assert.True(t, r.SchemaAllowed("public"))
		assert.False(t, r.SchemaAllowed("analytics"))
	})

	t.Run("allow all disables gate", func(t *testing.T) {
		r := Compile("postgres", RuleSet{SchemaAllow: []Pattern{All()}})
		assert.True(t, r.SchemaAllowed("analytics"))
	})

	t.Run("deny beats allow", func(t *testing.T) {
		r := Compile("postgres", RuleSet{
			SchemaAllow: []Pattern{Exact("public")},
			SchemaDeny:  []Pattern{Exact("public")},
		})
		assert.False(t, r.SchemaAllowed("public"))
	})

	t.Run("builtin denies always apply", func(t *testing.T) {
		r := Compile("postgres", RuleSet{SchemaAllow: []Pattern{All()}})
		assert.False(t, r.SchemaAllowed("pg_catalog"))
		assert.False(t, r.SchemaAllowed("information_schema"))
		assert.False(t, r.SchemaAllowed("pg_toast"))
		assert.False(t, r.SchemaAllowed("pg_temp_3"))
	})

	t.Run("mysql builtin denies", func(t *testing.T) {
		r := Compile("mysql", RuleSet{})
		for _, s := range []string{"mysql", "information_schema", "performance_schema", "sys"} {
			assert.False(t, r.SchemaAllowed(s), s)
		}
		assert.True(t, r.SchemaAllowed("app"))
	})
}

func TestTableRules(t *testing.T) {
	t.Run("deny wins", func(t *testing.T) {
		r := Compile("postgres", RuleSet{
			TableAllow: []TableRule{QualifiedTable("public", "users")},
			TableDeny:  []TableRule{QualifiedTable("public", "users")},
		})
		assert.False(t, r.TableAllowed("public", "users"))
	})

	t.Run("bare deny matches any schema", func(t *testing.T) {
		r := Compile("postgres", RuleSet{TableDeny: []TableRule{BareTable("api_keys")}})
		assert.False(t, r.TableAllowed("public", "api_keys"))
		assert.False(t, r.TableAllowed("analytics", "api_keys"))
		assert.True(t, r.TableAllowed("public", "users"))
	})

	t.Run("regex in table position", func(t *testing.T) {
		r := Compile("postgres", RuleSet{
			TableDeny: []TableRule{{Schema: All(), Table: MustRegex("^audit_")}},
		})
		assert.False(t, r.TableAllowed("public", "audit_log"))
		assert.True(t, r.TableAllowed("public", "users"))
	})

	t.Run("allow posture makes schema default-deny", func(t *testing.T) {
		r := Compile("postgres", RuleSet{
			TableAllow: []TableRule{QualifiedTable("public", "users")},
		})
		assert.True(t, r.TableAllowed("public", "users"))
		// public has an allow rule, so unlisted tables are invisible.
		assert.False(t, r.TableAllowed("public", "orders"))
		// analytics has no allow rule targeting it: default-allow.
		assert.True(t, r.TableAllowed("analytics", "events"))
	})

	t.Run("builtin table denies cannot be re-enabled", func(t *testing.T) {
		r := Compile("postgres", RuleSet{
			TableAllow: []TableRule{QualifiedTable("public", "schema_migrations")},
		})
		assert.False(t, r.TableAllowed("public", "schema_migrations"))
		assert.False(t, r.TableAllowed("public", "lotus_queries"))
		assert.False(t, r.TableAllowed("public", "lotus_dashboards_v2"))
	})

	t.Run("sqlite internals denied", func(t *testing.T) {
		r := Compile("sqlite", RuleSet{})
		assert.False(t, r.TableAllowed("main", "sqlite_master"))
		assert.False(t, r.TableAllowed("main", "sqlite_sequence"))
		assert.False(t, r.TableAllowed("main", "sqlite_stat1"))
		assert.True(t, r.TableAllowed("main", "users"))
	})
}

func TestColumnPolicyPrecedence(t *testing.T) {
	r := Compile("postgres", RuleSet{
		Columns: []ColumnRule{
			{Column: "email", Policy: ColumnPolicy{Action: ActionMask, Mask: &Mask{Kind: MaskNull}}},
			{Table: "users", Column: "email", Policy: ColumnPolicy{Action: ActionOmit}},
			{Schema: "public", Table: "users", Column: "email", Policy: ColumnPolicy{Action: ActionError}},
		},
	})

	p, spec := r.ColumnPolicyWithSpecificity("public", "users", "email")
	assert.Equal(t, ActionError, p.Action)
	assert.Equal(t, 3, spec)

	p, spec = r.ColumnPolicyWithSpecificity("analytics", "users", "email")
	assert.Equal(t, ActionOmit, p.Action)
	assert.Equal(t, 2, spec)

	p, spec = r.ColumnPolicyWithSpecificity("analytics", "accounts", "email")
	assert.Equal(t, ActionMask, p.Action)
	assert.Equal(t, 1, spec)

	p, spec = r.ColumnPolicyWithSpecificity("public", "users", "name")
	assert.Equal(t, ActionAllow, p.Action)
	assert.Equal(t, 0, spec)
}

func TestParseTableRule(t *testing.T) {
	bare, err := ParseTableRule("api_keys")
	require.NoError(t, err)
	assert.True(t, bare.Matches("anything", "api_keys"))

	qualified, err := ParseTableRule("public.users")
	require.NoError(t, err)
	assert.True(t, qualified.Matches("public", "users"))
	assert.False(t, qualified.Matches("other", "users"))

	mixed, err := ParseTableRule("public./^tmp_/")
	require.NoError(t, err)
	assert.True(t, mixed.Matches("public", "tmp_x"))
	assert.False(t, mixed.Matches("public", "users"))

	_, err = ParseTableRule("")
	assert.Error(t, err)
}

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr string
	}{
		{
			name: "valid spec",
			spec: Spec{
				Statement: "SELECT * FROM users WHERE id = {{id}}",
				Variables: []Variable{{Name: "id", Type: TypeInteger}},
			},
		},
		{
			name:    "empty statement",
			spec:    Spec{Statement: "   "},
			wantErr: "statement cannot be empty",
		},
		{
			name: "duplicate variable",
			spec: Spec{
				Statement: "SELECT 1",
				Variables: []Variable{{Name: "a", Type: TypeText}, {Name: "a", Type: TypeText}},
			},
			wantErr: `duplicate variable: "a"`,
		},
		{
			name: "invalid variable name",
			spec: Spec{
				Statement: "SELECT 1",
				Variables: []Variable{{Name: "1abc", Type: TypeText}},
			},
			wantErr: `invalid variable name: "1abc"`,
		},
		{
			name: "unknown type",
			spec: Spec{
				Statement: "SELECT 1",
				Variables: []Variable{{Name: "a", Type: "blob"}},
			},
			wantErr: `unknown type "blob" for variable "a"`,
		},
		{
			name: "valid search path",
			spec: Spec{Statement: "SELECT 1", SearchPath: "public, analytics"},
		},
		{
			name:    "search path injection",
			spec:    Spec{Statement: "SELECT 1", SearchPath: "public; DROP TABLE x"},
			wantErr: "invalid search_path element",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSearchPathSchemas(t *testing.T) {
	s := Spec{SearchPath: " public ,analytics, "}
	assert.Equal(t, []string{"public", "analytics"}, s.SearchPathSchemas())

	assert.Nil(t, Spec{}.SearchPathSchemas())
}

func TestVarTypeValid(t *testing.T) {
	for _, typ := range []VarType{TypeText, TypeNumber, TypeInteger, TypeDate,
		TypeDateTime, TypeTime, TypeBoolean, TypeJSON, TypeUUID, TypeArray} {
		assert.True(t, typ.Valid(), string(typ))
	}
	assert.False(t, VarType("blob").Valid())
}

func TestSavedQuerySpec(t *testing.T) {
	sq := SavedQuery{
		Name:       "active-users",
		Statement:  "SELECT * FROM users WHERE active = {{active}}",
		Variables:  []Variable{{Name: "active", Type: TypeBoolean}},
		DataRepo:   "main",
		SearchPath: "public",
	}
	spec := sq.Spec(map[string]any{"active": "true"})
	assert.Equal(t, sq.Statement, spec.Statement)
	assert.Equal(t, "main", spec.DataRepo)
	assert.Equal(t, "public", spec.SearchPath)
	assert.Equal(t, "true", spec.Values["active"])

	v, ok := spec.VariableNamed("active")
	require.True(t, ok)
	assert.Equal(t, TypeBoolean, v.Type)
	_, ok = spec.VariableNamed("missing")
	assert.False(t, ok)
}
